// Package config loads runtime configuration from the environment and the
// optional YAML scan profile. Fail-fast: a missing required variable is an
// error at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the API process.
type Config struct {
	Port        string
	DBDriver    string // "postgres" or "sqlite"
	DatabaseURL string
	LogLevel    string

	GeminiAPIKey string
	GeminiModel  string

	GoogleClientID     string
	GoogleClientSecret string
	OAuthRedirectURL   string

	AuthAudience string
	AuthDevMode  bool

	CORSOrigins []string
	SessionIdle time.Duration

	Scan ScanConfig
}

// OAuthEnabled reports whether the Gmail consent flow can be offered.
func (c *Config) OAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.OAuthRedirectURL != ""
}

// Load reads environment variables (and SCAN_CONFIG, when set) and returns a
// validated Config.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	driver := strings.ToLower(getenv("DB_DRIVER", "postgres"))
	if driver != "postgres" && driver != "sqlite" {
		return nil, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", driver)
	}

	idle := 60
	if s := os.Getenv("SESSION_IDLE_MINUTES"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("SESSION_IDLE_MINUTES must be a positive integer, got %q", s)
		}
		idle = v
	}

	devMode := false
	if s := os.Getenv("AUTH_DEV_MODE"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("AUTH_DEV_MODE must be a boolean, got %q", s)
		}
		devMode = v
	}

	audience := os.Getenv("AUTH_AUDIENCE")
	if audience == "" && !devMode {
		return nil, fmt.Errorf("AUTH_AUDIENCE is required unless AUTH_DEV_MODE is set")
	}

	scan := DefaultScanConfig()
	if path := os.Getenv("SCAN_CONFIG"); path != "" {
		loaded, err := LoadScanConfig(path)
		if err != nil {
			return nil, err
		}
		scan = loaded
	}

	var origins []string
	for _, o := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return &Config{
		Port:               getenv("PORT", "8080"),
		DBDriver:           driver,
		DatabaseURL:        dbURL,
		LogLevel:           getenv("LOG_LEVEL", "info"),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:        getenv("GEMINI_MODEL", "gemini-2.5-flash"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		OAuthRedirectURL:   os.Getenv("OAUTH_REDIRECT_URL"),
		AuthAudience:       audience,
		AuthDevMode:        devMode,
		CORSOrigins:        origins,
		SessionIdle:        time.Duration(idle) * time.Minute,
		Scan:               scan,
	}, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
