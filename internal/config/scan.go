package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ScanConfig tunes the inbox scan. Field names mirror the YAML keys.
type ScanConfig struct {
	BatchSize             int               `yaml:"batch_size"`
	WatchdogSeconds       int               `yaml:"watchdog_seconds"`
	BatchPauseMillis      int               `yaml:"batch_pause_ms"`
	MessageLimit          int               `yaml:"message_limit"`
	DefaultDays           int               `yaml:"default_days"`
	MessageTimeoutSeconds int               `yaml:"message_timeout_seconds"`
	RequestsPerSecond     float64           `yaml:"requests_per_second"`
	SubjectTerms          []string          `yaml:"subject_terms"`
	IMAPHosts             map[string]string `yaml:"imap_hosts"`
}

// DefaultScanConfig returns the settings used when no YAML file is given.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		BatchSize:             5,
		WatchdogSeconds:       90,
		BatchPauseMillis:      100,
		MessageLimit:          30,
		DefaultDays:           3,
		MessageTimeoutSeconds: 10,
		RequestsPerSecond:     10,
		SubjectTerms:          []string{"job", "jobs", "vacancy", "career", "hiring", "opportunity"},
		IMAPHosts: map[string]string{
			"Yahoo": "imap.mail.yahoo.com:993",
			"Apple": "imap.mail.me.com:993",
		},
	}
}

// LoadScanConfig reads a YAML file over the defaults, so a file only needs
// the keys it changes.
func LoadScanConfig(path string) (ScanConfig, error) {
	cfg := DefaultScanConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read scan config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse scan config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("scan config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the scanner cannot run with.
func (c ScanConfig) Validate() error {
	switch {
	case c.BatchSize < 1:
		return fmt.Errorf("batch_size must be >= 1, got %d", c.BatchSize)
	case c.WatchdogSeconds < 1:
		return fmt.Errorf("watchdog_seconds must be >= 1, got %d", c.WatchdogSeconds)
	case c.BatchPauseMillis < 0:
		return fmt.Errorf("batch_pause_ms must be >= 0, got %d", c.BatchPauseMillis)
	case c.MessageLimit < 1 || c.MessageLimit > 500:
		return fmt.Errorf("message_limit must be within [1, 500], got %d", c.MessageLimit)
	case c.DefaultDays < 1:
		return fmt.Errorf("default_days must be >= 1, got %d", c.DefaultDays)
	case c.MessageTimeoutSeconds < 1:
		return fmt.Errorf("message_timeout_seconds must be >= 1, got %d", c.MessageTimeoutSeconds)
	case c.RequestsPerSecond <= 0:
		return fmt.Errorf("requests_per_second must be > 0, got %v", c.RequestsPerSecond)
	case len(c.SubjectTerms) == 0:
		return fmt.Errorf("subject_terms must not be empty")
	}
	return nil
}

// Watchdog is the hard ceiling on one scan.
func (c ScanConfig) Watchdog() time.Duration {
	return time.Duration(c.WatchdogSeconds) * time.Second
}

// BatchPause is the yield between two batches.
func (c ScanConfig) BatchPause() time.Duration {
	return time.Duration(c.BatchPauseMillis) * time.Millisecond
}

// MessageTimeout bounds a single message fetch.
func (c ScanConfig) MessageTimeout() time.Duration {
	return time.Duration(c.MessageTimeoutSeconds) * time.Second
}
