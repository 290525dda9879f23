package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/justsurfingit/inbox-job-tracker/internal/auth"
	"github.com/justsurfingit/inbox-job-tracker/internal/config"
	"github.com/justsurfingit/inbox-job-tracker/internal/database"
	"github.com/justsurfingit/inbox-job-tracker/internal/handlers"
	"github.com/justsurfingit/inbox-job-tracker/internal/logging"
	"github.com/justsurfingit/inbox-job-tracker/internal/services"
	"github.com/robfig/cron/v3"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// 1. Environment
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel)
	defer func() { _ = log.Sync() }()
	if envErr != nil {
		log.Warn("no .env file loaded, using process environment", "err", envErr)
	}

	// 2. Database
	db, err := database.Connect(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Error("database connection failed", "driver", cfg.DBDriver, "err", err)
		os.Exit(1)
	}
	log.Info("database ready", "driver", cfg.DBDriver)

	// 3. Core services
	ctx := context.Background()
	var gen services.TextGenerator
	if cfg.GeminiAPIKey != "" {
		gen, err = services.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Error("model client failed", "err", err)
			os.Exit(1)
		}
		log.Info("model generation enabled", "model", cfg.GeminiModel)
	} else {
		log.Warn("GEMINI_API_KEY not set, using local generation")
	}
	llm := services.NewLLMService(gen, log.With("component", "llm"))

	var ai services.CandidateExtractor
	if llm.Enabled() {
		ai = llm
	}

	sessions := services.NewSessionStore()
	deps := handlers.Deps{
		Log:        log,
		Jobs:       services.NewJobService(db),
		Profiles:   services.NewProfileService(db),
		Sessions:   sessions,
		Scanner:    services.NewScanner(cfg.Scan, ai, log.With("component", "scanner")),
		Transports: services.NewTransportFactory(cfg.Scan, log.With("component", "mail")),
		LLM:        llm,
		Links:      services.NewLinkImporter(services.NewPageFetcher(0), llm, log.With("component", "links")),
		Scan:       cfg.Scan,
		Origins:    cfg.CORSOrigins,
	}

	// 4. Identity and mailbox consent
	if cfg.AuthDevMode {
		log.Warn("AUTH_DEV_MODE enabled: accepting dev:<user> bearer tokens")
		deps.Verifier = auth.DevVerifier{}
	} else {
		deps.Verifier = auth.NewGoogleVerifier(cfg.AuthAudience)
	}
	if cfg.OAuthEnabled() {
		deps.OAuth = auth.NewOAuthFlow(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.OAuthRedirectURL)
	}

	// 5. Idle session sweeper
	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@every 5m", func() {
		if n := sessions.Sweep(cfg.SessionIdle); n > 0 {
			log.Info("idle mail sessions dropped", "count", n)
		}
	}); err != nil {
		log.Error("session sweeper", "err", err)
		os.Exit(1)
	}
	sweeper.Start()

	// 6. HTTP server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	<-sweeper.Stop().Done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown completed with error", "err", err)
		return
	}
	log.Info("graceful shutdown completed")
}
