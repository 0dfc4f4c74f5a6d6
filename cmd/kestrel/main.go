// Kestrel - Risk routing and alert classification for transaction fraud.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/flagger"
	"github.com/opensource-finance/kestrel/internal/notify"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/routing"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/stats"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg := loadConfig()

	// Initialize structured logger
	logLevel := slog.LevelInfo
	if cfg.Logging.Level == "debug" || os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Engine
	engine, err := rules.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Load flag rules from database (no hardcoded defaults - configure via API)
	if err := loadRulesFromDatabase(ctx, repo, engine); err != nil {
		slog.Error("failed to load flag rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Initialize scorers. Both are optional: the pipeline degrades to
	// preliminary rule scores without them.
	var localScorer scoring.LocalScorer
	if cfg.Scoring.ModelPath != "" {
		logistic, err := scoring.NewLogisticScorer(cfg.Scoring.ModelPath)
		if err != nil {
			slog.Warn("local model unavailable, using rule scores only",
				"path", cfg.Scoring.ModelPath,
				"error", err)
		} else {
			localScorer = logistic
			slog.Info("local scorer initialized", "model", logistic.Name())
		}
	}

	var remoteScorer scoring.RemoteScorer
	if cfg.Scoring.RemoteURL != "" {
		remoteScorer = scoring.NewHTTPRemoteScorer(
			cfg.Scoring.RemoteURL,
			cfg.Scoring.RemoteAPIKey,
			time.Duration(cfg.Scoring.RemoteTimeout)*time.Second,
			logger,
		)
		slog.Info("remote scorer initialized", "url", cfg.Scoring.RemoteURL)
	}

	// Initialize notification channels
	notifiers := []notify.Notifier{
		notify.NewConsoleChannel(logger),
		notify.NewBusChannel(busImpl),
	}
	if cfg.Notify.EmailEnabled {
		sender := notify.NewSMTPSender(cfg.Notify.SMTPHost, cfg.Notify.SMTPPort, cfg.Notify.Sender, cfg.Notify.Password)
		notifiers = append(notifiers, notify.NewEmailChannel(sender, cfg.Notify.Recipients))
	}
	if cfg.Notify.WebhookEnabled {
		notifiers = append(notifiers, notify.NewWebhookChannel(cfg.Notify.WebhookURL))
	}
	dispatcher := alert.NewDispatcher(notifiers, cacheImpl, cfg.Notify, logger)
	slog.Info("alert dispatcher initialized", "channels", len(notifiers))

	// Assemble the pipeline
	collector := stats.NewCollector()
	p := pipeline.New(
		flagger.New(localScorer, engine, logger),
		routing.NewAnalyzer(localScorer, remoteScorer, cfg.Routing, logger),
		dispatcher,
		repo,
		busImpl,
		collector,
		cfg,
		logger,
	)

	reports := report.NewGenerator(repo, busImpl, logger)

	// Initialize async Worker (pro tier, or opt in by env)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, p, logger)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, p, repo, cacheImpl, busImpl, engine, reports, collector, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first so in-flight messages drain
	if asyncWorker != nil {
		asyncWorker.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadConfig builds the configuration from the tier preset plus
// environment overrides.
func loadConfig() *domain.Config {
	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
	}

	if v := os.Getenv("KESTREL_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KESTREL_AUTH_TOKEN"); v != "" {
		cfg.Server.AuthToken = v
	}

	if v := os.Getenv("KESTREL_MODEL_PATH"); v != "" {
		cfg.Scoring.ModelPath = v
	}
	if v := os.Getenv("KESTREL_REMOTE_URL"); v != "" {
		cfg.Scoring.RemoteURL = v
	}
	if v := os.Getenv("KESTREL_REMOTE_API_KEY"); v != "" {
		cfg.Scoring.RemoteAPIKey = v
	}

	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}

	if v := os.Getenv("KESTREL_SMTP_HOST"); v != "" {
		cfg.Notify.EmailEnabled = true
		cfg.Notify.SMTPHost = v
	}
	if v := os.Getenv("KESTREL_SMTP_SENDER"); v != "" {
		cfg.Notify.Sender = v
	}
	if v := os.Getenv("KESTREL_SMTP_PASSWORD"); v != "" {
		cfg.Notify.Password = v
	}
	if v := os.Getenv("KESTREL_ALERT_RECIPIENTS"); v != "" {
		cfg.Notify.Recipients = strings.Split(v, ",")
	}
	if v := os.Getenv("KESTREL_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookEnabled = true
		cfg.Notify.WebhookURL = v
	}

	return cfg
}

// loadRulesFromDatabase loads flag rules from the database into the
// engine. All rules are configured via POST /rules - no hardcoded
// defaults beyond the built-in heuristics.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	dbRules, err := repo.ListFlagRules(ctx)
	if err != nil {
		slog.Warn("failed to list flag rules from database", "error", err)
		return nil // Start with the built-in heuristics only
	}

	if len(dbRules) > 0 {
		slog.Info("loading flag rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	slog.Info("no flag rules in database - configure via POST /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║    Fraud Risk Routing & Alerting          ║")
	fmt.Println("  ║    Small bird. Sharp eyes.                ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /analyze           - Analyze a transaction")
	fmt.Println("    POST /analyze/bulk      - Analyze up to 100 transactions")
	fmt.Println("    GET  /analyses/{id}     - Get analysis by ID")
	fmt.Println("    GET  /transactions/{id} - Get transaction by ID")
	fmt.Println("    GET  /alerts            - List recent alerts")
	fmt.Println("    GET  /stats             - Pipeline statistics")
	fmt.Println("    GET  /rules             - List flag rules")
	fmt.Println("    POST /rules             - Create a flag rule")
	fmt.Println("    POST /rules/reload      - Hot-reload rules from database")
	fmt.Println("    POST /reports           - Generate a summary report")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
