// Harrier - Batch AML risk scoring with an alert lifecycle.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/opensource-finance/harrier/internal/alerts"
	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ingest"
	"github.com/opensource-finance/harrier/internal/ml"
	"github.com/opensource-finance/harrier/internal/reports"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("HARRIER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()
	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"batch", cfg.BatchPath,
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

	// Load the transaction batch. A missing batch is fatal: every
	// downstream component works off the scored set.
	batch, err := ingest.LoadBatch(cfg.BatchPath)
	if err != nil {
		slog.Error("failed to load transaction batch", "path", cfg.BatchPath, "error", err)
		os.Exit(1)
	}
	slog.Info("transaction batch loaded", "path", cfg.BatchPath, "rows", len(batch))

	// Calibrate the high-amount threshold on the batch
	calibrator := rules.NewCalibrator(cfg.Detection.HighAmountPercentile)
	threshold := calibrator.Calibrate(batch)
	slog.Info("high-amount threshold calibrated",
		"percentile", cfg.Detection.HighAmountPercentile,
		"threshold", threshold,
	)

	// Initialize screening engine and load persisted rules
	screening, err := rules.NewScreeningEngine()
	if err != nil {
		slog.Error("failed to initialize screening engine", "error", err)
		os.Exit(1)
	}
	if err := loadScreeningRules(ctx, repo, screening); err != nil {
		slog.Error("failed to load screening rules", "error", err)
		os.Exit(1)
	}
	slog.Info("screening engine initialized", "rules_count", screening.RulesCount())

	// Score the batch
	evaluator := rules.NewEvaluator(threshold)
	scored := rules.ScoreBatch(batch, evaluator, screening)

	// Initialize alert store and restore persisted resolutions
	store := alerts.NewStore(scored, cfg.Reports.AlertRetention, repo, busImpl, logger)
	if err := store.RestoreResolutions(ctx); err != nil {
		slog.Warn("failed to restore resolutions", "error", err)
	}
	slog.Info("batch scored", "rows", len(scored), "flagged", store.FlaggedCount())

	publishFlagged(ctx, busImpl, store.FlaggedTransactions())

	// Initialize classifier and restore the latest trained model
	classifier := ml.NewClassifier(cfg.Classifier, repo)
	restored, err := classifier.RestoreLatest(ctx)
	if err != nil {
		slog.Warn("failed to restore classifier model", "error", err)
	} else if restored {
		slog.Info("classifier model restored")
	}

	// Initialize report generator and retention scheduler
	generator := reports.NewGenerator(cfg.Reports.Dir, store, busImpl, logger)
	scheduler := reports.NewScheduler(cfg.Reports.SchedulerInterval, cfg.Reports.ReportRetention, generator, store, logger)
	scheduler.Start()
	defer scheduler.Stop()
	slog.Info("report scheduler started", "interval", cfg.Reports.SchedulerInterval)

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, store, generator, classifier, screening, scored, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

// applyEnvOverrides layers environment settings over the defaults.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("HARRIER_CSV_PATH"); v != "" {
		cfg.BatchPath = v
	}
	if v := os.Getenv("HARRIER_HIGH_AMOUNT_PERCENTILE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detection.HighAmountPercentile = f
		}
	}
	if v := os.Getenv("HARRIER_ALERT_RETENTION_DAYS"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			cfg.Reports.AlertRetention = time.Duration(d) * 24 * time.Hour
		}
	}
	if v := os.Getenv("HARRIER_REPORT_RETENTION_DAYS"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			cfg.Reports.ReportRetention = time.Duration(d) * 24 * time.Hour
		}
	}
	if v := os.Getenv("HARRIER_SCHEDULER_INTERVAL_SECS"); v != "" {
		if s, err := strconv.Atoi(v); err == nil && s > 0 {
			cfg.Reports.SchedulerInterval = time.Duration(s) * time.Second
		}
	}
	if v := os.Getenv("HARRIER_REPORTS_DIR"); v != "" {
		cfg.Reports.Dir = v
	}
	if v := os.Getenv("HARRIER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("HARRIER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("HARRIER_DB_DRIVER"); v != "" {
		cfg.Repository.Driver = v
	}
	if v := os.Getenv("HARRIER_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("HARRIER_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("HARRIER_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("HARRIER_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("HARRIER_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("HARRIER_CACHE_TYPE"); v != "" {
		cfg.Cache.Type = v
	}
	if v := os.Getenv("HARRIER_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("HARRIER_BUS_TYPE"); v != "" {
		cfg.EventBus.Type = v
	}
	if v := os.Getenv("HARRIER_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
}

// loadScreeningRules loads enabled persisted rules into the engine.
// Rules are configured via POST /api/screening/rules - no hardcoded
// defaults.
func loadScreeningRules(ctx context.Context, repo domain.Repository, engine *rules.ScreeningEngine) error {
	persisted, err := repo.ListScreeningRules(ctx)
	if err != nil {
		slog.Warn("failed to list screening rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	enabled := make([]domain.ScreeningRule, 0, len(persisted))
	for _, rule := range persisted {
		if rule.Enabled {
			enabled = append(enabled, *rule)
		}
	}

	if len(enabled) > 0 {
		slog.Info("loading screening rules from database", "count", len(enabled))
		return engine.LoadRules(enabled)
	}

	slog.Info("no screening rules in database - configure via POST /api/screening/rules")
	return nil
}

// publishFlagged emits one event per flagged transaction so
// downstream consumers can pick up the scored batch.
func publishFlagged(ctx context.Context, eventBus domain.EventBus, flagged []domain.ScoredTransaction) {
	for i := range flagged {
		st := &flagged[i]
		payload, err := json.Marshal(map[string]interface{}{
			"transaction_id": st.Transaction.ID,
			"customer_id":    st.Transaction.CustomerID,
			"risk_category":  st.Detection.RiskCategory,
			"count":          st.Detection.SuspiciousDetectionCount,
		})
		if err != nil {
			continue
		}
		if err := eventBus.Publish(ctx, domain.TopicAlertFlagged, payload); err != nil {
			slog.Warn("failed to publish flagged event", "transaction_id", st.Transaction.ID, "error", err)
		}
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 HARRIER                  ║")
	fmt.Println("  ║      AML Batch Risk Scoring Engine        ║")
	fmt.Println("  ║      Every alert accounted for.           ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Batch:    %s\n", cfg.BatchPath)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /api/flags                  - List flagged transactions")
	fmt.Println("    POST /api/alerts/resolve         - Resolve an alert")
	fmt.Println("    GET  /api/alerts/resolved        - List resolved alerts")
	fmt.Println("    GET  /api/risk/summary           - Aggregate risk summary")
	fmt.Println("    GET  /api/audit/logs             - Audit log of flagged activity")
	fmt.Println("    GET  /api/remediation/tasks      - Recommended remediation actions")
	fmt.Println("    GET  /api/export/fraud.csv       - Export flagged transactions")
	fmt.Println("    GET  /api/reports/monthly        - List monthly reports")
	fmt.Println("    POST /api/reports/generate       - Generate a monthly report")
	fmt.Println("    GET  /api/reports/download       - Download a report artifact")
	fmt.Println("    POST /api/model/train            - Train the advisory classifier")
	fmt.Println("    POST /api/model/predict          - Advisory predictions")
	fmt.Println("    GET  /api/screening/rules        - List screening rules")
	fmt.Println("    POST /api/screening/rules        - Create a screening rule")
	fmt.Println("    POST /api/screening/rules/reload - Hot-reload screening rules")
	fmt.Println("    GET  /api/health                 - Health check")
	fmt.Println()
}
