package main

// Package main is the entry point for the dealerlytics-ai server.
//
// Responsibilities:
//   - Load and validate configuration from YAML and environment variables
//   - Open the SQLite metric store and recover any interrupted scan runs
//   - Build the metric catalog and refresh it from observed series
//   - Wire the monitoring engine: anomaly detector, health scorer,
//     forecaster, root-cause analyzer, scan scheduler
//   - Wire the query pipeline: classifier, SQL agent, KPI agent, orchestrator
//   - Start the REST API and WebSocket server
//   - Watch the config file and hot-reload metric policies
//   - Implement graceful shutdown with context cancellation

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dealerlytics/dealerlytics-ai/internal/audit"
	"github.com/dealerlytics/dealerlytics-ai/internal/catalog"
	"github.com/dealerlytics/dealerlytics-ai/internal/config"
	"github.com/dealerlytics/dealerlytics-ai/internal/llm"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/alerting"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/anomaly"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/forecast"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/health"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/rootcause"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/scheduler"
	"github.com/dealerlytics/dealerlytics-ai/internal/query/agent"
	"github.com/dealerlytics/dealerlytics-ai/internal/query/classifier"
	"github.com/dealerlytics/dealerlytics-ai/internal/query/orchestrator"
	"github.com/dealerlytics/dealerlytics-ai/internal/server"
	"github.com/dealerlytics/dealerlytics-ai/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "dealerlytics-ai: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Configuration
	cfgMgr, err := config.NewConfigManager(configPath)
	if err != nil {
		return fmt.Errorf("create configuration manager: %w", err)
	}
	if err := cfgMgr.Load(ctx); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfgMgr.Validate(ctx); err != nil {
		return err
	}
	cfg := cfgMgr.Get(ctx)

	// Logging: application log + append-only audit trail, both rotated.
	auditLog, err := audit.NewLogger(&audit.Config{
		AuditLogPath: cfg.Logging.AuditLogPath,
		AppLogPath:   cfg.Logging.AppLogPath,
		MaxSize:      cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAge:       cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		LogLevel:     cfg.Logging.Level,
	})
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer auditLog.Close()
	logger := auditLog.App()

	_ = auditLog.Log(ctx, audit.NewEvent(audit.EventConfigLoaded).
		WithDescription(configPath))

	// Metric store
	st, err := store.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		return fmt.Errorf("open metric store: %w", err)
	}
	defer st.Close()

	// Catalog: metric policies joined with the scopes actually observed.
	cat := catalog.New(st, cfg.Monitor.Metrics)
	if err := cat.Refresh(ctx); err != nil {
		logger.Warn("initial catalog refresh failed", zap.Error(err))
	}

	// Monitoring engine
	detector := anomaly.NewDetector(st, cat, anomaly.Config{
		ZScoreThreshold:    cfg.Monitor.ZScoreThreshold,
		HighDeviationPct:   cfg.Monitor.HighDeviationPct,
		MediumDeviationPct: cfg.Monitor.MediumDeviationPct,
		LookbackPoints:     cfg.Monitor.LookbackPoints,
	}, logger)
	scorer := health.NewScorer(st, cat, logger)
	forecaster := forecast.NewForecaster(st, cat, forecast.Config{
		LookbackPoints: cfg.Monitor.LookbackPoints,
		MinPoints:      cfg.Monitor.MinForecastPoints,
	}, logger)
	analyzer := rootcause.NewAnalyzer(st, rootcause.Config{
		MaterialChangePct: cfg.Monitor.MaterialChangePct,
	}, logger)
	alerts := alerting.NewManager(st, auditLog, logger)

	sched := scheduler.New(st, scheduler.Pipelines{
		Detector:   detector,
		Scorer:     scorer,
		Forecaster: forecaster,
		Analyzer:   analyzer,
		Catalog:    cat,
	}, scheduler.Config{
		TickInterval: time.Duration(cfg.Monitor.TickSeconds) * time.Second,
	}, auditLog, logger)

	if cfg.Monitor.EnableScheduler {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scan scheduler: %w", err)
		}
		defer sched.Stop()
	} else {
		logger.Info("scan scheduler disabled; scans run on demand only")
	}

	// Query pipeline
	narrator, err := llm.New(llm.Options{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Model:    cfg.LLM.Model,
	}, logger)
	if err != nil {
		return fmt.Errorf("configure narration provider: %w", err)
	}

	cls := classifier.New(cat, classifier.Config{
		KeywordThreshold: cfg.Classifier.KeywordThreshold,
		FuzzyThreshold:   cfg.Classifier.FuzzyThreshold,
	}, logger)
	sqlAgent := agent.NewSQLAgent(st, cat, logger)
	kpiAgent := agent.NewKPIAgent(scorer, forecaster, analyzer, narrator, logger)
	orch := orchestrator.New(cls, sqlAgent, kpiAgent, cat, auditLog, logger)

	// HTTP/WebSocket server
	srv, err := server.NewServer(cfg, server.Deps{
		Orchestrator: orch,
		Alerts:       alerts,
		Scheduler:    sched,
		Store:        st,
		Catalog:      cat,
		Audit:        auditLog,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	// Periodic catalog refresh picks up scopes that appear in the feed.
	if cfg.Catalog.RefreshSeconds > 0 {
		go refreshCatalog(ctx, cat, time.Duration(cfg.Catalog.RefreshSeconds)*time.Second, logger)
	}

	// Config hot reload: only the monitoring policy takes effect live.
	go watchConfig(ctx, cfgMgr, cat, auditLog, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	if err := srv.Stop(); err != nil {
		logger.Error("server stop failed", zap.Error(err))
	}
	_ = auditLog.Sync()
	return nil
}

// refreshCatalog re-derives the scope inventory on a fixed interval.
func refreshCatalog(ctx context.Context, cat *catalog.Catalog, every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := cat.Refresh(ctx); err != nil {
				logger.Warn("catalog refresh failed", zap.Error(err))
			}
		}
	}
}

// watchConfig applies metric policy changes from the config file without a
// restart. Server, database, and LLM settings still require one.
func watchConfig(ctx context.Context, cfgMgr config.ConfigManager, cat *catalog.Catalog, auditLog audit.Logger, logger *zap.Logger) {
	updates := cfgMgr.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-updates:
			if !ok {
				return
			}
			if err := cat.UpdatePolicies(ctx, next.Monitor.Metrics); err != nil {
				logger.Warn("policy reload failed", zap.Error(err))
				continue
			}
			logger.Info("metric policies reloaded",
				zap.Int("metrics", len(next.Monitor.Metrics)))
			_ = auditLog.Log(ctx, audit.NewEvent(audit.EventConfigReload).
				WithDescription("metric policies updated"))
		}
	}
}
