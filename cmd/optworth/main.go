// Command optworth values the option positions in a ledger journal: it
// reconstructs multi-leg strategies from the flat position pool, prices
// them, prints a report, and optionally serves the result over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/kdufour/optworth/internal/config"
	"github.com/kdufour/optworth/internal/dashboard"
	"github.com/kdufour/optworth/internal/engine"
	"github.com/kdufour/optworth/internal/ledger"
	"github.com/kdufour/optworth/internal/quotes"
	"github.com/kdufour/optworth/internal/report"
	"github.com/kdufour/optworth/internal/storage"
)

func main() {
	var (
		configPath string
		serve      bool
		cached     bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.BoolVar(&serve, "serve", false, "Serve the dashboard after running")
	flag.BoolVar(&cached, "cached", false, "Print the last saved report instead of running")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)

	store, err := storage.NewStore(cfg.Storage.Path)
	if err != nil {
		log.WithError(err).Fatal("opening snapshot store")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cached {
		snap, err := store.Latest()
		if err != nil {
			log.WithError(err).Fatal("no cached report")
		}
		fmt.Print(report.Stamp(snap.Report, snap.GeneratedAt))
	} else {
		snap, err := run(ctx, cfg, log, store)
		if err != nil {
			log.WithError(err).Fatal("valuation run failed")
		}
		fmt.Print(snap.Report)
	}

	if serve && cfg.Dashboard.Enabled {
		serveDashboard(ctx, cfg, log, store)
	}
}

// run executes one valuation pass: ledger → prices → engine → report →
// snapshot.
func run(ctx context.Context, cfg *config.Config, log *logrus.Logger, store *storage.Store) (storage.Snapshot, error) {
	runner := &ledger.ExecRunner{Binary: cfg.Ledger.Binary, File: cfg.Ledger.File}
	journal := ledger.NewClient(runner, cfg.LedgerClientConfig(), log)

	legs, dropped, err := journal.Legs(ctx)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("loading legs: %w", err)
	}
	log.WithFields(logrus.Fields{
		"legs":    len(legs),
		"dropped": len(dropped),
	}).Info("loaded option legs")

	legs, enrichErrs := journal.Enrich(ctx, legs)
	for _, err := range enrichErrs {
		log.WithError(err).Warn("cost basis unavailable")
	}

	provider := newProvider(cfg, log)
	legs, priceErrs := quotes.Prefetch(ctx, provider, legs)
	for _, err := range priceErrs {
		log.WithError(err).Warn("price unavailable")
	}

	results := engine.New(log).Run(time.Now().UTC(), legs)
	text := report.Render(&results)

	snap, err := store.SaveSnapshot(results, text)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("saving snapshot: %w", err)
	}
	log.WithField("snapshot", snap.ID).Info("run complete")
	return snap, nil
}

func newProvider(cfg *config.Config, log *logrus.Logger) quotes.Provider {
	tradier := quotes.NewTradierClient(cfg.Market.APIKey, cfg.Market.Sandbox, cfg.Market.APIEndpoint)
	retried := quotes.NewRetryProvider(tradier, log)
	return quotes.NewCircuitBreakerProvider(retried, log)
}

func serveDashboard(ctx context.Context, cfg *config.Config, log *logrus.Logger, store *storage.Store) {
	srv := dashboard.NewServer(dashboard.Config{
		Port:      cfg.Dashboard.Port,
		AuthToken: cfg.Dashboard.AuthToken,
	}, store, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("dashboard shutdown")
		}
	case err := <-errCh:
		log.WithError(err).Error("dashboard server stopped")
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.Environment.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Environment.LogFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.Environment.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		log.SetOutput(io.MultiWriter(os.Stderr, rotated))
	}
	return log
}
