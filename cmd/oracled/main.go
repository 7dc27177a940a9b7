package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/slapchain/oracled/internal/bridge"
	"github.com/slapchain/oracled/internal/config"
	"github.com/slapchain/oracled/internal/corruption"
	"github.com/slapchain/oracled/internal/daemon"
	"github.com/slapchain/oracled/internal/dispatch"
	"github.com/slapchain/oracled/internal/ingest"
	"github.com/slapchain/oracled/internal/prophecy"
	"github.com/slapchain/oracled/internal/scoring"
	"github.com/slapchain/oracled/internal/sink"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fatal(err)
	}
	flag.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "listen address for oracled")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite journal path")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	flag.Parse()

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		fatal(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	journal, err := sink.Open(ctx, cfg.DBPath, cfg.SinkQueueSize, logger)
	if err != nil {
		fatal(err)
	}
	defer journal.Close() //nolint:errcheck

	store := corruption.NewStore()
	br := bridge.New(logger, cfg.LivenessPollInterval)
	dispatcher := dispatch.NewDispatcher(prophecy.New(), br, cfg.ResponseThreshold, cfg.GeneratorTimeout, logger)
	pipeline := ingest.NewPipeline(store, scoring.NewScorer(), dispatcher, journal, logger)

	br.StartSession()
	go br.RunLiveness(ctx)
	startRetentionLoop(ctx, journal, cfg, logger)
	defer func() {
		dispatcher.Observers().Close()
		br.Close()
	}()

	srv := daemon.NewServer(cfg, pipeline, br, store, logger)
	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if debug {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zcfg.Build()
}

func startRetentionLoop(ctx context.Context, journal *sink.SQLiteSink, cfg config.Config, logger *zap.Logger) {
	run := func() {
		now := time.Now().UTC()
		err := journal.PurgeRetention(ctx,
			now.Add(-cfg.EventRetentionTTL),
			now.Add(-cfg.ResponseRetentionTTL))
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("retention purge failed", zap.Error(err))
		}
	}

	run()
	go func() {
		ticker := time.NewTicker(cfg.RetentionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "oracled: %v\n", err)
	os.Exit(1)
}
