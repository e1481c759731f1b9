package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"liquidityTiers/internal/api"
	"liquidityTiers/internal/monitor"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, classifier, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}

	redisClient, store := openCache(ctx, cfg, logger)
	defer redisClient.Close()

	sinks, err := openSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sinks.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	schedCfg := schedulerConfig(cfg, sinks)
	schedCfg.Metrics = monitor.NewMetrics(reg)
	scheduler := monitor.NewScheduler(schedCfg, src, classifier, store, logger.Named("monitor"))

	server := api.NewServer(store, api.Options{
		Addr:     cfg.Listen,
		Logger:   logger.Named("api"),
		Gatherer: reg,
		Status:   scheduler.Status,
	})

	logger.Info("tierd start",
		zap.String("source", cfg.SourceURL),
		zap.Duration("interval", cfg.Interval),
		zap.String("redis", cfg.RedisAddr),
		zap.String("key_prefix", cfg.KeyPrefix),
		zap.String("listen", cfg.Listen),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		if cfg.WarmupTimeout > 0 && !scheduler.WaitWarm(gctx, cfg.WarmupTimeout) && gctx.Err() == nil {
			logger.Warn("first cycle still running, serving a cold cache", zap.Duration("warmup_timeout", cfg.WarmupTimeout))
		}
		if gctx.Err() != nil {
			return nil
		}
		return server.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("tierd stopped")
	return nil
}
