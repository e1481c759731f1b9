package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liquidityTiers/internal/monitor"
)

func runCycle(cmd *cobra.Command, _ []string) error {
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

	scheduler := monitor.NewScheduler(schedulerConfig(cfg, sinks), src, classifier, store, logger.Named("monitor"))
	res, err := scheduler.RunCycle(ctx)
	if err != nil {
		return err
	}

	logger.Info("single cycle done",
		zap.String("cycle_id", res.CycleID),
		zap.Int("pools", res.Aggregate.Total),
		zap.Int("degraded", res.Degraded),
		zap.Duration("took", res.Duration),
	)
	return nil
}
