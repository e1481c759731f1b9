package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liquidityTiers/internal/model"
	"liquidityTiers/internal/storage"
)

func runClassify(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, classifier, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}

	snapshots, err := src.FetchPools(ctx)
	if err != nil {
		return fmt.Errorf("fetch pools: %w", err)
	}

	at := time.Now().UTC()
	classifications, degraded := classifier.ClassifyAll(snapshots, at)
	agg := model.NewTierAggregate(classifications, at)

	runID := uuid.NewString()
	archive := storage.NewJSONLArchive(cfg.Out)
	if err := archive.PutCycle(ctx, runID, at, classifications); err != nil {
		return err
	}

	logger.Info("classify complete",
		zap.String("run_id", runID),
		zap.String("out", archive.Path()),
		zap.Int("pools", agg.Total),
		zap.Int("tier1", agg.Tier1),
		zap.Int("tier2", agg.Tier2),
		zap.Int("tier3", agg.Tier3),
		zap.Int("degraded", degraded),
		zap.String("price_version", classifier.PriceVersion()),
	)
	return nil
}
