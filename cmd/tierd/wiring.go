package main

import (
	"context"
	"fmt"
	"net/http"

	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liquidityTiers/internal/cache"
	"liquidityTiers/internal/config"
	"liquidityTiers/internal/monitor"
	"liquidityTiers/internal/source"
	"liquidityTiers/internal/storage"
	"liquidityTiers/internal/storage/postgres"
	"liquidityTiers/internal/tier"
)

const stateName = "tier-monitor"

func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func newPipeline(cfg config.Config, logger *zap.Logger) (*source.HorizonSource, *tier.Classifier, error) {
	src, err := source.NewHorizonSource(cfg.Source(), &http.Client{}, logger.Named("source"))
	if err != nil {
		return nil, nil, err
	}
	return src, tier.NewClassifier(cfg.PriceTable(), cfg.Thresholds()), nil
}

func openCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (*redis.Client, *cache.Store) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store := cache.NewStore(client, cache.Options{Prefix: cfg.KeyPrefix, Logger: logger.Named("cache")})
	// An unreachable store at startup is not fatal; cycles and requests retry.
	if err := store.Ping(ctx); err != nil {
		logger.Warn("redis not reachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	return client, store
}

// sinks holds the optional history and state backends.
type sinks struct {
	pg      *postgres.Store
	archive storage.Archive
	state   monitor.StateStore
}

func (s sinks) Close() {
	if s.pg != nil {
		s.pg.Close()
	}
}

func openSinks(ctx context.Context, cfg config.Config, logger *zap.Logger) (sinks, error) {
	var out sinks
	var archives storage.MultiArchive

	if cfg.PGDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN, 0)
		if err != nil {
			return sinks{}, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return sinks{}, err
		}
		out.pg = pg
		archives = append(archives, pg)
		logger.Info("postgres history enabled", zap.String("pg_dsn", redactDSN(cfg.PGDSN)))
	}
	if cfg.ArchiveFile != "" {
		archives = append(archives, storage.NewJSONLArchive(cfg.ArchiveFile))
		logger.Info("jsonl archive enabled", zap.String("path", cfg.ArchiveFile))
	}
	switch len(archives) {
	case 0:
	case 1:
		out.archive = archives[0]
	default:
		out.archive = archives
	}

	if cfg.StateFile != "" {
		out.state = &monitor.FileStateStore{Path: cfg.StateFile}
	} else if out.pg != nil {
		out.state = &monitor.DBStateStore{Store: out.pg, Name: stateName}
	}
	return out, nil
}

func schedulerConfig(cfg config.Config, s sinks) monitor.Config {
	return monitor.Config{
		Interval:     cfg.Interval,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		Archive:      s.archive,
		State:        s.state,
	}
}
