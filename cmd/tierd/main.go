package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "tierd",
		Short:        "Liquidity pool TVL tier monitor",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor loop and the query API",
		RunE:  runServe,
	}
	addSourceFlags(serveCmd.Flags())
	addTierFlags(serveCmd.Flags())
	addRedisFlags(serveCmd.Flags())
	addSinkFlags(serveCmd.Flags())
	serveCmd.Flags().Duration("interval", 5*time.Minute, "time between cycles")
	serveCmd.Flags().String("listen", ":3001", "HTTP listen address")
	serveCmd.Flags().Duration("warmup-timeout", 30*time.Second, "how long the API waits for the first cycle before listening (0 disables)")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	cycleCmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run a single fetch, classify and write cycle",
		RunE:  runCycle,
	}
	addSourceFlags(cycleCmd.Flags())
	addTierFlags(cycleCmd.Flags())
	addRedisFlags(cycleCmd.Flags())
	addSinkFlags(cycleCmd.Flags())
	cycleCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(cycleCmd)

	classifyCmd := &cobra.Command{
		Use:   "classify",
		Short: "Fetch and classify pools into a JSONL file without touching Redis",
		RunE:  runClassify,
	}
	addSourceFlags(classifyCmd.Flags())
	addTierFlags(classifyCmd.Flags())
	classifyCmd.Flags().String("out", "./data/classifications.jsonl", "output JSONL path")
	classifyCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(classifyCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addSourceFlags(fs *pflag.FlagSet) {
	fs.String("source-url", "https://horizon.stellar.org/liquidity_pools", "liquidity pool listing endpoint")
	fs.Int("page-limit", 200, "records per page (max 200)")
	fs.Int("max-pages", 1, "pages to follow per cycle")
	fs.Float64("source-rps", 5, "outbound request rate limit")
	fs.Duration("request-timeout", 15*time.Second, "per-request timeout")
	fs.Int("max-retries", 2, "fetch retry attempts per cycle")
	fs.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
}

func addTierFlags(fs *pflag.FlagSet) {
	fs.Float64("tier1-threshold", 1_000_000, "minimum TVL for TIER_1")
	fs.Float64("tier2-threshold", 250_000, "minimum TVL for TIER_2")
	fs.Float64("native-multiplier", 0.12, "USD multiplier for the native asset")
	fs.Float64("default-multiplier", 0.1, "USD multiplier for non-stable, non-native assets")
	fs.StringSlice("stablecoins", []string{"USDC", "USDT"}, "stablecoin codes valued at 1 (comma-separated)")
}

func addRedisFlags(fs *pflag.FlagSet) {
	fs.String("redis-addr", "localhost:6379", "Redis address")
	fs.String("redis-password", "", "Redis password")
	fs.Int("redis-db", 0, "Redis database")
	fs.String("key-prefix", "tiers:", "Redis key prefix")
}

func addSinkFlags(fs *pflag.FlagSet) {
	fs.String("pg-dsn", "", "optional Postgres DSN for cycle history and state")
	fs.String("state-file", "", "optional local state file, used instead of Postgres state")
	fs.String("archive-file", "", "optional JSONL file each cycle is appended to")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
