package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"liquidityTiers/internal/cache"
	"liquidityTiers/internal/source"
	"liquidityTiers/internal/tier"
)

// EnvPrefix namespaces environment variables, e.g. TIERS_REDIS_ADDR.
const EnvPrefix = "TIERS"

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	SourceURL      string
	PageLimit      int
	MaxPages       int
	SourceRPS      float64
	RequestTimeout time.Duration

	Interval     time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string

	Listen        string
	WarmupTimeout time.Duration
	PGDSN         string
	StateFile     string
	ArchiveFile   string
	Out           string

	Tier1Threshold    float64
	Tier2Threshold    float64
	NativeMultiplier  float64
	DefaultMultiplier float64
	Stablecoins       []string

	LogLevel string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("source-url", "https://horizon.stellar.org/liquidity_pools")
	v.SetDefault("page-limit", source.MaxPageLimit)
	v.SetDefault("max-pages", 1)
	v.SetDefault("source-rps", 5.0)
	v.SetDefault("request-timeout", 15*time.Second)
	v.SetDefault("interval", 5*time.Minute)
	v.SetDefault("max-retries", 2)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("redis-addr", "localhost:6379")
	v.SetDefault("redis-db", 0)
	v.SetDefault("key-prefix", cache.DefaultPrefix)
	v.SetDefault("listen", ":3001")
	v.SetDefault("warmup-timeout", 30*time.Second)
	v.SetDefault("tier1-threshold", float64(tier.DefaultTier1Threshold))
	v.SetDefault("tier2-threshold", float64(tier.DefaultTier2Threshold))
	v.SetDefault("native-multiplier", tier.DefaultNativeMultiplier)
	v.SetDefault("default-multiplier", tier.DefaultOtherMultiplier)
	v.SetDefault("stablecoins", strings.Join(tier.DefaultStablecoins, ","))
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		SourceURL:         v.GetString("source-url"),
		PageLimit:         v.GetInt("page-limit"),
		MaxPages:          v.GetInt("max-pages"),
		SourceRPS:         v.GetFloat64("source-rps"),
		RequestTimeout:    v.GetDuration("request-timeout"),
		Interval:          v.GetDuration("interval"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		RedisAddr:         v.GetString("redis-addr"),
		RedisPassword:     v.GetString("redis-password"),
		RedisDB:           v.GetInt("redis-db"),
		KeyPrefix:         v.GetString("key-prefix"),
		Listen:            v.GetString("listen"),
		WarmupTimeout:     v.GetDuration("warmup-timeout"),
		PGDSN:             v.GetString("pg-dsn"),
		StateFile:         v.GetString("state-file"),
		ArchiveFile:       v.GetString("archive-file"),
		Out:               v.GetString("out"),
		Tier1Threshold:    v.GetFloat64("tier1-threshold"),
		Tier2Threshold:    v.GetFloat64("tier2-threshold"),
		NativeMultiplier:  v.GetFloat64("native-multiplier"),
		DefaultMultiplier: v.GetFloat64("default-multiplier"),
		Stablecoins:       getStringSlice(v, "stablecoins"),
		LogLevel:          v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail late, inside a cycle.
func (c Config) Validate() error {
	if c.SourceURL == "" {
		return fmt.Errorf("source url is required")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.WarmupTimeout < 0 {
		return fmt.Errorf("warmup timeout must not be negative, got %s", c.WarmupTimeout)
	}
	if c.PageLimit <= 0 || c.PageLimit > source.MaxPageLimit {
		return fmt.Errorf("page limit must be in 1..%d, got %d", source.MaxPageLimit, c.PageLimit)
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive, got %d", c.MaxPages)
	}
	if c.NativeMultiplier < 0 || c.DefaultMultiplier < 0 {
		return fmt.Errorf("price multipliers must not be negative")
	}
	return c.Thresholds().Validate()
}

// Source returns the pool source settings.
func (c Config) Source() source.Config {
	return source.Config{
		Endpoint:       c.SourceURL,
		PageLimit:      c.PageLimit,
		MaxPages:       c.MaxPages,
		RequestTimeout: c.RequestTimeout,
		RPS:            c.SourceRPS,
	}
}

// Thresholds returns the configured tier boundaries.
func (c Config) Thresholds() tier.Thresholds {
	return tier.Thresholds{Tier1: c.Tier1Threshold, Tier2: c.Tier2Threshold}
}

// PriceTable returns the default table with configured multipliers applied.
func (c Config) PriceTable() tier.PriceTable {
	prices := tier.DefaultPriceTable()
	prices.NativeMultiplier = c.NativeMultiplier
	prices.DefaultMultiplier = c.DefaultMultiplier
	if len(c.Stablecoins) > 0 {
		prices.Stablecoins = c.Stablecoins
	}
	return prices
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
