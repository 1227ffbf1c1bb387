package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Store     StoreConfig     `mapstructure:"store"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Verifier  VerifierConfig  `mapstructure:"verifier"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ProvidersConfig lists upstream market-data providers. Order is the
// fallback order; the first entry is primary.
type ProvidersConfig struct {
	Order         []string       `mapstructure:"order"`
	OutlierRatio  float64        `mapstructure:"outlier_ratio"` // cross-check quotes that move this many times from the stored price, 0 disables
	DexScreener   ProviderConfig `mapstructure:"dexscreener"`
	GeckoTerminal ProviderConfig `mapstructure:"geckoterminal"`
}

type ProviderConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RPS       float64       `mapstructure:"rps"`   // shared requests-per-second ceiling
	Burst     int           `mapstructure:"burst"` // token bucket burst
	UserAgent string        `mapstructure:"user_agent"`
}

// PolicyConfig configures retries and circuit breaking for provider calls.
type PolicyConfig struct {
	MaxRetries      uint64        `mapstructure:"max_retries"`
	InitialBackoff  time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"` // consecutive failures before tripping
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`  // open -> half-open
}

type StoreConfig struct {
	Backend   string          `mapstructure:"backend"` // "postgrest", "postgres" or "memory"
	PostgREST PostgRESTConfig `mapstructure:"postgrest"`
}

type CacheConfig struct {
	Backend string        `mapstructure:"backend"` // "memory" or "redis"
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type SchedulerConfig struct {
	Workers             int           `mapstructure:"workers"`
	RunDeadline         time.Duration `mapstructure:"run_deadline"`
	TokenTimeout        time.Duration `mapstructure:"token_timeout"`
	LeaseTimeout        time.Duration `mapstructure:"lease_timeout"`
	DeadRecheckAfter    time.Duration `mapstructure:"dead_recheck_after"`
	CycleInterval       time.Duration `mapstructure:"cycle_interval"`
	MinPoolLiquidityUSD float64       `mapstructure:"min_pool_liquidity_usd"`
	MinuteWindow        time.Duration `mapstructure:"minute_window"` // calls younger than this use minute candles
	HourWindow          time.Duration `mapstructure:"hour_window"`   // calls younger than this use hour candles
	Tiers               []TierConfig  `mapstructure:"tiers"`
}

// TierConfig is a liquidity band processed at its own cadence.
type TierConfig struct {
	Name            string  `mapstructure:"name"`
	MinLiquidityUSD float64 `mapstructure:"min_liquidity_usd"`
	MaxLiquidityUSD float64 `mapstructure:"max_liquidity_usd"` // 0 means unbounded
	BatchSize       int     `mapstructure:"batch_size"`
	Every           int     `mapstructure:"every"` // run every N daemon cycles
}

type VerifierConfig struct {
	TolerancePct float64 `mapstructure:"tolerance_pct"`
	MajorRatio   float64 `mapstructure:"major_ratio"`
	AutoCorrect  bool    `mapstructure:"auto_correct"`
	BatchSize    int     `mapstructure:"batch_size"`
}

type NotifyConfig struct {
	URL          string        `mapstructure:"url"` // websocket endpoint, empty disables
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// Options defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// DefaultTiers returns the high/low liquidity split used when none is configured.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{Name: "high", MinLiquidityUSD: 20_000, BatchSize: 100, Every: 1},
		{Name: "low", MinLiquidityUSD: 1_000, MaxLiquidityUSD: 20_000, BatchSize: 200, Every: 4},
	}
}

// Tier returns the tier configuration by name.
func (c *SchedulerConfig) Tier(name string) (TierConfig, bool) {
	for _, t := range c.Tiers {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return TierConfig{}, false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.environment", "dev")

	v.SetDefault("providers.order", []string{"dexscreener", "geckoterminal"})
	v.SetDefault("providers.outlier_ratio", 5.0)
	v.SetDefault("providers.dexscreener.enabled", true)
	v.SetDefault("providers.dexscreener.base_url", "https://api.dexscreener.com")
	v.SetDefault("providers.dexscreener.timeout", 10*time.Second)
	v.SetDefault("providers.dexscreener.rps", 4.0)
	v.SetDefault("providers.dexscreener.burst", 4)
	v.SetDefault("providers.geckoterminal.enabled", true)
	v.SetDefault("providers.geckoterminal.base_url", "https://api.geckoterminal.com/api/v2")
	v.SetDefault("providers.geckoterminal.timeout", 15*time.Second)
	v.SetDefault("providers.geckoterminal.rps", 0.5)
	v.SetDefault("providers.geckoterminal.burst", 1)
	v.SetDefault("providers.geckoterminal.user_agent", "athsync/1.0")

	v.SetDefault("policy.max_retries", 3)
	v.SetDefault("policy.initial_backoff", 500*time.Millisecond)
	v.SetDefault("policy.max_backoff", 8*time.Second)
	v.SetDefault("policy.breaker_failures", 5)
	v.SetDefault("policy.breaker_timeout", 60*time.Second)

	v.SetDefault("store.backend", "postgrest")
	v.SetDefault("store.postgrest.base_url", "")
	v.SetDefault("store.postgrest.api_key", "")
	v.SetDefault("store.postgrest.table", "calls")
	v.SetDefault("store.postgrest.timeout", 15*time.Second)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "athsync")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("cache.redis.prefix", "athsync:candles:")

	v.SetDefault("scheduler.workers", 8)
	v.SetDefault("scheduler.run_deadline", 8*time.Minute)
	v.SetDefault("scheduler.token_timeout", 90*time.Second)
	v.SetDefault("scheduler.lease_timeout", 5*time.Minute)
	v.SetDefault("scheduler.dead_recheck_after", 24*time.Hour)
	v.SetDefault("scheduler.cycle_interval", 5*time.Minute)
	v.SetDefault("scheduler.min_pool_liquidity_usd", 100.0)
	v.SetDefault("scheduler.minute_window", 48*time.Hour)
	v.SetDefault("scheduler.hour_window", 30*24*time.Hour)

	v.SetDefault("verifier.tolerance_pct", 0.01)
	v.SetDefault("verifier.major_ratio", 10.0)
	v.SetDefault("verifier.auto_correct", true)
	v.SetDefault("verifier.batch_size", 50)

	v.SetDefault("notify.url", "")
	v.SetDefault("notify.write_timeout", 5*time.Second)
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "athsync")
}

// Load loads application configuration using Viper.
// It reads from config.yaml (or the explicit path) and overrides with environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // config.yaml
		v.SetConfigType("yaml")

		ex, _ := os.Executable()
		if strings.Contains(ex, "go-build") {
			pwd, _ := os.Getwd()
			v.AddConfigPath(filepath.Join(pwd, "../../config"))
		} else {
			v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
		}
		v.AddConfigPath("./config")
	}

	// Support environment variables with dot notation (e.g., STORE_POSTGREST_BASE_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// defaults plus environment only
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Scheduler.Tiers) == 0 {
		cfg.Scheduler.Tiers = DefaultTiers()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that defaults cannot guarantee.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "postgrest":
		if c.Store.PostgREST.BaseURL == "" {
			return errors.New("config: store.postgrest.base_url is required for the postgrest backend")
		}
	case "postgres", "memory":
	default:
		return fmt.Errorf("config: unknown store.backend %q", c.Store.Backend)
	}

	switch c.Cache.Backend {
	case "memory", "":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return errors.New("config: cache.redis.addr is required for the redis cache")
		}
	default:
		return fmt.Errorf("config: unknown cache.backend %q", c.Cache.Backend)
	}

	if c.Scheduler.Workers <= 0 {
		return errors.New("config: scheduler.workers must be positive")
	}
	if c.Scheduler.MinuteWindow >= c.Scheduler.HourWindow {
		return errors.New("config: scheduler.minute_window must be shorter than hour_window")
	}

	seen := make(map[string]bool)
	for _, t := range c.Scheduler.Tiers {
		if t.Name == "" {
			return errors.New("config: tier without name")
		}
		if seen[strings.ToLower(t.Name)] {
			return fmt.Errorf("config: duplicate tier %q", t.Name)
		}
		seen[strings.ToLower(t.Name)] = true
		if t.MaxLiquidityUSD != 0 && t.MaxLiquidityUSD <= t.MinLiquidityUSD {
			return fmt.Errorf("config: tier %q has max_liquidity_usd <= min_liquidity_usd", t.Name)
		}
	}

	if r := c.Providers.OutlierRatio; r != 0 && r <= 1 {
		return errors.New("config: providers.outlier_ratio must be greater than 1, or 0 to disable")
	}
	if c.Verifier.MajorRatio <= 1 {
		return errors.New("config: verifier.major_ratio must be greater than 1")
	}
	return nil
}
