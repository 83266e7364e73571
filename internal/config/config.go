// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. INSTAFIX_SERVER_PORT.
const EnvPrefix = "INSTAFIX"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Query    QueryConfig    `mapstructure:"query"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Grid     GridConfig     `mapstructure:"grid"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// UpstreamConfig drives the primary fetcher and the embed retry policy.
type UpstreamConfig struct {
	UserAgent          string        `mapstructure:"user_agent"`
	Timeout            time.Duration `mapstructure:"timeout"`
	Proxies            []string      `mapstructure:"proxies"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	CDNHost            string        `mapstructure:"cdn_host"`
	StructuredFallback bool          `mapstructure:"structured_fallback"`
}

// QueryConfig enables the secondary query service.
type QueryConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Endpoint  string        `mapstructure:"endpoint"`
	Hash      string        `mapstructure:"hash"`
	MediaInfo bool          `mapstructure:"media_info"`
	Proxies   []string      `mapstructure:"proxies"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// RelayConfig points video redirects at a relay. An empty BaseURL disables it.
type RelayConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// CacheConfig selects and tunes the post cache backend.
type CacheConfig struct {
	Backend       string         `mapstructure:"backend"`
	SuccessTTL    time.Duration  `mapstructure:"success_ttl"`
	ErrorTTL      time.Duration  `mapstructure:"error_ttl"`
	SweepInterval time.Duration  `mapstructure:"sweep_interval"`
	Redis         RedisConfig    `mapstructure:"redis"`
	Postgres      PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig holds the redis backend connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// PostgresConfig holds the postgres backend connection.
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// GridConfig controls grid composition and storage.
type GridConfig struct {
	Backend         string        `mapstructure:"backend"`
	Dir             string        `mapstructure:"dir"`
	GCSBucket       string        `mapstructure:"gcs_bucket"`
	MaxEntries      int           `mapstructure:"max_entries"`
	Gap             int           `mapstructure:"gap"`
	Quality         int           `mapstructure:"quality"`
	RPS             float64       `mapstructure:"rps"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
}

// Cache backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.request_timeout", "120s")
	v.SetDefault("logging.development", false)
	v.SetDefault("upstream.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 "+
		"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("upstream.timeout", "90s")
	v.SetDefault("upstream.proxies", []string{})
	v.SetDefault("upstream.max_attempts", 3)
	v.SetDefault("upstream.retry_delay", "1s")
	v.SetDefault("upstream.cdn_host", "scontent.cdninstagram.com")
	v.SetDefault("upstream.structured_fallback", true)
	v.SetDefault("query.enabled", false)
	v.SetDefault("query.endpoint", "https://www.instagram.com/graphql/query/")
	v.SetDefault("query.hash", "b3055c01b4b222b8a47dc12b090e4e64")
	v.SetDefault("query.media_info", true)
	v.SetDefault("query.proxies", []string{})
	v.SetDefault("query.timeout", "5s")
	v.SetDefault("relay.base_url", "")
	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.success_ttl", "24h")
	v.SetDefault("cache.error_ttl", "10m")
	v.SetDefault("cache.sweep_interval", "1m")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.prefix", "instafix:")
	v.SetDefault("cache.postgres.dsn", "")
	v.SetDefault("cache.postgres.table", "post_cache")
	v.SetDefault("grid.backend", BackendLocal)
	v.SetDefault("grid.dir", "static")
	v.SetDefault("grid.gcs_bucket", "")
	v.SetDefault("grid.max_entries", 10000)
	v.SetDefault("grid.gap", 10)
	v.SetDefault("grid.quality", 75)
	v.SetDefault("grid.rps", 1)
	v.SetDefault("grid.download_timeout", "10s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be > 0")
	}
	if c.Upstream.MaxAttempts <= 0 {
		return fmt.Errorf("upstream.max_attempts must be > 0")
	}
	if c.Upstream.RetryDelay < 0 {
		return fmt.Errorf("upstream.retry_delay must be >= 0")
	}
	if c.Query.Enabled {
		if c.Query.Endpoint == "" {
			return fmt.Errorf("query.endpoint must be set when query is enabled")
		}
		if c.Query.Timeout <= 0 {
			return fmt.Errorf("query.timeout must be > 0")
		}
	}
	if c.Cache.SuccessTTL <= 0 || c.Cache.ErrorTTL <= 0 {
		return fmt.Errorf("cache.success_ttl and cache.error_ttl must be > 0")
	}
	switch c.Cache.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr must be set for the redis backend")
		}
	case BackendPostgres:
		if c.Cache.Postgres.DSN == "" {
			return fmt.Errorf("cache.postgres.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	switch c.Grid.Backend {
	case BackendLocal:
		if c.Grid.Dir == "" {
			return fmt.Errorf("grid.dir must be set for the local backend")
		}
	case BackendMemory:
	case BackendGCS:
		if c.Grid.GCSBucket == "" {
			return fmt.Errorf("grid.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown grid.backend %q", c.Grid.Backend)
	}
	if c.Grid.Quality < 1 || c.Grid.Quality > 100 {
		return fmt.Errorf("grid.quality must be between 1 and 100")
	}
	if c.Grid.MaxEntries <= 0 {
		return fmt.Errorf("grid.max_entries must be > 0")
	}
	if c.Grid.Gap < 0 {
		return fmt.Errorf("grid.gap must be >= 0")
	}
	if c.Grid.DownloadTimeout <= 0 {
		return fmt.Errorf("grid.download_timeout must be > 0")
	}
	return nil
}
