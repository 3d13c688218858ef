// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
)

// Harvest modes.
const (
	ModePartitioned = "partitioned"
	ModeSequential  = "sequential"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Harvest HarvestConfig `mapstructure:"harvest"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	DB      DBConfig      `mapstructure:"db"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Archive ArchiveConfig `mapstructure:"archive"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the status HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// HarvestConfig governs planning and execution of institution runs.
type HarvestConfig struct {
	Mode           string        `mapstructure:"mode"`
	Institutions   []string      `mapstructure:"institutions"`
	Concurrency    int           `mapstructure:"concurrency"`
	Workers        int           `mapstructure:"workers"`
	RetrievableCap int           `mapstructure:"retrievable_cap"`
	PageSize       int           `mapstructure:"page_size"`
	MaxPages       int           `mapstructure:"max_pages"`
	YearFrom       int           `mapstructure:"year_from"`
	YearTo         int           `mapstructure:"year_to"`
	SortKeys       []string      `mapstructure:"sort_keys"`
	SortDirections []string      `mapstructure:"sort_directions"`
	Dimensions     []string      `mapstructure:"dimensions"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
	ResolveEbooks  bool          `mapstructure:"resolve_ebooks"`
}

// HTTPConfig configures the search client transport and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries"`
	BackoffInitialMs  int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs      int     `mapstructure:"backoff_max_ms"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	UserAgent         string  `mapstructure:"user_agent"`
	BaseURL           string  `mapstructure:"base_url"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RedisConfig enables the shared count cache when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ArchiveConfig selects where raw page payloads are copied, if anywhere.
type ArchiveConfig struct {
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run-completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
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
	v.SetDefault("server.port", 0)
	v.SetDefault("harvest.mode", ModePartitioned)
	v.SetDefault("harvest.concurrency", 20)
	v.SetDefault("harvest.workers", 4)
	v.SetDefault("harvest.retrievable_cap", 10000)
	v.SetDefault("harvest.page_size", 50)
	v.SetDefault("harvest.max_pages", 200)
	v.SetDefault("harvest.year_from", 1850)
	v.SetDefault("harvest.year_to", 2025)
	v.SetDefault("harvest.sort_keys", []string{
		string(catalog.SortRelevance),
		string(catalog.SortIssued),
		string(catalog.SortClassNo),
	})
	v.SetDefault("harvest.sort_directions", []string{
		string(catalog.DirectionAsc),
		string(catalog.DirectionDesc),
	})
	v.SetDefault("harvest.dimensions", catalog.DimensionNames())
	v.SetDefault("harvest.shutdown_grace", 30*time.Second)
	v.SetDefault("harvest.resolve_ebooks", false)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 5)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 10000)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("http.user_agent",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:144.0) Gecko/20100101 Firefox/144.0")
	v.SetDefault("db.driver", DriverPostgres)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate ensures config values are coherent before any run starts.
func (c Config) Validate() error {
	h := c.Harvest
	switch h.Mode {
	case ModePartitioned, ModeSequential:
	default:
		return fmt.Errorf("harvest.mode must be %q or %q", ModePartitioned, ModeSequential)
	}
	if h.Concurrency <= 0 {
		return fmt.Errorf("harvest.concurrency must be > 0")
	}
	if h.Workers <= 0 {
		return fmt.Errorf("harvest.workers must be > 0")
	}
	if h.RetrievableCap <= 0 {
		return fmt.Errorf("harvest.retrievable_cap must be > 0")
	}
	if h.PageSize <= 0 {
		return fmt.Errorf("harvest.page_size must be > 0")
	}
	if h.MaxPages <= 0 {
		return fmt.Errorf("harvest.max_pages must be > 0")
	}
	if h.YearFrom > h.YearTo {
		return fmt.Errorf("harvest.year_from must be <= harvest.year_to")
	}
	if h.ShutdownGrace < 0 {
		return fmt.Errorf("harvest.shutdown_grace must be >= 0")
	}
	for _, key := range h.SortKeys {
		if !catalog.SortKey(key).Valid() {
			return fmt.Errorf("harvest.sort_keys: unknown sort key %q", key)
		}
	}
	for _, dir := range h.SortDirections {
		if !catalog.SortDirection(dir).Valid() {
			return fmt.Errorf("harvest.sort_directions: unknown direction %q", dir)
		}
	}
	if len(h.Dimensions) == 0 {
		return fmt.Errorf("harvest.dimensions must not be empty")
	}
	for _, name := range h.Dimensions {
		if _, ok := catalog.ParseDimension(name); !ok {
			return fmt.Errorf("harvest.dimensions: unknown dimension %q", name)
		}
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.BackoffInitialMs > c.HTTP.BackoffMaxMs {
		return fmt.Errorf("http.backoff_initial_ms must be <= http.backoff_max_ms")
	}
	switch c.DB.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("db.driver must be %q or %q", DriverPostgres, DriverMemory)
	}
	if c.Archive.LocalDir != "" && c.Archive.GCSBucket != "" {
		return fmt.Errorf("archive.local_dir and archive.gcs_bucket are mutually exclusive")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// ParsedDimensions resolves the configured dimension names.
func (h HarvestConfig) ParsedDimensions() []catalog.Dimension {
	out := make([]catalog.Dimension, 0, len(h.Dimensions))
	for _, name := range h.Dimensions {
		if d, ok := catalog.ParseDimension(name); ok {
			out = append(out, d)
		}
	}
	return out
}

// ParsedSortKeys converts configured sort keys to typed values.
func (h HarvestConfig) ParsedSortKeys() []catalog.SortKey {
	out := make([]catalog.SortKey, 0, len(h.SortKeys))
	for _, key := range h.SortKeys {
		out = append(out, catalog.SortKey(key))
	}
	return out
}

// ParsedSortDirections converts configured directions to typed values.
func (h HarvestConfig) ParsedSortDirections() []catalog.SortDirection {
	out := make([]catalog.SortDirection, 0, len(h.SortDirections))
	for _, dir := range h.SortDirections {
		out = append(out, catalog.SortDirection(dir))
	}
	return out
}
