package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
harvest:
  mode: sequential
  institutions: ["findsjtu.libsp.cn", "findpku.libsp.cn"]
  concurrency: 6
  workers: 2
  retrievable_cap: 5000
  page_size: 25
  max_pages: 100
  year_from: 1990
  year_to: 2000
  sort_keys: ["issued_sort"]
  sort_directions: ["desc"]
  dimensions: ["publisher", "langCode"]
  shutdown_grace: 5s
  resolve_ebooks: true
http:
  timeout_seconds: 45
  max_retries: 4
  backoff_initial_ms: 100
  backoff_max_ms: 500
  requests_per_second: 2.5
db:
  driver: memory
redis:
  addr: localhost:6379
archive:
  local_dir: /tmp/pages
logging:
  development: true
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, ModeSequential, cfg.Harvest.Mode)
	require.Equal(t, []string{"findsjtu.libsp.cn", "findpku.libsp.cn"}, cfg.Harvest.Institutions)
	require.Equal(t, 6, cfg.Harvest.Concurrency)
	require.Equal(t, 5000, cfg.Harvest.RetrievableCap)
	require.Equal(t, 5*time.Second, cfg.Harvest.ShutdownGrace)
	require.True(t, cfg.Harvest.ResolveEbooks)
	require.Equal(t, []catalog.Dimension{catalog.DimPublisher, catalog.DimLangCode}, cfg.Harvest.ParsedDimensions())
	require.Equal(t, []catalog.SortKey{catalog.SortIssued}, cfg.Harvest.ParsedSortKeys())
	require.Equal(t, []catalog.SortDirection{catalog.DirectionDesc}, cfg.Harvest.ParsedSortDirections())
	require.InDelta(t, 2.5, cfg.HTTP.RequestsPerSecond, 0.0001)
	require.Equal(t, DriverMemory, cfg.DB.Driver)
	require.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	require.Equal(t, "pages", cfg.Archive.Prefix)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HARVEST_DB_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ModePartitioned, cfg.Harvest.Mode)
	require.Equal(t, 20, cfg.Harvest.Concurrency)
	require.Equal(t, 10000, cfg.Harvest.RetrievableCap)
	require.Equal(t, 50, cfg.Harvest.PageSize)
	require.Equal(t, 200, cfg.Harvest.MaxPages)
	require.Equal(t, 1850, cfg.Harvest.YearFrom)
	require.Equal(t, 2025, cfg.Harvest.YearTo)
	require.Len(t, cfg.Harvest.ParsedDimensions(), len(catalog.AllDimensions()))
	require.Len(t, cfg.Harvest.ParsedSortKeys(), 3)
	require.Equal(t, 5, cfg.HTTP.MaxRetries)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Harvest: HarvestConfig{
			Mode:           ModePartitioned,
			Concurrency:    1,
			Workers:        1,
			RetrievableCap: 100,
			PageSize:       10,
			MaxPages:       10,
			YearFrom:       2000,
			YearTo:         2001,
			Dimensions:     []string{"publisher"},
		},
		HTTP: HTTPConfig{BackoffInitialMs: 1, BackoffMaxMs: 2},
		DB:   DBConfig{Driver: DriverMemory},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "bad mode", mutate: func(c *Config) { c.Harvest.Mode = "turbo" }, want: "harvest.mode"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Harvest.Concurrency = 0 }, want: "harvest.concurrency"},
		{name: "zero workers", mutate: func(c *Config) { c.Harvest.Workers = 0 }, want: "harvest.workers"},
		{name: "zero cap", mutate: func(c *Config) { c.Harvest.RetrievableCap = 0 }, want: "harvest.retrievable_cap"},
		{name: "zero page size", mutate: func(c *Config) { c.Harvest.PageSize = 0 }, want: "harvest.page_size"},
		{name: "zero max pages", mutate: func(c *Config) { c.Harvest.MaxPages = 0 }, want: "harvest.max_pages"},
		{name: "inverted years", mutate: func(c *Config) { c.Harvest.YearFrom = 2010 }, want: "harvest.year_from"},
		{name: "unknown sort", mutate: func(c *Config) { c.Harvest.SortKeys = []string{"title"} }, want: "harvest.sort_keys"},
		{
			name:   "unknown direction",
			mutate: func(c *Config) { c.Harvest.SortDirections = []string{"up"} },
			want:   "harvest.sort_directions",
		},
		{
			name:   "unknown dimension",
			mutate: func(c *Config) { c.Harvest.Dimensions = []string{"colour"} },
			want:   "harvest.dimensions",
		},
		{name: "no dimensions", mutate: func(c *Config) { c.Harvest.Dimensions = nil }, want: "harvest.dimensions"},
		{name: "inverted backoff", mutate: func(c *Config) { c.HTTP.BackoffInitialMs = 10 }, want: "http.backoff_initial_ms"},
		{
			name:   "postgres without dsn",
			mutate: func(c *Config) { c.DB.Driver = DriverPostgres },
			want:   "db.dsn",
		},
		{
			name: "two archives",
			mutate: func(c *Config) {
				c.Archive.LocalDir = "/tmp"
				c.Archive.GCSBucket = "bucket"
			},
			want: "archive.local_dir",
		},
		{name: "half pubsub", mutate: func(c *Config) { c.PubSub.ProjectID = "proj" }, want: "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Harvest.Dimensions = append([]string(nil), base.Harvest.Dimensions...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
