// Package app initializes and holds the harvester's services. App holds the
// process-wide ones; Resources holds what a single institution run owns.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/cache/rediscache"
	"github.com/JakeFAU/catalog-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/libsp"
	"github.com/JakeFAU/catalog-harvester/internal/progress"
	"github.com/JakeFAU/catalog-harvester/internal/progress/sinks"
	"github.com/JakeFAU/catalog-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-harvester/internal/storage/gcs"
	"github.com/JakeFAU/catalog-harvester/internal/storage/local"
	"github.com/JakeFAU/catalog-harvester/internal/storage/memory"
	"github.com/JakeFAU/catalog-harvester/internal/storage/postgres"
	"github.com/JakeFAU/catalog-harvester/internal/store"
)

// App holds the services shared by every run of one process.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Runs      store.RunRepository
	Hub       *progress.Hub
	Publisher catalog.Publisher

	ready   func(context.Context) error
	memory  *memory.Store
	closers []func() error
}

// Option customizes New.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	publisher  catalog.Publisher
}

// WithRegisterer registers the run collectors on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithPublisher overrides the publisher built from pubsub.* settings.
func WithPublisher(p catalog.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// New builds the process-wide services. With the postgres driver it applies
// pending migrations before anything else touches the database.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.closeAll()
		}
	}()

	switch cfg.DB.Driver {
	case config.DriverMemory:
		logger.Info("using in-memory storage; nothing survives the process")
		a.memory = memory.NewStore()
		a.Runs = memory.NewRunStore()
		a.ready = func(context.Context) error { return nil }
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, postgresConfig(cfg.DB))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := postgres.MigrateUp(pool); err != nil {
			return nil, err
		}
		db, err := postgres.NewWithPool(pool)
		if err != nil {
			return nil, err
		}
		a.Runs = db
		a.ready = db.Ping
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DB.Driver)
	}

	switch {
	case o.publisher != nil:
		a.Publisher = o.publisher
	case cfg.PubSub.ProjectID != "":
		pub, err := pubsub.Open(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return nil, err
		}
		logger.Info("publishing run summaries", zap.String("topic", cfg.PubSub.TopicName))
		a.Publisher = pub
		a.closers = append(a.closers, pub.Close)
	}

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("register run metrics: %w", err)
	}
	a.Hub = progress.NewHub(progress.Config{Logger: logger},
		sinks.NewLogSink(logger),
		promSink,
		sinks.NewStoreSink(a.Runs, logger),
	)
	return a, nil
}

// Ready reports whether the run repository is reachable.
func (a *App) Ready(ctx context.Context) error {
	if a.ready == nil {
		return errors.New("app not initialized")
	}
	return a.ready(ctx)
}

// Close flushes pending progress events and releases every service.
func (a *App) Close(ctx context.Context) error {
	a.Logger.Info("shutting down services")
	errs := []error{a.Hub.Close(ctx)}
	errs = append(errs, a.closeAll())
	if err := a.Logger.Sync(); err != nil {
		a.Logger.Debug("logger sync failed", zap.Error(err))
	}
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Client is the endpoint surface one run talks to.
type Client interface {
	catalog.Searcher
	catalog.InstitutionResolver
	catalog.EbookResolver
}

// Resources are the collaborators owned by one institution run.
type Resources struct {
	Client       Client
	Records      catalog.RecordStore
	Institutions catalog.InstitutionStore
	Progress     catalog.ProgressStore
	Ebooks       catalog.EbookStore
	// Cache and Archive are nil when not configured.
	Cache   catalog.CountCache
	Archive catalog.BlobStore

	closers []func() error
}

// OpenResources builds a fresh client and store connections for one run.
func (a *App) OpenResources(ctx context.Context) (_ *Resources, err error) {
	cfg := a.Config
	client := libsp.New(ClientConfig(cfg.HTTP), a.Logger)
	r := &Resources{Client: client}
	r.closers = append(r.closers, func() error { client.Close(); return nil })
	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()

	if a.memory != nil {
		r.Records, r.Institutions, r.Progress, r.Ebooks = a.memory, a.memory, a.memory, a.memory
	} else {
		db, err := postgres.Open(ctx, postgresConfig(cfg.DB))
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, func() error { db.Close(); return nil })
		r.Records, r.Institutions, r.Progress, r.Ebooks = db, db, db, db
	}

	if cfg.Redis.Addr != "" {
		cache, err := rediscache.Open(ctx, rediscache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			return nil, err
		}
		r.Cache = cache
		r.closers = append(r.closers, cache.Close)
	}

	switch {
	case cfg.Archive.GCSBucket != "":
		blobs, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			return nil, err
		}
		r.Archive = blobs
		r.closers = append(r.closers, blobs.Close)
	case cfg.Archive.LocalDir != "":
		blobs, err := local.New(local.Config{BaseDir: cfg.Archive.LocalDir})
		if err != nil {
			return nil, err
		}
		r.Archive = blobs
		r.closers = append(r.closers, blobs.Close)
	}
	return r, nil
}

// Close releases everything in reverse order of acquisition.
func (r *Resources) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	r.closers = nil
	return errors.Join(errs...)
}

// ClientConfig maps http.* settings onto the search client.
func ClientConfig(h config.HTTPConfig) libsp.Config {
	return libsp.Config{
		UserAgent:         h.UserAgent,
		Timeout:           seconds(h.TimeoutSeconds),
		MaxAttempts:       h.MaxRetries,
		BackoffInitial:    millis(h.BackoffInitialMs),
		BackoffMax:        millis(h.BackoffMaxMs),
		RequestsPerSecond: h.RequestsPerSecond,
		BaseURL:           h.BaseURL,
	}
}

func postgresConfig(db config.DBConfig) postgres.Config {
	return postgres.Config{
		DSN:             db.DSN,
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnLifetime: db.MaxConnLifetime,
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }
