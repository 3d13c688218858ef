package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/app"
	"github.com/JakeFAU/catalog-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
	"github.com/JakeFAU/catalog-harvester/internal/planner"
	"github.com/JakeFAU/catalog-harvester/internal/progress"
	"github.com/JakeFAU/catalog-harvester/internal/store"
	"github.com/JakeFAU/catalog-harvester/internal/taskpool"
	"github.com/JakeFAU/catalog-harvester/internal/worker"
)

const (
	progressLogEvery = 100
	publishTimeout   = 10 * time.Second
)

// Opener provides fresh resources for one run. The runner closes them when
// the run ends.
type Opener func(ctx context.Context) (*app.Resources, error)

// Summary reports the outcome of one institution run. It is also the payload
// published when a run finishes.
type Summary struct {
	RunID           uuid.UUID                      `json:"run_id"`
	Institution     string                         `json:"institution"`
	Hostname        string                         `json:"hostname"`
	Mode            string                         `json:"mode"`
	Status          store.RunStatus                `json:"status"`
	Records         int                            `json:"records"`
	PagesPlanned    int                            `json:"pages_planned"`
	PagesPersisted  int64                          `json:"pages_persisted"`
	PagesEmpty      int64                          `json:"pages_empty"`
	PagesSkipped    int64                          `json:"pages_skipped"`
	PagesFailed     int64                          `json:"pages_failed"`
	RecordsInserted int64                          `json:"records_inserted"`
	Partitions      map[catalog.PartitionState]int `json:"partitions,omitempty"`
	StartedAt       time.Time                      `json:"started_at"`
	FinishedAt      time.Time                      `json:"finished_at"`
	Error           string                         `json:"error,omitempty"`
}

func (s Summary) elapsed() time.Duration {
	return max(s.FinishedAt.Sub(s.StartedAt), 0)
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithEmitter forwards run and page events, typically to a progress.Hub.
func WithEmitter(emitter progress.Emitter) RunnerOption {
	return func(r *Runner) {
		if emitter != nil {
			r.emitter = emitter
		}
	}
}

// WithPublisher publishes every run Summary on the publisher's default topic.
func WithPublisher(pub catalog.Publisher) RunnerOption {
	return func(r *Runner) { r.publisher = pub }
}

// Runner executes harvest runs, one institution at a time per call.
type Runner struct {
	cfg           config.HarvestConfig
	archivePrefix string
	open          Opener
	emitter       progress.Emitter
	publisher     catalog.Publisher
	logger        *zap.Logger
	newID         func() (uuid.UUID, error)
	now           func() time.Time
}

// NewRunner constructs a Runner.
func NewRunner(cfg config.Config, open Opener, logger *zap.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		cfg:           cfg.Harvest,
		archivePrefix: cfg.Archive.Prefix,
		open:          open,
		emitter:       progress.Discard,
		logger:        logger.Named("harvest"),
		newID:         uuid.NewV7,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunInstitution harvests one institution in the configured mode.
func (r *Runner) RunInstitution(ctx context.Context, hostname string) (Summary, error) {
	return r.run(ctx, hostname, r.cfg.Mode)
}

// Resume harvests one institution in sequential mode, continuing from the
// first page the progress store has not seen.
func (r *Runner) Resume(ctx context.Context, hostname string) (Summary, error) {
	return r.run(ctx, hostname, config.ModeSequential)
}

// run owns the resource lifecycle. Errors from planning, bootstrap, or
// cancellation fail the run; page failures only show up in the counts.
func (r *Runner) run(ctx context.Context, hostname, mode string) (sum Summary, err error) {
	abbrev, err := catalog.AbbrevFromHostname(hostname)
	if err != nil {
		return Summary{}, err
	}
	id, err := r.newID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	sum = Summary{
		RunID:       id,
		Institution: abbrev,
		Hostname:    hostname,
		Mode:        mode,
		Status:      store.RunRunning,
		StartedAt:   r.now(),
	}
	logger := r.logger.With(
		zap.String("institution", abbrev),
		zap.String("run_id", id.String()),
		zap.String("mode", mode),
	)
	r.emit(sum, progress.Event{Stage: progress.StageRunStart, Mode: mode})

	tally := &tally{next: r.emitter}
	defer func() {
		tally.fill(&sum)
		sum.FinishedAt = r.now()
		if err != nil {
			sum.Status = store.RunError
			sum.Error = err.Error()
			logger.Error("run failed", zap.Error(err))
			r.emit(sum, progress.Event{Stage: progress.StageRunError, Dur: sum.elapsed(), Note: sum.Error})
		} else {
			sum.Status = store.RunSuccess
			logger.Info("run complete",
				zap.Int("pages_planned", sum.PagesPlanned),
				zap.Int64("pages_persisted", sum.PagesPersisted),
				zap.Int64("pages_failed", sum.PagesFailed),
				zap.Int64("records_inserted", sum.RecordsInserted),
				zap.Duration("elapsed", sum.elapsed()),
			)
			r.emit(sum, progress.Event{Stage: progress.StageRunDone, Dur: sum.elapsed()})
		}
		r.publish(ctx, sum, logger)
	}()

	res, err := r.open(ctx)
	if err != nil {
		return sum, fmt.Errorf("open run resources: %w", err)
	}
	defer func() {
		if cerr := res.Close(); cerr != nil {
			logger.Warn("closing run resources failed", zap.Error(cerr))
		}
	}()

	inst, err := r.bootstrap(ctx, res, hostname, logger)
	if err != nil {
		return sum, err
	}

	w := r.newWorker(res, inst, id, mode, tally, logger)
	pool := taskpool.New(r.cfg.Concurrency, taskpool.WithProgress(progressLogger(logger)))

	if mode == config.ModeSequential {
		err = r.sequential(ctx, res, inst, w, pool, &sum, logger)
	} else {
		err = r.partitioned(ctx, res, inst, w, pool, &sum, logger)
	}
	return sum, err
}

// bootstrap resolves the institution and registers it on first sight.
func (r *Runner) bootstrap(ctx context.Context, res *app.Resources, hostname string, logger *zap.Logger) (catalog.Institution, error) {
	inst, err := res.Client.FetchInstitution(ctx, hostname)
	if err != nil {
		return catalog.Institution{}, fmt.Errorf("fetch institution: %w", err)
	}
	_, err = res.Institutions.GetInstitution(ctx, inst.ID)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		if err := res.Institutions.CreateInstitution(ctx, inst); err != nil {
			return catalog.Institution{}, fmt.Errorf("create institution: %w", err)
		}
		logger.Info("registered institution", zap.Int("id", inst.ID), zap.String("name", inst.Name))
	case err != nil:
		return catalog.Institution{}, fmt.Errorf("load institution: %w", err)
	}
	return inst, nil
}

func (r *Runner) newWorker(
	res *app.Resources,
	inst catalog.Institution,
	id uuid.UUID,
	mode string,
	emitter progress.Emitter,
	logger *zap.Logger,
) *worker.Worker {
	opts := []worker.Option{worker.WithEmitter(emitter)}
	if mode == config.ModeSequential {
		opts = append(opts, worker.WithProgressStore(res.Progress))
	}
	if res.Archive != nil {
		opts = append(opts, worker.WithArchive(res.Archive))
	}
	if r.cfg.ResolveEbooks {
		opts = append(opts, worker.WithEbooks(res.Client, res.Ebooks))
	}
	return worker.New(res.Client, res.Records, worker.Config{
		Institution:   inst,
		RunID:         id,
		ArchivePrefix: r.archivePrefix,
	}, logger, opts...)
}

// partitioned plans the institution's query space and feeds every page to
// the pool as it is discovered.
func (r *Runner) partitioned(
	ctx context.Context,
	res *app.Resources,
	inst catalog.Institution,
	w *worker.Worker,
	pool *taskpool.Pool,
	sum *Summary,
	logger *zap.Logger,
) error {
	var opts []planner.Option
	if res.Cache != nil {
		opts = append(opts, planner.WithCountCache(res.Cache))
	}
	pl := planner.New(res.Client, planner.Config{
		RetrievableCap: r.cfg.RetrievableCap,
		PageSize:       r.cfg.PageSize,
		MaxPages:       r.cfg.MaxPages,
		YearFrom:       r.cfg.YearFrom,
		YearTo:         r.cfg.YearTo,
		SortKeys:       r.cfg.ParsedSortKeys(),
		Directions:     r.cfg.ParsedSortDirections(),
		Dimensions:     r.cfg.ParsedDimensions(),
	}, logger.Named("planner"), opts...)

	submit := func(task catalog.PageTask) error {
		_, err := pool.Submit(ctx, w.Func(task))
		return err
	}
	plan, err := pl.Plan(ctx, catalog.NewQuery(inst, r.cfg.PageSize), submit)
	sum.PagesPlanned = plan.PagesEmitted
	sum.Partitions = plan.Partitions
	if err != nil {
		_ = pool.Close()
		return fmt.Errorf("plan %s: %w", inst.Abbrev, err)
	}
	logger.Info("planning complete",
		zap.Int("pages", plan.PagesEmitted),
		zap.Int("facet_queries", plan.FacetQueries),
		zap.Int("count_queries", plan.CountQueries),
		zap.Int("cached_counts", plan.CachedCounts),
	)
	r.emit(*sum, progress.Event{Stage: progress.StagePlanDone, Pages: plan.PagesEmitted})
	return r.join(ctx, pool, logger)
}

// sequential walks one global query page by page, skipping pages the
// progress store already has.
func (r *Runner) sequential(
	ctx context.Context,
	res *app.Resources,
	inst catalog.Institution,
	w *worker.Worker,
	pool *taskpool.Pool,
	sum *Summary,
	logger *zap.Logger,
) error {
	base := SequentialQuery(inst, r.cfg.PageSize)
	counted, err := res.Client.Search(ctx, base.AsCount())
	if err != nil {
		_ = pool.Close()
		return fmt.Errorf("count %s: %w", inst.Abbrev, err)
	}
	sum.Records = counted.Count
	total := planner.PageBound(counted.Count, 0, r.cfg.PageSize, 0)

	scraped, err := res.Progress.GetScrapedCount(ctx, inst.Abbrev)
	if err != nil {
		_ = pool.Close()
		return fmt.Errorf("scraped count: %w", err)
	}
	if total-scraped <= 0 {
		logger.Info("all pages already scraped", zap.Int("pages", total))
		r.emit(*sum, progress.Event{Stage: progress.StagePlanDone})
		return pool.Close()
	}
	start, err := res.Progress.GetStartPage(ctx, inst.Abbrev)
	if err != nil {
		_ = pool.Close()
		return fmt.Errorf("start page: %w", err)
	}

	sum.PagesPlanned = max(total-start+1, 0)
	logger.Info("starting sequential harvest",
		zap.Int("records", counted.Count),
		zap.Int("pages", total),
		zap.Int("start_page", start),
	)
	r.emit(*sum, progress.Event{Stage: progress.StagePlanDone, Pages: sum.PagesPlanned})

	part := catalog.Partition{Query: base, Count: counted.Count, State: catalog.PartitionSmall}
	if r.cfg.RetrievableCap > 0 && counted.Count > r.cfg.RetrievableCap {
		part.State = catalog.PartitionExhausted
	}
	for page := start; page <= total; page++ {
		task := catalog.PageTask{Partition: part, Page: page}
		if _, err := pool.Submit(ctx, w.Func(task)); err != nil {
			_ = pool.Close()
			return fmt.Errorf("submit page %d: %w", page, err)
		}
	}
	return r.join(ctx, pool, logger)
}

// SequentialQuery is the single query the sequential mode pages through:
// every record of the institution's document and resource types.
func SequentialQuery(inst catalog.Institution, pageSize int) catalog.SearchQuery {
	return catalog.NewQuery(inst, pageSize).
		WithFilter(catalog.DimDocCode, inst.DocCodes...).
		WithFilter(catalog.DimResourceType, inst.ResourceTypes...)
}

// join waits for admitted pages. Once ctx is canceled the pages still
// running get the shutdown grace period before the pool is closed on them.
func (r *Runner) join(ctx context.Context, pool *taskpool.Pool, logger *zap.Logger) error {
	joined := make(chan struct{})
	go func() {
		select {
		case <-joined:
			return
		case <-ctx.Done():
		}
		logger.Warn("run canceled; waiting for in-flight pages",
			zap.Int("in_flight", pool.InFlight()),
			zap.Duration("grace", r.cfg.ShutdownGrace),
		)
		grace := time.NewTimer(r.cfg.ShutdownGrace)
		defer grace.Stop()
		select {
		case <-joined:
		case <-grace.C:
			logger.Warn("shutdown grace elapsed; canceling in-flight pages")
			_ = pool.Close()
		}
	}()

	err := pool.Join()
	close(joined)
	_ = pool.Close()
	if errors.Is(err, taskpool.ErrClosed) {
		err = nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("run interrupted: %w", ctxErr)
	}
	return err
}

func (r *Runner) emit(sum Summary, evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(sum.RunID)
	evt.TS = r.now()
	evt.Institution = sum.Institution
	if evt.Mode == "" {
		evt.Mode = sum.Mode
	}
	r.emitter.Emit(evt)
}

func (r *Runner) publish(ctx context.Context, sum Summary, logger *zap.Logger) {
	if r.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	msgID, err := r.publisher.Publish(pubCtx, "", sum)
	if err != nil {
		logger.Warn("publish run summary failed", zap.Error(err))
		return
	}
	logger.Debug("published run summary", zap.String("message_id", msgID))
}

// progressLogger reports completed pages periodically from the pool's
// completion callback.
func progressLogger(logger *zap.Logger) func() {
	var done atomic.Int64
	return func() {
		if n := done.Add(1); n%progressLogEvery == 0 {
			logger.Info("harvest progress", zap.Int64("pages_done", n))
		}
	}
}

// tally counts page outcomes on their way to the next emitter.
type tally struct {
	next      progress.Emitter
	persisted atomic.Int64
	empty     atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
	inserted  atomic.Int64
}

func (t *tally) Emit(evt progress.Event) {
	switch evt.Outcome {
	case metrics.PagePersisted:
		t.persisted.Add(1)
	case metrics.PageEmpty:
		t.empty.Add(1)
	case metrics.PageSkipped:
		t.skipped.Add(1)
	case metrics.PageFailed:
		t.failed.Add(1)
	}
	t.inserted.Add(evt.Inserted)
	t.next.Emit(evt)
}

func (t *tally) fill(sum *Summary) {
	sum.PagesPersisted = t.persisted.Load()
	sum.PagesEmpty = t.empty.Load()
	sum.PagesSkipped = t.skipped.Load()
	sum.PagesFailed = t.failed.Load()
	sum.RecordsInserted = t.inserted.Load()
}
