// Package worker fetches one page of search results and persists its records.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
	"github.com/JakeFAU/catalog-harvester/internal/progress"
)

const archiveContentType = "application/json"

// Config scopes a Worker to one institution run.
type Config struct {
	Institution catalog.Institution
	RunID       uuid.UUID
	// ArchivePrefix is prepended to archived page paths.
	ArchivePrefix string
}

// Result describes what one page produced.
type Result struct {
	Fetched  int
	Parsed   int
	Invalid  int
	Inserted int64
	Ebooks   int
	// ArchiveURI is set when the raw page was archived.
	ArchiveURI string
}

// Option customizes a Worker.
type Option func(*Worker)

// WithArchive copies every fetched page body to blobs before it is parsed.
func WithArchive(blobs catalog.BlobStore) Option {
	return func(w *Worker) { w.archive = blobs }
}

// WithEbooks resolves reading URLs for records that have an electronic copy.
func WithEbooks(resolver catalog.EbookResolver, ebooks catalog.EbookStore) Option {
	return func(w *Worker) {
		w.resolver = resolver
		w.ebooks = ebooks
	}
}

// WithProgressStore enables sequential mode bookkeeping: scraped pages are
// skipped and completed pages are marked.
func WithProgressStore(pages catalog.ProgressStore) Option {
	return func(w *Worker) { w.pages = pages }
}

// WithEmitter reports every handled page as a progress event.
func WithEmitter(emitter progress.Emitter) Option {
	return func(w *Worker) {
		if emitter != nil {
			w.emitter = emitter
		}
	}
}

// Worker runs the fetch, transform, and persist steps for page tasks.
type Worker struct {
	searcher catalog.Searcher
	records  catalog.RecordStore
	archive  catalog.BlobStore
	resolver catalog.EbookResolver
	ebooks   catalog.EbookStore
	pages    catalog.ProgressStore
	emitter  progress.Emitter
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// New constructs a Worker.
func New(
	searcher catalog.Searcher,
	records catalog.RecordStore,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		searcher: searcher,
		records:  records,
		emitter:  progress.Discard,
		cfg:      cfg,
		logger:   logger.Named("worker").With(zap.String("institution", cfg.Institution.Abbrev)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Process fetches the page addressed by task and persists its records. An
// empty page returns a zero Result without touching any store, except that
// sequential mode still marks it scraped.
func (w *Worker) Process(ctx context.Context, task catalog.PageTask) (Result, error) {
	var res Result
	page, err := w.searcher.Search(ctx, task.Query())
	if err != nil {
		return res, fmt.Errorf("search: %w", err)
	}
	res.Fetched = len(page.Items)
	if res.Fetched == 0 {
		return res, w.markScraped(ctx, task)
	}

	res.ArchiveURI = w.archivePage(ctx, task, page.Raw)

	records := make([]catalog.Record, 0, len(page.Items))
	for i, item := range page.Items {
		rec, err := catalog.ParseRecord(item)
		if err != nil {
			res.Invalid++
			w.logger.Warn("skipping unparseable item",
				zap.String("partition", task.Partition.Label()),
				zap.Int("page", task.Page),
				zap.Int("index", i),
				zap.Error(err),
			)
			continue
		}
		records = append(records, rec)
	}
	res.Parsed = len(records)

	if len(records) > 0 {
		inserted, err := w.records.UpsertRecords(ctx, records)
		if err != nil {
			return res, fmt.Errorf("upsert records: %w", err)
		}
		res.Inserted = inserted
	}

	res.Ebooks = w.resolveEbooks(ctx, records)

	if err := w.markScraped(ctx, task); err != nil {
		return res, err
	}
	return res, nil
}

// Handle is the failure boundary for one page: every error is logged,
// counted, and reported, and never returned to the caller.
func (w *Worker) Handle(ctx context.Context, task catalog.PageTask) {
	start := w.now()
	fields := []zap.Field{
		zap.String("partition", task.Partition.Label()),
		zap.Int("page", task.Page),
	}

	if w.pages != nil {
		done, err := w.pages.IsPageScraped(ctx, w.cfg.Institution.Abbrev, task.Page)
		if err != nil {
			w.logger.Warn("progress lookup failed; fetching page anyway", append(fields, zap.Error(err))...)
		} else if done {
			w.logger.Debug("skipping page already scraped", fields...)
			w.finish(task, metrics.PageSkipped, Result{}, start, nil)
			return
		}
	}

	res, err := w.Process(ctx, task)
	switch {
	case err != nil:
		w.logger.Error("page failed", append(fields, zap.Error(err))...)
		w.finish(task, metrics.PageFailed, res, start, err)
	case res.Fetched == 0:
		w.logger.Debug("page empty", fields...)
		w.finish(task, metrics.PageEmpty, res, start, nil)
	default:
		w.logger.Debug("page persisted", append(fields,
			zap.Int("fetched", res.Fetched),
			zap.Int64("inserted", res.Inserted),
		)...)
		w.finish(task, metrics.PagePersisted, res, start, nil)
	}
}

// Func adapts Handle to the task pool signature.
func (w *Worker) Func(task catalog.PageTask) func(context.Context) error {
	return func(ctx context.Context) error {
		w.Handle(ctx, task)
		return nil
	}
}

func (w *Worker) finish(task catalog.PageTask, outcome string, res Result, start time.Time, err error) {
	metrics.ObservePage(w.cfg.Institution.Abbrev, outcome)
	metrics.ObserveRecordsInserted(w.cfg.Institution.Abbrev, res.Inserted)
	evt := progress.Event{
		RunID:       progress.UUIDToBytes(w.cfg.RunID),
		TS:          w.now(),
		Stage:       progress.StagePageDone,
		Institution: w.cfg.Institution.Abbrev,
		Partition:   task.Partition.Label(),
		Page:        task.Page,
		Inserted:    res.Inserted,
		Outcome:     outcome,
		Dur:         max(w.now().Sub(start), 0),
	}
	if err != nil {
		evt.Note = err.Error()
	}
	w.emitter.Emit(evt)
}

func (w *Worker) markScraped(ctx context.Context, task catalog.PageTask) error {
	if w.pages == nil {
		return nil
	}
	if err := w.pages.MarkPageScraped(ctx, w.cfg.Institution.Abbrev, task.Page); err != nil {
		return fmt.Errorf("mark page scraped: %w", err)
	}
	return nil
}

// archivePage stores the raw body; failures are logged and the page continues.
func (w *Worker) archivePage(ctx context.Context, task catalog.PageTask, raw []byte) string {
	if w.archive == nil || len(raw) == 0 {
		return ""
	}
	path := w.ArchivePath(task)
	uri, err := w.archive.PutObject(ctx, path, archiveContentType, bytes.NewReader(raw))
	if err != nil {
		w.logger.Warn("archive page failed",
			zap.String("path", path),
			zap.Int("page", task.Page),
			zap.Error(err),
		)
		return ""
	}
	return uri
}

// ArchivePath locates a page's raw body:
// <prefix>/<abbrev>/<partition fingerprint>/page-00001.json.
func (w *Worker) ArchivePath(task catalog.PageTask) string {
	fingerprint := task.Partition.Query.Fingerprint()
	if len(fingerprint) > 16 {
		fingerprint = fingerprint[:16]
	}
	parts := []string{
		w.cfg.Institution.Abbrev,
		fingerprint,
		fmt.Sprintf("page-%05d.json", task.Page),
	}
	if prefix := strings.Trim(w.cfg.ArchivePrefix, "/"); prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

// resolveEbooks returns how many links were stored. Failures only warn.
func (w *Worker) resolveEbooks(ctx context.Context, records []catalog.Record) int {
	if w.resolver == nil || w.ebooks == nil {
		return 0
	}
	stored := 0
	for _, rec := range records {
		if !rec.HasECopy {
			continue
		}
		url, err := w.resolver.FetchEbookURL(ctx, w.cfg.Institution.Hostname, rec.ID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return stored
			}
			w.logger.Warn("ebook lookup failed", zap.Int64("record_id", rec.ID), zap.Error(err))
			continue
		}
		if url == "" {
			continue
		}
		if err := w.ebooks.UpsertEbook(ctx, catalog.Ebook{RecordID: rec.ID, ReadURL: url}); err != nil {
			w.logger.Warn("store ebook failed", zap.Int64("record_id", rec.ID), zap.Error(err))
			continue
		}
		stored++
	}
	return stored
}
