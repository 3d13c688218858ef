package catalog

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound signals that the requested row does not exist.
var ErrNotFound = errors.New("not found")

// SearchResult is the decoded response to one search request.
type SearchResult struct {
	// Count is the true number of matches, independent of the retrievable cap.
	Count int
	// Items holds the page of results; empty in count-only mode.
	Items []RawItem
	// Facets maps dimension key to value frequencies (count-only mode).
	Facets map[string]map[string]int
	// Raw is the undecoded response body.
	Raw []byte
}

// Searcher issues queries against an institution's search endpoint.
type Searcher interface {
	Search(ctx context.Context, q SearchQuery) (SearchResult, error)
}

// InstitutionResolver looks up institution metadata by hostname.
type InstitutionResolver interface {
	FetchInstitution(ctx context.Context, hostname string) (Institution, error)
}

// EbookResolver finds the reading URL for a record with an electronic copy.
// It returns "" when the endpoint lists no source.
type EbookResolver interface {
	FetchEbookURL(ctx context.Context, hostname string, recordID int64) (string, error)
}

// RecordStore persists records idempotently by identity.
type RecordStore interface {
	// UpsertRecords inserts records whose identity is not yet stored and
	// returns how many rows were actually inserted.
	UpsertRecords(ctx context.Context, records []Record) (int64, error)
}

// InstitutionStore persists institutions.
type InstitutionStore interface {
	GetInstitution(ctx context.Context, id int) (Institution, error)
	CreateInstitution(ctx context.Context, inst Institution) error
}

// ProgressStore tracks completed pages of the sequential crawl mode.
type ProgressStore interface {
	IsPageScraped(ctx context.Context, abbrev string, page int) (bool, error)
	MarkPageScraped(ctx context.Context, abbrev string, page int) error
	GetScrapedCount(ctx context.Context, abbrev string) (int, error)
	// GetStartPage returns 1 when nothing is scraped, else the smallest
	// unscraped page up to the highest scraped one, else that page + 1.
	GetStartPage(ctx context.Context, abbrev string) (int, error)
}

// EbookStore persists ebook links.
type EbookStore interface {
	UpsertEbook(ctx context.Context, ebook Ebook) error
}

// CountCache memoizes partition counts across runs.
type CountCache interface {
	GetCount(ctx context.Context, key string) (int, bool, error)
	SetCount(ctx context.Context, key string, count int) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
