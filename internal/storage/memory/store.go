package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
)

type pageKey struct {
	abbrev string
	page   int
}

// Store implements the record, institution, progress, and ebook stores with
// the same idempotency rules as the Postgres store.
type Store struct {
	mu           sync.RWMutex
	records      map[int64]catalog.Record
	institutions map[int]catalog.Institution
	progress     map[pageKey]time.Time
	ebooks       map[int64]string
	now          func() time.Time
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		records:      make(map[int64]catalog.Record),
		institutions: make(map[int]catalog.Institution),
		progress:     make(map[pageKey]time.Time),
		ebooks:       make(map[int64]string),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// UpsertRecords inserts records whose id is not yet stored.
func (s *Store) UpsertRecords(_ context.Context, records []catalog.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted int64
	for _, rec := range records {
		if _, exists := s.records[rec.ID]; exists {
			continue
		}
		s.records[rec.ID] = rec
		inserted++
	}
	return inserted, nil
}

// Record returns a stored record.
func (s *Store) Record(id int64) (catalog.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// RecordCount returns the number of distinct stored records.
func (s *Store) RecordCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// GetInstitution returns catalog.ErrNotFound when the id is unknown.
func (s *Store) GetInstitution(_ context.Context, id int) (catalog.Institution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.institutions[id]
	if !ok {
		return catalog.Institution{}, catalog.ErrNotFound
	}
	return inst, nil
}

// CreateInstitution stores inst unless the id already exists.
func (s *Store) CreateInstitution(_ context.Context, inst catalog.Institution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.institutions[inst.ID]; !exists {
		s.institutions[inst.ID] = inst
	}
	return nil
}

// UpsertEbook stores or replaces the read URL for a record.
func (s *Store) UpsertEbook(_ context.Context, ebook catalog.Ebook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ebooks[ebook.RecordID] = ebook.ReadURL
	return nil
}

// Ebook returns the stored read URL for a record.
func (s *Store) Ebook(recordID int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.ebooks[recordID]
	return u, ok
}

// IsPageScraped reports whether page is marked scraped.
func (s *Store) IsPageScraped(_ context.Context, abbrev string, page int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.progress[pageKey{abbrev, page}]
	return ok, nil
}

// MarkPageScraped marks page scraped.
func (s *Store) MarkPageScraped(_ context.Context, abbrev string, page int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[pageKey{abbrev, page}] = s.now()
	return nil
}

// GetScrapedCount returns how many pages are marked scraped.
func (s *Store) GetScrapedCount(_ context.Context, abbrev string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.progress {
		if k.abbrev == abbrev {
			n++
		}
	}
	return n, nil
}

// GetStartPage returns 1 when nothing is scraped, otherwise the first gap in
// [1, max scraped page], otherwise max scraped page + 1.
func (s *Store) GetStartPage(_ context.Context, abbrev string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pages []int
	for k := range s.progress {
		if k.abbrev == abbrev {
			pages = append(pages, k.page)
		}
	}
	if len(pages) == 0 {
		return 1, nil
	}
	sort.Ints(pages)
	want := 1
	for _, p := range pages {
		if p < want {
			continue
		}
		if p > want {
			return want, nil
		}
		want++
	}
	return want, nil
}

// Close is a no-op that lets Store stand in for the Postgres store.
func (s *Store) Close() {}
