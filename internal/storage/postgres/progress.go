package postgres

import (
	"context"
	"fmt"
)

// IsPageScraped reports whether page has been marked scraped for the institution.
func (s *Store) IsPageScraped(ctx context.Context, abbrev string, page int) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM progress
			WHERE institution_abbrv = $1 AND page_num = $2 AND scraped
		);
	`
	var scraped bool
	if err := s.pool.QueryRow(ctx, query, abbrev, page).Scan(&scraped); err != nil {
		return false, fmt.Errorf("check page %d for %s: %w", page, abbrev, err)
	}
	return scraped, nil
}

// MarkPageScraped records page as scraped. Repeated calls are no-ops apart
// from refreshing updated_at.
func (s *Store) MarkPageScraped(ctx context.Context, abbrev string, page int) error {
	query := `
		INSERT INTO progress (institution_abbrv, page_num, scraped, updated_at)
		VALUES ($1, $2, TRUE, NOW())
		ON CONFLICT (institution_abbrv, page_num) DO UPDATE
		SET scraped = TRUE, updated_at = NOW();
	`
	if _, err := s.pool.Exec(ctx, query, abbrev, page); err != nil {
		return fmt.Errorf("mark page %d for %s: %w", page, abbrev, err)
	}
	return nil
}

// GetScrapedCount returns how many pages are marked scraped.
func (s *Store) GetScrapedCount(ctx context.Context, abbrev string) (int, error) {
	query := `SELECT COUNT(*) FROM progress WHERE institution_abbrv = $1 AND scraped;`
	var n int
	if err := s.pool.QueryRow(ctx, query, abbrev).Scan(&n); err != nil {
		return 0, fmt.Errorf("count scraped pages for %s: %w", abbrev, err)
	}
	return n, nil
}

// GetStartPage returns 1 when nothing is scraped, otherwise the first gap in
// [1, max scraped page], otherwise max scraped page + 1.
func (s *Store) GetStartPage(ctx context.Context, abbrev string) (int, error) {
	query := `
		WITH bounds AS (
			SELECT COALESCE(MAX(page_num), 0) AS max_page
			FROM progress
			WHERE institution_abbrv = $1 AND scraped
		)
		SELECT COALESCE(
			(
				SELECT MIN(gs.page)
				FROM generate_series(1, bounds.max_page) AS gs(page)
				LEFT JOIN progress p
					ON p.institution_abbrv = $1 AND p.page_num = gs.page AND p.scraped
				WHERE p.page_num IS NULL
			),
			bounds.max_page + 1
		)
		FROM bounds;
	`
	var page int
	if err := s.pool.QueryRow(ctx, query, abbrev).Scan(&page); err != nil {
		return 0, fmt.Errorf("find start page for %s: %w", abbrev, err)
	}
	return page, nil
}
