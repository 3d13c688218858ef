package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
)

var recordColumns = []string{
	"id",
	"title",
	"summary",
	"author",
	"publisher",
	"year_published",
	"volume",
	"issue",
	"isbns",
	"language",
	"country",
	"has_ecopy",
	"num_pages",
	"doi",
	"doc_type",
	"subject",
	"tags",
}

// recordBatchSize keeps each INSERT well below the bind parameter limit.
const recordBatchSize = 1000

// UpsertRecords inserts records whose id is not yet stored, ignoring the rest,
// and returns the number of rows inserted.
func (s *Store) UpsertRecords(ctx context.Context, records []catalog.Record) (int64, error) {
	var inserted int64
	for start := 0; start < len(records); start += recordBatchSize {
		end := min(start+recordBatchSize, len(records))
		query, args := buildRecordInsert(records[start:end])
		tag, err := s.pool.Exec(ctx, query, args...)
		if err != nil {
			return inserted, fmt.Errorf("insert records: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func buildRecordInsert(records []catalog.Record) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO records (")
	b.WriteString(strings.Join(recordColumns, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(records)*len(recordColumns))
	for i, rec := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range recordColumns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*len(recordColumns)+j+1)
		}
		b.WriteByte(')')
		args = append(args, recordArgs(rec)...)
	}
	b.WriteString(" ON CONFLICT (id) DO NOTHING")
	return b.String(), args
}

func recordArgs(rec catalog.Record) []any {
	return []any{
		rec.ID,
		rec.Title,
		rec.Summary,
		rec.Author,
		rec.Publisher,
		rec.YearPublished,
		rec.Volume,
		rec.Issue,
		rec.ISBNs,
		rec.Language,
		rec.Country,
		rec.HasECopy,
		rec.NumPages,
		rec.DOI,
		rec.DocType,
		rec.Subject,
		rec.Tags,
	}
}

// UpsertEbook stores or refreshes the read URL for a record.
func (s *Store) UpsertEbook(ctx context.Context, ebook catalog.Ebook) error {
	query := `
		INSERT INTO ebooks (id, read_url)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET read_url = EXCLUDED.read_url;
	`
	if _, err := s.pool.Exec(ctx, query, ebook.RecordID, ebook.ReadURL); err != nil {
		return fmt.Errorf("upsert ebook %d: %w", ebook.RecordID, err)
	}
	return nil
}
