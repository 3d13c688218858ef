package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
)

func TestUpsertRecordsIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	records := []catalog.Record{{ID: 1, Title: "A"}, {ID: 2, Title: "B"}}

	n, err := store.UpsertRecords(ctx, records)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	n, err = store.UpsertRecords(ctx, records)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = store.UpsertRecords(ctx, []catalog.Record{{ID: 2, Title: "B2"}, {ID: 3, Title: "C"}})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Equal(t, 3, store.RecordCount())

	rec, ok := store.Record(2)
	require.True(t, ok)
	require.Equal(t, "B", rec.Title, "first write wins")
}

func TestInstitutionRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	_, err := store.GetInstitution(ctx, 3000)
	require.ErrorIs(t, err, catalog.ErrNotFound)

	inst := catalog.Institution{ID: 3000, Abbrev: "ecnu", Name: "ECNU"}
	require.NoError(t, store.CreateInstitution(ctx, inst))
	require.NoError(t, store.CreateInstitution(ctx, catalog.Institution{ID: 3000, Abbrev: "other"}))

	got, err := store.GetInstitution(ctx, 3000)
	require.NoError(t, err)
	require.Equal(t, inst, got)
}

func TestGetStartPage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		scraped []int
		want    int
	}{
		{name: "nothing scraped", scraped: nil, want: 1},
		{name: "gap", scraped: []int{1, 2, 4}, want: 3},
		{name: "contiguous", scraped: []int{1, 2, 3}, want: 4},
		{name: "missing first", scraped: []int{2, 3}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := NewStore()
			ctx := context.Background()
			for _, p := range tt.scraped {
				require.NoError(t, store.MarkPageScraped(ctx, "ecnu", p))
			}
			require.NoError(t, store.MarkPageScraped(ctx, "other", 1))

			got, err := store.GetStartPage(ctx, "ecnu")
			require.NoError(t, err)
			require.Equal(t, tt.want, got)

			count, err := store.GetScrapedCount(ctx, "ecnu")
			require.NoError(t, err)
			require.Equal(t, len(tt.scraped), count)
		})
	}
}

func TestMarkPageScrapedIsMonotonic(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.MarkPageScraped(ctx, "ecnu", 5))
	require.NoError(t, store.MarkPageScraped(ctx, "ecnu", 5))

	ok, err := store.IsPageScraped(ctx, "ecnu", 5)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.IsPageScraped(ctx, "ecnu", 6)
	require.NoError(t, err)
	require.False(t, ok)

	n, err := store.GetScrapedCount(ctx, "ecnu")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestUpsertEbookReplacesURL(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertEbook(ctx, catalog.Ebook{RecordID: 7, ReadURL: "a"}))
	require.NoError(t, store.UpsertEbook(ctx, catalog.Ebook{RecordID: 7, ReadURL: "b"}))
	got, ok := store.Ebook(7)
	require.True(t, ok)
	require.Equal(t, "b", got)
}
