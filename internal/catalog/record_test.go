package catalog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeItem(t *testing.T, raw string) RawItem {
	t.Helper()
	var item RawItem
	require.NoError(t, json.Unmarshal([]byte(raw), &item))
	return item
}

func TestParseRecord_JoinsISBNList(t *testing.T) {
	t.Parallel()

	item := decodeItem(t, `{"recordId": 42, "title": "Go", "isbns": ["978-0","978-1"], "eCount": 2}`)
	rec, err := ParseRecord(item)
	require.NoError(t, err)

	require.Equal(t, int64(42), rec.ID)
	require.Equal(t, "Go", rec.Title)
	require.NotNil(t, rec.ISBNs)
	require.Equal(t, "978-0, 978-1", *rec.ISBNs)
	require.True(t, rec.HasECopy)
}

func TestParseRecord_AbsentFieldsStayNil(t *testing.T) {
	t.Parallel()

	item := decodeItem(t, `{"recordId": "7", "title": "Untagged", "eCount": 0, "chiSubjectClass": null}`)
	rec, err := ParseRecord(item)
	require.NoError(t, err)

	require.Nil(t, rec.Tags)
	require.Nil(t, rec.ISBNs)
	require.Nil(t, rec.Summary)
	require.Nil(t, rec.NumPages)
	require.False(t, rec.HasECopy)
}

func TestParseRecord_PassesThroughFields(t *testing.T) {
	t.Parallel()

	item := decodeItem(t, `{
		"recordId": 9,
		"title": "Atlas",
		"adstract": "maps",
		"author": "Mercator",
		"publisher": "Duisburg Press",
		"publishYear": 1595,
		"vol": "2",
		"issue": null,
		"isbns": "978-2",
		"langCode": "lat",
		"countryCode": "DE",
		"pagesNum": "312",
		"doi": "10.1/atlas",
		"docName": "Book",
		"subjectWord": "Cartography",
		"chiSubjectClass": ["K99", "P28"]
	}`)
	rec, err := ParseRecord(item)
	require.NoError(t, err)

	require.Equal(t, "maps", *rec.Summary)
	require.Equal(t, "Mercator", *rec.Author)
	require.Equal(t, "Duisburg Press", *rec.Publisher)
	require.Equal(t, "1595", *rec.YearPublished)
	require.Equal(t, "2", *rec.Volume)
	require.Nil(t, rec.Issue)
	require.Equal(t, "978-2", *rec.ISBNs)
	require.Equal(t, "lat", *rec.Language)
	require.Equal(t, "DE", *rec.Country)
	require.Equal(t, 312, *rec.NumPages)
	require.Equal(t, "10.1/atlas", *rec.DOI)
	require.Equal(t, "Book", *rec.DocType)
	require.Equal(t, "Cartography", *rec.Subject)
	require.Equal(t, "K99, P28", *rec.Tags)
	require.False(t, rec.HasECopy)
}

func TestParseRecord_EmptyListSemantics(t *testing.T) {
	t.Parallel()

	item := decodeItem(t, `{"recordId": 1, "title": "x", "isbns": [], "chiSubjectClass": []}`)
	rec, err := ParseRecord(item)
	require.NoError(t, err)

	require.NotNil(t, rec.ISBNs)
	require.Equal(t, "", *rec.ISBNs)
	require.Nil(t, rec.Tags)
}

func TestParseRecord_DropsOutOfRangePageCount(t *testing.T) {
	t.Parallel()

	rec, err := ParseRecord(decodeItem(t, `{"recordId": 9, "title": "huge", "pagesNum": 3000000000}`))
	require.NoError(t, err)
	require.Nil(t, rec.NumPages)

	rec, err = ParseRecord(decodeItem(t, `{"recordId": 10, "title": "max", "pagesNum": "2147483647"}`))
	require.NoError(t, err)
	require.Equal(t, 2147483647, *rec.NumPages)
}

func TestParseRecord_MissingID(t *testing.T) {
	t.Parallel()

	_, err := ParseRecord(decodeItem(t, `{"title": "orphan"}`))
	require.ErrorIs(t, err, ErrMissingRecordID)

	_, err = ParseRecord(decodeItem(t, `{"recordId": "abc", "title": "bad"}`))
	require.ErrorContains(t, err, "parse record id")
}

func TestScalarTruthy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want bool
	}{
		{`0`, false},
		{`2`, true},
		{`"0"`, false},
		{`"3"`, true},
		{`""`, false},
		{`null`, false},
		{`false`, false},
		{`"yes"`, true},
	}
	for _, tt := range tests {
		var s Scalar
		require.NoError(t, json.Unmarshal([]byte(tt.raw), &s))
		require.Equal(t, tt.want, s.Truthy(), tt.raw)
	}
}
