package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMissingRecordID is returned when a raw item carries no usable identity.
var ErrMissingRecordID = errors.New("record id missing")

// listSeparator joins list-valued fields into a single column value.
const listSeparator = ", "

// Record is the canonical bibliographic entity persisted per catalog item.
// Nil pointers mean the endpoint did not report the field.
type Record struct {
	ID            int64
	Title         string
	Summary       *string
	Author        *string
	Publisher     *string
	YearPublished *string
	Volume        *string
	Issue         *string
	ISBNs         *string
	Language      *string
	Country       *string
	HasECopy      bool
	NumPages      *int
	DOI           *string
	DocType       *string
	Subject       *string
	Tags          *string
}

// Ebook links a record to its electronic reading URL.
type Ebook struct {
	RecordID int64
	ReadURL  string
}

// RawItem is one entry of a search response's result list.
type RawItem struct {
	RecordID     Scalar     `json:"recordId"`
	Title        Scalar     `json:"title"`
	Abstract     Scalar     `json:"adstract"`
	Author       Scalar     `json:"author"`
	Publisher    Scalar     `json:"publisher"`
	PublishYear  Scalar     `json:"publishYear"`
	Volume       Scalar     `json:"vol"`
	Issue        Scalar     `json:"issue"`
	ISBNs        StringList `json:"isbns"`
	LangCode     Scalar     `json:"langCode"`
	CountryCode  Scalar     `json:"countryCode"`
	ECount       Scalar     `json:"eCount"`
	PagesNum     Scalar     `json:"pagesNum"`
	DOI          Scalar     `json:"doi"`
	DocName      Scalar     `json:"docName"`
	SubjectWord  Scalar     `json:"subjectWord"`
	SubjectClass StringList `json:"chiSubjectClass"`
}

// ParseRecord transforms a raw search item into a Record.
func ParseRecord(item RawItem) (Record, error) {
	if !item.RecordID.Valid || item.RecordID.Value == "" {
		return Record{}, ErrMissingRecordID
	}
	id, err := strconv.ParseInt(item.RecordID.Value, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("parse record id %q: %w", item.RecordID.Value, err)
	}
	rec := Record{
		ID:            id,
		Title:         item.Title.Value,
		Summary:       item.Abstract.Ptr(),
		Author:        item.Author.Ptr(),
		Publisher:     item.Publisher.Ptr(),
		YearPublished: item.PublishYear.Ptr(),
		Volume:        item.Volume.Ptr(),
		Issue:         item.Issue.Ptr(),
		Language:      item.LangCode.Ptr(),
		Country:       item.CountryCode.Ptr(),
		HasECopy:      item.ECount.Truthy(),
		DOI:           item.DOI.Ptr(),
		DocType:       item.DocName.Ptr(),
		Subject:       item.SubjectWord.Ptr(),
	}
	switch {
	case item.ISBNs.IsList:
		joined := strings.Join(item.ISBNs.Items, listSeparator)
		rec.ISBNs = &joined
	case item.ISBNs.Valid:
		text := item.ISBNs.Text
		rec.ISBNs = &text
	}
	switch {
	case item.SubjectClass.IsList && len(item.SubjectClass.Items) > 0:
		joined := strings.Join(item.SubjectClass.Items, listSeparator)
		rec.Tags = &joined
	case !item.SubjectClass.IsList && item.SubjectClass.Text != "":
		text := item.SubjectClass.Text
		rec.Tags = &text
	}
	// num_pages is an INTEGER column; values outside int32 are dropped.
	if item.PagesNum.Valid {
		if n, err := strconv.ParseInt(strings.TrimSpace(item.PagesNum.Value), 10, 32); err == nil {
			pages := int(n)
			rec.NumPages = &pages
		}
	}
	return rec, nil
}

// Scalar captures a JSON string, number, or boolean as text. The endpoint is
// inconsistent about quoting numeric fields, so both forms are accepted.
type Scalar struct {
	Value string
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = Scalar{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("decode scalar: %w", err)
		}
		*s = Scalar{Value: str, Valid: true}
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var list StringList
		if err := list.UnmarshalJSON(data); err != nil {
			return err
		}
		*s = Scalar{Value: strings.Join(list.Items, listSeparator), Valid: true}
		return nil
	}
	*s = Scalar{Value: string(data), Valid: true}
	return nil
}

// Ptr returns a pointer to the value, or nil when absent.
func (s Scalar) Ptr() *string {
	if !s.Valid {
		return nil
	}
	v := s.Value
	return &v
}

// Truthy reports whether the value is a nonzero number, or for non-numeric
// text, whether it is non-empty.
func (s Scalar) Truthy() bool {
	if !s.Valid {
		return false
	}
	v := strings.TrimSpace(s.Value)
	if v == "" || v == "false" {
		return false
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f != 0
	}
	return true
}

// StringList decodes a field that may be null, a single string, or a list.
type StringList struct {
	Items  []string
	Text   string
	IsList bool
	Valid  bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = StringList{}
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decode list: %w", err)
		}
		items := make([]string, 0, len(raw))
		for _, elem := range raw {
			var sc Scalar
			if err := sc.UnmarshalJSON(elem); err != nil {
				return err
			}
			if sc.Valid {
				items = append(items, sc.Value)
			}
		}
		*l = StringList{Items: items, IsList: true, Valid: true}
		return nil
	}
	var sc Scalar
	if err := sc.UnmarshalJSON(data); err != nil {
		return err
	}
	*l = StringList{Text: sc.Value, Valid: sc.Valid}
	return nil
}
