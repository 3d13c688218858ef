package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DefaultKeyword matches every record.
const DefaultKeyword = "*"

// SortKey selects the ordering the endpoint applies before paginating.
type SortKey string

// Sort keys understood by the endpoint.
const (
	SortRelevance SortKey = "relevance"
	SortIssued    SortKey = "issued_sort"
	SortClassNo   SortKey = "class_no_sort_s"
)

// Valid reports whether k is a known sort key.
func (k SortKey) Valid() bool {
	switch k {
	case SortRelevance, SortIssued, SortClassNo:
		return true
	}
	return false
}

// SortDirection orders a sort key ascending or descending.
type SortDirection string

// Sort directions understood by the endpoint.
const (
	DirectionAsc  SortDirection = "asc"
	DirectionDesc SortDirection = "desc"
)

// Valid reports whether d is a known direction.
func (d SortDirection) Valid() bool {
	return d == DirectionAsc || d == DirectionDesc
}

// SearchQuery describes one request against an institution's search endpoint.
// Refinement methods return modified copies; a SearchQuery is never mutated
// once built, so it can be shared between the planner and in-flight workers.
type SearchQuery struct {
	InstitutionID int
	Abbrev        string
	Keyword       string
	YearFrom      int
	YearTo        int
	Sort          SortKey
	Direction     SortDirection
	Page          int
	PageSize      int
	CountOnly     bool

	filters [dimensionCount][]string
}

// NewQuery builds the unconstrained query for an institution.
func NewQuery(inst Institution, pageSize int) SearchQuery {
	return SearchQuery{
		InstitutionID: inst.ID,
		Abbrev:        inst.Abbrev,
		Keyword:       DefaultKeyword,
		Page:          1,
		PageSize:      pageSize,
	}
}

// Clone returns a deep copy of q.
func (q SearchQuery) Clone() SearchQuery {
	out := q
	for i, values := range q.filters {
		out.filters[i] = cloneStrings(values)
	}
	return out
}

// Values returns a copy of the allowed values for a dimension.
func (q SearchQuery) Values(d Dimension) []string {
	if !d.Valid() {
		return nil
	}
	return cloneStrings(q.filters[d])
}

// WithFilter returns a copy of q constrained to the given values of d.
// Passing no values removes the constraint.
func (q SearchQuery) WithFilter(d Dimension, values ...string) SearchQuery {
	out := q.Clone()
	if d.Valid() {
		out.filters[d] = cloneStrings(values)
	}
	return out
}

// ActiveFilters lists the dimensions that currently carry a constraint.
func (q SearchQuery) ActiveFilters() []Dimension {
	var out []Dimension
	for i, values := range q.filters {
		if len(values) > 0 {
			out = append(out, Dimension(i))
		}
	}
	return out
}

// WithYear returns a copy of q restricted to publication years [from, to].
func (q SearchQuery) WithYear(from, to int) SearchQuery {
	out := q.Clone()
	out.YearFrom = from
	out.YearTo = to
	return out
}

// HasYear reports whether a publication-year constraint is set.
func (q SearchQuery) HasYear() bool {
	return q.YearFrom != 0 || q.YearTo != 0
}

// WithSort returns a copy of q ordered by key and direction. An empty
// direction leaves the endpoint default in place.
func (q SearchQuery) WithSort(key SortKey, dir SortDirection) SearchQuery {
	out := q.Clone()
	out.Sort = key
	out.Direction = dir
	return out
}

// WithPage returns a copy of q addressing the given 1-based page.
func (q SearchQuery) WithPage(page int) SearchQuery {
	out := q.Clone()
	out.Page = page
	out.CountOnly = false
	return out
}

// AsCount returns a copy of q in count-only mode.
func (q SearchQuery) AsCount() SearchQuery {
	out := q.Clone()
	out.CountOnly = true
	out.Page = 1
	return out
}

// Label renders the partition-identifying constraints for logs.
func (q SearchQuery) Label() string {
	var parts []string
	for _, d := range q.ActiveFilters() {
		parts = append(parts, fmt.Sprintf("%s=%s", d.Key(), strings.Join(q.filters[d], "|")))
	}
	if q.HasYear() {
		if q.YearFrom == q.YearTo {
			parts = append(parts, fmt.Sprintf("year=%d", q.YearFrom))
		} else {
			parts = append(parts, fmt.Sprintf("year=%d-%d", q.YearFrom, q.YearTo))
		}
	}
	if q.Sort != "" {
		sort := string(q.Sort)
		if q.Direction != "" {
			sort += ":" + string(q.Direction)
		}
		parts = append(parts, "sort="+sort)
	}
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, " ")
}

// Fingerprint identifies the result set of q independent of the page being
// addressed, for caching count responses.
func (q SearchQuery) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%d|%d|%s|%s", q.InstitutionID, q.Abbrev, q.Keyword, q.YearFrom, q.YearTo, q.Sort, q.Direction)
	for i, values := range q.filters {
		if len(values) == 0 {
			continue
		}
		fmt.Fprintf(h, "|%s=%s", Dimension(i).Key(), strings.Join(values, "\x1f"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func cloneStrings(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}
