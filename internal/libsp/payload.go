package libsp

import (
	"encoding/json"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
)

// Request body keys for the publication-year range and ordering.
const (
	fieldKeyword   = "searchFieldContent"
	fieldPage      = "page"
	fieldRows      = "rows"
	fieldYearStart = "publishYearStart"
	fieldYearEnd   = "publishYearEnd"
	fieldSortField = "sortField"
	fieldSortOrder = "sortClause"
)

// searchPayload renders a query as the unify/search request body. Each active
// dimension becomes a list-valued field named after the dimension key.
func searchPayload(q catalog.SearchQuery) map[string]any {
	keyword := q.Keyword
	if keyword == "" {
		keyword = catalog.DefaultKeyword
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	rows := q.PageSize
	if q.CountOnly {
		rows = 0
	}
	payload := map[string]any{
		fieldKeyword: keyword,
		fieldPage:    page,
		fieldRows:    rows,
	}
	for _, d := range q.ActiveFilters() {
		payload[d.Key()] = q.Values(d)
	}
	if q.HasYear() {
		payload[fieldYearStart] = q.YearFrom
		payload[fieldYearEnd] = q.YearTo
	}
	if q.Sort != "" {
		payload[fieldSortField] = string(q.Sort)
	}
	if q.Direction != "" {
		payload[fieldSortOrder] = string(q.Direction)
	}
	return payload
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type searchData struct {
	NumFound     int                       `json:"numFound"`
	SearchResult []catalog.RawItem         `json:"searchResult"`
	Stats        map[string]map[string]int `json:"stats"`
}

type dictEntry struct {
	Code      catalog.Scalar `json:"code"`
	GroupCode catalog.Scalar `json:"groupCode"`
	Name      string         `json:"name"`
}

type dictData struct {
	LibCode      []dictEntry `json:"libCode"`
	DocCode      []dictEntry `json:"docCode"`
	ResourceType []dictEntry `json:"resourceType"`
}

type itemListData struct {
	List []struct {
		URL string `json:"url"`
	} `json:"list"`
}

func codes(entries []dictEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Code.Valid && e.Code.Value != "" {
			out = append(out, e.Code.Value)
		}
	}
	return out
}
