package harvest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
)

type catalogRecord struct {
	ID       int
	DocCode  string
	LangCode string
	Year     int
}

// servedPage is one page request answered with items results.
type servedPage struct {
	Page  int
	Items int
}

// catalogServer emulates the three LibSP endpoints over a fixed record set,
// enforcing a retrievable cap on paging like the real service does.
type catalogServer struct {
	records  []catalogRecord
	limit    int
	facets   []string
	searches atomic.Int64

	mu      sync.Mutex
	served  []servedPage
	failing map[int]bool
}

type catalogOption func(c *catalogServer, rec *catalogRecord)

// withOneDocCode files every record under docCode 1.
func withOneDocCode() catalogOption {
	return func(_ *catalogServer, rec *catalogRecord) {
		rec.DocCode = "1"
	}
}

// withLanguageFacets also reports langCode frequencies, so the same records
// are reachable through two dimensions.
func withLanguageFacets() catalogOption {
	return func(c *catalogServer, _ *catalogRecord) {
		if !slices.Contains(c.facets, "langCode") {
			c.facets = append(c.facets, "langCode")
		}
	}
}

func newCatalogServer(t *testing.T, total, limit int, opts ...catalogOption) (*catalogServer, *httptest.Server) {
	t.Helper()
	c := &catalogServer{limit: limit, facets: []string{"docCode"}, failing: make(map[int]bool)}
	for i := 1; i <= total; i++ {
		rec := catalogRecord{ID: i, DocCode: "1", LangCode: "chi", Year: 1990 + i%10}
		if i%2 == 0 {
			rec.DocCode = "2"
		}
		if i%3 == 0 {
			rec.LangCode = "eng"
		}
		for _, opt := range opts {
			opt(c, &rec)
		}
		c.records = append(c.records, rec)
	}
	srv := httptest.NewServer(c)
	t.Cleanup(srv.Close)
	return c, srv
}

func (c *catalogServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/find/groupResource/dict":
		writeData(w, map[string]any{
			"libCode":      []map[string]any{{"groupCode": 3000, "name": "East China Normal University"}},
			"docCode":      []map[string]any{{"code": "1"}, {"code": "2"}},
			"resourceType": []map[string]any{{"code": "a"}},
		})
	case "/find/unify/search":
		c.search(w, r)
	case "/find/ePortfolio/itemList":
		writeData(w, map[string]any{
			"list": []map[string]any{{"url": "https://read.example/" + r.URL.Query().Get("recordId")}},
		})
	default:
		http.NotFound(w, r)
	}
}

func (c *catalogServer) search(w http.ResponseWriter, r *http.Request) {
	c.searches.Add(1)
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	docCodes := stringList(body["docCode"])
	langCodes := stringList(body["langCode"])
	types := stringList(body["resourceType"])
	yearFrom, hasYear := body["publishYearStart"].(float64)
	yearTo, _ := body["publishYearEnd"].(float64)

	var matched []catalogRecord
	for _, rec := range c.records {
		if len(docCodes) > 0 && !slices.Contains(docCodes, rec.DocCode) {
			continue
		}
		if len(langCodes) > 0 && !slices.Contains(langCodes, rec.LangCode) {
			continue
		}
		if len(types) > 0 && !slices.Contains(types, "a") {
			continue
		}
		if hasYear && (rec.Year < int(yearFrom) || rec.Year > int(yearTo)) {
			continue
		}
		matched = append(matched, rec)
	}

	rows := int(body["rows"].(float64))
	if rows == 0 {
		stats := map[string]any{}
		for _, key := range c.facets {
			freqs := map[string]int{}
			for _, rec := range matched {
				if key == "langCode" {
					freqs[rec.LangCode]++
				} else {
					freqs[rec.DocCode]++
				}
			}
			stats[key] = freqs
		}
		writeData(w, map[string]any{
			"numFound":     len(matched),
			"searchResult": []any{},
			"stats":        stats,
		})
		return
	}

	page := int(body["page"].(float64))
	c.mu.Lock()
	fail := c.failing[page]
	c.mu.Unlock()
	if fail {
		c.record(page, 0)
		writeJSON(w, map[string]any{"success": false, "message": "search backend unavailable"})
		return
	}

	items := []map[string]any{}
	start := (page - 1) * rows
	end := min(start+rows, len(matched), c.limit)
	for i := start; i < end; i++ {
		rec := matched[i]
		eCount := 0
		if rec.ID%10 == 0 {
			eCount = 1
		}
		items = append(items, map[string]any{
			"recordId":    rec.ID,
			"title":       fmt.Sprintf("Record %d", rec.ID),
			"publishYear": rec.Year,
			"docName":     rec.DocCode,
			"eCount":      eCount,
		})
	}
	c.record(page, len(items))
	writeData(w, map[string]any{"numFound": len(matched), "searchResult": items})
}

func (c *catalogServer) record(page, items int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.served = append(c.served, servedPage{Page: page, Items: items})
}

func (c *catalogServer) failPage(page int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing[page] = true
}

func (c *catalogServer) fetchedPages() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, 0, len(c.served))
	for _, sp := range c.served {
		out = append(out, sp.Page)
	}
	slices.Sort(out)
	return out
}

// servedPages returns page requests ordered by page number.
func (c *catalogServer) servedPages() []servedPage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := slices.Clone(c.served)
	slices.SortFunc(out, func(a, b servedPage) int { return a.Page - b.Page })
	return out
}

// itemsServed sums the results returned across every page request.
func (c *catalogServer) itemsServed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, sp := range c.served {
		n += sp.Items
	}
	return n
}

func stringList(v any) []string {
	raw, _ := v.([]any)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, map[string]any{"success": true, "message": "ok", "data": data})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
