// Package planner decomposes an institution's catalog into partitions whose
// match counts fit under the endpoint's retrievable cap, and enumerates the
// pages of each partition.
//
// Planning starts from the facet values reported by one count-only query.
// Each (dimension, value) pair seeds a worklist entry. Entries whose count
// exceeds the cap are refined along the remaining axes (publication year,
// then sort key, then sort direction) until they fit or no axis is left.
package planner

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// Axis is a refinement applied to a partition that is over the cap.
type Axis int

// Refinement axes, applied in this order.
const (
	AxisYear Axis = iota
	AxisSort
	AxisDirection
)

func (a Axis) String() string {
	switch a {
	case AxisYear:
		return "year"
	case AxisSort:
		return "sort"
	case AxisDirection:
		return "direction"
	default:
		return "axis(" + strconv.Itoa(int(a)) + ")"
	}
}

// DefaultAxes returns the refinement order used by Plan.
func DefaultAxes() []Axis {
	return []Axis{AxisYear, AxisSort, AxisDirection}
}

// State is one worklist entry: a query still to be sized and the axes it
// may yet be refined along.
type State struct {
	Query     catalog.SearchQuery
	Remaining []Axis
	Trail     []string
}

// Emit receives each page task produced by planning. It may block.
type Emit func(task catalog.PageTask) error

// FacetValue is one value of a dimension and its reported frequency.
type FacetValue struct {
	Value string
	Count int
}

// Discovery is the result of the facet query.
type Discovery struct {
	Total  int
	Values map[catalog.Dimension][]FacetValue
}

// Summary describes a planning run.
type Summary struct {
	Partitions   map[catalog.PartitionState]int
	PagesEmitted int
	// FacetQueries counts discovery requests; CountQueries counts partition
	// counts sent to the endpoint, CachedCounts those served by the cache.
	FacetQueries int
	CountQueries int
	CachedCounts int
}

func newSummary() Summary {
	return Summary{Partitions: make(map[catalog.PartitionState]int)}
}

func (s *Summary) merge(other Summary) {
	for state, n := range other.Partitions {
		s.Partitions[state] += n
	}
	s.PagesEmitted += other.PagesEmitted
	s.FacetQueries += other.FacetQueries
	s.CountQueries += other.CountQueries
	s.CachedCounts += other.CachedCounts
}

// Config holds planning limits.
type Config struct {
	RetrievableCap int
	PageSize       int
	MaxPages       int
	YearFrom       int
	YearTo         int
	SortKeys       []catalog.SortKey
	Directions     []catalog.SortDirection
	Dimensions     []catalog.Dimension
}

func (c Config) withDefaults() Config {
	if c.RetrievableCap <= 0 {
		c.RetrievableCap = 10000
	}
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.MaxPages <= 0 {
		c.MaxPages = c.RetrievableCap / c.PageSize
	}
	if len(c.Dimensions) == 0 {
		c.Dimensions = catalog.AllDimensions()
	}
	return c
}

// Option configures a Planner.
type Option func(*Planner)

// WithCountCache memoizes partition counts.
func WithCountCache(cache catalog.CountCache) Option {
	return func(p *Planner) {
		p.cache = cache
	}
}

// Planner sizes partitions and emits page tasks.
type Planner struct {
	searcher catalog.Searcher
	cache    catalog.CountCache
	cfg      Config
	logger   *zap.Logger
}

// New creates a Planner.
func New(searcher catalog.Searcher, cfg Config, logger *zap.Logger, opts ...Option) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Planner{
		searcher: searcher,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PageBound returns how many pages of a sized partition are fetched.
func PageBound(count, retrievableCap, pageSize, maxPages int) int {
	if count <= 0 || pageSize <= 0 {
		return 0
	}
	if retrievableCap > 0 && count > retrievableCap {
		count = retrievableCap
	}
	pages := (count + pageSize - 1) / pageSize
	if maxPages > 0 && pages > maxPages {
		pages = maxPages
	}
	return pages
}

// Discover issues one count-only query for base and returns the values of
// every configured dimension, most frequent first, ties broken by value.
func (p *Planner) Discover(ctx context.Context, base catalog.SearchQuery) (Discovery, error) {
	res, err := p.searcher.Search(ctx, base.AsCount())
	if err != nil {
		return Discovery{}, fmt.Errorf("discover facets: %w", err)
	}
	out := Discovery{Total: res.Count, Values: make(map[catalog.Dimension][]FacetValue)}
	for _, d := range p.cfg.Dimensions {
		freqs := res.Facets[d.Key()]
		if len(freqs) == 0 {
			continue
		}
		values := make([]FacetValue, 0, len(freqs))
		for value, n := range freqs {
			if value == "" || n <= 0 {
				continue
			}
			values = append(values, FacetValue{Value: value, Count: n})
		}
		sort.Slice(values, func(i, j int) bool {
			if values[i].Count != values[j].Count {
				return values[i].Count > values[j].Count
			}
			return values[i].Value < values[j].Value
		})
		out.Values[d] = values
	}
	return out, nil
}

// Seed builds the initial worklist: one entry per discovered (dimension,
// value) pair in configured dimension order. When nothing was discovered but
// the base query matches records, base itself is the only entry.
func (p *Planner) Seed(base catalog.SearchQuery, discovery Discovery) []State {
	var out []State
	for _, d := range p.cfg.Dimensions {
		for _, fv := range discovery.Values[d] {
			out = append(out, State{
				Query:     base.WithFilter(d, fv.Value),
				Remaining: DefaultAxes(),
				Trail:     []string{d.Key() + "=" + fv.Value},
			})
		}
	}
	if len(out) == 0 && discovery.Total > 0 {
		out = append(out, State{Query: base.Clone(), Remaining: DefaultAxes()})
	}
	return out
}

// Plan discovers facet values for base and runs the resulting worklist.
func (p *Planner) Plan(ctx context.Context, base catalog.SearchQuery, emit Emit) (Summary, error) {
	discovery, err := p.Discover(ctx, base)
	if err != nil {
		return newSummary(), err
	}
	worklist := p.Seed(base, discovery)
	p.logger.Info("planning partitions",
		zap.String("institution", base.Abbrev),
		zap.Int("total", discovery.Total),
		zap.Int("seeds", len(worklist)),
	)
	summary := newSummary()
	summary.FacetQueries = 1
	run, err := p.Run(ctx, worklist, emit)
	summary.merge(run)
	return summary, err
}

// Run processes worklist as a stack, in the given order. Count failures and
// emit failures abort planning.
func (p *Planner) Run(ctx context.Context, worklist []State, emit Emit) (Summary, error) {
	summary := newSummary()
	stack := make([]State, 0, len(worklist))
	for i := len(worklist) - 1; i >= 0; i-- {
		stack = append(stack, worklist[i])
	}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("planning interrupted: %w", err)
		}
		state := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		count, cached, err := p.count(ctx, state.Query)
		if err != nil {
			return summary, fmt.Errorf("count partition %s: %w", state.Query.Label(), err)
		}
		if cached {
			summary.CachedCounts++
		} else {
			summary.CountQueries++
		}

		var children []State
		if count > p.cfg.RetrievableCap {
			children = p.refine(state)
		}
		part := catalog.Partition{
			Query: state.Query,
			Count: count,
			State: classify(count, p.cfg.RetrievableCap, len(children) > 0),
		}
		summary.Partitions[part.State]++
		metrics.ObservePartition(state.Query.Abbrev, string(part.State))

		switch part.State {
		case catalog.PartitionEmpty:
			continue
		case catalog.PartitionLarge:
			p.logger.Debug("refining partition",
				zap.String("institution", state.Query.Abbrev),
				zap.String("partition", part.Label()),
				zap.Int("count", count),
				zap.Int("children", len(children)),
			)
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, children[i])
			}
			continue
		case catalog.PartitionExhausted:
			p.logger.Warn("partition exceeds retrievable cap under every refinement",
				zap.String("institution", state.Query.Abbrev),
				zap.String("partition", part.Label()),
				zap.Int("count", count),
				zap.Int("cap", p.cfg.RetrievableCap),
			)
		}

		pages := PageBound(count, p.cfg.RetrievableCap, p.cfg.PageSize, p.cfg.MaxPages)
		for page := 1; page <= pages; page++ {
			if err := emit(catalog.PageTask{Partition: part, Page: page}); err != nil {
				return summary, fmt.Errorf("emit %s page %d: %w", part.Label(), page, err)
			}
			summary.PagesEmitted++
		}
	}
	return summary, nil
}

func classify(count, retrievableCap int, refinable bool) catalog.PartitionState {
	switch {
	case count <= 0:
		return catalog.PartitionEmpty
	case count <= retrievableCap:
		return catalog.PartitionSmall
	case refinable:
		return catalog.PartitionLarge
	default:
		return catalog.PartitionExhausted
	}
}

// refine returns the children of state along its next applicable axis.
// Axes that cannot split the query (no configured values, or a direction
// without a sort key) are skipped.
func (p *Planner) refine(state State) []State {
	for i, axis := range state.Remaining {
		rest := state.Remaining[i+1:]
		var children []State
		switch axis {
		case AxisYear:
			if p.cfg.YearFrom == 0 && p.cfg.YearTo == 0 {
				continue
			}
			for year := p.cfg.YearFrom; year <= p.cfg.YearTo; year++ {
				children = append(children, child(state, state.Query.WithYear(year, year), rest, "year="+strconv.Itoa(year)))
			}
		case AxisSort:
			for _, key := range p.cfg.SortKeys {
				children = append(children, child(state, state.Query.WithSort(key, ""), rest, "sort="+string(key)))
			}
		case AxisDirection:
			if state.Query.Sort == "" {
				continue
			}
			for _, dir := range p.cfg.Directions {
				children = append(children, child(state, state.Query.WithSort(state.Query.Sort, dir), rest, "direction="+string(dir)))
			}
		}
		if len(children) > 0 {
			return children
		}
	}
	return nil
}

func child(parent State, q catalog.SearchQuery, rest []Axis, step string) State {
	trail := make([]string, len(parent.Trail), len(parent.Trail)+1)
	copy(trail, parent.Trail)
	return State{
		Query:     q,
		Remaining: append([]Axis(nil), rest...),
		Trail:     append(trail, step),
	}
}

func (p *Planner) count(ctx context.Context, q catalog.SearchQuery) (int, bool, error) {
	key := countKey(q)
	if p.cache != nil {
		n, ok, err := p.cache.GetCount(ctx, key)
		switch {
		case err != nil:
			p.logger.Warn("count cache lookup failed", zap.String("partition", q.Label()), zap.Error(err))
		case ok:
			metrics.ObserveCountQuery(q.Abbrev, true)
			return n, true, nil
		}
	}

	res, err := p.searcher.Search(ctx, q.AsCount())
	if err != nil {
		return 0, false, err
	}
	metrics.ObserveCountQuery(q.Abbrev, false)

	if p.cache != nil {
		if err := p.cache.SetCount(ctx, key, res.Count); err != nil {
			p.logger.Warn("count cache store failed", zap.String("partition", q.Label()), zap.Error(err))
		}
	}
	return res.Count, false, nil
}

func countKey(q catalog.SearchQuery) string {
	return "count:" + q.Fingerprint()
}
