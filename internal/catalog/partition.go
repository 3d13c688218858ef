package catalog

import "fmt"

// PartitionState tracks how far a partition has progressed through planning.
type PartitionState string

// Partition states.
const (
	PartitionUnsized   PartitionState = "unsized"
	PartitionEmpty     PartitionState = "empty"
	PartitionSmall     PartitionState = "small"
	PartitionLarge     PartitionState = "large"
	PartitionExhausted PartitionState = "exhausted"
)

// Terminal reports whether no further refinement happens from this state.
func (s PartitionState) Terminal() bool {
	switch s {
	case PartitionEmpty, PartitionSmall, PartitionExhausted:
		return true
	}
	return false
}

// Partition is a constrained subset of an institution's records together with
// its measured match count.
type Partition struct {
	Query SearchQuery
	Count int
	State PartitionState
}

// Label identifies the partition in logs.
func (p Partition) Label() string {
	return p.Query.Label()
}

// PageTask addresses one page of a sized partition.
type PageTask struct {
	Partition Partition
	Page      int
}

// Query returns the request that fetches this page.
func (t PageTask) Query() SearchQuery {
	return t.Partition.Query.WithPage(t.Page)
}

// String implements fmt.Stringer.
func (t PageTask) String() string {
	return fmt.Sprintf("%s page=%d", t.Partition.Label(), t.Page)
}
