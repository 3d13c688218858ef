package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the harvest_runs status column.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// ParseRunStatus accepts the stored names plus a few aliases.
func ParseRunStatus(input string) (RunStatus, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "running":
		return RunRunning, nil
	case "success", "succeeded", "done":
		return RunSuccess, nil
	case "error", "failed", "failure":
		return RunError, nil
	default:
		return "", fmt.Errorf("invalid status %q", input)
	}
}

// Run is one institution harvest as seen by the status API.
type Run struct {
	ID              uuid.UUID
	Institution     string
	Mode            string
	Status          RunStatus
	StartedAt       time.Time
	FinishedAt      *time.Time
	PagesPlanned    int
	PagesDone       int64
	PagesFailed     int64
	RecordsInserted int64
	ErrorMessage    *string
	UpdatedAt       time.Time
}

// PageDelta accumulates page completions between two repository writes.
type PageDelta struct {
	Done     int64
	Failed   int64
	Inserted int64
	At       time.Time
}

// Empty reports whether the delta carries no change.
func (d PageDelta) Empty() bool {
	return d.Done == 0 && d.Failed == 0 && d.Inserted == 0
}

// RunRepository persists run progress.
type RunRepository interface {
	// StartRun inserts the run, or leaves an existing row untouched.
	StartRun(ctx context.Context, id uuid.UUID, institution, mode string, startedAt time.Time) error
	// SetPagesPlanned records how many pages the run will process.
	SetPagesPlanned(ctx context.Context, id uuid.UUID, pages int) error
	// AddPages applies a page delta.
	AddPages(ctx context.Context, id uuid.UUID, delta PageDelta) error
	// CompleteRun marks the run finished with status and optional error.
	CompleteRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// GetRun loads a run or returns ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	// ListRuns returns runs newest first, optionally filtered by status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
