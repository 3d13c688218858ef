package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event reports.
type Stage string

// Run lifecycle and page stages.
const (
	StageRunStart Stage = "RUN_START"
	StagePlanDone Stage = "PLAN_DONE"
	StagePageDone Stage = "PAGE_DONE"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"
)

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	return s == StageRunDone || s == StageRunError
}

// Event is one progress milestone of an institution run.
type Event struct {
	// RunID is the 16-byte form of the run's UUID.
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// Institution is the abbreviation of the institution being harvested.
	Institution string
	Mode        string
	// Partition and Page locate a PAGE_DONE event.
	Partition string
	Page      int
	// Pages is the number of pages planned, set on PLAN_DONE.
	Pages    int
	Inserted int64
	// Outcome is one of the metrics page outcomes for PAGE_DONE.
	Outcome string
	Dur     time.Duration
	Note    string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Institution == "" {
		return errors.New("institution is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StagePlanDone:
		if e.Pages < 0 {
			return errors.New("planned pages must be >= 0")
		}
	case StagePageDone:
		if e.Page <= 0 {
			return errors.New("page done requires a page number")
		}
		if e.Outcome == "" {
			return errors.New("page done requires an outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID back to a uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
