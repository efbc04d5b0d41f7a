package stores

import (
	"context"
	"time"

	"github.com/robocore/robocore/pkg/engine"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is one OpMode activation as recorded in the journal.
type Run struct {
	ID        string         `json:"id"`
	OpMode    string         `json:"opmode"`
	Variant   engine.Variant `json:"variant"`
	State     engine.State   `json:"state"`
	Outcome   engine.Outcome `json:"outcome,omitempty"`
	Error     *string        `json:"error,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	StoppedAt *time.Time     `json:"stopped_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Duration is the time from init to stop, or zero while the run is live.
func (r *Run) Duration() time.Duration {
	if r.StoppedAt == nil {
		return 0
	}
	return r.StoppedAt.Sub(r.StartedAt)
}

// Transition is one lifecycle state change of a run.
type Transition struct {
	ID    int64        `json:"id"`
	RunID string       `json:"run_id"`
	From  engine.State `json:"from"`
	To    engine.State `json:"to"`
	At    time.Time    `json:"at"`
}

// Event represents an append-only log event
type Event struct {
	ID        int64      `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	OpMode  string
	Outcome engine.Outcome
	Since   time.Time
	Limit   int
	Offset  int
}

// Stats summarises the journal.
type Stats struct {
	Runs      int                    `json:"runs"`
	ByOutcome map[engine.Outcome]int `json:"by_outcome"`
	Live      int                    `json:"live"`
}

// Store defines the interface for the persistence layer
type Store interface {
	engine.Journal

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run history
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	ListTransitions(ctx context.Context, runID string) ([]*Transition, error)
	DeleteRun(ctx context.Context, id string) error
	PruneRuns(ctx context.Context, before time.Time) (int64, error)
	Stats(ctx context.Context) (*Stats, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
