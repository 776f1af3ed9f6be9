// Package archive persists completed runs: the full ordered event log plus a
// rendered markdown transcript. Persistence is strictly post-hoc; nothing in
// the live streaming path depends on it.
package archive

import (
	"context"
	"time"

	"github.com/acauret/infrastructure-agent/event"
)

// Run is one completed task execution.
type Run struct {
	ID          string            `json:"id"`
	Prompt      string            `json:"prompt"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Events      []event.WireEvent `json:"events"`
	Transcript  string            `json:"transcript"`
}

// Store persists runs. Implementations live in archive/store.
type Store interface {
	// SaveRun writes a run, replacing any existing run with the same ID.
	SaveRun(ctx context.Context, run *Run) error
	// LoadRun returns a run by ID, or errors.ErrRunNotFound.
	LoadRun(ctx context.Context, id string) (*Run, error)
	// ListRuns returns the IDs of all stored runs, newest first.
	ListRuns(ctx context.Context) ([]string, error)
	// Close releases the store's resources.
	Close() error
}
