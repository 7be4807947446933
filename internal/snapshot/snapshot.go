// Package snapshot persists the set of alerts active at the end of a
// reconciliation cycle, keyed by alert id.
package snapshot

import (
	"context"
	"time"

	"github.com/pcmlabs/alertwatch/internal/alert"
)

// Store loads and replaces the persisted alert mapping. Load must treat
// an absent or corrupt document as an empty mapping and reserve its
// error return for genuine storage failures; callers absorb even those
// by degrading to an empty prior snapshot. Save replaces the document
// wholesale.
//
// Implementations are not safe against concurrent cycles over the same
// location; the caller must not overlap runs.
type Store interface {
	Load(ctx context.Context) (map[string]alert.Record, error)
	Save(ctx context.Context, records map[string]alert.Record) error
	Close() error
}

// CycleInfo is one audit row describing a finished reconciliation cycle.
type CycleInfo struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Active    int
	New       int
	Updated   int
	Resolved  int
	Changed   bool
	Error     string
}

// CycleRecorder is implemented by stores that keep a bounded cycle
// audit trail. Recording is best-effort.
type CycleRecorder interface {
	RecordCycle(ctx context.Context, info CycleInfo) error
}
