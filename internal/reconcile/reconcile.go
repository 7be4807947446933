// Package reconcile computes the change set between the current cycle's
// alert mapping and the previously persisted snapshot.
package reconcile

import (
	"sort"

	"github.com/pcmlabs/alertwatch/internal/alert"
)

// Result is the outcome of one reconciliation pass. Snapshot is the
// mapping to persist for the next cycle: exactly the current set, with
// prior-only (resolved) entries dropped. Changed is true when at least
// one event was produced; callers use it to skip the snapshot write on
// an unchanged cycle.
type Result struct {
	Events   []alert.Event
	Changed  bool
	Snapshot map[string]alert.Record
}

// Reconcile classifies every alert in current against prior. A pure
// function of its inputs: a missing or empty prior mapping degrades to
// "everything is new", and an empty current mapping resolves everything
// previously active.
//
// Ordering: events for currently-active alerts precede RESOLVED events,
// and both groups are iterated in ascending id order, so output is
// deterministic run-to-run.
func Reconcile(current, prior map[string]alert.Record) Result {
	events := make([]alert.Event, 0, len(current))
	snapshot := make(map[string]alert.Record, len(current))

	for _, id := range sortedIDs(current) {
		rec := current[id]
		snapshot[id] = rec

		old, seen := prior[id]
		switch {
		case !seen:
			events = append(events, alert.Event{Kind: alert.KindNew, Record: rec})
		case changedSince(rec, old):
			events = append(events, alert.Event{Kind: alert.KindUpdated, Record: rec})
		}
	}

	for _, id := range sortedIDs(prior) {
		if _, active := current[id]; active {
			continue
		}
		events = append(events, alert.Event{Kind: alert.KindResolved, Record: prior[id]})
	}

	return Result{
		Events:   events,
		Changed:  len(events) > 0,
		Snapshot: snapshot,
	}
}

// changedSince compares only the change-relevant fields. Age changes
// every cycle by construction and is excluded; severity, host and the
// description halves are tied to the trigger's identity and do not flip
// without an opdata or acknowledgment change.
func changedSince(cur, old alert.Record) bool {
	return cur.Opdata != old.Opdata || cur.Acked != old.Acked
}

func sortedIDs(m map[string]alert.Record) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
