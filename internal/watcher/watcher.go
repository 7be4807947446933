// Package watcher drives the reconciliation cycle: fetch active
// problems, normalize, diff against the persisted snapshot, emit change
// events and conditionally write the new snapshot back.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/pcmlabs/alertwatch/internal/alert"
	"github.com/pcmlabs/alertwatch/internal/config"
	"github.com/pcmlabs/alertwatch/internal/emit"
	"github.com/pcmlabs/alertwatch/internal/reconcile"
	"github.com/pcmlabs/alertwatch/internal/snapshot"
	"github.com/pcmlabs/alertwatch/internal/zabbix"
)

// Source is the subset of the Zabbix client the watcher consumes.
type Source interface {
	Login(ctx context.Context) (string, error)
	ActiveTriggers(ctx context.Context, token string) ([]zabbix.Trigger, error)
	Logout(ctx context.Context, token string) error
}

// Options configures the watcher service.
type Options struct {
	Label        string
	Schedule     string
	OnFetchError string
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// CycleStats summarizes one finished cycle.
type CycleStats struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Active    int
	New       int
	Updated   int
	Resolved  int
	Changed   bool
}

// Service runs cycles, either one-shot via Run or on a cron schedule
// via Start/Stop. A single Service never overlaps cycles: the schedule
// skips a tick while a cycle is still in flight. Distinct processes
// sharing one snapshot location must be serialized by the operator.
type Service struct {
	source  Source
	store   snapshot.Store
	emitter emit.Emitter
	opts    Options

	startOnce sync.Once
	stopOnce  sync.Once
	cron      *cron.Cron
	runMu     sync.Mutex
}

// New creates a watcher service.
func New(source Source, store snapshot.Store, emitter emit.Emitter, opts Options) *Service {
	if opts.Label == "" {
		opts.Label = "Unknown-VM"
	}
	if opts.Schedule == "" {
		opts.Schedule = "@every 1m"
	}
	if opts.OnFetchError == "" {
		opts.OnFetchError = config.OnFetchErrorAbort
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		source:  source,
		store:   store,
		emitter: emitter,
		opts:    opts,
	}
}

// Run executes one full reconciliation cycle. The returned error is a
// cycle-level warning condition (fetch aborted, snapshot write failed);
// emitted events stand regardless.
func (s *Service) Run(ctx context.Context) (CycleStats, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.cycle(ctx)
}

func (s *Service) cycle(ctx context.Context) (stats CycleStats, cycleErr error) {
	started := time.Now()
	stats = CycleStats{
		ID:        uuid.NewString(),
		StartedAt: s.opts.Now().UTC(),
	}
	defer func() {
		stats.Duration = time.Since(started)
		s.recordCycle(ctx, stats, cycleErr)
	}()

	current, fetchErr := s.fetch(ctx)
	if fetchErr != nil {
		if s.opts.OnFetchError == config.OnFetchErrorResolveAll {
			// Degraded mode: a failed fetch counts as "no active
			// alerts", so everything previously active resolves. A
			// transient outage will look like mass resolution.
			slog.Warn("fetch failed, treating alert list as empty",
				"cycle", stats.ID, "err", fetchErr)
			current = map[string]alert.Record{}
		} else {
			slog.Warn("fetch failed, aborting cycle without snapshot write",
				"cycle", stats.ID, "err", fetchErr)
			return stats, fmt.Errorf("fetch: %w", fetchErr)
		}
	}
	stats.Active = len(current)

	prior, err := s.store.Load(ctx)
	if err != nil {
		// Degrade to an empty history: every current alert reports NEW.
		slog.Warn("snapshot load failed, treating history as empty",
			"cycle", stats.ID, "err", err)
		prior = map[string]alert.Record{}
	}

	result := reconcile.Reconcile(current, prior)
	stats.Changed = result.Changed
	for _, ev := range result.Events {
		switch ev.Kind {
		case alert.KindNew:
			stats.New++
		case alert.KindUpdated:
			stats.Updated++
		case alert.KindResolved:
			stats.Resolved++
		}
		if err := s.emitter.Emit(ctx, ev); err != nil {
			slog.Warn("emit failed", "cycle", stats.ID, "kind", ev.Kind,
				"id", ev.Record.ID, "err", err)
		}
	}

	var saveErr error
	if result.Changed {
		if err := s.store.Save(ctx, result.Snapshot); err != nil {
			// Events already went out; only the next cycle's baseline
			// is affected.
			slog.Warn("snapshot save failed", "cycle", stats.ID, "err", err)
			saveErr = fmt.Errorf("save snapshot: %w", err)
		}
	}

	slog.Info("cycle finished",
		"cycle", stats.ID,
		"active", stats.Active,
		"new", stats.New,
		"updated", stats.Updated,
		"resolved", stats.Resolved,
		"changed", stats.Changed,
	)
	return stats, saveErr
}

// fetch logs in, retrieves active triggers, normalizes them, and logs
// out best-effort. Records missing an identifier are skipped with a
// warning rather than failing the cycle.
func (s *Service) fetch(ctx context.Context) (map[string]alert.Record, error) {
	token, err := s.source.Login(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.source.Logout(ctx, token); err != nil {
			slog.Debug("logout failed", "err", err)
		}
	}()

	triggers, err := s.source.ActiveTriggers(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.opts.Now()
	current := make(map[string]alert.Record, len(triggers))
	for _, t := range triggers {
		rec, ok := alert.Normalize(t, now, s.opts.Label)
		if !ok {
			slog.Warn("skipping trigger without identifier", "description", t.Description)
			continue
		}
		current[rec.ID] = rec
	}
	return current, nil
}

func (s *Service) recordCycle(ctx context.Context, stats CycleStats, cycleErr error) {
	recorder, ok := s.store.(snapshot.CycleRecorder)
	if !ok {
		return
	}
	info := snapshot.CycleInfo{
		ID:        stats.ID,
		StartedAt: stats.StartedAt,
		Duration:  stats.Duration,
		Active:    stats.Active,
		New:       stats.New,
		Updated:   stats.Updated,
		Resolved:  stats.Resolved,
		Changed:   stats.Changed,
	}
	if cycleErr != nil {
		info.Error = cycleErr.Error()
	}
	if err := recorder.RecordCycle(ctx, info); err != nil {
		slog.Debug("cycle audit write failed", "cycle", stats.ID, "err", err)
	}
}

// Start runs an initial cycle, then schedules subsequent cycles with
// the configured cron expression. Ticks that fire while a cycle is in
// flight are skipped.
func (s *Service) Start(ctx context.Context) error {
	var startErr error
	s.startOnce.Do(func() {
		if _, err := cron.ParseStandard(s.opts.Schedule); err != nil {
			startErr = fmt.Errorf("invalid schedule %q: %w", s.opts.Schedule, err)
			return
		}

		if _, err := s.Run(ctx); err != nil {
			slog.Warn("initial cycle failed", "err", err)
		}

		s.cron = cron.New()
		_, err := s.cron.AddFunc(s.opts.Schedule, func() {
			if !s.runMu.TryLock() {
				slog.Debug("previous cycle still running, skipping tick")
				return
			}
			defer s.runMu.Unlock()
			if _, err := s.cycle(ctx); err != nil {
				slog.Warn("cycle failed", "err", err)
			}
		})
		if err != nil {
			startErr = fmt.Errorf("schedule cycles: %w", err)
			return
		}
		s.cron.Start()
	})
	return startErr
}

// Stop halts the schedule and waits for an in-flight cycle, up to ctx.
func (s *Service) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		if s.cron == nil {
			return
		}
		done := s.cron.Stop().Done()
		select {
		case <-done:
		case <-ctx.Done():
		}
	})
}
