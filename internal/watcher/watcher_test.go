package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pcmlabs/alertwatch/internal/alert"
	"github.com/pcmlabs/alertwatch/internal/config"
	"github.com/pcmlabs/alertwatch/internal/snapshot"
	"github.com/pcmlabs/alertwatch/internal/zabbix"
)

type fakeSource struct {
	triggers  []zabbix.Trigger
	loginErr  error
	fetchErr  error
	logouts   int
	loggedOut string
}

func (f *fakeSource) Login(context.Context) (string, error) {
	if f.loginErr != nil {
		return "", f.loginErr
	}
	return "tok", nil
}

func (f *fakeSource) ActiveTriggers(_ context.Context, token string) ([]zabbix.Trigger, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.triggers, nil
}

func (f *fakeSource) Logout(_ context.Context, token string) error {
	f.logouts++
	f.loggedOut = token
	return nil
}

type fakeStore struct {
	mu      sync.Mutex
	prior   map[string]alert.Record
	saved   map[string]alert.Record
	saves   int
	loadErr error
	saveErr error
	cycles  []snapshot.CycleInfo
}

func (f *fakeStore) Load(context.Context) (map[string]alert.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.prior, nil
}

func (f *fakeStore) Save(_ context.Context, records map[string]alert.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = records
	return nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) RecordCycle(_ context.Context, info snapshot.CycleInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles = append(f.cycles, info)
	return nil
}

type collectingEmitter struct {
	mu     sync.Mutex
	events []alert.Event
}

func (c *collectingEmitter) Emit(_ context.Context, ev alert.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func fixedNow() time.Time { return time.Unix(1_700_000_000, 0) }

func trigger(id, desc, opdata string) zabbix.Trigger {
	return zabbix.Trigger{
		TriggerID:   id,
		Description: desc,
		Priority:    "4",
		Opdata:      opdata,
		Lastchange:  "1699999000",
		Hosts:       []zabbix.Host{{Name: "web01"}},
	}
}

func TestRunFirstCycleAllNew(t *testing.T) {
	t.Parallel()

	source := &fakeSource{triggers: []zabbix.Trigger{
		trigger("101", "CPU: load high", "CPU 90%"),
		trigger("202", "Disk full", ""),
	}}
	store := &fakeStore{}
	emitter := &collectingEmitter{}

	svc := New(source, store, emitter, Options{Label: "prod-vm", Now: fixedNow})
	stats, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.New != 2 || stats.Updated != 0 || stats.Resolved != 0 {
		t.Fatalf("stats = %+v, want 2 new", stats)
	}
	if !stats.Changed {
		t.Fatal("stats.Changed = false, want true")
	}
	if len(emitter.events) != 2 {
		t.Fatalf("emitted %d events, want 2", len(emitter.events))
	}
	if emitter.events[0].Record.ID != "101" || emitter.events[1].Record.ID != "202" {
		t.Fatalf("event order = %s, %s; want 101, 202",
			emitter.events[0].Record.ID, emitter.events[1].Record.ID)
	}
	if emitter.events[0].Record.SourceLabel != "prod-vm" {
		t.Fatalf("source label = %q, want prod-vm", emitter.events[0].Record.SourceLabel)
	}
	if store.saves != 1 || len(store.saved) != 2 {
		t.Fatalf("saves = %d, saved = %d records; want 1 save of 2", store.saves, len(store.saved))
	}
	if source.logouts != 1 || source.loggedOut != "tok" {
		t.Fatal("logout was not attempted with the session token")
	}
	if len(store.cycles) != 1 || store.cycles[0].New != 2 {
		t.Fatalf("cycle audit = %+v, want one row with 2 new", store.cycles)
	}
}

func TestRunUnchangedCycleSkipsSave(t *testing.T) {
	t.Parallel()

	triggers := []zabbix.Trigger{trigger("101", "CPU: load high", "CPU 90%")}
	source := &fakeSource{triggers: triggers}
	store := &fakeStore{}
	emitter := &collectingEmitter{}

	svc := New(source, store, emitter, Options{Now: fixedNow})
	if _, err := svc.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	store.prior = store.saved

	stats, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if stats.Changed {
		t.Fatal("unchanged cycle reported Changed = true")
	}
	if store.saves != 1 {
		t.Fatalf("saves = %d, want 1 (unchanged cycle must not rewrite)", store.saves)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("emitted %d events, want 1 (only the first cycle)", len(emitter.events))
	}
}

func TestRunUpdatedAndResolved(t *testing.T) {
	t.Parallel()

	prior := map[string]alert.Record{}
	for _, tr := range []zabbix.Trigger{
		trigger("101", "CPU: load high", "CPU 90%"),
		trigger("909", "Net: link down", "eth0"),
	} {
		rec, _ := alert.Normalize(tr, fixedNow(), "Unknown-VM")
		prior[rec.ID] = rec
	}

	source := &fakeSource{triggers: []zabbix.Trigger{
		trigger("101", "CPU: load high", "CPU 95%"),
	}}
	store := &fakeStore{prior: prior}
	emitter := &collectingEmitter{}

	svc := New(source, store, emitter, Options{Now: fixedNow})
	stats, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.Updated != 1 || stats.Resolved != 1 || stats.New != 0 {
		t.Fatalf("stats = %+v, want 1 updated and 1 resolved", stats)
	}
	if emitter.events[0].Kind != alert.KindUpdated {
		t.Fatalf("events[0].Kind = %s, want DATA UPDATE", emitter.events[0].Kind)
	}
	if emitter.events[1].Kind != alert.KindResolved || emitter.events[1].Record.ID != "909" {
		t.Fatalf("events[1] = %s %s, want RESOLVED 909", emitter.events[1].Kind, emitter.events[1].Record.ID)
	}
	if _, kept := store.saved["909"]; kept {
		t.Fatal("resolved alert persisted into the new snapshot")
	}
}

func TestRunFetchFailureAborts(t *testing.T) {
	t.Parallel()

	source := &fakeSource{fetchErr: &zabbix.FetchError{Method: "trigger.get", Reason: "boom"}}
	store := &fakeStore{prior: map[string]alert.Record{"101": {ID: "101"}}}
	emitter := &collectingEmitter{}

	svc := New(source, store, emitter, Options{Now: fixedNow})
	_, err := svc.Run(context.Background())
	if err == nil {
		t.Fatal("Run() error = nil, want fetch abort")
	}
	if len(emitter.events) != 0 {
		t.Fatalf("aborted cycle emitted %d events, want 0", len(emitter.events))
	}
	if store.saves != 0 {
		t.Fatalf("aborted cycle wrote the snapshot %d times, want 0", store.saves)
	}
	if len(store.cycles) != 1 || store.cycles[0].Error == "" {
		t.Fatalf("cycle audit = %+v, want one row carrying the error", store.cycles)
	}
}

func TestRunFetchFailureResolveAllPolicy(t *testing.T) {
	t.Parallel()

	rec, _ := alert.Normalize(trigger("101", "CPU: load high", "CPU 90%"), fixedNow(), "Unknown-VM")
	source := &fakeSource{loginErr: &zabbix.AuthError{Endpoint: "x", Reason: "down"}}
	store := &fakeStore{prior: map[string]alert.Record{"101": rec}}
	emitter := &collectingEmitter{}

	svc := New(source, store, emitter, Options{
		OnFetchError: config.OnFetchErrorResolveAll,
		Now:          fixedNow,
	})
	stats, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Resolved != 1 {
		t.Fatalf("stats.Resolved = %d, want 1", stats.Resolved)
	}
	if len(emitter.events) != 1 || emitter.events[0].Kind != alert.KindResolved {
		t.Fatalf("events = %v, want one RESOLVED", emitter.events)
	}
	if store.saves != 1 || len(store.saved) != 0 {
		t.Fatal("resolve-all cycle must write an empty snapshot")
	}
}

func TestRunSaveFailureStillEmits(t *testing.T) {
	t.Parallel()

	source := &fakeSource{triggers: []zabbix.Trigger{trigger("101", "CPU: load high", "CPU 90%")}}
	store := &fakeStore{saveErr: errors.New("disk full")}
	emitter := &collectingEmitter{}

	svc := New(source, store, emitter, Options{Now: fixedNow})
	stats, err := svc.Run(context.Background())
	if err == nil {
		t.Fatal("Run() error = nil, want save warning")
	}
	if len(emitter.events) != 1 {
		t.Fatalf("emitted %d events, want 1 (events stand despite save failure)", len(emitter.events))
	}
	if !stats.Changed {
		t.Fatal("stats.Changed = false, want true")
	}
}

func TestRunLoadFailureDegradesToEmptyHistory(t *testing.T) {
	t.Parallel()

	source := &fakeSource{triggers: []zabbix.Trigger{trigger("101", "CPU: load high", "CPU 90%")}}
	store := &fakeStore{loadErr: errors.New("corrupt db")}
	emitter := &collectingEmitter{}

	svc := New(source, store, emitter, Options{Now: fixedNow})
	stats, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.New != 1 {
		t.Fatalf("stats.New = %d, want 1 (degraded empty history)", stats.New)
	}
}

func TestRunSkipsTriggerWithoutIdentifier(t *testing.T) {
	t.Parallel()

	source := &fakeSource{triggers: []zabbix.Trigger{
		{Description: "orphan record"},
		trigger("101", "CPU: load high", "CPU 90%"),
	}}
	store := &fakeStore{}
	emitter := &collectingEmitter{}

	svc := New(source, store, emitter, Options{Now: fixedNow})
	stats, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Active != 1 || stats.New != 1 {
		t.Fatalf("stats = %+v, want the orphan excluded", stats)
	}
	if _, kept := store.saved[""]; kept {
		t.Fatal("orphan record leaked into the snapshot")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	svc := New(&fakeSource{}, &fakeStore{}, &collectingEmitter{}, Options{
		Schedule: "not a schedule",
		Now:      fixedNow,
	})
	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("Start() accepted an invalid schedule")
	}
}

func TestStartRunsInitialCycleAndStops(t *testing.T) {
	t.Parallel()

	source := &fakeSource{triggers: []zabbix.Trigger{trigger("101", "CPU: load high", "CPU 90%")}}
	store := &fakeStore{}
	emitter := &collectingEmitter{}

	svc := New(source, store, emitter, Options{Schedule: "@every 1h", Now: fixedNow})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	emitter.mu.Lock()
	emitted := len(emitter.events)
	emitter.mu.Unlock()
	if emitted != 1 {
		t.Fatalf("initial cycle emitted %d events, want 1", emitted)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	svc.Stop(stopCtx)
}
