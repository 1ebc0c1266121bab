package sync

import (
	"context"
	"sync"
	"time"

	"sheet-sync-service/internal/config"
	"sheet-sync-service/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Sync: config.SyncConfig{
			HeartbeatTimeout: time.Minute,
			ConflictWindow:   5 * time.Second,
			ConnectionBuffer: 16,
			PingInterval:     25 * time.Second,
		},
	}
}

// fakeStore is an in-memory store.Store for tests.
type fakeStore struct {
	mu        sync.Mutex
	conflicts map[string]*store.ConflictRecord
	events    []*store.EventRecord
	runs      map[string]*store.SyncRun
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conflicts: make(map[string]*store.ConflictRecord),
		runs:      make(map[string]*store.SyncRun),
	}
}

func (f *fakeStore) UpsertConflict(_ context.Context, c *store.ConflictRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflicts[c.ID] = c
	return nil
}

func (f *fakeStore) MarkConflictResolved(_ context.Context, id, strategy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.conflicts[id]; ok {
		c.Resolved = true
		c.ResolutionStrategy.String = strategy
		c.ResolutionStrategy.Valid = true
	}
	return nil
}

func (f *fakeStore) ListConflicts(_ context.Context, resolved bool, _, _ int) ([]*store.ConflictRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.ConflictRecord
	for _, c := range f.conflicts {
		if c.Resolved == resolved {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) AppendEvents(_ context.Context, events []*store.EventRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events...)
	return nil
}

func (f *fakeStore) CreateSyncRun(_ context.Context, run *store.SyncRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
	return nil
}

func (f *fakeStore) FinishSyncRun(_ context.Context, run *store.SyncRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
	return nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// fakeEvaluator returns canned notifications for every event.
type fakeEvaluator struct {
	out []*Notification
}

func (f *fakeEvaluator) Evaluate(_ *Event) []*Notification {
	return f.out
}
