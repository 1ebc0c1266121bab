package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sheet-sync-service/internal/logger"
	"sheet-sync-service/internal/store"
)

var ErrConflictNotFound = fmt.Errorf("conflict not found")

// Detector watches the committed-event stream for concurrent edits to the
// same record. Per (table, recordId) it moves Clean -> Pending on the first
// event, Conflicted on a second event from a different session inside the
// window, and back to Clean only on explicit resolution.
type Detector struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]*Event    // keyed by table/recordId
	open    map[string]*Conflict // keyed by table/recordId, status Open
	byID    map[string]*Conflict
	store   store.Store // optional audit trail
}

func NewDetector(window time.Duration, auditStore store.Store) *Detector {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &Detector{
		window:  window,
		pending: make(map[string]*Event),
		open:    make(map[string]*Conflict),
		byID:    make(map[string]*Conflict),
		store:   auditStore,
	}
}

func recordKey(table Table, recordID string) string {
	return string(table) + "/" + recordID
}

// Observe feeds one committed event through the state machine. It returns
// the Conflict the event created or joined, or nil when nothing conflicts.
func (d *Detector) Observe(e *Event) *Conflict {
	if e.RecordID == "" {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := recordKey(e.Table, e.RecordID)

	if c, ok := d.open[key]; ok {
		return d.attachLocked(c, e)
	}

	prev, ok := d.pending[key]
	if !ok || time.Since(prev.Timestamp) > d.window {
		d.pending[key] = e
		return nil
	}

	// The author continuing to edit is not a conflict; the newer event
	// becomes the pending one.
	if prev.SessionID == e.SessionID {
		d.pending[key] = e
		return nil
	}

	c := &Conflict{
		ID:         uuid.New().String(),
		Table:      e.Table,
		RecordID:   e.RecordID,
		Events:     []*Event{prev, e},
		DetectedAt: time.Now(),
		Status:     ConflictOpen,
	}
	delete(d.pending, key)
	d.open[key] = c
	d.byID[c.ID] = c

	logger.Log.Warn("Edit conflict detected",
		zap.String("conflictID", c.ID),
		zap.String("table", string(c.Table)),
		zap.String("recordID", c.RecordID),
		zap.String("firstSession", prev.SessionID),
		zap.String("secondSession", e.SessionID),
	)

	d.audit(c)
	return c
}

// attachLocked folds an overlapping event from a new session into the open
// conflict rather than raising a second one.
func (d *Detector) attachLocked(c *Conflict, e *Event) *Conflict {
	for _, ev := range c.Events {
		if ev.SessionID == e.SessionID {
			return nil
		}
	}
	c.Events = append(c.Events, e)
	logger.Log.Warn("Event joined open conflict",
		zap.String("conflictID", c.ID),
		zap.String("session", e.SessionID),
		zap.Int("events", len(c.Events)),
	)
	d.audit(c)
	return c
}

// Resolve applies a manual resolution. Resolving an already-resolved
// conflict is a no-op. The engine never computes merges itself; Merge takes
// the caller-supplied payload.
func (d *Detector) Resolve(id string, strategy ResolutionStrategy, mergedData map[string]interface{}) (*Conflict, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.byID[id]
	if !ok {
		return nil, ErrConflictNotFound
	}
	if c.Status == ConflictResolved {
		return c, nil
	}

	switch strategy {
	case AcceptCurrent:
		c.ResolvedData = c.Events[0].Data
	case AcceptIncoming:
		c.ResolvedData = c.Events[len(c.Events)-1].Data
	case Merge:
		if mergedData == nil {
			return nil, fmt.Errorf("merge resolution requires merged data")
		}
		c.ResolvedData = mergedData
	default:
		return nil, fmt.Errorf("unknown resolution strategy %q", strategy)
	}

	now := time.Now()
	c.Status = ConflictResolved
	c.Resolution = strategy
	c.ResolvedAt = &now
	delete(d.open, recordKey(c.Table, c.RecordID))

	logger.Log.Info("Conflict resolved",
		zap.String("conflictID", c.ID),
		zap.String("strategy", string(strategy)),
	)

	if d.store != nil {
		if err := d.store.MarkConflictResolved(context.Background(), c.ID, string(strategy)); err != nil {
			logger.Log.Error("Failed to persist conflict resolution", zap.Error(err))
		}
	}
	return c, nil
}

func (d *Detector) Get(id string) (*Conflict, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.byID[id]
	return c, ok
}

// List returns conflicts filtered by status; pass "" for all.
func (d *Detector) List(status ConflictStatus) []*Conflict {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*Conflict
	for _, c := range d.byID {
		if status == "" || c.Status == status {
			out = append(out, c)
		}
	}
	return out
}

func (d *Detector) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.open)
}

func (d *Detector) audit(c *Conflict) {
	if d.store == nil {
		return
	}
	if err := d.store.UpsertConflict(context.Background(), store.ConflictRecordFrom(c.ID, string(c.Table), c.RecordID, c.Events[0].Data, c.Events[len(c.Events)-1].Data, c.DetectedAt)); err != nil {
		logger.Log.Error("Failed to persist conflict", zap.Error(err))
	}
}
