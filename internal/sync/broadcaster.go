package sync

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sheet-sync-service/internal/logger"
)

// RuleEvaluator synthesizes notifications from a committed event. Implemented
// by the notify package; declared here so the broadcaster stays decoupled.
type RuleEvaluator interface {
	Evaluate(e *Event) []*Notification
}

// Broadcaster fans committed events out to subscribed connections, never
// echoing to the originating session, and feeds the conflict detector and
// rule engine unconditionally.
type Broadcaster struct {
	registry  *Registry
	detector  *Detector
	evaluator RuleEvaluator
}

func NewBroadcaster(registry *Registry, detector *Detector, evaluator RuleEvaluator) *Broadcaster {
	return &Broadcaster{
		registry:  registry,
		detector:  detector,
		evaluator: evaluator,
	}
}

// Broadcast delivers one committed event. Callers invoke it synchronously in
// commit order, which is what makes per-connection ordering hold.
func (b *Broadcaster) Broadcast(e *Event) {
	delivered := 0
	for _, conn := range b.registry.Matching(e) {
		if conn.SessionID == e.SessionID {
			continue
		}
		conn.enqueue(&Envelope{Kind: "sync", Event: e})
		delivered++
	}

	logger.Log.Debug("Event broadcast",
		zap.String("event", e.String()),
		zap.Int("delivered", delivered),
	)

	if b.detector != nil {
		if c := b.detector.Observe(e); c != nil {
			b.announceConflict(c)
		}
	}

	if b.evaluator != nil {
		for _, n := range b.evaluator.Evaluate(e) {
			b.Notify(n)
		}
	}
}

// Notify delivers a notification to every live connection of each target
// user, at most once per connection.
func (b *Broadcaster) Notify(n *Notification) {
	seen := make(map[string]bool)
	for _, userID := range n.TargetUsers {
		for _, conn := range b.registry.ByUser(userID) {
			if seen[conn.ID] {
				continue
			}
			seen[conn.ID] = true
			conn.enqueue(&Envelope{Kind: "notification", Notification: n})
		}
	}

	logger.Log.Debug("Notification delivered",
		zap.String("type", n.Type),
		zap.Strings("targets", n.TargetUsers),
		zap.Int("connections", len(seen)),
	)
}

// announceConflict sends the conflict advisory to every writer involved.
// The writers' own operations succeeded, so this is never surfaced as an
// error to them.
func (b *Broadcaster) announceConflict(c *Conflict) {
	seen := make(map[string]bool)
	var targets []string
	for _, ev := range c.Events {
		if !seen[ev.UserID] {
			seen[ev.UserID] = true
			targets = append(targets, ev.UserID)
		}
	}

	n := &Notification{
		ID:      uuid.New().String(),
		Type:    "sync_conflict",
		Title:   "Conflicto de edición",
		Message: fmt.Sprintf("El registro %s de %s fue modificado por varios usuarios a la vez.", c.RecordID, c.Table),
		Data: map[string]interface{}{
			"conflictId": c.ID,
			"table":      string(c.Table),
			"recordId":   c.RecordID,
		},
		TargetUsers: targets,
		Timestamp:   time.Now(),
		Priority:    PriorityHigh,
	}
	b.Notify(n)

	connSeen := make(map[string]bool)
	for _, userID := range targets {
		for _, conn := range b.registry.ByUser(userID) {
			if connSeen[conn.ID] {
				continue
			}
			connSeen[conn.ID] = true
			conn.enqueue(&Envelope{Kind: "conflict", Conflict: c})
		}
	}
}
