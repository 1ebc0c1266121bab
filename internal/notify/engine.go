// Package notify evaluates declarative rules against committed change
// events and synthesizes targeted notifications.
package notify

import (
	stdsync "sync"

	"go.uber.org/zap"

	"sheet-sync-service/internal/logger"
	"sheet-sync-service/internal/sync"
)

// Rule matches events by table and operation, then decides and generates.
// Condition and Generate must be pure: same event in, same answer out, no
// I/O. Rules are independent and unordered.
type Rule struct {
	ID         string
	Table      sync.Table
	Operations []sync.EventType
	Condition  func(e *sync.Event) bool
	Generate   func(e *sync.Event) *sync.Notification
	Enabled    bool
}

func (r *Rule) matches(e *sync.Event) bool {
	if !r.Enabled {
		return false
	}
	if r.Table != "" && r.Table != e.Table {
		return false
	}
	if len(r.Operations) > 0 {
		found := false
		for _, op := range r.Operations {
			if op == e.Operation {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Engine holds the rule set. An injected instance, not a singleton.
type Engine struct {
	mu    stdsync.RWMutex
	rules map[string]*Rule
}

func NewEngine() *Engine {
	return &Engine{rules: make(map[string]*Rule)}
}

func (en *Engine) AddRule(r *Rule) {
	en.mu.Lock()
	defer en.mu.Unlock()
	en.rules[r.ID] = r
}

func (en *Engine) RemoveRule(id string) {
	en.mu.Lock()
	defer en.mu.Unlock()
	delete(en.rules, id)
}

func (en *Engine) SetEnabled(id string, enabled bool) {
	en.mu.Lock()
	defer en.mu.Unlock()
	if r, ok := en.rules[id]; ok {
		r.Enabled = enabled
	}
}

// Evaluate runs every enabled matching rule; each may emit zero or one
// notification.
func (en *Engine) Evaluate(e *sync.Event) []*sync.Notification {
	en.mu.RLock()
	rules := make([]*Rule, 0, len(en.rules))
	for _, r := range en.rules {
		rules = append(rules, r)
	}
	en.mu.RUnlock()

	var out []*sync.Notification
	for _, r := range rules {
		if !r.matches(e) {
			continue
		}
		if r.Condition != nil && !r.Condition(e) {
			continue
		}
		if n := r.Generate(e); n != nil {
			out = append(out, n)
			logger.Log.Debug("Rule generated notification",
				zap.String("rule", r.ID),
				zap.String("type", n.Type),
			)
		}
	}
	return out
}
