package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sheet-sync-service/internal/sync"
)

func changeEvent(table sync.Table, op sync.EventType, recordID string, data, previous map[string]interface{}) *sync.Event {
	return &sync.Event{
		ID:           "ev-" + recordID,
		Table:        table,
		Operation:    op,
		RecordID:     recordID,
		Data:         data,
		PreviousData: previous,
		Timestamp:    time.Now(),
		UserID:       "u1",
		UserName:     "Ana",
		SessionID:    "s1",
	}
}

func TestEngineMatchesTableAndOperation(t *testing.T) {
	en := NewEngine()
	en.AddRule(&Rule{
		ID:         "r1",
		Table:      sync.TableProyectos,
		Operations: []sync.EventType{sync.Update},
		Generate: func(e *sync.Event) *sync.Notification {
			return &sync.Notification{ID: "n1", Type: "test"}
		},
		Enabled: true,
	})

	assert.Len(t, en.Evaluate(changeEvent(sync.TableProyectos, sync.Update, "p1", nil, nil)), 1)
	assert.Empty(t, en.Evaluate(changeEvent(sync.TableProyectos, sync.Create, "p1", nil, nil)))
	assert.Empty(t, en.Evaluate(changeEvent(sync.TableMateriales, sync.Update, "m1", nil, nil)))
}

func TestEngineConditionGates(t *testing.T) {
	en := NewEngine()
	en.AddRule(&Rule{
		ID:        "r1",
		Table:     sync.TableProyectos,
		Condition: func(e *sync.Event) bool { return false },
		Generate: func(e *sync.Event) *sync.Notification {
			t.Fatal("generate must not run when the condition fails")
			return nil
		},
		Enabled: true,
	})

	assert.Empty(t, en.Evaluate(changeEvent(sync.TableProyectos, sync.Update, "p1", nil, nil)))
}

func TestEngineDisabledAndRemovedRules(t *testing.T) {
	en := NewEngine()
	en.AddRule(&Rule{
		ID:    "r1",
		Table: sync.TableProyectos,
		Generate: func(e *sync.Event) *sync.Notification {
			return &sync.Notification{ID: "n1"}
		},
		Enabled: true,
	})

	e := changeEvent(sync.TableProyectos, sync.Update, "p1", nil, nil)
	assert.Len(t, en.Evaluate(e), 1)

	en.SetEnabled("r1", false)
	assert.Empty(t, en.Evaluate(e))

	en.SetEnabled("r1", true)
	assert.Len(t, en.Evaluate(e), 1)

	en.RemoveRule("r1")
	assert.Empty(t, en.Evaluate(e))
}

func TestEngineRuleMayDecline(t *testing.T) {
	en := NewEngine()
	en.AddRule(&Rule{
		ID:       "r1",
		Generate: func(e *sync.Event) *sync.Notification { return nil },
		Enabled:  true,
	})

	assert.Empty(t, en.Evaluate(changeEvent(sync.TableProyectos, sync.Update, "p1", nil, nil)))
}

func TestEngineIndependentRules(t *testing.T) {
	en := NewEngine()
	for _, id := range []string{"a", "b"} {
		id := id
		en.AddRule(&Rule{
			ID:    id,
			Table: sync.TableProyectos,
			Generate: func(e *sync.Event) *sync.Notification {
				return &sync.Notification{ID: id, Type: id}
			},
			Enabled: true,
		})
	}

	out := en.Evaluate(changeEvent(sync.TableProyectos, sync.Update, "p1", nil, nil))
	assert.Len(t, out, 2)
}
