package sync

import (
	"fmt"
	"time"
)

// Table identifies a sheet in the remote backend. The set is closed at
// compile time; unknown names still route through the generic path.
type Table string

const (
	TableProyectos    Table = "proyectos"
	TableActividades  Table = "actividades"
	TableMateriales   Table = "materiales"
	TableAsignaciones Table = "asignaciones"
	TableUsuarios     Table = "usuarios"
	TableBitacora     Table = "bitacora"
)

var knownTables = map[Table]bool{
	TableProyectos:    true,
	TableActividades:  true,
	TableMateriales:   true,
	TableAsignaciones: true,
	TableUsuarios:     true,
	TableBitacora:     true,
}

func KnownTable(t Table) bool {
	return knownTables[t]
}

type EventType string

const (
	Create EventType = "CREATE"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
)

// Event is a committed write, broadcast to interested connections. Immutable
// once created.
type Event struct {
	ID           string                 `json:"id"`
	Table        Table                  `json:"table"`
	Operation    EventType              `json:"operation"`
	RecordID     string                 `json:"recordId"`
	Data         map[string]interface{} `json:"data,omitempty"`
	PreviousData map[string]interface{} `json:"previousData,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	UserID       string                 `json:"userId"`
	UserName     string                 `json:"userName,omitempty"`
	SessionID    string                 `json:"sessionId"`
	Version      int                    `json:"version,omitempty"`
}

func (e *Event) String() string {
	return fmt.Sprintf("[%s] %s/%s by %s", e.Operation, e.Table, e.RecordID, e.SessionID)
}

// Subscription is a connection's declared interest filter. Empty slices
// mean "everything".
type Subscription struct {
	Tables     []Table     `json:"tables,omitempty"`
	Operations []EventType `json:"operations,omitempty"`
}

// Matches reports whether the subscription wants the event.
func (s Subscription) Matches(e *Event) bool {
	if len(s.Tables) > 0 {
		found := false
		for _, t := range s.Tables {
			if t == e.Table {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(s.Operations) > 0 {
		for _, op := range s.Operations {
			if op == e.Operation {
				return true
			}
		}
		return false
	}
	return true
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Notification is a rule-generated advisory for specific users. Delivered
// at most once per connection, never persisted.
type Notification struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty"`
	TargetUsers []string               `json:"targetUsers"`
	Timestamp   time.Time              `json:"timestamp"`
	Priority    Priority               `json:"priority"`
}

type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "open"
	ConflictResolved ConflictStatus = "resolved"
)

type ResolutionStrategy string

const (
	AcceptCurrent  ResolutionStrategy = "accept_current"
	AcceptIncoming ResolutionStrategy = "accept_incoming"
	Merge          ResolutionStrategy = "merge"
)

// Conflict holds two or more events on the same record from different
// sessions inside the conflict window. Mutated only through Resolve.
type Conflict struct {
	ID           string                 `json:"id"`
	Table        Table                  `json:"table"`
	RecordID     string                 `json:"recordId"`
	Events       []*Event               `json:"events"`
	DetectedAt   time.Time              `json:"detectedAt"`
	Status       ConflictStatus         `json:"status"`
	Resolution   ResolutionStrategy     `json:"resolution,omitempty"`
	ResolvedAt   *time.Time             `json:"resolvedAt,omitempty"`
	ResolvedData map[string]interface{} `json:"resolvedData,omitempty"`
}

// Envelope is what actually travels down a connection's outbound channel.
type Envelope struct {
	Kind         string        `json:"kind"` // "sync", "notification", "conflict"
	Event        *Event        `json:"event,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
	Conflict     *Conflict     `json:"conflict,omitempty"`
}
