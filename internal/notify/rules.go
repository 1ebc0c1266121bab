package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sheet-sync-service/internal/sync"
)

// Built-in rules for the project-management tables. Targeting that needs a
// lookup (project membership) lives in the sweeper, not here: Generate is
// pure and works from the event payload plus the static admin set.

func NewStatusChangeRule(admins []string) *Rule {
	return &Rule{
		ID:         "proyecto-status-change",
		Table:      sync.TableProyectos,
		Operations: []sync.EventType{sync.Update},
		Condition: func(e *sync.Event) bool {
			prev, prevOK := strField(e.PreviousData, "estado")
			curr, currOK := strField(e.Data, "estado")
			return prevOK && currOK && prev != curr
		},
		Generate: func(e *sync.Event) *sync.Notification {
			curr, _ := strField(e.Data, "estado")
			return &sync.Notification{
				ID:      uuid.New().String(),
				Type:    "status_change",
				Title:   "Estado de proyecto actualizado",
				Message: fmt.Sprintf("El proyecto %s cambió a estado %q.", e.RecordID, curr),
				Data: map[string]interface{}{
					"table":    string(e.Table),
					"recordId": e.RecordID,
					"estado":   curr,
				},
				TargetUsers: admins,
				Timestamp:   time.Now(),
				Priority:    sync.PriorityMedium,
			}
		},
		Enabled: true,
	}
}

func NewStockAlertRule(admins []string) *Rule {
	return &Rule{
		ID:         "material-stock-minimo",
		Table:      sync.TableMateriales,
		Operations: []sync.EventType{sync.Create, sync.Update},
		Condition: func(e *sync.Event) bool {
			actual, okA := numField(e.Data, "stock_actual")
			minimo, okM := numField(e.Data, "stock_minimo")
			return okA && okM && actual <= minimo
		},
		Generate: func(e *sync.Event) *sync.Notification {
			actual, _ := numField(e.Data, "stock_actual")
			minimo, _ := numField(e.Data, "stock_minimo")
			return &sync.Notification{
				ID:      uuid.New().String(),
				Type:    "stock_alert",
				Title:   "Stock bajo mínimo",
				Message: fmt.Sprintf("El material %s tiene stock %.0f (mínimo %.0f).", e.RecordID, actual, minimo),
				Data: map[string]interface{}{
					"table":        string(e.Table),
					"recordId":     e.RecordID,
					"stock_actual": actual,
					"stock_minimo": minimo,
				},
				TargetUsers: admins,
				Timestamp:   time.Now(),
				Priority:    sync.PriorityHigh,
			}
		},
		Enabled: true,
	}
}

func NewActivityCompletedRule(admins []string) *Rule {
	return &Rule{
		ID:         "actividad-completada",
		Table:      sync.TableActividades,
		Operations: []sync.EventType{sync.Update},
		Condition: func(e *sync.Event) bool {
			prev, _ := strField(e.PreviousData, "estado")
			curr, ok := strField(e.Data, "estado")
			return ok && curr == "completada" && prev != "completada"
		},
		Generate: func(e *sync.Event) *sync.Notification {
			targets := admins
			if responsable, ok := strField(e.Data, "responsable_id"); ok {
				targets = appendUnique(targets, responsable)
			}
			return &sync.Notification{
				ID:      uuid.New().String(),
				Type:    "activity_completed",
				Title:   "Actividad completada",
				Message: fmt.Sprintf("La actividad %s fue marcada como completada por %s.", e.RecordID, e.UserName),
				Data: map[string]interface{}{
					"table":    string(e.Table),
					"recordId": e.RecordID,
				},
				TargetUsers: targets,
				Timestamp:   time.Now(),
				Priority:    sync.PriorityMedium,
			}
		},
		Enabled: true,
	}
}

// NewAssignmentRule notifies the affected user when they are added to or
// removed from a project.
func NewAssignmentRule() *Rule {
	return &Rule{
		ID:         "asignacion-cambio",
		Table:      sync.TableAsignaciones,
		Operations: []sync.EventType{sync.Create, sync.Delete},
		Generate: func(e *sync.Event) *sync.Notification {
			data := e.Data
			if e.Operation == sync.Delete && len(e.PreviousData) > 0 {
				data = e.PreviousData
			}
			userID, ok := strField(data, "usuario_id")
			if !ok {
				return nil
			}
			proyecto, _ := strField(data, "proyecto_id")

			title := "Nueva asignación"
			msg := fmt.Sprintf("Fuiste asignado al proyecto %s.", proyecto)
			if e.Operation == sync.Delete {
				title = "Asignación eliminada"
				msg = fmt.Sprintf("Fuiste removido del proyecto %s.", proyecto)
			}

			return &sync.Notification{
				ID:      uuid.New().String(),
				Type:    "assignment_change",
				Title:   title,
				Message: msg,
				Data: map[string]interface{}{
					"table":      string(e.Table),
					"recordId":   e.RecordID,
					"proyectoId": proyecto,
				},
				TargetUsers: []string{userID},
				Timestamp:   time.Now(),
				Priority:    sync.PriorityMedium,
			}
		},
		Enabled: true,
	}
}

// DefaultRules is the standard rule set wired at startup.
func DefaultRules(admins []string) []*Rule {
	return []*Rule{
		NewStatusChangeRule(admins),
		NewStockAlertRule(admins),
		NewActivityCompletedRule(admins),
		NewAssignmentRule(),
	}
}

func appendUnique(users []string, userID string) []string {
	for _, u := range users {
		if u == userID {
			return users
		}
	}
	out := make([]string, len(users), len(users)+1)
	copy(out, users)
	return append(out, userID)
}

func strField(data map[string]interface{}, key string) (string, bool) {
	if data == nil {
		return "", false
	}
	s, ok := data[key].(string)
	return s, ok
}

func numField(data map[string]interface{}, key string) (float64, bool) {
	if data == nil {
		return 0, false
	}
	switch v := data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
