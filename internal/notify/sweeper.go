package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sheet-sync-service/internal/logger"
	"sheet-sync-service/internal/sync"
)

// Lister is the read side the sweeper needs. The CRUD gateway satisfies it.
type Lister interface {
	ListRecords(ctx context.Context, table sync.Table, filters map[string]string) ([]map[string]interface{}, error)
}

// TargetResolver turns a record into the users who should hear about it.
// Admin membership comes from config, project membership from the
// assignments table.
type TargetResolver interface {
	AdminUsers() []string
	ProjectMembers(ctx context.Context, projectID string) ([]string, error)
}

type StaticResolver struct {
	Admins []string
	Lister Lister
}

func (r *StaticResolver) AdminUsers() []string {
	return r.Admins
}

func (r *StaticResolver) ProjectMembers(ctx context.Context, projectID string) ([]string, error) {
	if r.Lister == nil || projectID == "" {
		return nil, nil
	}
	records, err := r.Lister.ListRecords(ctx, sync.TableAsignaciones, map[string]string{"proyecto_id": projectID})
	if err != nil {
		return nil, err
	}
	var members []string
	for _, rec := range records {
		if userID, ok := strField(rec, "usuario_id"); ok {
			members = appendUnique(members, userID)
		}
	}
	return members, nil
}

// DeadlineSweeper periodically scans activities whose due date falls inside
// the horizon and emits deadline alerts. Unlike rules this may do I/O, which
// is why it runs off the scheduler instead of the event path.
type DeadlineSweeper struct {
	lister   Lister
	resolver TargetResolver
	horizon  time.Duration
	deliver  func(n *sync.Notification)
}

func NewDeadlineSweeper(lister Lister, resolver TargetResolver, horizon time.Duration, deliver func(n *sync.Notification)) *DeadlineSweeper {
	if horizon <= 0 {
		horizon = 48 * time.Hour
	}
	return &DeadlineSweeper{
		lister:   lister,
		resolver: resolver,
		horizon:  horizon,
		deliver:  deliver,
	}
}

// Run performs one sweep. Wired to the cron scheduler.
func (s *DeadlineSweeper) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	records, err := s.lister.ListRecords(ctx, sync.TableActividades, nil)
	if err != nil {
		logger.Log.Error("Deadline sweep failed to list activities", zap.Error(err))
		return
	}

	now := time.Now()
	emitted := 0
	for _, rec := range records {
		estado, _ := strField(rec, "estado")
		if estado == "completada" {
			continue
		}

		due, ok := parseDate(rec["fecha_fin"])
		if !ok || due.Before(now) || due.Sub(now) > s.horizon {
			continue
		}

		recordID, _ := strField(rec, "id")
		targets := s.resolver.AdminUsers()
		if responsable, ok := strField(rec, "responsable_id"); ok {
			targets = appendUnique(targets, responsable)
		}
		if proyecto, ok := strField(rec, "proyecto_id"); ok {
			if members, err := s.resolver.ProjectMembers(ctx, proyecto); err == nil {
				for _, m := range members {
					targets = appendUnique(targets, m)
				}
			}
		}

		s.deliver(&sync.Notification{
			ID:      uuid.New().String(),
			Type:    "deadline_approaching",
			Title:   "Fecha límite próxima",
			Message: fmt.Sprintf("La actividad %s vence el %s.", recordID, due.Format("2006-01-02")),
			Data: map[string]interface{}{
				"table":     string(sync.TableActividades),
				"recordId":  recordID,
				"fecha_fin": due.Format(time.RFC3339),
			},
			TargetUsers: targets,
			Timestamp:   time.Now(),
			Priority:    sync.PriorityHigh,
		})
		emitted++
	}

	if emitted > 0 {
		logger.Log.Info("Deadline sweep emitted alerts", zap.Int("count", emitted))
	}
}

func parseDate(v interface{}) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
