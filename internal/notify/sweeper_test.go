package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheet-sync-service/internal/sync"
)

// fakeLister serves canned records per table.
type fakeLister struct {
	records map[sync.Table][]map[string]interface{}
	err     error
}

func (f *fakeLister) ListRecords(_ context.Context, table sync.Table, filters map[string]string) ([]map[string]interface{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := f.records[table]
	if table == sync.TableAsignaciones && filters != nil {
		var filtered []map[string]interface{}
		for _, rec := range out {
			if pid, _ := strField(rec, "proyecto_id"); pid == filters["proyecto_id"] {
				filtered = append(filtered, rec)
			}
		}
		return filtered, nil
	}
	return out, nil
}

func collectNotifications() (func(n *sync.Notification), *[]*sync.Notification) {
	var out []*sync.Notification
	return func(n *sync.Notification) { out = append(out, n) }, &out
}

func TestSweeperEmitsForUpcomingDeadlines(t *testing.T) {
	soon := time.Now().Add(12 * time.Hour).Format("2006-01-02T15:04:05Z07:00")
	lister := &fakeLister{records: map[sync.Table][]map[string]interface{}{
		sync.TableActividades: {
			{"id": "A1", "estado": "en_progreso", "fecha_fin": soon, "responsable_id": "u7", "proyecto_id": "P1"},
		},
		sync.TableAsignaciones: {
			{"usuario_id": "u8", "proyecto_id": "P1"},
			{"usuario_id": "u9", "proyecto_id": "P2"},
		},
	}}
	resolver := &StaticResolver{Admins: admins, Lister: lister}
	deliver, got := collectNotifications()

	NewDeadlineSweeper(lister, resolver, 48*time.Hour, deliver).Run()

	require.Len(t, *got, 1)
	n := (*got)[0]
	assert.Equal(t, "deadline_approaching", n.Type)
	assert.Equal(t, sync.PriorityHigh, n.Priority)
	assert.Equal(t, "A1", n.Data["recordId"])
	// Admins, the responsible user, and the project's members; never P2's.
	assert.ElementsMatch(t, []string{"admin1", "admin2", "u7", "u8"}, n.TargetUsers)
}

func TestSweeperSkipsCompletedAndFarDeadlines(t *testing.T) {
	lister := &fakeLister{records: map[sync.Table][]map[string]interface{}{
		sync.TableActividades: {
			{"id": "done", "estado": "completada", "fecha_fin": time.Now().Add(2 * time.Hour).Format(time.RFC3339)},
			{"id": "far", "estado": "en_progreso", "fecha_fin": time.Now().Add(200 * time.Hour).Format(time.RFC3339)},
			{"id": "past", "estado": "en_progreso", "fecha_fin": time.Now().Add(-2 * time.Hour).Format(time.RFC3339)},
			{"id": "nodate", "estado": "en_progreso"},
		},
	}}
	resolver := &StaticResolver{Admins: admins}
	deliver, got := collectNotifications()

	NewDeadlineSweeper(lister, resolver, 48*time.Hour, deliver).Run()

	assert.Empty(t, *got)
}

func TestSweeperDateOnlyFormat(t *testing.T) {
	tomorrow := time.Now().Add(24 * time.Hour).Format("2006-01-02")
	lister := &fakeLister{records: map[sync.Table][]map[string]interface{}{
		sync.TableActividades: {
			{"id": "A1", "estado": "pendiente", "fecha_fin": tomorrow},
		},
	}}
	resolver := &StaticResolver{Admins: admins}
	deliver, got := collectNotifications()

	NewDeadlineSweeper(lister, resolver, 48*time.Hour, deliver).Run()

	require.Len(t, *got, 1)
	assert.Contains(t, (*got)[0].Message, "A1")
}

func TestSweeperSurvivesListFailure(t *testing.T) {
	lister := &fakeLister{err: fmt.Errorf("backend down")}
	deliver, got := collectNotifications()

	NewDeadlineSweeper(lister, &StaticResolver{}, 48*time.Hour, deliver).Run()

	assert.Empty(t, *got)
}

func TestStaticResolverProjectMembers(t *testing.T) {
	lister := &fakeLister{records: map[sync.Table][]map[string]interface{}{
		sync.TableAsignaciones: {
			{"usuario_id": "u1", "proyecto_id": "P1"},
			{"usuario_id": "u2", "proyecto_id": "P1"},
			{"usuario_id": "u1", "proyecto_id": "P1"}, // duplicate row
			{"usuario_id": "u3", "proyecto_id": "P2"},
		},
	}}
	r := &StaticResolver{Admins: admins, Lister: lister}

	members, err := r.ProjectMembers(context.Background(), "P1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, members)

	members, err = r.ProjectMembers(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, members)
}
