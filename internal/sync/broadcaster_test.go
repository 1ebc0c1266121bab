package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(c *Connection) []*Envelope {
	var out []*Envelope
	for {
		select {
		case env := <-c.Out():
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestBroadcastNoSelfEcho(t *testing.T) {
	r := NewRegistry(8, time.Minute)
	b := NewBroadcaster(r, nil, nil)

	author := r.Add("author", "u1", "", "s1", nil)
	other := r.Add("other", "u2", "", "s2", nil)

	b.Broadcast(testEvent(TableProyectos, Update, "p1", "s1", "u1", nil))

	assert.Empty(t, drain(author), "originating session must not receive its own event")

	got := drain(other)
	require.Len(t, got, 1)
	assert.Equal(t, "sync", got[0].Kind)
	assert.Equal(t, "p1", got[0].Event.RecordID)
}

func TestBroadcastSkipsEveryConnectionOfOriginSession(t *testing.T) {
	r := NewRegistry(8, time.Minute)
	b := NewBroadcaster(r, nil, nil)

	// Same session attached twice (e.g. a reconnect race).
	a := r.Add("a", "u1", "", "s1", nil)
	b2 := r.Add("b", "u1", "", "s1", nil)
	other := r.Add("c", "u2", "", "s2", nil)

	b.Broadcast(testEvent(TableProyectos, Update, "p1", "s1", "u1", nil))

	assert.Empty(t, drain(a))
	assert.Empty(t, drain(b2))
	assert.Len(t, drain(other), 1)
}

func TestBroadcastHonorsSubscriptionFilter(t *testing.T) {
	r := NewRegistry(8, time.Minute)
	b := NewBroadcaster(r, nil, nil)

	interested := r.Add("interested", "u1", "", "s1", []Subscription{{Tables: []Table{TableMateriales}}})
	indifferent := r.Add("indifferent", "u2", "", "s2", []Subscription{{Tables: []Table{TableProyectos}}})

	b.Broadcast(testEvent(TableMateriales, Update, "m1", "s9", "u9", nil))

	assert.Len(t, drain(interested), 1)
	assert.Empty(t, drain(indifferent))
}

func TestBroadcastPreservesOrderPerConnection(t *testing.T) {
	r := NewRegistry(16, time.Minute)
	b := NewBroadcaster(r, nil, nil)

	conn := r.Add("c1", "u1", "", "s1", nil)

	for _, id := range []string{"p1", "p2", "p3"} {
		b.Broadcast(testEvent(TableProyectos, Update, id, "s9", "u9", nil))
	}

	got := drain(conn)
	require.Len(t, got, 3)
	assert.Equal(t, "p1", got[0].Event.RecordID)
	assert.Equal(t, "p2", got[1].Event.RecordID)
	assert.Equal(t, "p3", got[2].Event.RecordID)
}

func TestNotifyTargetsOnlyNamedUsers(t *testing.T) {
	r := NewRegistry(8, time.Minute)
	b := NewBroadcaster(r, nil, nil)

	target1 := r.Add("t1", "u1", "", "s1", nil)
	target2 := r.Add("t2", "u1", "", "s2", nil)
	bystander := r.Add("b1", "u2", "", "s3", nil)

	b.Notify(&Notification{
		ID:          "n1",
		Type:        "stock_alert",
		TargetUsers: []string{"u1"},
		Priority:    PriorityHigh,
		Timestamp:   time.Now(),
	})

	assert.Len(t, drain(target1), 1, "every connection of a target user gets the notification")
	assert.Len(t, drain(target2), 1)
	assert.Empty(t, drain(bystander))
}

func TestNotifyAtMostOncePerConnection(t *testing.T) {
	r := NewRegistry(8, time.Minute)
	b := NewBroadcaster(r, nil, nil)

	conn := r.Add("c1", "u1", "", "s1", nil)

	// Duplicate target entries must not duplicate delivery.
	b.Notify(&Notification{
		ID:          "n1",
		Type:        "status_change",
		TargetUsers: []string{"u1", "u1"},
		Timestamp:   time.Now(),
	})

	assert.Len(t, drain(conn), 1)
}

func TestBroadcastAnnouncesConflictToWriters(t *testing.T) {
	r := NewRegistry(8, time.Minute)
	d := NewDetector(5*time.Second, nil)
	b := NewBroadcaster(r, d, nil)

	writer1 := r.Add("w1", "u1", "", "s1", nil)
	writer2 := r.Add("w2", "u2", "", "s2", nil)
	bystander := r.Add("b1", "u3", "", "s3", nil)

	b.Broadcast(testEvent(TableProyectos, Update, "p1", "s1", "u1", map[string]interface{}{"estado": "activo"}))
	b.Broadcast(testEvent(TableProyectos, Update, "p1", "s2", "u2", map[string]interface{}{"estado": "pausado"}))

	// writer1: second event + conflict notification + conflict payload.
	got := drain(writer1)
	require.Len(t, got, 3)
	assert.Equal(t, "sync", got[0].Kind)
	assert.Equal(t, "notification", got[1].Kind)
	assert.Equal(t, "sync_conflict", got[1].Notification.Type)
	assert.Equal(t, PriorityHigh, got[1].Notification.Priority)
	assert.Equal(t, "conflict", got[2].Kind)
	require.NotNil(t, got[2].Conflict)
	assert.Len(t, got[2].Conflict.Events, 2)

	// writer2 authored the second event, so it only sees the first event
	// plus the conflict advisory.
	got = drain(writer2)
	require.Len(t, got, 3)
	assert.Equal(t, "sync", got[0].Kind)
	assert.Equal(t, "notification", got[1].Kind)
	assert.Equal(t, "conflict", got[2].Kind)

	// Bystanders see the raw events but no conflict advisory.
	got = drain(bystander)
	require.Len(t, got, 2)
	assert.Equal(t, "sync", got[0].Kind)
	assert.Equal(t, "sync", got[1].Kind)
}

func TestBroadcastFeedsRuleEvaluator(t *testing.T) {
	r := NewRegistry(8, time.Minute)
	eval := &fakeEvaluator{out: []*Notification{{
		ID:          "n1",
		Type:        "stock_alert",
		TargetUsers: []string{"admin"},
		Timestamp:   time.Now(),
	}}}
	b := NewBroadcaster(r, nil, eval)

	admin := r.Add("a1", "admin", "", "s-admin", nil)

	b.Broadcast(testEvent(TableMateriales, Update, "m1", "s1", "u1", nil))

	got := drain(admin)
	require.Len(t, got, 2)
	assert.Equal(t, "sync", got[0].Kind)
	assert.Equal(t, "notification", got[1].Kind)
	assert.Equal(t, "stock_alert", got[1].Notification.Type)
}
