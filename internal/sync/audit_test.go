package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditWriterFlushesOnBatchSize(t *testing.T) {
	st := newFakeStore()
	w := NewAuditWriter(st, 16, 3)
	w.Start()
	defer w.Stop()

	for i := 0; i < 3; i++ {
		w.Enqueue(testEvent(TableProyectos, Update, "p1", "s1", "u1", nil))
	}

	require.Eventually(t, func() bool {
		return st.eventCount() == 3
	}, time.Second, 10*time.Millisecond)
}

func TestAuditWriterDrainsOnStop(t *testing.T) {
	st := newFakeStore()
	w := NewAuditWriter(st, 16, 100)
	w.Start()

	w.Enqueue(testEvent(TableProyectos, Create, "p1", "s1", "u1", nil))
	w.Enqueue(testEvent(TableProyectos, Delete, "p2", "s1", "u1", nil))

	w.Stop()
	assert.Equal(t, 2, st.eventCount())
}

func TestAuditWriterDropsWhenFull(t *testing.T) {
	st := newFakeStore()
	w := NewAuditWriter(st, 1, 100)
	// Not started: the channel fills and overflow is dropped silently.

	w.Enqueue(testEvent(TableProyectos, Update, "p1", "s1", "u1", nil))
	w.Enqueue(testEvent(TableProyectos, Update, "p2", "s1", "u1", nil))

	w.Start()
	w.Stop()
	assert.Equal(t, 1, st.eventCount())
}

func TestManagerLifecycle(t *testing.T) {
	st := newFakeStore()
	cfg := testConfig()
	m := NewManager(cfg, st, nil)

	require.NoError(t, m.Start())
	assert.Error(t, m.Start(), "double start must be rejected")

	report := m.Status()
	assert.Equal(t, "running", report.Status)
	assert.Equal(t, 0, report.Connections)

	m.Registry().Add("c1", "u1", "", "s1", nil)
	m.Broadcast(testEvent(TableProyectos, Update, "p1", "s2", "u2", nil))

	report = m.Status()
	assert.Equal(t, 1, report.Connections)
	assert.Equal(t, int64(1), report.EventsBroadcast)

	m.Stop()
	assert.Equal(t, "idle", m.Status().Status)

	// The run record was closed out with the totals.
	require.Len(t, st.runs, 1)
	for _, run := range st.runs {
		assert.Equal(t, "completed", run.Status)
		assert.True(t, run.CompletedAt.Valid)
		assert.Equal(t, int64(1), run.EventsBroadcast)
	}
}
