package sync

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sheet-sync-service/internal/config"
	"sheet-sync-service/internal/logger"
	"sheet-sync-service/internal/store"
)

// Manager owns the synchronization machinery: the connection registry, the
// broadcaster, the conflict detector and the audit writer. It is the
// Publisher handed to the CRUD gateway.
type Manager struct {
	cfg         *config.Config
	registry    *Registry
	detector    *Detector
	broadcaster *Broadcaster
	audit       *AuditWriter
	store       store.Store

	mu     sync.Mutex
	status string
	run    *store.SyncRun

	eventsBroadcast int64
}

type StatusReport struct {
	Status          string `json:"status"`
	Connections     int    `json:"connections"`
	OpenConflicts   int    `json:"openConflicts"`
	EventsBroadcast int64  `json:"eventsBroadcast"`
}

func NewManager(cfg *config.Config, st store.Store, evaluator RuleEvaluator) *Manager {
	registry := NewRegistry(cfg.Sync.ConnectionBuffer, cfg.Sync.HeartbeatTimeout)
	detector := NewDetector(cfg.Sync.ConflictWindow, st)
	broadcaster := NewBroadcaster(registry, detector, evaluator)

	return &Manager{
		cfg:         cfg,
		registry:    registry,
		detector:    detector,
		broadcaster: broadcaster,
		audit:       NewAuditWriter(st, 256, 50),
		store:       st,
		status:      "idle",
	}
}

func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == "running" {
		return fmt.Errorf("sync is already running")
	}

	logger.Log.Info("Starting sync manager")

	m.audit.Start()

	m.run = &store.SyncRun{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
		Status:    "running",
	}
	if err := m.store.CreateSyncRun(context.Background(), m.run); err != nil {
		logger.Log.Error("Failed to record sync run", zap.Error(err))
	}

	m.status = "running"
	return nil
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != "running" {
		return
	}

	logger.Log.Info("Stopping sync manager")

	m.audit.Stop()

	if m.run != nil {
		m.run.CompletedAt = sql.NullTime{Time: time.Now(), Valid: true}
		m.run.EventsBroadcast = atomic.LoadInt64(&m.eventsBroadcast)
		m.run.ConflictsDetected = len(m.detector.List(""))
		m.run.Status = "completed"
		if err := m.store.FinishSyncRun(context.Background(), m.run); err != nil {
			logger.Log.Error("Failed to finish sync run", zap.Error(err))
		}
	}

	m.status = "idle"
}

func (m *Manager) Close() {
	m.Stop()
}

// Broadcast publishes one committed write: fan-out, conflict detection, rule
// evaluation, then the async audit trail.
func (m *Manager) Broadcast(e *Event) {
	m.broadcaster.Broadcast(e)
	m.audit.Enqueue(e)
	atomic.AddInt64(&m.eventsBroadcast, 1)
}

// Notify routes an externally generated notification (e.g. the deadline
// sweep) through the same delivery path as rule output.
func (m *Manager) Notify(n *Notification) {
	m.broadcaster.Notify(n)
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

func (m *Manager) Detector() *Detector {
	return m.detector
}

func (m *Manager) Status() StatusReport {
	m.mu.Lock()
	status := m.status
	m.mu.Unlock()

	return StatusReport{
		Status:          status,
		Connections:     m.registry.Count(),
		OpenConflicts:   m.detector.OpenCount(),
		EventsBroadcast: atomic.LoadInt64(&m.eventsBroadcast),
	}
}
