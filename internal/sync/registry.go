package sync

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sheet-sync-service/internal/logger"
)

// Connection is one live client session attached to the event stream.
type Connection struct {
	ID            string         `json:"id"`
	UserID        string         `json:"userId"`
	UserName      string         `json:"userName"`
	SessionID     string         `json:"sessionId"`
	Subscriptions []Subscription `json:"subscriptions"`
	LastHeartbeat time.Time      `json:"lastHeartbeat"`
	Connected     bool           `json:"connected"`

	mu      sync.Mutex
	out     chan *Envelope
	dropped int64
}

// Out is the connection's outbound channel, consumed by its stream writer.
func (c *Connection) Out() <-chan *Envelope {
	return c.out
}

func (c *Connection) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// enqueue delivers without ever blocking the broadcaster. When the buffer is
// full the oldest pending envelope is dropped: a briefly slow tab degrades to
// a forced refresh instead of stalling everyone else.
func (c *Connection) enqueue(env *Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		select {
		case c.out <- env:
			return
		default:
			select {
			case <-c.out:
				c.dropped++
			default:
			}
		}
	}
}

// Registry tracks live connections and their subscription filters. It is an
// injected instance, never a package-level singleton.
type Registry struct {
	mu               sync.RWMutex
	conns            map[string]*Connection
	bufferSize       int
	heartbeatTimeout time.Duration
}

func NewRegistry(bufferSize int, heartbeatTimeout time.Duration) *Registry {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Registry{
		conns:            make(map[string]*Connection),
		bufferSize:       bufferSize,
		heartbeatTimeout: heartbeatTimeout,
	}
}

// Add registers a session and returns its Connection.
func (r *Registry) Add(id, userID, userName, sessionID string, subs []Subscription) *Connection {
	conn := &Connection{
		ID:            id,
		UserID:        userID,
		UserName:      userName,
		SessionID:     sessionID,
		Subscriptions: subs,
		LastHeartbeat: time.Now(),
		Connected:     true,
		out:           make(chan *Envelope, r.bufferSize),
	}

	r.mu.Lock()
	r.conns[id] = conn
	total := len(r.conns)
	r.mu.Unlock()

	logger.Log.Info("Connection registered",
		zap.String("connID", id),
		zap.String("userID", userID),
		zap.Int("total", total),
	)
	return conn
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if ok {
		conn.Connected = false
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if ok {
		logger.Log.Info("Connection removed", zap.String("connID", id))
	}
}

func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

func (r *Registry) UpdateSubscriptions(id string, subs []Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return fmt.Errorf("connection %s not found", id)
	}
	conn.Subscriptions = subs
	return nil
}

func (r *Registry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return fmt.Errorf("connection %s not found", id)
	}
	conn.LastHeartbeat = time.Now()
	conn.Connected = true
	return nil
}

// Matching returns the live connections whose subscriptions want the event.
// A connection with no subscriptions wants everything. Stale connections are
// excluded even when not yet reaped.
func (r *Registry) Matching(e *Event) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Connection
	for _, conn := range r.conns {
		if !r.aliveLocked(conn) {
			continue
		}
		if len(conn.Subscriptions) == 0 {
			out = append(out, conn)
			continue
		}
		for _, sub := range conn.Subscriptions {
			if sub.Matches(e) {
				out = append(out, conn)
				break
			}
		}
	}
	return out
}

// ByUser returns the live connections belonging to a user.
func (r *Registry) ByUser(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Connection
	for _, conn := range r.conns {
		if conn.UserID == userID && r.aliveLocked(conn) {
			out = append(out, conn)
		}
	}
	return out
}

// All returns every live connection.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		if r.aliveLocked(conn) {
			out = append(out, conn)
		}
	}
	return out
}

// Alive reports whether the connection exists and is still within its
// heartbeat window.
func (r *Registry) Alive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return ok && r.aliveLocked(conn)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ReapStale marks connections past the heartbeat timeout as disconnected.
// They stop receiving events immediately; removal happens when the stream
// handler notices and detaches.
func (r *Registry) ReapStale() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	reaped := 0
	for _, conn := range r.conns {
		if conn.Connected && time.Since(conn.LastHeartbeat) > r.heartbeatTimeout {
			conn.Connected = false
			reaped++
			logger.Log.Warn("Connection marked stale",
				zap.String("connID", conn.ID),
				zap.Time("lastHeartbeat", conn.LastHeartbeat),
			)
		}
	}
	return reaped
}

func (r *Registry) aliveLocked(conn *Connection) bool {
	return conn.Connected && time.Since(conn.LastHeartbeat) <= r.heartbeatTimeout
}
