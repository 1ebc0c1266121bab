package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sheet-sync-service/internal/logger"
	"sheet-sync-service/internal/sync"
)

// Stream attaches the caller as a live connection and serves its outbound
// channel as server-sent events. Identity comes from query parameters
// because EventSource cannot set headers.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	userID := q.Get("user_id")
	sessionID := q.Get("session_id")
	if userID == "" || sessionID == "" {
		h.writeError(w, http.StatusBadRequest, "user_id and session_id are required")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	connID := uuid.New().String()
	conn := h.manager.Registry().Add(connID, userID, q.Get("user_name"), sessionID, subscriptionsFrom(q.Get("tables"), q.Get("operations")))
	defer h.manager.Registry().Remove(connID)

	// The client needs its connection id for heartbeats and subscription
	// updates.
	writeSSE(w, "connected", map[string]interface{}{"connectionId": connID})
	flusher.Flush()

	ping := h.cfg.Sync.PingInterval
	if ping <= 0 {
		ping = 25 * time.Second
	}
	ticker := time.NewTicker(ping)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case env := <-conn.Out():
			if err := writeEnvelope(w, env); err != nil {
				logger.Log.Debug("Stream write failed, detaching",
					zap.String("connID", connID),
					zap.Error(err),
				)
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if !h.manager.Registry().Alive(connID) {
				// Reaped for missing heartbeats; stop delivery.
				return
			}
			if err := writeSSE(w, "ping", map[string]interface{}{"time": time.Now().Unix()}); err != nil {
				return
			}
			flusher.Flush()
			// A successful write proves the transport is still up even if
			// the client never calls the heartbeat endpoint.
			_ = h.manager.Registry().Heartbeat(connID)
		}
	}
}

func writeEnvelope(w http.ResponseWriter, env *sync.Envelope) error {
	var payload interface{}
	switch env.Kind {
	case "sync":
		payload = env.Event
	case "notification":
		payload = env.Notification
	case "conflict":
		payload = env.Conflict
	default:
		payload = env
	}
	return writeSSE(w, env.Kind, payload)
}

func writeSSE(w http.ResponseWriter, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// subscriptionsFrom parses "tables=proyectos,materiales&operations=UPDATE"
// into a single subscription. Empty means subscribe to everything.
func subscriptionsFrom(tables, operations string) []sync.Subscription {
	if tables == "" && operations == "" {
		return nil
	}

	var sub sync.Subscription
	if tables != "" {
		for _, t := range strings.Split(tables, ",") {
			if t = strings.TrimSpace(t); t != "" {
				sub.Tables = append(sub.Tables, sync.Table(t))
			}
		}
	}
	if operations != "" {
		for _, op := range strings.Split(operations, ",") {
			if op = strings.TrimSpace(op); op != "" {
				sub.Operations = append(sub.Operations, sync.EventType(strings.ToUpper(op)))
			}
		}
	}
	return []sync.Subscription{sub}
}
