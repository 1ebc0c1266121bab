package sync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"sheet-sync-service/internal/logger"
	"sheet-sync-service/internal/store"
)

// AuditWriter drains broadcast events into the state store in batches so
// persistence never sits on the broadcast path. Best effort: when the buffer
// is full the event is dropped with a log, not blocked on.
type AuditWriter struct {
	events    chan *Event
	store     store.Store
	batchSize int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	batch     []*Event
}

func NewAuditWriter(st store.Store, buffer, batchSize int) *AuditWriter {
	if buffer <= 0 {
		buffer = 256
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AuditWriter{
		events:    make(chan *Event, buffer),
		store:     st,
		batchSize: batchSize,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *AuditWriter) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *AuditWriter) Enqueue(e *Event) {
	select {
	case w.events <- e:
	default:
		logger.Log.Warn("Audit buffer full, dropping event", zap.String("event", e.String()))
	}
}

func (w *AuditWriter) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case event := <-w.events:
			w.batch = append(w.batch, event)
			if len(w.batch) >= w.batchSize {
				w.flush()
			}

		case <-ticker.C:
			if len(w.batch) > 0 {
				w.flush()
			}

		case <-w.ctx.Done():
			// Drain whatever is still buffered before exiting.
			for {
				select {
				case event := <-w.events:
					w.batch = append(w.batch, event)
				default:
					w.flush()
					return
				}
			}
		}
	}
}

func (w *AuditWriter) flush() {
	if len(w.batch) == 0 {
		return
	}

	records := make([]*store.EventRecord, 0, len(w.batch))
	for _, e := range w.batch {
		payload, _ := json.Marshal(e.Data)
		records = append(records, &store.EventRecord{
			ID:        e.ID,
			TableName: string(e.Table),
			Operation: string(e.Operation),
			RecordID:  e.RecordID,
			UserID:    e.UserID,
			SessionID: e.SessionID,
			Payload:   payload,
			CreatedAt: e.Timestamp,
		})
	}

	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFn()

	if err := w.store.AppendEvents(ctx, records); err != nil {
		logger.Log.Error("Failed to persist event batch",
			zap.Int("size", len(records)),
			zap.Error(err),
		)
	} else {
		logger.Log.Debug("Persisted event batch", zap.Int("size", len(records)))
	}

	w.batch = w.batch[:0]
}
