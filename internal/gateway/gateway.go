// Package gateway executes CRUD operations against the remote spreadsheet
// backend with caching on reads, invalidation plus change broadcast on
// writes, and retry/fallback on everything.
package gateway

import (
	"context"
	"encoding/json"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sheet-sync-service/internal/cache"
	"sheet-sync-service/internal/config"
	"sheet-sync-service/internal/errs"
	"sheet-sync-service/internal/logger"
	"sheet-sync-service/internal/remote"
	"sheet-sync-service/internal/sync"
)

// Publisher receives each committed write exactly once, in commit order.
type Publisher interface {
	Broadcast(e *sync.Event)
}

// Identity is supplied by the session boundary; the gateway never validates
// credentials.
type Identity struct {
	UserID    string
	UserName  string
	SessionID string
}

type Page struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

type Request struct {
	Table   sync.Table
	ID      string
	Data    map[string]interface{}
	Filters map[string]string
	Page    *Page
	Refresh bool // bypass the cache for this read
}

// Result is the UI-boundary response shape. Err is nil exactly when OK.
type Result struct {
	OK        bool                  `json:"ok"`
	Data      interface{}           `json:"data,omitempty"`
	Message   string                `json:"message,omitempty"`
	FromCache bool                  `json:"fromCache,omitempty"`
	Err       *errs.ClassifiedError `json:"-"`
}

type Gateway struct {
	remote       *remote.Client
	cache        *cache.Store
	exec         *Executor
	publisher    Publisher
	cacheEnabled bool

	mu         stdsync.Mutex
	tableLocks map[sync.Table]*stdsync.Mutex
}

func NewGateway(remoteClient *remote.Client, cacheStore *cache.Store, exec *Executor, publisher Publisher, cfg config.CacheConfig) *Gateway {
	return &Gateway{
		remote:       remoteClient,
		cache:        cacheStore,
		exec:         exec,
		publisher:    publisher,
		cacheEnabled: cfg.Enabled,
		tableLocks:   make(map[sync.Table]*stdsync.Mutex),
	}
}

func (g *Gateway) List(ctx context.Context, req Request) Result {
	return g.read(ctx, "list", req)
}

func (g *Gateway) Get(ctx context.Context, req Request) Result {
	return g.read(ctx, "get", req)
}

func (g *Gateway) Create(ctx context.Context, ident Identity, req Request) Result {
	if len(req.Data) == 0 {
		return failResult(errs.AsClassified(&errs.RemoteFailure{Message: "create requires data"}))
	}
	return g.write(ctx, ident, sync.Create, req)
}

func (g *Gateway) Update(ctx context.Context, ident Identity, req Request) Result {
	if req.ID == "" {
		return failResult(errs.AsClassified(&errs.RemoteFailure{Message: "update requires an id"}))
	}
	return g.write(ctx, ident, sync.Update, req)
}

func (g *Gateway) Delete(ctx context.Context, ident Identity, req Request) Result {
	if req.ID == "" {
		return failResult(errs.AsClassified(&errs.RemoteFailure{Message: "delete requires an id"}))
	}
	return g.write(ctx, ident, sync.Delete, req)
}

// ListRecords is the typed list shape the notification sweeper consumes.
func (g *Gateway) ListRecords(ctx context.Context, table sync.Table, filters map[string]string) ([]map[string]interface{}, error) {
	res := g.List(ctx, Request{Table: table, Filters: filters})
	if !res.OK {
		return nil, res.Err
	}

	items, ok := res.Data.([]interface{})
	if !ok {
		return nil, nil
	}
	records := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if rec, ok := item.(map[string]interface{}); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// read is cache-aside: fresh hit, else remote via the executor, then
// populate. A forced refresh skips the lookup but still repopulates.
func (g *Gateway) read(ctx context.Context, kind string, req Request) Result {
	g.warnUnknownTable(req.Table)

	page, limit := 0, 0
	if req.Page != nil {
		page, limit = req.Page.Page, req.Page.Limit
	}
	key := cache.Key(string(req.Table), kind, req.ID, req.Filters, page, limit)

	// Capture the invalidation epoch before the remote call so a write
	// committing mid-flight poisons this read's populate.
	var epoch uint64
	if g.cacheEnabled {
		epoch = g.cache.Epoch(string(req.Table))
	}

	if g.cacheEnabled && !req.Refresh {
		if value, ok := g.cache.Get(key); ok {
			return Result{OK: true, Data: value}
		}
	}

	fallbackKey := ""
	if g.cacheEnabled {
		fallbackKey = key
	}

	res, err := g.exec.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		resp, err := g.remote.Call(ctx, remote.Request{
			Table:     string(req.Table),
			Operation: kind,
			ID:        req.ID,
			Filters:   req.Filters,
			Page:      page,
			Limit:     limit,
		})
		if err != nil {
			return nil, err
		}
		return decodeData(resp.Data), nil
	}, fallbackKey)

	if err != nil {
		return failResult(errs.AsClassified(err))
	}

	if g.cacheEnabled && !res.FromCache {
		if !g.cache.SetIfFresh(key, string(req.Table), res.Data, epoch) {
			logger.Log.Debug("Dropped populate for invalidated table",
				zap.String("table", string(req.Table)),
			)
		}
	}

	return Result{OK: true, Data: res.Data, FromCache: res.FromCache}
}

// write never touches the cache for its own data. On success it invalidates
// the table and broadcasts, serialized per table so no racing read can
// repopulate stale data between the two.
func (g *Gateway) write(ctx context.Context, ident Identity, op sync.EventType, req Request) Result {
	g.warnUnknownTable(req.Table)

	var previous map[string]interface{}
	if op == sync.Update || op == sync.Delete {
		previous = g.fetchPrevious(ctx, req.Table, req.ID)
	}

	res, err := g.exec.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		resp, err := g.remote.Call(ctx, remote.Request{
			Table:     string(req.Table),
			Operation: opName(op),
			ID:        req.ID,
			Data:      req.Data,
		})
		if err != nil {
			return nil, err
		}
		return decodeData(resp.Data), nil
	}, "")

	if err != nil {
		return failResult(errs.AsClassified(err))
	}

	record := asRecord(res.Data)
	if record == nil {
		record = req.Data
	}

	recordID := req.ID
	if recordID == "" {
		if id, ok := record["id"].(string); ok {
			recordID = id
		}
	}

	event := &sync.Event{
		ID:           uuid.New().String(),
		Table:        req.Table,
		Operation:    op,
		RecordID:     recordID,
		Data:         record,
		PreviousData: previous,
		Timestamp:    time.Now(),
		UserID:       ident.UserID,
		UserName:     ident.UserName,
		SessionID:    ident.SessionID,
	}

	// Invalidate-then-notify, atomically per table.
	lock := g.tableLock(req.Table)
	lock.Lock()
	if g.cacheEnabled {
		g.cache.InvalidateTable(string(req.Table))
	}
	if g.publisher != nil {
		g.publisher.Broadcast(event)
	}
	lock.Unlock()

	return Result{OK: true, Data: res.Data}
}

// fetchPrevious grabs the record's current state so update/delete events can
// carry previousData. Best effort: a failure here never blocks the write.
func (g *Gateway) fetchPrevious(ctx context.Context, table sync.Table, id string) map[string]interface{} {
	resp, err := g.remote.Call(ctx, remote.Request{
		Table:     string(table),
		Operation: "get",
		ID:        id,
	})
	if err != nil {
		logger.Log.Debug("Could not fetch previous record state",
			zap.String("table", string(table)),
			zap.String("id", id),
			zap.Error(err),
		)
		return nil
	}
	return asRecord(decodeData(resp.Data))
}

func (g *Gateway) tableLock(table sync.Table) *stdsync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()

	lock, ok := g.tableLocks[table]
	if !ok {
		lock = &stdsync.Mutex{}
		g.tableLocks[table] = lock
	}
	return lock
}

func (g *Gateway) warnUnknownTable(table sync.Table) {
	if !sync.KnownTable(table) {
		logger.Log.Warn("Operation on unknown table", zap.String("table", string(table)))
	}
}

func failResult(ce *errs.ClassifiedError) Result {
	return Result{OK: false, Message: ce.UserMessage, Err: ce}
}

func opName(op sync.EventType) string {
	switch op {
	case sync.Create:
		return "create"
	case sync.Update:
		return "update"
	default:
		return "delete"
	}
}

func decodeData(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func asRecord(v interface{}) map[string]interface{} {
	record, _ := v.(map[string]interface{})
	return record
}
