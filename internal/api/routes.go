package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sheet-sync-service/internal/config"
	"sheet-sync-service/internal/errs"
	"sheet-sync-service/internal/gateway"
	"sheet-sync-service/internal/sync"
)

type Handler struct {
	gateway *gateway.Gateway
	manager *sync.Manager
	cfg     config.Config
}

func NewHandler(gw *gateway.Gateway, manager *sync.Manager, cfg config.Config) *Handler {
	return &Handler{
		gateway: gw,
		manager: manager,
		cfg:     cfg,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.corsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.authMiddleware)

		r.Route("/data/{table}", func(r chi.Router) {
			r.Get("/", h.ListRecords)
			r.Post("/", h.CreateRecord)
			r.Post("/query", h.QueryRecords)
			r.Get("/{id}", h.GetRecord)
			r.Put("/{id}", h.UpdateRecord)
			r.Delete("/{id}", h.DeleteRecord)
		})

		r.Get("/stream", h.Stream)
		r.Post("/stream/{connID}/heartbeat", h.Heartbeat)
		r.Put("/stream/{connID}/subscriptions", h.UpdateSubscriptions)

		r.Get("/conflicts", h.ListConflicts)
		r.Post("/conflicts/{id}/resolve", h.ResolveConflict)

		r.Get("/sync/status", h.SyncStatus)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// reserved query params that are not table filters.
var reservedParams = map[string]bool{
	"page": true, "limit": true, "refresh": true,
	"user_id": true, "user_name": true, "session_id": true,
}

func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	req := gateway.Request{
		Table:   sync.Table(chi.URLParam(r, "table")),
		Filters: filtersFrom(r),
		Refresh: r.URL.Query().Get("refresh") == "1",
	}
	if page, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && page > 0 {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 50
		}
		req.Page = &gateway.Page{Page: page, Limit: limit}
	}

	h.writeResult(w, h.gateway.List(r.Context(), req))
}

type queryRequest struct {
	Filters map[string]string `json:"filters,omitempty"`
	Page    *gateway.Page     `json:"page,omitempty"`
	Refresh bool              `json:"refresh,omitempty"`
}

// QueryRecords is the POST-body variant of ListRecords for filter payloads
// that do not fit in a query string.
func (h *Handler) QueryRecords(w http.ResponseWriter, r *http.Request) {
	var q queryRequest
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req := gateway.Request{
		Table:   sync.Table(chi.URLParam(r, "table")),
		Filters: q.Filters,
		Page:    q.Page,
		Refresh: q.Refresh,
	}
	h.writeResult(w, h.gateway.List(r.Context(), req))
}

func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	req := gateway.Request{
		Table:   sync.Table(chi.URLParam(r, "table")),
		ID:      chi.URLParam(r, "id"),
		Refresh: r.URL.Query().Get("refresh") == "1",
	}
	h.writeResult(w, h.gateway.Get(r.Context(), req))
}

func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var data map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req := gateway.Request{Table: sync.Table(chi.URLParam(r, "table")), Data: data}
	h.writeResult(w, h.gateway.Create(r.Context(), identityFrom(r), req))
}

func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	var data map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req := gateway.Request{
		Table: sync.Table(chi.URLParam(r, "table")),
		ID:    chi.URLParam(r, "id"),
		Data:  data,
	}
	h.writeResult(w, h.gateway.Update(r.Context(), identityFrom(r), req))
}

func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	req := gateway.Request{
		Table: sync.Table(chi.URLParam(r, "table")),
		ID:    chi.URLParam(r, "id"),
	}
	h.writeResult(w, h.gateway.Delete(r.Context(), identityFrom(r), req))
}

func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Registry().Heartbeat(chi.URLParam(r, "connID")); err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (h *Handler) UpdateSubscriptions(w http.ResponseWriter, r *http.Request) {
	var subs []sync.Subscription
	if err := json.NewDecoder(r.Body).Decode(&subs); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.manager.Registry().UpdateSubscriptions(chi.URLParam(r, "connID"), subs); err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	status := sync.ConflictStatus("")
	switch r.URL.Query().Get("status") {
	case "open":
		status = sync.ConflictOpen
	case "resolved":
		status = sync.ConflictResolved
	}
	conflicts := h.manager.Detector().List(status)
	if conflicts == nil {
		conflicts = []*sync.Conflict{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "data": conflicts})
}

type resolveRequest struct {
	Strategy   string                 `json:"strategy"`
	MergedData map[string]interface{} `json:"mergedData,omitempty"`
}

func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	conflict, err := h.manager.Detector().Resolve(chi.URLParam(r, "id"), sync.ResolutionStrategy(req.Strategy), req.MergedData)
	if err != nil {
		if err == sync.ErrConflictNotFound {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "data": conflict})
}

func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "data": h.manager.Status()})
}

func (h *Handler) writeResult(w http.ResponseWriter, res gateway.Result) {
	if res.OK {
		h.writeJSON(w, http.StatusOK, res)
		return
	}
	h.writeJSON(w, statusFor(res.Err), res)
}

func statusFor(ce *errs.ClassifiedError) int {
	if ce == nil {
		return http.StatusInternalServerError
	}
	switch ce.Kind {
	case errs.KindAuth:
		return http.StatusForbidden
	case errs.KindValidation:
		return http.StatusUnprocessableEntity
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindRateLimit:
		return http.StatusTooManyRequests
	case errs.KindTimeout:
		return http.StatusGatewayTimeout
	case errs.KindNetwork, errs.KindServer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]interface{}{"ok": false, "message": msg})
}

// identityFrom reads the session collaborator's headers. Credentials are not
// validated here.
func identityFrom(r *http.Request) gateway.Identity {
	return gateway.Identity{
		UserID:    r.Header.Get("X-User-Id"),
		UserName:  r.Header.Get("X-User-Name"),
		SessionID: r.Header.Get("X-Session-Id"),
	}
}

func filtersFrom(r *http.Request) map[string]string {
	filters := make(map[string]string)
	for key, values := range r.URL.Query() {
		if reservedParams[key] || len(values) == 0 {
			continue
		}
		filters[key] = values[0]
	}
	if len(filters) == 0 {
		return nil
	}
	return filters
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(h.cfg.Server.CorsOrigins) > 0 {
			origin = strings.Join(h.cfg.Server.CorsOrigins, ", ")
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-User-Id, X-User-Name, X-Session-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.Server.AuthToken != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" {
				token = r.URL.Query().Get("token") // EventSource cannot set headers
			}
			if token != h.cfg.Server.AuthToken {
				h.writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
