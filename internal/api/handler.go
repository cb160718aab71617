package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nanacinema/rcfinder/internal/domain"
	"github.com/nanacinema/rcfinder/internal/store"
)

var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bot_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"method", "endpoint"})
)

// Dispatcher is the command engine behind the intake endpoint.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd domain.Command) domain.Response
}

// Store is the read-side slice of the ledger the HTTP surface needs.
type Store interface {
	GetAccount(ctx context.Context, userID string) (*domain.Account, error)
	RecentLog(ctx context.Context, userID string, limit int) ([]domain.LogEntry, error)
	Healthy(ctx context.Context) bool
}

type Handler struct {
	dispatcher Dispatcher
	store      Store
}

func NewHandler(d Dispatcher, s Store) *Handler {
	return &Handler{dispatcher: d, store: s}
}

// PostCommand is the transport adapter's hand-off point: one parsed chat
// command in, one response text out.
func (h *Handler) PostCommand(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/commands"))
	defer timer.ObserveDuration()

	var cmd domain.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/commands")
		return
	}
	if cmd.UserID == "" || cmd.Name == "" {
		h.respondError(w, http.StatusBadRequest, "user_id and name are required", "POST", "/commands")
		return
	}

	resp := h.dispatcher.Dispatch(r.Context(), cmd)
	h.respondJSON(w, http.StatusOK, resp, "POST", "/commands")
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	acc, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Account load failed", "GET", "/accounts/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, acc, "GET", "/accounts/{id}")
}

func (h *Handler) GetAccountLog(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries, err := h.store.RecentLog(r.Context(), id, limit)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.respondError(w, http.StatusNotFound, "Account not found", "GET", "/accounts/{id}/log")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "Log read failed", "GET", "/accounts/{id}/log")
		return
	}
	h.respondJSON(w, http.StatusOK, entries, "GET", "/accounts/{id}/log")
}

// Health answers the liveness probe: can the ledger store be reached.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if !h.store.Healthy(r.Context()) {
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"}, "GET", "/health")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

// Helpers
func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}
