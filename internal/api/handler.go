// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/FairForge/failoverd/internal/events"
	"github.com/FairForge/failoverd/internal/failover"
	"github.com/FairForge/failoverd/internal/health"
	"github.com/FairForge/failoverd/internal/history"
	"github.com/FairForge/failoverd/internal/manager"
)

const (
	defaultHistoryLimit = 20
	maxBodyBytes        = 1 << 16
)

// Service is the failover surface exposed over HTTP
type Service interface {
	PerformFailover(ctx context.Context, target string) (history.Record, error)
	PerformRollback(ctx context.Context, reason string) (history.Record, error)
	GetMetrics() manager.Metrics
	GetHealthStatuses() map[string]health.Status
	History(limit int) []history.Record
}

// EventSource exposes recent notifications
type EventSource interface {
	Recent(limit int) []events.Event
}

// Handler serves the operator API
type Handler struct {
	service Service
	events  EventSource
	metrics http.Handler
	limiter *RateLimiter
	logger  *zap.Logger
}

// NewHandler creates a handler. eventSource and metricsHandler may be nil.
func NewHandler(service Service, eventSource EventSource, metricsHandler http.Handler, limiter *RateLimiter, logger *zap.Logger) *Handler {
	if limiter == nil {
		limiter = NewRateLimiter(0, 0)
	}
	return &Handler{
		service: service,
		events:  eventSource,
		metrics: metricsHandler,
		limiter: limiter,
		logger:  logger,
	}
}

// Router builds the chi router with all routes and middleware
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(h.logger))
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all routes on r
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.GetHealth)
		r.Get("/events", h.GetEvents)

		r.Route("/failover", func(r chi.Router) {
			r.Get("/status", h.GetStatus)
			r.Get("/history", h.GetHistory)

			// Mutating endpoints
			r.Group(func(r chi.Router) {
				r.Use(RateLimitMiddleware(h.limiter))
				r.Post("/", h.PostFailover)
				r.Post("/rollback", h.PostRollback)
			})
		})
	})
}

type failoverRequest struct {
	Target string `json:"target"`
}

type rollbackRequest struct {
	Reason string `json:"reason"`
}

type errorResponse struct {
	Error  string          `json:"error"`
	Record *history.Record `json:"record,omitempty"`
}

// Healthz reports process liveness
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetHealth returns the latest status of every check
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"checks": h.service.GetHealthStatuses(),
	})
}

// GetStatus returns the current primary, eligibility and history stats
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.service.GetMetrics())
}

// GetHistory returns recent failover records, oldest first
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err)
		return
	}
	records := h.service.History(limit)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// GetEvents returns recent notifications, oldest first
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		h.respondError(w, http.StatusNotFound, errors.New("event log not available"))
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err)
		return
	}
	list := h.events.Recent(limit)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": list,
		"count":  len(list),
	})
}

// PostFailover starts a manual failover. An empty body or target picks
// the best healthy candidate.
func (h *Handler) PostFailover(w http.ResponseWriter, r *http.Request) {
	var req failoverRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := h.service.PerformFailover(r.Context(), req.Target)
	if err != nil {
		h.respondFailoverError(w, rec, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// PostRollback fails back to the previous primary
func (h *Handler) PostRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := h.service.PerformRollback(r.Context(), req.Reason)
	if err != nil {
		h.respondFailoverError(w, rec, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// StatusForError maps failover errors to HTTP status codes
func StatusForError(err error) int {
	var pre *failover.PreconditionError
	var step *failover.StepError
	switch {
	case errors.Is(err, failover.ErrAlreadyInProgress):
		return http.StatusConflict
	case errors.Is(err, failover.ErrNoPriorFailover):
		return http.StatusNotFound
	case errors.As(err, &pre), errors.As(err, &step), errors.Is(err, failover.ErrPostValidation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondFailoverError(w http.ResponseWriter, rec history.Record, err error) {
	status := StatusForError(err)
	h.logger.Warn("failover request failed", zap.Error(err), zap.Int("status", status))

	resp := errorResponse{Error: err.Error()}
	if rec.ID != "" {
		resp.Record = &rec
	}
	respondJSON(w, status, resp)
}

// Helper methods

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *Handler) respondError(w http.ResponseWriter, status int, err error) {
	h.logger.Error("API error", zap.Error(err), zap.Int("status", status))
	respondJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return limit, nil
}
