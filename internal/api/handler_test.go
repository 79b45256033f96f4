package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/failoverd/internal/events"
	"github.com/FairForge/failoverd/internal/failover"
	"github.com/FairForge/failoverd/internal/health"
	"github.com/FairForge/failoverd/internal/history"
	"github.com/FairForge/failoverd/internal/manager"
)

type fakeService struct {
	failoverErr error
	rollbackErr error
	lastTarget  string
	lastReason  string
	records     []history.Record
	lastLimit   int
}

func (f *fakeService) PerformFailover(ctx context.Context, target string) (history.Record, error) {
	f.lastTarget = target
	rec := history.Record{ID: "rec-1", OldPrimary: "A", NewPrimary: target, Trigger: history.TriggerManual}
	if f.failoverErr != nil {
		rec.Error = f.failoverErr.Error()
		return rec, f.failoverErr
	}
	rec.Success = true
	return rec, nil
}

func (f *fakeService) PerformRollback(ctx context.Context, reason string) (history.Record, error) {
	f.lastReason = reason
	if f.rollbackErr != nil {
		return history.Record{}, f.rollbackErr
	}
	return history.Record{ID: "rec-2", OldPrimary: "B", NewPrimary: "A", Success: true}, nil
}

func (f *fakeService) GetMetrics() manager.Metrics {
	return manager.Metrics{TotalFailovers: 3, CurrentPrimary: "A", CanFailover: true, State: "idle"}
}

func (f *fakeService) GetHealthStatuses() map[string]health.Status {
	return map[string]health.Status{
		"A": health.NewStatus("A", 95, time.Now()),
		"B": health.Unknown(),
	}
}

func (f *fakeService) History(limit int) []history.Record {
	f.lastLimit = limit
	return f.records
}

type fakeEvents []events.Event

func (f fakeEvents) Recent(limit int) []events.Event {
	return f
}

func newTestRouter(svc Service) http.Handler {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("failoverd_failovers_total 0\n"))
	})
	evs := fakeEvents{{Type: events.TypeInitialized}}
	return NewHandler(svc, evs, metricsHandler, NewRateLimiter(100, 100), zap.NewNop()).Router()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHandler_Healthz(t *testing.T) {
	w := do(t, newTestRouter(&fakeService{}), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestHandler_Metrics(t *testing.T) {
	w := do(t, newTestRouter(&fakeService{}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "failoverd_failovers_total")
}

func TestHandler_GetHealth(t *testing.T) {
	w := do(t, newTestRouter(&fakeService{}), http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	checks := decode(t, w)["checks"].(map[string]interface{})
	assert.Equal(t, "healthy", checks["A"].(map[string]interface{})["status"])
	assert.Equal(t, "unknown", checks["B"].(map[string]interface{})["status"])
}

func TestHandler_GetStatus(t *testing.T) {
	w := do(t, newTestRouter(&fakeService{}), http.MethodGet, "/api/v1/failover/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "A", body["current_primary"])
	assert.Equal(t, true, body["can_failover"])
	assert.Equal(t, 3.0, body["total_failovers"])
}

func TestHandler_GetHistory(t *testing.T) {
	svc := &fakeService{records: []history.Record{{ID: "r1"}, {ID: "r2"}}}
	h := newTestRouter(svc)

	w := do(t, h, http.MethodGet, "/api/v1/failover/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.0, decode(t, w)["count"])
	assert.Equal(t, defaultHistoryLimit, svc.lastLimit)

	w = do(t, h, http.MethodGet, "/api/v1/failover/history?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, svc.lastLimit)

	w = do(t, h, http.MethodGet, "/api/v1/failover/history?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_GetEvents(t *testing.T) {
	w := do(t, newTestRouter(&fakeService{}), http.MethodGet, "/api/v1/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, decode(t, w)["count"])
}

func TestHandler_PostFailover(t *testing.T) {
	svc := &fakeService{}
	h := newTestRouter(svc)

	w := do(t, h, http.MethodPost, "/api/v1/failover", `{"target":"B"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "B", svc.lastTarget)
	assert.Equal(t, "B", decode(t, w)["new_primary"])

	w = do(t, h, http.MethodPost, "/api/v1/failover", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", svc.lastTarget, "empty body picks a candidate")

	w = do(t, h, http.MethodPost, "/api/v1/failover", `{"region":"B"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_PostFailoverErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"in progress", failover.ErrAlreadyInProgress, http.StatusConflict},
		{"precondition", &failover.PreconditionError{Target: "B", Err: errors.New("insufficient capacity")}, http.StatusUnprocessableEntity},
		{"step", &failover.StepError{Step: failover.StepPromote, Target: "B", Err: errors.New("boom")}, http.StatusUnprocessableEntity},
		{"post validation", fmt.Errorf("%w: services down", failover.ErrPostValidation), http.StatusUnprocessableEntity},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, newTestRouter(&fakeService{failoverErr: tt.err}), http.MethodPost, "/api/v1/failover", `{"target":"B"}`)
			assert.Equal(t, tt.status, w.Code)

			body := decode(t, w)
			assert.Equal(t, tt.err.Error(), body["error"])
			assert.NotNil(t, body["record"], "failed attempt is returned")
		})
	}
}

func TestHandler_PostRollback(t *testing.T) {
	svc := &fakeService{}
	h := newTestRouter(svc)

	w := do(t, h, http.MethodPost, "/api/v1/failover/rollback", `{"reason":"bad deploy"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bad deploy", svc.lastReason)

	svc.rollbackErr = failover.ErrNoPriorFailover
	w = do(t, h, http.MethodPost, "/api/v1/failover/rollback", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Nil(t, decode(t, w)["record"])
}

func TestHandler_RateLimited(t *testing.T) {
	h := NewHandler(&fakeService{}, nil, nil, NewRateLimiter(1, 2), zap.NewNop()).Router()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/failover", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/failover", "").Code)

	w := do(t, h, http.MethodPost, "/api/v1/failover", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/failover/status", "").Code)
}

func TestHandler_NoEventSource(t *testing.T) {
	h := NewHandler(&fakeService{}, nil, nil, nil, zap.NewNop()).Router()
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/events", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/metrics", "").Code)
}
