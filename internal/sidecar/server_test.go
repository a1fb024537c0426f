package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossbridge-dev/crossbridge/internal/domain"
)

func newTestSidecar() *Sidecar {
	cfg := DefaultConfig()
	cfg.Rates = map[EventType]float64{EventTypeEvents: 1.0, EventTypeTestEvent: 1.0}
	return New(cfg, nil, nil, nil)
}

func TestHandleEvent_AcceptsValidJSON(t *testing.T) {
	s := newTestSidecar()
	body := bytes.NewBufferString(`{"EventType":"test_end","TestID":"t1"}`)
	req := httptest.NewRequest(http.MethodPost, "/events", body)
	rec := httptest.NewRecorder()

	s.handleEvent(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandleEvent_RejectsMalformedJSON(t *testing.T) {
	s := newTestSidecar()
	body := bytes.NewBufferString(`not json`)
	req := httptest.NewRequest(http.MethodPost, "/events", body)
	rec := httptest.NewRecorder()

	s.handleEvent(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleEvent_RejectsNonPost(t *testing.T) {
	s := newTestSidecar()
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	rec := httptest.NewRecorder()

	s.handleEvent(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleEventBatch_AcceptsArray(t *testing.T) {
	s := newTestSidecar()
	body := bytes.NewBufferString(`[{"EventType":"test_end"},{"EventType":"test_start"}]`)
	req := httptest.NewRequest(http.MethodPost, "/events/batch", body)
	rec := httptest.NewRecorder()

	s.handleEventBatch(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	length, _, enqueued := s.observer.Stats()
	assert.Equal(t, 2, length)
	assert.Equal(t, uint64(2), enqueued)
}

func TestHandleParse_UnknownFrameworkReturnsBadRequest(t *testing.T) {
	s := newTestSidecar()
	req := httptest.NewRequest(http.MethodPost, "/parse/nonexistent", bytes.NewBufferString("{}"))
	rec := httptest.NewRecorder()

	s.handleParse(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleParse_KnownFrameworkReturnsOK(t *testing.T) {
	s := newTestSidecar()
	req := httptest.NewRequest(http.MethodPost, "/parse/pytest", bytes.NewBufferString("{}"))
	rec := httptest.NewRecorder()

	s.handleParse(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStats_ReportsQueueState(t *testing.T) {
	s := newTestSidecar()
	s.observer.Enqueue(domain.ObservedEvent{TestID: "t1"})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.handleStats(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["queue_length"])
}

func TestHandleHealth_NoAggregatorReturnsOK(t *testing.T) {
	s := newTestSidecar()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleMetricsProxy_NotImplemented(t *testing.T) {
	s := newTestSidecar()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.handleMetricsProxy()(rec, req)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestRecoverMiddleware_RecoversFromPanic(t *testing.T) {
	s := newTestSidecar()
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	s.recoverMiddleware(panicHandler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSidecar_StartAndStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	s := New(cfg, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return s.State() == StateRunning }, time.Second, 5*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.Equal(t, StateStopped, s.State())

	cancel()
	<-errCh
}

func TestReloadConfig_UpdatesRatesAndQueueSize(t *testing.T) {
	s := newTestSidecar()
	s.ReloadConfig(Config{
		Rates:        map[EventType]float64{EventTypeEvents: 1.0},
		MaxQueueSize: 5,
		MaxCPUPercent: 10,
		MaxMemoryMB:  50,
	})
	assert.Equal(t, 5, s.cfg.MaxQueueSize)
	assert.Equal(t, 10.0, s.cfg.MaxCPUPercent)
}
