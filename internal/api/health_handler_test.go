package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct {
	err error
}

func (p stubPinger) PingContext(_ context.Context) error {
	return p.err
}

type stubLiveness struct {
	healthy bool
}

func (l stubLiveness) Healthy(_ time.Duration) bool {
	return l.healthy
}

func TestHealthHandler_Healthz(t *testing.T) {
	t.Parallel()

	t.Run("all green", func(t *testing.T) {
		t.Parallel()
		handler := NewHealthHandler(stubPinger{}, stubLiveness{healthy: true}, time.Minute, discardLogger())

		rec := httptest.NewRecorder()
		handler.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var got HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "ok", got.Status)
		assert.Equal(t, "ok", got.Database)
		assert.Equal(t, "ok", got.Heartbeat)
	})

	t.Run("database down", func(t *testing.T) {
		t.Parallel()
		handler := NewHealthHandler(
			stubPinger{err: errors.New("connection refused")},
			stubLiveness{healthy: true}, time.Minute, discardLogger())

		rec := httptest.NewRecorder()
		handler.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var got HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "degraded", got.Status)
		assert.Equal(t, "unreachable", got.Database)
	})

	t.Run("stale heartbeat", func(t *testing.T) {
		t.Parallel()
		handler := NewHealthHandler(stubPinger{}, stubLiveness{healthy: false}, time.Minute, discardLogger())

		rec := httptest.NewRecorder()
		handler.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var got HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "stale", got.Heartbeat)
	})
}
