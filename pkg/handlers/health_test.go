package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func serve(t *testing.T, h *HealthHandler, path string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func ok(context.Context) error { return nil }

func TestHealthHandler_Health(t *testing.T) {
	h := NewHealthHandler("v1", "test", nil, zap.NewNop())

	rec := serve(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHealthHandler_Ready(t *testing.T) {
	h := NewHealthHandler("v1", "test", map[string]Pinger{
		"database": PingFunc(ok),
		"redis":    PingFunc(ok),
	}, zap.NewNop())

	rec := serve(t, h, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ReadyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]string{"database": "ok", "redis": "ok"}, resp.Checks)
}

func TestHealthHandler_ReadyUnavailable(t *testing.T) {
	h := NewHealthHandler("v1", "test", map[string]Pinger{
		"database": PingFunc(func(context.Context) error { return errors.New("connection refused") }),
		"redis":    PingFunc(ok),
	}, zap.NewNop())

	rec := serve(t, h, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ReadyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "unavailable", resp.Status)
	assert.Equal(t, "connection refused", resp.Checks["database"])
}

func TestHealthHandler_Ping(t *testing.T) {
	h := NewHealthHandler("1.2.3", "prod", nil, zap.NewNop())

	rec := serve(t, h, "/ping")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp PingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "prod", resp.Environment)
	assert.Equal(t, "whalefall", resp.Service)
}
