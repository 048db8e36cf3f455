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

type fakePinger struct {
	err error
}

func (p *fakePinger) Ping(context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	handler := NewHealthHandler("1.4.2", &fakePinger{}, zap.NewNop())

	rr := httptest.NewRecorder()
	handler.Health(rr, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.4.2", body["version"])
}

func TestHealthHandlerDegraded(t *testing.T) {
	handler := NewHealthHandler("1.4.2", &fakePinger{err: errors.New("pool closed")}, zap.NewNop())

	rr := httptest.NewRecorder()
	handler.Health(rr, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "degraded", body["status"])
}

func TestHealthHandlerNoStore(t *testing.T) {
	handler := NewHealthHandler("dev", nil, zap.NewNop())

	rr := httptest.NewRecorder()
	handler.Health(rr, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
}
