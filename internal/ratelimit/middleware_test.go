package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/brain/internal/model"
)

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("backend down")
}
func (brokenLimiter) Close() error { return nil }

func serve(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/deliberate", nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	m, _ := newLimiter(t, 0.5, 1)
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Middleware(m, "deliberate", func(*http.Request) string { return "req-1" }, slog.Default())(ok)

	assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.1:5000").Code)

	rec := serve(h, "10.0.0.1:5001")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	var body model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, model.ErrCodeRateLimited, body.Error.Code)
	assert.Equal(t, "req-1", body.Meta.RequestID)

	assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.2:5000").Code, "other clients keep their own bucket")

	other := Middleware(m, "runs", nil, slog.Default())(ok)
	assert.Equal(t, http.StatusNoContent, serve(other, "10.0.0.1:5002").Code, "scopes are limited separately")
}

func TestMiddleware_FailsOpen(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Middleware(brokenLimiter{}, "deliberate", nil, slog.Default())(ok)
	assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.1:5000").Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "1.2.3.4")

	req.RemoteAddr = "192.168.1.7:41234"
	assert.Equal(t, "192.168.1.7", ClientIP(req))

	req.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "::1", ClientIP(req))

	req.RemoteAddr = "unix"
	assert.Equal(t, "unix", ClientIP(req))
}
