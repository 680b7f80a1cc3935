package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
}

func TestRecoverer(t *testing.T) {
	h := Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() { h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil)) })
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLoggerMW_RouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(LoggerMW)
	var tpl string
	r.HandleFunc("/pools/{id}", func(w http.ResponseWriter, req *http.Request) {
		tpl = routeTemplate(req)
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pools/42", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "/pools/{id}", tpl)
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(1, 2, "/api/v1/ipam/reserve-ip")
	defer rl.Stop()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.nowFunc = func() time.Time { return now }
	h := rl.Wrap(http.HandlerFunc(ok))

	send := func(path, user string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if user != "" {
			req.Header.Set("X-Remote-User", user)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("/api/v1/ipam/reserve-ip", "alice"))
	assert.Equal(t, http.StatusOK, send("/api/v1/ipam/reserve-ip", "alice"))
	assert.Equal(t, http.StatusTooManyRequests, send("/api/v1/ipam/reserve-ip", "alice"))
	assert.Equal(t, http.StatusOK, send("/api/v1/ipam/reserve-ip", "bob"), "limits are per client")

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, send("/api/v1/ipam/pools", "alice"), "other paths are not limited")
	}

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, send("/api/v1/ipam/reserve-ip", "alice"), "token refilled")
	assert.Equal(t, 2, rl.ClientCount())

	now = now.Add(staleLimiterTTL + time.Second)
	rl.evictStale()
	assert.Zero(t, rl.ClientCount())
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "ip:192.0.2.1", clientKey(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	assert.Equal(t, "ip:198.51.100.7", clientKey(req))

	req.Header.Set("X-Remote-User", "alice")
	assert.Equal(t, "user:alice", clientKey(req))
}
