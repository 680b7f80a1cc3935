package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"hostinv/internal/logs"
	"hostinv/internal/metrics"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// staleLimiterTTL — сколько простаивает лимитер клиента до удаления.
	staleLimiterTTL = 10 * time.Minute
	cleanupInterval = time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter ограничивает частоту запросов на выбранные пути отдельно для
// каждого клиента (X-Remote-User, иначе IP).
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	paths    []string
	nowFunc  func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter starts the background sweep of idle clients; call Stop when done.
func NewRateLimiter(rps float64, burst int, paths ...string) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(rps),
		burst:    burst,
		paths:    paths,
		nowFunc:  time.Now,
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

func (rl *RateLimiter) evictStale() {
	now := rl.nowFunc()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, e := range rl.limiters {
		if now.Sub(e.lastSeen) > staleLimiterTTL {
			delete(rl.limiters, key)
		}
	}
}

// ClientCount — число отслеживаемых клиентов.
func (rl *RateLimiter) ClientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Wrap is a mux middleware; paths outside the configured prefixes pass through.
func (rl *RateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.matches(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		client := clientKey(r)
		if !rl.limiterFor(r.URL.Path + "|" + client).AllowN(rl.nowFunc(), 1) {
			metrics.HTTPRateLimited.WithLabelValues(r.URL.Path).Inc()
			logs.Logger.WithFields(logrus.Fields{
				"path":   r.URL.Path,
				"client": client,
			}).Warn("rate limit exceeded")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"success":false,"message":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) matches(path string) bool {
	for _, p := range rl.paths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	now := rl.nowFunc()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if e, ok := rl.limiters[key]; ok {
		e.lastSeen = now
		return e.limiter
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters[key] = &limiterEntry{limiter: l, lastSeen: now}
	return l
}

// clientKey: сначала пользователь от прокси, затем X-Forwarded-For, X-Real-IP
// и RemoteAddr.
func clientKey(r *http.Request) string {
	if u := strings.TrimSpace(r.Header.Get("X-Remote-User")); u != "" {
		return "user:" + u
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i != -1 {
			xff = xff[:i]
		}
		return "ip:" + strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return "ip:" + strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
