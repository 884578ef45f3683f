package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"hookline/internal/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets the websocket upgrader reach the underlying Hijacker.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		route := routeLabel(r.URL.Path)
		code := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, route, code).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route, code).Observe(dur.Seconds())
		s.logger().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", dur),
			zap.String("remote", r.RemoteAddr),
		)
	})
}

// routeLabel collapses ids so metric cardinality stays bounded.
func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "webhooks" {
		parts[2] = "{id}"
		if len(parts) >= 5 && parts[3] == "deliveries" && parts[4] != "stream" {
			parts[4] = "{deliveryId}"
		}
	}
	return "/" + strings.Join(parts, "/")
}

// limiterIdle is the minimum time an unused bucket is kept.
const limiterIdle = 10 * time.Minute

// tenantLimiter hands out one token bucket per tenant or client address.
// Buckets idle longer than a full refill are dropped; a fresh bucket starts
// full, so dropping one never grants less than keeping it would.
type tenantLimiter struct {
	rps   rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	byKey     map[string]*limiterEntry
	lastSweep time.Time
}

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

func newTenantLimiter(rps float64, burst int) *tenantLimiter {
	if rps <= 0 {
		return nil
	}
	idle := limiterIdle
	if refill := time.Duration(float64(burst) / rps * float64(time.Second)); refill > idle {
		idle = refill
	}
	return &tenantLimiter{
		rps:   rate.Limit(rps),
		burst: burst,
		idle:  idle,
		now:   time.Now,
		byKey: map[string]*limiterEntry{},
	}
}

func (l *tenantLimiter) allow(key string) bool {
	if l == nil {
		return true
	}
	now := l.now()
	l.mu.Lock()
	if now.Sub(l.lastSweep) >= l.idle {
		for k, e := range l.byKey {
			if now.Sub(e.seen) >= l.idle {
				delete(l.byKey, k)
			}
		}
		l.lastSweep = now
	}
	e, ok := l.byKey[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.rps, l.burst)}
		l.byKey[key] = e
	}
	e.seen = now
	l.mu.Unlock()
	return e.lim.AllowN(now, 1)
}

func (l *tenantLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}

// limited applies the per-tenant rate limit; unauthenticated callers are keyed by address.
// The resolved principal travels on the request to the handler.
func (s *Server) limited(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, pr, err := s.authenticate(r)
		key := "ip:" + clientIP(r)
		if err == nil {
			key = "tenant:" + pr.Tenant
		}
		if !s.limiter.allow(key) {
			w.Header().Set("Retry-After", "1")
			writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded", r.URL.Path)
			return
		}
		h(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
