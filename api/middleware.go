package api

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"watchtower/config"
	"watchtower/metrics"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL      = time.Hour
	authLockoutWindow   = 10 * time.Minute
	limiterCleanupEvery = 10 * time.Minute
)

// limiterSet is a token bucket per client IP
type limiterSet struct {
	cfg config.RateLimitConfig
	mu  sync.Mutex
	m   map[string]*rateLimiterEntry
}

func newLimiterSet(cfg config.RateLimitConfig) *limiterSet {
	return &limiterSet{cfg: cfg, m: make(map[string]*rateLimiterEntry)}
}

func (s *limiterSet) allow(ip string, now time.Time) bool {
	s.mu.Lock()
	entry, ok := s.m[ip]
	if !ok {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst)}
		s.m[ip] = entry
	}
	entry.lastSeen = now
	// captured under the lock so cleanup cannot race the Allow call
	limiter := entry.limiter
	s.mu.Unlock()
	return limiter.AllowN(now, 1)
}

func (s *limiterSet) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ip, entry := range s.m {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(s.m, ip)
		}
	}
}

func (a *API) clientIP(r *http.Request) string {
	return getRealIP(r, a.config.API.TrustProxy, a.config.API.TrustedProxyNetworks)
}

func (a *API) limitWith(set *limiterSet, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !set.allow(a.clientIP(r), time.Now()) {
			w.Header().Set("Retry-After", "1")
			a.respondError(w, http.StatusTooManyRequests, "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware limits dashboard and administration traffic per IP
func (a *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return a.limitWith(a.apiLimiters, next)
}

// ingestRateLimitMiddleware limits event producers per IP
func (a *API) ingestRateLimitMiddleware(next http.Handler) http.Handler {
	return a.limitWith(a.ingestLimiters, next)
}

// cleanupLimiters periodically drops idle limiters and stale auth failures
func (a *API) cleanupLimiters() {
	ticker := time.NewTicker(limiterCleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			a.apiLimiters.sweep(now)
			a.ingestLimiters.sweep(now)

			a.authFailuresMu.Lock()
			for ip, entry := range a.authFailures {
				if now.Sub(entry.lastFail) > limiterIdleTTL {
					delete(a.authFailures, ip)
				}
			}
			a.authFailuresMu.Unlock()
		case <-a.stopCh:
			return
		}
	}
}

// authLocked reports whether ip has too many recent login failures
func (a *API) authLocked(ip string) bool {
	a.authFailuresMu.Lock()
	defer a.authFailuresMu.Unlock()
	entry, ok := a.authFailures[ip]
	return ok && entry.count >= a.config.API.MaxAuthFailures && time.Since(entry.lastFail) < authLockoutWindow
}

func (a *API) recordAuthFailure(ip string) {
	a.authFailuresMu.Lock()
	defer a.authFailuresMu.Unlock()
	entry, ok := a.authFailures[ip]
	if !ok {
		entry = &authFailureEntry{}
		a.authFailures[ip] = entry
	}
	entry.count++
	entry.lastFail = time.Now()
}

func (a *API) clearAuthFailures(ip string) {
	a.authFailuresMu.Lock()
	delete(a.authFailures, ip)
	a.authFailuresMu.Unlock()
}

// corsMiddleware adds CORS headers for allowed origins
func (a *API) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowed := range a.config.API.AllowedOrigins {
			if origin == allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
				break
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Actor")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if a.config.API.TLS {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code. Hijack is passed through for
// websocket upgrades.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// metricsMiddleware counts requests by method, route template and code
func (a *API) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
	})
}

// recoverMiddleware turns handler panics into a 500 response. The stack
// trace is logged, never sent to the client.
func (a *API) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.logger.Errorw("Panic recovered in HTTP handler",
					"error", sanitizeLogMessage(fmt.Sprintf("%v", rec)),
					"method", r.Method,
					"path", sanitizeLogMessage(r.URL.Path),
					"client_ip", a.clientIP(r),
					"stack_trace", string(debug.Stack()))
				a.respondError(w, http.StatusInternalServerError, "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
