package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ClientLimiter keeps one token bucket per client address.
type ClientLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientEntry
	limit   rate.Limit
	burst   int
	idle    time.Duration
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientLimiter allows perSecond requests per client with the given burst.
func NewClientLimiter(perSecond float64, burst int) *ClientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ClientLimiter{
		clients: make(map[string]*clientEntry),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    10 * time.Minute,
	}
}

// Allow consumes a token for key.
func (l *ClientLimiter) Allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	e, ok := l.clients[key]
	if !ok {
		e = &clientEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = e
	}
	e.lastSeen = now
	l.evictIdle(now)
	l.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

// evictIdle drops clients not seen for l.idle. Caller holds l.mu.
func (l *ClientLimiter) evictIdle(now time.Time) {
	if len(l.clients) < 1024 {
		return
	}
	for k, e := range l.clients {
		if now.Sub(e.lastSeen) > l.idle {
			delete(l.clients, k)
		}
	}
}

// RateLimit rejects requests over the per-client budget with 429. A
// non-positive rate disables limiting.
func RateLimit(l *ClientLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		if l == nil || l.limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(clientKey(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
