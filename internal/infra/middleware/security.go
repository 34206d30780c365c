package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Idle client buckets are dropped after clientTTL; the sweeper wakes every
// sweepInterval to do so.
const (
	sweepInterval = time.Minute
	clientTTL     = 3 * time.Minute
)

// SecurityHeaders sets response headers for the gateway surface. The gateway
// serves JSON APIs and WebSocket upgrades only, so content loading is denied
// outright and responses are marked uncacheable.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit returns middleware enforcing a per-client request budget: each
// client address gets a token bucket refilled at perMinute/60 tokens per
// second with the given burst capacity. Over-budget requests receive 429
// with a Retry-After hint.
//
// X-Forwarded-For and X-Real-IP are honored only when the TCP peer is one of
// trustedProxies; otherwise the peer address itself identifies the client, so
// spoofed headers cannot dodge the limiter. The bucket sweeper exits when ctx
// is cancelled.
func RateLimit(ctx context.Context, perMinute, burst int, trustedProxies ...string) func(http.Handler) http.Handler {
	l := newIPLimiter(perMinute, burst, trustedProxies)
	go l.sweep(ctx)

	// One refill interval, rounded up to whole seconds.
	retryAfter := "1"
	if perMinute > 0 && perMinute < 60 {
		retryAfter = strconv.Itoa((59 + perMinute) / perMinute)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(l.clientAddr(r)) {
				w.Header().Set("Retry-After", retryAfter)
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ipLimiter hands out one token bucket per client address.
type ipLimiter struct {
	refill  rate.Limit
	burst   int
	trusted map[string]struct{}

	mu      sync.Mutex
	clients map[string]*clientBucket
}

type clientBucket struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(perMinute, burst int, trustedProxies []string) *ipLimiter {
	l := &ipLimiter{
		refill:  rate.Limit(perMinute) / 60,
		burst:   burst,
		clients: make(map[string]*clientBucket),
	}
	if len(trustedProxies) > 0 {
		l.trusted = make(map[string]struct{}, len(trustedProxies))
		for _, p := range trustedProxies {
			l.trusted[p] = struct{}{}
		}
	}
	return l
}

// allow takes one token from addr's bucket, creating the bucket on first use.
func (l *ipLimiter) allow(addr string) bool {
	l.mu.Lock()
	cb, ok := l.clients[addr]
	if !ok {
		cb = &clientBucket{bucket: rate.NewLimiter(l.refill, l.burst)}
		l.clients[addr] = cb
	}
	cb.lastSeen = time.Now()
	l.mu.Unlock()
	return cb.bucket.Allow()
}

// sweep drops idle buckets until ctx is cancelled.
func (l *ipLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evictIdle()
		}
	}
}

func (l *ipLimiter) evictIdle() {
	cutoff := time.Now().Add(-clientTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for addr, cb := range l.clients {
		if cb.lastSeen.Before(cutoff) {
			delete(l.clients, addr)
		}
	}
}

// clientAddr resolves the address a request is limited under. The TCP peer is
// authoritative unless it is a trusted proxy, in which case the forwarded
// client address wins.
func (l *ipLimiter) clientAddr(r *http.Request) string {
	peer := peerIP(r.RemoteAddr)
	if _, ok := l.trusted[peer]; !ok {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	return peer
}

// peerIP strips the port from a host:port peer address, tolerating addresses
// that carry no port.
func peerIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
