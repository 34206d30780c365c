package middleware

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(t *testing.T, h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSecurityHeadersSetsAPIPolicy(t *testing.T) {
	w := doRequest(t, SecurityHeaders(okHandler()), "")

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
	}
	for name, value := range want {
		if got := w.Header().Get(name); got != value {
			t.Errorf("%s = %q, want %q", name, got, value)
		}
	}
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS set on plaintext request: %q", got)
	}
}

func TestSecurityHeadersHSTSOverTLS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.TLS = &tls.ConnectionState{}
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(w, req)

	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Errorf("Strict-Transport-Security = %q", got)
	}
}

func TestRateLimitWithinBurst(t *testing.T) {
	h := RateLimit(context.Background(), 60, 5)(okHandler())

	for i := 0; i < 5; i++ {
		if w := doRequest(t, h, "10.1.1.1:4000"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, w.Code)
		}
	}
}

func TestRateLimitRejectsBeyondBurst(t *testing.T) {
	h := RateLimit(context.Background(), 6, 2)(okHandler())

	ok, limited := 0, 0
	for i := 0; i < 6; i++ {
		switch w := doRequest(t, h, "10.1.1.1:4000"); w.Code {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			limited++
		default:
			t.Fatalf("request %d: unexpected status %d", i+1, w.Code)
		}
	}
	if ok != 2 || limited != 4 {
		t.Fatalf("got %d ok / %d limited, want 2 / 4", ok, limited)
	}
}

func TestRateLimitSetsRetryAfter(t *testing.T) {
	h := RateLimit(context.Background(), 6, 1)(okHandler())

	doRequest(t, h, "10.1.1.1:4000")
	w := doRequest(t, h, "10.1.1.1:4000")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if got := w.Header().Get("Retry-After"); got != "10" {
		t.Errorf("Retry-After = %q, want %q", got, "10")
	}
}

func TestRateLimitIsolatesClients(t *testing.T) {
	h := RateLimit(context.Background(), 6, 1)(okHandler())

	if w := doRequest(t, h, "10.1.1.1:4000"); w.Code != http.StatusOK {
		t.Fatalf("client A first request: status %d", w.Code)
	}
	// Same IP on a different source port shares the bucket.
	if w := doRequest(t, h, "10.1.1.1:4001"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("client A second request: status %d", w.Code)
	}
	if w := doRequest(t, h, "10.2.2.2:4000"); w.Code != http.StatusOK {
		t.Fatalf("client B: status %d", w.Code)
	}
}

func TestRateLimitRefillsOverTime(t *testing.T) {
	if testing.Short() {
		t.Skip("timing-dependent")
	}

	// 60/min refills one token per second.
	h := RateLimit(context.Background(), 60, 1)(okHandler())

	if w := doRequest(t, h, "10.1.1.1:4000"); w.Code != http.StatusOK {
		t.Fatalf("first request: status %d", w.Code)
	}
	if w := doRequest(t, h, "10.1.1.1:4000"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status %d", w.Code)
	}

	time.Sleep(1100 * time.Millisecond)

	if w := doRequest(t, h, "10.1.1.1:4000"); w.Code != http.StatusOK {
		t.Fatalf("request after refill: status %d", w.Code)
	}
}

func TestRateLimitSurvivesSweeperStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := RateLimit(ctx, 60, 5)(okHandler())
	cancel()
	time.Sleep(10 * time.Millisecond)

	if w := doRequest(t, h, "10.1.1.1:4000"); w.Code != http.StatusOK {
		t.Fatalf("status %d after sweeper stop", w.Code)
	}
}

func TestClientAddr(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		trusted    []string
		want       string
	}{
		{name: "peer only", remoteAddr: "198.51.100.7:9000", want: "198.51.100.7"},
		{name: "ipv6 peer", remoteAddr: "[2001:db8::7]:9000", want: "2001:db8::7"},
		{name: "xff ignored without trusted proxies", remoteAddr: "198.51.100.7:9000", xff: "203.0.113.9", want: "198.51.100.7"},
		{name: "xff ignored from untrusted peer", remoteAddr: "198.51.100.7:9000", xff: "203.0.113.9", trusted: []string{"10.0.0.1"}, want: "198.51.100.7"},
		{name: "xff honored from trusted proxy", remoteAddr: "10.0.0.1:9000", xff: "203.0.113.9", trusted: []string{"10.0.0.1"}, want: "203.0.113.9"},
		{name: "first hop of xff chain wins", remoteAddr: "10.0.0.1:9000", xff: "203.0.113.9, 198.51.100.7", trusted: []string{"10.0.0.1"}, want: "203.0.113.9"},
		{name: "x-real-ip honored from trusted proxy", remoteAddr: "10.0.0.1:9000", xRealIP: "203.0.113.9", trusted: []string{"10.0.0.1"}, want: "203.0.113.9"},
		{name: "trusted proxy without headers", remoteAddr: "10.0.0.1:9000", trusted: []string{"10.0.0.1"}, want: "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newIPLimiter(60, 1, tt.trusted)
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}
			if got := l.clientAddr(req); got != tt.want {
				t.Errorf("clientAddr() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPeerIP(t *testing.T) {
	tests := []struct{ in, want string }{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[::1]:8090", "::1"},
		{"2001:db8::1", "2001:db8::1"},
		{"unix", "unix"},
	}
	for _, tt := range tests {
		if got := peerIP(tt.in); got != tt.want {
			t.Errorf("peerIP(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIPLimiterEvictsIdleClients(t *testing.T) {
	l := newIPLimiter(60, 5, nil)
	l.allow("198.51.100.7")
	l.allow("198.51.100.8")

	l.mu.Lock()
	l.clients["198.51.100.7"].lastSeen = time.Now().Add(-2 * clientTTL)
	l.mu.Unlock()

	l.evictIdle()

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.clients["198.51.100.7"]; ok {
		t.Error("idle client not evicted")
	}
	if _, ok := l.clients["198.51.100.8"]; !ok {
		t.Error("active client evicted")
	}
}
