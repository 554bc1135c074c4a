package middleware

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, remote string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSecurityHeaders(t *testing.T) {
	w := serve(SecurityHeaders(okHandler), "192.168.1.1:1234", nil)

	want := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Content-Security-Policy": "default-src 'none'",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if hsts := w.Header().Get("Strict-Transport-Security"); hsts != "" {
		t.Errorf("HSTS set without TLS: %q", hsts)
	}
}

func TestSecurityHeadersHSTSWithTLS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.TLS = &tls.ConnectionState{}
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(w, req)

	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Errorf("HSTS = %q", got)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	serve(Chain(okHandler, mark("outer"), mark("inner")), "10.0.0.1:1", nil)
	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Errorf("order = %v", order)
	}
}

func TestRateLimitBlocksAfterBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewRateLimiter(ctx, RateLimitConfig{PerMinute: 6, Burst: 3}).Middleware(okHandler)

	ok, blocked := 0, 0
	for range 10 {
		switch serve(h, "192.168.1.1:12345", nil).Code {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			blocked++
		}
	}
	if ok != 3 || blocked != 7 {
		t.Errorf("ok = %d, blocked = %d, want 3 and 7", ok, blocked)
	}
}

func TestRateLimitSetsRetryAfter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewRateLimiter(ctx, RateLimitConfig{PerMinute: 1, Burst: 1}).Middleware(okHandler)

	serve(h, "10.0.0.1:1", nil)
	w := serve(h, "10.0.0.1:1", nil)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Errorf("code = %d, Retry-After = %q", w.Code, w.Header().Get("Retry-After"))
	}
}

func TestRateLimitSeparatesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewRateLimiter(ctx, RateLimitConfig{PerMinute: 6, Burst: 1})
	h := l.Middleware(okHandler)

	serve(h, "192.168.1.1:1", nil)
	if serve(h, "192.168.1.1:2", nil).Code != http.StatusTooManyRequests {
		t.Error("second request from the same IP should be limited")
	}
	if serve(h, "192.168.1.2:1", nil).Code != http.StatusOK {
		t.Error("a different IP has its own bucket")
	}
	if l.Tracked() != 2 {
		t.Errorf("Tracked = %d, want 2", l.Tracked())
	}
}

func TestRateLimitForgetsIdleClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewRateLimiter(ctx, RateLimitConfig{PerMinute: 60, Burst: 1, IdleTTL: time.Minute})

	l.Allow("10.0.0.1")
	l.forgetIdle(time.Now())
	if l.Tracked() != 1 {
		t.Fatalf("fresh client forgotten")
	}
	l.forgetIdle(time.Now().Add(2 * time.Minute))
	if l.Tracked() != 0 {
		t.Errorf("Tracked = %d after idle sweep, want 0", l.Tracked())
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		trusted []string
		want    string
	}{
		{"direct", "192.168.1.1:12345", nil, nil, "192.168.1.1"},
		{"ipv6 peer", "[::1]:8080", nil, nil, "::1"},
		{"untrusted xff ignored", "192.168.1.1:1", map[string]string{"X-Forwarded-For": "1.2.3.4"}, nil, "192.168.1.1"},
		{"trusted xff first hop", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.1, 198.51.100.1"}, []string{"10.0.0.1"}, "203.0.113.1"},
		{"trusted real ip", "10.0.0.1:1", map[string]string{"X-Real-IP": " 203.0.113.9 "}, []string{"10.0.0.1"}, "203.0.113.9"},
		{"trusted without headers", "10.0.0.1:1", nil, []string{"10.0.0.1"}, "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req, tt.trusted); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
