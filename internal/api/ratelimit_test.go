package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/talgya/bazaar/internal/registry"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d denied inside budget", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Fatalf("fourth request allowed")
	}
	// Budgets are per IP.
	if !rl.Allow("10.0.0.2") {
		t.Fatalf("fresh IP denied")
	}

	if after := rl.RetryAfter("10.0.0.1"); after <= 0 || after > 61 {
		t.Fatalf("retry-after = %d", after)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	if got := clientIP(r); got != "192.0.2.1" {
		t.Fatalf("remote addr: %q", got)
	}

	// The first forwarded hop wins when a proxy is in front.
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientIP(r); got != "203.0.113.9" {
		t.Fatalf("forwarded: %q", got)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	handler := RateLimitMiddleware(rl, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/action", nil)
	req.RemoteAddr = "192.0.2.1:5555"

	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("no Retry-After header on 429")
	}
}

func TestFeedPublishWithoutClients(t *testing.T) {
	f := NewFeed()
	// No subscribers: publishing must not block or panic.
	f.Publish(registry.WorldEvent{Type: "windfall", Description: "coin", Tick: 1})
}
