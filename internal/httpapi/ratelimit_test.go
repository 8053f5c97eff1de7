package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/syncstack/docsync-api/internal/auth"
	"github.com/syncstack/docsync-api/internal/service/syncservice"
	"github.com/syncstack/docsync-api/internal/store"
)

func TestRateLimiting_429Response(t *testing.T) {
	mem := store.NewMemory()
	srv := &Server{
		Engine: syncservice.NewEngine(mem, mem, mem, mem, syncservice.Limits{}),
		Users:  mem,
		RateLimitConfig: RateLimitInfo{
			WindowSeconds: 60,
			MaxRequests:   10,
			Burst:         2, // only 2 requests before throttling
		},
	}
	router := srv.Routes(auth.JWTCfg{HS256Secret: "test-secret", DevMode: true})

	// Burst is 2: first 2 succeed, 3rd gets 429
	for i := 1; i <= 3; i++ {
		req := httptest.NewRequest("GET", "/v1/sync/status", nil)
		req.Header.Set("X-Debug-Sub", "test-user")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		for _, h := range []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "X-RateLimit-Burst"} {
			if rec.Header().Get(h) == "" {
				t.Errorf("Request %d: %s header missing", i, h)
			}
		}

		if i <= 2 {
			if rec.Code == 429 {
				t.Errorf("Request %d: Expected success within burst, got 429: %s", i, rec.Body.String())
			}
			remaining, _ := strconv.Atoi(rec.Header().Get("X-RateLimit-Remaining"))
			if remaining != 2-i {
				t.Errorf("Request %d: Expected remaining=%d, got %d", i, 2-i, remaining)
			}
		} else {
			if rec.Code != 429 {
				t.Errorf("Request %d: Expected 429, got %d: %s", i, rec.Code, rec.Body.String())
			}
			retryAfter := rec.Header().Get("Retry-After")
			if retryAfter == "" {
				t.Error("Retry-After header missing on 429 response")
			} else if secs, err := strconv.Atoi(retryAfter); err != nil || secs < 1 {
				t.Errorf("Expected Retry-After >= 1 second, got %q", retryAfter)
			}
		}
	}
}

func TestRateLimiting_PerUserIsolation(t *testing.T) {
	mem := store.NewMemory()
	srv := &Server{
		Engine: syncservice.NewEngine(mem, mem, mem, mem, syncservice.Limits{}),
		Users:  mem,
		RateLimitConfig: RateLimitInfo{
			WindowSeconds: 60,
			MaxRequests:   10,
			Burst:         1,
		},
	}
	router := srv.Routes(auth.JWTCfg{HS256Secret: "test-secret", DevMode: true})

	do := func(user string) int {
		req := httptest.NewRequest("GET", "/v1/sync/status", nil)
		req.Header.Set("X-Debug-Sub", user)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do("alice"); code != http.StatusOK {
		t.Fatalf("Expected alice's first request to pass, got %d", code)
	}
	if code := do("alice"); code != http.StatusTooManyRequests {
		t.Fatalf("Expected alice throttled, got %d", code)
	}
	// One user's exhaustion must not throttle another
	if code := do("bob"); code != http.StatusOK {
		t.Errorf("Expected bob unaffected by alice's limit, got %d", code)
	}
}

func TestTokenBucket_Consume(t *testing.T) {
	tb := NewTokenBucket(2, 0.001) // negligible refill within the test

	for i := 0; i < 2; i++ {
		allowed, _, _, _ := tb.Allow()
		if !allowed {
			t.Fatalf("Expected token %d available", i+1)
		}
	}
	allowed, remaining, _, _ := tb.Allow()
	if allowed {
		t.Error("Expected empty bucket to deny")
	}
	if remaining != 0 {
		t.Errorf("Expected 0 remaining, got %d", remaining)
	}
}
