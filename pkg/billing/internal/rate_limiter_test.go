package internal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRateLimiter_AllowWithinLimit(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.allow("1.2.3.4") {
			t.Fatalf("request %d denied within limit", i)
		}
	}
	if limiter.allow("1.2.3.4") {
		t.Error("request over limit allowed")
	}

	// Other clients have their own window.
	if !limiter.allow("5.6.7.8") {
		t.Error("independent client denied")
	}
}

func TestRateLimiter_WindowResets(t *testing.T) {
	window := 50 * time.Millisecond
	limiter := NewRateLimiter(1, window)

	if !limiter.allow("1.2.3.4") {
		t.Fatal("first request denied")
	}
	if limiter.allow("1.2.3.4") {
		t.Fatal("second request within window allowed")
	}

	time.Sleep(window + 10*time.Millisecond)
	if !limiter.allow("1.2.3.4") {
		t.Error("request after window reset denied")
	}
}

func TestRateLimiter_SweepBoundsMap(t *testing.T) {
	window := 50 * time.Millisecond
	limiter := NewRateLimiter(10, window)

	for i := 0; i < 300; i++ {
		limiter.allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	time.Sleep(window + 10*time.Millisecond)

	// Enough fresh requests to trigger a sweep of the expired windows.
	for i := 0; i < sweepEvery; i++ {
		limiter.allow("1.1.1.1")
	}

	limiter.mu.Lock()
	size := len(limiter.windows)
	limiter.mu.Unlock()
	if size > 10 {
		t.Errorf("window map holds %d entries after sweep, want few", size)
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
		req.RemoteAddr = "9.9.9.9:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
	req.RemoteAddr = "9.9.9.9:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := ClientIP(req); got != "10.0.0.1:5555" {
		t.Errorf("ClientIP = %s, want RemoteAddr", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.7" {
		t.Errorf("ClientIP = %s, want first forwarded hop", got)
	}
}

func TestReadBodyStrict(t *testing.T) {
	t.Run("reads body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("payload"))
		body, err := ReadBodyStrict(httptest.NewRecorder(), req, 1024)
		if err != nil {
			t.Fatalf("ReadBodyStrict failed: %v", err)
		}
		if string(body) != "payload" {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("rejects empty body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		if _, err := ReadBodyStrict(httptest.NewRecorder(), req, 1024); err == nil {
			t.Error("expected error for empty body")
		}
	})

	t.Run("rejects oversized body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 2048)))
		_, err := ReadBodyStrict(httptest.NewRecorder(), req, 1024)
		if err == nil {
			t.Fatal("expected error for oversized body")
		}
		if !strings.Contains(err.Error(), "payload too large") {
			t.Errorf("error = %v", err)
		}
	})
}
