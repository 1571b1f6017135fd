package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func rateLimitTestConfig(limit rate.Limit, burst int) RateLimiterConfig {
	return RateLimiterConfig{
		Rate:            limit,
		Burst:           burst,
		CleanupInterval: time.Minute,
	}
}

func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(rateLimitTestConfig(rate.Limit(1), 3))
	defer rl.Stop()

	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/admin/sync", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("リクエスト%d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}
}

func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	rl := NewRateLimiter(rateLimitTestConfig(rate.Limit(0.001), 1))
	defer rl.Stop()

	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/sync", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("1回目: status = %d, want %d", w.Code, http.StatusOK)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("2回目: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-Afterヘッダーが設定されるべきです")
	}
}

func TestRateLimiter_IndependentPerCaller(t *testing.T) {
	rl := NewRateLimiter(rateLimitTestConfig(rate.Limit(0.001), 1))
	defer rl.Stop()

	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req1 := httptest.NewRequest(http.MethodGet, "/admin/sync", nil)
	req1.RemoteAddr = "10.0.0.1:12345"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req1)
	if w.Code != http.StatusOK {
		t.Fatalf("呼び出し元1: status = %d, want %d", w.Code, http.StatusOK)
	}

	// 別IPは独立したリミッターを持つこと
	req2 := httptest.NewRequest(http.MethodGet, "/admin/sync", nil)
	req2.RemoteAddr = "10.0.0.2:12345"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req2)
	if w.Code != http.StatusOK {
		t.Errorf("呼び出し元2: status = %d, want %d", w.Code, http.StatusOK)
	}

	if rl.LimiterCount() != 2 {
		t.Errorf("LimiterCount = %d, want 2", rl.LimiterCount())
	}
}
