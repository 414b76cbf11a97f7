package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/meetup/internal/model"
)

func testLimiterConfig(generalBurst, resetBurst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(1),
		GeneralBurst:    generalBurst,
		ResetRate:       rate.Limit(5.0 / 60.0),
		ResetBurst:      resetBurst,
		CleanupInterval: time.Minute,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(remoteAddr, loginID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/meetups", nil)
	req.RemoteAddr = remoteAddr
	if loginID != "" {
		req = req.WithContext(ContextWithLoginID(req.Context(), loginID))
	}
	return req
}

func TestGeneralMiddleware_AllowsWithinBurstThenRejects(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(3, 1))
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("10.0.0.1:1234", "demo@meetup.local"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.1:1234", "demo@meetup.local"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if ra, err := strconv.Atoi(w.Header().Get("Retry-After")); err != nil || ra < 1 {
		t.Errorf("Retry-After = %q", w.Header().Get("Retry-After"))
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeRateLimitExceeded || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
}

func TestGeneralMiddleware_KeysByLoginIDThenIP(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1, 1))
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())

	// 同一IPでもログインIDが異なれば別枠
	for _, r := range []*http.Request{
		requestFrom("10.0.0.1:1000", "a@meetup.local"),
		requestFrom("10.0.0.1:1001", "b@meetup.local"),
		requestFrom("10.0.0.1:1002", ""),
		requestFrom("10.0.0.2:1003", ""),
	} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Errorf("first request for %s: status = %d", r.RemoteAddr, w.Code)
		}
	}
	if n := rl.GeneralLimiterCount(); n != 4 {
		t.Errorf("GeneralLimiterCount = %d, want 4", n)
	}

	// 匿名はポートが違っても同じIPなら同じ枠
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.1:2000", ""))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
}

func TestPasswordResetMiddleware_IndependentOfGeneral(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(10, 2))
	defer rl.Stop()
	general := rl.GeneralMiddleware()(okHandler())
	reset := rl.PasswordResetMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		reset.ServeHTTP(w, requestFrom("192.0.2.5:5000", ""))
		if w.Code != http.StatusOK {
			t.Fatalf("reset request %d: status = %d", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	reset.ServeHTTP(w, requestFrom("192.0.2.5:5000", "demo@meetup.local"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third reset: status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "12" {
		t.Errorf("Retry-After = %q, want 12", got)
	}

	w = httptest.NewRecorder()
	general.ServeHTTP(w, requestFrom("192.0.2.5:5000", ""))
	if w.Code != http.StatusOK {
		t.Errorf("general limiter should be unaffected, status = %d", w.Code)
	}
	if rl.ResetLimiterCount() != 1 {
		t.Errorf("ResetLimiterCount = %d, want 1", rl.ResetLimiterCount())
	}
}

func TestRateLimiter_CleanupEvictsIdleEntries(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(5, 5))
	defer rl.Stop()

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1:1", ""))
	rl.PasswordResetMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1:1", ""))

	now = now.Add(time.Minute)
	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.9:1", ""))

	// TTLはCleanupIntervalの2倍
	now = now.Add(time.Minute + time.Second)
	rl.cleanup()

	if rl.GeneralLimiterCount() != 1 {
		t.Errorf("GeneralLimiterCount = %d, want 1", rl.GeneralLimiterCount())
	}
	if rl.ResetLimiterCount() != 0 {
		t.Errorf("ResetLimiterCount = %d, want 0", rl.ResetLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestPerMinuteConfig(t *testing.T) {
	cfg := PerMinuteConfig(120, 5)
	if cfg.GeneralRate != rate.Limit(2) || cfg.GeneralBurst != 120 {
		t.Errorf("general = %v/%d", cfg.GeneralRate, cfg.GeneralBurst)
	}
	if cfg.ResetBurst != 5 {
		t.Errorf("ResetBurst = %d, want 5", cfg.ResetBurst)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	if got := clientIP(req); got != "2001:db8::1" {
		t.Errorf("clientIP = %q", got)
	}
	req.RemoteAddr = "unix"
	if got := clientIP(req); got != "unix" {
		t.Errorf("clientIP = %q", got)
	}
}
