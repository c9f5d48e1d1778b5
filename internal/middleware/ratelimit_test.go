package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/plantdex/internal/model"
)

func newTestRateLimiter(t *testing.T, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	var buf bytes.Buffer
	rl := NewRateLimiter(cfg, newTestLogger(&buf))
	t.Cleanup(rl.Stop)
	return rl
}

func requestAs(userID int64, method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	return req.WithContext(ContextWithUserID(context.Background(), userID))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimiter_AllowsRequestsWithinLimit(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate:     rate.Limit(5),
		GeneralBurst:    5,
		SubmitRate:      rate.Limit(1),
		SubmitBurst:     1,
		CleanupInterval: time.Minute,
	})
	handler := rl.GeneralMiddleware()(okHandler)

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(1, http.MethodGet, "/api/plants"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}
}

func TestRateLimiter_Returns429WithRetryAfter(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfigPerMinute(2, 1))
	handler := rl.GeneralMiddleware()(okHandler)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(1, http.MethodGet, "/api/plants"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(1, http.MethodGet, "/api/plants"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	// 2 req/min なので補充まで30秒
	if got := w.Header().Get("Retry-After"); got != "30" {
		t.Errorf("Retry-After = %q, want 30", got)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != model.ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimited)
	}
}

func TestRateLimiter_IsolatesUsers(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfigPerMinute(1, 1))
	handler := rl.GeneralMiddleware()(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(1, http.MethodGet, "/"))
	if w.Code != http.StatusOK {
		t.Fatalf("user1 first: status = %d", w.Code)
	}
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(1, http.MethodGet, "/"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("user1 second: status = %d, want 429", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(2, http.MethodGet, "/"))
	if w.Code != http.StatusOK {
		t.Errorf("user2 should not be affected by user1's limit, status = %d", w.Code)
	}
}

// 植物登録の制限はAPI全般の制限と独立して管理されること
func TestRateLimiter_SubmitIsIndependentOfGeneral(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfigPerMinute(100, 1))
	general := rl.GeneralMiddleware()(okHandler)
	submit := rl.SubmitMiddleware()(okHandler)

	w := httptest.NewRecorder()
	submit.ServeHTTP(w, requestAs(1, http.MethodPost, "/api/plants"))
	if w.Code != http.StatusOK {
		t.Fatalf("first submit: status = %d", w.Code)
	}
	w = httptest.NewRecorder()
	submit.ServeHTTP(w, requestAs(1, http.MethodPost, "/api/plants"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second submit: status = %d, want 429", w.Code)
	}
	// 1 req/min なので補充まで60秒
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}

	w = httptest.NewRecorder()
	general.ServeHTTP(w, requestAs(1, http.MethodGet, "/api/plants"))
	if w.Code != http.StatusOK {
		t.Errorf("general requests should still pass, status = %d", w.Code)
	}

	if rl.GeneralLimiterCount() != 1 || rl.SubmitLimiterCount() != 1 {
		t.Errorf("limiter counts = %d/%d, want 1/1", rl.GeneralLimiterCount(), rl.SubmitLimiterCount())
	}
}

func TestRateLimiter_RequiresUserID(t *testing.T) {
	rl := newTestRateLimiter(t, DefaultRateLimiterConfig())
	handler := rl.GeneralMiddleware()(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRateLimiter_CleanupEvictsIdleEntries(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate:     rate.Limit(1),
		GeneralBurst:    1,
		SubmitRate:      rate.Limit(1),
		SubmitBurst:     1,
		CleanupInterval: time.Hour,
	})

	rl.general.get(1)
	rl.submit.get(1)
	rl.general.mu.Lock()
	rl.general.limiters[1].lastAccess = time.Now().Add(-3 * time.Hour)
	rl.general.mu.Unlock()

	rl.cleanup()

	if rl.GeneralLimiterCount() != 0 {
		t.Errorf("GeneralLimiterCount() = %d, want 0", rl.GeneralLimiterCount())
	}
	if rl.SubmitLimiterCount() != 1 {
		t.Errorf("SubmitLimiterCount() = %d, want 1", rl.SubmitLimiterCount())
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfigPerMinute(1000, 1000))
	handler := rl.GeneralMiddleware()(okHandler)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, requestAs(int64(i%5+1), http.MethodGet, "/"))
		}(i)
	}
	wg.Wait()

	if rl.GeneralLimiterCount() != 5 {
		t.Errorf("GeneralLimiterCount() = %d, want 5", rl.GeneralLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	rl := NewRateLimiter(DefaultRateLimiterConfig(), newTestLogger(&buf))
	rl.Stop()
	rl.Stop()
}
