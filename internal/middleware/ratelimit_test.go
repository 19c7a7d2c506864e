package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openclaw/wa-gateway-go/internal/model"
)

type stubChecker struct {
	mu        sync.Mutex
	allowed   bool
	remaining int
	resetAt   int64
	lastLimit int
}

func (s *stubChecker) Check(ctx context.Context, accountID string, limit int) (bool, int, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLimit = limit
	return s.allowed, s.remaining, s.resetAt
}

func rateLimitedHandler(checker *stubChecker) http.Handler {
	m := &RedisRateLimitMiddleware{limiter: checker}
	return m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func requestAs(account *model.Account) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if account != nil {
		req = req.WithContext(context.WithValue(req.Context(), AccountContextKey, account))
	}
	return req
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("passes through without an account", func(t *testing.T) {
		checker := &stubChecker{allowed: false}
		rec := httptest.NewRecorder()

		rateLimitedHandler(checker).ServeHTTP(rec, requestAs(nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 0, checker.lastLimit)
	})

	t.Run("sets rate limit headers from the account limit", func(t *testing.T) {
		checker := &stubChecker{allowed: true, remaining: 99, resetAt: 1700000000}
		rec := httptest.NewRecorder()

		rateLimitedHandler(checker).ServeHTTP(rec, requestAs(&model.Account{ID: "acc-1", RateLimitPerMin: 100}))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 100, checker.lastLimit)
		assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "1700000000", rec.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("falls back to the default limit when the account has none", func(t *testing.T) {
		checker := &stubChecker{allowed: true}
		rec := httptest.NewRecorder()

		rateLimitedHandler(checker).ServeHTTP(rec, requestAs(&model.Account{ID: "acc-2"}))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Limit"))
	})

	t.Run("returns 429 when the window is spent", func(t *testing.T) {
		checker := &stubChecker{allowed: false}
		rec := httptest.NewRecorder()

		rateLimitedHandler(checker).ServeHTTP(rec, requestAs(&model.Account{ID: "acc-3", RateLimitPerMin: 5}))

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	})
}
