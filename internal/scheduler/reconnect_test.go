package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openclaw/wa-gateway-go/internal/provider"
)

func newTestScheduler() *Scheduler {
	return New(30*time.Second, 5*time.Minute, 3)
}

func TestCalculateDelay(t *testing.T) {
	s := newTestScheduler()

	t.Run("doubles per attempt", func(t *testing.T) {
		assert.Equal(t, 30*time.Second, s.CalculateDelay(1))
		assert.Equal(t, 60*time.Second, s.CalculateDelay(2))
		assert.Equal(t, 120*time.Second, s.CalculateDelay(3))
		assert.Equal(t, 240*time.Second, s.CalculateDelay(4))
	})

	t.Run("caps at five minutes", func(t *testing.T) {
		assert.Equal(t, 5*time.Minute, s.CalculateDelay(5))
		assert.Equal(t, 5*time.Minute, s.CalculateDelay(10))
		assert.Equal(t, 5*time.Minute, s.CalculateDelay(100))
	})

	t.Run("treats attempt below one as first", func(t *testing.T) {
		assert.Equal(t, 30*time.Second, s.CalculateDelay(0))
		assert.Equal(t, 30*time.Second, s.CalculateDelay(-3))
	})
}

func TestShouldRetry(t *testing.T) {
	s := newTestScheduler()

	t.Run("excludes local-resource reasons", func(t *testing.T) {
		assert.False(t, s.ShouldRetry(provider.ReasonManualStop))
		assert.False(t, s.ShouldRetry(provider.ReasonResourceReleased))
		assert.False(t, s.ShouldRetry(provider.ReasonAuthRejected))
		assert.False(t, s.ShouldRetry(provider.ReasonNone))
	})

	t.Run("everything else is retryable", func(t *testing.T) {
		assert.True(t, s.ShouldRetry(provider.ReasonNetwork))
		assert.True(t, s.ShouldRetry(provider.ReasonConnectionLost))
		assert.True(t, s.ShouldRetry(provider.ReasonHealthCheckFailed))
		assert.True(t, s.ShouldRetry(provider.ReasonEngineCrashed))
		assert.True(t, s.ShouldRetry(provider.ReasonUnknown))
	})
}

func TestRecordFailure(t *testing.T) {
	t.Run("retries with growing delay", func(t *testing.T) {
		s := newTestScheduler()

		out := s.RecordFailure("acc-1", provider.ReasonNetwork)
		assert.Equal(t, DecisionRetry, out.Decision)
		assert.Equal(t, 30*time.Second, out.Delay)
		assert.Equal(t, 1, out.Attempt)

		out = s.RecordFailure("acc-1", provider.ReasonNetwork)
		assert.Equal(t, DecisionRetry, out.Decision)
		assert.Equal(t, 60*time.Second, out.Delay)
		assert.Equal(t, 2, out.Attempt)
	})

	t.Run("escalates to fresh pairing after budget and resets count", func(t *testing.T) {
		s := newTestScheduler()

		s.RecordFailure("acc-1", provider.ReasonNetwork)
		s.RecordFailure("acc-1", provider.ReasonNetwork)
		out := s.RecordFailure("acc-1", provider.ReasonNetwork)

		assert.Equal(t, DecisionFreshQR, out.Decision)
		assert.Equal(t, 3, out.Attempt)
		assert.Equal(t, 0, s.AttemptCount("acc-1"))

		// The cycle starts over, not a 4th delayed retry.
		out = s.RecordFailure("acc-1", provider.ReasonNetwork)
		assert.Equal(t, DecisionRetry, out.Decision)
		assert.Equal(t, 1, out.Attempt)
	})

	t.Run("non-retryable reason yields no action", func(t *testing.T) {
		s := newTestScheduler()

		out := s.RecordFailure("acc-1", provider.ReasonManualStop)
		assert.Equal(t, DecisionNone, out.Decision)
		assert.Equal(t, 0, s.AttemptCount("acc-1"))
	})

	t.Run("accounts fail independently", func(t *testing.T) {
		s := newTestScheduler()

		s.RecordFailure("acc-1", provider.ReasonNetwork)
		s.RecordFailure("acc-1", provider.ReasonNetwork)
		out := s.RecordFailure("acc-2", provider.ReasonNetwork)

		assert.Equal(t, 1, out.Attempt)
		assert.Equal(t, 2, s.AttemptCount("acc-1"))
	})
}

func TestRecordSuccess(t *testing.T) {
	s := newTestScheduler()

	s.RecordFailure("acc-1", provider.ReasonNetwork)
	s.RecordFailure("acc-1", provider.ReasonNetwork)
	s.RecordSuccess("acc-1")

	assert.Equal(t, 0, s.AttemptCount("acc-1"))
	out := s.RecordFailure("acc-1", provider.ReasonNetwork)
	assert.Equal(t, 1, out.Attempt)
}

func TestGlobalCooldown(t *testing.T) {
	t.Run("stretches every account's delay", func(t *testing.T) {
		s := newTestScheduler()
		now := time.Now()
		s.now = func() time.Time { return now }

		s.SetCooldown(10 * time.Minute)

		// acc-1 saw the rate limit; acc-2 never did. Both wait.
		out1 := s.RecordFailure("acc-1", provider.ReasonRateLimited)
		out2 := s.RecordFailure("acc-2", provider.ReasonNetwork)

		assert.Equal(t, 10*time.Minute, out1.Delay)
		assert.Equal(t, 10*time.Minute, out2.Delay)
	})

	t.Run("keeps the larger delay", func(t *testing.T) {
		s := New(30*time.Second, time.Hour, 10)
		now := time.Now()
		s.now = func() time.Time { return now }

		s.SetCooldown(time.Minute)

		for i := 0; i < 6; i++ {
			s.RecordFailure("acc-1", provider.ReasonNetwork)
		}
		// 7th attempt: backoff 32m exceeds the 1m cooldown remainder.
		out := s.RecordFailure("acc-1", provider.ReasonNetwork)
		assert.Equal(t, 32*time.Minute, out.Delay)
	})

	t.Run("expires", func(t *testing.T) {
		s := newTestScheduler()
		now := time.Now()
		s.now = func() time.Time { return now }

		s.SetCooldown(10 * time.Minute)
		now = now.Add(11 * time.Minute)

		assert.Equal(t, time.Duration(0), s.CooldownRemaining())
		out := s.RecordFailure("acc-1", provider.ReasonNetwork)
		assert.Equal(t, 30*time.Second, out.Delay)
	})

	t.Run("shorter cooldown never shrinks the active one", func(t *testing.T) {
		s := newTestScheduler()
		now := time.Now()
		s.now = func() time.Time { return now }

		s.SetCooldown(10 * time.Minute)
		s.SetCooldown(1 * time.Minute)

		assert.Equal(t, 10*time.Minute, s.CooldownRemaining())
	})
}

func TestPending(t *testing.T) {
	s := newTestScheduler()

	assert.False(t, s.Pending("acc-1"))
	s.SetPending("acc-1", true)
	assert.True(t, s.Pending("acc-1"))
	s.SetPending("acc-1", false)
	assert.False(t, s.Pending("acc-1"))
}
