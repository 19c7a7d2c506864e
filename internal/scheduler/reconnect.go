package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-gateway-go/internal/provider"
)

// Decision is what the policy tells the lifecycle controller to do after a
// failure is recorded.
type Decision int

const (
	// DecisionNone: the reason is not retryable, do nothing.
	DecisionNone Decision = iota
	// DecisionRetry: schedule another connection attempt after Delay.
	DecisionRetry
	// DecisionFreshQR: the consecutive-failure budget is spent; escalate to a
	// fresh QR-pairing cycle instead of another delayed retry.
	DecisionFreshQR
)

// Outcome pairs a Decision with the delay to wait before acting on it.
type Outcome struct {
	Decision Decision
	Delay    time.Duration
	Attempt  int
}

type accountState struct {
	attemptCount      int
	lastFailureReason provider.DisconnectReason
	pending           bool
}

// Scheduler is the reconnection policy: exponential backoff per account, a
// consecutive-failure budget that escalates to re-pairing, and a single
// global cooldown that suppresses scheduling for every account when the
// provider signals rate limiting.
type Scheduler struct {
	base        time.Duration
	cap         time.Duration
	maxAttempts int

	mu            sync.Mutex
	accounts      map[string]*accountState
	cooldownUntil time.Time
	now           func() time.Time
}

func New(base, cap time.Duration, maxAttempts int) *Scheduler {
	return &Scheduler{
		base:        base,
		cap:         cap,
		maxAttempts: maxAttempts,
		accounts:    make(map[string]*accountState),
		now:         time.Now,
	}
}

// CalculateDelay returns min(base * 2^(attempt-1), cap). Attempt is 1-based.
func (s *Scheduler) CalculateDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := s.base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cap {
			return s.cap
		}
	}
	if d > s.cap {
		return s.cap
	}
	return d
}

// ShouldRetry reports whether a disconnect reason warrants automatic
// reconnection. Local-resource-only outcomes are excluded: a manual stop and
// a released resource are intentional, and a revoked pairing needs a fresh QR
// cycle, not a retry against dead credentials.
func (s *Scheduler) ShouldRetry(reason provider.DisconnectReason) bool {
	switch reason {
	case provider.ReasonManualStop, provider.ReasonResourceReleased, provider.ReasonAuthRejected, provider.ReasonNone:
		return false
	}
	return true
}

// RecordFailure records a failed attempt and returns what to do next. The
// returned delay already accounts for the global cooldown.
func (s *Scheduler) RecordFailure(accountID string, reason provider.DisconnectReason) Outcome {
	if !s.ShouldRetry(reason) {
		s.mu.Lock()
		if st, ok := s.accounts[accountID]; ok {
			st.lastFailureReason = reason
		}
		s.mu.Unlock()
		return Outcome{Decision: DecisionNone}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.accounts[accountID]
	if st == nil {
		st = &accountState{}
		s.accounts[accountID] = st
	}
	st.attemptCount++
	st.lastFailureReason = reason

	if st.attemptCount >= s.maxAttempts {
		attempt := st.attemptCount
		st.attemptCount = 0
		log.Warn().
			Str("accountId", accountID).
			Int("attempts", attempt).
			Str("reason", string(reason)).
			Msg("reconnect budget exhausted, escalating to fresh pairing")
		return Outcome{
			Decision: DecisionFreshQR,
			Delay:    s.applyCooldownLocked(0),
			Attempt:  attempt,
		}
	}

	delay := s.applyCooldownLocked(s.CalculateDelay(st.attemptCount))
	return Outcome{Decision: DecisionRetry, Delay: delay, Attempt: st.attemptCount}
}

// RecordSuccess clears per-account failure state after a connection is
// established.
func (s *Scheduler) RecordSuccess(accountID string) {
	s.mu.Lock()
	delete(s.accounts, accountID)
	s.mu.Unlock()
}

// ResetAttempts zeroes the attempt counter without clearing pending state.
func (s *Scheduler) ResetAttempts(accountID string) {
	s.mu.Lock()
	if st, ok := s.accounts[accountID]; ok {
		st.attemptCount = 0
	}
	s.mu.Unlock()
}

// AttemptCount returns the current consecutive-failure count.
func (s *Scheduler) AttemptCount(accountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.accounts[accountID]; ok {
		return st.attemptCount
	}
	return 0
}

// LastFailureReason returns the most recent recorded reason.
func (s *Scheduler) LastFailureReason(accountID string) provider.DisconnectReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.accounts[accountID]; ok {
		return st.lastFailureReason
	}
	return provider.ReasonNone
}

// SetPending marks an account as mid-reconnect (a retry timer is armed).
func (s *Scheduler) SetPending(accountID string, pending bool) {
	s.mu.Lock()
	st := s.accounts[accountID]
	if st == nil {
		st = &accountState{}
		s.accounts[accountID] = st
	}
	st.pending = pending
	s.mu.Unlock()
}

// Pending reports whether a retry is currently scheduled for the account.
func (s *Scheduler) Pending(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.accounts[accountID]; ok {
		return st.pending
	}
	return false
}

// SetCooldown arms the global cooldown. It is set when any account observes a
// provider-side rate-limit signal and suppresses scheduling for all accounts,
// so a burst of retries cannot trip the provider's anti-abuse systems.
func (s *Scheduler) SetCooldown(d time.Duration) {
	s.mu.Lock()
	until := s.now().Add(d)
	if until.After(s.cooldownUntil) {
		s.cooldownUntil = until
	}
	s.mu.Unlock()
	log.Warn().Dur("cooldown", d).Msg("global reconnect cooldown set")
}

// CooldownRemaining returns how much of the global cooldown is left.
func (s *Scheduler) CooldownRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cooldownRemainingLocked()
}

func (s *Scheduler) cooldownRemainingLocked() time.Duration {
	if rem := s.cooldownUntil.Sub(s.now()); rem > 0 {
		return rem
	}
	return 0
}

func (s *Scheduler) applyCooldownLocked(delay time.Duration) time.Duration {
	if rem := s.cooldownRemainingLocked(); rem > delay {
		return rem
	}
	return delay
}
