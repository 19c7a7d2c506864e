package session

import (
	"sync"
	"time"

	"github.com/openclaw/wa-gateway-go/internal/model"
	"github.com/openclaw/wa-gateway-go/internal/provider"
)

// Session is the runtime record for one account's connection attempt/state.
// All mutable fields are guarded by mu. The provider handle is owned
// exclusively by the session; nothing else may call it after teardown.
type Session struct {
	AccountID       string
	OrganizationID  string
	DisplayName     string
	TriggerSource   model.TriggerSource
	InitiatorUserID string
	CreatedAt       time.Time

	// wantsQR is set once before the session is published and never changes.
	wantsQR bool

	mu                sync.Mutex
	status            model.SessionStatus
	resource          provider.Resource
	selfIdentity      string
	lastAttemptAt     time.Time
	lastHeartbeatAt   time.Time
	healthFailures    int
	lastHeartbeatSave time.Time

	tasks     taskSet
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(accountID, orgID, displayName string, source model.TriggerSource, initiatorUserID string) *Session {
	return &Session{
		AccountID:       accountID,
		OrganizationID:  orgID,
		DisplayName:     displayName,
		TriggerSource:   source,
		InitiatorUserID: initiatorUserID,
		CreatedAt:       time.Now(),
		status:          model.SessionStatusIdle,
		done:            make(chan struct{}),
	}
}

// Snapshot is a point-in-time copy of session state, safe to hand out.
// AttemptCount is the consecutive-failure count owned by the reconnection
// scheduler; the controller fills it in when serving status queries.
type Snapshot struct {
	AccountID       string              `json:"accountId"`
	Status          model.SessionStatus `json:"status"`
	TriggerSource   model.TriggerSource `json:"triggerSource"`
	InitiatorUserID string              `json:"initiatorUserId,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	LastAttemptAt   time.Time           `json:"lastAttemptAt,omitempty"`
	AttemptCount    int                 `json:"attemptCount"`
	LastHeartbeatAt time.Time           `json:"lastHeartbeatAt,omitempty"`
	HealthFailures  int                 `json:"healthFailures"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		AccountID:       s.AccountID,
		Status:          s.status,
		TriggerSource:   s.TriggerSource,
		InitiatorUserID: s.InitiatorUserID,
		CreatedAt:       s.CreatedAt,
		LastAttemptAt:   s.lastAttemptAt,
		LastHeartbeatAt: s.lastHeartbeatAt,
		HealthFailures:  s.healthFailures,
	}
}

// Status returns the current runtime status.
func (s *Session) Status() model.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Connected reports the in-memory connected flag.
func (s *Session) Connected() bool {
	return s.Status() == model.SessionStatusConnected
}

func (s *Session) setStatus(st model.SessionStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Resource returns the provider handle, which may be nil before the resource
// is created or after teardown. Callers must not retain it across a teardown.
func (s *Session) Resource() provider.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resource
}

func (s *Session) setResource(r provider.Resource) {
	s.mu.Lock()
	s.resource = r
	s.mu.Unlock()
}

// MarkHeartbeat records a successful liveness probe and resets the
// consecutive-failure counter. It returns true when the durable last-seen
// write is due, so callers can bound write load.
func (s *Session) MarkHeartbeat(writeInterval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeatAt = time.Now()
	s.healthFailures = 0
	if time.Since(s.lastHeartbeatSave) >= writeInterval {
		s.lastHeartbeatSave = time.Now()
		return true
	}
	return false
}

// MarkHealthFailure increments the consecutive probe-failure counter and
// returns the new count.
func (s *Session) MarkHealthFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthFailures++
	return s.healthFailures
}

// SelfIdentity returns the paired provider identity (JID), set once the
// session reaches connected.
func (s *Session) SelfIdentity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfIdentity
}

func (s *Session) setSelfIdentity(id string) {
	s.mu.Lock()
	s.selfIdentity = id
	s.mu.Unlock()
}

func (s *Session) markAttempt() {
	s.mu.Lock()
	s.lastAttemptAt = time.Now()
	s.mu.Unlock()
}

// Done is closed when the session has been fully torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) markDone() {
	s.closeOnce.Do(func() { close(s.done) })
}
