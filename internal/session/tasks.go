package session

import (
	"sync"
	"time"
)

// taskSet consolidates the timers a session owns (QR expiry, connection
// timeout, health interval, status check). Teardown cancels all of them in one
// call under one lock, so no timer can fire against a dead session.
type taskSet struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

const (
	taskQRExpiry       = "qr_expiry"
	taskConnectTimeout = "connect_timeout"
	taskStatusCheck    = "status_check"
	taskQRRetry        = "qr_retry"
	taskReconnect      = "reconnect"
)

// schedule arms (or re-arms) the named timer. After cancelAll, scheduling is a
// no-op.
func (t *taskSet) schedule(name string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	if t.timers == nil {
		t.timers = make(map[string]*time.Timer)
	}
	if old, ok := t.timers[name]; ok {
		old.Stop()
	}
	t.timers[name] = time.AfterFunc(d, fn)
}

// cancel stops the named timer if armed.
func (t *taskSet) cancel(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[name]; ok {
		timer.Stop()
		delete(t.timers, name)
	}
}

// cancelAll stops every timer and marks the set closed.
func (t *taskSet) cancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	for name, timer := range t.timers {
		timer.Stop()
		delete(t.timers, name)
	}
}
