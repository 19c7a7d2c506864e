package qr

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/openclaw/wa-gateway-go/internal/config"
	"github.com/openclaw/wa-gateway-go/internal/notify"
)

const renderSize = 256

// Entry is one cached pairing code for an account.
type Entry struct {
	AccountID  string
	RawPayload string
	PNG        []byte
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Target tells the broker where a QR belongs. A manual start with a known
// initiator gets the code on that user's private channel only; every other
// flow (auto reconnect, invite) goes to the organization channel only.
type Target struct {
	InitiatorUserID string
	OrganizationID  string
	Manual          bool
}

// Broker renders, caches, throttles and delivers pairing codes. One entry per
// account; a new issuance supersedes and invalidates the previous one.
type Broker struct {
	bus notify.Bus
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]*Entry
}

func NewBroker(bus notify.Bus, ttl time.Duration) *Broker {
	return &Broker{
		bus:     bus,
		ttl:     ttl,
		entries: make(map[string]*Entry),
	}
}

// Issue renders rawPayload and delivers it per target. An identical payload
// for the same account arriving within the throttle window is dropped:
// providers re-emit the current code faster than users can scan it. Returns
// the entry, or nil when throttled or rendering failed.
func (b *Broker) Issue(ctx context.Context, accountID, rawPayload string, target Target) *Entry {
	b.mu.Lock()
	if prev, ok := b.entries[accountID]; ok &&
		prev.RawPayload == rawPayload &&
		time.Since(prev.IssuedAt) < config.QRThrottleWindow {
		b.mu.Unlock()
		log.Debug().Str("accountId", accountID).Msg("identical qr payload within throttle window, skipping")
		return nil
	}
	b.mu.Unlock()

	png, err := qrcode.Encode(rawPayload, qrcode.Medium, renderSize)
	if err != nil {
		log.Error().Err(err).Str("accountId", accountID).Msg("failed to render qr code")
		return nil
	}

	now := time.Now()
	entry := &Entry{
		AccountID:  accountID,
		RawPayload: rawPayload,
		PNG:        png,
		IssuedAt:   now,
		ExpiresAt:  now.Add(b.ttl),
	}

	b.mu.Lock()
	b.entries[accountID] = entry
	b.mu.Unlock()

	b.deliver(ctx, entry, target)
	return entry
}

func (b *Broker) deliver(ctx context.Context, entry *Entry, target Target) {
	ev := notify.NewEvent(notify.EventQRIssued, entry.AccountID, map[string]any{
		"qrImage":   "data:image/png;base64," + base64.StdEncoding.EncodeToString(entry.PNG),
		"issuedAt":  entry.IssuedAt,
		"expiresAt": entry.ExpiresAt,
	})

	var err error
	if target.Manual && target.InitiatorUserID != "" {
		err = b.bus.PublishUser(ctx, target.InitiatorUserID, ev)
	} else {
		err = b.bus.PublishOrg(ctx, target.OrganizationID, ev)
	}
	if err != nil {
		log.Error().Err(err).Str("accountId", entry.AccountID).Msg("failed to deliver qr code")
		return
	}

	log.Info().
		Str("accountId", entry.AccountID).
		Bool("private", target.Manual && target.InitiatorUserID != "").
		Time("expiresAt", entry.ExpiresAt).
		Msg("qr code issued")
}

// GetCached returns the current unexpired entry for pull-style polling. The
// cached raw payload is served without a new issuance.
func (b *Broker) GetCached(accountID string) *Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[accountID]
	if !ok || time.Now().After(entry.ExpiresAt) {
		return nil
	}
	return entry
}

// Expire invalidates the cache entry and emits the expiry notification to the
// organization channel. Returns true if an entry was actually expired, so the
// caller can schedule the single follow-up pairing attempt for sessions that
// never reached connected.
func (b *Broker) Expire(ctx context.Context, accountID, organizationID string) bool {
	b.mu.Lock()
	_, ok := b.entries[accountID]
	delete(b.entries, accountID)
	b.mu.Unlock()

	if !ok {
		return false
	}

	ev := notify.NewEvent(notify.EventQRExpired, accountID, nil)
	if err := b.bus.PublishOrg(ctx, organizationID, ev); err != nil {
		log.Error().Err(err).Str("accountId", accountID).Msg("failed to publish qr expiry")
	}

	log.Info().Str("accountId", accountID).Msg("qr code expired")
	return true
}

// Invalidate drops the cache entry without notifications, used on successful
// pairing and on teardown.
func (b *Broker) Invalidate(accountID string) {
	b.mu.Lock()
	delete(b.entries, accountID)
	b.mu.Unlock()
}
