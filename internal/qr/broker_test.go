package qr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openclaw/wa-gateway-go/internal/notify"
)

type recordedPublish struct {
	channel string // "user" or "org"
	target  string
	event   notify.Event
}

type recordingBus struct {
	published []recordedPublish
}

func (b *recordingBus) PublishUser(ctx context.Context, userID string, ev notify.Event) error {
	b.published = append(b.published, recordedPublish{channel: "user", target: userID, event: ev})
	return nil
}

func (b *recordingBus) PublishOrg(ctx context.Context, orgID string, ev notify.Event) error {
	b.published = append(b.published, recordedPublish{channel: "org", target: orgID, event: ev})
	return nil
}

func orgTarget() Target {
	return Target{OrganizationID: "org-1"}
}

func TestIssue(t *testing.T) {
	ctx := context.Background()

	t.Run("renders and caches", func(t *testing.T) {
		bus := &recordingBus{}
		b := NewBroker(bus, 5*time.Minute)

		entry := b.Issue(ctx, "acc-1", "payload-1", orgTarget())

		assert.NotNil(t, entry)
		assert.NotEmpty(t, entry.PNG)
		assert.Equal(t, "payload-1", entry.RawPayload)
		assert.WithinDuration(t, time.Now().Add(5*time.Minute), entry.ExpiresAt, time.Second)
		assert.Same(t, entry, b.GetCached("acc-1"))
	})

	t.Run("throttles identical payload", func(t *testing.T) {
		bus := &recordingBus{}
		b := NewBroker(bus, 5*time.Minute)

		first := b.Issue(ctx, "acc-1", "payload-1", orgTarget())
		second := b.Issue(ctx, "acc-1", "payload-1", orgTarget())

		assert.NotNil(t, first)
		assert.Nil(t, second)
		assert.Len(t, bus.published, 1)
	})

	t.Run("new payload supersedes previous", func(t *testing.T) {
		bus := &recordingBus{}
		b := NewBroker(bus, 5*time.Minute)

		b.Issue(ctx, "acc-1", "payload-1", orgTarget())
		entry := b.Issue(ctx, "acc-1", "payload-2", orgTarget())

		assert.NotNil(t, entry)
		assert.Equal(t, "payload-2", b.GetCached("acc-1").RawPayload)
		assert.Len(t, bus.published, 2)
	})

	t.Run("manual start with initiator delivers to user channel only", func(t *testing.T) {
		bus := &recordingBus{}
		b := NewBroker(bus, 5*time.Minute)

		b.Issue(ctx, "acc-1", "payload-1", Target{
			InitiatorUserID: "user-7",
			OrganizationID:  "org-1",
			Manual:          true,
		})

		assert.Len(t, bus.published, 1)
		assert.Equal(t, "user", bus.published[0].channel)
		assert.Equal(t, "user-7", bus.published[0].target)
		assert.Equal(t, notify.EventQRIssued, bus.published[0].event.Type)
	})

	t.Run("auto reconnect delivers to org channel only", func(t *testing.T) {
		bus := &recordingBus{}
		b := NewBroker(bus, 5*time.Minute)

		b.Issue(ctx, "acc-1", "payload-1", Target{
			InitiatorUserID: "user-7",
			OrganizationID:  "org-1",
			Manual:          false,
		})

		assert.Len(t, bus.published, 1)
		assert.Equal(t, "org", bus.published[0].channel)
		assert.Equal(t, "org-1", bus.published[0].target)
	})

	t.Run("manual without initiator falls back to org channel", func(t *testing.T) {
		bus := &recordingBus{}
		b := NewBroker(bus, 5*time.Minute)

		b.Issue(ctx, "acc-1", "payload-1", Target{OrganizationID: "org-1", Manual: true})

		assert.Len(t, bus.published, 1)
		assert.Equal(t, "org", bus.published[0].channel)
	})
}

func TestGetCached(t *testing.T) {
	t.Run("expired entry is not served", func(t *testing.T) {
		bus := &recordingBus{}
		b := NewBroker(bus, -time.Second)

		b.Issue(context.Background(), "acc-1", "payload-1", orgTarget())
		assert.Nil(t, b.GetCached("acc-1"))
	})

	t.Run("unknown account", func(t *testing.T) {
		b := NewBroker(&recordingBus{}, 5*time.Minute)
		assert.Nil(t, b.GetCached("acc-1"))
	})
}

func TestExpire(t *testing.T) {
	ctx := context.Background()

	t.Run("invalidates and notifies org", func(t *testing.T) {
		bus := &recordingBus{}
		b := NewBroker(bus, 5*time.Minute)
		b.Issue(ctx, "acc-1", "payload-1", orgTarget())

		assert.True(t, b.Expire(ctx, "acc-1", "org-1"))
		assert.Nil(t, b.GetCached("acc-1"))

		last := bus.published[len(bus.published)-1]
		assert.Equal(t, notify.EventQRExpired, last.event.Type)
		assert.Equal(t, "org", last.channel)
	})

	t.Run("second expire is a no-op", func(t *testing.T) {
		bus := &recordingBus{}
		b := NewBroker(bus, 5*time.Minute)
		b.Issue(ctx, "acc-1", "payload-1", orgTarget())

		assert.True(t, b.Expire(ctx, "acc-1", "org-1"))
		assert.False(t, b.Expire(ctx, "acc-1", "org-1"))
	})

	t.Run("invalidate drops without notification", func(t *testing.T) {
		bus := &recordingBus{}
		b := NewBroker(bus, 5*time.Minute)
		b.Issue(ctx, "acc-1", "payload-1", orgTarget())

		b.Invalidate("acc-1")

		assert.Nil(t, b.GetCached("acc-1"))
		assert.Len(t, bus.published, 1) // only the original issuance
		assert.False(t, b.Expire(ctx, "acc-1", "org-1"))
	})
}
