package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/openclaw/wa-gateway-go/internal/redis"
)

// Event types published by the lifecycle core and consumed by the
// presentation layer.
const (
	EventQRIssued        = "qr_issued"
	EventQRExpired       = "qr_expired"
	EventConnected       = "connected"
	EventDisconnected    = "disconnected"
	EventConnectionError = "connection_error"
	EventMessageReceived = "message_received"
)

// Event is one notification on a user or organization channel.
type Event struct {
	Type      string          `json:"type"`
	AccountID string          `json:"accountId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent builds an Event, marshalling data. Marshal failures degrade to an
// event without data rather than failing the caller.
func NewEvent(eventType, accountID string, data any) Event {
	ev := Event{
		Type:      eventType,
		AccountID: accountID,
		Timestamp: time.Now(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			log.Error().Err(err).Str("type", eventType).Msg("failed to marshal event data")
		} else {
			ev.Data = raw
		}
	}
	return ev
}

// Bus publishes lifecycle events to per-user and per-organization channels.
type Bus interface {
	PublishUser(ctx context.Context, userID string, ev Event) error
	PublishOrg(ctx context.Context, organizationID string, ev Event) error
}

// RedisBus is the redis pub/sub implementation of Bus.
type RedisBus struct {
	redis *redisclient.Client
}

func NewRedisBus(client *redisclient.Client) *RedisBus {
	return &RedisBus{redis: client}
}

func (b *RedisBus) PublishUser(ctx context.Context, userID string, ev Event) error {
	return b.publish(ctx, redisclient.UserChannel(userID), ev)
}

func (b *RedisBus) PublishOrg(ctx context.Context, organizationID string, ev Event) error {
	return b.publish(ctx, redisclient.OrgChannel(organizationID), ev)
}

func (b *RedisBus) publish(ctx context.Context, channel string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, channel, data).Err()
}
