package engine

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-gateway-go/internal/provider"
)

// WebhookEvent is the engine's webhook payload. One POST carries one event
// for one instance.
type WebhookEvent struct {
	InstanceID string `json:"instanceId"`
	Event      string `json:"event"` // qr | state | message

	QR     string `json:"qr,omitempty"`
	State  string `json:"state,omitempty"`
	Reason string `json:"reason,omitempty"`

	Message *provider.RawMessage `json:"message,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Dispatcher routes webhook deliveries to the resource that owns the
// instance. Channel close happens under the same lock as delivery, so a
// Terminate can never race a send.
type Dispatcher struct {
	mu        sync.RWMutex
	resources map[string]*Resource
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{resources: make(map[string]*Resource)}
}

func (d *Dispatcher) register(r *Resource) {
	d.mu.Lock()
	d.resources[r.id] = r
	d.mu.Unlock()
}

func (d *Dispatcher) unregister(id string) {
	d.mu.Lock()
	if r, ok := d.resources[id]; ok {
		delete(d.resources, id)
		close(r.events)
	}
	d.mu.Unlock()
}

// Dispatch translates a webhook event and delivers it to the owning resource.
// Returns false when no resource owns the instance, which happens for
// stragglers arriving after teardown.
func (d *Dispatcher) Dispatch(ev WebhookEvent) bool {
	translated, ok := translate(ev)
	if !ok {
		log.Warn().
			Str("instanceId", ev.InstanceID).
			Str("event", ev.Event).
			Msg("unrecognized engine webhook event")
		return false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.resources[ev.InstanceID]
	if !ok {
		log.Debug().
			Str("instanceId", ev.InstanceID).
			Str("event", ev.Event).
			Msg("webhook event for unknown instance dropped")
		return false
	}

	select {
	case r.events <- translated:
		return true
	default:
		log.Warn().
			Str("instanceId", ev.InstanceID).
			Str("event", ev.Event).
			Msg("resource event buffer full, dropping event")
		return false
	}
}

func translate(ev WebhookEvent) (provider.Event, bool) {
	switch ev.Event {
	case "qr":
		if ev.QR == "" {
			return provider.Event{}, false
		}
		return provider.Event{Kind: provider.EventQR, QRPayload: ev.QR}, true

	case "state":
		state, _ := provider.NormalizeState(ev.State)
		return provider.Event{
			Kind:     provider.EventState,
			RawState: ev.State,
			State:    state,
			Reason:   provider.NormalizeReason(ev.Reason),
		}, true

	case "message":
		if ev.Message == nil {
			return provider.Event{}, false
		}
		return provider.Event{Kind: provider.EventMessage, Message: ev.Message}, true

	default:
		return provider.Event{}, false
	}
}
