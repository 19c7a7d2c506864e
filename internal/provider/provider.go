package provider

import (
	"context"
	"errors"
)

// ErrAlreadyRunning is returned by a Factory when the automation engine
// reports that a resource with the requested identifier is still running.
// The caller falls back to an alternate resource identifier.
var ErrAlreadyRunning = errors.New("provider resource already running")

// Identity is the provider-side identity an account is paired to.
type Identity struct {
	JID      string `json:"jid"`
	Phone    string `json:"phone,omitempty"`
	PushName string `json:"pushName,omitempty"`
}

// Media is an outbound attachment handed to SendMedia.
type Media struct {
	MimeType string
	Filename string
	Data     []byte
	Caption  string
}

// Resource is the capability handle onto one vendor automation-engine
// instance. Core logic depends only on this interface; a concrete vendor
// binding lives outside this module and a stub is injected in tests.
//
// All blocking calls take a context and must be bounded by it. Events returns
// the resource's event stream; the channel is closed when the resource is
// terminated.
type Resource interface {
	// ResourceID is the engine-side identifier this resource was created under.
	ResourceID() string

	// Connect starts the link. Completion is signaled via Events, not the
	// return value: a nil error only means the attempt was accepted.
	Connect(ctx context.Context) error

	// Disconnect requests a graceful close.
	Disconnect(ctx context.Context) error

	// Terminate force-kills the resource without network round-trips. Safe to
	// call after a failed Disconnect and safe to call twice.
	Terminate()

	// Probe checks liveness of an established link.
	Probe(ctx context.Context) (bool, error)

	// Identity returns the paired provider identity, if any.
	Identity(ctx context.Context) (*Identity, error)

	SendText(ctx context.Context, to string, text string) (providerMessageID string, err error)
	SendMedia(ctx context.Context, to string, media Media) (providerMessageID string, err error)

	// FetchMediaByID downloads attachment bytes for a provider message id.
	FetchMediaByID(ctx context.Context, providerMessageID string) ([]byte, error)

	Events() <-chan Event
}

// Factory creates provider resources. PurgeCredentials removes persisted
// pairing credentials so the next resource starts a fresh QR handshake.
type Factory interface {
	Create(ctx context.Context, accountID string, resourceID string) (Resource, error)
	PurgeCredentials(ctx context.Context, accountID string) error
}
