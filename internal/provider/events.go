package provider

import (
	"encoding/json"
	"strings"
	"time"
)

// EventKind discriminates provider events.
type EventKind string

const (
	EventQR      EventKind = "qr"
	EventState   EventKind = "state"
	EventMessage EventKind = "message"
)

// State is the normalized connection state reported by the provider.
type State string

const (
	StateConnecting   State = "connecting"
	StatePairing      State = "pairing"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateLoggedOut    State = "logged_out"
	StateUnknown      State = "unknown"
)

// Event is one item on a resource's event stream.
type Event struct {
	Kind EventKind

	// QRPayload is set for EventQR.
	QRPayload string

	// RawState is the provider-native state string for EventState; State is
	// its normalized form (StateUnknown when unrecognized).
	RawState string
	State    State

	// Reason accompanies disconnected/logged_out states.
	Reason DisconnectReason

	// Message is set for EventMessage.
	Message *RawMessage
}

// RawMessage is a provider-native inbound or echo message before
// normalization.
type RawMessage struct {
	ID          string          `json:"id"`
	AltIDs      []string        `json:"altIds,omitempty"`
	ChatID      string          `json:"chatId"`
	SenderID    string          `json:"senderId"`
	SenderName  string          `json:"senderName,omitempty"`
	FromMe      bool            `json:"fromMe"`
	Type        string          `json:"type"`
	Text        string          `json:"text,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	MediaURL    string          `json:"mediaUrl,omitempty"`
	MediaBase64 string          `json:"mediaBase64,omitempty"`
	MimeType    string          `json:"mimeType,omitempty"`
	FileSize    int64           `json:"fileSize,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// DisconnectReason is an explicit enum of disconnect causes. Upstream engines
// report free-form strings; NormalizeReason maps them here once so nothing
// downstream matches on substrings.
type DisconnectReason string

const (
	ReasonNone              DisconnectReason = ""
	ReasonNetwork           DisconnectReason = "network_error"
	ReasonConnectionLost    DisconnectReason = "connection_lost"
	ReasonAuthRejected      DisconnectReason = "auth_rejected"
	ReasonRateLimited       DisconnectReason = "rate_limited"
	ReasonHealthCheckFailed DisconnectReason = "health_check_failed"
	ReasonConnectionTimeout DisconnectReason = "connection_timeout"
	ReasonManualStop        DisconnectReason = "manual_stop"
	ReasonResourceReleased  DisconnectReason = "resource_released"
	ReasonEngineCrashed     DisconnectReason = "engine_crashed"
	ReasonUnknown           DisconnectReason = "unknown"
)

var stateSynonyms = map[string]State{
	"connecting":   StateConnecting,
	"opening":      StateConnecting,
	"loading":      StateConnecting,
	"starting":     StateConnecting,
	"initializing": StateConnecting,
	"syncing":      StateConnecting,

	"qr":       StatePairing,
	"qrcode":   StatePairing,
	"qr_code":  StatePairing,
	"scan_qr":  StatePairing,
	"pairing":  StatePairing,
	"unpaired": StatePairing,

	"connected":     StateConnected,
	"open":          StateConnected,
	"online":        StateConnected,
	"ready":         StateConnected,
	"authenticated": StateConnected,
	"in_chat":       StateConnected,
	"logged_in":     StateConnected,

	"disconnected": StateDisconnected,
	"close":        StateDisconnected,
	"closed":       StateDisconnected,
	"offline":      StateDisconnected,
	"timeout":      StateDisconnected,

	"logged_out": StateLoggedOut,
	"logout":     StateLoggedOut,
	"banned":     StateLoggedOut,
	"conflict":   StateLoggedOut,
	"unlaunched": StateLoggedOut,
}

// NormalizeState maps a provider-native state string onto State. Matching is
// case-insensitive and tolerant of separator variants ("QR CODE", "qr-code").
// Unrecognized strings return StateUnknown and false; callers must log them
// rather than drop them, the health monitor and orphan reconciler backstop a
// missed connected transition.
func NormalizeState(raw string) (State, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if s, ok := stateSynonyms[key]; ok {
		return s, true
	}
	return StateUnknown, false
}

var reasonSynonyms = map[string]DisconnectReason{
	"network":            ReasonNetwork,
	"network_error":      ReasonNetwork,
	"connection_lost":    ReasonConnectionLost,
	"stream_error":       ReasonConnectionLost,
	"auth_failure":       ReasonAuthRejected,
	"auth_rejected":      ReasonAuthRejected,
	"logged_out":         ReasonAuthRejected,
	"unauthorized":       ReasonAuthRejected,
	"rate_limited":       ReasonRateLimited,
	"too_many_requests":  ReasonRateLimited,
	"overlimit":          ReasonRateLimited,
	"manual_stop":        ReasonManualStop,
	"user_requested":     ReasonManualStop,
	"resource_released":  ReasonResourceReleased,
	"browser_closed":     ReasonResourceReleased,
	"engine_crashed":     ReasonEngineCrashed,
	"browser_crashed":    ReasonEngineCrashed,
	"connection_timeout": ReasonConnectionTimeout,
}

// NormalizeReason maps a provider-native disconnect cause onto the explicit
// reason enum. Unrecognized causes map to ReasonUnknown, which is retryable.
func NormalizeReason(raw string) DisconnectReason {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if key == "" {
		return ReasonNone
	}
	if r, ok := reasonSynonyms[key]; ok {
		return r
	}
	return ReasonUnknown
}
