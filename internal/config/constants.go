package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Session lifecycle timing
const (
	// TeardownSettleDelay is how long a new provider resource creation waits
	// after tearing down the previous one. The automation engine reuses
	// resource identifiers; creating too quickly collides with the old one.
	TeardownSettleDelay = 2 * time.Second

	// GracefulDisconnectTimeout bounds a polite provider disconnect before
	// the handle is force-terminated.
	GracefulDisconnectTimeout = 10 * time.Second

	// ResourceCreateRetries is how many times resource creation is retried
	// internally before surfacing a provider resource error.
	ResourceCreateRetries    = 3
	ResourceCreateRetryDelay = 1 * time.Second

	// ProbeTimeout bounds a single liveness probe against the provider.
	ProbeTimeout = 15 * time.Second

	// StatusCheckInterval is how often a session still in pairing/connecting
	// probes the provider directly, catching a connected transition whose
	// state event was missed or unrecognized.
	StatusCheckInterval = 30 * time.Second
)

// ReconnectGlobalCooldown is how long all reconnection scheduling is
// suppressed after a provider-side rate-limit signal.
const ReconnectGlobalCooldown = 10 * time.Minute

// QR code brokering
const (
	// QRThrottleWindow suppresses reprocessing of an identical payload for
	// the same account arriving within this window.
	QRThrottleWindow = 5 * time.Second

	// QRRetryDelay is the pause before the single fresh pairing attempt
	// scheduled after an unpaired QR expires.
	QRRetryDelay = 3 * time.Second
)

// Health monitoring
const (
	HealthFailureThreshold = 3
	// HeartbeatWriteInterval bounds how often the durable last-seen
	// timestamp is written for a healthy session.
	HeartbeatWriteInterval = 30 * time.Minute
)

// Orphan reconciliation
const (
	// OrphanStaleThreshold is how stale a durable heartbeat must be before
	// the reconciler considers a connected record abandoned.
	OrphanStaleThreshold = 10 * time.Minute
)

// Media download limits
const (
	MediaMinValidBytes    = 512
	MediaFetchTimeout     = 30 * time.Second
	MediaMaxRedirects     = 3
	MediaMaxDownloadBytes = 64 << 20
)

// Message ingestion
const (
	// PendingMatchWindow is how far back the dedup fallback looks for a
	// same-content pending row when the provider echo carries no usable id.
	PendingMatchWindow = 10 * time.Minute
)

// Default rate limiting for the HTTP surface
const DefaultRateLimitPerMin = 60
