package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeState(t *testing.T) {
	t.Run("maps synonyms", func(t *testing.T) {
		cases := map[string]State{
			"connecting":   StateConnecting,
			"opening":      StateConnecting,
			"loading":      StateConnecting,
			"qrcode":       StatePairing,
			"unpaired":     StatePairing,
			"connected":    StateConnected,
			"open":         StateConnected,
			"in_chat":      StateConnected,
			"disconnected": StateDisconnected,
			"close":        StateDisconnected,
			"logged_out":   StateLoggedOut,
			"banned":       StateLoggedOut,
		}
		for raw, want := range cases {
			got, ok := NormalizeState(raw)
			assert.True(t, ok, raw)
			assert.Equal(t, want, got, raw)
		}
	})

	t.Run("case and separator insensitive", func(t *testing.T) {
		for _, raw := range []string{"QR CODE", "qr-code", "Qr_Code", "  QRCODE  "} {
			got, ok := NormalizeState(raw)
			assert.True(t, ok, raw)
			assert.Equal(t, StatePairing, got, raw)
		}

		got, ok := NormalizeState("LOGGED-OUT")
		assert.True(t, ok)
		assert.Equal(t, StateLoggedOut, got)
	})

	t.Run("unrecognized returns unknown and false", func(t *testing.T) {
		got, ok := NormalizeState("quantum_flux")
		assert.False(t, ok)
		assert.Equal(t, StateUnknown, got)

		got, ok = NormalizeState("")
		assert.False(t, ok)
		assert.Equal(t, StateUnknown, got)
	})
}

func TestNormalizeReason(t *testing.T) {
	t.Run("maps synonyms", func(t *testing.T) {
		assert.Equal(t, ReasonNetwork, NormalizeReason("network error"))
		assert.Equal(t, ReasonAuthRejected, NormalizeReason("Logged Out"))
		assert.Equal(t, ReasonAuthRejected, NormalizeReason("unauthorized"))
		assert.Equal(t, ReasonRateLimited, NormalizeReason("too-many-requests"))
		assert.Equal(t, ReasonEngineCrashed, NormalizeReason("browser crashed"))
		assert.Equal(t, ReasonResourceReleased, NormalizeReason("browser_closed"))
	})

	t.Run("empty is none", func(t *testing.T) {
		assert.Equal(t, ReasonNone, NormalizeReason(""))
		assert.Equal(t, ReasonNone, NormalizeReason("   "))
	})

	t.Run("unrecognized is unknown", func(t *testing.T) {
		assert.Equal(t, ReasonUnknown, NormalizeReason("gremlins"))
	})
}
