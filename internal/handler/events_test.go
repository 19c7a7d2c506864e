package handler

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/wa-gateway-go/internal/notify"
)

func TestSendEvent(t *testing.T) {
	t.Run("writes the sse frame", func(t *testing.T) {
		h := NewEventsHandler(nil)
		rec := httptest.NewRecorder()

		ev := notify.NewEvent(notify.EventConnected, "acc-1", map[string]string{"jid": "5511900000000@c.us"})
		require.NoError(t, h.sendEvent(rec, rec, ev))

		body := rec.Body.String()
		assert.True(t, strings.HasPrefix(body, "event: connected\n"))
		assert.Contains(t, body, "data: ")
		assert.True(t, strings.HasSuffix(body, "\n\n"))
	})

	t.Run("stream open carries a parseable timestamp", func(t *testing.T) {
		h := NewEventsHandler(nil)
		rec := httptest.NewRecorder()

		// Same shape the handler emits on connection establishment.
		require.NoError(t, h.sendEvent(rec, rec, notify.Event{
			Type:      "stream_open",
			Timestamp: time.Now(),
		}))

		lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
		require.Len(t, lines, 2)
		var parsed notify.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &parsed))
		assert.Equal(t, "stream_open", parsed.Type)
		assert.WithinDuration(t, time.Now(), parsed.Timestamp, time.Minute)
	})
}
