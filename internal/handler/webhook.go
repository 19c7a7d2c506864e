package handler

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-gateway-go/internal/provider/engine"
)

// WebhookHandler receives event deliveries from the automation engine. The
// engine retries on non-2xx, so anything we can never process (malformed
// body, unknown instance) is acknowledged with 200 to stop the retries.
type WebhookHandler struct {
	dispatcher *engine.Dispatcher
}

func NewWebhookHandler(dispatcher *engine.Dispatcher) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher}
}

// POST /engine/webhook
func (h *WebhookHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var ev engine.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		log.Warn().Err(err).Msg("invalid engine webhook request")
		writeJSON(w, http.StatusOK, map[string]bool{"ok": false})
		return
	}

	delivered := h.dispatcher.Dispatch(ev)

	log.Debug().
		Str("instanceId", ev.InstanceID).
		Str("event", ev.Event).
		Bool("delivered", delivered).
		Msg("engine webhook received")

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
