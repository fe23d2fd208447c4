package http

import (
	"encoding/json"
	"io"
	"log"
	stdhttp "net/http"

	"askboard/internal/handler"
	"askboard/internal/httputil"
	"askboard/internal/platform"
	authmw "askboard/internal/transport/http/middleware"
)

// maxUpdateBytes bounds a single webhook payload.
const maxUpdateBytes = 1 << 20

// WebhookHandler accepts platform updates and hands them to the per-chat
// dispatcher. It always answers quickly; event handling happens off the
// request path so the platform never retries because of slow processing.
type WebhookHandler struct {
	dispatcher *handler.Dispatcher
	limiter    *authmw.PerKeyLimiter
}

func NewWebhookHandler(dispatcher *handler.Dispatcher, limiter *authmw.PerKeyLimiter) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher, limiter: limiter}
}

func (h *WebhookHandler) Receive(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBytes))
	if err != nil {
		httputil.WriteBadRequest(w, "unreadable body")
		return
	}

	var update platform.Update
	if err := json.Unmarshal(body, &update); err != nil {
		httputil.WriteBadRequest(w, "malformed update")
		return
	}

	chatID := update.ChatID()
	if chatID == 0 {
		// Not an update kind this core handles; acknowledge and move on.
		httputil.WriteJSON(w, stdhttp.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if !h.limiter.Allow(chatID) {
		// Dropped, but still 200: a 429 would only make the platform
		// redeliver the same flood.
		log.Printf("[Webhook] Rate limited chat=%d update=%d", chatID, update.UpdateID)
		httputil.WriteJSON(w, stdhttp.StatusOK, map[string]string{"status": "rate_limited"})
		return
	}

	h.dispatcher.Dispatch(update)
	httputil.WriteJSON(w, stdhttp.StatusOK, map[string]string{"status": "ok"})
}
