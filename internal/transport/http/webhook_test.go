package http

import (
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"askboard/internal/handler"
	"askboard/internal/platform"
	authmw "askboard/internal/transport/http/middleware"
)

func newTestRouter(t *testing.T, secret string, perMinute int) (*httptest.Server, *handler.Dispatcher, *int) {
	t.Helper()
	handled := 0
	dispatcher := handler.NewDispatcher(func(ctx context.Context, u platform.Update) {
		handled++
	})
	webhook := NewWebhookHandler(dispatcher, authmw.NewPerKeyLimiter(perMinute))
	srv := httptest.NewServer(NewRouter(RouterConfig{Webhook: webhook, WebhookSecret: secret}))
	t.Cleanup(srv.Close)
	return srv, dispatcher, &handled
}

func postUpdate(t *testing.T, srv *httptest.Server, secret, body string) (int, map[string]string) {
	t.Helper()
	req, err := stdhttp.NewRequest(stdhttp.MethodPost, srv.URL+"/webhook", strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if secret != "" {
		req.Header.Set(authmw.SecretHeader, secret)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("POST /webhook: %v", err)
	}
	defer resp.Body.Close()

	var parsed map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&parsed)
	return resp.StatusCode, parsed
}

func TestWebhookDispatchesUpdate(t *testing.T) {
	srv, dispatcher, handled := newTestRouter(t, "", 60)

	status, body := postUpdate(t, srv, "", `{"update_id": 1, "message": {"message_id": 1, "chat": {"id": 100}, "kind": "text", "text": "hi"}}`)
	if status != 200 || body["status"] != "ok" {
		t.Errorf("response = %d %v, want 200 ok", status, body)
	}
	dispatcher.Wait()
	if *handled != 1 {
		t.Errorf("handled = %d, want 1", *handled)
	}
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	srv, _, handled := newTestRouter(t, "right-secret", 60)

	status, _ := postUpdate(t, srv, "wrong-secret", `{"update_id": 1}`)
	if status != 401 {
		t.Errorf("status = %d, want 401", status)
	}
	status, _ = postUpdate(t, srv, "", `{"update_id": 1}`)
	if status != 401 {
		t.Errorf("missing secret status = %d, want 401", status)
	}
	if *handled != 0 {
		t.Errorf("handled = %d, want 0", *handled)
	}
}

func TestWebhookIgnoresChatlessUpdate(t *testing.T) {
	srv, _, handled := newTestRouter(t, "", 60)

	status, body := postUpdate(t, srv, "", `{"update_id": 9}`)
	if status != 200 || body["status"] != "ignored" {
		t.Errorf("response = %d %v, want 200 ignored", status, body)
	}
	if *handled != 0 {
		t.Errorf("handled = %d, want 0", *handled)
	}
}

func TestWebhookMalformedBody(t *testing.T) {
	srv, _, _ := newTestRouter(t, "", 60)
	status, _ := postUpdate(t, srv, "", `{not json`)
	if status != 400 {
		t.Errorf("status = %d, want 400", status)
	}
}

func TestWebhookRateLimitStillAcks(t *testing.T) {
	// Budget of one per minute: the second update is dropped but the
	// platform still gets a 200 so it does not redeliver.
	srv, dispatcher, handled := newTestRouter(t, "", 1)
	update := `{"update_id": 1, "message": {"message_id": 1, "chat": {"id": 100}, "kind": "text", "text": "hi"}}`

	status, body := postUpdate(t, srv, "", update)
	if status != 200 || body["status"] != "ok" {
		t.Fatalf("first response = %d %v", status, body)
	}
	status, body = postUpdate(t, srv, "", update)
	if status != 200 || body["status"] != "rate_limited" {
		t.Errorf("second response = %d %v, want 200 rate_limited", status, body)
	}
	dispatcher.Wait()
	if *handled != 1 {
		t.Errorf("handled = %d, want 1", *handled)
	}
}
