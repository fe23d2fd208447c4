package middleware

import (
	"crypto/subtle"
	"net/http"

	"askboard/internal/httputil"
)

// SecretHeader is the header the platform echoes back on every webhook
// delivery, set when the webhook was registered.
const SecretHeader = "X-Webhook-Secret"

// WebhookSecret rejects requests that do not carry the registered webhook
// secret. With an empty secret the check is disabled (local development).
func WebhookSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" {
				got := r.Header.Get(SecretHeader)
				if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
					httputil.WriteUnauthorized(w, "invalid webhook secret")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
