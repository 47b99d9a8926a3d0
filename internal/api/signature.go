package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body,
// keyed with the shared webhook secret.
const SignatureHeader = "X-Webhook-Signature"

// WebhookSignatureMiddleware rejects webhook calls whose body does not
// match the signature header. With an empty secret verification is
// disabled, which is only acceptable in dev.
func WebhookSignatureMiddleware(secret string, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_body", "could not read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			provided := strings.TrimSpace(r.Header.Get(SignatureHeader))
			if !VerifySignature(secret, body, provided) {
				log.Warn().
					Str("request_id", GetRequestID(r.Context())).
					Msg("webhook signature mismatch")
				writeError(w, http.StatusUnauthorized, "invalid_signature", "webhook signature verification failed")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Sign computes the hex HMAC-SHA256 signature of a payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares in constant time.
func VerifySignature(secret string, payload []byte, provided string) bool {
	if provided == "" {
		return false
	}
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(provided)))
}
