package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
)

const (
	SignatureHeader     = "X-Webhook-Signature"
	signaturePrefix     = "sha256="
	maxWebhookBodyBytes = 64 << 10
)

// WebhookSignature rejects requests whose body does not carry a valid
// "sha256=<hex hmac>" signature for secret. An empty secret disables the check.
func WebhookSignature(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes+1))
			if err != nil || len(body) > maxWebhookBodyBytes {
				writeProblem(w, http.StatusRequestEntityTooLarge, "webhook body too large", "body_too_large")
				return
			}
			r.Body.Close()

			if !ValidSignature(secret, body, r.Header.Get(SignatureHeader)) {
				writeProblem(w, http.StatusUnauthorized, "invalid webhook signature", "invalid_signature")
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// Sign returns the header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// ValidSignature compares in constant time.
func ValidSignature(secret string, body []byte, header string) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
