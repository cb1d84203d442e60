package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

const rateLimitWindow = time.Minute

// RateLimit caps webhook deliveries per client IP within a one minute window.
// A 429 is safe there because the payment provider redelivers rejected
// webhooks; Retry-After tells it when.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(rateLimitWindow.Seconds()))
	return httprate.Limit(
		requestsPerMinute,
		rateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", retryAfter)
			writeProblem(w, http.StatusTooManyRequests, "too many webhook deliveries", "rate_limited")
		}),
	)
}
