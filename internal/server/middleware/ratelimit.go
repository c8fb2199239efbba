package middleware

import (
	"net/http"
	"strconv"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/fiestalabs/fiesta/internal/metrics"
	"github.com/fiestalabs/fiesta/internal/ratelimit"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// RateLimitMessage is the message of the 429 envelope.
const RateLimitMessage = "Rate limit exceeded. Please try again later."

// RateLimit admits requests through limiter. Every response carries the
// X-RateLimit headers; X-RateLimit-Reset is the window end in epoch
// milliseconds. Denied requests get a RATE_LIMITED envelope with
// details.retry_after and a Retry-After header. A nil respond writes the
// envelope directly.
func RateLimit(limiter *ratelimit.Limiter, respond ErrorResponder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := limiter.Admit(r.Context(), ratelimit.ClientKey(r))
			metrics.RecordRateLimitDecision(decision.Allowed)

			h := w.Header()
			h.Set(HeaderRateLimitLimit, strconv.Itoa(decision.Limit))
			h.Set(HeaderRateLimitRemaining, strconv.Itoa(decision.Remaining))
			h.Set(HeaderRateLimitReset, strconv.FormatInt(decision.ResetAt.UnixMilli(), 10))

			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			h.Set(HeaderRetryAfter, strconv.Itoa(decision.RetryAfterSeconds))
			envelope := errors.NewErrorEnvelope("RATE_LIMITED", RateLimitMessage).
				WithCorrelationID(GetRequestID(r.Context())).
				WithDetails(map[string]interface{}{"retry_after": decision.RetryAfterSeconds})
			envelope, _ = envelope.WithSeverity(errors.SeverityMedium)

			if respond != nil {
				respond(w, r, envelope)
				return
			}
			writeErrorResponse(w, envelope, http.StatusTooManyRequests)
		})
	}
}
