package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/fiestalabs/fiesta/internal/metrics"
	"github.com/fiestalabs/fiesta/internal/observability"
)

// ErrorResponder writes an error envelope for a request. The server injects
// its central handler; internal/errors cannot be imported from here.
type ErrorResponder func(http.ResponseWriter, *http.Request, error)

// Recovery turns a handler panic into a 500 INTERNAL_ERROR envelope. The
// stack goes to the server log, never to the client. http.ErrAbortHandler is
// re-raised so net/http can drop the connection.
func Recovery(respond ErrorResponder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				requestID := GetRequestID(r.Context())
				metrics.RecordPanic()
				if logger := observability.ServerLogger; logger != nil {
					logger.Error("Handler panicked",
						zap.String("requestID", requestID),
						zap.String("path", r.URL.Path),
						zap.Any("panic", rec),
						zap.ByteString("stack", debug.Stack()))
				}

				envelope := errors.NewErrorEnvelope("INTERNAL_ERROR", "Internal server error").
					WithCorrelationID(requestID)
				envelope, _ = envelope.WithSeverity(errors.SeverityCritical)

				if respond != nil {
					respond(w, r, envelope)
					return
				}
				writeErrorResponse(w, envelope, http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// writeErrorResponse is the fallback when no ErrorResponder is injected.
// Only Details reach the client.
func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, statusCode int) {
	var details map[string]interface{}
	if len(envelope.Details) > 0 {
		details = envelope.Details
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: errorDetail{
		Code:      envelope.Code,
		Message:   envelope.Message,
		Details:   details,
		RequestID: envelope.CorrelationID,
	}})
}
