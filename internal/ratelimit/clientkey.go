package ratelimit

import (
	"net/http"
	"strings"
)

// AnonymousKey is used when a request carries no client address header.
const AnonymousKey = "anonymous"

// ClientKey derives the limiter key for a request from the proxy headers the
// deployment sits behind.
func ClientKey(r *http.Request) string {
	if r == nil {
		return AnonymousKey
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	for _, header := range []string{"X-Real-IP", "CF-Connecting-IP"} {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
	}
	return AnonymousKey
}
