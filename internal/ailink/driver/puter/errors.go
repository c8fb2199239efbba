package puter

import (
	"errors"
	"net/http"
	"strings"

	"github.com/fiestalabs/fiesta/internal/ailink/driver"
)

const (
	MsgAnonymous   = "Authentication required - Puter.js is running in anonymous mode"
	MsgUnavailable = "Puter.js API unavailable (authentication required)"
	MsgBadFormat   = "Puter.js API returned invalid data format"
)

// MapErrorMessage rewrites normalized Puter failures into the messages shown
// to users. err is the original failure and may be nil.
func MapErrorMessage(err error, msg string) string {
	var thrown *driver.ThrownError
	if errors.As(err, &thrown) && thrown.StatusCode == http.StatusUnauthorized {
		return MsgAnonymous
	}
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "Unauthorized"):
		return MsgAnonymous
	case strings.Contains(msg, "null or undefined"):
		return MsgUnavailable
	case strings.Contains(msg, "unexpected reply type"):
		return MsgBadFormat
	}
	return msg
}
