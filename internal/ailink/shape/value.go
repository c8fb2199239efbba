package shape

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// Thrown is implemented by errors that carry an arbitrary failure value, as
// raised by in-process providers.
type Thrown interface {
	ThrownValue() any
}

// ClassifyValue classifies an already-decoded reply. Strings skip JSON;
// raw messages keep their document key order; other values are marshalled
// first, which orders map keys alphabetically.
func ClassifyValue(v any) Outcome {
	switch val := v.(type) {
	case nil:
		return Outcome{Err: MsgEmptyResponse, Rule: "empty"}
	case string:
		return ClassifyText(val)
	case json.RawMessage:
		return Classify(val)
	case []byte:
		return Classify(val)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Outcome{Err: fmt.Sprintf("unserializable reply: %v", err), Rule: "malformed"}
	}
	return Classify(raw)
}

// ErrorMessage normalizes a thrown value of arbitrary shape to a message,
// using the same field cascade as error envelopes.
func ErrorMessage(v any) string {
	var thrown Thrown
	if err, ok := v.(error); ok {
		if errors.As(err, &thrown) {
			if msg := valueMessage(thrown.ThrownValue()); msg != "" {
				return msg
			}
		}
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			return msg
		}
		return "unknown error"
	}
	if msg := valueMessage(v); msg != "" {
		return msg
	}
	return "unknown error"
}

func valueMessage(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case error:
		return strings.TrimSpace(val.Error())
	}

	var raw []byte
	switch val := v.(type) {
	case json.RawMessage:
		raw = val
	case []byte:
		raw = val
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		raw = b
	}
	if !gjson.ValidBytes(raw) {
		return strings.TrimSpace(string(raw))
	}
	return thrownMessage(gjson.ParseBytes(raw))
}

func thrownMessage(obj gjson.Result) string {
	if !obj.IsObject() {
		if obj.Type == gjson.String {
			return strings.TrimSpace(obj.Str)
		}
		return obj.Raw
	}
	for _, path := range []string{"message", "error", "error.message", "error.type", "type"} {
		if msg := nonEmptyString(obj.Get(path)); msg != "" {
			return msg
		}
	}
	if code := obj.Get("code"); code.Exists() && code.Type != gjson.Null {
		return "error code: " + code.String()
	}
	keys := objectKeys(obj)
	if len(keys) == 0 {
		return MsgUnknownError
	}
	return "error object with keys: " + strings.Join(keys, ", ")
}
