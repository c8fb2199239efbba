package sse

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/fiestalabs/fiesta/internal/ailink/shape"
)

// ItemFrames maps fiesta item frames: {"delta":...}, {"provider":...,
// "usedKeyType":...} and {"error":...}. The checks are independent, so one
// frame may yield several events. An error frame ends the stream.
func ItemFrames(payload gjson.Result) ([]Event, bool) {
	if !payload.IsObject() {
		return nil, false
	}

	var events []Event
	if delta := payload.Get("delta"); delta.Type == gjson.String && delta.Str != "" {
		events = append(events, Token(delta.Str))
	}

	provider := payload.Get("provider")
	keyType := payload.Get("usedKeyType")
	errField := payload.Get("error")
	hasError := errField.Exists() && errField.Type != gjson.Null

	if present(provider) || present(keyType) {
		meta := Meta(provider.String(), keyType.String())
		meta.Timing = parseTiming(payload)
		events = append(events, meta)
	}

	if hasError {
		ev := Error(frameErrorMessage(errField), int(payload.Get("code").Int()), provider.String())
		if ev.Code == 0 {
			ev.Code = int(errField.Get("code").Int())
		}
		ev.Timing = parseTiming(payload)
		events = append(events, ev)
		return events, true
	}
	return events, false
}

// OpenAIChunks maps OpenAI-compatible chat completion chunks.
func OpenAIChunks(payload gjson.Result) ([]Event, bool) {
	if !payload.IsObject() {
		return nil, false
	}
	if errField := payload.Get("error"); errField.Exists() && errField.Type != gjson.Null {
		code := int(errField.Get("code").Int())
		return []Event{Error(frameErrorMessage(errField), code, "")}, true
	}
	if content := payload.Get("choices.0.delta.content"); content.Type == gjson.String && content.Str != "" {
		return []Event{Token(content.Str)}, false
	}
	return nil, false
}

// present reports a field that is set to something other than null or "".
func present(field gjson.Result) bool {
	return field.Exists() && field.Type != gjson.Null && field.String() != ""
}

func frameErrorMessage(errField gjson.Result) string {
	if errField.Type == gjson.String {
		if msg := strings.TrimSpace(errField.Str); msg != "" {
			return msg
		}
		return shape.MsgUnknownError
	}
	return shape.ErrorMessage([]byte(errField.Raw))
}

func parseTiming(payload gjson.Result) *Timing {
	start := payload.Get("startTime")
	end := payload.Get("endTime")
	if !start.Exists() || !end.Exists() {
		return nil
	}
	startAt, err := time.Parse(time.RFC3339Nano, start.String())
	if err != nil {
		return nil
	}
	endAt, err := time.Parse(time.RFC3339Nano, end.String())
	if err != nil {
		return nil
	}
	elapsed := endAt.Sub(startAt)
	if ms := payload.Get("responseTime"); ms.Exists() {
		elapsed = time.Duration(ms.Int()) * time.Millisecond
	}
	return &Timing{Start: startAt, End: endAt, Elapsed: elapsed}
}
