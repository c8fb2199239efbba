// Package sse decodes and encodes the Server-Sent-Events streams exchanged
// with streaming providers and with fiesta's own stream endpoint.
package sse

import "time"

// Kind tags a stream event.
type Kind string

const (
	KindToken Kind = "token"
	KindMeta  Kind = "meta"
	KindError Kind = "error"
	KindDone  Kind = "done"
)

// Event is one decoded stream event. Which fields are meaningful depends on
// Kind: Delta for tokens; Provider and UsedKeyType for meta; Message, Code
// and Provider for errors.
type Event struct {
	Kind        Kind
	Delta       string
	Provider    string
	UsedKeyType string
	Message     string
	Code        int
	Timing      *Timing
}

// Timing is attached to meta and terminal events by the timing wrapper.
type Timing struct {
	Start   time.Time
	End     time.Time
	Elapsed time.Duration
}

func Token(delta string) Event { return Event{Kind: KindToken, Delta: delta} }

func Done() Event { return Event{Kind: KindDone} }

func Meta(provider, usedKeyType string) Event {
	return Event{Kind: KindMeta, Provider: provider, UsedKeyType: usedKeyType}
}

func Error(message string, code int, provider string) Event {
	return Event{Kind: KindError, Message: message, Code: code, Provider: provider}
}

// Terminal reports whether the event ends a stream.
func (e Event) Terminal() bool {
	return e.Kind == KindDone || e.Kind == KindError
}
