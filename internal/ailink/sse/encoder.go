package sse

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// itemFrame is the JSON payload of one data frame written by Encoder.
type itemFrame struct {
	Delta        *string `json:"delta,omitempty"`
	Provider     string  `json:"provider,omitempty"`
	UsedKeyType  string  `json:"usedKeyType,omitempty"`
	Error        string  `json:"error,omitempty"`
	Code         int     `json:"code,omitempty"`
	StartTime    string  `json:"startTime,omitempty"`
	EndTime      string  `json:"endTime,omitempty"`
	ResponseTime *int64  `json:"responseTime,omitempty"`
}

// Encoder writes events as item frames, flushing after each one when the
// writer supports it.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
	done    bool
}

func NewEncoder(w io.Writer) *Encoder {
	enc := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		enc.flusher = f
	}
	return enc
}

// Encode writes ev. Done writes the [DONE] sentinel; nothing is written
// after it.
func (e *Encoder) Encode(ev Event) error {
	if e.done {
		return nil
	}
	var frame itemFrame
	switch ev.Kind {
	case KindDone:
		e.done = true
		if ev.Timing != nil {
			if err := e.writeFrame(withTiming(frame, ev.Timing)); err != nil {
				return err
			}
		}
		return e.write(doneSentinel)
	case KindToken:
		delta := ev.Delta
		frame.Delta = &delta
	case KindMeta:
		frame.Provider = ev.Provider
		frame.UsedKeyType = ev.UsedKeyType
	case KindError:
		frame.Error = ev.Message
		frame.Code = ev.Code
		frame.Provider = ev.Provider
	default:
		return fmt.Errorf("sse: unknown event kind %q", ev.Kind)
	}
	if ev.Timing != nil && ev.Kind != KindToken {
		frame = withTiming(frame, ev.Timing)
	}
	return e.writeFrame(frame)
}

func withTiming(frame itemFrame, t *Timing) itemFrame {
	frame.StartTime = t.Start.UTC().Format(time.RFC3339Nano)
	frame.EndTime = t.End.UTC().Format(time.RFC3339Nano)
	ms := t.Elapsed.Milliseconds()
	frame.ResponseTime = &ms
	return frame
}

func (e *Encoder) writeFrame(frame itemFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return e.write(string(payload))
}

// Comment writes a keep-alive comment line, which decoders ignore.
func (e *Encoder) Comment(text string) error {
	if _, err := fmt.Fprintf(e.w, ": %s\n\n", text); err != nil {
		return err
	}
	e.flush()
	return nil
}

func (e *Encoder) write(payload string) error {
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	e.flush()
	return nil
}

func (e *Encoder) flush() {
	if e.flusher != nil {
		e.flusher.Flush()
	}
}
