package sse

import (
	"bytes"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

var (
	delimiter = []byte("\n\n")
	crlf      = []byte("\r\n")
)

// PayloadMapper turns one parsed data payload into events. Returning
// closed=true ends the stream after the returned events.
type PayloadMapper func(payload gjson.Result) (events []Event, closed bool)

// Decoder reassembles frames from arbitrarily split chunks. It is owned by a
// single response body and is not safe for concurrent use.
type Decoder struct {
	mapper    PayloadMapper
	buffer    []byte
	scanned   int // buffer prefix already searched for a delimiter
	pendingCR bool
	closed    bool
}

// NewDecoder returns a decoder using mapper; nil selects ItemFrames.
func NewDecoder(mapper PayloadMapper) *Decoder {
	if mapper == nil {
		mapper = ItemFrames
	}
	return &Decoder{mapper: mapper}
}

// Closed reports whether the stream has ended. A closed decoder yields no
// further events.
func (d *Decoder) Closed() bool { return d.closed }

// Feed appends chunk and returns the events of every frame it completed. The
// trailing partial frame is kept for the next call.
func (d *Decoder) Feed(chunk []byte) []Event {
	if d.closed {
		return nil
	}
	d.appendChunk(chunk)

	var events []Event
	for !d.closed {
		i := bytes.Index(d.buffer[d.scanned:], delimiter)
		if i < 0 {
			// a delimiter may straddle the next chunk
			d.scanned = max(len(d.buffer)-len(delimiter)+1, 0)
			break
		}
		end := d.scanned + i
		frame := string(d.buffer[:end])
		d.buffer = d.buffer[end+len(delimiter):]
		d.scanned = 0
		events = append(events, d.frame(frame)...)
	}
	return events
}

// appendChunk normalizes CRLF in chunk alone. A trailing CR is held back
// until the next chunk shows whether it starts a CRLF pair.
func (d *Decoder) appendChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if d.pendingCR {
		d.pendingCR = false
		if chunk[0] != '\n' {
			d.buffer = append(d.buffer, '\r')
		}
	}
	if n := len(chunk); n > 0 && chunk[n-1] == '\r' {
		d.pendingCR = true
		chunk = chunk[:n-1]
	}
	for len(chunk) > 0 {
		i := bytes.Index(chunk, crlf)
		if i < 0 {
			d.buffer = append(d.buffer, chunk...)
			return
		}
		d.buffer = append(d.buffer, chunk[:i]...)
		d.buffer = append(d.buffer, '\n')
		chunk = chunk[i+len(crlf):]
	}
}

// Finish ends the stream at transport EOF. An unterminated trailing frame is
// discarded and Done is emitted if the stream did not already end.
func (d *Decoder) Finish() []Event {
	if d.closed {
		return nil
	}
	d.reset()
	return d.close()
}

// Abort closes the decoder after caller cancellation and returns the final
// Done, discarding buffered input.
func (d *Decoder) Abort() []Event {
	if d.closed {
		return nil
	}
	d.reset()
	return d.close()
}

// Fail closes the decoder after a transport failure.
func (d *Decoder) Fail(message string) []Event {
	if d.closed {
		return nil
	}
	d.reset()
	return append([]Event{Error(message, 0, "")}, d.close()...)
}

func (d *Decoder) reset() {
	d.buffer = nil
	d.scanned = 0
	d.pendingCR = false
}

func (d *Decoder) close() []Event {
	d.closed = true
	return []Event{Done()}
}

func (d *Decoder) frame(frame string) []Event {
	frame = strings.TrimSpace(frame)
	if !strings.HasPrefix(frame, dataPrefix) {
		return nil
	}
	payload := strings.TrimSpace(strings.TrimPrefix(frame, dataPrefix))
	if payload == doneSentinel {
		return d.close()
	}
	if !gjson.Valid(payload) {
		return nil
	}

	events, closed := d.mapper(gjson.Parse(payload))
	if closed {
		events = append(events, d.close()...)
	}
	return events
}
