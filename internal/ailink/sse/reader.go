package sse

import (
	"context"
	"errors"
	"io"
)

const readBufferSize = 4096

// Read pumps body through dec and forwards every event to sink, in order.
// The stream always ends with exactly one Done: at the [DONE] sentinel or an
// error frame, at EOF, after the Error describing a read failure, or
// immediately when ctx is cancelled. Cancellation closes body when it is an
// io.Closer so a blocked read returns.
func Read(ctx context.Context, body io.Reader, dec *Decoder, sink func(Event)) {
	emit := func(events []Event) {
		for _, ev := range events {
			sink(ev)
		}
	}

	if closer, ok := body.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = closer.Close() })
		defer stop()
	}

	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			emit(dec.Abort())
			return
		}

		n, err := body.Read(buf)
		if ctx.Err() != nil {
			emit(dec.Abort())
			return
		}
		if n > 0 {
			emit(dec.Feed(buf[:n]))
			if dec.Closed() {
				return
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			emit(dec.Finish())
			return
		default:
			emit(dec.Fail("stream read failed: " + err.Error()))
			return
		}
	}
}
