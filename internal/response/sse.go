package response

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Event is one Server-Sent Event. An empty ID gets an auto-incrementing
// sequence number; an empty Name omits the event: line.
type Event struct {
	ID   string
	Name string
	Data string
}

// StartSSE switches the response into SSE mode: status forced to 200,
// headers fixed for an event stream, and an initial comment line written to
// prime the stream. Neither Content-Length nor chunked framing ever applies.
func (r *Response) StartSSE() error {
	switch r.mode {
	case ModeSSE:
		return nil
	case ModeNone:
	default:
		return ErrModeConflict
	}
	if r.closed {
		return ErrClosed
	}
	r.mode = ModeSSE

	r.status = StatusOK
	r.headers.Set("Content-Type", "text/event-stream")
	r.headers.Set("Cache-Control", "no-cache")
	r.headers.Set("Connection", "keep-alive")
	r.headers.Set("X-Accel-Buffering", "no")
	r.headers.Del("Content-Length")
	r.headers.Del("Transfer-Encoding")
	if !r.headers.Has("Date") {
		r.applyDefaultHeaders(-1)
	}

	var out bytes.Buffer
	r.renderHead(&out)
	out.WriteString(": stream opened\n\n")
	return r.writeAll(out.Bytes())
}

// SendEvent serializes and writes one event, starting SSE mode if needed.
// A failed write flips the response to closed and returns the error, so a
// streaming loop terminates instead of looping forever; there is no other
// disconnect-detection channel.
func (r *Response) SendEvent(ev Event) error {
	if r.closed {
		return ErrClosed
	}
	if r.mode != ModeSSE {
		if err := r.StartSSE(); err != nil {
			return err
		}
	}

	r.eventCount++
	id := ev.ID
	if id == "" {
		// Explicit IDs do not consume sequence numbers.
		r.eventID++
		id = strconv.FormatInt(r.eventID, 10)
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "id: %s\n", id)
	if ev.Name != "" {
		fmt.Fprintf(&out, "event: %s\n", ev.Name)
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		fmt.Fprintf(&out, "data: %s\n", line)
	}
	out.WriteByte('\n')

	return r.writeAll(out.Bytes())
}

// EventCount returns how many events have been sent on this stream.
func (r *Response) EventCount() int64 { return r.eventCount }
