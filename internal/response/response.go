package response

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kestrel-web/kestrel/internal/headers"
	"github.com/kestrel-web/kestrel/internal/request"
)

// Mode is the body-emission mode, fixed at first write.
type Mode int

const (
	ModeNone Mode = iota
	ModeBuffered
	ModeChunked
	ModeSSE
)

var (
	ErrHeadersSent  = errors.New("headers already sent")
	ErrBodyWritten  = errors.New("body already written")
	ErrModeConflict = errors.New("body mode already fixed")
	ErrClosed       = errors.New("response closed")
)

// Response emits one correctly framed HTTP response. Headers are frozen the
// instant the first byte of the status line goes out; the body mode is fixed
// at first write and cannot change mid-response.
type Response struct {
	conn io.Writer
	req  *request.Request // for default header decisions; may be nil

	status      int
	headers     *headers.Headers
	headersSent bool
	mode        Mode
	chunkedDone bool
	closed      bool
	writeFailed bool
	eventID     int64
	eventCount  int64
}

func New(conn io.Writer, req *request.Request) *Response {
	return &Response{
		conn:    conn,
		req:     req,
		status:  StatusOK,
		headers: headers.New(),
	}
}

// Status sets the status code. Fails once headers are on the wire.
func (r *Response) Status(code int) error {
	if r.headersSent {
		return ErrHeadersSent
	}
	r.status = code
	return nil
}

func (r *Response) StatusCode() int { return r.status }

// SetHeader replaces a header. Fails once headers are on the wire.
func (r *Response) SetHeader(key, value string) error {
	if r.headersSent {
		return ErrHeadersSent
	}
	r.headers.Set(key, value)
	return nil
}

// AddHeader appends a header value. Fails once headers are on the wire.
func (r *Response) AddHeader(key, value string) error {
	if r.headersSent {
		return ErrHeadersSent
	}
	r.headers.Add(key, value)
	return nil
}

// Headers exposes the header multimap for inspection.
func (r *Response) Headers() *headers.Headers { return r.headers }

func (r *Response) HeadersSent() bool { return r.headersSent }
func (r *Response) Mode() Mode        { return r.mode }
func (r *Response) Closed() bool      { return r.closed }
func (r *Response) WriteFailed() bool { return r.writeFailed }

// Write emits a complete buffered body: status line, headers with a computed
// Content-Length, and the body bytes, in a single flush.
func (r *Response) Write(body []byte) error {
	if r.closed {
		return ErrClosed
	}
	switch r.mode {
	case ModeNone:
	case ModeBuffered:
		return ErrBodyWritten
	default:
		return ErrModeConflict
	}
	r.mode = ModeBuffered

	var out bytes.Buffer
	r.applyDefaultHeaders(len(body))
	r.renderHead(&out)
	out.Write(body)
	return r.writeAll(out.Bytes())
}

// WriteChunk emits one chunk of a chunked body, starting the chunked mode
// and flushing headers on first use. Empty chunks are skipped so a stray
// zero-length write cannot terminate the stream early.
func (r *Response) WriteChunk(data []byte) error {
	if r.closed {
		return ErrClosed
	}
	if err := r.startChunked(); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "%x\r\n", len(data))
	out.Write(data)
	out.WriteString("\r\n")
	return r.writeAll(out.Bytes())
}

// EndChunked emits the zero-length terminator chunk, exactly once, even if
// no data chunks were ever written.
func (r *Response) EndChunked() error {
	if r.closed && r.chunkedDone {
		return nil
	}
	if err := r.startChunked(); err != nil {
		return err
	}
	if r.chunkedDone {
		return nil
	}
	r.chunkedDone = true
	return r.writeAll([]byte("0\r\n\r\n"))
}

func (r *Response) startChunked() error {
	switch r.mode {
	case ModeChunked:
		return nil
	case ModeNone:
	default:
		return ErrModeConflict
	}
	r.mode = ModeChunked

	r.headers.Set("Transfer-Encoding", "chunked")
	r.headers.Del("Content-Length")
	r.applyDefaultHeaders(-1)

	var out bytes.Buffer
	r.renderHead(&out)
	return r.writeAll(out.Bytes())
}

// Close finishes the response. A chunked body that has not yet been
// terminated gets its final chunk; afterwards the response accepts no
// further writes.
func (r *Response) Close() error {
	if r.closed {
		return nil
	}
	var err error
	if r.mode == ModeChunked && !r.chunkedDone {
		err = r.EndChunked()
	}
	r.closed = true
	return err
}

// applyDefaultHeaders injects headers only if absent. bodyLen < 0 means the
// body is not length-delimited.
func (r *Response) applyDefaultHeaders(bodyLen int) {
	if !r.headers.Has("Date") {
		r.headers.Set("Date", time.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT"))
	}
	if !r.headers.Has("Content-Type") {
		r.headers.Set("Content-Type", "text/plain; charset=utf-8")
	}
	if bodyLen >= 0 && !r.headers.Has("Content-Length") {
		if r.status != StatusNoContent && r.status != StatusNotModified {
			r.headers.Set("Content-Length", strconv.Itoa(bodyLen))
		}
	}
	if !r.headers.Has("Connection") {
		if r.req != nil && r.req.WantsClose() {
			r.headers.Set("Connection", "close")
		} else {
			r.headers.Set("Connection", "keep-alive")
		}
	}
}

// renderHead writes the status line and headers and freezes them.
func (r *Response) renderHead(out *bytes.Buffer) {
	fmt.Fprintf(out, "HTTP/1.1 %d %s\r\n", r.status, StatusText(r.status))
	r.headers.Each(func(key, value string) {
		fmt.Fprintf(out, "%s: %s\r\n", key, value)
	})
	out.WriteString("\r\n")
	r.headersSent = true
}

// writeAll pushes every byte to the socket, looping on short writes. The
// runtime parks the goroutine while the socket would block, so a slow reader
// never spins. A hard failure marks the response closed and propagates; the
// failing write is the only disconnect signal a handler gets.
func (r *Response) writeAll(b []byte) error {
	if r.writeFailed {
		return ErrClosed
	}
	total := 0
	for total < len(b) {
		n, err := r.conn.Write(b[total:])
		total += n
		if err != nil {
			r.writeFailed = true
			r.closed = true
			return fmt.Errorf("write response: %w", err)
		}
	}
	return nil
}
