package request

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/indigo-web/chunkedbody"

	"github.com/kestrel-web/kestrel/internal/headers"
)

const (
	maxRequestLineSize = 8192
	defaultMaxHeaders  = 1 << 20 // 1MB total headers
)

// Conn is the subset of net.Conn the parser needs.
type Conn interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// Parser incrementally reads HTTP requests off one connection. It keeps
// unconsumed bytes between requests, so pipelined requests parse without
// touching the socket. One Parser serves one connection; it is not safe for
// concurrent use.
type Parser struct {
	conn           Conn
	buf            []byte
	scratch        *[]byte
	chunked        *chunkedbody.Parser
	maxHeaderBytes int
	bodyTimeout    time.Duration
}

func NewParser(conn Conn) *Parser {
	return &Parser{
		conn:           conn,
		scratch:        getReadBuf(),
		maxHeaderBytes: defaultMaxHeaders,
	}
}

// Release returns pooled buffers. The Parser must not be used afterwards.
func (p *Parser) Release() {
	if p.scratch != nil {
		putReadBuf(p.scratch)
		p.scratch = nil
	}
}

// fill reads more bytes from the connection into the parse buffer.
func (p *Parser) fill() error {
	n, err := p.conn.Read(*p.scratch)
	if n > 0 {
		p.buf = append(p.buf, (*p.scratch)[:n]...)
	}
	if n > 0 && err == io.EOF {
		return nil
	}
	return err
}

// Next parses one request. If idleTimeout is positive, the connection is
// given that long to deliver a complete request line; expiry surfaces as
// ErrIdleTimeout. The same duration later bounds each body read, where
// expiry surfaces as ErrBodyTimeout instead.
func (p *Parser) Next(idleTimeout time.Duration) (*Request, error) {
	p.bodyTimeout = idleTimeout
	req := newRequest(p)

	if err := p.parseRequestLine(req, idleTimeout); err != nil {
		return nil, err
	}
	if err := p.parseHeaders(req); err != nil {
		return nil, err
	}
	req.finishHeaders()

	return req, nil
}

func newRequest(p *Parser) *Request {
	return &Request{
		Headers: headers.New(),
		Params:  map[string]string{},
		parser:  p,
	}
}

// parseRequestLine reads until a complete request line is buffered. The idle
// deadline covers this whole phase: a connection that cannot produce a full
// line in time is the keep-alive-expiry case, closed silently upstream.
func (p *Parser) parseRequestLine(req *Request, idleTimeout time.Duration) error {
	if idleTimeout > 0 {
		p.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		defer p.conn.SetReadDeadline(time.Time{})
	}

	for {
		method, target, version, consumed, err := parseRequestLine(p.buf)
		if err != nil {
			return err
		}
		if consumed > 0 {
			p.buf = p.buf[consumed:]

			req.Method = method
			req.RawTarget = target
			req.Proto = version

			rawPath, rawQuery := splitTarget(target)
			req.Path = normalizePath(rawPath)
			// Tolerate sloppy query strings; keep whatever parsed.
			req.Query, _ = url.ParseQuery(rawQuery)
			return nil
		}

		if len(p.buf) > maxRequestLineSize {
			return ErrRequestLineTooLarge
		}

		if err := p.fill(); err != nil {
			if isTimeout(err) {
				return ErrIdleTimeout
			}
			return classifyReadErr(err)
		}
	}
}

func (p *Parser) parseHeaders(req *Request) error {
	total := 0
	for {
		consumed, done, err := req.Headers.Parse(p.buf)
		p.buf = p.buf[consumed:]
		total += consumed
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedHeader, err)
		}
		if done {
			return nil
		}

		if total+len(p.buf) > p.maxHeaderBytes {
			return ErrHeaderTooLarge
		}
		if err := p.fill(); err != nil {
			return classifyReadErr(err)
		}
	}
}

// readBody drains the request body off the wire. Called lazily through
// Request.RawBody, and by the session before reusing the connection.
func (p *Parser) readBody(r *Request) ([]byte, error) {
	if r.chunked {
		return p.readChunkedBody(r.hasTrailer)
	}

	cl := r.contentLength
	if cl <= 0 {
		return nil, nil
	}

	// The deadline covers the whole body phase; a peer that stalls mid-body
	// must not pin the session goroutine forever.
	if p.bodyTimeout > 0 {
		p.conn.SetReadDeadline(time.Now().Add(p.bodyTimeout))
		defer p.conn.SetReadDeadline(time.Time{})
	}

	for int64(len(p.buf)) < cl {
		if err := p.fill(); err != nil {
			if isTimeout(err) {
				return nil, ErrBodyTimeout
			}
			return nil, classifyReadErr(err)
		}
	}

	body := make([]byte, cl)
	copy(body, p.buf[:cl])
	p.buf = p.buf[cl:]
	return body, nil
}

func (p *Parser) readChunkedBody(trailer bool) ([]byte, error) {
	if p.chunked == nil {
		p.chunked = chunkedbody.NewParser(chunkedbody.DefaultSettings())
	}

	if p.bodyTimeout > 0 {
		p.conn.SetReadDeadline(time.Now().Add(p.bodyTimeout))
		defer p.conn.SetReadDeadline(time.Time{})
	}

	var body []byte
	for {
		if len(p.buf) == 0 {
			if err := p.fill(); err != nil {
				if isTimeout(err) {
					return nil, ErrBodyTimeout
				}
				return nil, classifyReadErr(err)
			}
		}

		chunk, extra, err := p.chunked.Parse(p.buf, trailer)
		body = append(body, chunk...)
		// Keep the unconsumed tail; pipelined data may follow the body.
		p.buf = p.buf[len(p.buf)-len(extra):]

		switch {
		case err == nil:
			// Need more data.
		case errors.Is(err, io.EOF):
			// Terminal chunk seen.
			return body, nil
		default:
			return nil, fmt.Errorf("malformed chunked body: %v", err)
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// classifyReadErr folds every way a peer can vanish into ErrConnectionClosed
// so the session can close silently.
func classifyReadErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return ErrConnectionClosed
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return err
}
