package request

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/kestrel-web/kestrel/internal/headers"
)

// Request is one parsed HTTP request. It is owned by its connection session
// for the duration of a single request/response cycle. Headers are immutable
// after the parse completes; the body is read and decoded lazily, at most
// once.
type Request struct {
	Method     string
	Path       string // normalized absolute path
	RawTarget  string
	Proto      string
	Query      url.Values
	Headers    *headers.Headers
	Params     map[string]string // filled by the router after a match
	RemoteAddr string

	parser *Parser

	contentLength int64
	chunked       bool
	hasTrailer    bool

	bodyRead  bool
	rawBody   []byte
	bodyErr   error
	decoded   bool
	decodeVal any
	decodeErr error
}

// Header returns the first value of a request header, or "".
func (r *Request) Header(key string) string {
	return r.Headers.Value(key)
}

// Param returns a path parameter captured by the router.
func (r *Request) Param(name string) string {
	return r.Params[name]
}

// QueryValue returns the first value of a query parameter, or "".
func (r *Request) QueryValue(key string) string {
	return r.Query.Get(key)
}

// ContentLength returns the declared body length, or 0 if absent.
func (r *Request) ContentLength() int64 {
	return r.contentLength
}

// IsChunked reports whether the body uses chunked transfer encoding.
func (r *Request) IsChunked() bool {
	return r.chunked
}

// IsHTTP10 reports whether the request used HTTP/1.0.
func (r *Request) IsHTTP10() bool {
	return r.Proto == "HTTP/1.0"
}

// WantsClose reports whether the client asked for the connection to close
// after this exchange. HTTP/1.0 closes by default unless keep-alive is
// requested explicitly.
func (r *Request) WantsClose() bool {
	conn := strings.ToLower(r.Header("Connection"))
	if r.IsHTTP10() {
		return conn != "keep-alive"
	}
	return conn == "close"
}

// RawBody reads the full request body from the connection on first call and
// caches the bytes (or the read error) for subsequent calls.
func (r *Request) RawBody() ([]byte, error) {
	if !r.bodyRead {
		r.bodyRead = true
		r.rawBody, r.bodyErr = r.parser.readBody(r)
	}
	return r.rawBody, r.bodyErr
}

// Body decodes the request body according to Content-Type and caches the
// result, so repeated calls never re-read or re-decode. JSON payloads decode
// to a structured value, urlencoded forms to url.Values, anything else
// passes through as raw text.
func (r *Request) Body() (any, error) {
	if r.decoded {
		return r.decodeVal, r.decodeErr
	}
	r.decoded = true
	r.decodeVal, r.decodeErr = r.decodeBody()
	return r.decodeVal, r.decodeErr
}

// Discard drains any unread body so the connection can be reused for the
// next request. Returns the read error, if any.
func (r *Request) Discard() error {
	if r.bodyRead {
		return r.bodyErr
	}
	_, err := r.RawBody()
	return err
}

func (r *Request) hasBody() bool {
	return r.chunked || r.contentLength > 0
}

// finishHeaders derives body framing from the parsed headers.
func (r *Request) finishHeaders() {
	if te, ok := r.Headers.Get("Transfer-Encoding"); ok {
		r.chunked = strings.Contains(strings.ToLower(te), "chunked")
	}
	r.hasTrailer = r.Headers.Has("Trailer")

	if cl, ok := r.Headers.Get("Content-Length"); ok {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > 0 {
			r.contentLength = n
		}
	}
}
