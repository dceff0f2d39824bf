package request

import "errors"

var (
	ErrMalformedRequestLine = errors.New("malformed request line")
	ErrInvalidMethod        = errors.New("invalid HTTP method")
	ErrInvalidPath          = errors.New("invalid request path")
	ErrUnsupportedVersion   = errors.New("unsupported HTTP version")
	ErrMalformedHeader      = errors.New("malformed header")

	ErrRequestLineTooLarge = errors.New("request line too large")
	ErrHeaderTooLarge      = errors.New("headers too large")

	// ErrIdleTimeout means no byte of a new request arrived before the
	// keep-alive deadline. Sessions close silently on it; it is the normal
	// keep-alive-expiry path, not a failure.
	ErrIdleTimeout = errors.New("idle timeout")

	// ErrBodyTimeout means the peer stalled in the middle of a declared body.
	ErrBodyTimeout = errors.New("timed out reading request body")

	// ErrConnectionClosed means the peer went away mid-parse.
	ErrConnectionClosed = errors.New("connection closed")
)
