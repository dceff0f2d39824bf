package server

import (
	"errors"
	"net"
	"strings"
	"time"

	"github.com/kestrel-web/kestrel/internal/request"
	"github.com/kestrel-web/kestrel/internal/response"
)

// serveConn drives one socket through repeated request/response cycles
// until a close condition is reached.
func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	parser := request.NewParser(conn)
	defer parser.Release()

	for {
		req, err := parser.Next(s.cfg.KeepAliveTimeout)
		if err != nil {
			s.finishParseError(conn, err)
			return
		}
		req.RemoteAddr = conn.RemoteAddr().String()

		res := response.New(conn, req)
		start := time.Now()

		handled := s.dispatch(req, res)

		switch {
		case !handled && !res.Closed() && !res.HeadersSent():
			res.Error(response.StatusNotFound, "not found")
		case handled && !res.HeadersSent() && !res.Closed():
			// Handler set status or headers but wrote no body.
			res.Write(nil)
		}

		s.metrics.RecordRequest(res.StatusCode(), time.Since(start))

		if res.Mode() == response.ModeSSE {
			// The handler owned the socket until its stream ended; the
			// stream's end is the end of the connection.
			return
		}
		if res.Mode() == response.ModeChunked {
			// Guarantees the zero-length terminator went out.
			res.Close()
		}

		if shouldClose(req, res) {
			// No drain on the way out; a rejected oversize body dies with
			// the connection.
			return
		}

		// Drain whatever body the handler never read, or the next parse
		// would see it as a request line.
		if err := req.Discard(); err != nil {
			return
		}
	}
}

// finishParseError closes out a connection whose parse failed. Keep-alive
// expiry and a vanished peer close silently; everything else gets a
// best-effort 400.
func (s *Server) finishParseError(conn net.Conn, err error) {
	switch {
	case errors.Is(err, request.ErrIdleTimeout):
		s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("keep-alive expired")
	case errors.Is(err, request.ErrConnectionClosed):
		s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("peer closed connection")
	default:
		s.log.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("malformed request")
		res := response.New(conn, nil)
		res.SetHeader("Connection", "close")
		res.Error(response.StatusBadRequest, "bad request")
		s.metrics.RecordRequest(response.StatusBadRequest, 0)
	}
}

// shouldClose decides keep-alive vs close after one cycle: a failed write,
// or either side saying Connection: close, forces closure.
func shouldClose(req *request.Request, res *response.Response) bool {
	if res.WriteFailed() {
		return true
	}
	if strings.EqualFold(res.Headers().Value("Connection"), "close") {
		return true
	}
	return req.WantsClose()
}
