package server

import (
	"context"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrel-web/kestrel/internal/router"
)

// Server accepts connections and multiplexes one session per socket. The
// active-connection counter is incremented after accept and decremented when
// the session exits, so it always equals the number of live sessions.
type Server struct {
	cfg         Config
	log         zerolog.Logger
	router      *router.Router
	middlewares []Middleware
	errHandler  ErrorHandler
	metrics     *Metrics

	listener net.Listener
	closed   atomic.Bool
}

func New(cfg Config, r *router.Router) *Server {
	cfg = cfg.withDefaults()

	var log zerolog.Logger
	if cfg.Logger != nil {
		log = *cfg.Logger
	} else {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	return &Server{
		cfg:     cfg,
		log:     log,
		router:  r,
		metrics: NewMetrics(),
	}
}

// Use appends server-level middleware, run before any router stage.
// Configuration is build-then-freeze: call before ListenAndServe.
func (s *Server) Use(mw ...Middleware) {
	s.middlewares = append(s.middlewares, mw...)
}

// OnError registers the process-wide error handler invoked on any uncaught
// middleware or handler error.
func (s *Server) OnError(h ErrorHandler) {
	s.errHandler = h
}

// Metrics returns the server's runtime counters.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Addr returns the bound listener address, or nil before ListenAndServe.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveConnections returns the number of live sessions.
func (s *Server) ActiveConnections() int64 { return s.metrics.ActiveConnections.Load() }

// ListenAndServe binds the configured address and accepts connections until
// Shutdown. It blocks.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.addr())
	if err != nil {
		return err
	}
	s.listener = ln
	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
	return s.acceptLoop()
}

// Serve accepts connections on an already-bound listener. Useful for tests
// binding port 0.
func (s *Server) Serve(ln net.Listener) error {
	s.listener = ln
	return s.acceptLoop()
}

func (s *Server) acceptLoop() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			s.log.Error().Err(err).Msg("accept failed")
			continue
		}

		if s.metrics.ActiveConnections.Load() >= int64(s.cfg.MaxConnections) {
			// Deliberate, silent rejection; not an error condition.
			conn.Close()
			s.metrics.ConnectionsRejected.Add(1)
			continue
		}

		s.metrics.ActiveConnections.Add(1)
		s.metrics.ConnectionsAccepted.Add(1)
		go func() {
			defer s.metrics.ActiveConnections.Add(-1)
			s.serveConn(conn)
		}()
	}
}

// Shutdown stops accepting and waits for live sessions to finish, or for
// ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closed.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.metrics.ActiveConnections.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
