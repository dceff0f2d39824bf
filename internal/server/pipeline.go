package server

import (
	"fmt"

	"github.com/kestrel-web/kestrel/internal/request"
	"github.com/kestrel-web/kestrel/internal/response"
	"github.com/kestrel-web/kestrel/internal/router"
)

// Handler and Middleware re-export the pipeline contract types.
type (
	Handler    = router.Handler
	Middleware = router.Middleware
)

// ErrorHandler receives errors raised inside middleware or handlers. It is
// registered once per server; the default emits a 500 with a generic JSON
// body when nothing has been sent yet.
type ErrorHandler func(err error, req *request.Request, res *response.Response)

// dispatch builds and runs the continuation chain for one request:
// server middleware, then (when the router matched) router middleware,
// route middleware, and the handler itself.
func (s *Server) dispatch(req *request.Request, res *response.Response) bool {
	entries := make([]Middleware, 0, len(s.middlewares)+8)
	entries = append(entries, s.middlewares...)

	if route, params, ok := s.router.Match(req.Method, req.Path); ok {
		req.Params = params
		entries = append(entries, s.router.Middlewares()...)
		entries = append(entries, route.Middlewares...)
		handler := route.Handler
		entries = append(entries, func(q *request.Request, w *response.Response, _ func() bool) bool {
			handler(q, w)
			return true
		})
	}

	c := &chain{
		entries: entries,
		req:     req,
		res:     res,
		errh:    s.errorSink(),
	}
	return c.proceed()
}

// chain is the ephemeral per-request middleware sequence plus a cursor.
type chain struct {
	entries []Middleware
	pos     int
	req     *request.Request
	res     *response.Response
	errh    ErrorHandler
}

// proceed invokes the next entry. Every invocation is wrapped individually:
// a panic aborts the remainder of the chain, goes to the error handler, and
// counts as handled so no duplicate not-found response follows.
func (c *chain) proceed() (handled bool) {
	if c.pos >= len(c.entries) {
		return false
	}
	mw := c.entries[c.pos]
	c.pos++

	defer func() {
		if rec := recover(); rec != nil {
			c.errh(fmt.Errorf("handler error: %v", rec), c.req, c.res)
			handled = true
		}
	}()

	return mw(c.req, c.res, c.proceed)
}

// errorSink returns the registered error handler, or the default one.
func (s *Server) errorSink() ErrorHandler {
	if s.errHandler != nil {
		return s.errHandler
	}
	return func(err error, req *request.Request, res *response.Response) {
		s.log.Error().Err(err).Str("path", req.Path).Msg("unhandled error in pipeline")
		if !res.HeadersSent() {
			res.Error(response.StatusInternalServerError, "internal server error")
			return
		}
		res.Close()
	}
}
