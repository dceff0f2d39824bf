package router

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kestrel-web/kestrel/internal/request"
	"github.com/kestrel-web/kestrel/internal/response"
)

// Handler is a terminal route handler.
type Handler func(req *request.Request, res *response.Response)

// Middleware is one link of the continuation chain. Calling proceed invokes
// the next entry and returns its result; skipping proceed short-circuits the
// rest of the chain. The boolean reports whether the request was handled.
type Middleware func(req *request.Request, res *response.Response, proceed func() bool) bool

// MethodAny matches every request method.
const MethodAny = "*"

// Route is immutable once registered.
type Route struct {
	Method      string
	Pattern     string
	Handler     Handler
	Middlewares []Middleware

	re         *regexp.Regexp
	paramNames []string
}

// Router owns an ordered route list; registration order is match priority.
// Configuration is build-then-freeze: register everything during setup, then
// treat the router as read-only for the serving lifetime.
type Router struct {
	prefix        string
	base          string
	caseSensitive bool
	isGroup       bool
	routes        []*Route
	middlewares   []Middleware // router-level, applied by the pipeline
	groupMws      []Middleware // baked into routes registered through a group
}

type Option func(*Router)

// CaseInsensitive makes both patterns and request paths match lowercased.
func CaseInsensitive() Option {
	return func(r *Router) { r.caseSensitive = false }
}

// WithPrefix sets a path prefix stripped from every request before matching.
func WithPrefix(prefix string) Option {
	return func(r *Router) { r.prefix = prefix }
}

func New(opts ...Option) *Router {
	r := &Router{caseSensitive: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Use appends middleware. On the top-level router they run before every
// matched route's own middleware; inside a group they attach to the routes
// the group registers.
func (r *Router) Use(mw ...Middleware) {
	if r.isGroup {
		r.groupMws = append(r.groupMws, mw...)
		return
	}
	r.middlewares = append(r.middlewares, mw...)
}

// Middlewares returns the router-level middleware list.
func (r *Router) Middlewares() []Middleware {
	return r.middlewares
}

// Handle registers a route. Patterns are literal segments plus {name}
// placeholders, each matching exactly one non-slash segment.
func (r *Router) Handle(method, pattern string, h Handler, mws ...Middleware) {
	full := r.base + pattern
	re, names, err := compile(full, r.caseSensitive)
	if err != nil {
		panic(fmt.Sprintf("router: %v", err))
	}

	var routeMws []Middleware
	routeMws = append(routeMws, r.groupMws...)
	routeMws = append(routeMws, mws...)

	r.routes = append(r.routes, &Route{
		Method:      method,
		Pattern:     full,
		Handler:     h,
		Middlewares: routeMws,
		re:          re,
		paramNames:  names,
	})
}

func (r *Router) GET(pattern string, h Handler, mws ...Middleware) {
	r.Handle("GET", pattern, h, mws...)
}

func (r *Router) POST(pattern string, h Handler, mws ...Middleware) {
	r.Handle("POST", pattern, h, mws...)
}

func (r *Router) PUT(pattern string, h Handler, mws ...Middleware) {
	r.Handle("PUT", pattern, h, mws...)
}

func (r *Router) PATCH(pattern string, h Handler, mws ...Middleware) {
	r.Handle("PATCH", pattern, h, mws...)
}

func (r *Router) DELETE(pattern string, h Handler, mws ...Middleware) {
	r.Handle("DELETE", pattern, h, mws...)
}

func (r *Router) HEAD(pattern string, h Handler, mws ...Middleware) {
	r.Handle("HEAD", pattern, h, mws...)
}

func (r *Router) OPTIONS(pattern string, h Handler, mws ...Middleware) {
	r.Handle("OPTIONS", pattern, h, mws...)
}

// Any registers a route matching every method.
func (r *Router) Any(pattern string, h Handler, mws ...Middleware) {
	r.Handle(MethodAny, pattern, h, mws...)
}

// Group runs setup against a child router whose registrations land on this
// router with the group prefix prepended and the group's middleware baked
// in. Groups are a registration-time macro, not a runtime composition.
func (r *Router) Group(prefix string, setup func(*Router)) {
	child := &Router{
		base:          r.base + prefix,
		caseSensitive: r.caseSensitive,
		isGroup:       true,
		groupMws:      append([]Middleware(nil), r.groupMws...),
	}
	setup(child)
	r.routes = append(r.routes, child.routes...)
}

// Match scans registered routes in registration order and returns the first
// whose method and compiled pattern both match; no specificity scoring.
// Captured groups are zipped positionally with the recorded parameter names.
// A miss is not an error: the caller falls through to not-found handling.
func (r *Router) Match(method, path string) (*Route, map[string]string, bool) {
	if !r.caseSensitive {
		path = strings.ToLower(path)
	}
	if r.prefix != "" {
		prefix := r.prefix
		if !r.caseSensitive {
			prefix = strings.ToLower(prefix)
		}
		if !strings.HasPrefix(path, prefix) {
			return nil, nil, false
		}
		path = path[len(prefix):]
		if path == "" {
			path = "/"
		}
	}

	for _, route := range r.routes {
		if route.Method != method && route.Method != MethodAny {
			continue
		}
		m := route.re.FindStringSubmatch(path)
		if m == nil {
			continue
		}

		params := make(map[string]string, len(route.paramNames))
		for i, name := range route.paramNames {
			// Duplicate names are not deduplicated; later capture wins.
			params[name] = m[i+1]
		}
		return route, params, true
	}

	return nil, nil, false
}

// compile turns a pattern into an anchored regexp: literals are escaped,
// each {name} placeholder becomes a single-segment capture.
func compile(pattern string, caseSensitive bool) (*regexp.Regexp, []string, error) {
	if !caseSensitive {
		pattern = strings.ToLower(pattern)
	}

	var sb strings.Builder
	sb.WriteByte('^')
	var names []string

	for i := 0; i < len(pattern); {
		if pattern[i] != '{' {
			sb.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
			i++
			continue
		}

		end := strings.IndexByte(pattern[i:], '}')
		if end == -1 {
			return nil, nil, fmt.Errorf("unterminated placeholder in pattern %q", pattern)
		}
		name := pattern[i+1 : i+end]
		if name == "" || strings.ContainsAny(name, "/{") {
			return nil, nil, fmt.Errorf("invalid placeholder name in pattern %q", pattern)
		}
		names = append(names, name)
		sb.WriteString("([^/]+)")
		i += end + 1
	}

	sb.WriteByte('$')
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	return re, names, nil
}
