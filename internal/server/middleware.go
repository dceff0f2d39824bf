package server

import (
	"fmt"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/dchest/uniuri"
	"github.com/rs/zerolog"

	"github.com/kestrel-web/kestrel/internal/request"
	"github.com/kestrel-web/kestrel/internal/response"
)

// AccessLog logs every request after its cycle completes.
func AccessLog(log zerolog.Logger) Middleware {
	return func(req *request.Request, res *response.Response, proceed func() bool) bool {
		start := time.Now()
		handled := proceed()

		ev := log.Info().
			Str("method", req.Method).
			Str("path", req.Path).
			Int("status", res.StatusCode()).
			Dur("duration", time.Since(start)).
			Str("remote", req.RemoteAddr)
		if id := res.Headers().Value("X-Request-ID"); id != "" {
			ev = ev.Str("request_id", id)
		}
		ev.Msg("request handled")

		return handled
	}
}

// RequestID tags each response with a random request identifier.
func RequestID() Middleware {
	return func(req *request.Request, res *response.Response, proceed func() bool) bool {
		res.SetHeader("X-Request-ID", uniuri.NewLen(16))
		return proceed()
	}
}

// Recovery catches panics below it, logs the stack, and answers 500. The
// pipeline already recovers on its own; use this to get stack traces in the
// log and to scope recovery to part of the chain.
func Recovery(log zerolog.Logger) Middleware {
	return func(req *request.Request, res *response.Response, proceed func() bool) (handled bool) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Interface("panic", rec).
					Str("path", req.Path).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				if !res.HeadersSent() {
					res.Error(response.StatusInternalServerError, "internal server error")
				}
				handled = true
			}
		}()
		return proceed()
	}
}

// BodyLimit rejects requests whose declared length exceeds max before any
// body byte is read. The response asks for closure so the unread body is
// never drained.
func BodyLimit(max int64) Middleware {
	return func(req *request.Request, res *response.Response, proceed func() bool) bool {
		if req.ContentLength() > max {
			res.SetHeader("Connection", "close")
			res.Error(response.StatusPayloadTooLarge, "request body too large")
			return true
		}
		return proceed()
	}
}

// SecurityHeaders sets conservative browser-facing defaults.
func SecurityHeaders() Middleware {
	return func(req *request.Request, res *response.Response, proceed func() bool) bool {
		res.SetHeader("X-Content-Type-Options", "nosniff")
		res.SetHeader("X-Frame-Options", "DENY")
		res.SetHeader("Referrer-Policy", "no-referrer")
		return proceed()
	}
}

// CORSConfig configures the CORS middleware.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSConfig is permissive; meant for development.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With"},
		MaxAge:         12 * time.Hour,
	}
}

// CORS sets cross-origin headers and answers preflights without ever
// reaching the route handler.
func CORS(config CORSConfig) Middleware {
	return func(req *request.Request, res *response.Response, proceed func() bool) bool {
		origin := req.Header("Origin")

		if origin != "" && originAllowed(origin, config.AllowedOrigins) {
			res.SetHeader("Access-Control-Allow-Origin", origin)
			res.SetHeader("Access-Control-Allow-Methods", strings.Join(config.AllowedMethods, ", "))
			res.SetHeader("Access-Control-Allow-Headers", strings.Join(config.AllowedHeaders, ", "))
			if config.AllowCredentials {
				res.SetHeader("Access-Control-Allow-Credentials", "true")
			}
			if config.MaxAge > 0 {
				res.SetHeader("Access-Control-Max-Age", fmt.Sprintf("%d", int(config.MaxAge.Seconds())))
			}
		}

		if req.Method == "OPTIONS" {
			// Preflight: short-circuit the chain.
			res.NoContent()
			return true
		}

		return proceed()
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// RateLimiter is a simple token bucket per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    int
	window  time.Duration
	done    chan struct{}
	stop    sync.Once
}

type bucket struct {
	tokens    int
	lastReset time.Time
}

// NewRateLimiter allows rate requests per window for each client IP.
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		window:  window,
		done:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Stop terminates the cleanup goroutine. The limiter keeps allowing and
// denying afterwards; only the idle-bucket eviction stops.
func (rl *RateLimiter) Stop() {
	rl.stop.Do(func() { close(rl.done) })
}

// Allow reports whether a request from ip fits the budget.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	b, ok := rl.buckets[ip]
	if !ok {
		rl.buckets[ip] = &bucket{tokens: rl.rate - 1, lastReset: now}
		return true
	}

	if now.Sub(b.lastReset) >= rl.window {
		b.tokens = rl.rate - 1
		b.lastReset = now
		return true
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// cleanup drops buckets idle for two windows, until Stop.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window * 2)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
		}

		rl.mu.Lock()
		now := time.Now()
		for ip, b := range rl.buckets {
			if now.Sub(b.lastReset) > rl.window*2 {
				delete(rl.buckets, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimit rejects over-budget clients with 429.
func RateLimit(limiter *RateLimiter) Middleware {
	return func(req *request.Request, res *response.Response, proceed func() bool) bool {
		ip := req.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if !limiter.Allow(ip) {
			res.Error(response.StatusTooManyRequests, "rate limit exceeded")
			return true
		}
		return proceed()
	}
}
