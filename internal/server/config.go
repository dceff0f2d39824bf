package server

import (
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultPort             = 9090
	DefaultMaxBodySize      = 10 << 20 // 10 MiB
	DefaultMaxConnections   = 1000
	DefaultKeepAliveTimeout = 15 * time.Second
)

// Config holds the recognized server options. The zero value of any field
// falls back to its default.
type Config struct {
	// Host is the bind address; empty means all interfaces.
	Host string
	// Port defaults to 9090.
	Port int
	// MaxBodySize caps request bodies in bytes. It is enforced by the
	// BodyLimit middleware, not by the parser.
	MaxBodySize int64
	// MaxConnections is the active-connection ceiling enforced by the
	// acceptor. Connections beyond it are rejected silently.
	MaxConnections int
	// ReuseAddr is accepted for compatibility; Go's TCP listeners set
	// SO_REUSEADDR unconditionally.
	ReuseAddr bool
	// KeepAliveTimeout is how long an idle connection may wait for the
	// first byte of its next request.
	KeepAliveTimeout time.Duration
	// Logger, when set, replaces the default stderr logger.
	Logger *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Port:             DefaultPort,
		MaxBodySize:      DefaultMaxBodySize,
		MaxConnections:   DefaultMaxConnections,
		ReuseAddr:        true,
		KeepAliveTimeout: DefaultKeepAliveTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.MaxBodySize == 0 {
		c.MaxBodySize = DefaultMaxBodySize
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.KeepAliveTimeout == 0 {
		c.KeepAliveTimeout = DefaultKeepAliveTimeout
	}
	return c
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
