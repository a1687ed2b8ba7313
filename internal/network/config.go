package network

import (
	"context"
	"net"
	"time"
)

// Dialer opens the TCP connection for a channel. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config defines per-channel liveness and connect behavior.
type Config struct {
	// HeartbeatInterval <= 0 disables heartbeats.
	HeartbeatInterval       time.Duration
	ResetHeartbeatOnReceive bool
	ConnectTimeout          time.Duration
	Dialer                  Dialer
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:       30 * time.Second,
		ResetHeartbeatOnReceive: true,
		ConnectTimeout:          5 * time.Second,
	}
}

// WithDefaults fills unset connect fields; heartbeat fields are kept as given.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.Dialer == nil {
		c.Dialer = &net.Dialer{Timeout: c.ConnectTimeout}
	}
	return c
}
