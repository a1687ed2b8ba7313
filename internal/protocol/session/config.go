package session

import (
	"time"

	"github.com/danmuck/netchan/internal/protocol/frame"
)

// BackoffConfig defines reconnect backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines the protocol policy applied by Helper.
type Config struct {
	// MaxMissedHeartbeats closes the channel once this many heartbeats
	// went unanswered. 0 disables the policy.
	MaxMissedHeartbeats int
	Limits              frame.Limits
	Backoff             BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		MaxMissedHeartbeats: 2,
		Limits:              frame.DefaultLimits(),
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}
