package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/netchan/internal/network"
	"github.com/danmuck/netchan/internal/protocol/session"
)

var (
	ErrNoChannels       = errors.New("config: no channels defined")
	ErrChannelNotFound  = errors.New("config: channel not found")
	ErrDuplicateChannel = errors.New("config: duplicate channel name")
)

// Channel is one resolved [[channels]] entry.
type Channel struct {
	Name    string
	Address string
	Port    int
	Network network.Config
	Session session.Config
}

// Target is address:port for logs and peers.
func (c Channel) Target() string {
	return net.JoinHostPort(c.Address, fmt.Sprint(c.Port))
}

// Config is a loaded netchan config file.
type Config struct {
	Channels []Channel
	Backoff  session.BackoffConfig
}

// Channel returns the entry with the given name.
func (c Config) Channel(name string) (Channel, error) {
	key := strings.TrimSpace(name)
	for _, ch := range c.Channels {
		if ch.Name == key {
			return ch, nil
		}
	}
	return Channel{}, fmt.Errorf("%w: %q", ErrChannelNotFound, key)
}

type fileConfig struct {
	Channels []channelEntry `toml:"channels"`
	Backoff  backoffEntry   `toml:"backoff"`
}

type channelEntry struct {
	Name                    string  `toml:"name"`
	Address                 string  `toml:"address"`
	Port                    int     `toml:"port"`
	HeartbeatInterval       *string `toml:"heartbeat_interval"`
	ResetHeartbeatOnReceive *bool   `toml:"reset_heartbeat_on_receive"`
	MaxMissedHeartbeats     *int    `toml:"max_missed_heartbeats"`
	ConnectTimeout          *string `toml:"connect_timeout"`
	MaxBodyBytes            uint32  `toml:"max_body_bytes"`
}

type backoffEntry struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

// Load reads and validates a config file.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	return resolve(raw, meta)
}

// Parse is Load for in-memory toml.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	return resolve(raw, meta)
}

func resolve(raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config: unknown key %q", undecoded[0].String())
	}

	cfg := Config{Backoff: session.DefaultConfig().Backoff}
	if err := applyBackoff(&cfg.Backoff, raw.Backoff, meta); err != nil {
		return Config{}, err
	}
	for i, entry := range raw.Channels {
		ch, err := resolveChannel(entry)
		if err != nil {
			return Config{}, fmt.Errorf("channels[%d]: %w", i, err)
		}
		cfg.Channels = append(cfg.Channels, ch)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyBackoff(out *session.BackoffConfig, raw backoffEntry, meta toml.MetaData) error {
	if meta.IsDefined("backoff", "initial_delay") {
		d, err := parseDuration("backoff.initial_delay", raw.InitialDelay)
		if err != nil {
			return err
		}
		out.InitialDelay = d
	}
	if meta.IsDefined("backoff", "multiplier") {
		out.Multiplier = raw.Multiplier
	}
	if meta.IsDefined("backoff", "max_delay") {
		d, err := parseDuration("backoff.max_delay", raw.MaxDelay)
		if err != nil {
			return err
		}
		out.MaxDelay = d
	}
	if meta.IsDefined("backoff", "jitter") {
		out.Jitter = raw.Jitter
	}
	return nil
}

func resolveChannel(entry channelEntry) (Channel, error) {
	ch := Channel{
		Name:    strings.TrimSpace(entry.Name),
		Address: strings.TrimSpace(entry.Address),
		Port:    entry.Port,
		Network: network.DefaultConfig(),
		Session: session.DefaultConfig(),
	}
	if entry.HeartbeatInterval != nil {
		d, err := parseDuration("heartbeat_interval", *entry.HeartbeatInterval)
		if err != nil {
			return Channel{}, err
		}
		ch.Network.HeartbeatInterval = d
	}
	if entry.ResetHeartbeatOnReceive != nil {
		ch.Network.ResetHeartbeatOnReceive = *entry.ResetHeartbeatOnReceive
	}
	if entry.ConnectTimeout != nil {
		d, err := parseDuration("connect_timeout", *entry.ConnectTimeout)
		if err != nil {
			return Channel{}, err
		}
		ch.Network.ConnectTimeout = d
	}
	if entry.MaxMissedHeartbeats != nil {
		ch.Session.MaxMissedHeartbeats = *entry.MaxMissedHeartbeats
	}
	if entry.MaxBodyBytes > 0 {
		ch.Session.Limits.MaxBodyBytes = entry.MaxBodyBytes
	}
	return ch, nil
}

func parseDuration(key, v string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func Validate(cfg Config) error {
	if len(cfg.Channels) == 0 {
		return ErrNoChannels
	}
	seen := make(map[string]struct{}, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		if err := ValidateChannel(ch); err != nil {
			return fmt.Errorf("channel[%d] invalid: %w", i, err)
		}
		if _, ok := seen[ch.Name]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateChannel, ch.Name)
		}
		seen[ch.Name] = struct{}{}
	}
	return ValidateBackoff(cfg.Backoff)
}

func ValidateChannel(ch Channel) error {
	if strings.TrimSpace(ch.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if net.ParseIP(ch.Address) == nil {
		return fmt.Errorf("address must be an ipv4 or ipv6 literal: %q", ch.Address)
	}
	if ch.Port <= 0 || ch.Port > 65535 {
		return fmt.Errorf("port out of range: %d", ch.Port)
	}
	if ch.Network.HeartbeatInterval < 0 {
		return fmt.Errorf("heartbeat_interval must not be negative")
	}
	if ch.Network.ConnectTimeout < 0 {
		return fmt.Errorf("connect_timeout must not be negative")
	}
	if ch.Session.MaxMissedHeartbeats < 0 {
		return fmt.Errorf("max_missed_heartbeats must not be negative")
	}
	return nil
}

func ValidateBackoff(b session.BackoffConfig) error {
	if b.InitialDelay < 0 || b.MaxDelay < 0 {
		return fmt.Errorf("backoff delays must not be negative")
	}
	if b.Multiplier != 0 && b.Multiplier < 1.0 {
		return fmt.Errorf("backoff multiplier must be >= 1: %v", b.Multiplier)
	}
	if b.MaxDelay > 0 && b.InitialDelay > b.MaxDelay {
		return fmt.Errorf("backoff initial_delay exceeds max_delay")
	}
	return nil
}
