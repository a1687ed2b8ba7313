package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/netchan/internal/testutil/testlog"
)

func TestParseTemplateDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	cfg, err := Parse(Template())
	if err != nil {
		t.Fatalf("parse template: %v", err)
	}
	if len(cfg.Channels) != 2 {
		t.Fatalf("unexpected channel count: %d", len(cfg.Channels))
	}

	game, err := cfg.Channel("game")
	if err != nil {
		t.Fatalf("game channel: %v", err)
	}
	if game.Target() != "127.0.0.1:9000" {
		t.Fatalf("unexpected target: %q", game.Target())
	}
	if game.Network.HeartbeatInterval != 5*time.Second || !game.Network.ResetHeartbeatOnReceive {
		t.Fatalf("unexpected network config: %+v", game.Network)
	}
	if game.Session.MaxMissedHeartbeats != 2 || game.Session.Limits.MaxBodyBytes != 4194304 {
		t.Fatalf("unexpected session config: %+v", game.Session)
	}

	chat, err := cfg.Channel("chat")
	if err != nil {
		t.Fatalf("chat channel: %v", err)
	}
	if chat.Target() != "[::1]:9001" {
		t.Fatalf("unexpected target: %q", chat.Target())
	}
	if chat.Network.HeartbeatInterval != 0 {
		t.Fatalf("heartbeat should be disabled, got %v", chat.Network.HeartbeatInterval)
	}
	if chat.Network.ConnectTimeout != 5*time.Second || chat.Session.MaxMissedHeartbeats != 2 {
		t.Fatalf("defaults not applied: %+v %+v", chat.Network, chat.Session)
	}

	if cfg.Backoff.InitialDelay != 250*time.Millisecond || cfg.Backoff.MaxDelay != 5*time.Second || !cfg.Backoff.Jitter {
		t.Fatalf("unexpected backoff: %+v", cfg.Backoff)
	}
	if _, err := cfg.Channel("missing"); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}
}

func TestParseRejectsInvalidConfigs(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"empty": ``,
		"hostname": `[[channels]]
name = "a"
address = "example.com"
port = 1`,
		"port": `[[channels]]
name = "a"
address = "127.0.0.1"
port = 70000`,
		"duration": `[[channels]]
name = "a"
address = "127.0.0.1"
port = 1
heartbeat_interval = "soon"`,
		"duplicate": `[[channels]]
name = "a"
address = "127.0.0.1"
port = 1
[[channels]]
name = "a"
address = "127.0.0.1"
port = 2`,
		"unknown key": `[[channels]]
name = "a"
address = "127.0.0.1"
port = 1
tls = true`,
		"backoff": `[backoff]
multiplier = 0.5
[[channels]]
name = "a"
address = "127.0.0.1"
port = 1`,
	}
	for name, data := range cases {
		if _, err := Parse(data); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Parse(``); !errors.Is(err, ErrNoChannels) {
		t.Fatalf("expected ErrNoChannels, got %v", err)
	}
}

func TestWriteTemplateAndLoad(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "netchan.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite refusal, got %v", err)
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("overwrite template: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Channels) != 2 {
		t.Fatalf("unexpected channels: %+v", cfg.Channels)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "netchan.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan Config, 8)
	go func() {
		_ = w.Run(ctx, func(cfg Config) {
			select {
			case reloaded <- cfg:
			default:
			}
		})
	}()

	edited := strings.Replace(Template(), `heartbeat_interval = "5s"`, `heartbeat_interval = "7s"`, 1)
	if err := os.WriteFile(path, []byte(edited), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	deadline := time.After(3 * time.Second)
	for {
		select {
		case cfg := <-reloaded:
			game, err := cfg.Channel("game")
			if err != nil {
				t.Fatalf("game channel: %v", err)
			}
			if game.Network.HeartbeatInterval == 7*time.Second {
				return
			}
		case <-deadline:
			t.Fatalf("config not reloaded")
		}
	}
}
