package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/netchan/internal/config"
	"github.com/danmuck/netchan/internal/network"
	"github.com/danmuck/netchan/internal/protocol/packet"
	"github.com/danmuck/netchan/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const tickInterval = 50 * time.Millisecond

func connectCmd() *cobra.Command {
	var (
		path    string
		name    string
		topic   string
		noRetry bool
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect a configured channel, print inbound messages and send stdin lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			entry, err := cfg.Channel(name)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c := &client{
				entry:   entry,
				backoff: cfg.Backoff,
				retry:   !noRetry,
				topic:   topic,
				out:     cmd.OutOrStdout(),
			}
			var reloads <-chan config.Config
			if watch {
				w, err := config.NewWatcher(path)
				if err != nil {
					return err
				}
				ch := make(chan config.Config, 1)
				go func() {
					_ = w.Run(ctx, func(cfg config.Config) {
						select {
						case ch <- cfg:
						case <-ctx.Done():
						}
					})
				}()
				reloads = ch
			}
			return c.run(ctx, readLines(ctx, cmd.InOrStdin()), reloads)
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "netchan.toml", "config file")
	cmd.Flags().StringVar(&name, "channel", "", "channel name from the config file")
	cmd.Flags().StringVar(&topic, "topic", "stdin", "topic for messages read from stdin")
	cmd.Flags().BoolVar(&noRetry, "no-retry", false, "exit instead of reconnecting when the channel closes")
	cmd.Flags().BoolVar(&watch, "watch", false, "apply heartbeat and backoff edits from the config file while running")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

// client owns one managed channel and its reconnect schedule. All fields
// are touched only from the run loop.
type client struct {
	entry   config.Channel
	backoff session.BackoffConfig
	retry   bool
	topic   string
	out     io.Writer

	attempt     int
	reconnectAt time.Time
}

func (c *client) run(ctx context.Context, lines <-chan string, reloads <-chan config.Config) error {
	mgr := network.NewManager()
	defer mgr.Shutdown()

	down := make(chan struct{}, 1)
	signalDown := func() {
		select {
		case down <- struct{}{}:
		default:
		}
	}
	mgr.OnConnected(func(ch *network.Channel, _ any) {
		log.Info().Str("channel", ch.Name()).Str("remote", remoteOf(ch)).Msg("channel up")
	})
	mgr.OnClosed(func(*network.Channel) { signalDown() })
	mgr.OnError(func(ch *network.Channel, code network.ErrorCode, err error) {
		log.Error().Str("channel", ch.Name()).Str("code", code.String()).Err(err).Msg("channel failure")
		if code == network.ConnectError {
			signalDown()
		}
	})
	mgr.OnCustomError(func(ch *network.Channel, data any) {
		log.Warn().Str("channel", ch.Name()).Interface("data", data).Msg("peer error")
	})
	mgr.OnMissHeartbeat(func(ch *network.Channel, missed int) {
		log.Warn().Str("channel", ch.Name()).Int("missed", missed).Msg("heartbeat missed")
	})

	ch, err := mgr.Create(c.entry.Name, session.NewHelper(c.entry.Session, nil), c.entry.Network)
	if err != nil {
		return err
	}
	if _, err := ch.Subscribe(session.MsgMessage, func(_ any, p packet.Packet) {
		msg := p.(session.Message)
		fmt.Fprintf(c.out, "[%s] %s\n", msg.Topic, msg.Body)
	}); err != nil {
		return err
	}
	if err := ch.Connect(c.entry.Address, c.entry.Port, nil); err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if err := ch.Send(session.NewMessage(c.topic, []byte(line))); err != nil {
				log.Warn().Err(err).Msg("dropped input line")
			}
		case cfg := <-reloads:
			c.apply(ch, cfg)
		case <-down:
			if !c.retry {
				return fmt.Errorf("channel %s closed", ch.Name())
			}
			c.attempt++
			delay := session.NextBackoffDelay(c.backoff, c.attempt, rng)
			c.reconnectAt = time.Now().Add(delay)
			log.Info().Int("attempt", c.attempt).Dur("delay", delay).Msg("reconnect scheduled")
		case now := <-ticker.C:
			if err := mgr.Update(now.Sub(last)); err != nil {
				log.Error().Err(err).Msg("update")
			}
			last = now
			if ch.Connected() {
				c.attempt = 0
			}
			if !c.reconnectAt.IsZero() && !now.Before(c.reconnectAt) {
				c.reconnectAt = time.Time{}
				if err := ch.Connect(c.entry.Address, c.entry.Port, nil); err != nil {
					return err
				}
			}
		}
	}
}

// apply takes live-tunable settings from a reloaded config. Address and
// framing changes need a restart.
func (c *client) apply(ch *network.Channel, cfg config.Config) {
	entry, err := cfg.Channel(c.entry.Name)
	if err != nil {
		log.Warn().Err(err).Msg("reloaded config dropped this channel")
		return
	}
	ch.SetHeartbeatInterval(entry.Network.HeartbeatInterval)
	ch.SetResetHeartbeatOnReceive(entry.Network.ResetHeartbeatOnReceive)
	c.backoff = cfg.Backoff
	c.entry.Network = entry.Network
	log.Info().Str("channel", ch.Name()).Dur("heartbeat", entry.Network.HeartbeatInterval).Msg("settings applied")
}

// remoteOf tolerates a channel closed between connect and the log line.
func remoteOf(ch *network.Channel) string {
	addr := ch.RemoteAddr()
	if addr == nil {
		return ""
	}
	return addr.String()
}

func readLines(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
