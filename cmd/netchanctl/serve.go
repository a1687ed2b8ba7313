package main

import (
	"context"
	"errors"
	"io"
	"net"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/netchan/internal/protocol/frame"
	"github.com/danmuck/netchan/internal/protocol/packet"
	"github.com/danmuck/netchan/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// errUnexpectedPacket is the ErrorReport code sent back for ids the peer
// does not handle.
const errUnexpectedPacket uint32 = 1

func serveCmd() *cobra.Command {
	var (
		addr         string
		maxBodyBytes uint32
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an echo peer that answers heartbeats and echoes messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			log.Info().Str("addr", ln.Addr().String()).Msg("echo peer listening")
			return runPeer(ctx, ln, frame.Limits{MaxBodyBytes: maxBodyBytes})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9000", "listen address")
	cmd.Flags().Uint32Var(&maxBodyBytes, "max-body-bytes", frame.DefaultLimits().MaxBodyBytes, "largest accepted frame body")
	return cmd
}

// runPeer accepts connections on ln until ctx is done.
func runPeer(ctx context.Context, ln net.Listener, limits frame.Limits) error {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		conns = make(map[net.Conn]struct{})
	)
	go func() {
		<-ctx.Done()
		_ = ln.Close()
		mu.Lock()
		for conn := range conns {
			_ = conn.Close()
		}
		mu.Unlock()
	}()

	registry := session.NewRegistry()
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		mu.Lock()
		conns[conn] = struct{}{}
		mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				mu.Lock()
				delete(conns, conn)
				mu.Unlock()
				_ = conn.Close()
			}()
			servePeerConn(conn, registry, limits)
		}()
	}
}

func servePeerConn(conn net.Conn, registry *packet.Registry, limits frame.Limits) {
	remote := conn.RemoteAddr().String()
	log.Info().Str("remote", remote).Msg("peer connected")
	defer log.Info().Str("remote", remote).Msg("peer disconnected")

	for {
		f, err := frame.ReadFrame(conn, limits)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Warn().Str("remote", remote).Err(err).Msg("read frame failed")
			}
			return
		}
		reply, err := peerReply(registry, f)
		if err != nil {
			log.Warn().Str("remote", remote).Err(err).Msg("decode failed")
		}
		if reply == nil {
			continue
		}
		b, err := session.EncodeFrame(reply, limits)
		if err != nil {
			log.Warn().Str("remote", remote).Err(err).Msg("encode reply failed")
			continue
		}
		if _, err := conn.Write(b); err != nil {
			log.Warn().Str("remote", remote).Err(err).Msg("write reply failed")
			return
		}
	}
}

func peerReply(registry *packet.Registry, f frame.Frame) (session.Encoder, error) {
	p, err := session.DecodeFrame(registry, f, packet.DirClientToServer)
	if err != nil {
		return session.ErrorReport{
			Dir:     packet.DirServerToClient,
			Code:    errUnexpectedPacket,
			Message: err.Error(),
		}, err
	}
	switch v := p.(type) {
	case session.Heartbeat:
		return session.Heartbeat{Dir: packet.DirServerToClient, SentAtMS: uint64(time.Now().UnixMilli())}, nil
	case session.Message:
		log.Debug().Str("topic", v.Topic).Int("bytes", len(v.Body)).Msg("echo")
		return session.Message{Dir: packet.DirServerToClient, Topic: v.Topic, Body: v.Body}, nil
	case session.ErrorReport:
		log.Warn().Uint32("code", v.Code).Str("message", v.Message).Msg("client reported error")
		return nil, nil
	default:
		return nil, nil
	}
}
