package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/netchan/internal/network"
	"github.com/danmuck/netchan/internal/protocol/frame"
	"github.com/danmuck/netchan/internal/protocol/packet"
	"github.com/rs/zerolog/log"
)

// Helper is the default network.Helper: frame headers, TLV bodies decoded
// through a packet registry, heartbeat packets and a miss-close policy.
type Helper struct {
	cfg      Config
	registry *packet.Registry
	now      func() time.Time

	mu sync.Mutex
	ch *network.Channel
}

// NewHelper builds a helper. A nil registry uses NewRegistry().
func NewHelper(cfg Config, registry *packet.Registry) *Helper {
	if registry == nil {
		registry = NewRegistry()
	}
	if cfg.Limits.MaxBodyBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	return &Helper{
		cfg:      cfg,
		registry: registry,
		now:      time.Now,
	}
}

func (h *Helper) Registry() *packet.Registry {
	return h.registry
}

func (h *Helper) Initialize(ch *network.Channel) {
	h.mu.Lock()
	h.ch = ch
	h.mu.Unlock()
	ch.OnMissHeartbeat(h.onMissHeartbeat)
}

// Shutdown detaches the helper; the miss policy stops acting on the channel.
func (h *Helper) Shutdown() {
	h.mu.Lock()
	h.ch = nil
	h.mu.Unlock()
}

func (h *Helper) HeaderLength() int {
	return frame.HeaderLen
}

func (h *Helper) Serialize(p packet.Packet) ([]byte, error) {
	enc, ok := p.(Encoder)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotEncodable, p)
	}
	if p.Direction() != packet.DirClientToServer {
		return nil, fmt.Errorf("%w: id=%d dir=%s", ErrWrongDirection, p.ID(), p.Direction())
	}
	return EncodeFrame(enc, h.cfg.Limits)
}

func (h *Helper) DeserializeHeader(b []byte) (packet.Header, any, error) {
	fh, err := frame.DecodeHeader(b)
	if err != nil {
		return packet.Header{}, nil, err
	}
	if err := h.cfg.Limits.Check(fh); err != nil {
		return packet.Header{}, nil, err
	}
	return packet.Header{
		ID:         fh.PacketID,
		BodyLength: int(fh.BodyLen),
		Direction:  packet.DirServerToClient,
	}, nil, nil
}

func (h *Helper) DeserializeBody(hdr packet.Header, b []byte) (packet.Packet, any, error) {
	p, err := h.registry.Decode(hdr, b)
	if err != nil {
		return nil, nil, err
	}
	if report, ok := p.(ErrorReport); ok {
		return p, report, nil
	}
	return p, nil, nil
}

func (h *Helper) SendHeartbeat() bool {
	ch := h.channel()
	if ch == nil {
		return false
	}
	return ch.Send(NewHeartbeat(h.now())) == nil
}

func (h *Helper) channel() *network.Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ch
}

func (h *Helper) onMissHeartbeat(ch *network.Channel, missed int) {
	if h.cfg.MaxMissedHeartbeats <= 0 || h.channel() != ch {
		return
	}
	if missed < h.cfg.MaxMissedHeartbeats {
		return
	}
	log.Warn().Str("channel", ch.Name()).Int("missed", missed).Msg("peer unresponsive, closing")
	ch.Close()
}
