package packet

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Direction tags which side of the wire produced a packet.
type Direction uint8

const (
	DirUndefined Direction = iota
	DirClientToServer
	DirServerToClient
)

func (d Direction) String() string {
	switch d {
	case DirClientToServer:
		return "cs"
	case DirServerToClient:
		return "sc"
	default:
		return "undefined"
	}
}

// Defined reports whether d is one of the known directions.
func (d Direction) Defined() bool {
	return d == DirClientToServer || d == DirServerToClient
}

// Header is the decoded fixed prefix of one protocol frame.
type Header struct {
	ID         uint32
	BodyLength int
	Direction  Direction
}

// Valid reports whether the header can frame a body.
func (h Header) Valid() bool {
	return h.Direction.Defined() && h.ID > 0 && h.BodyLength >= 0
}

// Packet is one application message carried by a channel.
type Packet interface {
	ID() uint32
	Direction() Direction
}

var (
	ErrUnknownPacket = errors.New("packet: unknown packet id")
	ErrDuplicateID   = errors.New("packet: duplicate packet id")
	ErrInvalidID     = errors.New("packet: invalid packet id")
)

// DecodeFunc builds an inbound packet from its header and body bytes.
type DecodeFunc func(h Header, body []byte) (Packet, error)

// Registry maps packet ids to decoders. Registration happens at startup;
// lookups are safe from any goroutine.
type Registry struct {
	mu       sync.RWMutex
	decoders map[uint32]DecodeFunc
}

func NewRegistry() *Registry {
	return &Registry{
		decoders: make(map[uint32]DecodeFunc),
	}
}

func (r *Registry) Register(id uint32, fn DecodeFunc) error {
	if id == 0 {
		return ErrInvalidID
	}
	if fn == nil {
		return fmt.Errorf("packet: nil decoder for id %d", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.decoders[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	r.decoders[id] = fn
	return nil
}

// MustRegister is Register for static tables; it panics on conflict.
func (r *Registry) MustRegister(id uint32, fn DecodeFunc) {
	if err := r.Register(id, fn); err != nil {
		panic(err)
	}
}

func (r *Registry) Has(id uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decoders[id]
	return ok
}

func (r *Registry) Decode(h Header, body []byte) (Packet, error) {
	r.mu.RLock()
	fn, ok := r.decoders[h.ID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPacket, h.ID)
	}
	return fn(h, body)
}

// IDs returns the registered packet ids in ascending order.
func (r *Registry) IDs() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uint32, 0, len(r.decoders))
	for id := range r.decoders {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
