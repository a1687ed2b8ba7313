package network

import "github.com/danmuck/netchan/internal/protocol/packet"

// Helper supplies the protocol-specific half of a Channel.
//
// Byte slices handed to DeserializeHeader and DeserializeBody are owned by
// the channel and reused for the next frame; implementations must copy
// anything they keep.
type Helper interface {
	// Initialize is called once from NewChannel.
	Initialize(ch *Channel)
	// Shutdown is called once from Channel.Shutdown.
	Shutdown()
	// HeaderLength is the fixed size of one frame header.
	HeaderLength() int
	// Serialize encodes one outbound packet into header+body bytes.
	Serialize(p packet.Packet) ([]byte, error)
	// DeserializeHeader decodes a header. A non-nil customErr is surfaced
	// through OnCustomError without closing the channel.
	DeserializeHeader(b []byte) (h packet.Header, customErr any, err error)
	// DeserializeBody decodes the body framed by h.
	DeserializeBody(h packet.Header, b []byte) (p packet.Packet, customErr any, err error)
	// SendHeartbeat queues a heartbeat packet and reports whether it did.
	SendHeartbeat() bool
}
