package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/netchan/internal/protocol/frame"
	"github.com/danmuck/netchan/internal/protocol/packet"
	"github.com/danmuck/netchan/internal/protocol/tlv"
)

// Well-known packet ids.
const (
	MsgHeartbeat uint32 = 1
	MsgError     uint32 = 2
	MsgMessage   uint32 = 3
)

// TLV field ids per packet body.
const (
	fieldSentAtMS uint16 = 1

	fieldCode    uint16 = 1
	fieldMessage uint16 = 2

	fieldTopic uint16 = 1
	fieldBody  uint16 = 2
)

var (
	ErrNotEncodable   = errors.New("session: packet has no wire encoding")
	ErrWrongDirection = errors.New("session: packet direction not sendable")
)

// Encoder is a packet with a TLV body.
type Encoder interface {
	packet.Packet
	Fields() []tlv.Field
}

// Heartbeat is the liveness probe. Peers answer with a heartbeat of their own.
type Heartbeat struct {
	Dir      packet.Direction
	SentAtMS uint64
}

func NewHeartbeat(now time.Time) Heartbeat {
	return Heartbeat{Dir: packet.DirClientToServer, SentAtMS: uint64(now.UnixMilli())}
}

func (h Heartbeat) ID() uint32                  { return MsgHeartbeat }
func (h Heartbeat) Direction() packet.Direction { return h.Dir }

func (h Heartbeat) Fields() []tlv.Field {
	return []tlv.Field{tlv.U64(fieldSentAtMS, h.SentAtMS)}
}

// ErrorReport carries a peer-side application error. It is delivered as a
// packet and also surfaced as custom error data.
type ErrorReport struct {
	Dir     packet.Direction
	Code    uint32
	Message string
}

func (r ErrorReport) ID() uint32                  { return MsgError }
func (r ErrorReport) Direction() packet.Direction { return r.Dir }

func (r ErrorReport) Fields() []tlv.Field {
	return []tlv.Field{
		tlv.U32(fieldCode, r.Code),
		tlv.String(fieldMessage, r.Message),
	}
}

func (r ErrorReport) Error() string {
	return fmt.Sprintf("session: peer error code=%d: %s", r.Code, r.Message)
}

// Message is a topic-tagged opaque payload.
type Message struct {
	Dir   packet.Direction
	Topic string
	Body  []byte
}

func NewMessage(topic string, body []byte) Message {
	return Message{Dir: packet.DirClientToServer, Topic: topic, Body: body}
}

func (m Message) ID() uint32                  { return MsgMessage }
func (m Message) Direction() packet.Direction { return m.Dir }

func (m Message) Fields() []tlv.Field {
	return []tlv.Field{
		tlv.String(fieldTopic, m.Topic),
		tlv.Bytes(fieldBody, m.Body),
	}
}

// NewRegistry returns a registry with the well-known packets.
func NewRegistry() *packet.Registry {
	r := packet.NewRegistry()
	r.MustRegister(MsgHeartbeat, decodeHeartbeat)
	r.MustRegister(MsgError, decodeErrorReport)
	r.MustRegister(MsgMessage, decodeMessage)
	return r
}

func decodeHeartbeat(h packet.Header, body []byte) (packet.Packet, error) {
	fields, err := tlv.DecodeFields(body)
	if err != nil {
		return nil, err
	}
	sentAt, err := tlv.GetU64(fields, fieldSentAtMS)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}
	return Heartbeat{Dir: h.Direction, SentAtMS: sentAt}, nil
}

func decodeErrorReport(h packet.Header, body []byte) (packet.Packet, error) {
	fields, err := tlv.DecodeFields(body)
	if err != nil {
		return nil, err
	}
	code, err := tlv.GetU32(fields, fieldCode)
	if err != nil {
		return nil, fmt.Errorf("error report: %w", err)
	}
	msg, err := tlv.GetString(fields, fieldMessage)
	if err != nil {
		return nil, fmt.Errorf("error report: %w", err)
	}
	return ErrorReport{Dir: h.Direction, Code: code, Message: msg}, nil
}

func decodeMessage(h packet.Header, body []byte) (packet.Packet, error) {
	fields, err := tlv.DecodeFields(body)
	if err != nil {
		return nil, err
	}
	topic, err := tlv.GetString(fields, fieldTopic)
	if err != nil {
		return nil, fmt.Errorf("message: %w", err)
	}
	f, ok := tlv.GetField(fields, fieldBody)
	if !ok {
		return nil, fmt.Errorf("message: %w: %d", tlv.ErrMissingField, fieldBody)
	}
	if err := tlv.MustType(f, tlv.TypeBytes); err != nil {
		return nil, fmt.Errorf("message: %w", err)
	}
	return Message{Dir: h.Direction, Topic: topic, Body: f.Value}, nil
}

// EncodeFrame frames p regardless of its direction. Peers use it directly;
// channels go through Helper.Serialize.
func EncodeFrame(p Encoder, limits frame.Limits) ([]byte, error) {
	return frame.Encode(p.ID(), flagsFor(p.ID()), tlv.EncodeFields(p.Fields()), limits)
}

// DecodeFrame decodes one already-read frame into a packet travelling in dir.
func DecodeFrame(r *packet.Registry, f frame.Frame, dir packet.Direction) (packet.Packet, error) {
	h := packet.Header{ID: f.Header.PacketID, BodyLength: len(f.Body), Direction: dir}
	return r.Decode(h, f.Body)
}

func flagsFor(id uint32) uint8 {
	switch id {
	case MsgHeartbeat:
		return frame.FlagHeartbeat
	case MsgError:
		return frame.FlagIsError
	default:
		return 0
	}
}
