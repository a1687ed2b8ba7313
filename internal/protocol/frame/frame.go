package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderLen is the fixed size of every frame header on the wire.
const HeaderLen = 12

const (
	Magic   uint16 = 0x4E43
	Version uint8  = 1

	FlagHeartbeat uint8 = 0x01
	FlagIsError   uint8 = 0x02
)

var (
	ErrShortHeader        = errors.New("frame: short header")
	ErrInvalidMagic       = errors.New("frame: invalid magic")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrBodyTooLarge       = errors.New("frame: body too large")
	ErrInvalidPacketID    = errors.New("frame: invalid packet id")
)

// Header is the fixed wire header.
type Header struct {
	Magic    uint16
	Version  uint8
	Flags    uint8
	PacketID uint32
	BodyLen  uint32
}

// Frame is one complete wire message.
type Frame struct {
	Header Header
	Body   []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxBodyBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxBodyBytes: 4 * 1024 * 1024,
	}
}

// Check validates a decoded header against the protocol constants and limits.
func (l Limits) Check(h Header) error {
	if h.Magic != Magic {
		return fmt.Errorf("%w: 0x%04x", ErrInvalidMagic, h.Magic)
	}
	if h.Version != Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.PacketID == 0 {
		return ErrInvalidPacketID
	}
	if l.MaxBodyBytes > 0 && h.BodyLen > l.MaxBodyBytes {
		return fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, h.BodyLen, l.MaxBodyBytes)
	}
	return nil
}

// Encode returns header+body bytes for one packet.
func Encode(packetID uint32, flags uint8, body []byte, limits Limits) ([]byte, error) {
	if packetID == 0 {
		return nil, ErrInvalidPacketID
	}
	if limits.MaxBodyBytes > 0 && uint64(len(body)) > uint64(limits.MaxBodyBytes) {
		return nil, ErrBodyTooLarge
	}
	out := make([]byte, HeaderLen+len(body))
	PutHeader(out[:HeaderLen], Header{
		Magic:    Magic,
		Version:  Version,
		Flags:    flags,
		PacketID: packetID,
		BodyLen:  uint32(len(body)),
	})
	copy(out[HeaderLen:], body)
	return out, nil
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if err := limits.Check(h); err != nil {
		return Frame{}, err
	}

	body := make([]byte, h.BodyLen)
	if h.BodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: h, Body: body}, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	b, err := Encode(f.Header.PacketID, f.Header.Flags, f.Body, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func PutHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint16(buf[0:2], h.Magic)
	buf[2] = h.Version
	buf[3] = h.Flags
	binary.BigEndian.PutUint32(buf[4:8], h.PacketID)
	binary.BigEndian.PutUint32(buf[8:12], h.BodyLen)
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	PutHeader(buf, h)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("frame: invalid header length: %d", len(b))
	}
	return Header{
		Magic:    binary.BigEndian.Uint16(b[0:2]),
		Version:  b[2],
		Flags:    b[3],
		PacketID: binary.BigEndian.Uint32(b[4:8]),
		BodyLen:  binary.BigEndian.Uint32(b[8:12]),
	}, nil
}
