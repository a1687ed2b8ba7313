package network

import (
	"errors"
	"fmt"
)

// ErrorCode classifies channel failures.
type ErrorCode int

const (
	UnknownError ErrorCode = iota
	AddressFamilyError
	SocketError
	ConnectError
	SendError
	ReceiveError
	SerializeError
	DeserializePacketHeaderError
	DeserializePacketError
	CustomError
)

func (c ErrorCode) String() string {
	switch c {
	case AddressFamilyError:
		return "AddressFamilyError"
	case SocketError:
		return "SocketError"
	case ConnectError:
		return "ConnectError"
	case SendError:
		return "SendError"
	case ReceiveError:
		return "ReceiveError"
	case SerializeError:
		return "SerializeError"
	case DeserializePacketHeaderError:
		return "DeserializePacketHeaderError"
	case DeserializePacketError:
		return "DeserializePacketError"
	case CustomError:
		return "CustomError"
	default:
		return "UnknownError"
	}
}

var (
	ErrChannelNameRequired      = errors.New("network: channel name required")
	ErrHelperRequired           = errors.New("network: channel helper required")
	ErrInvalidHeaderLength      = errors.New("network: helper header length must be positive")
	ErrNotConnected             = errors.New("network: channel not connected")
	ErrNilPacket                = errors.New("network: nil packet")
	ErrUnsupportedAddressFamily = errors.New("network: unsupported address family")
	ErrInvalidPort              = errors.New("network: invalid port")
	ErrInvalidHeader            = errors.New("network: invalid packet header")
	ErrEmptySerialization       = errors.New("network: serialized packet is empty")
	ErrShortWrite               = errors.New("network: socket accepted zero bytes")
	ErrChannelExists            = errors.New("network: channel already exists")
	ErrChannelNotFound          = errors.New("network: channel not found")
)

// ChannelError is one fatal or reported failure on a named channel.
type ChannelError struct {
	Channel string
	Code    ErrorCode
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("network: channel=%q code=%s: %v", e.Channel, e.Code, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// CodeOf returns the ErrorCode carried by err, or UnknownError.
func CodeOf(err error) ErrorCode {
	var cerr *ChannelError
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	return UnknownError
}
