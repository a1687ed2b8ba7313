package network

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/danmuck/netchan/internal/observability"
	"github.com/rs/zerolog/log"
)

// receiveLoop reads frames from conn until an error, a peer disconnect or
// Close. Exactly one loop runs per connection.
func (c *Channel) receiveLoop(conn net.Conn, rs *receiveState) {
	defer func() {
		if v := recover(); v != nil {
			c.fail(conn, ReceiveError, fmt.Errorf("network: receive panic: %v", v))
		}
	}()

	for {
		n, err := conn.Read(rs.window())
		if n > 0 {
			observability.RecordBytesReceived(c.name, n)
		}
		if err != nil {
			c.receiveFailed(conn, err)
			return
		}
		if n <= 0 {
			c.peerClosed(conn)
			return
		}

		rs.advance(n)
		if !rs.ready() {
			continue
		}
		if !c.processFrame(conn, rs) {
			return
		}
	}
}

func (c *Channel) receiveFailed(conn net.Conn, err error) {
	if !c.owns(conn) {
		return
	}
	if errors.Is(err, io.EOF) {
		c.peerClosed(conn)
		return
	}
	c.fail(conn, ReceiveError, err)
}

func (c *Channel) peerClosed(conn net.Conn) {
	if !c.owns(conn) {
		return
	}
	log.Info().Str("channel", c.name).Msg("peer closed connection")
	c.Close()
}

func (c *Channel) processFrame(conn net.Conn, rs *receiveState) bool {
	if !c.owns(conn) {
		return false
	}
	rs.cursor = 0
	if rs.hasHeader {
		return c.processBody(conn, rs)
	}
	return c.processHeader(conn, rs)
}

func (c *Channel) processHeader(conn net.Conn, rs *receiveState) bool {
	h, custom, err := c.helper.DeserializeHeader(rs.bytes())
	if custom != nil {
		c.notify.fireCustomError(c, custom)
	}
	if err != nil {
		c.fail(conn, DeserializePacketHeaderError, err)
		return false
	}
	if !h.Valid() {
		c.fail(conn, DeserializePacketHeaderError, fmt.Errorf("%w: id=%d body=%d dir=%s", ErrInvalidHeader, h.ID, h.BodyLength, h.Direction))
		return false
	}

	log.Trace().Str("channel", c.name).Uint32("id", h.ID).Int("body", h.BodyLength).Msg("header")
	rs.prepareBody(h)
	if h.BodyLength == 0 {
		return c.processBody(conn, rs)
	}
	return true
}

func (c *Channel) processBody(conn net.Conn, rs *receiveState) bool {
	if !c.owns(conn) {
		return false
	}
	c.resetHeartbeat(c.ResetHeartbeatOnReceive())

	p, custom, err := c.helper.DeserializeBody(rs.header, rs.bytes())
	rs.prepareHeader(c.helper.HeaderLength())
	if custom != nil {
		c.notify.fireCustomError(c, custom)
	}
	if err != nil {
		c.fail(conn, DeserializePacketError, err)
		return false
	}
	if p == nil {
		return true
	}
	if !c.owns(conn) {
		return false
	}
	c.pool.Fire(c, p)
	c.receivedCount.Add(1)
	observability.RecordPacketReceived(c.name)
	return true
}
