package network

import (
	"net"

	"github.com/danmuck/netchan/internal/observability"
	"github.com/danmuck/netchan/internal/protocol/packet"
	"github.com/rs/zerolog/log"
)

// Send queues p for transmission. It never blocks on I/O.
func (c *Channel) Send(p packet.Packet) error {
	if p == nil {
		log.Error().Str("channel", c.name).Msg("send: nil packet")
		return ErrNilPacket
	}
	if !c.Connected() {
		log.Error().Str("channel", c.name).Uint32("id", p.ID()).Msg("send: channel not connected")
		return ErrNotConnected
	}
	c.sendMu.Lock()
	c.sendQueue = append(c.sendQueue, p)
	depth := len(c.sendQueue)
	c.sendMu.Unlock()
	observability.SetSendQueueDepth(c.name, depth)
	return nil
}

// processSend starts writing the next queued packet when no write is in
// flight.
func (c *Channel) processSend() {
	conn := c.currentConn()
	if conn == nil {
		return
	}

	c.send.mu.Lock()
	if c.send.busyLocked() {
		c.send.mu.Unlock()
		return
	}
	p, depth, ok := c.dequeue()
	if !ok {
		c.send.mu.Unlock()
		return
	}
	b, err := c.helper.Serialize(p)
	if err == nil && len(b) == 0 {
		err = ErrEmptySerialization
	}
	if err != nil {
		c.send.mu.Unlock()
		c.fail(conn, SerializeError, err)
		return
	}
	c.send.loadLocked(conn, b)
	c.send.mu.Unlock()

	observability.SetSendQueueDepth(c.name, depth)
	log.Trace().Str("channel", c.name).Uint32("id", p.ID()).Int("bytes", len(b)).Msg("send")
	go c.write(conn)
}

func (c *Channel) dequeue() (packet.Packet, int, bool) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if len(c.sendQueue) == 0 {
		return nil, 0, false
	}
	p := c.sendQueue[0]
	c.sendQueue[0] = nil
	c.sendQueue = c.sendQueue[1:]
	return p, len(c.sendQueue), true
}

// write flushes the in-flight buffer, reissuing on short writes.
func (c *Channel) write(conn net.Conn) {
	for {
		chunk, ok := c.send.pending(conn)
		if !ok {
			return
		}
		n, err := conn.Write(chunk)
		if n > 0 {
			observability.RecordBytesSent(c.name, n)
			if c.send.advance(conn, n) {
				if c.owns(conn) {
					c.sentCount.Add(1)
					observability.RecordPacketSent(c.name)
				}
				return
			}
		}
		if err != nil {
			c.send.release(conn)
			c.fail(conn, SendError, err)
			return
		}
		if n <= 0 {
			c.send.release(conn)
			c.fail(conn, SendError, ErrShortWrite)
			return
		}
	}
}
