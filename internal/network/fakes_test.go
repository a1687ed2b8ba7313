package network

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/netchan/internal/protocol/packet"
)

const testHeaderLen = 8

type testPacket struct {
	id   uint32
	dir  packet.Direction
	body []byte
}

func (p testPacket) ID() uint32                  { return p.id }
func (p testPacket) Direction() packet.Direction { return p.dir }

func encodeTestFrame(id uint32, body []byte) []byte {
	out := make([]byte, testHeaderLen+len(body))
	binary.BigEndian.PutUint32(out[0:4], id)
	binary.BigEndian.PutUint32(out[4:8], uint32(len(body)))
	copy(out[8:], body)
	return out
}

func decodeTestFrames(t *testing.T, b []byte) []testPacket {
	t.Helper()
	var out []testPacket
	for len(b) > 0 {
		if len(b) < testHeaderLen {
			t.Fatalf("trailing %d bytes", len(b))
		}
		id := binary.BigEndian.Uint32(b[0:4])
		l := int(binary.BigEndian.Uint32(b[4:8]))
		if len(b) < testHeaderLen+l {
			t.Fatalf("truncated frame id=%d", id)
		}
		out = append(out, testPacket{id: id, body: append([]byte(nil), b[testHeaderLen:testHeaderLen+l]...)})
		b = b[testHeaderLen+l:]
	}
	return out
}

// testHelper frames packets as id(u32) + length(u32) + body.
type testHelper struct {
	ch *Channel

	heartbeatOK      bool
	enqueueHeartbeat bool
	heartbeats       atomic.Int32

	serializeErr error
	headerCustom any
	bodyErr      error

	initialized atomic.Int32
	shutdowns   atomic.Int32
}

func (h *testHelper) Initialize(ch *Channel) {
	h.ch = ch
	h.initialized.Add(1)
}

func (h *testHelper) Shutdown() {
	h.shutdowns.Add(1)
}

func (h *testHelper) HeaderLength() int {
	return testHeaderLen
}

func (h *testHelper) Serialize(p packet.Packet) ([]byte, error) {
	if h.serializeErr != nil {
		return nil, h.serializeErr
	}
	tp, ok := p.(testPacket)
	if !ok {
		return nil, fmt.Errorf("unexpected packet %T", p)
	}
	return encodeTestFrame(tp.id, tp.body), nil
}

func (h *testHelper) DeserializeHeader(b []byte) (packet.Header, any, error) {
	if len(b) != testHeaderLen {
		return packet.Header{}, nil, fmt.Errorf("bad header length %d", len(b))
	}
	return packet.Header{
		ID:         binary.BigEndian.Uint32(b[0:4]),
		BodyLength: int(binary.BigEndian.Uint32(b[4:8])),
		Direction:  packet.DirServerToClient,
	}, h.headerCustom, nil
}

func (h *testHelper) DeserializeBody(hdr packet.Header, b []byte) (packet.Packet, any, error) {
	if h.bodyErr != nil {
		return nil, nil, h.bodyErr
	}
	return testPacket{id: hdr.ID, dir: hdr.Direction, body: append([]byte(nil), b...)}, nil, nil
}

func (h *testHelper) SendHeartbeat() bool {
	h.heartbeats.Add(1)
	if h.enqueueHeartbeat {
		if err := h.ch.Send(testPacket{id: 1, dir: packet.DirClientToServer}); err != nil {
			return false
		}
	}
	return h.heartbeatOK
}

// scriptConn is an in-memory net.Conn that serves at most maxRead bytes per
// Read and accepts at most maxWrite bytes per Write. A lingering conn keeps
// serving reads and writes after Close; writeGate, when set, holds every
// Write until it is closed.
type scriptConn struct {
	maxRead   int
	maxWrite  int
	lingering bool
	writeGate chan struct{}

	writesEntered atomic.Int32

	mu        sync.Mutex
	cond      *sync.Cond
	inbox     []byte
	eof       bool
	closed    bool
	readSizes []int
	written   bytes.Buffer
	writes    int
	closes    int
}

func newScriptConn(maxRead, maxWrite int) *scriptConn {
	c := &scriptConn{maxRead: maxRead, maxWrite: maxWrite}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *scriptConn) Feed(b []byte) {
	c.mu.Lock()
	c.inbox = append(c.inbox, b...)
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *scriptConn) FeedEOF() {
	c.mu.Lock()
	c.eof = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *scriptConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readSizes = append(c.readSizes, len(p))
	for len(c.inbox) == 0 && !c.eof && !c.interrupted() {
		c.cond.Wait()
	}
	if c.interrupted() {
		return 0, net.ErrClosed
	}
	if len(c.inbox) == 0 {
		return 0, io.EOF
	}
	n := len(p)
	if c.maxRead > 0 && n > c.maxRead {
		n = c.maxRead
	}
	n = copy(p[:n], c.inbox)
	c.inbox = c.inbox[n:]
	return n, nil
}

// interrupted requires c.mu.
func (c *scriptConn) interrupted() bool {
	return c.closed && !c.lingering
}

func (c *scriptConn) Write(p []byte) (int, error) {
	c.writesEntered.Add(1)
	if c.writeGate != nil {
		<-c.writeGate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interrupted() {
		return 0, net.ErrClosed
	}
	n := len(p)
	if c.maxWrite > 0 && n > c.maxWrite {
		n = c.maxWrite
	}
	c.written.Write(p[:n])
	c.writes++
	return n, nil
}

func (c *scriptConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.closes++
	c.mu.Unlock()
	c.cond.Broadcast()
	return nil
}

func (c *scriptConn) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.written.Bytes()...)
}

func (c *scriptConn) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *scriptConn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *scriptConn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inbox)
}

func (c *scriptConn) ReadSizes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.readSizes...)
}

func (c *scriptConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}
func (c *scriptConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
}
func (c *scriptConn) SetDeadline(t time.Time) error      { return nil }
func (c *scriptConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *scriptConn) SetWriteDeadline(t time.Time) error { return nil }

type scriptDialer struct {
	mu    sync.Mutex
	conns []net.Conn
	err   error
	calls []string
}

func (d *scriptDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, network+" "+address)
	if d.err != nil {
		return nil, d.err
	}
	if len(d.conns) == 0 {
		return nil, errors.New("scriptDialer: no conn")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

// gatedDialer holds every dial until release is closed, ignoring ctx.
type gatedDialer struct {
	conn    net.Conn
	release chan struct{}
	entered chan struct{}
}

func (d *gatedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.entered <- struct{}{}
	<-d.release
	return d.conn, nil
}

// notificationCounts counts every notification a channel raises.
type notificationCounts struct {
	connected atomic.Int32
	closed    atomic.Int32
	errs      atomic.Int32
}

func countNotifications(ch *Channel) *notificationCounts {
	n := &notificationCounts{}
	ch.OnConnected(func(*Channel, any) { n.connected.Add(1) })
	ch.OnClosed(func(*Channel) { n.closed.Add(1) })
	ch.OnError(func(*Channel, ErrorCode, error) { n.errs.Add(1) })
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// connectScripted builds a channel wired to conn and waits for connected.
func connectScripted(t *testing.T, h *testHelper, conn net.Conn, cfg Config) *Channel {
	t.Helper()
	cfg.Dialer = &scriptDialer{conns: []net.Conn{conn}}
	ch, err := NewChannel("test", h, cfg)
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	connected := make(chan struct{}, 1)
	ch.OnConnected(func(*Channel, any) { connected <- struct{}{} })
	if err := ch.Connect("127.0.0.1", 9000, nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatalf("connect timeout")
	}
	return ch
}
