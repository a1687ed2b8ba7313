package network

import (
	"net"
	"sync"
	"time"

	"github.com/danmuck/netchan/internal/protocol/packet"
)

// receiveState is owned by exactly one receive loop.
type receiveState struct {
	buf       []byte
	cursor    int
	target    int
	header    packet.Header
	hasHeader bool
}

func newReceiveState(headerLen int) *receiveState {
	rs := &receiveState{}
	rs.prepareHeader(headerLen)
	return rs
}

func (rs *receiveState) prepareHeader(headerLen int) {
	rs.header = packet.Header{}
	rs.hasHeader = false
	rs.setTarget(headerLen)
}

func (rs *receiveState) prepareBody(h packet.Header) {
	rs.header = h
	rs.hasHeader = true
	rs.setTarget(h.BodyLength)
}

func (rs *receiveState) setTarget(n int) {
	if cap(rs.buf) < n {
		rs.buf = make([]byte, n)
	}
	rs.buf = rs.buf[:n]
	rs.target = n
	rs.cursor = 0
}

func (rs *receiveState) window() []byte {
	return rs.buf[rs.cursor:rs.target]
}

func (rs *receiveState) advance(n int) {
	rs.cursor += n
	if rs.cursor > rs.target {
		rs.cursor = rs.target
	}
}

func (rs *receiveState) ready() bool {
	return rs.cursor == rs.target
}

func (rs *receiveState) bytes() []byte {
	return rs.buf[:rs.target]
}

// sendState holds the single in-flight outbound buffer. owner ties the
// buffer to the connection it is being written to so a stale writer cannot
// release a newer connection's buffer.
type sendState struct {
	mu     sync.Mutex
	owner  net.Conn
	buf    []byte
	offset int
	length int
}

// busyLocked requires s.mu.
func (s *sendState) busyLocked() bool {
	return s.buf != nil
}

// loadLocked requires s.mu.
func (s *sendState) loadLocked(owner net.Conn, b []byte) {
	s.owner = owner
	s.buf = b
	s.offset = 0
	s.length = len(b)
}

func (s *sendState) free() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.busyLocked()
}

func (s *sendState) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner = nil
	s.buf = nil
	s.offset = 0
	s.length = 0
}

// pending returns the unwritten remainder for owner.
func (s *sendState) pending(owner net.Conn) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != owner || s.buf == nil || s.offset >= s.length {
		return nil, false
	}
	return s.buf[s.offset:s.length], true
}

// advance records n written bytes and frees the state once the buffer is
// fully flushed.
func (s *sendState) advance(owner net.Conn, n int) (done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != owner || s.buf == nil {
		return false
	}
	s.offset += n
	if s.offset < s.length {
		return false
	}
	s.owner = nil
	s.buf = nil
	s.offset = 0
	s.length = 0
	return true
}

func (s *sendState) release(owner net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != owner {
		return
	}
	s.owner = nil
	s.buf = nil
	s.offset = 0
	s.length = 0
}

type heartbeatState struct {
	elapsed   time.Duration
	missCount int
}

func (h *heartbeatState) reset(resetElapsed bool) {
	if resetElapsed {
		h.elapsed = 0
	}
	h.missCount = 0
}
