package network

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/netchan/internal/event"
	"github.com/danmuck/netchan/internal/observability"
	"github.com/danmuck/netchan/internal/protocol/packet"
	"github.com/rs/zerolog/log"
)

// AddressFamily is the IP family of the connected peer.
type AddressFamily int

const (
	FamilyUnknown AddressFamily = iota
	FamilyIPv4
	FamilyIPv6
)

func (f AddressFamily) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// PacketHandler receives inbound packets dispatched by Update.
type PacketHandler = event.Handler[packet.Packet]

// Channel is one persistent framed TCP connection.
//
// Send, Close and the accessors are safe from any goroutine. Update should
// be driven from a single goroutine (the application tick); inbound packet
// handlers and Update errors surface there. Lifecycle notifications run on
// whichever goroutine observed the transition.
type Channel struct {
	name   string
	helper Helper
	pool   *event.Pool[packet.Packet]
	dialer Dialer

	connectTimeout time.Duration

	// socket and lifecycle
	mu         sync.Mutex
	conn       net.Conn
	active     bool
	family     AddressFamily
	connectSeq uint64
	cancelDial context.CancelFunc

	// outbound queue
	sendMu    sync.Mutex
	sendQueue []packet.Packet

	send sendState

	hbMu              sync.Mutex
	heartbeat         heartbeatState
	heartbeatInterval time.Duration
	resetOnReceive    bool

	sentCount     atomic.Int64
	receivedCount atomic.Int64

	notify notifier

	fatalMu sync.Mutex
	fatal   error
}

// NewChannel builds an idle channel and hands it to helper.Initialize.
func NewChannel(name string, helper Helper, cfg Config) (*Channel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrChannelNameRequired
	}
	if helper == nil {
		log.Error().Msg("network: NewChannel without helper")
		return nil, ErrHelperRequired
	}
	if helper.HeaderLength() <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHeaderLength, helper.HeaderLength())
	}
	cfg = cfg.WithDefaults()
	c := &Channel{
		name:              name,
		helper:            helper,
		pool:              event.NewPool[packet.Packet](event.AllowNoHandler | event.AllowMultiHandler | event.AllowDuplicateHandler),
		dialer:            cfg.Dialer,
		connectTimeout:    cfg.ConnectTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		resetOnReceive:    cfg.ResetHeartbeatOnReceive,
	}
	helper.Initialize(c)
	return c, nil
}

func (c *Channel) Name() string {
	return c.name
}

// Connected reports whether the channel holds an active socket.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active && c.conn != nil
}

func (c *Channel) AddressFamily() AddressFamily {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.family
}

func (c *Channel) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

func (c *Channel) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}

// SendPacketCount is the number of queued packets not yet serialized.
func (c *Channel) SendPacketCount() int {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return len(c.sendQueue)
}

// SentPacketCount is the number of packets fully flushed since connect.
func (c *Channel) SentPacketCount() int {
	return int(c.sentCount.Load())
}

// ReceivePacketCount is the number of inbound packets awaiting Update.
func (c *Channel) ReceivePacketCount() int {
	return c.pool.Count()
}

// ReceivedPacketCount is the number of packets decoded since connect.
func (c *Channel) ReceivedPacketCount() int {
	return int(c.receivedCount.Load())
}

func (c *Channel) MissHeartbeatCount() int {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()
	return c.heartbeat.missCount
}

func (c *Channel) HeartbeatElapsed() time.Duration {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()
	return c.heartbeat.elapsed
}

func (c *Channel) HeartbeatInterval() time.Duration {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()
	return c.heartbeatInterval
}

func (c *Channel) SetHeartbeatInterval(d time.Duration) {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()
	c.heartbeatInterval = d
}

func (c *Channel) ResetHeartbeatOnReceive() bool {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()
	return c.resetOnReceive
}

func (c *Channel) SetResetHeartbeatOnReceive(v bool) {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()
	c.resetOnReceive = v
}

func (c *Channel) OnConnected(fn ConnectedHandler)         { c.notify.addConnected(fn) }
func (c *Channel) OnClosed(fn ClosedHandler)               { c.notify.addClosed(fn) }
func (c *Channel) OnMissHeartbeat(fn MissHeartbeatHandler) { c.notify.addMissHeartbeat(fn) }
func (c *Channel) OnError(fn ErrorHandler)                 { c.notify.addError(fn) }
func (c *Channel) OnCustomError(fn CustomErrorHandler)     { c.notify.addCustomError(fn) }

// Subscribe registers fn for inbound packets with the given id.
func (c *Channel) Subscribe(id uint32, fn PacketHandler) (event.Token, error) {
	return c.pool.Subscribe(id, fn)
}

func (c *Channel) Unsubscribe(id uint32, token event.Token) error {
	return c.pool.Unsubscribe(id, token)
}

// SetDefaultHandler receives inbound packets that have no subscriber.
func (c *Channel) SetDefaultHandler(fn PacketHandler) {
	c.pool.SetDefaultHandler(fn)
}

// Err returns the retained fatal error, if any, without clearing it.
func (c *Channel) Err() error {
	c.fatalMu.Lock()
	defer c.fatalMu.Unlock()
	return c.fatal
}

// Connect dials address:port asynchronously. An existing socket is closed
// first. address must be an IPv4 or IPv6 literal. Completion is reported
// through OnConnected or OnError(ConnectError).
func (c *Channel) Connect(address string, port int, userData any) error {
	c.Close()

	family, network := resolveFamily(address)
	if family == FamilyUnknown {
		return c.report(AddressFamilyError, fmt.Errorf("%w: %q", ErrUnsupportedAddressFamily, address), false)
	}
	if port <= 0 || port > 65535 {
		return c.report(SocketError, fmt.Errorf("%w: %d", ErrInvalidPort, port), false)
	}

	c.send.reset()
	recv := newReceiveState(c.helper.HeaderLength())
	target := net.JoinHostPort(strings.TrimSpace(address), strconv.Itoa(port))

	ctx, cancel := context.WithTimeout(context.Background(), c.connectTimeout)
	c.mu.Lock()
	c.family = family
	c.connectSeq++
	seq := c.connectSeq
	c.cancelDial = cancel
	c.mu.Unlock()

	log.Debug().Str("channel", c.name).Str("addr", target).Str("family", family.String()).Msg("connecting")
	go c.dial(ctx, cancel, seq, network, target, recv, userData)
	return nil
}

func (c *Channel) dial(ctx context.Context, cancel context.CancelFunc, seq uint64, network, target string, recv *receiveState, userData any) {
	defer cancel()
	conn, err := c.dialer.DialContext(ctx, network, target)

	c.mu.Lock()
	if seq != c.connectSeq {
		// closed or superseded while dialing
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	c.cancelDial = nil
	if err != nil {
		c.active = false
		c.mu.Unlock()
		observability.RecordConnect(c.name, false)
		c.report(ConnectError, err, true)
		return
	}
	c.conn = conn
	c.active = true
	c.mu.Unlock()

	c.sentCount.Store(0)
	c.receivedCount.Store(0)
	c.resetHeartbeat(true)
	observability.RecordConnect(c.name, true)
	log.Info().Str("channel", c.name).Str("remote", conn.RemoteAddr().String()).Msg("connected")

	c.notify.fireConnected(c, userData)
	c.receiveLoop(conn, recv)
}

// Close tears the connection down. It is a no-op when there is no socket.
// Queued outbound packets and undispatched inbound packets are dropped.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
		c.connectSeq++
	}
	conn := c.conn
	c.conn = nil
	c.active = false
	c.mu.Unlock()
	if conn == nil {
		return
	}

	c.sendMu.Lock()
	c.sendQueue = nil
	c.sendMu.Unlock()
	observability.SetSendQueueDepth(c.name, 0)
	c.pool.Clear()
	c.resetHeartbeat(true)
	c.sentCount.Store(0)
	c.receivedCount.Store(0)

	if tcp, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = tcp.CloseWrite()
	}
	if err := conn.Close(); err != nil {
		c.report(SocketError, err, true)
	}
	observability.RecordClose(c.name)
	log.Info().Str("channel", c.name).Msg("closed")
	c.notify.fireClosed(c)
}

// Shutdown closes the channel and releases the helper and subscriptions.
func (c *Channel) Shutdown() {
	c.Close()
	c.helper.Shutdown()
	c.pool.Shutdown()
}

// Update drives one application tick: starts the next queued write if the
// previous one finished, advances the heartbeat timer by elapsed and
// dispatches inbound packets. A fatal error with no OnError handler is
// returned once here.
func (c *Channel) Update(elapsed time.Duration) error {
	if err := c.takeFatal(); err != nil {
		return err
	}
	if c.Connected() {
		c.processSend()
		c.processHeartbeat(elapsed)
	}
	return c.pool.Update()
}

func (c *Channel) currentConn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil
	}
	return c.conn
}

// owns reports whether conn is still this channel's active socket.
func (c *Channel) owns(conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active && c.conn == conn
}

// fail tears down conn (if still current) and reports err.
func (c *Channel) fail(conn net.Conn, code ErrorCode, err error) {
	if conn != nil && !c.owns(conn) {
		return
	}
	c.Close()
	c.report(code, err, true)
}

// report delivers err to OnError handlers. With no handler registered and
// retain set, the error is kept for the next Update.
func (c *Channel) report(code ErrorCode, err error, retain bool) error {
	cerr := &ChannelError{Channel: c.name, Code: code, Err: err}
	observability.RecordError(c.name, code.String())
	log.Warn().Str("channel", c.name).Str("code", code.String()).Err(err).Msg("channel error")
	if c.notify.fireError(c, code, cerr) || !retain {
		return cerr
	}
	c.fatalMu.Lock()
	if c.fatal == nil {
		c.fatal = cerr
	}
	c.fatalMu.Unlock()
	return cerr
}

func (c *Channel) takeFatal() error {
	c.fatalMu.Lock()
	defer c.fatalMu.Unlock()
	err := c.fatal
	c.fatal = nil
	return err
}

func (c *Channel) resetHeartbeat(resetElapsed bool) {
	c.hbMu.Lock()
	c.heartbeat.reset(resetElapsed)
	c.hbMu.Unlock()
}

func resolveFamily(address string) (AddressFamily, string) {
	ip := net.ParseIP(strings.TrimSpace(address))
	switch {
	case ip == nil:
		return FamilyUnknown, ""
	case ip.To4() != nil:
		return FamilyIPv4, "tcp4"
	default:
		return FamilyIPv6, "tcp6"
	}
}
