package network

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/netchan/internal/testutil/testlog"
)

func TestManagerCreateGetDestroy(t *testing.T) {
	testlog.Start(t)
	m := NewManager()
	h := &testHelper{}
	ch, err := m.Create("game", h, DefaultConfig())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Create(" game ", &testHelper{}, DefaultConfig()); !errors.Is(err, ErrChannelExists) {
		t.Fatalf("expected ErrChannelExists, got %v", err)
	}
	got, ok := m.Get("game")
	if !ok || got != ch || !m.Has("game") {
		t.Fatalf("channel lookup failed")
	}
	if err := m.Destroy("game"); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if h.shutdowns.Load() != 1 {
		t.Fatalf("destroy must shut the channel down")
	}
	if err := m.Destroy("game"); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}
}

func TestManagerChannelsSortedByName(t *testing.T) {
	testlog.Start(t)
	m := NewManager()
	for _, name := range []string{"login", "chat", "game"} {
		if _, err := m.Create(name, &testHelper{}, DefaultConfig()); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	chs := m.Channels()
	if len(chs) != 3 || chs[0].Name() != "chat" || chs[1].Name() != "game" || chs[2].Name() != "login" {
		t.Fatalf("unexpected order")
	}
	m.Shutdown()
	if len(m.Channels()) != 0 {
		t.Fatalf("shutdown must empty the manager")
	}
}

func TestManagerHooksReachExistingAndFutureChannels(t *testing.T) {
	testlog.Start(t)
	m := NewManager()
	cfg := DefaultConfig()
	cfg.Dialer = &scriptDialer{conns: []net.Conn{newScriptConn(0, 0)}}
	before, err := m.Create("before", &testHelper{}, cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	connected := make(chan string, 2)
	m.OnConnected(func(ch *Channel, _ any) { connected <- ch.Name() })

	cfg.Dialer = &scriptDialer{conns: []net.Conn{newScriptConn(0, 0)}}
	after, err := m.Create("after", &testHelper{}, cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer m.Shutdown()

	for _, ch := range []*Channel{before, after} {
		if err := ch.Connect("127.0.0.1", 9000, nil); err != nil {
			t.Fatalf("connect: %v", err)
		}
	}
	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case name := <-connected:
			seen[name] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("hooks reached %v", seen)
		}
	}
}

func TestManagerHooksAttachOnceDuringConcurrentCreate(t *testing.T) {
	testlog.Start(t)
	m := NewManager()
	defer m.Shutdown()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if _, err := m.Create("ch-"+strconv.Itoa(i), &testHelper{}, DefaultConfig()); err != nil {
				t.Errorf("create %d: %v", i, err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			m.OnError(func(*Channel, ErrorCode, error) {})
		}
	}()
	wg.Wait()

	for _, ch := range m.Channels() {
		ch.notify.mu.RLock()
		n := len(ch.notify.errs)
		ch.notify.mu.RUnlock()
		if n != 20 {
			t.Fatalf("%s: expected 20 error hooks, got %d", ch.Name(), n)
		}
	}
}

func TestManagerUpdateJoinsErrors(t *testing.T) {
	testlog.Start(t)
	m := NewManager()
	defer m.Shutdown()
	for _, name := range []string{"a", "b"} {
		cfg := DefaultConfig()
		cfg.Dialer = &scriptDialer{err: errors.New("refused " + name)}
		ch, err := m.Create(name, &testHelper{}, cfg)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := ch.Connect("127.0.0.1", 9000, nil); err != nil {
			t.Fatalf("connect: %v", err)
		}
		waitFor(t, "retained error", func() bool { return ch.Err() != nil })
	}

	err := m.Update(time.Second)
	if err == nil || CodeOf(err) != ConnectError {
		t.Fatalf("expected joined ConnectError, got %v", err)
	}
	if m.Update(time.Second) != nil {
		t.Fatalf("errors must be returned once")
	}
}
