package network

import "sync"

type (
	ConnectedHandler     func(ch *Channel, userData any)
	ClosedHandler        func(ch *Channel)
	MissHeartbeatHandler func(ch *Channel, missCount int)
	ErrorHandler         func(ch *Channel, code ErrorCode, err error)
	CustomErrorHandler   func(ch *Channel, data any)
)

// notifier keeps ordered handler lists. Handlers run synchronously in
// registration order on the goroutine that raised the notification.
type notifier struct {
	mu            sync.RWMutex
	connected     []ConnectedHandler
	closed        []ClosedHandler
	missHeartbeat []MissHeartbeatHandler
	errs          []ErrorHandler
	custom        []CustomErrorHandler
}

func (n *notifier) addConnected(fn ConnectedHandler) {
	if fn == nil {
		return
	}
	n.mu.Lock()
	n.connected = append(n.connected, fn)
	n.mu.Unlock()
}

func (n *notifier) addClosed(fn ClosedHandler) {
	if fn == nil {
		return
	}
	n.mu.Lock()
	n.closed = append(n.closed, fn)
	n.mu.Unlock()
}

func (n *notifier) addMissHeartbeat(fn MissHeartbeatHandler) {
	if fn == nil {
		return
	}
	n.mu.Lock()
	n.missHeartbeat = append(n.missHeartbeat, fn)
	n.mu.Unlock()
}

func (n *notifier) addError(fn ErrorHandler) {
	if fn == nil {
		return
	}
	n.mu.Lock()
	n.errs = append(n.errs, fn)
	n.mu.Unlock()
}

func (n *notifier) addCustomError(fn CustomErrorHandler) {
	if fn == nil {
		return
	}
	n.mu.Lock()
	n.custom = append(n.custom, fn)
	n.mu.Unlock()
}

func (n *notifier) fireConnected(ch *Channel, userData any) {
	n.mu.RLock()
	list := n.connected
	n.mu.RUnlock()
	for _, fn := range list {
		fn(ch, userData)
	}
}

func (n *notifier) fireClosed(ch *Channel) {
	n.mu.RLock()
	list := n.closed
	n.mu.RUnlock()
	for _, fn := range list {
		fn(ch)
	}
}

func (n *notifier) fireMissHeartbeat(ch *Channel, missCount int) {
	n.mu.RLock()
	list := n.missHeartbeat
	n.mu.RUnlock()
	for _, fn := range list {
		fn(ch, missCount)
	}
}

// fireError reports whether any handler received the error.
func (n *notifier) fireError(ch *Channel, code ErrorCode, err error) bool {
	n.mu.RLock()
	list := n.errs
	n.mu.RUnlock()
	for _, fn := range list {
		fn(ch, code, err)
	}
	return len(list) > 0
}

func (n *notifier) fireCustomError(ch *Channel, data any) {
	n.mu.RLock()
	list := n.custom
	n.mu.RUnlock()
	for _, fn := range list {
		fn(ch, data)
	}
}
