package event

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// Event is anything dispatched by numeric id.
type Event interface {
	ID() uint32
}

// Mode controls subscription rules for a Pool.
type Mode uint8

const (
	// AllowNoHandler lets events with no subscriber and no default handler
	// drop silently instead of producing ErrNoHandler.
	AllowNoHandler Mode = 1 << iota
	// AllowMultiHandler lets more than one handler subscribe to an id.
	AllowMultiHandler
	// AllowDuplicateHandler lets the same function subscribe to one id more
	// than once. Functions are compared by code pointer, so two closures
	// built from one literal count as the same handler.
	AllowDuplicateHandler
)

var (
	ErrNilHandler       = errors.New("event: nil handler")
	ErrMultiHandler     = errors.New("event: id already has a handler")
	ErrDuplicateHandler = errors.New("event: handler already subscribed")
	ErrHandlerNotFound  = errors.New("event: handler not found")
	ErrNoHandler        = errors.New("event: no handler")
)

// Handler receives one dispatched event.
type Handler[E Event] func(sender any, e E)

// Token identifies one subscription for Unsubscribe.
type Token uint64

type subscription[E Event] struct {
	token Token
	fn    Handler[E]
	ptr   uintptr
}

type queued[E Event] struct {
	sender any
	event  E
}

// Pool is a deferred event queue. Fire may be called from any goroutine;
// Update drains and dispatches on the caller's goroutine, so handlers see
// events in the order they were fired.
type Pool[E Event] struct {
	mode Mode

	mu             sync.RWMutex
	handlers       map[uint32][]subscription[E]
	defaultHandler Handler[E]
	nextToken      Token

	qmu   sync.Mutex
	queue []queued[E]
	// gen advances on Clear; an in-flight Update stops when it changes.
	gen uint64
}

func NewPool[E Event](mode Mode) *Pool[E] {
	return &Pool[E]{
		mode:     mode,
		handlers: make(map[uint32][]subscription[E]),
	}
}

func (p *Pool[E]) Mode() Mode {
	return p.mode
}

// Subscribe appends fn to the handler list of id.
func (p *Pool[E]) Subscribe(id uint32, fn Handler[E]) (Token, error) {
	if fn == nil {
		return 0, ErrNilHandler
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode&AllowMultiHandler == 0 && len(p.handlers[id]) > 0 {
		return 0, fmt.Errorf("%w: %d", ErrMultiHandler, id)
	}
	ptr := reflect.ValueOf(fn).Pointer()
	if p.mode&AllowDuplicateHandler == 0 {
		for _, sub := range p.handlers[id] {
			if sub.ptr == ptr {
				return 0, fmt.Errorf("%w: %d", ErrDuplicateHandler, id)
			}
		}
	}
	p.nextToken++
	p.handlers[id] = append(p.handlers[id], subscription[E]{token: p.nextToken, fn: fn, ptr: ptr})
	return p.nextToken, nil
}

func (p *Pool[E]) Unsubscribe(id uint32, token Token) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.handlers[id]
	for i, sub := range list {
		if sub.token != token {
			continue
		}
		next := make([]subscription[E], 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(p.handlers, id)
		} else {
			p.handlers[id] = next
		}
		return nil
	}
	return fmt.Errorf("%w: id=%d token=%d", ErrHandlerNotFound, id, token)
}

// SetDefaultHandler handles events whose id has no subscriber.
func (p *Pool[E]) SetDefaultHandler(fn Handler[E]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultHandler = fn
}

func (p *Pool[E]) HandlerCount(id uint32) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.handlers[id])
}

// Fire queues e for the next Update.
func (p *Pool[E]) Fire(sender any, e E) {
	p.qmu.Lock()
	p.queue = append(p.queue, queued[E]{sender: sender, event: e})
	p.qmu.Unlock()
}

// FireNow dispatches e immediately on the calling goroutine.
func (p *Pool[E]) FireNow(sender any, e E) error {
	return p.dispatch(sender, e)
}

// Count returns the number of queued, undispatched events.
func (p *Pool[E]) Count() int {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	return len(p.queue)
}

// Update dispatches the events queued when it was called. Events fired by
// handlers during Update wait for the next call; Clear from a handler stops
// the rest of the batch.
func (p *Pool[E]) Update() error {
	p.qmu.Lock()
	batch := p.queue
	p.queue = nil
	gen := p.gen
	p.qmu.Unlock()

	var errs []error
	for _, item := range batch {
		if p.generation() != gen {
			break
		}
		if err := p.dispatch(item.sender, item.event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Clear drops queued events, including the rest of a batch being dispatched.
func (p *Pool[E]) Clear() {
	p.qmu.Lock()
	p.queue = nil
	p.gen++
	p.qmu.Unlock()
}

// Shutdown drops queued events and all subscriptions.
func (p *Pool[E]) Shutdown() {
	p.Clear()
	p.mu.Lock()
	p.handlers = make(map[uint32][]subscription[E])
	p.defaultHandler = nil
	p.mu.Unlock()
}

func (p *Pool[E]) generation() uint64 {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	return p.gen
}

func (p *Pool[E]) dispatch(sender any, e E) error {
	id := e.ID()
	p.mu.RLock()
	list := p.handlers[id]
	def := p.defaultHandler
	p.mu.RUnlock()

	if len(list) == 0 {
		if def != nil {
			def(sender, e)
			return nil
		}
		if p.mode&AllowNoHandler != 0 {
			return nil
		}
		return fmt.Errorf("%w: %d", ErrNoHandler, id)
	}
	for _, sub := range list {
		sub.fn(sender, e)
	}
	return nil
}
