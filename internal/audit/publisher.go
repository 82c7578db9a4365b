package audit

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrBufferFull is returned by Emit when the worker cannot keep up.
	ErrBufferFull = errors.New("audit buffer full")
	// ErrClosed is returned by Emit after Close.
	ErrClosed = errors.New("audit publisher closed")
)

const defaultBufferSize = 1024

// Publisher captures structured audit events. Emit never blocks on the sink:
// events are queued and a Worker delivers them.
type Publisher struct {
	mu     sync.RWMutex
	closed bool
	inbox  chan Event
	now    func() time.Time
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithBufferSize sets the queue capacity.
func WithBufferSize(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.inbox = make(chan Event, n)
		}
	}
}

func NewPublisher(opts ...PublisherOption) *Publisher {
	p := &Publisher{inbox: make(chan Event, defaultBufferSize), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit queues an event, stamping it when Timestamp is unset. It is safe to
// call concurrently with Close.
func (p *Publisher) Emit(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now().UTC()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.inbox <- event:
		return nil
	default:
		return ErrBufferFull
	}
}

// Inbox exposes the queue to a Worker.
func (p *Publisher) Inbox() <-chan Event {
	return p.inbox
}

// Close stops accepting events; the Worker drains what is queued and exits.
// Calling Close more than once is a no-op.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.inbox)
}
