package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrBufferFull = errors.New("event buffer full")
	ErrClosed     = errors.New("emitter closed")
)

// Async decouples publishers from a slower downstream emitter. Events are
// delivered by a single goroutine so their relative order is preserved.
type Async struct {
	next    Emitter
	queue   chan Event
	timeout time.Duration
	log     zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsync(next Emitter, size int, log zerolog.Logger) *Async {
	if size <= 0 {
		size = 256
	}
	return &Async{
		next:    next,
		queue:   make(chan Event, size),
		timeout: 5 * time.Second,
		log:     log,
		done:    make(chan struct{}),
	}
}

// Start runs the delivery loop until Close drains the queue.
func (a *Async) Start() {
	go func() {
		defer close(a.done)
		for event := range a.queue {
			ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
			if err := a.next.Publish(ctx, event); err != nil {
				a.log.Warn().Err(err).Str("event", event.Name).Str("channel", event.Channel).Msg("event delivery failed")
			}
			cancel()
		}
	}()
}

func (a *Async) Publish(ctx context.Context, event Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBufferFull
	}
}

// Close stops accepting events and waits until the queued ones are delivered
// or ctx expires.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
