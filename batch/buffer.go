package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rbaliyan/eventscope"
)

// ErrBufferClosed is returned when events are added to a closed Buffer.
var ErrBufferClosed = errors.New("batch buffer closed")

// Buffer collects events and delivers them to a BatchHandler in groups.
//
// Buffer is itself a BatchHandler, so it can be registered with a scope
// manager in place of the handler it wraps. It is safe for concurrent use.
type Buffer struct {
	target eventscope.BatchHandler
	opts   *Options
	logger *slog.Logger

	mu      sync.Mutex
	pending []eventscope.Event
	timer   *time.Timer
	gen     uint64 // bumped per armed timer; a stale timer sees a newer value
	closed  bool

	// one delivery at a time
	flushMu sync.Mutex
}

// NewBuffer creates a Buffer that flushes to target.
func NewBuffer(target eventscope.BatchHandler, opts ...Option) *Buffer {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Buffer{
		target:  target,
		opts:    o,
		logger:  eventscope.Logger("eventscope>batch"),
		pending: make([]eventscope.Event, 0, o.BatchSize),
	}
}

// Name identifies the buffer by the handler it feeds.
func (b *Buffer) Name() string {
	return "batch(" + eventscope.HandlerName(b.target) + ")"
}

// Handle adds a single event.
func (b *Buffer) Handle(ctx context.Context, ev eventscope.Event) error {
	return b.HandleMany(ctx, []eventscope.Event{ev})
}

// HandleMany adds events, flushing synchronously each time the buffer
// reaches BatchSize. Delivery errors of a synchronous flush are returned.
func (b *Buffer) HandleMany(ctx context.Context, events []eventscope.Event) error {
	var errs []error
	for _, ev := range events {
		full, err := b.add(ev)
		if err != nil {
			return err
		}
		if full != nil {
			errs = append(errs, b.deliver(context.WithoutCancel(ctx), full))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of events waiting to be flushed.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush delivers whatever is pending right away.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	events := b.take()
	b.mu.Unlock()
	return b.deliver(ctx, events)
}

// Close flushes pending events and rejects further additions.
// Calling Close more than once is safe.
func (b *Buffer) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	events := b.take()
	b.mu.Unlock()
	return b.deliver(ctx, events)
}

// add appends ev and returns the full batch when the threshold is reached.
func (b *Buffer) add(ev eventscope.Event) ([]eventscope.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBufferClosed
	}
	b.pending = append(b.pending, ev)
	if len(b.pending) >= b.opts.BatchSize {
		return b.take(), nil
	}
	if b.timer == nil {
		b.gen++
		gen := b.gen
		b.timer = time.AfterFunc(b.opts.Timeout, func() { b.onTimeout(gen) })
	}
	return nil, nil
}

// take must be called with mu held.
func (b *Buffer) take() []eventscope.Event {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		return nil
	}
	events := b.pending
	b.pending = make([]eventscope.Event, 0, b.opts.BatchSize)
	return events
}

// onTimeout flushes the batch armed as generation gen. A timer that fired
// after its batch was already taken finds a different generation and leaves
// the newer batch and its timer alone.
func (b *Buffer) onTimeout(gen uint64) {
	b.mu.Lock()
	if b.timer == nil || b.gen != gen {
		b.mu.Unlock()
		return
	}
	events := b.take()
	b.mu.Unlock()
	if err := b.deliver(context.Background(), events); err != nil {
		b.logger.Warn("timed flush failed", "handler", eventscope.HandlerName(b.target), "error", err)
	}
}

func (b *Buffer) deliver(ctx context.Context, events []eventscope.Event) error {
	if len(events) == 0 {
		return nil
	}
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	var err error
	for attempt := 0; attempt <= b.opts.MaxRetries; attempt++ {
		if err = b.target.HandleMany(ctx, events); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	b.opts.OnError(events, err)
	return err
}

var _ eventscope.BatchHandler = (*Buffer)(nil)
