package eventscope

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rbaliyan/eventscope/schema"
)

// TestDispatcher creates a dispatcher for tests: tracing and metrics are
// disabled, handlers are looked up in r and schemas start out empty.
func TestDispatcher(r *Registry, opts ...DispatcherOption) *Dispatcher {
	base := []DispatcherOption{
		WithDispatchRegistry(r),
		WithTracing(false),
		WithMetrics(false),
		WithDefaultSchemas(schema.NewRegistry()),
	}
	return NewDispatcher(append(base, opts...)...)
}

// TestManager creates a manager for tests with metrics and tracing disabled.
// Panics if the handlers cannot be registered (test setup error).
func TestManager(r *Registry, handlers ...Handler) *Manager {
	m, err := NewManager(handlers,
		WithRegistry(r),
		WithManagerMetrics(false),
		WithExecutor(NewExecutor(WithExecutorTracing(false), WithExecutorMetrics(false))),
	)
	if err != nil {
		panic("eventscope.TestManager: " + err.Error())
	}
	return m
}

// RecordedEvent is one event received by a RecordingHandler.
type RecordedEvent struct {
	Context context.Context
	Event   Event
	Time    time.Time
}

// RecordingHandler records every event it receives.
// If fn is set, it runs after the event was recorded and its error is returned.
type RecordingHandler struct {
	mu       sync.Mutex
	received []RecordedEvent
	fn       func(context.Context, Event) error
}

// NewRecordingHandler creates a recording handler.
func NewRecordingHandler(fn func(context.Context, Event) error) *RecordingHandler {
	return &RecordingHandler{fn: fn}
}

// Handle records ev.
func (h *RecordingHandler) Handle(ctx context.Context, ev Event) error {
	h.mu.Lock()
	h.received = append(h.received, RecordedEvent{Context: ctx, Event: ev, Time: time.Now()})
	h.mu.Unlock()

	if h.fn != nil {
		return h.fn(ctx, ev)
	}
	return nil
}

// Received returns a copy of all received events in arrival order.
func (h *RecordingHandler) Received() []RecordedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]RecordedEvent(nil), h.received...)
}

// Events returns the received events in arrival order.
func (h *RecordingHandler) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	events := make([]Event, len(h.received))
	for i, r := range h.received {
		events[i] = r.Event
	}
	return events
}

// Count returns the number of received events.
func (h *RecordingHandler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.received)
}

// Reset clears all received events.
func (h *RecordingHandler) Reset() {
	h.mu.Lock()
	h.received = nil
	h.mu.Unlock()
}

// WaitFor waits until at least n events arrived or timeout is reached.
// Returns true if the expected count was reached, false on timeout.
func (h *RecordingHandler) WaitFor(n int, timeout time.Duration) bool {
	return waitFor(h.Count, n, timeout)
}

// BatchRecorder records the batches passed to HandleMany.
// Calls to Handle are recorded as batches of one.
type BatchRecorder struct {
	mu      sync.Mutex
	batches [][]Event
	err     error
}

// NewBatchRecorder creates a batch recorder.
func NewBatchRecorder() *BatchRecorder {
	return &BatchRecorder{}
}

// Handle records ev as a single-event batch.
func (b *BatchRecorder) Handle(ctx context.Context, ev Event) error {
	return b.HandleMany(ctx, []Event{ev})
}

// HandleMany records events.
func (b *BatchRecorder) HandleMany(_ context.Context, events []Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, append([]Event(nil), events...))
	return b.err
}

// FailWith makes every later call return err after recording.
func (b *BatchRecorder) FailWith(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

// Batches returns a copy of the recorded batches.
func (b *BatchRecorder) Batches() [][]Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]Event(nil), b.batches...)
}

// Events returns every recorded event, flattened in call order.
func (b *BatchRecorder) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var events []Event
	for _, batch := range b.batches {
		events = append(events, batch...)
	}
	return events
}

// Count returns the number of recorded events.
func (b *BatchRecorder) Count() int {
	return len(b.Events())
}

// WaitFor waits until at least n events were recorded or timeout is reached.
func (b *BatchRecorder) WaitFor(n int, timeout time.Duration) bool {
	return waitFor(b.Count, n, timeout)
}

// ErrTestFailure is returned by FailingHandler when no error was configured.
var ErrTestFailure = errors.New("test failure")

// FailingHandler wraps a handler and fails calls on demand.
// Useful for testing error handling.
type FailingHandler struct {
	Handler
	mu       sync.Mutex
	err      error
	failAll  bool
	failNext int
}

// NewFailingHandler wraps h, which may be nil.
func NewFailingHandler(h Handler) *FailingHandler {
	return &FailingHandler{Handler: h}
}

// Handle fails if configured, otherwise delegates to the wrapped handler.
func (f *FailingHandler) Handle(ctx context.Context, ev Event) error {
	f.mu.Lock()
	shouldFail := f.failAll || f.failNext > 0
	err := f.err
	if f.failNext > 0 {
		f.failNext--
	}
	f.mu.Unlock()

	if shouldFail {
		if err != nil {
			return err
		}
		return ErrTestFailure
	}
	if f.Handler == nil {
		return nil
	}
	return f.Handler.Handle(ctx, ev)
}

// FailAll makes every call fail with err.
func (f *FailingHandler) FailAll(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = true
	f.err = err
}

// FailNext makes the next n calls fail with err.
func (f *FailingHandler) FailNext(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
	f.err = err
}

// Reset clears all failure configuration.
func (f *FailingHandler) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = false
	f.failNext = 0
	f.err = nil
}

func waitFor(count func() int, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if count() >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}
