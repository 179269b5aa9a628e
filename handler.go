package eventscope

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

// Handler handles a single event.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// BatchHandler is implemented by handlers that can process many events in
// one call. The executor prefers HandleMany over Handle when it is available.
type BatchHandler interface {
	Handler
	HandleMany(ctx context.Context, events []Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev Event) error

// Handle calls f(ctx, ev).
func (f HandlerFunc) Handle(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// namer lets handlers report a stable name for logs, spans and errors.
type namer interface {
	Name() string
}

// HandlerName returns the name used for h in logs, spans and errors.
func HandlerName(h Handler) string {
	if n, ok := h.(namer); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", h)
}

// HandleConcurrently invokes h once per event, each on its own goroutine,
// and waits for all of them. One failing event does not stop the others;
// failures are joined and panics are recovered into *PanicError.
func HandleConcurrently(ctx context.Context, h Handler, events []Event) error {
	switch len(events) {
	case 0:
		return nil
	case 1:
		return safeCall(ctx, func(ctx context.Context) error { return h.Handle(ctx, events[0]) })
	}

	errs := make([]error, len(events))
	var wg sync.WaitGroup
	for i, ev := range events {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = safeCall(ctx, func(ctx context.Context) error { return h.Handle(ctx, ev) })
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// AsBatch returns h as a BatchHandler. Handlers without a native batch
// method get HandleConcurrently as their HandleMany.
func AsBatch(h Handler) BatchHandler {
	if bh, ok := h.(BatchHandler); ok {
		return bh
	}
	return concurrentBatch{h}
}

type concurrentBatch struct {
	Handler
}

func (b concurrentBatch) HandleMany(ctx context.Context, events []Event) error {
	return HandleConcurrently(ctx, b.Handler, events)
}

func (b concurrentBatch) Name() string {
	return HandlerName(b.Handler)
}

// safeCall runs fn and converts a panic into a *PanicError.
func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}
