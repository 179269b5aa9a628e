// Package echo prints events, one line each. Useful while developing.
package echo

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rbaliyan/eventscope"
)

// Handler writes events to a writer.
type Handler struct {
	mu sync.Mutex
	w  io.Writer
}

// New returns a handler writing to w, or to stdout when w is nil.
func New(w io.Writer) *Handler {
	if w == nil {
		w = os.Stdout
	}
	return &Handler{w: w}
}

// Name returns "echo".
func (h *Handler) Name() string { return "echo" }

// Handle writes "name payload" followed by a newline.
func (h *Handler) Handle(_ context.Context, ev eventscope.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ev.Payload == nil {
		_, err := fmt.Fprintln(h.w, ev.Name)
		return err
	}
	_, err := fmt.Fprintf(h.w, "%s %+v\n", ev.Name, ev.Payload)
	return err
}

// HandleMany writes the events in order.
func (h *Handler) HandleMany(ctx context.Context, events []eventscope.Event) error {
	for _, ev := range events {
		if err := h.Handle(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

var _ eventscope.BatchHandler = (*Handler)(nil)
