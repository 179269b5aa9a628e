// Package null provides a handler that discards everything, for use where a
// handler is required but nothing should happen.
package null

import (
	"context"

	"github.com/rbaliyan/eventscope"
)

// Handler does nothing.
type Handler struct{}

// Name returns "null".
func (Handler) Name() string { return "null" }

func (Handler) Handle(context.Context, eventscope.Event) error { return nil }

func (Handler) HandleMany(context.Context, []eventscope.Event) error { return nil }

var _ eventscope.BatchHandler = Handler{}
