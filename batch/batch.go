// Package batch groups events for handlers that deliver them in bulk.
//
// Chunk splits a slice into bounded batches, which forwarding handlers use
// to respect broker request limits. Buffer accumulates events across scopes
// and flushes them to a batch handler once enough have arrived or a timeout
// expires:
//
//	buf := batch.NewBuffer(kafkaHandler,
//	    batch.WithBatchSize(500),
//	    batch.WithTimeout(2*time.Second),
//	)
//	defer buf.Close(ctx)
//
//	manager, _ := eventscope.NewManager([]eventscope.Handler{buf})
//
// # Error Handling
//
// A failed flush is retried up to MaxRetries times. When it still fails, the
// batch is dropped and OnError is called:
//
//	buf := batch.NewBuffer(h, batch.WithOnError(func(events []eventscope.Event, err error) {
//	    slog.Error("flush failed", "size", len(events), "error", err)
//	}))
package batch

import (
	"time"

	"github.com/rbaliyan/eventscope"
)

// Chunk splits items into consecutive slices of at most size elements.
// The chunks share the backing array of items. A size <= 0 yields a single
// chunk holding everything.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		return [][]T{items}
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}

// Options configures a Buffer.
type Options struct {
	// BatchSize is the number of events that triggers an immediate flush.
	// Default: 100
	BatchSize int

	// Timeout is the longest an event waits in the buffer before a partial
	// batch is flushed.
	// Default: 1 second
	Timeout time.Duration

	// MaxRetries is the number of extra attempts for a failed flush.
	// Default: 3
	MaxRetries int

	// OnError is called with a batch that failed after all retries.
	OnError func(events []eventscope.Event, err error)
}

// DefaultOptions returns the default buffer options.
func DefaultOptions() *Options {
	return &Options{
		BatchSize:  100,
		Timeout:    time.Second,
		MaxRetries: 3,
		OnError:    func(events []eventscope.Event, err error) {},
	}
}

// Option is a function that modifies Options.
type Option func(*Options)

// WithBatchSize sets the flush threshold. Values <= 0 are ignored.
func WithBatchSize(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.BatchSize = size
		}
	}
}

// WithTimeout sets how long a partial batch may wait. Values <= 0 are ignored.
func WithTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		if timeout > 0 {
			o.Timeout = timeout
		}
	}
}

// WithMaxRetries sets the retry count for failed flushes. Zero disables
// retries; negative values are ignored.
func WithMaxRetries(retries int) Option {
	return func(o *Options) {
		if retries >= 0 {
			o.MaxRetries = retries
		}
	}
}

// WithOnError sets the callback for batches that could not be delivered.
func WithOnError(fn func(events []eventscope.Event, err error)) Option {
	return func(o *Options) {
		if fn != nil {
			o.OnError = fn
		}
	}
}
