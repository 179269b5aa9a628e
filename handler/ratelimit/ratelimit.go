// Package ratelimit throttles delivery to a downstream handler.
//
// The wrapped handler sees at most the configured rate of events, with
// bursts up to the bucket size (golang.org/x/time/rate):
//
//	// at most 50 events/second to the webhook, bursts of 10
//	h := ratelimit.New(webhook, ratelimit.WithLimit(50, 10))
//
// By default callers wait for tokens. WithDrop makes the handler reject
// events immediately with ErrRateLimited instead.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/eventscope"
	"github.com/rbaliyan/eventscope/batch"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned in drop mode when no token is available.
var ErrRateLimited = errors.New("rate limited")

// Handler wraps another handler with a token bucket.
type Handler struct {
	next    eventscope.Handler
	limiter *rate.Limiter
	drop    bool
}

// Option configures a rate limited handler.
type Option func(*Handler)

// WithLimit sets events per second and burst size. Non-positive burst
// values are raised to 1.
func WithLimit(rps float64, burst int) Option {
	return func(h *Handler) {
		h.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithLimiter shares an existing limiter, e.g. one bucket for several
// handlers that call the same service.
func WithLimiter(l *rate.Limiter) Option {
	return func(h *Handler) {
		if l != nil {
			h.limiter = l
		}
	}
}

// WithDrop rejects events when the bucket is empty instead of waiting.
func WithDrop() Option {
	return func(h *Handler) {
		h.drop = true
	}
}

// New wraps next. Without a limit option the handler allows 100 events per
// second with a burst of 100.
func New(next eventscope.Handler, opts ...Option) *Handler {
	h := &Handler{
		next:    next,
		limiter: rate.NewLimiter(100, 100),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name reports the wrapped handler's name.
func (h *Handler) Name() string {
	return "ratelimit(" + eventscope.HandlerName(h.next) + ")"
}

// Handle waits for one token, or fails in drop mode, then delivers ev.
func (h *Handler) Handle(ctx context.Context, ev eventscope.Event) error {
	if err := h.acquire(ctx, 1); err != nil {
		return err
	}
	return h.next.Handle(ctx, ev)
}

// HandleMany delivers a batch. A batch capable downstream handler receives
// chunks no larger than the burst size, each after acquiring its tokens.
// Otherwise events are handled concurrently, each taking one token.
func (h *Handler) HandleMany(ctx context.Context, events []eventscope.Event) error {
	bh, ok := h.next.(eventscope.BatchHandler)
	if !ok {
		return eventscope.HandleConcurrently(ctx, h, events)
	}
	var errs []error
	for _, chunk := range batch.Chunk(events, h.limiter.Burst()) {
		if err := h.acquire(ctx, len(chunk)); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := bh.HandleMany(ctx, chunk); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Handler) acquire(ctx context.Context, n int) error {
	if h.drop {
		if !h.limiter.AllowN(time.Now(), n) {
			return fmt.Errorf("%w: %d events", ErrRateLimited, n)
		}
		return nil
	}
	return h.limiter.WaitN(ctx, n)
}

var _ eventscope.BatchHandler = (*Handler)(nil)
