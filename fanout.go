package eventscope

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrorPolicy decides what a fan-out does after a handler fails.
type ErrorPolicy int

const (
	// Collect attempts every invocation and reports all failures at the end.
	Collect ErrorPolicy = iota
	// FailFast cancels the context shared by the remaining invocations on
	// the first failure. Running invocations are still awaited, invocations
	// not yet started are skipped, and the triggering failure is reported first.
	FailFast
)

func (p ErrorPolicy) String() string {
	switch p {
	case Collect:
		return "collect"
	case FailFast:
		return "fail_fast"
	}
	return fmt.Sprintf("ErrorPolicy(%d)", int(p))
}

// UnmarshalText parses "collect" or "fail_fast".
func (p *ErrorPolicy) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.ReplaceAll(string(text), "-", "_")) {
	case "", "collect":
		*p = Collect
	case "fail_fast", "failfast":
		*p = FailFast
	default:
		return fmt.Errorf("unknown error policy %q", text)
	}
	return nil
}

// Executor invokes many handlers over many events concurrently.
type Executor struct {
	policy  ErrorPolicy
	limit   int
	timeout time.Duration
	tracing bool
	linking bool
	logger  *slog.Logger
	metrics *metrics
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*executorOptions)

type executorOptions struct {
	policy  ErrorPolicy
	limit   int
	timeout time.Duration
	tracing bool
	linking bool
	metrics bool
	logger  *slog.Logger
}

func newExecutorOptions(opts ...ExecutorOption) *executorOptions {
	o := &executorOptions{
		policy:  Collect,
		tracing: true,
		linking: true,
		metrics: true,
		logger:  Logger("eventscope>executor"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithErrorPolicy sets the failure policy (default Collect).
func WithErrorPolicy(p ErrorPolicy) ExecutorOption {
	return func(o *executorOptions) {
		o.policy = p
	}
}

// WithMaxConcurrency bounds the number of simultaneous invocations.
// Zero or negative means unbounded.
func WithMaxConcurrency(n int) ExecutorOption {
	return func(o *executorOptions) {
		o.limit = n
	}
}

// WithHandlerTimeout sets a deadline for every invocation.
func WithHandlerTimeout(d time.Duration) ExecutorOption {
	return func(o *executorOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithExecutorTracing enables or disables handler spans (default true).
func WithExecutorTracing(enabled bool) ExecutorOption {
	return func(o *executorOptions) {
		o.tracing = enabled
	}
}

// WithSpanLinking selects how a trace context carried in a payload relates to
// handler spans: linked when true (default), parent when false.
func WithSpanLinking(enabled bool) ExecutorOption {
	return func(o *executorOptions) {
		o.linking = enabled
	}
}

// WithExecutorMetrics enables or disables invocation counters (default true).
func WithExecutorMetrics(enabled bool) ExecutorOption {
	return func(o *executorOptions) {
		o.metrics = enabled
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(o *executorOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewExecutor creates an executor.
//
// The defaults collect every handler failure, run handlers without a
// concurrency bound or per-handler timeout, and record spans and metrics.
// A trace context carried in a payload is linked from the handler span;
// WithSpanLinking(false) makes it the parent instead.
//
// Example:
//
//	x := eventscope.NewExecutor(
//	    eventscope.WithErrorPolicy(eventscope.FailFast),
//	    eventscope.WithMaxConcurrency(8),
//	    eventscope.WithHandlerTimeout(2*time.Second),
//	)
//
//	m, err := eventscope.NewManager(handlers, eventscope.WithExecutor(x))
func NewExecutor(opts ...ExecutorOption) *Executor {
	o := newExecutorOptions(opts...)
	x := &Executor{
		policy:  o.policy,
		limit:   o.limit,
		timeout: o.timeout,
		tracing: o.tracing,
		linking: o.linking,
		logger:  o.logger,
	}
	if o.metrics {
		x.metrics = newMetrics()
	}
	return x
}

// Policy returns the configured error policy.
func (x *Executor) Policy() ErrorPolicy {
	return x.policy
}

// Run delivers events to every handler and blocks until all invocations finish.
//
// A BatchHandler receives the whole slice in one HandleMany call. Any other
// handler gets one Handle call per event. Every call runs on its own
// goroutine so a slow handler never holds up the others. Failures and
// recovered panics are returned as a *FanoutError.
func (x *Executor) Run(ctx context.Context, handlers []Handler, events []Event) error {
	if len(handlers) == 0 || len(events) == 0 {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		failures []*HandlerError
	)
	record := func(he *HandlerError) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, he)
		if x.policy == FailFast && len(failures) == 1 {
			cancel()
		}
	}

	var g errgroup.Group
	if x.limit > 0 {
		g.SetLimit(x.limit)
	}

	for _, h := range handlers {
		name := HandlerName(h)
		if bh, ok := h.(BatchHandler); ok {
			g.Go(func() error {
				if err := x.invoke(runCtx, name, events, func(ctx context.Context) error {
					return bh.HandleMany(ctx, events)
				}); err != nil {
					record(&HandlerError{Handler: name, Err: err})
				}
				return nil
			})
			continue
		}
		for i := range events {
			ev := events[i : i+1]
			g.Go(func() error {
				if err := x.invoke(runCtx, name, ev, func(ctx context.Context) error {
					return h.Handle(ctx, ev[0])
				}); err != nil {
					record(&HandlerError{Handler: name, Event: ev[0].Name, Err: err})
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	if len(failures) == 0 {
		return nil
	}
	return &FanoutError{Failures: failures}
}

// invoke runs one handler call with the configured deadline, span and
// panic recovery. Under FailFast a cancelled run skips calls not yet started.
func (x *Executor) invoke(ctx context.Context, handler string, events []Event, fn func(context.Context) error) (err error) {
	if x.policy == FailFast && ctx.Err() != nil {
		return nil
	}
	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}
	if x.tracing {
		var span trace.Span
		ctx, span = startHandleSpan(ctx, handler, events, x.linking)
		defer func() { endSpan(span, err) }()
	}
	defer func() {
		x.metrics.recordInvocation(ctx, handler, err)
		if err != nil {
			x.logger.Debug("handler failed", "handler", handler, "events", len(events), "error", err)
		}
	}()
	return safeCall(ctx, fn)
}
