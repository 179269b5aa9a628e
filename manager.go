package eventscope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Manager opens and closes scopes for one set of handlers.
//
// NewManager registers the handlers in a Registry under the manager id so
// dispatchers holding only a context can find them. Every scope opened by
// the manager shares that id but owns its buffer, so concurrent requests
// never see each other's events. Close removes the registration.
type Manager struct {
	id           string
	handlers     []Handler
	registry     *Registry
	executor     *Executor
	logger       *slog.Logger
	metrics      *metrics
	drainTimeout time.Duration
	onError      func(ctx context.Context, scopeID string, err error)
	closed       atomic.Bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	id           string
	registry     *Registry
	executor     *Executor
	logger       *slog.Logger
	metrics      bool
	drainTimeout time.Duration
	onError      func(ctx context.Context, scopeID string, err error)
}

func newManagerOptions(opts ...ManagerOption) *managerOptions {
	o := &managerOptions{
		registry: DefaultRegistry,
		logger:   Logger("eventscope>manager"),
		metrics:  true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithManagerID sets the scope id. By default a random id is generated.
func WithManagerID(id string) ManagerOption {
	return func(o *managerOptions) {
		o.id = id
	}
}

// WithRegistry sets the handler registry (default DefaultRegistry).
func WithRegistry(r *Registry) ManagerOption {
	return func(o *managerOptions) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithExecutor sets the executor used to drain scopes.
func WithExecutor(x *Executor) ManagerOption {
	return func(o *managerOptions) {
		if x != nil {
			o.executor = x
		}
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(o *managerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithManagerMetrics enables or disables drain metrics (default true).
func WithManagerMetrics(enabled bool) ManagerOption {
	return func(o *managerOptions) {
		o.metrics = enabled
	}
}

// WithDrainTimeout bounds how long closing a scope may wait for handlers.
// Handlers see the deadline through their context.
func WithDrainTimeout(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if d > 0 {
			o.drainTimeout = d
		}
	}
}

// WithScopeErrorHandler receives the aggregate error of a failed drain.
// The default logs it.
func WithScopeErrorHandler(fn func(ctx context.Context, scopeID string, err error)) ManagerOption {
	return func(o *managerOptions) {
		if fn != nil {
			o.onError = fn
		}
	}
}

// NewManager creates a manager and registers handlers under its id.
//
// The id is generated unless WithManagerID is given, and registration fails
// with ErrScopeExists when the registry already holds it. Handlers run on
// the default executor, drains are unbounded in time, and drain failures
// are logged unless WithScopeErrorHandler replaces that.
//
// Example:
//
//	m, err := eventscope.NewManager(
//	    []eventscope.Handler{router, kafkaForwarder},
//	    eventscope.WithManagerID("api"),
//	    eventscope.WithDrainTimeout(5*time.Second),
//	)
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	err = m.Run(ctx, func(ctx context.Context) error {
//	    // events dispatched with ctx are delivered when fn returns
//	    return d.Dispatch(ctx, "order_placed", eventscope.WithPayload(order))
//	})
func NewManager(handlers []Handler, opts ...ManagerOption) (*Manager, error) {
	o := newManagerOptions(opts...)
	if o.id == "" {
		o.id = NewID()
	}
	if err := o.registry.Register(o.id, handlers...); err != nil {
		return nil, err
	}

	m := &Manager{
		id:           o.id,
		handlers:     append([]Handler(nil), handlers...),
		registry:     o.registry,
		executor:     o.executor,
		logger:       o.logger.With("scope", o.id),
		drainTimeout: o.drainTimeout,
		onError:      o.onError,
	}
	if m.executor == nil {
		m.executor = NewExecutor()
	}
	if o.metrics {
		m.metrics = newMetrics()
	}
	if m.onError == nil {
		logger := m.logger
		m.onError = func(ctx context.Context, scopeID string, err error) {
			logger.ErrorContext(ctx, "scope handlers failed", "error", err)
		}
	}
	return m, nil
}

// ID returns the scope id shared by every scope of the manager.
func (m *Manager) ID() string {
	return m.id
}

// Handlers returns the handlers scopes are drained to.
func (m *Manager) Handlers() []Handler {
	return append([]Handler(nil), m.handlers...)
}

// Begin opens a scope and returns a context carrying it.
// Events dispatched with the returned context are buffered until End.
func (m *Manager) Begin(ctx context.Context) (context.Context, *Scope, error) {
	if m.closed.Load() {
		return ctx, nil, ErrManagerClosed
	}
	if outer := ScopeFromContext(ctx); outer != nil && outer.id == m.id && outer.State() != StateClosed {
		return ctx, nil, fmt.Errorf("%w: %q", ErrScopeActive, m.id)
	}
	s := newScope(m.id)
	s.open()
	m.logger.DebugContext(ctx, "scope opened")
	return contextWithScope(ctx, s), s, nil
}

// End drains the scope into the handlers and waits for them.
//
// The handlers run with a context detached from ctx's cancellation so a
// finished request cannot abort delivery; only the drain timeout bounds
// them. Handler failures are passed to the scope error handler and returned.
func (m *Manager) End(ctx context.Context, s *Scope) error {
	if s == nil {
		return ErrScopeNotOpen
	}
	events, ok := s.drain()
	if !ok {
		return fmt.Errorf("%w: %q is %s", ErrScopeNotOpen, s.id, s.State())
	}
	defer s.close()

	m.metrics.recordDrain(ctx, m.id, len(events))
	if len(events) == 0 {
		m.logger.DebugContext(ctx, "scope closed")
		return nil
	}

	drainCtx := context.WithoutCancel(ctx)
	if m.drainTimeout > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(drainCtx, m.drainTimeout)
		defer cancel()
	}

	err := m.executor.Run(drainCtx, m.handlers, events)
	if err != nil {
		m.onError(ctx, m.id, err)
	}
	m.logger.DebugContext(ctx, "scope closed", "events", len(events))
	return err
}

// Run brackets fn with Begin and End. End runs even when fn fails or
// panics; a panic is re-raised once the scope has drained. The returned
// error joins fn's error with the drain error.
func (m *Manager) Run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	scoped, s, err := m.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		r := recover()
		drainErr := m.End(scoped, s)
		if r != nil {
			panic(r)
		}
		err = errors.Join(err, drainErr)
	}()
	return fn(scoped)
}

// Close deregisters the handlers. Later dispatches targeting the id fail
// with ErrScopeNotFound and Begin fails with ErrManagerClosed.
// Close is idempotent.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.registry.Deregister(m.id)
	return nil
}
