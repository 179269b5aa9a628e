package eventscope

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/eventscope/internal/naming"
	"github.com/rbaliyan/eventscope/schema"
	"go.opentelemetry.io/otel/trace"
)

// Dispatcher is the entry point for raising events.
//
// Inside an open scope an event is appended to the scope's buffer and
// delivered when the scope ends. Anywhere else the handlers registered for
// the ambient (or explicit) scope id receive the event from a detached
// goroutine and Dispatch returns without waiting for them.
type Dispatcher struct {
	registry     *Registry
	schemas      *schema.Registry
	executor     *Executor
	logger       *slog.Logger
	metrics      *metrics
	tracing      bool
	propagate    bool
	modelsAsMaps bool
	revalidate   bool
	onError      func(ctx context.Context, ev Event, err error)

	disabled    atomic.Bool
	envDisabled bool

	// detached fan-out runs in flight; idle is closed when pending drops to zero
	mu      sync.Mutex
	pending int
	idle    chan struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*dispatcherOptions)

type dispatcherOptions struct {
	registry     *Registry
	schemas      *schema.Registry
	executor     *Executor
	logger       *slog.Logger
	disabled     bool
	tracing      bool
	metrics      bool
	propagate    bool
	modelsAsMaps bool
	revalidate   bool
	onError      func(ctx context.Context, ev Event, err error)
}

func newDispatcherOptions(opts ...DispatcherOption) *dispatcherOptions {
	o := &dispatcherOptions{
		registry: DefaultRegistry,
		schemas:  schema.Default,
		logger:   Logger("eventscope>dispatcher"),
		tracing:  true,
		metrics:  true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithDispatchRegistry sets the handler registry (default DefaultRegistry).
func WithDispatchRegistry(r *Registry) DispatcherOption {
	return func(o *dispatcherOptions) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithDefaultSchemas sets the schema registry used when a call does not
// name one (default schema.Default).
func WithDefaultSchemas(r *schema.Registry) DispatcherOption {
	return func(o *dispatcherOptions) {
		if r != nil {
			o.schemas = r
		}
	}
}

// WithDispatchExecutor sets the executor for detached fan-out.
func WithDispatchExecutor(x *Executor) DispatcherOption {
	return func(o *dispatcherOptions) {
		if x != nil {
			o.executor = x
		}
	}
}

// WithDispatchLogger sets the logger.
func WithDispatchLogger(l *slog.Logger) DispatcherOption {
	return func(o *dispatcherOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDisabled starts the dispatcher with the kill switch set.
func WithDisabled(disabled bool) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.disabled = disabled
	}
}

// WithTracing enables or disables dispatch spans (default true).
func WithTracing(enabled bool) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.tracing = enabled
	}
}

// WithMetrics enables or disables dispatch counters (default true).
func WithMetrics(enabled bool) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.metrics = enabled
	}
}

// WithTracePropagation injects the dispatch trace context into map payloads
// so handlers can link or parent their spans to it. The caller's map is
// copied, never modified.
func WithTracePropagation(enabled bool) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.propagate = enabled
	}
}

// WithModelsAsMaps dispatches typed models as map[string]any keyed by their
// JSON field names instead of the model value itself.
func WithModelsAsMaps(enabled bool) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.modelsAsMaps = enabled
	}
}

// WithModelRevalidation runs typed models through the schema registered for
// their event. By default a typed model is trusted as-is.
func WithModelRevalidation(enabled bool) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.revalidate = enabled
	}
}

// WithAsyncErrorHandler receives failures of detached fan-out runs.
// The default logs them.
func WithAsyncErrorHandler(fn func(ctx context.Context, ev Event, err error)) DispatcherOption {
	return func(o *dispatcherOptions) {
		if fn != nil {
			o.onError = fn
		}
	}
}

// NewDispatcher creates a dispatcher.
//
// Without options the dispatcher looks handlers up in DefaultRegistry,
// validates against schema.Default, and records spans and metrics. When
// EVENTSCOPE_DISABLE_DISPATCH is set to true at construction time the
// dispatcher is disabled for its whole life, regardless of WithDisabled or
// SetDisabled.
//
// Example:
//
//	d := eventscope.NewDispatcher(
//	    eventscope.WithDefaultSchemas(schemas),
//	    eventscope.WithTracePropagation(true),
//	    eventscope.WithAsyncErrorHandler(func(ctx context.Context, ev eventscope.Event, err error) {
//	        slog.Error("event delivery failed", "event", ev.Name, "error", err)
//	    }),
//	)
//
//	// buffered when ctx carries an open scope, scheduled otherwise
//	err := d.Dispatch(ctx, "user_created", eventscope.WithPayload(map[string]any{"id": id}))
//
//	// on shutdown
//	d.Wait(shutdownCtx)
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	o := newDispatcherOptions(opts...)
	d := &Dispatcher{
		registry:     o.registry,
		schemas:      o.schemas,
		executor:     o.executor,
		logger:       o.logger,
		tracing:      o.tracing,
		propagate:    o.propagate,
		modelsAsMaps: o.modelsAsMaps,
		revalidate:   o.revalidate,
		onError:      o.onError,
	}
	if d.executor == nil {
		d.executor = NewExecutor(WithExecutorTracing(o.tracing), WithExecutorMetrics(o.metrics))
	}
	if o.metrics {
		d.metrics = newMetrics()
	}
	if d.onError == nil {
		logger := d.logger
		d.onError = func(ctx context.Context, ev Event, err error) {
			logger.ErrorContext(ctx, "detached fan-out failed", "event", ev.Name, "error", err)
		}
	}
	d.disabled.Store(o.disabled)
	d.envDisabled = dispatchDisabledByEnv()
	return d
}

// SetDisabled sets the kill switch. A disabled dispatcher still validates
// payloads but neither buffers nor schedules anything. It cannot re-enable
// a dispatcher disabled through EVENTSCOPE_DISABLE_DISPATCH.
func (d *Dispatcher) SetDisabled(disabled bool) {
	d.disabled.Store(disabled)
}

// Disabled reports whether the kill switch is set, by SetDisabled or by
// the environment.
func (d *Dispatcher) Disabled() bool {
	return d.envDisabled || d.disabled.Load()
}

// DispatchOption configures a single Dispatch call.
type DispatchOption func(*dispatchCall)

type dispatchCall struct {
	payload    any
	hasPayload bool
	name       any
	validate   bool
	schemas    *schema.Registry
	scopeID    string
}

// WithPayload sets a raw payload. It cannot be combined with a typed model.
func WithPayload(payload any) DispatchOption {
	return func(c *dispatchCall) {
		c.payload = payload
		c.hasPayload = true
	}
}

// WithEventName sets the event name, overriding a name derived from a typed model.
func WithEventName(name any) DispatchOption {
	return func(c *dispatchCall) {
		c.name = name
	}
}

// WithoutValidation skips the payload schema.
func WithoutValidation() DispatchOption {
	return func(c *dispatchCall) {
		c.validate = false
	}
}

// WithSchemaRegistry validates against r instead of the dispatcher's registry.
func WithSchemaRegistry(r *schema.Registry) DispatchOption {
	return func(c *dispatchCall) {
		c.schemas = r
	}
}

// WithScopeID targets the handlers registered for id. Within an open scope
// with a different id the event is scheduled instead of buffered.
func WithScopeID(id string) DispatchOption {
	return func(c *dispatchCall) {
		c.scopeID = id
	}
}

// Dispatch raises an event.
//
// event is either a name tag (a string, a fmt.Stringer or a named string or
// integer type) or a typed model: a value implementing Named, or a struct.
// A typed model becomes the payload, and combining it with WithPayload fails
// with ErrConflictingPayload.
//
// Validation errors, a missing name and unknown scope ids are returned to the
// caller. Handler failures are not: buffered events report them when the
// scope ends, and scheduled events report them to the async error handler.
func (d *Dispatcher) Dispatch(ctx context.Context, event any, opts ...DispatchOption) (err error) {
	call := &dispatchCall{validate: true}
	for _, opt := range opts {
		opt(call)
	}

	ev, isModel, err := d.resolve(event, call)
	if err != nil {
		return err
	}

	scopeID := call.scopeID
	if scopeID == "" {
		scopeID = ScopeID(ctx)
	}
	if d.tracing {
		var span trace.Span
		ctx, span = startDispatchSpan(ctx, ev.Name, scopeID)
		defer func() { endSpan(span, err) }()
	}

	if ev.Payload, err = d.validate(ev, isModel, call); err != nil {
		return err
	}

	if d.Disabled() {
		d.logger.DebugContext(ctx, "dispatch disabled, event dropped", "event", ev.Name)
		return nil
	}

	if d.propagate {
		ev.Payload = injectTraceContext(ctx, ev.Payload)
	}

	if s := ScopeFromContext(ctx); s != nil && (call.scopeID == "" || call.scopeID == s.ID()) && s.add(ev) {
		d.metrics.recordDispatch(ctx, ev.Name, true)
		return nil
	}

	handlers, err := d.registry.Lookup(scopeID)
	if err != nil {
		return err
	}
	d.schedule(ctx, handlers, ev)
	d.metrics.recordDispatch(ctx, ev.Name, false)
	return nil
}

// Wait blocks until no detached fan-out is in flight, or ctx is done.
// Dispatches made while Wait blocks extend the wait. It is safe to call
// Wait concurrently with Dispatch.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	if d.pending == 0 {
		d.mu.Unlock()
		return nil
	}
	idle := d.idle
	d.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) begin() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == 0 {
		d.idle = make(chan struct{})
	}
	d.pending++
}

func (d *Dispatcher) finish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending--
	if d.pending == 0 {
		close(d.idle)
	}
}

func (d *Dispatcher) schedule(ctx context.Context, handlers []Handler, ev Event) {
	bg := context.WithoutCancel(ctx)
	d.begin()
	go func() {
		defer d.finish()
		if err := d.executor.Run(bg, handlers, []Event{ev}); err != nil {
			d.onError(bg, ev, err)
		}
	}()
}

// resolve derives the event name and the initial payload.
func (d *Dispatcher) resolve(event any, call *dispatchCall) (Event, bool, error) {
	var ev Event
	model := isModel(event)

	switch {
	case model && call.hasPayload:
		return ev, true, fmt.Errorf("%w: typed model %T given together with a raw payload", ErrConflictingPayload, event)
	case model:
		if v := reflect.ValueOf(event); v.Kind() == reflect.Pointer && v.IsNil() {
			return ev, true, fmt.Errorf("%w: nil %T model", ErrInvalidPayloadType, event)
		}
		if n, ok := event.(Named); ok {
			ev.Name = n.EventName()
		}
		ev.Payload = event
		if d.modelsAsMaps {
			m, err := schema.ToMap(event)
			if err != nil {
				return ev, true, fmt.Errorf("%w: %w", ErrInvalidPayloadType, err)
			}
			ev.Payload = m
		}
	default:
		if event != nil {
			name, ok := naming.Of(event)
			if !ok {
				return ev, false, fmt.Errorf("%w: unsupported event tag %T", ErrMissingEventName, event)
			}
			ev.Name = name
		}
		ev.Payload = call.payload
	}

	if call.name != nil {
		if name, ok := naming.Of(call.name); ok && name != "" {
			ev.Name = name
		}
	}
	if ev.Name == "" {
		return ev, model, ErrMissingEventName
	}
	return ev, model, nil
}

// validate runs the schema registered for the event, if any, and returns
// the payload to dispatch.
func (d *Dispatcher) validate(ev Event, model bool, call *dispatchCall) (any, error) {
	if !call.validate || (model && !d.revalidate) {
		return ev.Payload, nil
	}
	registry := call.schemas
	if registry == nil {
		registry = d.schemas
	}
	s := registry.Get(ev.Name)
	if s == nil {
		return ev.Payload, nil
	}

	var payload map[string]any
	switch p := ev.Payload.(type) {
	case nil:
	case map[string]any:
		payload = p
	default:
		if !model {
			return nil, fmt.Errorf("%w: %q has %T", ErrInvalidPayloadType, ev.Name, ev.Payload)
		}
		m, err := schema.ToMap(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrPayloadValidation, ev.Name, err)
		}
		payload = m
	}

	out, err := s.Validate(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrPayloadValidation, ev.Name, err)
	}
	if model && !d.modelsAsMaps {
		return ev.Payload, nil
	}
	return out, nil
}

// isModel reports whether v is a typed payload model rather than a name tag.
func isModel(v any) bool {
	switch v.(type) {
	case nil, string:
		return false
	case Named:
		return true
	case fmt.Stringer:
		return false
	}
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}

var (
	defaultOnce       sync.Once
	defaultDispatcher *Dispatcher
)

// Default returns the process-wide dispatcher, configured from the
// environment on first use.
func Default() *Dispatcher {
	defaultOnce.Do(func() {
		cfg, err := LoadConfig()
		if err != nil {
			Logger("eventscope>dispatcher").Warn("invalid environment configuration, using defaults", "error", err)
			cfg = Config{Tracing: true, Metrics: true, SpanLinking: true}
		}
		defaultDispatcher = NewDispatcher(cfg.DispatcherOptions()...)
	})
	return defaultDispatcher
}

// Dispatch raises an event through the Default dispatcher.
func Dispatch(ctx context.Context, event any, opts ...DispatchOption) error {
	return Default().Dispatch(ctx, event, opts...)
}
