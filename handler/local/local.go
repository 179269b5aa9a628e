// Package local routes events to functions registered under glob patterns.
//
// Patterns are shell globs matched against the whole event name: '*'
// matches any run of characters, including '/', '?' matches exactly one,
// '[abc]' and '[a-z]' match a class and '[!abc]' its complement. Braces
// select alternatives ('{created,updated}') and '\' escapes a special
// character.
//
//	router := local.New()
//	router.MustRegister("cat_*", onCat)
//	router.MustRegister("*juice", onJuice)
//	router.RegisterAll(audit)
//
// A Router is an eventscope.Handler and is usually passed to a Manager.
package local

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rbaliyan/eventscope"
	"github.com/rbaliyan/eventscope/internal/naming"
)

var (
	// ErrBadPattern is returned when registering a malformed glob.
	ErrBadPattern = errors.New("bad pattern")

	// ErrNilFunc is returned when registering a nil function.
	ErrNilFunc = errors.New("nil handler function")
)

// Func handles one routed event.
type Func func(ctx context.Context, ev eventscope.Event) error

// DefaultCacheSize is the number of resolved event names kept by default.
const DefaultCacheSize = 256

// Router maps glob patterns to functions.
type Router struct {
	name string

	mu       sync.RWMutex
	patterns []string
	globs    map[string]glob.Glob
	funcs    map[string][]Func
	cache    *lru.Cache[string, []Func]
}

// Option configures a Router.
type Option func(*options)

type options struct {
	name      string
	cacheSize int
}

// WithName sets the name used in logs, spans and errors (default "local").
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithCacheSize sets how many resolved names are cached. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.cacheSize = n
		}
	}
}

// New creates an empty router.
func New(opts ...Option) *Router {
	o := &options{name: "local", cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(o)
	}
	r := &Router{
		name:  o.name,
		globs: make(map[string]glob.Glob),
		funcs: make(map[string][]Func),
	}
	if o.cacheSize > 0 {
		// New only fails for a non-positive size.
		r.cache, _ = lru.New[string, []Func](o.cacheSize)
	}
	return r
}

// Name returns the router name.
func (r *Router) Name() string {
	return r.name
}

// Register adds fn under pattern and returns fn so registration can be
// chained. pattern may be any event name tag; it is normalized the same way
// event names are.
func (r *Router) Register(pattern any, fn Func) (Func, error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	p, ok := naming.Of(pattern)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported pattern %T", ErrBadPattern, pattern)
	}
	g, err := glob.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrBadPattern, p, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.funcs[p]; !ok {
		r.patterns = append(r.patterns, p)
		r.globs[p] = g
	}
	r.funcs[p] = append(r.funcs[p], fn)
	if r.cache != nil {
		r.cache.Purge()
	}
	return fn, nil
}

// MustRegister is like Register but panics on error.
func (r *Router) MustRegister(pattern any, fn Func) Func {
	fn, err := r.Register(pattern, fn)
	if err != nil {
		panic(err)
	}
	return fn
}

// RegisterAll adds fn for every event.
func (r *Router) RegisterAll(fn Func) (Func, error) {
	return r.Register("*", fn)
}

// Patterns returns the registered patterns in registration order.
func (r *Router) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.patterns)
}

// Resolve returns the functions whose pattern matches name: patterns in
// registration order, and functions of one pattern in registration order.
// A function registered under several matching patterns appears once per
// pattern.
func (r *Router) Resolve(name any) []Func {
	n, ok := naming.Of(name)
	if !ok {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cache != nil {
		if fns, ok := r.cache.Get(n); ok {
			return slices.Clone(fns)
		}
	}

	var fns []Func
	for _, p := range r.patterns {
		if r.globs[p].Match(n) {
			fns = append(fns, r.funcs[p]...)
		}
	}
	if r.cache != nil {
		r.cache.Add(n, fns)
	}
	return slices.Clone(fns)
}

// Handle runs every matching function in order. A failing or panicking
// function does not stop the ones after it; all errors are joined.
func (r *Router) Handle(ctx context.Context, ev eventscope.Event) error {
	var errs []error
	for _, fn := range r.Resolve(ev.Name) {
		if err := call(ctx, fn, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func call(ctx context.Context, fn Func, ev eventscope.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &eventscope.PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	return fn(ctx, ev)
}

// Compile-time check
var _ eventscope.Handler = (*Router)(nil)

// Default is a process-wide router for applications that need only one.
var Default = New()

// Register adds fn under pattern on the Default router.
func Register(pattern any, fn Func) (Func, error) {
	return Default.Register(pattern, fn)
}

// MustRegister adds fn under pattern on the Default router and panics on error.
func MustRegister(pattern any, fn Func) Func {
	return Default.MustRegister(pattern, fn)
}
