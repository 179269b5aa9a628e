package eventscope

import (
	"context"
	"sync"
	"sync/atomic"
)

// State is the lifecycle state of a Scope.
type State int32

const (
	// StateUnopened is the state of a scope that was created but not opened.
	StateUnopened State = iota
	// StateOpen scopes buffer every event dispatched within them.
	StateOpen
	// StateDraining scopes are handing their buffer to the executor.
	// Dispatches made while draining are scheduled, not buffered.
	StateDraining
	// StateClosed scopes have released their buffer.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Scope buffers the events dispatched during one unit of protected work.
//
// A Scope is reachable only through the context returned by Manager.Begin.
// Goroutines started inside the scope may dispatch into it concurrently.
type Scope struct {
	id    string
	state atomic.Int32

	mu     sync.Mutex
	buffer []Event
}

func newScope(id string) *Scope {
	return &Scope{id: id}
}

// ID returns the scope id, which is also the key of its handlers in the registry.
func (s *Scope) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Scope) State() State {
	return State(s.state.Load())
}

// Len returns the number of buffered events.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

func (s *Scope) open() bool {
	return s.state.CompareAndSwap(int32(StateUnopened), int32(StateOpen))
}

// add appends ev if the scope is open.
func (s *Scope) add(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateOpen {
		return false
	}
	s.buffer = append(s.buffer, ev)
	return true
}

// drain moves the scope to StateDraining and hands over the buffer.
// The state change happens under the buffer lock so no add is lost.
func (s *Scope) drain() ([]Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CompareAndSwap(int32(StateOpen), int32(StateDraining)) {
		return nil, false
	}
	events := s.buffer
	s.buffer = nil
	return events, true
}

func (s *Scope) close() {
	s.mu.Lock()
	s.buffer = nil
	s.mu.Unlock()
	s.state.Store(int32(StateClosed))
}

type scopeKey struct{}

type scopeIDKey struct{}

func contextWithScope(ctx context.Context, s *Scope) context.Context {
	ctx = context.WithValue(ctx, scopeKey{}, s)
	return context.WithValue(ctx, scopeIDKey{}, s.id)
}

// ScopeFromContext returns the innermost scope bound to ctx, or nil.
func ScopeFromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// InScope reports whether ctx carries an open scope. Events dispatched with
// such a context are buffered.
func InScope(ctx context.Context) bool {
	s := ScopeFromContext(ctx)
	return s != nil && s.State() == StateOpen
}

// ContextWithScopeID binds a scope id to ctx without opening a scope.
// Background work uses it to reach the handlers of a specific manager;
// dispatches made with the returned context are scheduled immediately.
func ContextWithScopeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, scopeIDKey{}, id)
}

// ScopeID returns the ambient scope id of ctx, set either by Manager.Begin
// or by ContextWithScopeID, whichever is innermost.
func ScopeID(ctx context.Context) string {
	id, _ := ctx.Value(scopeIDKey{}).(string)
	return id
}
