package eventscope

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"syreclabs.com/go/faker"
)

func TestNewManager(t *testing.T) {
	t.Run("registers handlers under its id", func(t *testing.T) {
		r := NewRegistry()
		rec := NewRecordingHandler(nil)
		m, err := NewManager([]Handler{rec}, WithRegistry(r), WithManagerMetrics(false))
		if err != nil {
			t.Fatalf("new manager: %v", err)
		}
		handlers, err := r.Lookup(m.ID())
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if len(handlers) != 1 || handlers[0] != Handler(rec) {
			t.Errorf("unexpected handlers %v", handlers)
		}
		own := m.Handlers()
		if len(own) != 1 || own[0] != Handler(rec) {
			t.Errorf("unexpected manager handlers %v", own)
		}
		own[0] = nil
		if m.Handlers()[0] == nil {
			t.Error("expected Handlers to return a copy")
		}
	})

	t.Run("explicit id", func(t *testing.T) {
		r := NewRegistry()
		m, err := NewManager(nil, WithRegistry(r), WithManagerID("api"))
		if err != nil {
			t.Fatalf("new manager: %v", err)
		}
		if m.ID() != "api" {
			t.Errorf("expected id api, got %s", m.ID())
		}
		if _, err := NewManager(nil, WithRegistry(r), WithManagerID("api")); !errors.Is(err, ErrScopeExists) {
			t.Errorf("expected ErrScopeExists, got %v", err)
		}
	})

	t.Run("rejects nil handlers", func(t *testing.T) {
		_, err := NewManager([]Handler{nil}, WithRegistry(NewRegistry()))
		if !errors.Is(err, ErrInvalidHandler) {
			t.Errorf("expected ErrInvalidHandler, got %v", err)
		}
	})

	t.Run("close deregisters once", func(t *testing.T) {
		r := NewRegistry()
		m := TestManager(r)
		if err := m.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		if err := m.Close(); err != nil {
			t.Fatalf("second close: %v", err)
		}
		if _, err := r.Lookup(m.ID()); !errors.Is(err, ErrScopeNotFound) {
			t.Errorf("expected ErrScopeNotFound, got %v", err)
		}
		if _, _, err := m.Begin(context.Background()); !errors.Is(err, ErrManagerClosed) {
			t.Errorf("expected ErrManagerClosed, got %v", err)
		}
	})
}

func TestManagerLifecycle(t *testing.T) {
	t.Run("state transitions", func(t *testing.T) {
		r := NewRegistry()
		var seen State
		m := TestManager(r, HandlerFunc(func(ctx context.Context, ev Event) error {
			seen = ScopeFromContext(ctx).State()
			return nil
		}))
		defer m.Close()

		ctx, s, err := m.Begin(context.Background())
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if s.State() != StateOpen || !InScope(ctx) {
			t.Fatalf("expected open scope, got %s", s.State())
		}
		if ScopeID(ctx) != m.ID() {
			t.Errorf("expected scope id %s, got %s", m.ID(), ScopeID(ctx))
		}
		if err := TestDispatcher(r).Dispatch(ctx, "tick"); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if err := m.End(ctx, s); err != nil {
			t.Fatalf("end: %v", err)
		}
		if seen != StateDraining {
			t.Errorf("expected handlers to run while draining, got %s", seen)
		}
		if s.State() != StateClosed || InScope(ctx) {
			t.Errorf("expected closed scope, got %s", s.State())
		}
		if err := m.End(ctx, s); !errors.Is(err, ErrScopeNotOpen) {
			t.Errorf("expected ErrScopeNotOpen on second end, got %v", err)
		}
	})

	t.Run("delivers buffered events in order exactly once", func(t *testing.T) {
		r := NewRegistry()
		rec := NewRecordingHandler(nil)
		batch := NewBatchRecorder()
		m := TestManager(r, rec, batch)
		defer m.Close()
		d := TestDispatcher(r)

		var want []Event
		err := m.Run(context.Background(), func(ctx context.Context) error {
			for i := 0; i < 10; i++ {
				ev := Event{Name: fmt.Sprintf("step_%d", i), Payload: map[string]any{"n": i}}
				want = append(want, ev)
				if err := d.Dispatch(ctx, ev.Name, WithPayload(ev.Payload)); err != nil {
					return err
				}
			}
			if rec.Count() != 0 {
				t.Errorf("handlers ran before the scope ended")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("run: %v", err)
		}

		if diff := cmp.Diff([][]Event{want}, batch.Batches()); diff != "" {
			t.Errorf("batch mismatch (-want +got):\n%s", diff)
		}
		got := rec.Events()
		if len(got) != len(want) {
			t.Fatalf("expected %d events, got %d", len(want), len(got))
		}
		seen := make(map[string]int)
		for _, ev := range got {
			seen[ev.Name]++
		}
		for _, ev := range want {
			if seen[ev.Name] != 1 {
				t.Errorf("event %s delivered %d times", ev.Name, seen[ev.Name])
			}
		}
	})

	t.Run("handlers see the caller's context values", func(t *testing.T) {
		type tenantKey struct{}
		r := NewRegistry()
		rec := NewRecordingHandler(nil)
		m := TestManager(r, rec)
		defer m.Close()
		d := TestDispatcher(r)

		ctx := context.WithValue(context.Background(), tenantKey{}, "acme")
		dispatchOne := func(ctx context.Context) error { return d.Dispatch(ctx, "invoice_sent") }
		if err := m.Run(ctx, dispatchOne); err != nil {
			t.Fatalf("run: %v", err)
		}
		received := rec.Received()
		if len(received) != 1 {
			t.Fatalf("expected 1 event, got %d", len(received))
		}
		if got := received[0].Context.Value(tenantKey{}); got != "acme" {
			t.Errorf("expected tenant acme in handler context, got %v", got)
		}
		if received[0].Time.IsZero() {
			t.Error("expected receive time to be set")
		}

		rec.Reset()
		if rec.Count() != 0 {
			t.Fatalf("expected empty recorder after reset, got %d", rec.Count())
		}
		if err := m.Run(ctx, dispatchOne); err != nil {
			t.Fatalf("second run: %v", err)
		}
		if rec.Count() != 1 {
			t.Errorf("expected 1 event after reset, got %d", rec.Count())
		}
	})

	t.Run("delivers after inner failure", func(t *testing.T) {
		r := NewRegistry()
		rec := NewRecordingHandler(nil)
		m := TestManager(r, rec)
		defer m.Close()
		d := TestDispatcher(r)
		boom := errors.New("request failed")

		err := m.Run(context.Background(), func(ctx context.Context) error {
			if err := d.Dispatch(ctx, "audit"); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected inner error, got %v", err)
		}
		if rec.Count() != 1 {
			t.Errorf("expected 1 event, got %d", rec.Count())
		}
	})

	t.Run("delivers after panic and re-panics", func(t *testing.T) {
		r := NewRegistry()
		rec := NewRecordingHandler(nil)
		m := TestManager(r, rec)
		defer m.Close()
		d := TestDispatcher(r)

		func() {
			defer func() {
				if recover() == nil {
					t.Error("expected panic to propagate")
				}
			}()
			_ = m.Run(context.Background(), func(ctx context.Context) error {
				_ = d.Dispatch(ctx, "before_crash")
				panic("crash")
			})
		}()

		if rec.Count() != 1 {
			t.Errorf("expected 1 event, got %d", rec.Count())
		}
	})

	t.Run("handler failures are reported and returned", func(t *testing.T) {
		r := NewRegistry()
		failing := NewFailingHandler(nil)
		failing.FailAll(errors.New("downstream unavailable"))
		rec := NewRecordingHandler(nil)

		var reported error
		m, err := NewManager([]Handler{failing, rec},
			WithRegistry(r),
			WithManagerMetrics(false),
			WithScopeErrorHandler(func(ctx context.Context, scopeID string, err error) {
				reported = err
			}))
		if err != nil {
			t.Fatalf("new manager: %v", err)
		}
		defer m.Close()
		d := TestDispatcher(r)

		err = m.Run(context.Background(), func(ctx context.Context) error {
			_ = d.Dispatch(ctx, "a")
			_ = d.Dispatch(ctx, "b")
			return nil
		})
		if len(Failures(err)) != 2 {
			t.Fatalf("expected 2 failures, got %v", err)
		}
		if reported == nil {
			t.Error("expected scope error handler to be called")
		}
		if rec.Count() != 2 {
			t.Errorf("expected sibling handler to receive 2 events, got %d", rec.Count())
		}
	})

	t.Run("nested scope with the same id is rejected", func(t *testing.T) {
		r := NewRegistry()
		m := TestManager(r)
		defer m.Close()

		err := m.Run(context.Background(), func(ctx context.Context) error {
			return m.Run(ctx, func(context.Context) error { return nil })
		})
		if !errors.Is(err, ErrScopeActive) {
			t.Errorf("expected ErrScopeActive, got %v", err)
		}
	})

	t.Run("nested scopes of different managers stay isolated", func(t *testing.T) {
		r := NewRegistry()
		outerRec := NewRecordingHandler(nil)
		innerRec := NewRecordingHandler(nil)
		outer := TestManager(r, outerRec)
		inner := TestManager(r, innerRec)
		defer outer.Close()
		defer inner.Close()
		d := TestDispatcher(r)

		err := outer.Run(context.Background(), func(ctx context.Context) error {
			_ = d.Dispatch(ctx, "outer_1")
			if err := inner.Run(ctx, func(ctx context.Context) error {
				return d.Dispatch(ctx, "inner")
			}); err != nil {
				return err
			}
			return d.Dispatch(ctx, "outer_2")
		})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if diff := cmp.Diff([]Event{{Name: "inner"}}, innerRec.Events()); diff != "" {
			t.Errorf("inner events mismatch (-want +got):\n%s", diff)
		}
		if outerRec.Count() != 2 {
			t.Errorf("expected 2 outer events, got %d", outerRec.Count())
		}
	})

	t.Run("dispatch from a handler is scheduled", func(t *testing.T) {
		r := NewRegistry()
		d := TestDispatcher(r)
		rec := NewRecordingHandler(nil)
		m := TestManager(r, rec, HandlerFunc(func(ctx context.Context, ev Event) error {
			if ev.Name == "first" {
				return d.Dispatch(ctx, "follow_up")
			}
			return nil
		}))
		defer m.Close()

		if err := m.Run(context.Background(), func(ctx context.Context) error {
			return d.Dispatch(ctx, "first")
		}); err != nil {
			t.Fatalf("run: %v", err)
		}
		if err := d.Wait(context.Background()); err != nil {
			t.Fatalf("wait: %v", err)
		}
		if !rec.WaitFor(2, time.Second) {
			t.Fatalf("expected follow-up delivery, got %d events", rec.Count())
		}
	})

	t.Run("drain ignores caller cancellation", func(t *testing.T) {
		r := NewRegistry()
		var ctxErr error
		m := TestManager(r, HandlerFunc(func(ctx context.Context, ev Event) error {
			ctxErr = ctx.Err()
			return nil
		}))
		defer m.Close()
		d := TestDispatcher(r)

		ctx, cancel := context.WithCancel(context.Background())
		scoped, s, err := m.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		_ = d.Dispatch(scoped, "cancelled_request")
		cancel()
		if err := m.End(scoped, s); err != nil {
			t.Fatalf("end: %v", err)
		}
		if ctxErr != nil {
			t.Errorf("expected live handler context, got %v", ctxErr)
		}
	})

	t.Run("drain timeout reaches handlers", func(t *testing.T) {
		r := NewRegistry()
		m, err := NewManager([]Handler{HandlerFunc(func(ctx context.Context, ev Event) error {
			<-ctx.Done()
			return ctx.Err()
		})}, WithRegistry(r), WithManagerMetrics(false), WithDrainTimeout(20*time.Millisecond),
			WithScopeErrorHandler(func(context.Context, string, error) {}))
		if err != nil {
			t.Fatalf("new manager: %v", err)
		}
		defer m.Close()

		err = m.Run(context.Background(), func(ctx context.Context) error {
			return TestDispatcher(r).Dispatch(ctx, "stuck")
		})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})
}

func TestConcurrentScopesAreIsolated(t *testing.T) {
	r := NewRegistry()
	var (
		mu      sync.Mutex
		batches = make(map[string][]Event)
	)
	collector := &scopeCollector{fn: func(ctx context.Context, events []Event) {
		mu.Lock()
		defer mu.Unlock()
		owner := events[0].Payload.(map[string]any)["owner"].(string)
		batches[owner] = append(batches[owner], events...)
	}}
	m := TestManager(r, collector)
	defer m.Close()
	d := TestDispatcher(r)

	const workers = 8
	perWorker := faker.RandomInt(3, 12)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			owner := fmt.Sprintf("worker_%d", w)
			_ = m.Run(context.Background(), func(ctx context.Context) error {
				for i := 0; i < perWorker; i++ {
					if err := d.Dispatch(ctx, "work", WithPayload(map[string]any{"owner": owner, "i": i})); err != nil {
						return err
					}
				}
				return nil
			})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != workers {
		t.Fatalf("expected %d scopes, got %d", workers, len(batches))
	}
	for owner, events := range batches {
		if len(events) != perWorker {
			t.Errorf("%s: expected %d events, got %d", owner, perWorker, len(events))
		}
		for i, ev := range events {
			p := ev.Payload.(map[string]any)
			if p["owner"] != owner || p["i"] != i {
				t.Errorf("%s: unexpected event %d: %v", owner, i, p)
			}
		}
	}
}

type scopeCollector struct {
	fn func(ctx context.Context, events []Event)
}

func (c *scopeCollector) Handle(ctx context.Context, ev Event) error {
	return c.HandleMany(ctx, []Event{ev})
}

func (c *scopeCollector) HandleMany(ctx context.Context, events []Event) error {
	c.fn(ctx, events)
	return nil
}
