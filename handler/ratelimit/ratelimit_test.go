package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rbaliyan/eventscope"
	"golang.org/x/time/rate"
)

func TestHandle(t *testing.T) {
	t.Run("waits for tokens", func(t *testing.T) {
		rec := eventscope.NewRecordingHandler(nil)
		h := New(rec, WithLimit(1000, 1))

		for range 3 {
			if err := h.Handle(context.Background(), eventscope.Event{Name: "a"}); err != nil {
				t.Fatalf("Handle: %v", err)
			}
		}
		if rec.Count() != 3 {
			t.Errorf("expected 3 events, got %d", rec.Count())
		}
	})

	t.Run("drop mode", func(t *testing.T) {
		rec := eventscope.NewRecordingHandler(nil)
		h := New(rec, WithLimit(0.001, 1), WithDrop())

		if err := h.Handle(context.Background(), eventscope.Event{Name: "a"}); err != nil {
			t.Fatalf("first Handle: %v", err)
		}
		err := h.Handle(context.Background(), eventscope.Event{Name: "b"})
		if !errors.Is(err, ErrRateLimited) {
			t.Errorf("expected ErrRateLimited, got %v", err)
		}
		if rec.Count() != 1 {
			t.Errorf("expected 1 delivered event, got %d", rec.Count())
		}
	})

	t.Run("cancelled wait", func(t *testing.T) {
		rec := eventscope.NewRecordingHandler(nil)
		h := New(rec, WithLimit(0.001, 1))
		h.Handle(context.Background(), eventscope.Event{Name: "a"})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if err := h.Handle(ctx, eventscope.Event{Name: "b"}); err == nil {
			t.Error("expected wait to fail")
		}
		if rec.Count() != 1 {
			t.Errorf("expected 1 delivered event, got %d", rec.Count())
		}
	})
}

func TestHandleMany(t *testing.T) {
	events := []eventscope.Event{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}, {Name: "e"}}

	t.Run("batch downstream is chunked by burst", func(t *testing.T) {
		rec := eventscope.NewBatchRecorder()
		h := New(rec, WithLimit(10000, 2))

		if err := h.HandleMany(context.Background(), events); err != nil {
			t.Fatalf("HandleMany: %v", err)
		}
		batches := rec.Batches()
		if len(batches) != 3 {
			t.Fatalf("expected 3 batches, got %d", len(batches))
		}
		if len(batches[0]) != 2 || len(batches[2]) != 1 {
			t.Errorf("unexpected batch sizes %d, %d", len(batches[0]), len(batches[2]))
		}
	})

	t.Run("single downstream", func(t *testing.T) {
		rec := eventscope.NewRecordingHandler(nil)
		h := New(rec, WithLimit(10000, 5))

		if err := h.HandleMany(context.Background(), events); err != nil {
			t.Fatalf("HandleMany: %v", err)
		}
		if rec.Count() != 5 {
			t.Errorf("expected 5 events, got %d", rec.Count())
		}
	})

	t.Run("drop stops the batch", func(t *testing.T) {
		rec := eventscope.NewBatchRecorder()
		h := New(rec, WithLimit(0.001, 2), WithDrop())

		err := h.HandleMany(context.Background(), events)
		if !errors.Is(err, ErrRateLimited) {
			t.Errorf("expected ErrRateLimited, got %v", err)
		}
		if rec.Count() != 2 {
			t.Errorf("expected 2 delivered events, got %d", rec.Count())
		}
	})
}

func TestSharedLimiter(t *testing.T) {
	limiter := rate.NewLimiter(0.001, 1)
	a := New(eventscope.NewRecordingHandler(nil), WithLimiter(limiter), WithDrop())
	b := New(eventscope.NewRecordingHandler(nil), WithLimiter(limiter), WithDrop())

	if err := a.Handle(context.Background(), eventscope.Event{Name: "a"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := b.Handle(context.Background(), eventscope.Event{Name: "b"}); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected the shared bucket to be empty, got %v", err)
	}
}

func TestName(t *testing.T) {
	h := New(eventscope.NewBatchRecorder())
	if h.Name() != "ratelimit(*eventscope.BatchRecorder)" {
		t.Errorf("unexpected name %s", h.Name())
	}
}
