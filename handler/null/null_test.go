package null

import (
	"context"
	"testing"

	"github.com/rbaliyan/eventscope"
)

func TestDiscards(t *testing.T) {
	registry := eventscope.NewRegistry()
	manager := eventscope.TestManager(registry, Handler{})
	defer manager.Close()
	dispatcher := eventscope.TestDispatcher(registry)

	err := manager.Run(context.Background(), func(ctx context.Context) error {
		return dispatcher.Dispatch(ctx, "anything", eventscope.WithPayload(map[string]any{"k": "v"}))
	})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if eventscope.HandlerName(Handler{}) != "null" {
		t.Error("expected null")
	}
}
