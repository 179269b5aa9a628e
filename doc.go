// Package eventscope provides an in-process event bus that buffers events
// raised during a scope (one request, one RPC, one job) and delivers them to
// the scope's handlers when the scope ends.
//
// Architecture:
//   - Manager owns a set of handlers and registers them in a Registry under its id
//   - Manager.Begin binds a Scope to a context; Manager.End drains it
//   - Dispatcher buffers events dispatched with a scoped context and schedules
//     detached fan-out for everything else
//   - Executor invokes all handlers concurrently and aggregates failures
//   - handler/local routes events to functions by glob pattern
//
// Basic example:
//
//	router := local.New()
//	router.MustRegister("user_*", func(ctx context.Context, ev eventscope.Event) error {
//	    slog.Info("user event", "name", ev.Name, "payload", ev.Payload)
//	    return nil
//	})
//
//	manager, err := eventscope.NewManager([]eventscope.Handler{router, echo.New(nil)})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer manager.Close()
//
//	http.Handle("/", scopehttp.Middleware(manager)(mux))
//
//	// Anywhere below the middleware
//	func createUser(w http.ResponseWriter, r *http.Request) {
//	    // ...
//	    eventscope.Dispatch(r.Context(), "user_created", eventscope.WithPayload(map[string]any{"id": id}))
//	}
//
// Typed models carry their own name:
//
//	type UserCreated struct {
//	    ID string `json:"id"`
//	}
//
//	func (UserCreated) EventName() string { return "user_created" }
//
//	eventscope.Dispatch(ctx, UserCreated{ID: id})
//
// Background work reaches a manager's handlers by id:
//
//	ctx = eventscope.ContextWithScopeID(ctx, manager.ID())
//	eventscope.Dispatch(ctx, "report_ready")
//
// Environment:
//   - EVENTSCOPE_DISABLE_DISPATCH: kill switch for the default dispatcher
//   - EVENTSCOPE_USE_SPAN_LINKING: link (default) or parent handler spans to
//     the trace context carried in payloads
//   - see Config for the full list
//
// Delivery is in-process only. Buffered events are lost if the process
// exits before the scope ends.
package eventscope
