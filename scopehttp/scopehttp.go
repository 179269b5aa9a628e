// Package scopehttp opens an event scope around every HTTP request.
//
//	manager, _ := eventscope.NewManager(handlers)
//	mux := http.NewServeMux()
//	http.ListenAndServe(":8080", scopehttp.Middleware(manager)(mux))
//
// Events dispatched with the request context are buffered and delivered
// once the handler returns, including when it panics.
package scopehttp

import (
	"log/slog"
	"net/http"

	"github.com/rbaliyan/eventscope"
)

type options struct {
	skip   func(*http.Request) bool
	logger *slog.Logger
}

// Option configures the middleware.
type Option func(*options)

// WithSkip excludes requests for which fn returns true, e.g. health checks.
func WithSkip(fn func(*http.Request) bool) Option {
	return func(o *options) {
		o.skip = fn
	}
}

// WithLogger sets the logger used for scope errors.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Middleware returns middleware that brackets each request with
// manager.Begin and manager.End. Delivery runs after the response has been
// written by next; failures are logged and reported to the manager's error
// handler but never change the response.
func Middleware(manager *eventscope.Manager, opts ...Option) func(http.Handler) http.Handler {
	o := &options{logger: eventscope.Logger("eventscope>http")}
	for _, opt := range opts {
		opt(o)
	}
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.NotFoundHandler()
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if o.skip != nil && o.skip(r) {
				next.ServeHTTP(w, r)
				return
			}
			ctx, scope, err := manager.Begin(r.Context())
			if err != nil {
				o.logger.WarnContext(r.Context(), "scope not opened", "scope", manager.ID(), "error", err)
				next.ServeHTTP(w, r)
				return
			}
			defer func() {
				if err := manager.End(ctx, scope); err != nil {
					o.logger.ErrorContext(ctx, "scope delivery failed",
						"scope", manager.ID(), "method", r.Method, "path", r.URL.Path, "error", err)
				}
			}()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
