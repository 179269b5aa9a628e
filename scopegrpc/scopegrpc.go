// Package scopegrpc opens an event scope around every gRPC call.
//
//	srv := grpc.NewServer(
//	    grpc.ChainUnaryInterceptor(scopegrpc.UnaryServerInterceptor(manager)),
//	    grpc.ChainStreamInterceptor(scopegrpc.StreamServerInterceptor(manager)),
//	)
//
// Events dispatched with the call context are delivered when the method
// returns. For streams that is when the stream ends, not per message.
package scopegrpc

import (
	"context"
	"log/slog"

	"github.com/rbaliyan/eventscope"
	"google.golang.org/grpc"
)

type options struct {
	skip   func(fullMethod string) bool
	logger *slog.Logger
}

// Option configures the interceptors.
type Option func(*options)

// WithSkip excludes methods for which fn returns true, e.g. health checks.
func WithSkip(fn func(fullMethod string) bool) Option {
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

func newOptions(opts []Option) *options {
	o := &options{logger: eventscope.Logger("eventscope>grpc")}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// UnaryServerInterceptor brackets unary calls with manager.Begin and
// manager.End. Delivery failures are logged and never change the response.
func UnaryServerInterceptor(manager *eventscope.Manager, opts ...Option) grpc.UnaryServerInterceptor {
	o := newOptions(opts)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if o.skip != nil && o.skip(info.FullMethod) {
			return handler(ctx, req)
		}
		scoped, end := o.begin(ctx, manager, info.FullMethod)
		defer end()
		return handler(scoped, req)
	}
}

// StreamServerInterceptor brackets streaming calls the same way.
func StreamServerInterceptor(manager *eventscope.Manager, opts ...Option) grpc.StreamServerInterceptor {
	o := newOptions(opts)
	return func(srv any, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if o.skip != nil && o.skip(info.FullMethod) {
			return handler(srv, stream)
		}
		scoped, end := o.begin(stream.Context(), manager, info.FullMethod)
		defer end()
		return handler(srv, &wrappedServerStream{ServerStream: stream, ctx: scoped})
	}
}

// begin opens a scope and returns the function that closes it. When the
// scope cannot be opened the call proceeds with ctx unchanged.
func (o *options) begin(ctx context.Context, manager *eventscope.Manager, method string) (context.Context, func()) {
	scoped, scope, err := manager.Begin(ctx)
	if err != nil {
		o.logger.WarnContext(ctx, "scope not opened", "scope", manager.ID(), "method", method, "error", err)
		return ctx, func() {}
	}
	return scoped, func() {
		if err := manager.End(scoped, scope); err != nil {
			o.logger.ErrorContext(scoped, "scope delivery failed", "scope", manager.ID(), "method", method, "error", err)
		}
	}
}

// wrappedServerStream overrides the context for a gRPC stream.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the scoped stream context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
