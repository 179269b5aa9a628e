// Package nats publishes events to NATS subjects.
//
// The subject is the configured prefix joined with the event name, so
// subscribers can use NATS wildcards to pick events:
//
//	nc, _ := nats.Connect(nats.DefaultURL)
//	h, _ := eventnats.New(nc, eventnats.WithSubjectPrefix("app.events"))
//	// user_created -> app.events.user_created
//
// Messages carry the event name and content type as headers, plus the
// W3C trace context of the handling span.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rbaliyan/eventscope"
	"github.com/rbaliyan/eventscope/serializer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Header names set on every published message.
const (
	HeaderEventName   = "Eventscope-Event"
	HeaderContentType = "Content-Type"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "eventscope"

// ErrConnRequired is returned when no connection is provided.
var ErrConnRequired = errors.New("nats connection is required")

// Publisher is the part of *nats.Conn the handler uses.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// Flusher is implemented by publishers that buffer writes, like *nats.Conn.
// FlushWithContext must be given a context with a deadline.
type Flusher interface {
	FlushWithContext(ctx context.Context) error
}

// DefaultFlushTimeout bounds a batch flush when the context has no deadline.
const DefaultFlushTimeout = 5 * time.Second

// Handler publishes each event as one NATS message.
type Handler struct {
	conn   Publisher
	codec  serializer.Codec
	prefix string
	logger *slog.Logger

	flusher      Flusher
	flushTimeout time.Duration
}

// Option configures the NATS handler.
type Option func(*Handler)

// WithSubjectPrefix sets the subject prefix.
func WithSubjectPrefix(prefix string) Option {
	return func(h *Handler) {
		if prefix != "" {
			h.prefix = strings.TrimSuffix(prefix, ".")
		}
	}
}

// WithCodec sets the serializer. JSON is the default.
func WithCodec(c serializer.Codec) Option {
	return func(h *Handler) {
		if c != nil {
			h.codec = c
		}
	}
}

// WithFlushTimeout sets how long HandleMany waits for the server to
// acknowledge a flush when the context carries no deadline of its own.
func WithFlushTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.flushTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates a NATS handler. When conn also implements Flusher, as
// *nats.Conn does, HandleMany flushes the connection after publishing a batch.
func New(conn Publisher, opts ...Option) (*Handler, error) {
	if conn == nil {
		return nil, ErrConnRequired
	}
	h := &Handler{
		conn:   conn,
		codec:  serializer.Default(),
		prefix: DefaultSubjectPrefix,
		logger: eventscope.Logger("eventscope>nats"),

		flushTimeout: DefaultFlushTimeout,
	}
	if f, ok := conn.(Flusher); ok {
		h.flusher = f
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Name returns "nats".
func (h *Handler) Name() string {
	return "nats"
}

// Subject returns the subject for an event name.
func (h *Handler) Subject(eventName string) string {
	return h.prefix + "." + eventName
}

// Handle publishes ev.
func (h *Handler) Handle(ctx context.Context, ev eventscope.Event) error {
	msg, err := h.message(ctx, ev)
	if err != nil {
		return err
	}
	if err := h.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	h.logger.Debug("event published", "event", ev.Name, "subject", msg.Subject)
	return nil
}

// HandleMany publishes events in order and flushes once at the end.
// Publishing continues past failures; errors are joined.
func (h *Handler) HandleMany(ctx context.Context, events []eventscope.Event) error {
	var errs []error
	for _, ev := range events {
		if err := h.Handle(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if h.flusher != nil {
		if err := h.flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush: %w", err))
		}
	}
	return errors.Join(errs...)
}

// flush waits for the server to process everything published so far.
// Scope drains run on contexts without a deadline, which nats rejects.
func (h *Handler) flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.flushTimeout)
		defer cancel()
	}
	return h.flusher.FlushWithContext(ctx)
}

func (h *Handler) message(ctx context.Context, ev eventscope.Event) (*nats.Msg, error) {
	data, err := h.codec.Encode(ev)
	if err != nil {
		return nil, err
	}
	msg := nats.NewMsg(h.Subject(ev.Name))
	msg.Data = data
	msg.Header.Set(HeaderEventName, ev.Name)
	msg.Header.Set(HeaderContentType, h.codec.ContentType())
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))
	return msg, nil
}

var _ eventscope.BatchHandler = (*Handler)(nil)
