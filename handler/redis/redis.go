// Package redis forwards events to Redis Streams.
//
// Each event becomes one XADD entry holding the event name, the codec's
// content type and the encoded envelope:
//
//	rdb := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	h, err := redis.New(rdb, redis.WithStreamPrefix("events"))
//
// With a stream prefix every event name gets its own stream
// ("events:user_created"); otherwise all events share one stream.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rbaliyan/eventscope"
	"github.com/rbaliyan/eventscope/serializer"
	"github.com/redis/go-redis/v9"
)

// ErrClientRequired is returned when no Redis client is provided.
var ErrClientRequired = errors.New("redis client is required")

// DefaultStream is the stream used when neither WithStream nor
// WithStreamPrefix is set.
const DefaultStream = "eventscope"

// Client is the subset of the go-redis client the handler needs.
// *redis.Client, *redis.ClusterClient and *redis.Ring satisfy it.
type Client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Handler appends events to Redis Streams.
type Handler struct {
	client Client
	codec  serializer.Codec
	logger *slog.Logger

	stream string
	prefix string
	maxLen int64
}

// Option configures the Redis handler.
type Option func(*Handler)

// WithStream sends every event to a single stream.
func WithStream(name string) Option {
	return func(h *Handler) {
		if name != "" {
			h.stream = name
			h.prefix = ""
		}
	}
}

// WithStreamPrefix sends each event to its own stream, prefix:name.
func WithStreamPrefix(prefix string) Option {
	return func(h *Handler) {
		if prefix != "" {
			h.prefix = prefix
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

// WithMaxLen caps stream length with approximate MAXLEN trimming.
func WithMaxLen(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxLen = n
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

// New creates a Redis Streams handler.
func New(client Client, opts ...Option) (*Handler, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	h := &Handler{
		client: client,
		codec:  serializer.Default(),
		logger: eventscope.Logger("eventscope>redis"),
		stream: DefaultStream,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Name returns "redis".
func (h *Handler) Name() string {
	return "redis"
}

// Stream returns the stream an event with the given name is written to.
func (h *Handler) Stream(eventName string) string {
	if h.prefix != "" {
		return h.prefix + ":" + eventName
	}
	return h.stream
}

// Handle encodes ev and appends it to its stream.
func (h *Handler) Handle(ctx context.Context, ev eventscope.Event) error {
	data, err := h.codec.Encode(ev)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: h.Stream(ev.Name),
		Values: map[string]interface{}{
			"event":        ev.Name,
			"content_type": h.codec.ContentType(),
			"data":         data,
		},
	}
	if h.maxLen > 0 {
		args.MaxLen = h.maxLen
		args.Approx = true
	}

	id, err := h.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", args.Stream, err)
	}
	h.logger.Debug("event forwarded", "event", ev.Name, "stream", args.Stream, "id", id)
	return nil
}

var _ eventscope.Handler = (*Handler)(nil)
