// Package kafka produces events to Kafka topics with a sarama SyncProducer.
//
//	producer, _ := sarama.NewSyncProducer(brokers, cfg)
//	h, _ := kafka.New(producer, kafka.WithTopic("events"))
//
// Messages are keyed by event name so events of one name keep their order
// within a partition. Scope flushes go through HandleMany, which sends the
// batch with SendMessages in chunks of at most MaxBatchSize messages.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/rbaliyan/eventscope"
	"github.com/rbaliyan/eventscope/batch"
	"github.com/rbaliyan/eventscope/serializer"
	"go.opentelemetry.io/otel"
)

// Header keys set on every produced message.
const (
	HeaderEventName   = "eventscope-event"
	HeaderContentType = "content-type"
)

const (
	// DefaultTopic receives events when no topic option is set.
	DefaultTopic        = "eventscope"
	// DefaultMaxBatchSize bounds a single SendMessages call.
	DefaultMaxBatchSize = 1000
)

// ErrProducerRequired is returned when no producer is provided.
var ErrProducerRequired = errors.New("kafka producer is required")

// Handler produces events to Kafka.
type Handler struct {
	producer     sarama.SyncProducer
	codec        serializer.Codec
	topic        func(eventName string) string
	maxBatchSize int
	logger       *slog.Logger
}

// Option configures the Kafka handler.
type Option func(*Handler)

// WithTopic sends every event to one topic.
func WithTopic(topic string) Option {
	return func(h *Handler) {
		if topic != "" {
			h.topic = func(string) string { return topic }
		}
	}
}

// WithTopicFunc derives the topic from the event name.
func WithTopicFunc(fn func(eventName string) string) Option {
	return func(h *Handler) {
		if fn != nil {
			h.topic = fn
		}
	}
}

// WithMaxBatchSize caps the number of messages per SendMessages call.
func WithMaxBatchSize(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBatchSize = n
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

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates a Kafka handler. The producer must be configured with
// Producer.Return.Successes = true, as sarama requires for sync producers.
func New(producer sarama.SyncProducer, opts ...Option) (*Handler, error) {
	if producer == nil {
		return nil, ErrProducerRequired
	}
	h := &Handler{
		producer:     producer,
		codec:        serializer.Default(),
		topic:        func(string) string { return DefaultTopic },
		maxBatchSize: DefaultMaxBatchSize,
		logger:       eventscope.Logger("eventscope>kafka"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Name returns "kafka".
func (h *Handler) Name() string {
	return "kafka"
}

// Handle produces a single event.
func (h *Handler) Handle(ctx context.Context, ev eventscope.Event) error {
	msg, err := h.message(ctx, ev)
	if err != nil {
		return err
	}
	partition, offset, err := h.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send %s: %w", msg.Topic, err)
	}
	h.logger.Debug("event produced", "event", ev.Name, "topic", msg.Topic,
		"partition", partition, "offset", offset)
	return nil
}

// HandleMany produces events in chunks. Events that fail to encode are
// reported and skipped; the rest are still sent.
func (h *Handler) HandleMany(ctx context.Context, events []eventscope.Event) error {
	var errs []error
	msgs := make([]*sarama.ProducerMessage, 0, len(events))
	for _, ev := range events {
		msg, err := h.message(ctx, ev)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ev.Name, err))
			continue
		}
		msgs = append(msgs, msg)
	}

	for _, chunk := range batch.Chunk(msgs, h.maxBatchSize) {
		if err := h.producer.SendMessages(chunk); err != nil {
			errs = append(errs, err)
			continue
		}
		h.logger.Debug("events produced", "count", len(chunk))
	}
	return errors.Join(errs...)
}

func (h *Handler) message(ctx context.Context, ev eventscope.Event) (*sarama.ProducerMessage, error) {
	data, err := h.codec.Encode(ev)
	if err != nil {
		return nil, err
	}
	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderEventName), Value: []byte(ev.Name)},
		{Key: []byte(HeaderContentType), Value: []byte(h.codec.ContentType())},
	}
	carrier := &headerCarrier{headers: &headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	return &sarama.ProducerMessage{
		Topic:   h.topic(ev.Name),
		Key:     sarama.StringEncoder(ev.Name),
		Value:   sarama.ByteEncoder(data),
		Headers: headers,
	}, nil
}

// headerCarrier adapts sarama record headers to propagation.TextMapCarrier.
type headerCarrier struct {
	headers *[]sarama.RecordHeader
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if string(h.Key) == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, string(h.Key))
	}
	return keys
}

var _ eventscope.BatchHandler = (*Handler)(nil)
