// Package mongo archives events in a MongoDB collection.
//
// Each event is stored as one document:
//
//	{
//	    "_id": string (generated id),
//	    "event_name": string,
//	    "payload": any,
//	    "scope_id": string (optional),
//	    "recorded_at": ISODate
//	}
//
// Suggested indexes:
//
//	db.events.createIndex({ "event_name": 1, "recorded_at": 1 })
//	db.events.createIndex({ "scope_id": 1 }, { sparse: true })
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbaliyan/eventscope"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrCollectionRequired is returned when no collection is provided.
var ErrCollectionRequired = errors.New("mongo collection is required")

// Collection is the subset of *mongo.Collection the handler writes with.
type Collection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
}

// Document is the stored form of an event.
type Document struct {
	ID         string    `bson:"_id"`
	EventName  string    `bson:"event_name"`
	Payload    any       `bson:"payload,omitempty"`
	ScopeID    string    `bson:"scope_id,omitempty"`
	RecordedAt time.Time `bson:"recorded_at"`
}

// Handler inserts events into a collection.
type Handler struct {
	coll   Collection
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Mongo handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithClock overrides the time source for RecordedAt.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// New creates a Mongo handler writing to coll.
func New(coll Collection, opts ...Option) (*Handler, error) {
	if coll == nil {
		return nil, ErrCollectionRequired
	}
	h := &Handler{
		coll:   coll,
		logger: eventscope.Logger("eventscope>mongo"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Name returns "mongo".
func (h *Handler) Name() string {
	return "mongo"
}

// Handle inserts one document.
func (h *Handler) Handle(ctx context.Context, ev eventscope.Event) error {
	if _, err := h.coll.InsertOne(ctx, h.document(ctx, ev)); err != nil {
		return fmt.Errorf("insert %s: %w", ev.Name, err)
	}
	return nil
}

// HandleMany inserts all events with one unordered InsertMany, so one bad
// document does not prevent the others from being written.
func (h *Handler) HandleMany(ctx context.Context, events []eventscope.Event) error {
	if len(events) == 0 {
		return nil
	}
	docs := make([]interface{}, len(events))
	for i, ev := range events {
		docs[i] = h.document(ctx, ev)
	}
	res, err := h.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("insert %d events: %w", len(events), err)
	}
	h.logger.Debug("events archived", "count", len(res.InsertedIDs))
	return nil
}

func (h *Handler) document(ctx context.Context, ev eventscope.Event) *Document {
	return &Document{
		ID:         eventscope.NewID(),
		EventName:  ev.Name,
		Payload:    ev.Payload,
		ScopeID:    eventscope.ScopeID(ctx),
		RecordedAt: h.now().UTC(),
	}
}

var _ eventscope.BatchHandler = (*Handler)(nil)
