// Package events implements the durable event log: an append-only store of
// events fanned out to per-handler consumer rows, a boot-time handler
// registry, and a polling dispatcher with bounded concurrency and retry.
package events

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ConsumerStatus enumerates delivery states of one (event, handler) pair.
type ConsumerStatus string

const (
	ConsumerPending ConsumerStatus = "PENDING"
	ConsumerSuccess ConsumerStatus = "SUCCESS"
	ConsumerFailed  ConsumerStatus = "FAILED"
	ConsumerSkipped ConsumerStatus = "SKIPPED"
)

// Event is immutable after insert. Date is a millisecond epoch set at
// insert time.
type Event struct {
	ID            primitive.ObjectID     `bson:"_id,omitempty"`
	EventName     string                 `bson:"event_name"`
	EventOrigin   string                 `bson:"event_origin"`
	AggregateType string                 `bson:"aggregate_type,omitempty"`
	AggregateID   string                 `bson:"aggregate_id,omitempty"`
	Data          map[string]interface{} `bson:"event_data"`
	Date          int64                  `bson:"date"`
	CorrelationID string                 `bson:"correlation_id,omitempty"`
	CausationID   string                 `bson:"causation_id,omitempty"`
	Metadata      map[string]interface{} `bson:"metadata,omitempty"`
}

// Consumer is one delivery row. Failed rows re-enter dispatch once
// NextRetryAt matures, up to the dispatcher's retry limit.
type Consumer struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	EventID         primitive.ObjectID `bson:"event_id"`
	Endpoint        string             `bson:"endpoint"`
	Status          ConsumerStatus     `bson:"status"`
	Retry           int64              `bson:"retry"`
	ErrorMessage    string             `bson:"error_message,omitempty"`
	ExecutionTimeMS int64              `bson:"execution_time_ms,omitempty"`
	NextRetryAt     int64              `bson:"next_retry_at,omitempty"`
	Date            int64              `bson:"date"`
}

// Stats summarizes the log for the operator surface.
type Stats struct {
	EventsByName      map[string]int64 `bson:"events_by_name" json:"events_by_name"`
	ConsumersByStatus map[string]int64 `bson:"consumers_by_status" json:"consumers_by_status"`
}

// Store is the durable two-collection log. Implemented over Mongo by the db
// package and in memory for tests.
type Store interface {
	// Append inserts the event with its Date stamped, then one Pending
	// consumer row per endpoint.
	Append(ctx context.Context, ev *Event, endpoints []string) (primitive.ObjectID, error)
	EventByID(ctx context.Context, id primitive.ObjectID) (*Event, error)
	// FetchPending returns consumers that are Pending, or Failed with a
	// matured retry window, ordered by date ascending. Failed rows without
	// a window have exhausted their retries and are excluded.
	FetchPending(ctx context.Context, limit int64) ([]*Consumer, error)
	UpdateConsumer(ctx context.Context, c *Consumer) error
	// ResetConsumer forces a consumer back to Pending with a zeroed retry
	// counter and cleared error and retry window.
	ResetConsumer(ctx context.Context, id primitive.ObjectID) error
	EventsByAggregate(ctx context.Context, aggregateType, aggregateID string) ([]*Event, error)
	ConsumersByEvent(ctx context.Context, eventID primitive.ObjectID) ([]*Consumer, error)
	Stats(ctx context.Context) (*Stats, error)
}

// NewEvent stamps an event for insertion.
func NewEvent(name, origin, aggregateType, aggregateID string, data map[string]interface{}) *Event {
	return &Event{
		EventName:     name,
		EventOrigin:   origin,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          data,
		Date:          time.Now().UTC().UnixMilli(),
	}
}
