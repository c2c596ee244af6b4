package db

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
	"github.com/ronoel/b2pix-stacks-sub000/events"
)

// EventStore is the Mongo-backed two-collection event log.
type EventStore struct {
	events    *mongo.Collection
	consumers *mongo.Collection
}

var _ events.Store = (*EventStore)(nil)

// Append inserts the event, then one Pending consumer row per endpoint.
func (s *EventStore) Append(ctx context.Context, ev *events.Event, endpoints []string) (primitive.ObjectID, error) {
	res, err := s.events.InsertOne(ctx, ev)
	if err != nil {
		return primitive.NilObjectID, errors.Wrap(err, "could not insert event")
	}
	eventID := res.InsertedID.(primitive.ObjectID)
	ev.ID = eventID
	if len(endpoints) == 0 {
		return eventID, nil
	}
	rows := make([]interface{}, 0, len(endpoints))
	for _, ep := range endpoints {
		rows = append(rows, &events.Consumer{
			EventID:  eventID,
			Endpoint: ep,
			Status:   events.ConsumerPending,
			Date:     ev.Date,
		})
	}
	if _, err := s.consumers.InsertMany(ctx, rows); err != nil {
		return primitive.NilObjectID, errors.Wrap(err, "could not insert consumer rows")
	}
	return eventID, nil
}

// EventByID loads a single event.
func (s *EventStore) EventByID(ctx context.Context, id primitive.ObjectID) (*events.Event, error) {
	var ev events.Event
	err := s.events.FindOne(ctx, bson.M{"_id": id}).Decode(&ev)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, iface.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// FetchPending returns dispatchable consumers ordered by date ascending:
// Pending rows plus Failed rows whose retry window has matured. A Failed row
// without a window has exhausted its retries and stays put until reset.
func (s *EventStore) FetchPending(ctx context.Context, limit int64) ([]*events.Consumer, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"status": events.ConsumerPending},
		bson.M{
			"status":        events.ConsumerFailed,
			"next_retry_at": bson.M{"$gt": 0, "$lte": nowMillis()},
		},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}}).SetLimit(limit)
	cur, err := s.consumers.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var out []*events.Consumer
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateConsumer replaces the consumer row by id.
func (s *EventStore) UpdateConsumer(ctx context.Context, c *events.Consumer) error {
	_, err := s.consumers.ReplaceOne(ctx, bson.M{"_id": c.ID}, c)
	return err
}

// ResetConsumer forces a consumer back to Pending with a zeroed retry
// counter, clearing its error and retry window.
func (s *EventStore) ResetConsumer(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.consumers.UpdateByID(ctx, id, bson.M{
		"$set": bson.M{
			"status": events.ConsumerPending,
			"retry":  0,
			"date":   nowMillis(),
		},
		"$unset": bson.M{
			"error_message": "",
			"next_retry_at": "",
		},
	})
	return err
}

// EventsByAggregate returns the aggregate's events in issue order.
func (s *EventStore) EventsByAggregate(ctx context.Context, aggregateType, aggregateID string) ([]*events.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}})
	cur, err := s.events.Find(ctx, bson.M{
		"aggregate_type": aggregateType,
		"aggregate_id":   aggregateID,
	}, opts)
	if err != nil {
		return nil, err
	}
	var out []*events.Event
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ConsumersByEvent returns all consumer rows for an event.
func (s *EventStore) ConsumersByEvent(ctx context.Context, eventID primitive.ObjectID) ([]*events.Consumer, error) {
	cur, err := s.consumers.Find(ctx, bson.M{"event_id": eventID})
	if err != nil {
		return nil, err
	}
	var out []*events.Consumer
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats aggregates counts by event name and by consumer status.
func (s *EventStore) Stats(ctx context.Context) (*events.Stats, error) {
	stats := &events.Stats{
		EventsByName:      make(map[string]int64),
		ConsumersByStatus: make(map[string]int64),
	}
	group := func(c *mongo.Collection, field string, into map[string]int64) error {
		cur, err := c.Aggregate(ctx, mongo.Pipeline{
			{{Key: "$group", Value: bson.M{"_id": "$" + field, "count": bson.M{"$sum": 1}}}},
		})
		if err != nil {
			return err
		}
		var rows []struct {
			ID    string `bson:"_id"`
			Count int64  `bson:"count"`
		}
		if err := cur.All(ctx, &rows); err != nil {
			return err
		}
		for _, r := range rows {
			into[r.ID] = r.Count
		}
		return nil
	}
	if err := group(s.events, "event_name", stats.EventsByName); err != nil {
		return nil, errors.Wrap(err, "could not aggregate events")
	}
	if err := group(s.consumers, "status", stats.ConsumersByStatus); err != nil {
		return nil, errors.Wrap(err, "could not aggregate consumers")
	}
	return stats, nil
}
