package events

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Publisher appends domain events, fanning out one Pending consumer per
// handler currently claiming the event name. An event whose name no handler
// claims is still recorded, with no consumers.
type Publisher struct {
	store    Store
	registry *Registry
}

// NewPublisher wires a publisher over the store and the handler registry.
func NewPublisher(store Store, registry *Registry) *Publisher {
	return &Publisher{store: store, registry: registry}
}

// Publish appends the event. Origin is a free-form "component::method"
// source trace; aggregateType/aggregateID allow later replay.
func (p *Publisher) Publish(ctx context.Context, name, origin, aggregateType, aggregateID string, data map[string]interface{}) (primitive.ObjectID, error) {
	ev := NewEvent(name, origin, aggregateType, aggregateID, data)
	ev.CorrelationID = uuid.NewString()
	id, err := p.store.Append(ctx, ev, p.registry.Endpoints(name))
	if err != nil {
		return primitive.NilObjectID, errors.Wrapf(err, "could not append event %s", name)
	}
	eventsPublished.Inc()
	return id, nil
}
