package memory

import (
	"context"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ronoel/b2pix-stacks-sub000/db/iface"
	"github.com/ronoel/b2pix-stacks-sub000/events"
)

// EventStore is an in-memory events.Store.
type EventStore struct {
	mu        sync.Mutex
	events    map[primitive.ObjectID]*events.Event
	consumers map[primitive.ObjectID]*events.Consumer
}

var _ events.Store = (*EventStore)(nil)

// NewEventStore builds an empty store.
func NewEventStore() *EventStore {
	return &EventStore{
		events:    make(map[primitive.ObjectID]*events.Event),
		consumers: make(map[primitive.ObjectID]*events.Consumer),
	}
}

func (s *EventStore) Append(_ context.Context, ev *events.Event, endpoints []string) (primitive.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID.IsZero() {
		ev.ID = primitive.NewObjectID()
	}
	cp := *ev
	s.events[ev.ID] = &cp
	for _, ep := range endpoints {
		c := &events.Consumer{
			ID:       primitive.NewObjectID(),
			EventID:  ev.ID,
			Endpoint: ep,
			Status:   events.ConsumerPending,
			Date:     ev.Date,
		}
		s.consumers[c.ID] = c
	}
	return ev.ID, nil
}

func (s *EventStore) EventByID(_ context.Context, id primitive.ObjectID) (*events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, iface.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *EventStore) FetchPending(_ context.Context, limit int64) ([]*events.Consumer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := nowMillis()
	var out []*events.Consumer
	for _, c := range s.consumers {
		switch c.Status {
		case events.ConsumerPending:
		case events.ConsumerFailed:
			if c.NextRetryAt == 0 || c.NextRetryAt > now {
				continue
			}
		default:
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *EventStore) UpdateConsumer(_ context.Context, c *events.Consumer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consumers[c.ID]; !ok {
		return iface.ErrNotFound
	}
	cp := *c
	s.consumers[c.ID] = &cp
	return nil
}

func (s *EventStore) ResetConsumer(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consumers[id]
	if !ok {
		return iface.ErrNotFound
	}
	c.Status = events.ConsumerPending
	c.Retry = 0
	c.ErrorMessage = ""
	c.NextRetryAt = 0
	c.Date = nowMillis()
	return nil
}

func (s *EventStore) EventsByAggregate(_ context.Context, aggregateType, aggregateID string) ([]*events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*events.Event
	for _, ev := range s.events {
		if ev.AggregateType == aggregateType && ev.AggregateID == aggregateID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *EventStore) ConsumersByEvent(_ context.Context, eventID primitive.ObjectID) ([]*events.Consumer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*events.Consumer
	for _, c := range s.consumers {
		if c.EventID == eventID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *EventStore) Stats(_ context.Context) (*events.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &events.Stats{
		EventsByName:      make(map[string]int64),
		ConsumersByStatus: make(map[string]int64),
	}
	for _, ev := range s.events {
		stats.EventsByName[ev.EventName]++
	}
	for _, c := range s.consumers {
		stats.ConsumersByStatus[string(c.Status)]++
	}
	return stats, nil
}
