// Package feed carries row-level change events from the write path to every
// subscribed observer. Delivery is at-least-once; consumers apply events with
// upsert semantics so duplicates are harmless. Ordering is guaranteed per
// entity id only, never across entities.
package feed

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

const (
	TopicBookings = "bookings"
	TopicDrivers  = "drivers"
)

// Event is one row-level change. Exactly one of Booking/Driver is set,
// matching the topic; for deletes only Key and TenantID are required.
type Event struct {
	Op       Op              `json:"op"`
	Topic    string          `json:"topic"`
	TenantID int64           `json:"tenant_id"`
	Key      int64           `json:"key"`
	Booking  *models.Booking `json:"booking,omitempty"`
	Driver   *models.Driver  `json:"driver,omitempty"`
}

// Filter scopes a subscription. TenantID is mandatory; Key narrows to a
// single entity (the public status page tracks one booking).
type Filter struct {
	TenantID int64
	Key      int64 // 0 = all keys
}

func (f Filter) Match(e Event) bool {
	if f.TenantID != 0 && e.TenantID != f.TenantID {
		return false
	}
	if f.Key != 0 && e.Key != f.Key {
		return false
	}
	return true
}

// Subscription delivers matching events on Events until closed. A closed
// channel means the feed dropped this subscriber (teardown or overflow);
// the owner must resubscribe and refetch to close any gap.
type Subscription struct {
	Events <-chan Event

	cancel func()
	once   sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

type Feed interface {
	Subscribe(topic string, f Filter) (*Subscription, error)
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Bus is both sides of the feed in one value, for wiring code that hands
// the publish half to the write path and the subscribe half to observers.
type Bus interface {
	Feed
	Publisher
}

var ErrUnknownTopic = errors.New("unknown feed topic")

// subscriber buffer; a consumer this far behind is cut off and resubscribes.
const subscriberBuffer = 64

// Broker is the in-process feed: every subscriber observes every matching
// event without coordinating with the others.
type Broker struct {
	mu     sync.Mutex
	nextID int64
	subs   map[string]map[int64]*brokerSub
}

type brokerSub struct {
	filter Filter
	ch     chan Event
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[int64]*brokerSub{
		TopicBookings: {},
		TopicDrivers:  {},
	}}
}

func (b *Broker) Subscribe(topic string, f Filter) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	byID, ok := b.subs[topic]
	if !ok {
		return nil, ErrUnknownTopic
	}
	b.nextID++
	id := b.nextID
	sub := &brokerSub{filter: f, ch: make(chan Event, subscriberBuffer)}
	byID[id] = sub
	return &Subscription{
		Events: sub.ch,
		cancel: func() { b.drop(topic, id) },
	}, nil
}

func (b *Broker) drop(topic string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[topic][id]; ok {
		delete(b.subs[topic], id)
		close(sub.ch)
	}
}

func (b *Broker) Publish(ctx context.Context, e Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	byID, ok := b.subs[e.Topic]
	if !ok {
		return ErrUnknownTopic
	}
	for id, sub := range byID {
		if !sub.filter.Match(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// Overflowing subscriber: cutting it off forces the owning
			// reconciler down its refetch path instead of silently losing
			// an event in the middle of the stream.
			delete(byID, id)
			close(sub.ch)
		}
	}
	return nil
}

func keyString(e Event) string {
	return e.Topic + ":" + strconv.FormatInt(e.Key, 10)
}
