package feed

import (
	"context"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Both feed implementations must be usable where wiring code needs the
// publish and subscribe halves together.
var (
	_ Bus = (*Broker)(nil)
	_ Bus = (*KafkaFeed)(nil)
)

func bookingEvent(tenant, key int64) Event {
	return Event{
		Op:       OpUpdate,
		Topic:    TopicBookings,
		TenantID: tenant,
		Key:      key,
		Booking:  &models.Booking{ID: key, TenantID: tenant, Status: models.BookingScheduled},
	}
}

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	admin, err := b.Subscribe(TopicBookings, Filter{TenantID: 1})
	if err != nil {
		t.Fatal(err)
	}
	tracker, err := b.Subscribe(TopicBookings, Filter{TenantID: 1, Key: 501})
	if err != nil {
		t.Fatal(err)
	}
	other, err := b.Subscribe(TopicBookings, Filter{TenantID: 2})
	if err != nil {
		t.Fatal(err)
	}

	if err := b.Publish(context.Background(), bookingEvent(1, 501)); err != nil {
		t.Fatal(err)
	}
	if e := recv(t, admin.Events); e.Key != 501 {
		t.Fatalf("admin got key %d", e.Key)
	}
	if e := recv(t, tracker.Events); e.Key != 501 {
		t.Fatalf("tracker got key %d", e.Key)
	}
	select {
	case e := <-other.Events:
		t.Fatalf("tenant-2 subscriber must not see tenant-1 event, got %+v", e)
	default:
	}
}

func TestBrokerKeyFilter(t *testing.T) {
	b := NewBroker()
	sub, _ := b.Subscribe(TopicBookings, Filter{TenantID: 1, Key: 501})
	_ = b.Publish(context.Background(), bookingEvent(1, 502))
	_ = b.Publish(context.Background(), bookingEvent(1, 501))
	if e := recv(t, sub.Events); e.Key != 501 {
		t.Fatalf("want only key 501, got %d", e.Key)
	}
}

func TestBrokerCloseStopsDelivery(t *testing.T) {
	b := NewBroker()
	sub, _ := b.Subscribe(TopicBookings, Filter{TenantID: 1})
	sub.Close()
	if _, ok := <-sub.Events; ok {
		t.Fatal("events channel should be closed")
	}
	// publishing after close must not panic
	if err := b.Publish(context.Background(), bookingEvent(1, 1)); err != nil {
		t.Fatal(err)
	}
	sub.Close() // idempotent
}

func TestBrokerOverflowCutsSubscriber(t *testing.T) {
	b := NewBroker()
	sub, _ := b.Subscribe(TopicBookings, Filter{TenantID: 1})
	for i := 0; i < subscriberBuffer+1; i++ {
		_ = b.Publish(context.Background(), bookingEvent(1, int64(i+1)))
	}
	// drain: the channel must be closed after the overflow, never blocked
	n := 0
	for range sub.Events {
		n++
	}
	if n != subscriberBuffer {
		t.Fatalf("expected %d buffered events then close, got %d", subscriberBuffer, n)
	}
}

func TestBrokerUnknownTopic(t *testing.T) {
	b := NewBroker()
	if _, err := b.Subscribe("invoices", Filter{TenantID: 1}); err != ErrUnknownTopic {
		t.Fatalf("want ErrUnknownTopic, got %v", err)
	}
}
