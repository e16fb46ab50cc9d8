package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/feed"
	"github.com/example/ride-dispatch/internal/models"
)

func upd(id int64, status models.BookingStatus) feed.Event {
	return feed.Event{
		Op:       feed.OpUpdate,
		Topic:    feed.TopicBookings,
		TenantID: 1,
		Key:      id,
		Booking:  &models.Booking{ID: id, TenantID: 1, Status: status},
	}
}

func TestFetchThenEvents(t *testing.T) {
	r := NewBookings()
	if r.State() != StateIdle {
		t.Fatalf("want idle, got %s", r.State())
	}
	gen := r.BeginFetch()
	if r.State() != StateFetching {
		t.Fatalf("want fetching, got %s", r.State())
	}
	if !r.CompleteFetch(gen, []models.Booking{{ID: 1, TenantID: 1, Status: models.BookingScheduled}}) {
		t.Fatal("current-generation fetch must land")
	}
	if r.State() != StateSynced || r.Len() != 1 {
		t.Fatalf("want synced with 1 item, got %s len=%d", r.State(), r.Len())
	}

	r.Apply(upd(1, models.BookingOnWay))
	if b, _ := r.Get(1); b.Status != models.BookingOnWay {
		t.Fatalf("event must overwrite snapshot row, got %s", b.Status)
	}
	r.Apply(feed.Event{Op: feed.OpDelete, Topic: feed.TopicBookings, TenantID: 1, Key: 1})
	if _, ok := r.Get(1); ok {
		t.Fatal("delete must remove the key")
	}
}

func TestApplyIdempotent(t *testing.T) {
	r := NewBookings()
	e := upd(5, models.BookingInProgress)
	r.Apply(e)
	once := r.Items()
	r.Apply(e)
	twice := r.Items()
	if len(once) != 1 || len(twice) != 1 {
		t.Fatalf("duplicate delivery changed the projection size: %+v vs %+v", once, twice)
	}
	if once[0].ID != twice[0].ID || once[0].Status != twice[0].Status || once[0].RowVersion != twice[0].RowVersion {
		t.Fatalf("duplicate delivery changed the row: %+v vs %+v", once[0], twice[0])
	}
}

func TestLateFetchDiscardedAfterTeardown(t *testing.T) {
	r := NewBookings()
	gen := r.BeginFetch()
	r.Teardown()
	if r.CompleteFetch(gen, []models.Booking{{ID: 9, TenantID: 1, Status: models.BookingScheduled}}) {
		t.Fatal("fetch resolving after teardown must be discarded")
	}
	if r.Len() != 0 {
		t.Fatalf("stale snapshot leaked into projection, len=%d", r.Len())
	}
}

func TestLateFetchDiscardedAfterNewerFetch(t *testing.T) {
	r := NewBookings()
	stale := r.BeginFetch()
	fresh := r.BeginFetch()
	if !r.CompleteFetch(fresh, []models.Booking{{ID: 2, TenantID: 1, Status: models.BookingOnWay}}) {
		t.Fatal("fresh fetch must land")
	}
	if r.CompleteFetch(stale, []models.Booking{{ID: 2, TenantID: 1, Status: models.BookingScheduled}}) {
		t.Fatal("superseded fetch must be discarded")
	}
	if b, _ := r.Get(2); b.Status != models.BookingOnWay {
		t.Fatalf("stale snapshot overwrote newer state: %s", b.Status)
	}
}

func TestOptimisticEditConvergesViaEcho(t *testing.T) {
	r := NewBookings()
	gen := r.BeginFetch()
	r.CompleteFetch(gen, []models.Booking{{ID: 7, TenantID: 1, Status: models.BookingScheduled}})

	// quick dropdown edit applied locally, then the echoed event arrives
	r.ApplyLocal(models.Booking{ID: 7, TenantID: 1, Status: models.BookingOnWay})
	if b, _ := r.Get(7); b.Status != models.BookingOnWay {
		t.Fatalf("optimistic edit not visible, got %s", b.Status)
	}
	r.Apply(upd(7, models.BookingOnWay))
	if b, _ := r.Get(7); b.Status != models.BookingOnWay {
		t.Fatalf("echoed event must confirm edit, got %s", b.Status)
	}
}

func TestRunResubscribesAfterFeedDrop(t *testing.T) {
	broker := feed.NewBroker()
	store := storeOf(
		models.Booking{ID: 1, TenantID: 1, Status: models.BookingScheduled},
	)
	r := NewBookings()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, broker, feed.TopicBookings, feed.Filter{TenantID: 1}, store.fetch)
	}()

	waitFor(t, func() bool { return r.State() == StateSynced && r.Len() == 1 })

	// overflow the subscriber so the broker cuts it off, then change the
	// store; the refetch after resubscribe must pick up the new row
	store.add(models.Booking{ID: 2, TenantID: 1, Status: models.BookingOnWay})
	for i := 0; i < 100; i++ {
		_ = broker.Publish(context.Background(), upd(1, models.BookingOnWay))
	}
	waitFor(t, func() bool { return r.Len() == 2 })

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
	if r.State() != StateIdle {
		t.Fatalf("teardown must return to idle, got %s", r.State())
	}
}

func TestRunFanOutIndependentProjections(t *testing.T) {
	broker := feed.NewBroker()
	store := storeOf(models.Booking{ID: 501, TenantID: 1, Status: models.BookingScheduled})

	admin := NewBookings()
	tracker := NewBookings()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go admin.Run(ctx, broker, feed.TopicBookings, feed.Filter{TenantID: 1}, store.fetch)
	go tracker.Run(ctx, broker, feed.TopicBookings, feed.Filter{TenantID: 1, Key: 501}, store.fetch)

	waitFor(t, func() bool { return admin.State() == StateSynced && tracker.State() == StateSynced })

	_ = broker.Publish(context.Background(), upd(501, models.BookingCancelled))
	waitFor(t, func() bool {
		a, _ := admin.Get(501)
		b, _ := tracker.Get(501)
		return a.Status == models.BookingCancelled && b.Status == models.BookingCancelled
	})
}

type fakeStore struct {
	mu       chan struct{}
	bookings []models.Booking
}

func storeOf(bookings ...models.Booking) *fakeStore {
	s := &fakeStore{mu: make(chan struct{}, 1), bookings: bookings}
	s.mu <- struct{}{}
	return s
}

func (s *fakeStore) add(b models.Booking) {
	<-s.mu
	s.bookings = append(s.bookings, b)
	s.mu <- struct{}{}
}

func (s *fakeStore) fetch(ctx context.Context) ([]models.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	<-s.mu
	out := append([]models.Booking(nil), s.bookings...)
	s.mu <- struct{}{}
	return out, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
