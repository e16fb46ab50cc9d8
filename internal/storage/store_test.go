package storage

import (
	"context"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestMemoryStoreAssignsBookingIDs(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	first := &models.Booking{TenantID: 1, Status: models.BookingScheduled}
	second := &models.Booking{TenantID: 1, Status: models.BookingScheduled}
	if err := m.InsertBooking(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := m.InsertBooking(ctx, second); err != nil {
		t.Fatal(err)
	}
	if first.ID == 0 || second.ID == 0 {
		t.Fatalf("insert left a zero id: first=%d second=%d", first.ID, second.ID)
	}
	if first.ID == second.ID {
		t.Fatalf("ids collide: %d", first.ID)
	}

	list, err := m.ListBookings(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("rows after two inserts = %d, want 2", len(list))
	}
}

func TestMemoryStoreAssignsDriverIDs(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	a := &models.Driver{TenantID: 1, Name: "Rivera", Status: models.DriverOnline}
	b := &models.Driver{TenantID: 1, Name: "Okafor", Status: models.DriverOnline}
	if err := m.InsertDriver(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := m.InsertDriver(ctx, b); err != nil {
		t.Fatal(err)
	}
	if a.ID == 0 || b.ID == 0 || a.ID == b.ID {
		t.Fatalf("bad ids: a=%d b=%d", a.ID, b.ID)
	}
}

func TestMemoryStoreExplicitIDDoesNotCollide(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	fixed := &models.Booking{ID: 501, TenantID: 1, Status: models.BookingScheduled}
	if err := m.InsertBooking(ctx, fixed); err != nil {
		t.Fatal(err)
	}
	auto := &models.Booking{TenantID: 1, Status: models.BookingScheduled}
	if err := m.InsertBooking(ctx, auto); err != nil {
		t.Fatal(err)
	}
	if auto.ID <= 501 {
		t.Fatalf("auto id %d collides with or precedes explicit id 501", auto.ID)
	}
}
