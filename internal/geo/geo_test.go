package geo

import (
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestIndexNearbySkipsOfflineAndUnlocated(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(models.Driver{ID: 1, Status: models.DriverOnline, Loc: &models.Coord{Lat: 0, Lon: 0}})
	idx.Upsert(models.Driver{ID: 2, Status: models.DriverOffline, Loc: &models.Coord{Lat: 0, Lon: 0}})
	idx.Upsert(models.Driver{ID: 3, Status: models.DriverOnline})

	got := idx.Nearby(0, 0, 10)
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("want only driver 1, got %+v", got)
	}
}

func TestThrottleFirstWritePassesThenCoalesces(t *testing.T) {
	th := NewThrottle(5 * time.Second)
	t0 := time.Unix(1000, 0)

	if c := th.Offer(1, 1, models.Coord{Lat: 1, Lon: 1}, t0); c == nil {
		t.Fatal("first push must write immediately")
	}
	if c := th.Offer(1, 1, models.Coord{Lat: 2, Lon: 2}, t0.Add(time.Second)); c != nil {
		t.Fatal("push inside the window must be coalesced")
	}
	if c := th.Offer(1, 1, models.Coord{Lat: 3, Lon: 3}, t0.Add(2*time.Second)); c != nil {
		t.Fatal("later push inside the window must be coalesced")
	}

	// only the latest pending survives, flushed once the window reopens
	due := th.FlushDue(t0.Add(6 * time.Second))
	if len(due) != 1 || due[0].Loc.Lat != 3 {
		t.Fatalf("want latest coalesced position, got %+v", due)
	}
	if due := th.FlushDue(t0.Add(7 * time.Second)); len(due) != 0 {
		t.Fatalf("flush must clear pending, got %+v", due)
	}
}

func TestThrottleResetsAfterWrite(t *testing.T) {
	th := NewThrottle(5 * time.Second)
	t0 := time.Unix(1000, 0)

	th.Offer(1, 1, models.Coord{Lat: 1, Lon: 1}, t0)
	if c := th.Offer(1, 1, models.Coord{Lat: 2, Lon: 2}, t0.Add(5*time.Second)); c == nil {
		t.Fatal("window elapsed: push must write")
	}
	// the write reset the window
	if c := th.Offer(1, 1, models.Coord{Lat: 3, Lon: 3}, t0.Add(6*time.Second)); c != nil {
		t.Fatal("window reset after write; push must be coalesced")
	}
}

func TestThrottlePerDriver(t *testing.T) {
	th := NewThrottle(5 * time.Second)
	t0 := time.Unix(1000, 0)

	th.Offer(1, 1, models.Coord{Lat: 1, Lon: 1}, t0)
	if c := th.Offer(1, 2, models.Coord{Lat: 9, Lon: 9}, t0); c == nil {
		t.Fatal("throttle is per driver; a different driver writes immediately")
	}
}

func TestThrottleFlushCarriesTenant(t *testing.T) {
	th := NewThrottle(5 * time.Second)
	t0 := time.Unix(1000, 0)

	th.Offer(7, 1, models.Coord{Lat: 1, Lon: 1}, t0)
	th.Offer(7, 1, models.Coord{Lat: 2, Lon: 2}, t0.Add(time.Second))
	due := th.FlushDue(t0.Add(6 * time.Second))
	if len(due) != 1 || due[0].TenantID != 7 || due[0].DriverID != 1 {
		t.Fatalf("flush must keep the tenant the push arrived under, got %+v", due)
	}

	// same driver id under another tenant is an independent window
	if c := th.Offer(8, 1, models.Coord{Lat: 9, Lon: 9}, t0.Add(time.Second)); c == nil {
		t.Fatal("throttle windows are per tenant and driver")
	}
}

func TestThrottleForget(t *testing.T) {
	th := NewThrottle(5 * time.Second)
	t0 := time.Unix(1000, 0)
	th.Offer(1, 1, models.Coord{Lat: 1, Lon: 1}, t0)
	th.Offer(1, 1, models.Coord{Lat: 2, Lon: 2}, t0.Add(time.Second))
	th.Forget(1, 1)
	if due := th.FlushDue(t0.Add(10 * time.Second)); len(due) != 0 {
		t.Fatalf("forgotten driver must have no pending writes, got %+v", due)
	}
}
