package markers

import (
	"math"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

type op struct {
	kind string // create, move, tag, remove
	key  int64
}

// fakeRenderer records every operation and hands out distinct handles.
type fakeRenderer struct {
	ops    []op
	nextID int
	keys   map[Handle]int64
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{keys: make(map[Handle]int64)}
}

func (f *fakeRenderer) Create(key int64, pos models.Coord, tag string) Handle {
	f.nextID++
	h := f.nextID
	f.keys[h] = key
	f.ops = append(f.ops, op{"create", key})
	return h
}

func (f *fakeRenderer) Move(h Handle, pos models.Coord) {
	f.ops = append(f.ops, op{"move", f.keys[h]})
}

func (f *fakeRenderer) SetTag(h Handle, tag string) {
	f.ops = append(f.ops, op{"tag", f.keys[h]})
}

func (f *fakeRenderer) Remove(h Handle) {
	f.ops = append(f.ops, op{"remove", f.keys[h]})
}

func (f *fakeRenderer) count(kind string, key int64) int {
	n := 0
	for _, o := range f.ops {
		if o.kind == kind && o.key == key {
			n++
		}
	}
	return n
}

func driver(id int64, status models.DriverStatus, loc *models.Coord) models.Driver {
	return models.Driver{ID: id, TenantID: 1, Status: status, Loc: loc}
}

func TestCreateOncePerPersistentKey(t *testing.T) {
	f := newFakeRenderer()
	s := NewDrivers(f)

	for i := 0; i < 5; i++ {
		s.Update([]models.Driver{
			driver(1, models.DriverOnline, &models.Coord{Lat: float64(i), Lon: float64(i)}),
		})
	}
	if got := f.count("create", 1); got != 1 {
		t.Fatalf("persistent id must be created exactly once, got %d", got)
	}
	if got := f.count("move", 1); got != 4 {
		t.Fatalf("expected 4 moves for 4 position changes, got %d", got)
	}
	if got := f.count("tag", 1); got != 0 {
		t.Fatalf("status never changed, no tag updates expected, got %d", got)
	}
}

func TestHandleIdentityStableAcrossMoves(t *testing.T) {
	f := newFakeRenderer()
	s := NewDrivers(f)

	s.Update([]models.Driver{driver(1, models.DriverOnline, &models.Coord{Lat: 1, Lon: 1})})
	s.Update([]models.Driver{driver(1, models.DriverOnline, &models.Coord{Lat: 2, Lon: 2})})
	if len(f.keys) != 1 {
		t.Fatalf("position-only updates must not mint new handles, got %d", len(f.keys))
	}
}

func TestTagUpdatedOnlyOnStatusChange(t *testing.T) {
	f := newFakeRenderer()
	s := NewDrivers(f)
	loc := &models.Coord{Lat: 1, Lon: 1}

	s.Update([]models.Driver{driver(1, models.DriverOnline, loc)})
	s.Update([]models.Driver{driver(1, models.DriverOnTrip, loc)})
	s.Update([]models.Driver{driver(1, models.DriverOnTrip, loc)})
	if got := f.count("tag", 1); got != 1 {
		t.Fatalf("tag must update exactly once, got %d", got)
	}
}

func TestRemovedWhenLocationLost(t *testing.T) {
	f := newFakeRenderer()
	s := NewDrivers(f)

	s.Update([]models.Driver{driver(1, models.DriverOnline, &models.Coord{Lat: 1, Lon: 1})})
	s.Update([]models.Driver{driver(1, models.DriverOnline, nil)})
	if got := f.count("remove", 1); got != 1 {
		t.Fatalf("driver without location must be removed, got %d removes", got)
	}
	if s.Len() != 0 {
		t.Fatalf("nothing should remain rendered, len=%d", s.Len())
	}
	// coming back online with a location is a fresh create
	s.Update([]models.Driver{driver(1, models.DriverOnline, &models.Coord{Lat: 2, Lon: 2})})
	if got := f.count("create", 1); got != 2 {
		t.Fatalf("expected re-create after removal, got %d creates", got)
	}
}

func TestMalformedCoordinatesTreatedAsNoLocation(t *testing.T) {
	f := newFakeRenderer()
	s := NewDrivers(f)

	s.Update([]models.Driver{driver(1, models.DriverOnline, &models.Coord{Lat: 1, Lon: 1})})
	s.Update([]models.Driver{driver(1, models.DriverOnline, &models.Coord{Lat: math.NaN(), Lon: 1})})
	if s.Len() != 0 {
		t.Fatal("NaN coordinate must count as no location")
	}
	s.Update([]models.Driver{driver(2, models.DriverOnline, &models.Coord{Lat: math.Inf(1), Lon: 0})})
	if got := f.count("create", 2); got != 0 {
		t.Fatalf("Inf coordinate must never render, got %d creates", got)
	}
}

func TestCleanupPassRemovesUnvisited(t *testing.T) {
	f := newFakeRenderer()
	s := NewDrivers(f)

	s.Update([]models.Driver{
		driver(1, models.DriverOnline, &models.Coord{Lat: 1, Lon: 1}),
		driver(2, models.DriverOnline, &models.Coord{Lat: 2, Lon: 2}),
	})
	// driver 2 disappears from the snapshot entirely
	s.Update([]models.Driver{driver(1, models.DriverOnline, &models.Coord{Lat: 1, Lon: 1})})
	if got := f.count("remove", 2); got != 1 {
		t.Fatalf("unvisited id must be removed, got %d", got)
	}
	if s.Len() != 1 {
		t.Fatalf("one marker should remain, len=%d", s.Len())
	}
}

func TestReset(t *testing.T) {
	f := newFakeRenderer()
	s := NewDrivers(f)
	s.Update([]models.Driver{
		driver(1, models.DriverOnline, &models.Coord{Lat: 1, Lon: 1}),
		driver(2, models.DriverOnTrip, &models.Coord{Lat: 2, Lon: 2}),
	})
	s.Reset()
	if s.Len() != 0 || f.count("remove", 1) != 1 || f.count("remove", 2) != 1 {
		t.Fatal("reset must remove every rendered marker")
	}
}
