package geo

import (
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// Throttle bounds location write volume to one per driver per interval.
// Pushes arriving inside the window are coalesced: only the latest position
// survives, to be flushed when the window reopens. The window resets after
// each successful write. Entries are keyed per tenant so a coalesced
// position flushes back into the tenant it arrived from.
type Throttle struct {
	interval time.Duration

	mu      sync.Mutex
	entries map[throttleKey]*throttleEntry
}

type throttleKey struct {
	tenantID int64
	driverID int64
}

type throttleEntry struct {
	lastWrite time.Time
	pending   *models.Coord
}

func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval, entries: make(map[throttleKey]*throttleEntry)}
}

// Offer presents a new position. The returned coord is non-nil when the
// caller should write it now; nil means the position was coalesced into the
// pending slot for the next flush.
func (t *Throttle) Offer(tenantID, driverID int64, c models.Coord, now time.Time) *models.Coord {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := throttleKey{tenantID: tenantID, driverID: driverID}
	e, ok := t.entries[k]
	if !ok {
		e = &throttleEntry{}
		t.entries[k] = e
	}
	if now.Sub(e.lastWrite) >= t.interval {
		e.lastWrite = now
		e.pending = nil
		out := c
		return &out
	}
	cp := c
	e.pending = &cp
	observability.LocationsThrottled.Inc()
	return nil
}

// Pending is one coalesced position due for writing.
type Pending struct {
	TenantID int64
	DriverID int64
	Loc      models.Coord
}

// FlushDue drains every pending position whose window has reopened,
// marking them written.
func (t *Throttle) FlushDue(now time.Time) []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Pending
	for k, e := range t.entries {
		if e.pending == nil || now.Sub(e.lastWrite) < t.interval {
			continue
		}
		out = append(out, Pending{TenantID: k.tenantID, DriverID: k.driverID, Loc: *e.pending})
		e.lastWrite = now
		e.pending = nil
	}
	return out
}

// Forget drops a driver's throttle state (driver went offline).
func (t *Throttle) Forget(tenantID, driverID int64) {
	t.mu.Lock()
	delete(t.entries, throttleKey{tenantID: tenantID, driverID: driverID})
	t.mu.Unlock()
}
