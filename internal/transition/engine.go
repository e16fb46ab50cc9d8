// Package transition validates booking and driver status changes and
// computes the side effects an accepted change triggers. It performs no I/O;
// callers persist the result and hand the effects to the dispatcher.
package transition

import (
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleDriver Role = "driver"
)

type EffectKind string

const (
	EffectDriverAssigned   EffectKind = "driver_assigned"
	EffectBookingCancelled EffectKind = "booking_cancelled"
	EffectBookingCompleted EffectKind = "booking_completed"
	EffectSetDriverStatus  EffectKind = "set_driver_status"
)

// Effect carries the minimal data needed to render a notification or apply
// a derived driver-status change. No I/O happens here.
type Effect struct {
	Kind          EffectKind          `json:"kind"`
	BookingID     int64               `json:"booking_id"`
	TenantID      int64               `json:"tenant_id"`
	DriverID      int64               `json:"driver_id,omitempty"`
	DriverName    string              `json:"driver_name,omitempty"`
	CustomerEmail string              `json:"customer_email,omitempty"`
	Amount        string              `json:"amount,omitempty"`
	DriverStatus  models.DriverStatus `json:"driver_status,omitempty"`
	When          time.Time           `json:"when"`
}

// Result is a value, never an error: invalid requests come back rejected
// with the offending pair, and the caller decides how to surface that.
type Result struct {
	Allowed bool
	From    models.BookingStatus
	To      models.BookingStatus
	Reason  string
	Effects []Effect
}

// Context carries what the engine cannot know on its own: who is asking,
// and the full set of bookings currently assigned to the booking's driver.
// Driver status is derived by re-scanning that set, not by counting.
type Context struct {
	Role Role
	// DriverBookings holds every booking assigned to the same driver,
	// including the one being transitioned, as currently persisted.
	DriverBookings []models.Booking
	Now            time.Time
}

const (
	roleDriver = 1 << iota
	roleAdmin
	roleBoth = roleDriver | roleAdmin
)

// bookingTable maps current -> requested -> permitted roles. Absent cells
// are rejected for everyone; terminal states have no row at all.
var bookingTable = map[models.BookingStatus]map[models.BookingStatus]int{
	models.BookingScheduled: {
		models.BookingOnWay:      roleBoth,
		models.BookingInProgress: roleAdmin,
		models.BookingCompleted:  roleAdmin,
		models.BookingCancelled:  roleBoth,
	},
	models.BookingOnWay: {
		models.BookingInProgress: roleBoth,
		models.BookingCompleted:  roleAdmin,
		models.BookingCancelled:  roleBoth,
	},
	models.BookingInProgress: {
		models.BookingCompleted: roleBoth,
		models.BookingCancelled: roleAdmin,
	},
}

func roleBit(r Role) int {
	if r == RoleAdmin {
		return roleAdmin
	}
	return roleDriver
}

// Attempt validates requested against the transition table for the acting
// role and, when allowed, returns the side-effect set for the change.
func Attempt(b *models.Booking, requested models.BookingStatus, ctx Context) Result {
	res := Result{From: b.Status, To: requested}
	if !requested.Valid() {
		res.Reason = "unknown status " + string(requested)
		return res
	}
	if b.Status.Terminal() {
		res.Reason = string(b.Status) + " is terminal"
		return res
	}
	allowed, ok := bookingTable[b.Status][requested]
	if !ok || allowed&roleBit(ctx.Role) == 0 {
		res.Reason = string(b.Status) + " -> " + string(requested) + " not permitted for " + string(ctx.Role)
		return res
	}
	res.Allowed = true
	res.Effects = effectsFor(b, requested, ctx)
	return res
}

func effectsFor(b *models.Booking, to models.BookingStatus, ctx Context) []Effect {
	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}
	base := Effect{
		BookingID:     b.ID,
		TenantID:      b.TenantID,
		DriverID:      b.DriverID,
		DriverName:    b.DriverName,
		CustomerEmail: b.CustomerEmail(),
		Amount:        b.Amount,
		When:          now,
	}

	var out []Effect
	switch to {
	case models.BookingCancelled:
		e := base
		e.Kind = EffectBookingCancelled
		out = append(out, e)
	case models.BookingCompleted:
		e := base
		e.Kind = EffectBookingCompleted
		out = append(out, e)
	}

	if b.Assigned() {
		if ds, changed := derivedDriverStatus(b, to, ctx.DriverBookings); changed {
			e := base
			e.Kind = EffectSetDriverStatus
			e.DriverStatus = ds
			out = append(out, e)
		}
	}
	return out
}

// derivedDriverStatus re-scans the driver's full booking set as it will look
// after this booking moves to the requested status. Recomputing from the set
// instead of a counter keeps the invariant drift-free.
func derivedDriverStatus(b *models.Booking, to models.BookingStatus, all []models.Booking) (models.DriverStatus, bool) {
	if to.Active() {
		return models.DriverOnTrip, true
	}
	for _, other := range all {
		if other.ID == b.ID {
			continue
		}
		if other.DriverID == b.DriverID && other.Status.Active() {
			// another ride keeps the driver on trip
			return models.DriverOnTrip, false
		}
	}
	if b.Status.Active() {
		// leaving the last active ride frees the driver
		return models.DriverOnline, true
	}
	return models.DriverOnline, false
}

// AssignDriver validates a driver (re)assignment. The table places no
// restriction on reassignment while the booking is non-terminal; the result
// carries a DriverAssigned effect addressed to the new driver.
func AssignDriver(b *models.Booking, d models.Driver, ctx Context) Result {
	res := Result{From: b.Status, To: b.Status}
	if ctx.Role != RoleAdmin {
		res.Reason = "driver assignment requires admin"
		return res
	}
	if b.Status.Terminal() {
		res.Reason = string(b.Status) + " is terminal"
		return res
	}
	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}
	res.Allowed = true
	res.Effects = []Effect{{
		Kind:          EffectDriverAssigned,
		BookingID:     b.ID,
		TenantID:      b.TenantID,
		DriverID:      d.ID,
		DriverName:    d.Name,
		CustomerEmail: b.CustomerEmail(),
		Amount:        b.Amount,
		When:          now,
	}}
	return res
}

// DeriveDriverStatus computes the status the invariant demands for a driver
// holding the given bookings: on trip iff at least one is active.
func DeriveDriverStatus(bookings []models.Booking) models.DriverStatus {
	for _, b := range bookings {
		if b.Status.Active() {
			return models.DriverOnTrip
		}
	}
	return models.DriverOnline
}
