package models

import (
	"math"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Usable reports whether both coordinates are present and numeric.
// NaN/Inf sneak in from bad client payloads and count as "no location".
func (c *Coord) Usable() bool {
	if c == nil {
		return false
	}
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) {
		return false
	}
	if math.IsNaN(c.Lon) || math.IsInf(c.Lon, 0) {
		return false
	}
	return true
}

type BookingStatus string

const (
	BookingScheduled  BookingStatus = "scheduled"
	BookingOnWay      BookingStatus = "on_way"
	BookingInProgress BookingStatus = "in_progress"
	BookingCompleted  BookingStatus = "completed"
	BookingCancelled  BookingStatus = "cancelled"
)

// BookingStatuses lists every valid status; no default/unknown value exists at rest.
var BookingStatuses = []BookingStatus{
	BookingScheduled, BookingOnWay, BookingInProgress, BookingCompleted, BookingCancelled,
}

func (s BookingStatus) Valid() bool {
	for _, v := range BookingStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal statuses accept no further transition.
func (s BookingStatus) Terminal() bool {
	return s == BookingCompleted || s == BookingCancelled
}

// Active statuses keep an assigned driver on trip.
func (s BookingStatus) Active() bool {
	return s == BookingOnWay || s == BookingInProgress
}

type DriverStatus string

const (
	DriverOnline  DriverStatus = "online"
	DriverOnTrip  DriverStatus = "on_trip"
	DriverOffline DriverStatus = "offline"
)

// Unassigned is the sentinel driver name for bookings without a driver.
const Unassigned = "Unassigned"

// Booking is the lifecycle aggregate. The driver is referenced by stable id;
// DriverName is a denormalized cache of the display name kept for rendering.
type Booking struct {
	ID         int64         `json:"id"`
	TenantID   int64         `json:"tenant_id"`
	Status     BookingStatus `json:"status"`
	DriverID   int64         `json:"driver_id"` // 0 = unassigned
	DriverName string        `json:"driver_name"`
	// Amount is a decimal kept in its exact string form; it is never
	// parsed to float on the persistence path.
	Amount     string            `json:"amount"`
	FormData   map[string]string `json:"form_data,omitempty"`
	RowVersion int64             `json:"row_version"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func (b *Booking) Assigned() bool {
	return b.DriverID != 0 && b.DriverName != "" && b.DriverName != Unassigned
}

// EffectiveTime resolves the schedule timestamp: form_data "datetime" when
// present and parseable, else the row's creation time.
func (b *Booking) EffectiveTime() time.Time {
	if raw, ok := b.FormData["datetime"]; ok && raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	return b.CreatedAt
}

// CustomerEmail returns the customer contact from form_data, if any.
func (b *Booking) CustomerEmail() string {
	return b.FormData["email"]
}

type Driver struct {
	ID       int64        `json:"id"`
	TenantID int64        `json:"tenant_id"`
	Name     string       `json:"name"`
	Email    string       `json:"email,omitempty"`
	Status   DriverStatus `json:"status"`
	Loc      *Coord       `json:"loc,omitempty"`
	Updated  time.Time    `json:"updated"`
}

// Notification is the durable record created for configured side effects.
// Immutable after creation except for the read flag.
type Notification struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
