// Package lifecycle owns the write path for booking status: validate the
// transition, persist the row, publish the change event, apply derived
// driver status, and hand the side effects to the dispatcher exactly once.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/feed"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/transition"
)

// EffectDispatcher is the notification side of an accepted transition.
type EffectDispatcher interface {
	Dispatch(ctx context.Context, e transition.Effect) dispatch.Outcome
}

// RejectionError surfaces an invalid transition as a user-facing message,
// not a crash.
type RejectionError struct {
	From   models.BookingStatus
	To     models.BookingStatus
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("transition %s -> %s rejected: %s", e.From, e.To, e.Reason)
}

type Service struct {
	store      storage.EntityStore
	publisher  feed.Publisher
	dispatcher EffectDispatcher
	logger     *slog.Logger
}

func NewService(store storage.EntityStore, publisher feed.Publisher, dispatcher EffectDispatcher, logger *slog.Logger) *Service {
	return &Service{store: store, publisher: publisher, dispatcher: dispatcher, logger: logger}
}

// UpdateResult is the outcome of an accepted status change. Warn carries the
// aggregated notification failures, if any; the status change itself stands.
type UpdateResult struct {
	Booking *models.Booking
	Warn    error
}

// ChangeStatus runs one transition end to end. The dispatcher is invoked
// exactly once, after the store write succeeded; callers must not retry an
// update whose write already landed just because a notification failed.
func (s *Service) ChangeStatus(ctx context.Context, tenantID, bookingID int64, requested models.BookingStatus, role transition.Role) (*UpdateResult, error) {
	b, err := s.store.GetBooking(ctx, tenantID, bookingID)
	if err != nil {
		return nil, err
	}

	tctx := transition.Context{Role: role}
	if b.Assigned() {
		tctx.DriverBookings, err = s.store.ListBookingsByDriver(ctx, tenantID, b.DriverID)
		if err != nil {
			return nil, err
		}
	}

	res := transition.Attempt(b, requested, tctx)
	if !res.Allowed {
		observability.TransitionsRejected.Inc()
		return nil, &RejectionError{From: res.From, To: res.To, Reason: res.Reason}
	}

	prev := b.Status
	b.Status = requested
	if err := s.store.UpdateBooking(ctx, b, b.RowVersion); err != nil {
		return nil, err
	}
	observability.TransitionsAccepted.WithLabelValues(string(prev), string(requested)).Inc()
	s.publishBooking(ctx, feed.OpUpdate, b)

	warn := s.applyEffects(ctx, res.Effects)
	if warn != nil {
		s.logger.Warn("transition notifications incomplete",
			"booking_id", b.ID, "from", prev, "to", requested, "error", warn)
	}
	return &UpdateResult{Booking: b, Warn: warn}, nil
}

// AssignDriver sets or replaces the booking's driver and notifies the new
// driver. Reassignment is unrestricted while the booking is non-terminal.
func (s *Service) AssignDriver(ctx context.Context, tenantID, bookingID, driverID int64, role transition.Role) (*UpdateResult, error) {
	b, err := s.store.GetBooking(ctx, tenantID, bookingID)
	if err != nil {
		return nil, err
	}
	d, err := s.store.GetDriver(ctx, tenantID, driverID)
	if err != nil {
		return nil, err
	}

	res := transition.AssignDriver(b, *d, transition.Context{Role: role})
	if !res.Allowed {
		observability.TransitionsRejected.Inc()
		return nil, &RejectionError{From: res.From, To: res.To, Reason: res.Reason}
	}

	b.DriverID = d.ID
	b.DriverName = d.Name
	if err := s.store.UpdateBooking(ctx, b, b.RowVersion); err != nil {
		return nil, err
	}
	s.publishBooking(ctx, feed.OpUpdate, b)

	warn := s.applyEffects(ctx, res.Effects)
	return &UpdateResult{Booking: b, Warn: warn}, nil
}

// applyEffects persists derived driver-status changes and dispatches every
// notification effect once, collecting send failures into one warning.
func (s *Service) applyEffects(ctx context.Context, effects []transition.Effect) error {
	var warns []error
	for _, e := range effects {
		if e.Kind == transition.EffectSetDriverStatus {
			if err := s.setDriverStatus(ctx, e.TenantID, e.DriverID, e.DriverStatus); err != nil {
				warns = append(warns, fmt.Errorf("driver %d status: %w", e.DriverID, err))
			}
			continue
		}
		if err := s.dispatcher.Dispatch(ctx, e).Warn(); err != nil {
			warns = append(warns, err)
		}
	}
	return errors.Join(warns...)
}

func (s *Service) setDriverStatus(ctx context.Context, tenantID, driverID int64, status models.DriverStatus) error {
	d, err := s.store.GetDriver(ctx, tenantID, driverID)
	if err != nil {
		return err
	}
	if d.Status == status {
		return nil
	}
	d.Status = status
	if err := s.store.UpdateDriver(ctx, d); err != nil {
		return err
	}
	s.publishDriver(ctx, d)
	return nil
}

// SetDriverPresence handles a driver going online or offline from their own
// client. Going offline while on a trip is rejected: the invariant ties
// trip status to the active booking set, not to the driver's toggle.
func (s *Service) SetDriverPresence(ctx context.Context, tenantID, driverID int64, status models.DriverStatus) error {
	if status != models.DriverOnline && status != models.DriverOffline {
		return fmt.Errorf("presence must be online or offline, got %s", status)
	}
	bookings, err := s.store.ListBookingsByDriver(ctx, tenantID, driverID)
	if err != nil {
		return err
	}
	if transition.DeriveDriverStatus(bookings) == models.DriverOnTrip {
		return fmt.Errorf("driver %d has an active booking", driverID)
	}
	return s.setDriverStatus(ctx, tenantID, driverID, status)
}

func (s *Service) publishBooking(ctx context.Context, op feed.Op, b *models.Booking) {
	e := feed.Event{Op: op, Topic: feed.TopicBookings, TenantID: b.TenantID, Key: b.ID, Booking: b}
	if err := s.publisher.Publish(ctx, e); err != nil {
		// observers fall back to refetch-on-reconnect; the write stands
		s.logger.Warn("feed publish failed", "topic", e.Topic, "key", e.Key, "error", err)
		return
	}
	observability.FeedEventsPublished.WithLabelValues(e.Topic).Inc()
}

func (s *Service) publishDriver(ctx context.Context, d *models.Driver) {
	e := feed.Event{Op: feed.OpUpdate, Topic: feed.TopicDrivers, TenantID: d.TenantID, Key: d.ID, Driver: d}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("feed publish failed", "topic", e.Topic, "key", e.Key, "error", err)
		return
	}
	observability.FeedEventsPublished.WithLabelValues(e.Topic).Inc()
}
