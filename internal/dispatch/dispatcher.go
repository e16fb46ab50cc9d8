// Package dispatch turns transition side effects into notifications:
// exactly one invocation per accepted transition, independent sends, and a
// durable notification record for each send that is configured to keep one.
// A failed send is a warning on an otherwise successful transition, never a
// rollback.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/transition"
)

// DriverDirectory resolves driver contact details for effects that only
// carry the driver id.
type DriverDirectory interface {
	GetDriver(ctx context.Context, tenantID, id int64) (*models.Driver, error)
}

// Recorder persists durable notification records.
type Recorder interface {
	InsertNotification(ctx context.Context, n *models.Notification) error
}

// PaymentRefs creates an external payment reference for the manual
// payment-mode notice. Capture itself happens elsewhere.
type PaymentRefs interface {
	CreateRef(ctx context.Context, amount, currency string, bookingID int64) (string, error)
}

// SendResult is the outcome of one notification attempt.
type SendResult struct {
	Template  string
	Recipient string
	Err       error
}

// Outcome aggregates the attempts of one dispatch call.
type Outcome struct {
	Results []SendResult
}

// Warn returns the joined errors of failed sends, or nil when every send
// succeeded. The caller logs it; the transition stays successful.
func (o Outcome) Warn() error {
	var errs []error
	for _, r := range o.Results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s to %q: %w", r.Template, r.Recipient, r.Err))
		}
	}
	return errors.Join(errs...)
}

var ErrNoRecipient = errors.New("no recipient on file")

type Dispatcher struct {
	mailer    Mailer
	drivers   DriverDirectory
	recorder  Recorder
	templates *Templates
	payments  PaymentRefs
	logger    *slog.Logger
}

func NewDispatcher(mailer Mailer, drivers DriverDirectory, recorder Recorder, templates *Templates, logger *slog.Logger) *Dispatcher {
	if templates == nil {
		templates = NewTemplates(nil)
	}
	return &Dispatcher{
		mailer:    mailer,
		drivers:   drivers,
		recorder:  recorder,
		templates: templates,
		logger:    logger,
	}
}

// WithPayments enables the payment-mode notice to carry a payment reference.
func (d *Dispatcher) WithPayments(p PaymentRefs) *Dispatcher {
	d.payments = p
	return d
}

// Dispatch maps one effect to its notification sends. It is invoked exactly
// once per accepted transition; callers must not re-run it because a send
// failed (retrying risks duplicates).
func (d *Dispatcher) Dispatch(ctx context.Context, e transition.Effect) Outcome {
	var out Outcome
	switch e.Kind {
	case transition.EffectDriverAssigned:
		out.Results = append(out.Results,
			d.sendToDriver(ctx, e, string(transition.EffectDriverAssigned)))

	case transition.EffectBookingCancelled:
		// two independent sends; neither blocks the other
		if e.DriverID != 0 {
			out.Results = append(out.Results, d.sendToDriver(ctx, e, keyCancelledDriver))
		}
		out.Results = append(out.Results, d.sendToCustomer(ctx, e, keyCancelledCustomer))

	case transition.EffectBookingCompleted:
		out.Results = append(out.Results, d.sendToCustomer(ctx, e, string(transition.EffectBookingCompleted)))

	case transition.EffectSetDriverStatus:
		// derived status change, not a notification; applied by the caller
	}

	for _, r := range out.Results {
		if r.Err != nil {
			observability.NotificationsFailed.Inc()
			d.logger.Warn("notification send failed",
				"template", r.Template, "recipient", r.Recipient, "booking_id", e.BookingID, "error", r.Err)
		} else {
			observability.NotificationsSent.Inc()
		}
	}
	return out
}

func (d *Dispatcher) sendToDriver(ctx context.Context, e transition.Effect, tplKey string) SendResult {
	res := SendResult{Template: tplKey}
	drv, err := d.drivers.GetDriver(ctx, e.TenantID, e.DriverID)
	if err != nil {
		res.Err = fmt.Errorf("driver lookup: %w", err)
		return res
	}
	if drv.Email == "" {
		res.Recipient = drv.Name
		res.Err = ErrNoRecipient
		return res
	}
	res.Recipient = drv.Email
	res.Err = d.deliver(ctx, e.TenantID, tplKey, drv.Email, vars(e))
	return res
}

func (d *Dispatcher) sendToCustomer(ctx context.Context, e transition.Effect, tplKey string) SendResult {
	res := SendResult{Template: tplKey}
	if e.CustomerEmail == "" {
		res.Err = ErrNoRecipient
		return res
	}
	res.Recipient = e.CustomerEmail
	res.Err = d.deliver(ctx, e.TenantID, tplKey, e.CustomerEmail, vars(e))
	return res
}

// deliver records the durable notification row, then attempts the email.
// The record belongs to the tenant's in-app inbox and outlives an email
// delivery failure.
func (d *Dispatcher) deliver(ctx context.Context, tenantID int64, tplKey, recipient string, v map[string]string) error {
	subject, body := d.templates.Resolve(ctx, tenantID, tplKey).Render(v)
	if d.recorder != nil {
		n := &models.Notification{
			TenantID:  tenantID,
			Recipient: recipient,
			Subject:   subject,
			Body:      body,
			CreatedAt: time.Now(),
		}
		if err := d.recorder.InsertNotification(ctx, n); err != nil {
			d.logger.Warn("notification record insert failed", "recipient", recipient, "error", err)
		}
	}
	return d.mailer.Send(ctx, recipient, subject, body)
}

func vars(e transition.Effect) map[string]string {
	return map[string]string{
		"booking_id":  strconv.FormatInt(e.BookingID, 10),
		"driver_name": e.DriverName,
		"amount":      e.Amount,
		"when":        e.When.Format(time.RFC1123),
	}
}

// Reminder is a manual admin action outside the state machine; it follows
// the same dispatch contract as transition-triggered sends.
func (d *Dispatcher) Reminder(ctx context.Context, b *models.Booking) Outcome {
	var out Outcome
	res := SendResult{Template: keyReminder}
	if email := b.CustomerEmail(); email == "" {
		res.Err = ErrNoRecipient
	} else {
		res.Recipient = email
		v := map[string]string{
			"booking_id": strconv.FormatInt(b.ID, 10),
			"when":       b.EffectiveTime().Format(time.RFC1123),
			"amount":     b.Amount,
		}
		res.Err = d.deliver(ctx, b.TenantID, keyReminder, email, v)
	}
	out.Results = append(out.Results, res)
	return out
}

// PaymentNotice is a manual admin action that asks the customer to settle
// the booking amount. When a payments client is configured the notice
// carries an externally created payment reference.
func (d *Dispatcher) PaymentNotice(ctx context.Context, b *models.Booking, currency string) Outcome {
	var out Outcome
	res := SendResult{Template: keyPaymentNotice}
	email := b.CustomerEmail()
	if email == "" {
		res.Err = ErrNoRecipient
		out.Results = append(out.Results, res)
		return out
	}
	ref := ""
	if d.payments != nil {
		var err error
		ref, err = d.payments.CreateRef(ctx, b.Amount, currency, b.ID)
		if err != nil {
			// notice still goes out; the reference is best-effort
			d.logger.Warn("payment ref creation failed", "booking_id", b.ID, "error", err)
		}
	}
	v := map[string]string{
		"booking_id":  strconv.FormatInt(b.ID, 10),
		"amount":      b.Amount,
		"payment_ref": ref,
	}
	res.Recipient = email
	res.Err = d.deliver(ctx, b.TenantID, keyPaymentNotice, email, v)
	out.Results = append(out.Results, res)
	return out
}
