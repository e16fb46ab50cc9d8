package payments

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeClient is a thin wrapper around stripe-go for PaymentIntent
// hold/capture/cancel flows. Booking amounts stay decimal strings on the
// persistence path; converting to cents happens only here, at the API edge.
type StripeClient struct{}

// NewStripeClient initializes the stripe client with the STRIPE_API_KEY env var.
func NewStripeClient() *StripeClient {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &StripeClient{}
}

// CreateRef opens a manual-capture PaymentIntent for a booking amount and
// returns its ID as the payment reference embedded in the customer notice.
func (s *StripeClient) CreateRef(ctx context.Context, amount, currency string, bookingID int64) (string, error) {
	cents, err := amountToCents(amount)
	if err != nil {
		return "", fmt.Errorf("booking %d: %w", bookingID, err)
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(cents),
		Currency: stripe.String(currency),
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	params.AddMetadata("booking_id", strconv.FormatInt(bookingID, 10))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Capture(paymentIntentID, nil)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}

// amountToCents converts a decimal string like "125.50" to integer cents
// without going through a float.
func amountToCents(amount string) (int64, error) {
	whole, frac, _ := strings.Cut(strings.TrimSpace(amount), ".")
	if whole == "" {
		whole = "0"
	}
	switch len(frac) {
	case 0:
		frac = "00"
	case 1:
		frac += "0"
	case 2:
	default:
		return 0, fmt.Errorf("amount %q has more than two decimal places", amount)
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad amount %q", amount)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad amount %q", amount)
	}
	if w < 0 {
		return w*100 - f, nil
	}
	return w*100 + f, nil
}
