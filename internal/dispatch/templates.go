package dispatch

import (
	"context"
	"strings"
	"sync"

	"github.com/example/ride-dispatch/internal/transition"
)

// Template is a subject/body pair with {{key}} placeholders.
type Template struct {
	Subject string
	Body    string
}

// Render substitutes placeholders with a flat key -> string replace.
// Unmatched placeholders degrade to an empty string, never an error.
func (t Template) Render(vars map[string]string) (subject, body string) {
	return renderString(t.Subject, vars), renderString(t.Body, vars)
}

func renderString(s string, vars map[string]string) string {
	var b strings.Builder
	for {
		i := strings.Index(s, "{{")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.Index(s[i:], "}}")
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		key := strings.TrimSpace(s[i+2 : i+j])
		b.WriteString(vars[key]) // missing key -> ""
		s = s[i+j+2:]
	}
}

// Built-in defaults used when a tenant has not customized a template.
var defaultTemplates = map[string]Template{
	string(transition.EffectDriverAssigned): {
		Subject: "New booking assigned",
		Body:    "<p>Hi {{driver_name}}, booking #{{booking_id}} has been assigned to you for {{when}}.</p>",
	},
	keyCancelledDriver: {
		Subject: "Booking cancelled",
		Body:    "<p>Hi {{driver_name}}, booking #{{booking_id}} has been cancelled.</p>",
	},
	keyCancelledCustomer: {
		Subject: "Your booking was cancelled",
		Body:    "<p>Your booking #{{booking_id}} has been cancelled. Amount: {{amount}}.</p>",
	},
	string(transition.EffectBookingCompleted): {
		Subject: "Ride receipt",
		Body:    "<p>Your ride #{{booking_id}} is complete. Amount charged: {{amount}}.</p>",
	},
	keyReminder: {
		Subject: "Upcoming booking reminder",
		Body:    "<p>Reminder: booking #{{booking_id}} is scheduled for {{when}}.</p>",
	},
	keyPaymentNotice: {
		Subject: "Payment requested",
		Body:    "<p>Booking #{{booking_id}}: amount due {{amount}}. Payment reference: {{payment_ref}}.</p>",
	},
}

// template keys beyond the effect tags; cancellation fans out to two
// differently-worded sends, and the manual actions have their own.
const (
	keyCancelledDriver   = "booking_cancelled_driver"
	keyCancelledCustomer = "booking_cancelled_customer"
	keyReminder          = "reminder"
	keyPaymentNotice     = "payment_notice"
)

// TemplateSource loads a tenant's template overrides.
type TemplateSource interface {
	TenantTemplates(ctx context.Context, tenantID int64) (map[string]Template, error)
}

// Templates resolves templates per tenant with an explicit cache. The cache
// has an injected lifetime and an invalidation hook wired to settings
// updates; it is not an ambient process-lifetime memo.
type Templates struct {
	source TemplateSource

	mu    sync.RWMutex
	cache map[int64]map[string]Template
}

func NewTemplates(source TemplateSource) *Templates {
	return &Templates{source: source, cache: make(map[int64]map[string]Template)}
}

// Resolve returns the tenant's template for key, falling back to the
// built-in default. An unknown key yields the zero template, which renders
// to empty strings.
func (t *Templates) Resolve(ctx context.Context, tenantID int64, key string) Template {
	if t != nil && t.source != nil {
		t.mu.RLock()
		overrides, ok := t.cache[tenantID]
		t.mu.RUnlock()
		if !ok {
			loaded, err := t.source.TenantTemplates(ctx, tenantID)
			if err == nil {
				if loaded == nil {
					loaded = map[string]Template{}
				}
				t.mu.Lock()
				t.cache[tenantID] = loaded
				t.mu.Unlock()
				overrides = loaded
			}
		}
		if tpl, ok := overrides[key]; ok {
			return tpl
		}
	}
	return defaultTemplates[key]
}

// Invalidate drops the cached overrides for a tenant. Called when the
// tenant's notification settings change.
func (t *Templates) Invalidate(tenantID int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.cache, tenantID)
	t.mu.Unlock()
}
