package billing

import (
	"context"
	"time"
)

// Provider defines the payment-processor surface this service consumes.
// Webhook payloads are verified and parsed at the HTTP boundary; the
// reconciler only ever reaches back to the processor through this interface.
type Provider interface {
	// VerifyWebhookSignature verifies that a webhook request is authentic.
	VerifyWebhookSignature(payload []byte, signature string, secret string) error

	// GetCharge retrieves a charge, used to correlate a dispute to the
	// payment intent recorded on local delivery rows.
	GetCharge(ctx context.Context, chargeID string) (*Charge, error)

	// GetPrice retrieves a price object, used by the price resolver when an
	// event's price carries no embedded lookup key.
	GetPrice(ctx context.Context, priceID string) (*Price, error)
}

// Charge is the subset of a processor charge this service cares about.
type Charge struct {
	ID              string
	PaymentIntentID string
	AmountCents     int64
	Currency        string
	CreatedAt       time.Time
}

// Price is the subset of a processor price object this service cares about.
// LookupKey is empty when the price has no catalog key configured.
type Price struct {
	ID        string
	LookupKey string
	Currency  string
	CreatedAt time.Time
}
