package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeProvider implements Provider using the Stripe Go SDK.
type StripeProvider struct {
	api *client.API
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider creates a Stripe-backed billing provider.
func NewStripeProvider(apiKey string) *StripeProvider {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeProvider{api: api}
}

// VerifyWebhookSignature verifies a Stripe webhook signature header against
// the endpoint's signing secret.
func (s *StripeProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	if err := webhook.ValidatePayload(payload, signature, secret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// GetCharge retrieves a charge from Stripe.
func (s *StripeProvider) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	ch, err := s.api.Charges.Get(chargeID, &stripe.ChargeParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch charge %s: %w", chargeID, err)
	}

	charge := &Charge{
		ID:          ch.ID,
		AmountCents: ch.Amount,
		Currency:    string(ch.Currency),
		CreatedAt:   time.Unix(ch.Created, 0),
	}
	if ch.PaymentIntent != nil {
		charge.PaymentIntentID = ch.PaymentIntent.ID
	}
	return charge, nil
}

// GetPrice retrieves a price object from Stripe.
func (s *StripeProvider) GetPrice(ctx context.Context, priceID string) (*Price, error) {
	p, err := s.api.Prices.Get(priceID, &stripe.PriceParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price %s: %w", priceID, err)
	}

	return &Price{
		ID:        p.ID,
		LookupKey: p.LookupKey,
		Currency:  string(p.Currency),
		CreatedAt: time.Unix(p.Created, 0),
	}, nil
}
