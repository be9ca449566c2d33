package billing

import "context"

// MockProvider implements Provider for tests. Each func field overrides the
// corresponding method; unset fields return zero values. Call slices record
// every invocation so tests can assert what was (or was not) fetched.
type MockProvider struct {
	VerifyWebhookSignatureFunc func(payload []byte, signature string, secret string) error
	GetChargeFunc              func(ctx context.Context, chargeID string) (*Charge, error)
	GetPriceFunc               func(ctx context.Context, priceID string) (*Price, error)

	GetChargeCalls []string
	GetPriceCalls  []string
}

var _ Provider = (*MockProvider)(nil)

func (m *MockProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	if m.VerifyWebhookSignatureFunc != nil {
		return m.VerifyWebhookSignatureFunc(payload, signature, secret)
	}
	return nil
}

func (m *MockProvider) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	m.GetChargeCalls = append(m.GetChargeCalls, chargeID)
	if m.GetChargeFunc != nil {
		return m.GetChargeFunc(ctx, chargeID)
	}
	return &Charge{ID: chargeID}, nil
}

func (m *MockProvider) GetPrice(ctx context.Context, priceID string) (*Price, error) {
	m.GetPriceCalls = append(m.GetPriceCalls, priceID)
	if m.GetPriceFunc != nil {
		return m.GetPriceFunc(ctx, priceID)
	}
	return &Price{ID: priceID}, nil
}
