package email

import "context"

// MockSender implements Sender for tests, recording every message.
type MockSender struct {
	// SendFunc overrides Send when set; return value decides success.
	SendFunc func(ctx context.Context, email *Email) (string, error)

	Sent []*Email
}

var _ Sender = (*MockSender)(nil)

func (m *MockSender) Send(ctx context.Context, email *Email) (string, error) {
	m.Sent = append(m.Sent, email)
	if m.SendFunc != nil {
		return m.SendFunc(ctx, email)
	}
	return "mock-message-id", nil
}
