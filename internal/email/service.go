package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"
)

//go:embed templates/*.html
var templatesFS embed.FS

// SubscriptionCancelledEmail carries the data for a cancellation notice.
type SubscriptionCancelledEmail struct {
	Email    string
	Name     string
	PlanName string
}

// Subject returns the email subject line.
func (SubscriptionCancelledEmail) Subject() string {
	return "Your Trena subscription has been cancelled"
}

// TemplateName returns the template used to render this email.
func (SubscriptionCancelledEmail) TemplateName() string { return "subscription_cancelled" }

// DisputeAlertEmail carries the data for an admin dispute alert. All money
// and date fields arrive pre-formatted; TrainerFirstName and ClientFirstName
// are pointers because the correlated delivery record may not carry them, and
// an absent name must render as absent rather than as a placeholder.
type DisputeAlertEmail struct {
	Email            string
	DisputeID        string
	ChargeID         string
	Amount           string // major units with two decimals, e.g. "100.00"
	Currency         string // upper-cased ISO code, e.g. "USD"
	Reason           string // humanized dispute reason
	DashboardURL     string
	EvidenceDueBy    string // human date or "N/A"
	TrainerFirstName *string
	ClientFirstName  *string
}

// Subject returns the email subject line.
func (e DisputeAlertEmail) Subject() string {
	return fmt.Sprintf("Payment dispute opened: %s", e.DisputeID)
}

// TemplateName returns the template used to render this email.
func (DisputeAlertEmail) TemplateName() string { return "dispute_alert" }

// Service handles email composition and sending.
type Service struct {
	sender        Sender
	fromAddress   string
	fromName      string
	templateCache *template.Template
}

// NewService creates a new email service with the embedded templates.
func NewService(sender Sender, fromAddress, fromName string) (*Service, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}

	return &Service{
		sender:        sender,
		fromAddress:   fromAddress,
		fromName:      fromName,
		templateCache: tmpl,
	}, nil
}

// SendSubscriptionCancelled sends a cancellation notice to the subscriber.
func (s *Service) SendSubscriptionCancelled(ctx context.Context, data SubscriptionCancelledEmail) error {
	htmlBody, textBody, err := s.renderTemplate(data.TemplateName(), data)
	if err != nil {
		return fmt.Errorf("failed to render subscription cancelled template: %w", err)
	}

	email := &Email{
		To:       []string{data.Email},
		From:     fmt.Sprintf("%s <%s>", s.fromName, s.fromAddress),
		Subject:  data.Subject(),
		HTMLBody: htmlBody,
		TextBody: textBody,
	}

	if _, err := s.sender.Send(ctx, email); err != nil {
		return fmt.Errorf("failed to send subscription cancelled email: %w", err)
	}

	return nil
}

// SendDisputeAlert sends a dispute alert to one administrator.
func (s *Service) SendDisputeAlert(ctx context.Context, data DisputeAlertEmail) error {
	htmlBody, textBody, err := s.renderTemplate(data.TemplateName(), data)
	if err != nil {
		return fmt.Errorf("failed to render dispute alert template: %w", err)
	}

	email := &Email{
		To:       []string{data.Email},
		From:     fmt.Sprintf("%s <%s>", s.fromName, s.fromAddress),
		Subject:  data.Subject(),
		HTMLBody: htmlBody,
		TextBody: textBody,
	}

	if _, err := s.sender.Send(ctx, email); err != nil {
		return fmt.Errorf("failed to send dispute alert email: %w", err)
	}

	return nil
}

func (s *Service) renderTemplate(templateName string, data interface{}) (string, string, error) {
	var htmlBuf bytes.Buffer
	if err := s.templateCache.ExecuteTemplate(&htmlBuf, templateName, data); err != nil {
		return "", "", fmt.Errorf("failed to execute template %s: %w", templateName, err)
	}

	htmlBody := htmlBuf.String()

	return htmlBody, generatePlainText(htmlBody), nil
}

// generatePlainText creates a simple plain text version from HTML.
func generatePlainText(html string) string {
	text := html

	text = strings.ReplaceAll(text, "<br>", "\n")
	text = strings.ReplaceAll(text, "<br/>", "\n")
	text = strings.ReplaceAll(text, "</p>", "\n\n")
	text = strings.ReplaceAll(text, "</li>", "\n")
	text = strings.ReplaceAll(text, "</h1>", "\n\n")
	text = strings.ReplaceAll(text, "</h2>", "\n\n")

	for strings.Contains(text, "<") && strings.Contains(text, ">") {
		start := strings.Index(text, "<")
		end := strings.Index(text, ">")
		if start >= 0 && end > start {
			text = text[:start] + text[end+1:]
		} else {
			break
		}
	}

	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")

	lines := strings.Split(text, "\n")
	var cleaned []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}

	return strings.Join(cleaned, "\n")
}
