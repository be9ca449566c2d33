package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stripe/stripe-go/v82"

	"github.com/nordvik/trena/internal/billing"
	"github.com/nordvik/trena/internal/domain"
	"github.com/nordvik/trena/internal/handler"
	"github.com/nordvik/trena/internal/service"
	"github.com/nordvik/trena/internal/telemetry"
)

// maxPayloadBytes caps webhook bodies. Stripe events are small; anything
// larger is not from Stripe.
const maxPayloadBytes = 1 << 20

// StripeHandlerConfig configures webhook verification.
type StripeHandlerConfig struct {
	// WebhookSecret is the signing secret from the Stripe dashboard.
	WebhookSecret string
}

// StripeHandler receives Stripe webhook events and hands them to the
// reconciler. Processing failures are logged and swallowed: once the
// signature checks out the event is acknowledged with 200 so Stripe does not
// retry payloads that will fail the same way again.
type StripeHandler struct {
	provider   billing.Provider
	reconciler service.ReconcilerService
	config     StripeHandlerConfig
	logger     *slog.Logger
}

// NewStripeHandler creates a Stripe webhook handler.
func NewStripeHandler(provider billing.Provider, reconciler service.ReconcilerService, config StripeHandlerConfig, logger *slog.Logger) *StripeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeHandler{
		provider:   provider,
		reconciler: reconciler,
		config:     config,
		logger:     logger,
	}
}

// HandleWebhook processes one incoming Stripe event.
func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodPost {
		handler.ErrorResponse(w, r, domain.Invalid("webhook.stripe", "method not allowed"))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		handler.ErrorResponse(w, r, domain.Invalid("webhook.stripe", "error reading request body"))
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		handler.ErrorResponse(w, r, domain.Errorf(domain.EUNAUTHORIZED, "webhook.stripe", "missing signature"))
		return
	}

	if err := h.provider.VerifyWebhookSignature(payload, signature, h.config.WebhookSecret); err != nil {
		h.logger.Warn("webhook signature verification failed",
			slog.String("error", err.Error()),
		)
		handler.ErrorResponse(w, r, domain.Errorf(domain.EUNAUTHORIZED, "webhook.stripe", "invalid signature"))
		return
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		handler.ErrorResponse(w, r, domain.Invalid("webhook.stripe", "invalid JSON"))
		return
	}

	eventType := string(event.Type)
	h.logger.Info("stripe event received",
		slog.String("event_id", event.ID),
		slog.String("event_type", eventType),
	)
	if telemetry.Business != nil {
		telemetry.Business.WebhookReceived.WithLabelValues(eventType).Inc()
	}
	defer func() {
		if telemetry.Business != nil {
			telemetry.Business.WebhookLatency.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		}
	}()

	ctx := r.Context()

	var handleErr error
	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		handleErr = h.handleSubscriptionEvent(ctx, event)

	case "customer.subscription.deleted":
		handleErr = h.handleSubscriptionDeleted(ctx, event)

	case "charge.dispute.created":
		handleErr = h.handleDisputeCreated(ctx, event)

	case "customer.deleted":
		handleErr = h.handleCustomerDeleted(ctx, event)

	default:
		h.logger.Debug("unhandled event type",
			slog.String("event_type", eventType),
		)
	}

	if handleErr != nil {
		h.logger.Error("event processing failed",
			slog.String("event_id", event.ID),
			slog.String("event_type", eventType),
			slog.String("error", handleErr.Error()),
		)
		if telemetry.Business != nil {
			telemetry.Business.WebhookFailed.WithLabelValues(eventType, domain.ErrorCode(handleErr)).Inc()
		}
	} else if telemetry.Business != nil {
		telemetry.Business.WebhookProcessed.WithLabelValues(eventType).Inc()
	}

	// Acknowledge regardless of processing outcome. A verified event that
	// fails here will fail the same way on retry; the failure is already in
	// the logs and metrics.
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"received": true}`))
}

func (h *StripeHandler) handleSubscriptionEvent(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return domain.Invalid("webhook.stripe", "malformed subscription payload")
	}
	return h.reconciler.HandleSubscriptionUpdated(ctx, subscriptionUpdateEvent(&sub))
}

func (h *StripeHandler) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return domain.Invalid("webhook.stripe", "malformed subscription payload")
	}
	return h.reconciler.HandleSubscriptionDeleted(ctx, service.SubscriptionDeletedEvent{
		StripeSubscriptionID: sub.ID,
	})
}

func (h *StripeHandler) handleDisputeCreated(ctx context.Context, event stripe.Event) error {
	var dispute stripe.Dispute
	if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
		return domain.Invalid("webhook.stripe", "malformed dispute payload")
	}

	ev := service.DisputeEvent{
		DisputeID: dispute.ID,
		Amount:    dispute.Amount,
		Currency:  string(dispute.Currency),
		Reason:    string(dispute.Reason),
		Status:    string(dispute.Status),
	}
	if dispute.Charge != nil {
		ev.ChargeID = dispute.Charge.ID
	}
	if dispute.EvidenceDetails != nil && dispute.EvidenceDetails.DueBy > 0 {
		due := time.Unix(dispute.EvidenceDetails.DueBy, 0).UTC()
		ev.EvidenceDueBy = &due
	}
	return h.reconciler.HandleDisputeCreated(ctx, ev)
}

func (h *StripeHandler) handleCustomerDeleted(ctx context.Context, event stripe.Event) error {
	var customer stripe.Customer
	if err := json.Unmarshal(event.Data.Raw, &customer); err != nil {
		return domain.Invalid("webhook.stripe", "malformed customer payload")
	}
	return h.reconciler.HandleCustomerDeleted(ctx, service.CustomerDeletedEvent{
		StripeCustomerID: customer.ID,
	})
}

// subscriptionUpdateEvent maps the Stripe subscription object to the
// reconciler's event. Price identity and period end come from the first
// subscription item; trainer scoping comes from metadata.
func subscriptionUpdateEvent(sub *stripe.Subscription) service.SubscriptionUpdateEvent {
	ev := service.SubscriptionUpdateEvent{
		StripeSubscriptionID: sub.ID,
		Status:               string(sub.Status),
	}

	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			ev.PriceID = item.Price.ID
			ev.PriceLookupKey = item.Price.LookupKey
		}
		if item.CurrentPeriodEnd > 0 {
			ev.PeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		}
	}

	if trainerID, ok := sub.Metadata["trainer_id"]; ok && trainerID != "" {
		var id pgtype.UUID
		if err := id.Scan(trainerID); err == nil {
			ev.TrainerID = id
		}
	}

	return ev
}
