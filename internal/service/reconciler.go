package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/nordvik/trena/internal/billing"
	"github.com/nordvik/trena/internal/domain"
	"github.com/nordvik/trena/internal/email"
	"github.com/nordvik/trena/internal/repository"
	"github.com/nordvik/trena/internal/telemetry"
)

// SubscriptionUpdateEvent is the reconciler's view of a processor
// subscription create/update notification. PriceLookupKey is set when the
// event already embeds the price's catalog key; otherwise the reconciler
// resolves it from PriceID.
type SubscriptionUpdateEvent struct {
	StripeSubscriptionID string
	Status               string // raw processor status
	PriceID              string
	PriceLookupKey       string
	PeriodEnd            time.Time
	TrainerID            pgtype.UUID // scopes catalog lookups; zero means shared catalog
}

// SubscriptionDeletedEvent signals terminal cancellation at the processor.
type SubscriptionDeletedEvent struct {
	StripeSubscriptionID string
}

// DisputeEvent is a chargeback opened against a payment.
type DisputeEvent struct {
	DisputeID     string
	ChargeID      string
	Amount        int64 // minor units
	Currency      string
	Reason        string
	Status        string
	EvidenceDueBy *time.Time
}

// CustomerDeletedEvent signals a customer object removed at the processor.
type CustomerDeletedEvent struct {
	StripeCustomerID string
}

// ReconcilerService applies processor webhook events to local state. Every
// write is an absolute overwrite keyed by the processor id, so replays and
// out-of-order retries converge on the same row state.
type ReconcilerService interface {
	HandleSubscriptionUpdated(ctx context.Context, event SubscriptionUpdateEvent) error
	HandleSubscriptionDeleted(ctx context.Context, event SubscriptionDeletedEvent) error
	HandleDisputeCreated(ctx context.Context, event DisputeEvent) error
	HandleCustomerDeleted(ctx context.Context, event CustomerDeletedEvent) error
}

type reconcilerService struct {
	repo     repository.Querier
	provider billing.Provider
	resolver PriceResolver
	emails   *email.Service
	logger   *slog.Logger
	now      func() time.Time
}

// NewReconcilerService creates a ReconcilerService. emails may be nil, in
// which case notification sends are skipped.
func NewReconcilerService(repo repository.Querier, provider billing.Provider, resolver PriceResolver, emails *email.Service, logger *slog.Logger) ReconcilerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &reconcilerService{
		repo:     repo,
		provider: provider,
		resolver: resolver,
		emails:   emails,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleSubscriptionUpdated reconciles status and billing period, and
// reassigns the plan when the event's price maps to a different catalog key
// than the one stored on the subscription.
func (s *reconcilerService) HandleSubscriptionUpdated(ctx context.Context, event SubscriptionUpdateEvent) error {
	const op = "reconcilerService.HandleSubscriptionUpdated"

	if event.StripeSubscriptionID == "" {
		return domain.Invalid(op, "subscription event missing subscription id")
	}

	sub, err := s.repo.GetSubscriptionByStripeID(ctx, event.StripeSubscriptionID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			// The processor can emit updates before local provisioning
			// completes. Nothing to reconcile against yet.
			s.logger.Warn("subscription update for unknown subscription, skipping",
				slog.String("stripe_subscription_id", event.StripeSubscriptionID),
			)
			return nil
		}
		return domain.WrapError(err, domain.EINTERNAL, op, "subscription lookup failed")
	}

	status := domain.MapStripeSubscriptionStatus(event.Status)
	endDate := pgtype.Timestamptz{Time: event.PeriodEnd.UTC(), Valid: !event.PeriodEnd.IsZero()}

	lookupKey, err := s.resolveLookupKey(ctx, event)
	if err != nil {
		// The price could not be resolved, so plan identity is unknown.
		// Status and period end are still trustworthy; apply those and leave
		// the plan assignment for the next event.
		s.logger.Error("price resolution failed, applying billing fields only",
			slog.String("stripe_subscription_id", event.StripeSubscriptionID),
			slog.String("price_id", event.PriceID),
			slog.String("error", err.Error()),
		)
		lookupKey = ""
	}

	switch {
	case lookupKey == "":
		// No catalog key on the event: a billing-only change.
		if err := s.repo.UpdateSubscriptionBilling(ctx, repository.UpdateSubscriptionBillingParams{
			StripeSubscriptionID: event.StripeSubscriptionID,
			Status:               string(status),
			EndDate:              endDate,
		}); err != nil {
			return domain.WrapError(err, domain.EINTERNAL, op, "failed to update subscription billing")
		}

	case sub.Subscription.StripeLookupKey.Valid && sub.Subscription.StripeLookupKey.String == lookupKey:
		// Same plan as already assigned. A renewal never needs the catalog.
		if err := s.repo.UpdateSubscriptionBilling(ctx, repository.UpdateSubscriptionBillingParams{
			StripeSubscriptionID: event.StripeSubscriptionID,
			Status:               string(status),
			EndDate:              endDate,
		}); err != nil {
			return domain.WrapError(err, domain.EINTERNAL, op, "failed to update subscription billing")
		}

	default:
		plan, err := s.repo.GetPlanByLookupKey(ctx, repository.GetPlanByLookupKeyParams{
			StripeLookupKey: lookupKey,
			TrainerID:       event.TrainerID,
		})
		if err != nil {
			if domain.IsCode(err, domain.ENOTFOUND) {
				s.logger.Warn("no plan for lookup key, applying billing fields only",
					slog.String("stripe_subscription_id", event.StripeSubscriptionID),
					slog.String("lookup_key", lookupKey),
				)
				if err := s.repo.UpdateSubscriptionBilling(ctx, repository.UpdateSubscriptionBillingParams{
					StripeSubscriptionID: event.StripeSubscriptionID,
					Status:               string(status),
					EndDate:              endDate,
				}); err != nil {
					return domain.WrapError(err, domain.EINTERNAL, op, "failed to update subscription billing")
				}
				return nil
			}
			return domain.WrapError(err, domain.EINTERNAL, op, "plan lookup failed")
		}

		// Plan, key, status and period end move in one write so a crash can
		// never leave the new plan paired with the old key.
		if err := s.repo.UpdateSubscriptionPlan(ctx, repository.UpdateSubscriptionPlanParams{
			StripeSubscriptionID: event.StripeSubscriptionID,
			Status:               string(status),
			EndDate:              endDate,
			PlanID:               plan.ID,
			StripeLookupKey:      pgtype.Text{String: lookupKey, Valid: true},
		}); err != nil {
			return domain.WrapError(err, domain.EINTERNAL, op, "failed to reassign subscription plan")
		}

		if telemetry.Business != nil {
			telemetry.Business.PlanSwitches.Inc()
		}
		s.logger.Info("subscription plan switched",
			slog.String("stripe_subscription_id", event.StripeSubscriptionID),
			slog.String("lookup_key", lookupKey),
			slog.String("plan", plan.Name),
		)
	}

	return nil
}

func (s *reconcilerService) resolveLookupKey(ctx context.Context, event SubscriptionUpdateEvent) (string, error) {
	if event.PriceLookupKey != "" {
		return event.PriceLookupKey, nil
	}
	if event.PriceID == "" || s.resolver == nil {
		return "", nil
	}
	return s.resolver.Resolve(ctx, event.PriceID)
}

// HandleSubscriptionDeleted cancels every local subscription row carrying the
// processor subscription id and notifies the subscriber best-effort.
func (s *reconcilerService) HandleSubscriptionDeleted(ctx context.Context, event SubscriptionDeletedEvent) error {
	const op = "reconcilerService.HandleSubscriptionDeleted"

	if event.StripeSubscriptionID == "" {
		return domain.Invalid(op, "deletion event missing subscription id")
	}

	now := s.now().UTC()
	affected, err := s.repo.CancelSubscriptionsByStripeID(ctx, repository.CancelSubscriptionsParams{
		StripeSubscriptionID: event.StripeSubscriptionID,
		EndDate:              pgtype.Timestamptz{Time: now, Valid: true},
	})
	if err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "failed to cancel subscriptions")
	}
	if affected == 0 {
		s.logger.Warn("deletion event matched no subscriptions",
			slog.String("stripe_subscription_id", event.StripeSubscriptionID),
		)
		return nil
	}

	if telemetry.Business != nil {
		telemetry.Business.SubscriptionsCancelled.Add(float64(affected))
	}
	s.logger.Info("subscriptions cancelled",
		slog.String("stripe_subscription_id", event.StripeSubscriptionID),
		slog.Int64("count", affected),
	)

	s.sendCancellationNotice(ctx, event.StripeSubscriptionID)
	return nil
}

// sendCancellationNotice emails the subscriber about the cancellation. It is
// strictly best-effort: the cancel write already committed.
func (s *reconcilerService) sendCancellationNotice(ctx context.Context, stripeSubscriptionID string) {
	if s.emails == nil {
		return
	}

	sub, err := s.repo.GetSubscriptionByStripeID(ctx, stripeSubscriptionID)
	if err != nil {
		s.logger.Error("cancellation notice skipped: subscription lookup failed",
			slog.String("stripe_subscription_id", stripeSubscriptionID),
			slog.String("error", err.Error()),
		)
		return
	}

	account, err := s.repo.GetAccountByID(ctx, sub.Subscription.AccountID)
	if err != nil {
		s.logger.Error("cancellation notice skipped: account lookup failed",
			slog.String("stripe_subscription_id", stripeSubscriptionID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !account.Email.Valid || account.Email.String == "" {
		return
	}

	planName := "your plan"
	if sub.Plan != nil {
		planName = sub.Plan.Name
	}

	err = s.emails.SendSubscriptionCancelled(ctx, email.SubscriptionCancelledEmail{
		Email:    account.Email.String,
		Name:     account.FirstName.String,
		PlanName: planName,
	})
	if err != nil {
		if telemetry.Business != nil {
			telemetry.Business.EmailFailed.WithLabelValues("subscription_cancelled").Inc()
		}
		s.logger.Error("cancellation notice failed",
			slog.String("stripe_subscription_id", stripeSubscriptionID),
			slog.String("error", err.Error()),
		)
		return
	}
	if telemetry.Business != nil {
		telemetry.Business.EmailSent.WithLabelValues("subscription_cancelled").Inc()
	}
}

// HandleDisputeCreated correlates the disputed charge to local deliveries,
// flags them, and alerts every administrator. Per-delivery and per-admin
// failures are isolated: one bad row or one bounced address never blocks the
// rest of the fan-out.
func (s *reconcilerService) HandleDisputeCreated(ctx context.Context, event DisputeEvent) error {
	const op = "reconcilerService.HandleDisputeCreated"

	if event.ChargeID == "" {
		return domain.Invalid(op, "dispute event missing charge id")
	}
	if telemetry.Business != nil {
		telemetry.Business.DisputesReceived.Inc()
	}

	charge, err := s.provider.GetCharge(ctx, event.ChargeID)
	if err != nil {
		return domain.WrapError(err, domain.EPAYMENT, op,
			fmt.Sprintf("charge lookup failed for dispute %s", event.DisputeID))
	}

	if charge.PaymentIntentID == "" {
		s.logger.Warn("disputed charge has no payment intent, nothing to flag",
			slog.String("dispute_id", event.DisputeID),
			slog.String("charge_id", event.ChargeID),
		)
		return nil
	}

	deliveries, err := s.repo.ListDeliveriesByPaymentIntent(ctx, charge.PaymentIntentID)
	if err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "delivery lookup failed")
	}
	if len(deliveries) == 0 {
		s.logger.Warn("dispute matched no delivery records",
			slog.String("dispute_id", event.DisputeID),
			slog.String("payment_intent_id", charge.PaymentIntentID),
		)
		return nil
	}

	var failures []error
	disputedAt := pgtype.Timestamptz{Time: s.now().UTC(), Valid: true}
	for _, d := range deliveries {
		if err := s.repo.MarkDeliveryDisputed(ctx, repository.MarkDeliveryDisputedParams{
			ID:            d.ID,
			DisputedAt:    disputedAt,
			DisputeStatus: event.Status,
		}); err != nil {
			failures = append(failures, fmt.Errorf("flag delivery %s: %w", formatUUID(d.ID), err))
			s.logger.Error("failed to flag disputed delivery",
				slog.String("dispute_id", event.DisputeID),
				slog.String("delivery_id", formatUUID(d.ID)),
				slog.String("error", err.Error()),
			)
		}
	}

	s.alertAdmins(ctx, event, deliveries, &failures)

	if len(failures) > 0 {
		return domain.WrapError(errors.Join(failures...), domain.EINTERNAL, op, "dispute fan-out completed with failures")
	}
	return nil
}

func (s *reconcilerService) alertAdmins(ctx context.Context, event DisputeEvent, deliveries []repository.MealPlanDelivery, failures *[]error) {
	if s.emails == nil {
		return
	}

	admins, err := s.repo.ListAdminAccounts(ctx)
	if err != nil {
		*failures = append(*failures, fmt.Errorf("list admins: %w", err))
		return
	}

	var trainerName, clientName *string
	if len(deliveries) > 0 {
		if t := deliveries[0].TrainerFirstName; t.Valid {
			trainerName = &t.String
		}
		if c := deliveries[0].ClientFirstName; c.Valid {
			clientName = &c.String
		}
	}

	for _, admin := range admins {
		if !admin.Email.Valid || admin.Email.String == "" {
			continue
		}
		err := s.emails.SendDisputeAlert(ctx, email.DisputeAlertEmail{
			Email:            admin.Email.String,
			DisputeID:        event.DisputeID,
			ChargeID:         event.ChargeID,
			Amount:           FormatMinorAmount(event.Amount),
			Currency:         strings.ToUpper(event.Currency),
			Reason:           HumanizeDisputeReason(event.Reason),
			DashboardURL:     DisputeDashboardURL(event.DisputeID),
			EvidenceDueBy:    FormatEvidenceDeadline(event.EvidenceDueBy),
			TrainerFirstName: trainerName,
			ClientFirstName:  clientName,
		})
		if err != nil {
			if telemetry.Business != nil {
				telemetry.Business.DisputeAlerts.WithLabelValues("failed").Inc()
			}
			*failures = append(*failures, fmt.Errorf("alert admin %s: %w", admin.Email.String, err))
			s.logger.Error("dispute alert failed",
				slog.String("dispute_id", event.DisputeID),
				slog.String("admin_email", admin.Email.String),
				slog.String("error", err.Error()),
			)
			continue
		}
		if telemetry.Business != nil {
			telemetry.Business.DisputeAlerts.WithLabelValues("sent").Inc()
		}
	}
}

// HandleCustomerDeleted cancels the account's still-active subscriptions and
// detaches the processor customer id. A vanished customer must not keep
// premium access, so we do not wait for per-subscription deletion events.
func (s *reconcilerService) HandleCustomerDeleted(ctx context.Context, event CustomerDeletedEvent) error {
	const op = "reconcilerService.HandleCustomerDeleted"

	if event.StripeCustomerID == "" {
		return domain.Invalid(op, "customer event missing customer id")
	}

	account, err := s.repo.GetAccountByStripeCustomerID(ctx, event.StripeCustomerID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			s.logger.Warn("customer deletion for unknown customer, skipping",
				slog.String("stripe_customer_id", event.StripeCustomerID),
			)
			return nil
		}
		return domain.WrapError(err, domain.EINTERNAL, op, "account lookup failed")
	}

	active, err := s.repo.ListActiveSubscriptionsForAccount(ctx, account.ID)
	if err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "active subscription lookup failed")
	}

	endDate := pgtype.Timestamptz{Time: s.now().UTC(), Valid: true}
	var cancelled int64
	for _, sub := range active {
		affected, err := s.repo.CancelSubscriptionsByStripeID(ctx, repository.CancelSubscriptionsParams{
			StripeSubscriptionID: sub.StripeSubscriptionID,
			EndDate:              endDate,
		})
		if err != nil {
			// Keep going; the id clear below must not be held hostage by a
			// single row, and Stripe's retry will land here again.
			s.logger.Error("failed to cancel subscription during customer deletion",
				slog.String("account_id", formatUUID(account.ID)),
				slog.String("stripe_subscription_id", sub.StripeSubscriptionID),
				slog.String("error", err.Error()),
			)
			continue
		}
		cancelled += affected
	}
	if cancelled > 0 {
		if telemetry.Business != nil {
			telemetry.Business.SubscriptionsCancelled.Add(float64(cancelled))
		}
		s.logger.Info("subscriptions cancelled for deleted customer",
			slog.String("account_id", formatUUID(account.ID)),
			slog.Int64("count", cancelled),
		)
	}

	if err := s.repo.ClearAccountStripeCustomerID(ctx, account.ID); err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "failed to clear stripe customer id")
	}

	s.logger.Info("stripe customer id cleared",
		slog.String("account_id", formatUUID(account.ID)),
		slog.String("stripe_customer_id", event.StripeCustomerID),
	)
	return nil
}

func formatUUID(id pgtype.UUID) string {
	s, err := id.Value()
	if err != nil || s == nil {
		return ""
	}
	str, _ := s.(string)
	return str
}
