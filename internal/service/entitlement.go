package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/nordvik/trena/internal/domain"
	"github.com/nordvik/trena/internal/repository"
	"github.com/nordvik/trena/internal/telemetry"
)

// EntitlementService answers "does this account currently have paid access".
// It is the only premium gate the rest of the platform consults.
type EntitlementService interface {
	// HasPremiumAccess reports whether the account holds premium access right
	// now. Storage errors propagate unchanged: callers must treat an error as
	// "unknown", never as "false".
	HasPremiumAccess(ctx context.Context, accountID pgtype.UUID) (bool, error)
}

type entitlementService struct {
	repo       repository.Querier
	classifier *PlanClassifier
	now        func() time.Time
}

// NewEntitlementService creates an EntitlementService.
func NewEntitlementService(repo repository.Querier, classifier *PlanClassifier) EntitlementService {
	return &entitlementService{
		repo:       repo,
		classifier: classifier,
		now:        time.Now,
	}
}

// HasPremiumAccess evaluates premium access in two passes.
//
// Primary pass: any ACTIVE or CANCELLED subscription whose plan is premium
// and whose end date has not passed grants access. This is a pure existential
// check; the first match wins and ordering is irrelevant. The end-date bound
// is re-checked here even though the store filters by status, because the
// business rule ("endDate >= now") is finer than the status filter.
//
// Grace fallback: only when the primary pass finds nothing, subscriptions
// flagged as in a grace period grant access while gracePeriodEnd is strictly
// in the future. Grace can only add access on top of a failed primary pass;
// it never overrides a subscription that is already valid by end date.
//
// The boundary asymmetry is load-bearing: a billing end date equal to "now"
// is still valid, a grace end equal to "now" is already expired.
//
// Trial fields are not consulted as an independent branch; access during a
// trial is incidental to the subscription's own end date being valid.
func (s *entitlementService) HasPremiumAccess(ctx context.Context, accountID pgtype.UUID) (bool, error) {
	if telemetry.Business != nil {
		telemetry.Business.EntitlementChecks.Inc()
	}

	now := s.now()

	subs, err := s.repo.ListAccessSubscriptions(ctx, repository.ListAccessSubscriptionsParams{
		AccountID: accountID,
		Statuses:  []string{string(domain.SubscriptionActive), string(domain.SubscriptionCancelled)},
	})
	if err != nil {
		if telemetry.Business != nil {
			telemetry.Business.EntitlementErrors.Inc()
		}
		return false, fmt.Errorf("failed to query subscriptions: %w", err)
	}

	for _, sub := range subs {
		if !s.classifier.IsPremiumPlan(sub.Plan) {
			continue
		}
		if sub.Subscription.EndDate.Valid && !sub.Subscription.EndDate.Time.Before(now) {
			if telemetry.Business != nil {
				telemetry.Business.EntitlementGrants.WithLabelValues("subscription").Inc()
			}
			return true, nil
		}
	}

	graceSubs, err := s.repo.ListGraceSubscriptions(ctx, accountID)
	if err != nil {
		if telemetry.Business != nil {
			telemetry.Business.EntitlementErrors.Inc()
		}
		return false, fmt.Errorf("failed to query grace subscriptions: %w", err)
	}

	for _, sub := range graceSubs {
		if sub.GracePeriodEnd.Valid && sub.GracePeriodEnd.Time.After(now) {
			if telemetry.Business != nil {
				telemetry.Business.EntitlementGrants.WithLabelValues("grace").Inc()
			}
			return true, nil
		}
	}

	return false, nil
}
