package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// Account is a platform account (client, trainer, or admin).
type Account struct {
	ID               pgtype.UUID
	Email            pgtype.Text
	FirstName        pgtype.Text
	LastName         pgtype.Text
	Role             string
	StripeCustomerID pgtype.Text
	CreatedAt        pgtype.Timestamptz
	UpdatedAt        pgtype.Timestamptz
}

// Plan is a coaching plan template. StripeLookupKey is the stable catalog key
// used to correlate Stripe price objects to local plans; TrainerID is set for
// coach-specific plans.
type Plan struct {
	ID              pgtype.UUID
	Name            string
	StripeLookupKey pgtype.Text
	TrainerID       pgtype.UUID
	CreatedAt       pgtype.Timestamptz
}

// Subscription is one account-plan assignment over time. StripeLookupKey is a
// denormalized copy of the plan's catalog key at assignment time, kept so the
// reconciler can detect a no-op renewal without a catalog join.
type Subscription struct {
	ID                   pgtype.UUID
	AccountID            pgtype.UUID
	PlanID               pgtype.UUID
	StripeSubscriptionID string
	StripeLookupKey      pgtype.Text
	Status               string
	StartDate            pgtype.Timestamptz
	EndDate              pgtype.Timestamptz
	IsTrialActive        bool
	TrialEnd             pgtype.Timestamptz
	IsInGracePeriod      bool
	GracePeriodEnd       pgtype.Timestamptz
	FailedPaymentRetries int32
	TrainerID            pgtype.UUID
	CreatedAt            pgtype.Timestamptz
	UpdatedAt            pgtype.Timestamptz
}

// MealPlanDelivery is a purchased meal-plan delivery correlated to a Stripe
// payment intent. Several deliveries may share one payment intent when plans
// are bought as a bundle.
type MealPlanDelivery struct {
	ID                    pgtype.UUID
	StripePaymentIntentID string
	TrainerFirstName      pgtype.Text
	ClientFirstName       pgtype.Text
	DisputedAt            pgtype.Timestamptz
	DisputeStatus         pgtype.Text
	CreatedAt             pgtype.Timestamptz
}

// SubscriptionWithPlan joins a subscription with its plan. Plan is nil when
// the subscription references no resolvable plan row.
type SubscriptionWithPlan struct {
	Subscription Subscription
	Plan         *Plan
}

// ListAccessSubscriptionsParams selects an account's subscriptions by status.
type ListAccessSubscriptionsParams struct {
	AccountID pgtype.UUID
	Statuses  []string
}

// UpdateSubscriptionBillingParams updates status and billing-period end only,
// leaving plan assignment untouched.
type UpdateSubscriptionBillingParams struct {
	StripeSubscriptionID string
	Status               string
	EndDate              pgtype.Timestamptz
}

// UpdateSubscriptionPlanParams reassigns the plan together with status and
// period end in a single write.
type UpdateSubscriptionPlanParams struct {
	StripeSubscriptionID string
	Status               string
	EndDate              pgtype.Timestamptz
	PlanID               pgtype.UUID
	StripeLookupKey      pgtype.Text
}

// CancelSubscriptionsParams is the terminal bulk update applied on processor
// deletion events: access stops now and all soft-extension bookkeeping resets.
type CancelSubscriptionsParams struct {
	StripeSubscriptionID string
	EndDate              pgtype.Timestamptz
}

// GetPlanByLookupKeyParams finds a plan by catalog key, optionally scoped to
// a trainer's private catalog.
type GetPlanByLookupKeyParams struct {
	StripeLookupKey string
	TrainerID       pgtype.UUID
}

// MarkDeliveryDisputedParams records a dispute against one delivery.
type MarkDeliveryDisputedParams struct {
	ID            pgtype.UUID
	DisputedAt    pgtype.Timestamptz
	DisputeStatus string
}

// Querier is the storage contract consumed by the services. The concrete
// implementation is Queries (pgx); tests substitute recording fakes.
type Querier interface {
	GetAccountByID(ctx context.Context, id pgtype.UUID) (Account, error)
	GetAccountByStripeCustomerID(ctx context.Context, stripeCustomerID string) (Account, error)
	ClearAccountStripeCustomerID(ctx context.Context, id pgtype.UUID) error
	ListAdminAccounts(ctx context.Context) ([]Account, error)

	GetPlanByID(ctx context.Context, id pgtype.UUID) (Plan, error)
	GetPlanByLookupKey(ctx context.Context, params GetPlanByLookupKeyParams) (Plan, error)

	GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (SubscriptionWithPlan, error)
	ListAccessSubscriptions(ctx context.Context, params ListAccessSubscriptionsParams) ([]SubscriptionWithPlan, error)
	ListGraceSubscriptions(ctx context.Context, accountID pgtype.UUID) ([]Subscription, error)
	ListActiveSubscriptionsForAccount(ctx context.Context, accountID pgtype.UUID) ([]Subscription, error)
	UpdateSubscriptionBilling(ctx context.Context, params UpdateSubscriptionBillingParams) error
	UpdateSubscriptionPlan(ctx context.Context, params UpdateSubscriptionPlanParams) error
	CancelSubscriptionsByStripeID(ctx context.Context, params CancelSubscriptionsParams) (int64, error)

	ListDeliveriesByPaymentIntent(ctx context.Context, stripePaymentIntentID string) ([]MealPlanDelivery, error)
	MarkDeliveryDisputed(ctx context.Context, params MarkDeliveryDisputedParams) error
}
