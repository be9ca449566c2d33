package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/nordvik/trena/internal/domain"
	"github.com/nordvik/trena/internal/repository"
)

// fakeQuerier is a hand-rolled recording stub for repository.Querier. Each
// method delegates to the matching func field when set; getters default to
// not-found and lists default to empty.
type fakeQuerier struct {
	GetAccountByIDFunc               func(ctx context.Context, id pgtype.UUID) (repository.Account, error)
	GetAccountByStripeCustomerIDFunc func(ctx context.Context, stripeCustomerID string) (repository.Account, error)
	ClearAccountStripeCustomerIDFunc func(ctx context.Context, id pgtype.UUID) error
	ListAdminAccountsFunc            func(ctx context.Context) ([]repository.Account, error)

	GetPlanByIDFunc        func(ctx context.Context, id pgtype.UUID) (repository.Plan, error)
	GetPlanByLookupKeyFunc func(ctx context.Context, params repository.GetPlanByLookupKeyParams) (repository.Plan, error)

	GetSubscriptionByStripeIDFunc         func(ctx context.Context, stripeSubscriptionID string) (repository.SubscriptionWithPlan, error)
	ListAccessSubscriptionsFunc           func(ctx context.Context, params repository.ListAccessSubscriptionsParams) ([]repository.SubscriptionWithPlan, error)
	ListGraceSubscriptionsFunc            func(ctx context.Context, accountID pgtype.UUID) ([]repository.Subscription, error)
	ListActiveSubscriptionsForAccountFunc func(ctx context.Context, accountID pgtype.UUID) ([]repository.Subscription, error)
	UpdateSubscriptionBillingFunc         func(ctx context.Context, params repository.UpdateSubscriptionBillingParams) error
	UpdateSubscriptionPlanFunc            func(ctx context.Context, params repository.UpdateSubscriptionPlanParams) error
	CancelSubscriptionsByStripeIDFunc     func(ctx context.Context, params repository.CancelSubscriptionsParams) (int64, error)

	ListDeliveriesByPaymentIntentFunc func(ctx context.Context, stripePaymentIntentID string) ([]repository.MealPlanDelivery, error)
	MarkDeliveryDisputedFunc          func(ctx context.Context, params repository.MarkDeliveryDisputedParams) error

	// recorded calls
	BillingUpdates  []repository.UpdateSubscriptionBillingParams
	PlanUpdates     []repository.UpdateSubscriptionPlanParams
	Cancels         []repository.CancelSubscriptionsParams
	PlanLookups     []repository.GetPlanByLookupKeyParams
	MarkedDisputed  []repository.MarkDeliveryDisputedParams
	ClearedAccounts []pgtype.UUID
}

var _ repository.Querier = (*fakeQuerier)(nil)

func (f *fakeQuerier) GetAccountByID(ctx context.Context, id pgtype.UUID) (repository.Account, error) {
	if f.GetAccountByIDFunc != nil {
		return f.GetAccountByIDFunc(ctx, id)
	}
	return repository.Account{}, domain.NotFound("fake.GetAccountByID", "account", "")
}

func (f *fakeQuerier) GetAccountByStripeCustomerID(ctx context.Context, stripeCustomerID string) (repository.Account, error) {
	if f.GetAccountByStripeCustomerIDFunc != nil {
		return f.GetAccountByStripeCustomerIDFunc(ctx, stripeCustomerID)
	}
	return repository.Account{}, domain.NotFound("fake.GetAccountByStripeCustomerID", "account", stripeCustomerID)
}

func (f *fakeQuerier) ClearAccountStripeCustomerID(ctx context.Context, id pgtype.UUID) error {
	f.ClearedAccounts = append(f.ClearedAccounts, id)
	if f.ClearAccountStripeCustomerIDFunc != nil {
		return f.ClearAccountStripeCustomerIDFunc(ctx, id)
	}
	return nil
}

func (f *fakeQuerier) ListAdminAccounts(ctx context.Context) ([]repository.Account, error) {
	if f.ListAdminAccountsFunc != nil {
		return f.ListAdminAccountsFunc(ctx)
	}
	return nil, nil
}

func (f *fakeQuerier) GetPlanByID(ctx context.Context, id pgtype.UUID) (repository.Plan, error) {
	if f.GetPlanByIDFunc != nil {
		return f.GetPlanByIDFunc(ctx, id)
	}
	return repository.Plan{}, domain.NotFound("fake.GetPlanByID", "plan", "")
}

func (f *fakeQuerier) GetPlanByLookupKey(ctx context.Context, params repository.GetPlanByLookupKeyParams) (repository.Plan, error) {
	f.PlanLookups = append(f.PlanLookups, params)
	if f.GetPlanByLookupKeyFunc != nil {
		return f.GetPlanByLookupKeyFunc(ctx, params)
	}
	return repository.Plan{}, domain.NotFound("fake.GetPlanByLookupKey", "plan", params.StripeLookupKey)
}

func (f *fakeQuerier) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (repository.SubscriptionWithPlan, error) {
	if f.GetSubscriptionByStripeIDFunc != nil {
		return f.GetSubscriptionByStripeIDFunc(ctx, stripeSubscriptionID)
	}
	return repository.SubscriptionWithPlan{}, domain.NotFound("fake.GetSubscriptionByStripeID", "subscription", stripeSubscriptionID)
}

func (f *fakeQuerier) ListAccessSubscriptions(ctx context.Context, params repository.ListAccessSubscriptionsParams) ([]repository.SubscriptionWithPlan, error) {
	if f.ListAccessSubscriptionsFunc != nil {
		return f.ListAccessSubscriptionsFunc(ctx, params)
	}
	return nil, nil
}

func (f *fakeQuerier) ListGraceSubscriptions(ctx context.Context, accountID pgtype.UUID) ([]repository.Subscription, error) {
	if f.ListGraceSubscriptionsFunc != nil {
		return f.ListGraceSubscriptionsFunc(ctx, accountID)
	}
	return nil, nil
}

func (f *fakeQuerier) ListActiveSubscriptionsForAccount(ctx context.Context, accountID pgtype.UUID) ([]repository.Subscription, error) {
	if f.ListActiveSubscriptionsForAccountFunc != nil {
		return f.ListActiveSubscriptionsForAccountFunc(ctx, accountID)
	}
	return nil, nil
}

func (f *fakeQuerier) UpdateSubscriptionBilling(ctx context.Context, params repository.UpdateSubscriptionBillingParams) error {
	f.BillingUpdates = append(f.BillingUpdates, params)
	if f.UpdateSubscriptionBillingFunc != nil {
		return f.UpdateSubscriptionBillingFunc(ctx, params)
	}
	return nil
}

func (f *fakeQuerier) UpdateSubscriptionPlan(ctx context.Context, params repository.UpdateSubscriptionPlanParams) error {
	f.PlanUpdates = append(f.PlanUpdates, params)
	if f.UpdateSubscriptionPlanFunc != nil {
		return f.UpdateSubscriptionPlanFunc(ctx, params)
	}
	return nil
}

func (f *fakeQuerier) CancelSubscriptionsByStripeID(ctx context.Context, params repository.CancelSubscriptionsParams) (int64, error) {
	f.Cancels = append(f.Cancels, params)
	if f.CancelSubscriptionsByStripeIDFunc != nil {
		return f.CancelSubscriptionsByStripeIDFunc(ctx, params)
	}
	return 1, nil
}

func (f *fakeQuerier) ListDeliveriesByPaymentIntent(ctx context.Context, stripePaymentIntentID string) ([]repository.MealPlanDelivery, error) {
	if f.ListDeliveriesByPaymentIntentFunc != nil {
		return f.ListDeliveriesByPaymentIntentFunc(ctx, stripePaymentIntentID)
	}
	return nil, nil
}

func (f *fakeQuerier) MarkDeliveryDisputed(ctx context.Context, params repository.MarkDeliveryDisputedParams) error {
	f.MarkedDisputed = append(f.MarkedDisputed, params)
	if f.MarkDeliveryDisputedFunc != nil {
		return f.MarkDeliveryDisputedFunc(ctx, params)
	}
	return nil
}

func mustUUID(s string) pgtype.UUID {
	var id pgtype.UUID
	if err := id.Scan(s); err != nil {
		panic(err)
	}
	return id
}

func tstamp(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func textVal(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: true}
}
