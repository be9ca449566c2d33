package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nordvik/trena/internal/domain"
)

// Queries implements Querier against PostgreSQL via pgx.
type Queries struct {
	pool *pgxpool.Pool
}

// Compile-time check that Queries satisfies the storage contract.
var _ Querier = (*Queries)(nil)

// New creates a Queries instance backed by the given connection pool.
func New(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

// notFound converts pgx.ErrNoRows into a domain not-found error so callers
// never depend on driver sentinels.
func notFound(err error, op, resource, identifier string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotFound(op, resource, identifier)
	}
	return err
}

func uuidString(id pgtype.UUID) string {
	v, err := id.Value()
	if err != nil || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

const accountColumns = `id, email, first_name, last_name, role, stripe_customer_id, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Email, &a.FirstName, &a.LastName, &a.Role, &a.StripeCustomerID, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// GetAccountByID fetches one account by primary key.
func (q *Queries) GetAccountByID(ctx context.Context, id pgtype.UUID) (Account, error) {
	row := q.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err != nil {
		return Account{}, notFound(err, "repository.GetAccountByID", "account", uuidString(id))
	}
	return a, nil
}

// GetAccountByStripeCustomerID fetches the account holding the given Stripe
// customer id.
func (q *Queries) GetAccountByStripeCustomerID(ctx context.Context, stripeCustomerID string) (Account, error) {
	row := q.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE stripe_customer_id = $1`, stripeCustomerID)
	a, err := scanAccount(row)
	if err != nil {
		return Account{}, notFound(err, "repository.GetAccountByStripeCustomerID", "account", stripeCustomerID)
	}
	return a, nil
}

// ClearAccountStripeCustomerID removes the processor customer link.
func (q *Queries) ClearAccountStripeCustomerID(ctx context.Context, id pgtype.UUID) error {
	_, err := q.pool.Exec(ctx, `UPDATE accounts SET stripe_customer_id = NULL, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to clear stripe customer id: %w", err)
	}
	return nil
}

// ListAdminAccounts returns every account with the admin role.
func (q *Queries) ListAdminAccounts(ctx context.Context) ([]Account, error) {
	rows, err := q.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE role = 'admin' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

const planColumns = `id, name, stripe_lookup_key, trainer_id, created_at`

func scanPlan(row pgx.Row) (Plan, error) {
	var p Plan
	err := row.Scan(&p.ID, &p.Name, &p.StripeLookupKey, &p.TrainerID, &p.CreatedAt)
	return p, err
}

// GetPlanByID fetches one plan by primary key.
func (q *Queries) GetPlanByID(ctx context.Context, id pgtype.UUID) (Plan, error) {
	row := q.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id)
	p, err := scanPlan(row)
	if err != nil {
		return Plan{}, notFound(err, "repository.GetPlanByID", "plan", uuidString(id))
	}
	return p, nil
}

// GetPlanByLookupKey finds a plan by its Stripe lookup key. When TrainerID is
// valid the search is restricted to that trainer's catalog.
func (q *Queries) GetPlanByLookupKey(ctx context.Context, params GetPlanByLookupKeyParams) (Plan, error) {
	var row pgx.Row
	if params.TrainerID.Valid {
		row = q.pool.QueryRow(ctx,
			`SELECT `+planColumns+` FROM plans WHERE stripe_lookup_key = $1 AND trainer_id = $2`,
			params.StripeLookupKey, params.TrainerID)
	} else {
		row = q.pool.QueryRow(ctx,
			`SELECT `+planColumns+` FROM plans WHERE stripe_lookup_key = $1`,
			params.StripeLookupKey)
	}
	p, err := scanPlan(row)
	if err != nil {
		return Plan{}, notFound(err, "repository.GetPlanByLookupKey", "plan", params.StripeLookupKey)
	}
	return p, nil
}

const subscriptionColumns = `s.id, s.account_id, s.plan_id, s.stripe_subscription_id, s.stripe_lookup_key,
	s.status, s.start_date, s.end_date, s.is_trial_active, s.trial_end,
	s.is_in_grace_period, s.grace_period_end, s.failed_payment_retries, s.trainer_id,
	s.created_at, s.updated_at`

func scanSubscription(row pgx.Row) (Subscription, error) {
	var s Subscription
	err := row.Scan(&s.ID, &s.AccountID, &s.PlanID, &s.StripeSubscriptionID, &s.StripeLookupKey,
		&s.Status, &s.StartDate, &s.EndDate, &s.IsTrialActive, &s.TrialEnd,
		&s.IsInGracePeriod, &s.GracePeriodEnd, &s.FailedPaymentRetries, &s.TrainerID,
		&s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func scanSubscriptionWithPlan(row pgx.Row) (SubscriptionWithPlan, error) {
	var s Subscription
	var planID, planTrainerID pgtype.UUID
	var planName, planLookupKey pgtype.Text
	var planCreatedAt pgtype.Timestamptz

	err := row.Scan(&s.ID, &s.AccountID, &s.PlanID, &s.StripeSubscriptionID, &s.StripeLookupKey,
		&s.Status, &s.StartDate, &s.EndDate, &s.IsTrialActive, &s.TrialEnd,
		&s.IsInGracePeriod, &s.GracePeriodEnd, &s.FailedPaymentRetries, &s.TrainerID,
		&s.CreatedAt, &s.UpdatedAt,
		&planID, &planName, &planLookupKey, &planTrainerID, &planCreatedAt)
	if err != nil {
		return SubscriptionWithPlan{}, err
	}

	result := SubscriptionWithPlan{Subscription: s}
	if planID.Valid {
		result.Plan = &Plan{
			ID:              planID,
			Name:            planName.String,
			StripeLookupKey: planLookupKey,
			TrainerID:       planTrainerID,
			CreatedAt:       planCreatedAt,
		}
	}
	return result, nil
}

const subscriptionWithPlanQuery = `SELECT ` + subscriptionColumns + `,
	p.id, p.name, p.stripe_lookup_key, p.trainer_id, p.created_at
FROM subscriptions s
LEFT JOIN plans p ON p.id = s.plan_id`

// GetSubscriptionByStripeID fetches the subscription holding the given Stripe
// subscription id, joined with its current plan.
func (q *Queries) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (SubscriptionWithPlan, error) {
	row := q.pool.QueryRow(ctx, subscriptionWithPlanQuery+` WHERE s.stripe_subscription_id = $1`, stripeSubscriptionID)
	swp, err := scanSubscriptionWithPlan(row)
	if err != nil {
		return SubscriptionWithPlan{}, notFound(err, "repository.GetSubscriptionByStripeID", "subscription", stripeSubscriptionID)
	}
	return swp, nil
}

// ListAccessSubscriptions returns an account's subscriptions in any of the
// given statuses, each joined with its plan.
func (q *Queries) ListAccessSubscriptions(ctx context.Context, params ListAccessSubscriptionsParams) ([]SubscriptionWithPlan, error) {
	rows, err := q.pool.Query(ctx,
		subscriptionWithPlanQuery+` WHERE s.account_id = $1 AND s.status = ANY($2)`,
		params.AccountID, params.Statuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SubscriptionWithPlan
	for rows.Next() {
		swp, err := scanSubscriptionWithPlan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, swp)
	}
	return result, rows.Err()
}

// ListGraceSubscriptions returns an account's subscriptions currently flagged
// as in a grace period. This is deliberately a separate query from
// ListAccessSubscriptions; grace accounting is a fallback path.
func (q *Queries) ListGraceSubscriptions(ctx context.Context, accountID pgtype.UUID) ([]Subscription, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions s WHERE s.account_id = $1 AND s.is_in_grace_period = true`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// ListActiveSubscriptionsForAccount returns the account's ACTIVE subscriptions.
func (q *Queries) ListActiveSubscriptionsForAccount(ctx context.Context, accountID pgtype.UUID) ([]Subscription, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions s WHERE s.account_id = $1 AND s.status = 'ACTIVE'`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// UpdateSubscriptionBilling updates status and period end without touching
// plan assignment.
func (q *Queries) UpdateSubscriptionBilling(ctx context.Context, params UpdateSubscriptionBillingParams) error {
	_, err := q.pool.Exec(ctx,
		`UPDATE subscriptions SET status = $2, end_date = $3, updated_at = now() WHERE stripe_subscription_id = $1`,
		params.StripeSubscriptionID, params.Status, params.EndDate)
	if err != nil {
		return fmt.Errorf("failed to update subscription billing: %w", err)
	}
	return nil
}

// UpdateSubscriptionPlan reassigns plan, denormalized lookup key, status and
// period end together in one write.
func (q *Queries) UpdateSubscriptionPlan(ctx context.Context, params UpdateSubscriptionPlanParams) error {
	_, err := q.pool.Exec(ctx,
		`UPDATE subscriptions SET status = $2, end_date = $3, plan_id = $4, stripe_lookup_key = $5, updated_at = now()
		 WHERE stripe_subscription_id = $1`,
		params.StripeSubscriptionID, params.Status, params.EndDate, params.PlanID, params.StripeLookupKey)
	if err != nil {
		return fmt.Errorf("failed to update subscription plan: %w", err)
	}
	return nil
}

// CancelSubscriptionsByStripeID hard-stops every subscription row sharing the
// Stripe subscription id. Normally one row, but a bulk update stays correct
// if duplicates ever exist. Overwrites are absolute so redelivery converges.
func (q *Queries) CancelSubscriptionsByStripeID(ctx context.Context, params CancelSubscriptionsParams) (int64, error) {
	tag, err := q.pool.Exec(ctx,
		`UPDATE subscriptions SET
			status = 'CANCELLED',
			end_date = $2,
			is_in_grace_period = false,
			grace_period_end = NULL,
			failed_payment_retries = 0,
			is_trial_active = false,
			updated_at = now()
		 WHERE stripe_subscription_id = $1`,
		params.StripeSubscriptionID, params.EndDate)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel subscriptions: %w", err)
	}
	return tag.RowsAffected(), nil
}

const deliveryColumns = `id, stripe_payment_intent_id, trainer_first_name, client_first_name, disputed_at, dispute_status, created_at`

// ListDeliveriesByPaymentIntent returns every delivery purchased under the
// given payment intent.
func (q *Queries) ListDeliveriesByPaymentIntent(ctx context.Context, stripePaymentIntentID string) ([]MealPlanDelivery, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT `+deliveryColumns+` FROM meal_plan_deliveries WHERE stripe_payment_intent_id = $1`,
		stripePaymentIntentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []MealPlanDelivery
	for rows.Next() {
		var d MealPlanDelivery
		if err := rows.Scan(&d.ID, &d.StripePaymentIntentID, &d.TrainerFirstName, &d.ClientFirstName,
			&d.DisputedAt, &d.DisputeStatus, &d.CreatedAt); err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// MarkDeliveryDisputed records the dispute timestamp and status on one delivery.
func (q *Queries) MarkDeliveryDisputed(ctx context.Context, params MarkDeliveryDisputedParams) error {
	_, err := q.pool.Exec(ctx,
		`UPDATE meal_plan_deliveries SET disputed_at = $2, dispute_status = $3 WHERE id = $1`,
		params.ID, params.DisputedAt, params.DisputeStatus)
	if err != nil {
		return fmt.Errorf("failed to mark delivery disputed: %w", err)
	}
	return nil
}
