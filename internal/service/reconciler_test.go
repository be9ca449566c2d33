package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordvik/trena/internal/billing"
	"github.com/nordvik/trena/internal/domain"
	"github.com/nordvik/trena/internal/email"
	"github.com/nordvik/trena/internal/repository"
)

type fakeResolver struct {
	ResolveFunc func(ctx context.Context, priceID string) (string, error)
	Calls       []string
}

func (f *fakeResolver) Resolve(ctx context.Context, priceID string) (string, error) {
	f.Calls = append(f.Calls, priceID)
	if f.ResolveFunc != nil {
		return f.ResolveFunc(ctx, priceID)
	}
	return "", nil
}

type reconcilerFixture struct {
	repo     *fakeQuerier
	provider *billing.MockProvider
	resolver *fakeResolver
	sender   *email.MockSender
	svc      *reconcilerService
}

func newReconcilerFixture(t *testing.T, repo *fakeQuerier) *reconcilerFixture {
	t.Helper()

	provider := &billing.MockProvider{}
	resolver := &fakeResolver{}
	sender := &email.MockSender{}

	emails, err := email.NewService(sender, "noreply@trena.app", "Trena")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewReconcilerService(repo, provider, resolver, emails, logger).(*reconcilerService)
	svc.now = func() time.Time { return fixedNow }

	return &reconcilerFixture{
		repo:     repo,
		provider: provider,
		resolver: resolver,
		sender:   sender,
		svc:      svc,
	}
}

func existingSubscription(lookupKey string) repository.SubscriptionWithPlan {
	return repository.SubscriptionWithPlan{
		Subscription: repository.Subscription{
			ID:                   mustUUID("11111111-1111-1111-1111-111111111111"),
			AccountID:            mustUUID("22222222-2222-2222-2222-222222222222"),
			StripeSubscriptionID: "sub_123",
			StripeLookupKey:      textVal(lookupKey),
			Status:               "ACTIVE",
		},
		Plan: &repository.Plan{
			ID:   mustUUID("33333333-3333-3333-3333-333333333333"),
			Name: "Premium Coaching",
		},
	}
}

func TestHandleSubscriptionUpdated_NoLookupKeyUpdatesBillingOnly(t *testing.T) {
	repo := &fakeQuerier{
		GetSubscriptionByStripeIDFunc: func(_ context.Context, id string) (repository.SubscriptionWithPlan, error) {
			return existingSubscription("coach_premium_monthly"), nil
		},
	}
	fx := newReconcilerFixture(t, repo)

	periodEnd := fixedNow.Add(30 * 24 * time.Hour)
	err := fx.svc.HandleSubscriptionUpdated(context.Background(), SubscriptionUpdateEvent{
		StripeSubscriptionID: "sub_123",
		Status:               "past_due",
		PeriodEnd:            periodEnd,
	})
	require.NoError(t, err)

	require.Len(t, repo.BillingUpdates, 1)
	assert.Equal(t, "sub_123", repo.BillingUpdates[0].StripeSubscriptionID)
	assert.Equal(t, "PENDING", repo.BillingUpdates[0].Status)
	assert.Equal(t, periodEnd, repo.BillingUpdates[0].EndDate.Time)
	assert.Empty(t, repo.PlanUpdates)
	assert.Empty(t, repo.PlanLookups)
	assert.Empty(t, fx.resolver.Calls)
}

func TestHandleSubscriptionUpdated_SameKeySkipsCatalog(t *testing.T) {
	repo := &fakeQuerier{
		GetSubscriptionByStripeIDFunc: func(_ context.Context, id string) (repository.SubscriptionWithPlan, error) {
			return existingSubscription("coach_premium_monthly"), nil
		},
	}
	fx := newReconcilerFixture(t, repo)

	err := fx.svc.HandleSubscriptionUpdated(context.Background(), SubscriptionUpdateEvent{
		StripeSubscriptionID: "sub_123",
		Status:               "active",
		PriceLookupKey:       "coach_premium_monthly",
		PeriodEnd:            fixedNow.Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)

	require.Len(t, repo.BillingUpdates, 1)
	assert.Equal(t, "ACTIVE", repo.BillingUpdates[0].Status)
	assert.Empty(t, repo.PlanLookups, "a renewal must not hit the catalog")
	assert.Empty(t, repo.PlanUpdates)
}

func TestHandleSubscriptionUpdated_DifferentKeySwitchesPlanAtomically(t *testing.T) {
	newPlanID := mustUUID("44444444-4444-4444-4444-444444444444")
	repo := &fakeQuerier{
		GetSubscriptionByStripeIDFunc: func(_ context.Context, id string) (repository.SubscriptionWithPlan, error) {
			return existingSubscription("coach_basic_monthly"), nil
		},
		GetPlanByLookupKeyFunc: func(_ context.Context, params repository.GetPlanByLookupKeyParams) (repository.Plan, error) {
			return repository.Plan{
				ID:              newPlanID,
				Name:            "Premium Coaching",
				StripeLookupKey: textVal(params.StripeLookupKey),
			}, nil
		},
	}
	fx := newReconcilerFixture(t, repo)

	periodEnd := fixedNow.Add(30 * 24 * time.Hour)
	err := fx.svc.HandleSubscriptionUpdated(context.Background(), SubscriptionUpdateEvent{
		StripeSubscriptionID: "sub_123",
		Status:               "active",
		PriceLookupKey:       "coach_premium_monthly",
		PeriodEnd:            periodEnd,
	})
	require.NoError(t, err)

	assert.Empty(t, repo.BillingUpdates)
	require.Len(t, repo.PlanUpdates, 1)
	update := repo.PlanUpdates[0]
	assert.Equal(t, "sub_123", update.StripeSubscriptionID)
	assert.Equal(t, newPlanID, update.PlanID)
	assert.Equal(t, "coach_premium_monthly", update.StripeLookupKey.String)
	assert.Equal(t, "ACTIVE", update.Status)
	assert.Equal(t, periodEnd, update.EndDate.Time)
}

func TestHandleSubscriptionUpdated_UnknownLookupKeyFallsBackToBilling(t *testing.T) {
	repo := &fakeQuerier{
		GetSubscriptionByStripeIDFunc: func(_ context.Context, id string) (repository.SubscriptionWithPlan, error) {
			return existingSubscription("coach_basic_monthly"), nil
		},
	}
	fx := newReconcilerFixture(t, repo)

	err := fx.svc.HandleSubscriptionUpdated(context.Background(), SubscriptionUpdateEvent{
		StripeSubscriptionID: "sub_123",
		Status:               "active",
		PriceLookupKey:       "no_such_key",
		PeriodEnd:            fixedNow.Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)

	require.Len(t, repo.PlanLookups, 1)
	require.Len(t, repo.BillingUpdates, 1)
	assert.Empty(t, repo.PlanUpdates)
}

func TestHandleSubscriptionUpdated_ResolverUsedWhenKeyAbsent(t *testing.T) {
	repo := &fakeQuerier{
		GetSubscriptionByStripeIDFunc: func(_ context.Context, id string) (repository.SubscriptionWithPlan, error) {
			return existingSubscription("coach_premium_monthly"), nil
		},
	}
	fx := newReconcilerFixture(t, repo)
	fx.resolver.ResolveFunc = func(_ context.Context, priceID string) (string, error) {
		return "coach_premium_monthly", nil
	}

	err := fx.svc.HandleSubscriptionUpdated(context.Background(), SubscriptionUpdateEvent{
		StripeSubscriptionID: "sub_123",
		Status:               "active",
		PriceID:              "price_abc",
		PeriodEnd:            fixedNow.Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"price_abc"}, fx.resolver.Calls)
	require.Len(t, repo.BillingUpdates, 1)
	assert.Empty(t, repo.PlanUpdates)
}

func TestHandleSubscriptionUpdated_ResolverErrorStillAppliesBilling(t *testing.T) {
	repo := &fakeQuerier{
		GetSubscriptionByStripeIDFunc: func(_ context.Context, id string) (repository.SubscriptionWithPlan, error) {
			return existingSubscription("coach_premium_monthly"), nil
		},
	}
	fx := newReconcilerFixture(t, repo)
	fx.resolver.ResolveFunc = func(context.Context, string) (string, error) {
		return "", errors.New("stripe unavailable")
	}

	err := fx.svc.HandleSubscriptionUpdated(context.Background(), SubscriptionUpdateEvent{
		StripeSubscriptionID: "sub_123",
		Status:               "active",
		PriceID:              "price_abc",
		PeriodEnd:            fixedNow.Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)

	require.Len(t, repo.BillingUpdates, 1)
	assert.Empty(t, repo.PlanUpdates)
}

func TestHandleSubscriptionUpdated_UnknownSubscriptionSkips(t *testing.T) {
	fx := newReconcilerFixture(t, &fakeQuerier{})

	err := fx.svc.HandleSubscriptionUpdated(context.Background(), SubscriptionUpdateEvent{
		StripeSubscriptionID: "sub_unknown",
		Status:               "active",
	})
	require.NoError(t, err)
	assert.Empty(t, fx.repo.BillingUpdates)
	assert.Empty(t, fx.repo.PlanUpdates)
}

func TestHandleSubscriptionUpdated_StatusMapping(t *testing.T) {
	tests := []struct {
		stripeStatus string
		want         string
	}{
		{"active", "ACTIVE"},
		{"canceled", "CANCELLED"},
		{"past_due", "PENDING"},
		{"trialing", "ACTIVE"},
		{"unexpected_future_status", "ACTIVE"},
	}

	for _, tt := range tests {
		t.Run(tt.stripeStatus, func(t *testing.T) {
			repo := &fakeQuerier{
				GetSubscriptionByStripeIDFunc: func(_ context.Context, id string) (repository.SubscriptionWithPlan, error) {
					return existingSubscription("coach_premium_monthly"), nil
				},
			}
			fx := newReconcilerFixture(t, repo)

			err := fx.svc.HandleSubscriptionUpdated(context.Background(), SubscriptionUpdateEvent{
				StripeSubscriptionID: "sub_123",
				Status:               tt.stripeStatus,
				PeriodEnd:            fixedNow.Add(time.Hour),
			})
			require.NoError(t, err)
			require.Len(t, repo.BillingUpdates, 1)
			assert.Equal(t, tt.want, repo.BillingUpdates[0].Status)
		})
	}
}

func TestHandleSubscriptionDeleted_CancelsAndNotifies(t *testing.T) {
	sub := existingSubscription("coach_premium_monthly")
	repo := &fakeQuerier{
		GetSubscriptionByStripeIDFunc: func(_ context.Context, id string) (repository.SubscriptionWithPlan, error) {
			return sub, nil
		},
		GetAccountByIDFunc: func(_ context.Context, id pgtype.UUID) (repository.Account, error) {
			return repository.Account{
				ID:        id,
				Email:     textVal("kari@example.com"),
				FirstName: textVal("Kari"),
			}, nil
		},
	}
	fx := newReconcilerFixture(t, repo)

	err := fx.svc.HandleSubscriptionDeleted(context.Background(), SubscriptionDeletedEvent{
		StripeSubscriptionID: "sub_123",
	})
	require.NoError(t, err)

	require.Len(t, repo.Cancels, 1)
	assert.Equal(t, "sub_123", repo.Cancels[0].StripeSubscriptionID)
	assert.Equal(t, fixedNow, repo.Cancels[0].EndDate.Time)

	require.Len(t, fx.sender.Sent, 1)
	assert.Equal(t, []string{"kari@example.com"}, fx.sender.Sent[0].To)
	assert.Contains(t, fx.sender.Sent[0].Subject, "cancelled")
}

func TestHandleSubscriptionDeleted_NoMatchNoEmail(t *testing.T) {
	repo := &fakeQuerier{
		CancelSubscriptionsByStripeIDFunc: func(context.Context, repository.CancelSubscriptionsParams) (int64, error) {
			return 0, nil
		},
	}
	fx := newReconcilerFixture(t, repo)

	err := fx.svc.HandleSubscriptionDeleted(context.Background(), SubscriptionDeletedEvent{
		StripeSubscriptionID: "sub_unknown",
	})
	require.NoError(t, err)
	assert.Empty(t, fx.sender.Sent)
}

func TestHandleSubscriptionDeleted_EmailFailureDoesNotFailHandler(t *testing.T) {
	repo := &fakeQuerier{
		GetSubscriptionByStripeIDFunc: func(_ context.Context, id string) (repository.SubscriptionWithPlan, error) {
			return existingSubscription("coach_premium_monthly"), nil
		},
		GetAccountByIDFunc: func(_ context.Context, id pgtype.UUID) (repository.Account, error) {
			return repository.Account{ID: id, Email: textVal("kari@example.com")}, nil
		},
	}
	fx := newReconcilerFixture(t, repo)
	fx.sender.SendFunc = func(context.Context, *email.Email) (string, error) {
		return "", errors.New("smtp down")
	}

	err := fx.svc.HandleSubscriptionDeleted(context.Background(), SubscriptionDeletedEvent{
		StripeSubscriptionID: "sub_123",
	})
	require.NoError(t, err)
	require.Len(t, repo.Cancels, 1)
}

func disputeFixtureRepo() *fakeQuerier {
	return &fakeQuerier{
		ListDeliveriesByPaymentIntentFunc: func(_ context.Context, pi string) ([]repository.MealPlanDelivery, error) {
			return []repository.MealPlanDelivery{
				{
					ID:                    mustUUID("55555555-5555-5555-5555-555555555555"),
					StripePaymentIntentID: pi,
					TrainerFirstName:      textVal("Ola"),
					ClientFirstName:       textVal("Kari"),
				},
				{
					ID:                    mustUUID("66666666-6666-6666-6666-666666666666"),
					StripePaymentIntentID: pi,
				},
			}, nil
		},
		ListAdminAccountsFunc: func(context.Context) ([]repository.Account, error) {
			return []repository.Account{
				{Email: textVal("admin1@trena.app"), Role: "admin"},
				{Email: textVal("admin2@trena.app"), Role: "admin"},
			}, nil
		},
	}
}

func disputeEvent() DisputeEvent {
	due := fixedNow.Add(7 * 24 * time.Hour)
	return DisputeEvent{
		DisputeID:     "dp_1",
		ChargeID:      "ch_1",
		Amount:        10000,
		Currency:      "nok",
		Reason:        "product_not_received",
		Status:        "needs_response",
		EvidenceDueBy: &due,
	}
}

func TestHandleDisputeCreated_MarksDeliveriesAndAlertsAdmins(t *testing.T) {
	repo := disputeFixtureRepo()
	fx := newReconcilerFixture(t, repo)
	fx.provider.GetChargeFunc = func(_ context.Context, chargeID string) (*billing.Charge, error) {
		return &billing.Charge{ID: chargeID, PaymentIntentID: "pi_1"}, nil
	}

	err := fx.svc.HandleDisputeCreated(context.Background(), disputeEvent())
	require.NoError(t, err)

	assert.Equal(t, []string{"ch_1"}, fx.provider.GetChargeCalls)
	require.Len(t, repo.MarkedDisputed, 2)
	assert.Equal(t, "needs_response", repo.MarkedDisputed[0].DisputeStatus)
	assert.Equal(t, fixedNow, repo.MarkedDisputed[0].DisputedAt.Time)

	require.Len(t, fx.sender.Sent, 2)
	body := fx.sender.Sent[0].HTMLBody
	assert.Contains(t, body, "100.00")
	assert.Contains(t, body, "NOK")
	assert.Contains(t, body, "Product not received")
	assert.Contains(t, body, "https://dashboard.stripe.com/disputes/dp_1")
}

func TestHandleDisputeCreated_DeliveryFailureIsolated(t *testing.T) {
	repo := disputeFixtureRepo()
	badID := mustUUID("55555555-5555-5555-5555-555555555555")
	repo.MarkDeliveryDisputedFunc = func(_ context.Context, params repository.MarkDeliveryDisputedParams) error {
		if params.ID == badID {
			return errors.New("row locked")
		}
		return nil
	}
	fx := newReconcilerFixture(t, repo)
	fx.provider.GetChargeFunc = func(_ context.Context, chargeID string) (*billing.Charge, error) {
		return &billing.Charge{ID: chargeID, PaymentIntentID: "pi_1"}, nil
	}

	err := fx.svc.HandleDisputeCreated(context.Background(), disputeEvent())
	require.Error(t, err)

	// both deliveries were attempted and admins were still alerted
	assert.Len(t, repo.MarkedDisputed, 2)
	assert.Len(t, fx.sender.Sent, 2)
}

func TestHandleDisputeCreated_AdminEmailFailureIsolated(t *testing.T) {
	repo := disputeFixtureRepo()
	fx := newReconcilerFixture(t, repo)
	fx.provider.GetChargeFunc = func(_ context.Context, chargeID string) (*billing.Charge, error) {
		return &billing.Charge{ID: chargeID, PaymentIntentID: "pi_1"}, nil
	}
	calls := 0
	fx.sender.SendFunc = func(_ context.Context, e *email.Email) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("mailbox full")
		}
		return "msg-id", nil
	}

	err := fx.svc.HandleDisputeCreated(context.Background(), disputeEvent())
	require.Error(t, err)
	assert.Equal(t, 2, calls, "second admin must still be alerted")
}

func TestHandleDisputeCreated_ChargeLookupFailureStopsProcessing(t *testing.T) {
	repo := disputeFixtureRepo()
	fx := newReconcilerFixture(t, repo)
	fx.provider.GetChargeFunc = func(context.Context, string) (*billing.Charge, error) {
		return nil, errors.New("stripe unavailable")
	}

	err := fx.svc.HandleDisputeCreated(context.Background(), disputeEvent())
	require.Error(t, err)
	assert.Empty(t, repo.MarkedDisputed)
	assert.Empty(t, fx.sender.Sent)
}

func TestHandleDisputeCreated_NoPaymentIntentSkipsProcessing(t *testing.T) {
	repo := disputeFixtureRepo()
	fx := newReconcilerFixture(t, repo)
	fx.provider.GetChargeFunc = func(_ context.Context, chargeID string) (*billing.Charge, error) {
		return &billing.Charge{ID: chargeID}, nil
	}

	err := fx.svc.HandleDisputeCreated(context.Background(), disputeEvent())
	require.NoError(t, err)
	assert.Empty(t, repo.MarkedDisputed)
	assert.Empty(t, fx.sender.Sent)
}

func TestHandleDisputeCreated_NoMatchingDeliveriesSkipsAlerts(t *testing.T) {
	repo := disputeFixtureRepo()
	repo.ListDeliveriesByPaymentIntentFunc = func(context.Context, string) ([]repository.MealPlanDelivery, error) {
		return nil, nil
	}
	fx := newReconcilerFixture(t, repo)
	fx.provider.GetChargeFunc = func(_ context.Context, chargeID string) (*billing.Charge, error) {
		return &billing.Charge{ID: chargeID, PaymentIntentID: "pi_1"}, nil
	}

	err := fx.svc.HandleDisputeCreated(context.Background(), disputeEvent())
	require.NoError(t, err)
	assert.Empty(t, repo.MarkedDisputed)
	assert.Empty(t, fx.sender.Sent)
}

func TestHandleCustomerDeleted_CancelsActiveAndClearsCustomerID(t *testing.T) {
	accountID := mustUUID("22222222-2222-2222-2222-222222222222")
	repo := &fakeQuerier{
		GetAccountByStripeCustomerIDFunc: func(_ context.Context, customerID string) (repository.Account, error) {
			return repository.Account{ID: accountID, StripeCustomerID: textVal(customerID)}, nil
		},
		ListActiveSubscriptionsForAccountFunc: func(context.Context, pgtype.UUID) ([]repository.Subscription, error) {
			return []repository.Subscription{
				{AccountID: accountID, StripeSubscriptionID: "sub_a", Status: string(domain.SubscriptionActive)},
				{AccountID: accountID, StripeSubscriptionID: "sub_b", Status: string(domain.SubscriptionActive)},
			}, nil
		},
	}
	fx := newReconcilerFixture(t, repo)

	err := fx.svc.HandleCustomerDeleted(context.Background(), CustomerDeletedEvent{
		StripeCustomerID: "cus_1",
	})
	require.NoError(t, err)

	require.Len(t, repo.Cancels, 2)
	assert.Equal(t, "sub_a", repo.Cancels[0].StripeSubscriptionID)
	assert.Equal(t, "sub_b", repo.Cancels[1].StripeSubscriptionID)
	assert.Equal(t, fixedNow, repo.Cancels[0].EndDate.Time)
	assert.Equal(t, []pgtype.UUID{accountID}, repo.ClearedAccounts)
}

func TestHandleCustomerDeleted_CancelFailureStillClearsCustomerID(t *testing.T) {
	accountID := mustUUID("22222222-2222-2222-2222-222222222222")
	repo := &fakeQuerier{
		GetAccountByStripeCustomerIDFunc: func(_ context.Context, customerID string) (repository.Account, error) {
			return repository.Account{ID: accountID, StripeCustomerID: textVal(customerID)}, nil
		},
		ListActiveSubscriptionsForAccountFunc: func(context.Context, pgtype.UUID) ([]repository.Subscription, error) {
			return []repository.Subscription{
				{AccountID: accountID, StripeSubscriptionID: "sub_a", Status: string(domain.SubscriptionActive)},
				{AccountID: accountID, StripeSubscriptionID: "sub_b", Status: string(domain.SubscriptionActive)},
			}, nil
		},
		CancelSubscriptionsByStripeIDFunc: func(_ context.Context, params repository.CancelSubscriptionsParams) (int64, error) {
			if params.StripeSubscriptionID == "sub_a" {
				return 0, errors.New("row locked")
			}
			return 1, nil
		},
	}
	fx := newReconcilerFixture(t, repo)

	err := fx.svc.HandleCustomerDeleted(context.Background(), CustomerDeletedEvent{
		StripeCustomerID: "cus_1",
	})
	require.NoError(t, err)

	// both rows attempted, id cleared despite the failed cancel
	require.Len(t, repo.Cancels, 2)
	assert.Equal(t, []pgtype.UUID{accountID}, repo.ClearedAccounts)
}

func TestHandleCustomerDeleted_UnknownCustomerSkips(t *testing.T) {
	fx := newReconcilerFixture(t, &fakeQuerier{})

	err := fx.svc.HandleCustomerDeleted(context.Background(), CustomerDeletedEvent{
		StripeCustomerID: "cus_unknown",
	})
	require.NoError(t, err)
	assert.Empty(t, fx.repo.ClearedAccounts)
}

func TestHandlers_RejectEmptyIdentifiers(t *testing.T) {
	fx := newReconcilerFixture(t, &fakeQuerier{})
	ctx := context.Background()

	assert.True(t, domain.IsCode(fx.svc.HandleSubscriptionUpdated(ctx, SubscriptionUpdateEvent{}), domain.EINVALID))
	assert.True(t, domain.IsCode(fx.svc.HandleSubscriptionDeleted(ctx, SubscriptionDeletedEvent{}), domain.EINVALID))
	assert.True(t, domain.IsCode(fx.svc.HandleDisputeCreated(ctx, DisputeEvent{}), domain.EINVALID))
	assert.True(t, domain.IsCode(fx.svc.HandleCustomerDeleted(ctx, CustomerDeletedEvent{}), domain.EINVALID))
}
