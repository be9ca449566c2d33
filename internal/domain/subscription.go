package domain

// SubscriptionStatus is the local lifecycle state of a subscription.
// Subscriptions are never deleted; cancellation and expiry are status
// transitions driven by the webhook reconciler.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionPending   SubscriptionStatus = "PENDING"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionExpired   SubscriptionStatus = "EXPIRED"
)

// MapStripeSubscriptionStatus maps Stripe's lifecycle string to the local
// status enum. Unrecognized statuses map to ACTIVE so a new processor state
// never silently locks a paying customer out of the platform.
func MapStripeSubscriptionStatus(stripeStatus string) SubscriptionStatus {
	switch stripeStatus {
	case "active":
		return SubscriptionActive
	case "canceled":
		return SubscriptionCancelled
	case "past_due":
		return SubscriptionPending
	default:
		return SubscriptionActive
	}
}

// Account roles.
const (
	RoleClient  = "client"
	RoleTrainer = "trainer"
	RoleAdmin   = "admin"
)
