package routes

import (
	"github.com/nordvik/trena/internal/router"
)

// RegisterWebhookRoutes registers routes receiving processor webhooks.
//
// Webhook routes carry no authentication middleware; the handler verifies
// the Stripe signature itself.
func RegisterWebhookRoutes(r *router.Router, deps WebhookDeps) {
	r.Post("/webhooks/stripe", deps.StripeHandler)
}
