package routes

import (
	"github.com/nordvik/trena/internal/router"
)

// RegisterAPIRoutes registers the JSON API consumed by the app backends.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	r.Get("/api/accounts/{id}/entitlement", deps.EntitlementHandler.GetEntitlement)
}
