package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/nordvik/trena/internal/domain"
	"github.com/nordvik/trena/internal/handler"
	"github.com/nordvik/trena/internal/repository"
	"github.com/nordvik/trena/internal/service"
)

// EntitlementHandler serves premium access checks for the app backends.
type EntitlementHandler struct {
	repo         repository.Querier
	entitlements service.EntitlementService
	logger       *slog.Logger
}

// NewEntitlementHandler creates an EntitlementHandler.
func NewEntitlementHandler(repo repository.Querier, entitlements service.EntitlementService, logger *slog.Logger) *EntitlementHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementHandler{
		repo:         repo,
		entitlements: entitlements,
		logger:       logger,
	}
}

type entitlementResponse struct {
	AccountID string    `json:"account_id"`
	Premium   bool      `json:"premium"`
	CheckedAt time.Time `json:"checked_at"`
}

// GetEntitlement handles GET /api/accounts/{id}/entitlement.
//
// Unlike the webhook path, errors here surface to the caller: a gate decision
// built on a failed read would silently grant or deny the wrong thing.
func (h *EntitlementHandler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	var accountID pgtype.UUID
	if err := accountID.Scan(r.PathValue("id")); err != nil {
		handler.ErrorResponse(w, r, domain.Invalid("entitlement.get", "invalid account id"))
		return
	}

	if _, err := h.repo.GetAccountByID(r.Context(), accountID); err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			handler.ErrorResponse(w, r, domain.NotFound("entitlement.get", "account", r.PathValue("id")))
			return
		}
		h.logger.Error("account lookup failed",
			slog.String("account_id", r.PathValue("id")),
			slog.String("error", err.Error()),
		)
		handler.ErrorResponse(w, r, domain.Internal(err, "entitlement.get", "account lookup failed"))
		return
	}

	premium, err := h.entitlements.HasPremiumAccess(r.Context(), accountID)
	if err != nil {
		h.logger.Error("entitlement check failed",
			slog.String("account_id", r.PathValue("id")),
			slog.String("error", err.Error()),
		)
		handler.ErrorResponse(w, r, domain.Internal(err, "entitlement.get", "entitlement check failed"))
		return
	}

	handler.JSON(w, http.StatusOK, entitlementResponse{
		AccountID: r.PathValue("id"),
		Premium:   premium,
		CheckedAt: time.Now().UTC(),
	})
}
