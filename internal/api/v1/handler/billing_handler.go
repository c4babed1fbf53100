package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"familynest/internal/api/v1/dto"
	"familynest/internal/middleware"
	"familynest/internal/model"
	"familynest/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// BillingManager starts Stripe-hosted flows and cancels subscriptions.
type BillingManager interface {
	CreateCheckoutSession(ctx context.Context, familyID string, plan model.PlanType) (string, error)
	CreatePortalSession(ctx context.Context, familyID string) (string, error)
	CancelSubscription(ctx context.Context, familyID string) error
}

type BillingReader interface {
	Billing(ctx context.Context, familyID string) (*model.FamilyBilling, error)
}

// RoleMiddleware builds a guard that requires at least the given family role.
type RoleMiddleware func(min model.Role) func(http.Handler) http.Handler

// BillingHandler serves the family billing settings endpoints.
type BillingHandler struct {
	billing  BillingManager
	families BillingReader
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewBillingHandler(billing BillingManager, families BillingReader, validate *validator.Validate, logger zerolog.Logger) *BillingHandler {
	return &BillingHandler{
		billing:  billing,
		families: families,
		validate: validate,
		logger:   logger.With().Str("handler", "BillingHandler").Logger(),
	}
}

// RegisterRoutes mounts billing routes. Viewing needs viewer, starting a
// purchase or opening the portal needs admin, cancelling needs owner.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler, roleMw RoleMiddleware) {
	guard := func(min model.Role, fn http.HandlerFunc) http.Handler {
		return authMw(roleMw(min)(fn))
	}
	mux.Handle("GET /families/{familyID}/billing", guard(model.RoleViewer, h.getBilling))
	mux.Handle("POST /families/{familyID}/billing/checkout", guard(model.RoleAdmin, h.checkout))
	mux.Handle("POST /families/{familyID}/billing/portal", guard(model.RoleAdmin, h.portal))
	mux.Handle("POST /families/{familyID}/billing/cancel", guard(model.RoleOwner, h.cancel))
}

// getBilling godoc
// @Summary Get the family's billing plan
// @Tags billing
// @Produce json
// @Param familyID path string true "Family ID"
// @Success 200 {object} dto.BillingResponseDTO
// @Failure 401 {object} dto.ErrorResponseDTO
// @Failure 403 {object} dto.ErrorResponseDTO
// @Router /families/{familyID}/billing [get]
func (h *BillingHandler) getBilling(w http.ResponseWriter, r *http.Request) {
	familyID := r.PathValue("familyID")
	rec, err := h.families.Billing(r.Context(), familyID)
	if err != nil {
		writeError(w, h.logger, http.StatusInternalServerError, "failed to load billing")
		return
	}

	resp := dto.BillingResponseDTO{
		FamilyID:          rec.FamilyID,
		PlanType:          string(rec.PlanType),
		PlanExpiresAt:     rec.PlanExpiresAt,
		StorageLimitBytes: rec.StorageLimitBytes,
		HasSubscription:   rec.HasSubscription(),
		HasBillingAccount: rec.StripeCustomerID != nil && *rec.StripeCustomerID != "",
	}
	if !rec.PlanStartedAt.IsZero() {
		started := rec.PlanStartedAt
		resp.PlanStartedAt = &started
	}
	if m, ok := middleware.FamilyMembership(r.Context()); ok {
		resp.Role = string(m.Role)
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

// checkout godoc
// @Summary Start a Stripe Checkout for a paid plan
// @Tags billing
// @Accept json
// @Produce json
// @Param familyID path string true "Family ID"
// @Param request body dto.CheckoutRequestDTO true "Plan to purchase"
// @Success 200 {object} dto.SessionURLResponseDTO
// @Failure 400 {object} dto.ErrorResponseDTO "invalid plan"
// @Failure 409 {object} dto.ErrorResponseDTO "already on plan"
// @Router /families/{familyID}/billing/checkout [post]
func (h *BillingHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req dto.CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "plan must be one of: annual, legacy")
		return
	}

	url, err := h.billing.CreateCheckoutSession(r.Context(), r.PathValue("familyID"), model.PlanType(req.Plan))
	if err != nil {
		h.fail(w, err, "failed to create checkout session")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dto.SessionURLResponseDTO{URL: url})
}

// portal godoc
// @Summary Open the Stripe customer portal
// @Tags billing
// @Produce json
// @Param familyID path string true "Family ID"
// @Success 200 {object} dto.SessionURLResponseDTO
// @Failure 404 {object} dto.ErrorResponseDTO "no billing account"
// @Router /families/{familyID}/billing/portal [post]
func (h *BillingHandler) portal(w http.ResponseWriter, r *http.Request) {
	url, err := h.billing.CreatePortalSession(r.Context(), r.PathValue("familyID"))
	if err != nil {
		h.fail(w, err, "failed to create portal session")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dto.SessionURLResponseDTO{URL: url})
}

// cancel godoc
// @Summary Cancel the annual subscription and return to the free plan
// @Tags billing
// @Param familyID path string true "Family ID"
// @Success 204
// @Failure 404 {object} dto.ErrorResponseDTO "no subscription"
// @Router /families/{familyID}/billing/cancel [post]
func (h *BillingHandler) cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.billing.CancelSubscription(r.Context(), r.PathValue("familyID")); err != nil {
		h.fail(w, err, "failed to cancel subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BillingHandler) fail(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, service.ErrInvalidPlan):
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrAlreadyOnPlan):
		writeError(w, h.logger, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrNoBillingAccount), errors.Is(err, service.ErrNoSubscription):
		writeError(w, h.logger, http.StatusNotFound, err.Error())
	default:
		h.logger.Error().Err(err).Msg(msg)
		writeError(w, h.logger, http.StatusInternalServerError, msg)
	}
}
