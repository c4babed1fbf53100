package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"familynest/internal/api/v1/dto"
	"familynest/internal/metrics"
	"familynest/internal/service"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
)

// Stripe never sends more than this in one delivery.
const maxWebhookBodyBytes = int64(65536)

// WebhookProcessor verifies and applies Stripe events. service.BillingService
// satisfies it.
type WebhookProcessor interface {
	VerifyEvent(payload []byte, signature string) (stripe.Event, error)
	HandleEvent(ctx context.Context, event stripe.Event) error
}

// WebhookHandler receives Stripe webhook deliveries.
type WebhookHandler struct {
	billing WebhookProcessor
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewWebhookHandler(billing WebhookProcessor, m *metrics.Metrics, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{billing: billing, metrics: m, logger: logger.With().Str("handler", "WebhookHandler").Logger()}
}

// RegisterRoutes mounts the webhook endpoint. It is authenticated by the
// Stripe signature, not by a session.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.stripeWebhook)
}

// stripeWebhook godoc
// @Summary Receive a Stripe webhook event
// @Description Verifies the Stripe-Signature header and reconciles the family billing record.
// @Tags billing
// @Accept json
// @Produce json
// @Success 200 {object} dto.WebhookAckDTO
// @Failure 400 {object} dto.ErrorResponseDTO "invalid signature or payload"
// @Failure 500 {object} dto.ErrorResponseDTO "event could not be applied; Stripe retries"
// @Router /webhooks/stripe [post]
func (h *WebhookHandler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to read webhook body")
		h.metrics.Webhook("unknown", metrics.WebhookRejected)
		writeError(w, h.logger, http.StatusBadRequest, "unreadable request body")
		return
	}

	event, err := h.billing.VerifyEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn().Err(err).Msg("Rejected webhook with invalid signature")
		h.metrics.Webhook("unknown", metrics.WebhookRejected)
		writeError(w, h.logger, http.StatusBadRequest, "invalid signature")
		return
	}

	if err := h.billing.HandleEvent(r.Context(), event); err != nil {
		if errors.Is(err, service.ErrMalformedEvent) {
			writeError(w, h.logger, http.StatusBadRequest, "malformed event")
			return
		}
		writeError(w, h.logger, http.StatusInternalServerError, "failed to process event")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, dto.WebhookAckDTO{Received: true})
}
