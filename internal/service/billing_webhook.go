package service

import (
	"context"
	"encoding/json"
	"fmt"

	"familynest/internal/metrics"
	"familynest/internal/model"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// VerifyEvent checks the Stripe-Signature header against the webhook secret
// and only then decodes the event.
func (s *BillingService) VerifyEvent(payload []byte, signature string) (stripe.Event, error) {
	if signature == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}
	if s.cfg.StripeWebhookSecret == "" {
		return stripe.Event{}, fmt.Errorf("%w: no webhook secret configured", ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.StripeWebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

// HandleEvent applies one verified event to the billing record. Every
// transition is an upsert or keyed update, so redelivery converges on the same
// state. Unknown event types are ignored.
func (s *BillingService) HandleEvent(ctx context.Context, event stripe.Event) error {
	eventType := string(event.Type)
	lg := s.logger.With().Str("event_type", eventType).Str("event_id", event.ID).Logger()
	lg.Info().Msg("Stripe webhook received")

	var (
		outcome string
		err     error
	)
	switch eventType {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		outcome, err = s.onCheckoutCompleted(ctx, lg, event)
	case "invoice.paid", "invoice.payment_succeeded":
		outcome, err = s.onInvoicePaid(ctx, lg, event)
	case "customer.subscription.deleted":
		outcome, err = s.onSubscriptionDeleted(ctx, lg, event)
	case "invoice.payment_failed":
		outcome = s.onPaymentFailed(lg, event)
	default:
		lg.Debug().Msg("Unhandled Stripe webhook event")
		outcome = metrics.WebhookIgnored
	}

	if err != nil {
		s.metrics.Webhook(eventType, metrics.WebhookFailed)
		lg.Error().Err(err).Msg("Failed to apply Stripe webhook event")
		return err
	}
	s.metrics.Webhook(eventType, outcome)
	return nil
}

func decodeObject(event stripe.Event, into any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return fmt.Errorf("%w: %s has no data object", ErrMalformedEvent, event.Type)
	}
	if err := json.Unmarshal(event.Data.Raw, into); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, event.Type, err)
	}
	return nil
}

func (s *BillingService) onCheckoutCompleted(ctx context.Context, lg zerolog.Logger, event stripe.Event) (string, error) {
	var cs stripe.CheckoutSession
	if err := decodeObject(event, &cs); err != nil {
		return "", err
	}
	familyID := cs.Metadata[MetadataFamilyID]
	plan := model.PlanType(cs.Metadata[MetadataPlan])
	customerID := ""
	if cs.Customer != nil {
		customerID = cs.Customer.ID
	}

	if !validFamilyID(familyID) {
		lg.Warn().Str("checkout_session_id", cs.ID).Msg("Checkout session has no usable family_id metadata; ignoring")
		return metrics.WebhookIgnored, nil
	}

	if plan != model.PlanLegacy {
		// Annual plans activate on invoice payment; only remember the customer here.
		if customerID == "" {
			return metrics.WebhookIgnored, nil
		}
		if err := s.repo.SetStripeCustomerID(ctx, familyID, customerID, s.now()); err != nil {
			return "", err
		}
		return metrics.WebhookApplied, nil
	}

	if cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		lg.Info().Str("family_id", familyID).Msg("Legacy checkout completed without payment yet; waiting for async payment")
		return metrics.WebhookIgnored, nil
	}

	current, err := s.repo.GetByFamilyID(ctx, familyID)
	if err != nil {
		return "", err
	}
	if current.HasSubscription() {
		superseded := *current.StripeSubscriptionID
		BestEffort(ctx, lg, s.metrics, "cancel_superseded_subscription", func(ctx context.Context) error {
			return s.payments.CancelSubscription(ctx, superseded)
		})
	}

	if err := s.repo.ActivatePlan(ctx, model.PlanActivation{
		FamilyID:         familyID,
		Plan:             model.PlanLegacy,
		StartedAt:        s.now(),
		StripeCustomerID: customerID,
	}); err != nil {
		return "", err
	}
	lg.Info().Str("family_id", familyID).Msg("Legacy plan activated")
	return metrics.WebhookApplied, nil
}

// invoiceSubscriptionID finds the subscription an invoice bills, if any.
func invoiceSubscriptionID(inv *stripe.Invoice) string {
	if inv.Lines == nil {
		return ""
	}
	for _, line := range inv.Lines.Data {
		if line.Subscription != nil && line.Subscription.ID != "" {
			return line.Subscription.ID
		}
	}
	return ""
}

func (s *BillingService) onInvoicePaid(ctx context.Context, lg zerolog.Logger, event stripe.Event) (string, error) {
	var inv stripe.Invoice
	if err := decodeObject(event, &inv); err != nil {
		return "", err
	}
	subID := invoiceSubscriptionID(&inv)
	if subID == "" {
		lg.Info().Str("invoice_id", inv.ID).Msg("Invoice has no subscription, skipping plan update")
		return metrics.WebhookIgnored, nil
	}

	sub, err := s.payments.GetSubscription(ctx, subID)
	if err != nil {
		return "", err
	}
	if model.PlanType(sub.Metadata[MetadataPlan]) != model.PlanAnnual {
		lg.Info().Str("subscription_id", subID).Msg("Subscription is not an annual plan; ignoring")
		return metrics.WebhookIgnored, nil
	}

	customerID := ""
	switch {
	case inv.Customer != nil:
		customerID = inv.Customer.ID
	case sub.Customer != nil:
		customerID = sub.Customer.ID
	}

	familyID := sub.Metadata[MetadataFamilyID]
	if familyID == "" {
		familyID = inv.Metadata[MetadataFamilyID]
	}
	if familyID == "" && customerID != "" {
		lg.Warn().Str("stripe_customer_id", customerID).Msg("Missing family_id metadata; looking up family by customer ID")
		rec, err := s.repo.GetByCustomerID(ctx, customerID)
		if err != nil {
			return "", err
		}
		if rec != nil {
			familyID = rec.FamilyID
		}
	}
	if !validFamilyID(familyID) {
		lg.Warn().Str("subscription_id", subID).Msg("Cannot resolve family for paid invoice; ignoring")
		return metrics.WebhookIgnored, nil
	}

	current, err := s.repo.GetByFamilyID(ctx, familyID)
	if err != nil {
		return "", err
	}
	if current != nil && current.PlanType == model.PlanLegacy {
		// A subscription that outlived a legacy upgrade; try the cancel again.
		lg.Warn().Str("family_id", familyID).Str("subscription_id", subID).Msg("Invoice paid for a family already on legacy; not downgrading")
		BestEffort(ctx, lg, s.metrics, "cancel_superseded_subscription", func(ctx context.Context) error {
			return s.payments.CancelSubscription(ctx, subID)
		})
		return metrics.WebhookIgnored, nil
	}

	now := s.now()
	expires := now.Add(model.AnnualPlanDuration)
	if err := s.repo.ActivatePlan(ctx, model.PlanActivation{
		FamilyID:             familyID,
		Plan:                 model.PlanAnnual,
		StartedAt:            now,
		ExpiresAt:            &expires,
		StripeCustomerID:     customerID,
		StripeSubscriptionID: subID,
	}); err != nil {
		return "", err
	}
	lg.Info().Str("family_id", familyID).Str("subscription_id", subID).Time("plan_expires_at", expires).Msg("Annual plan activated")
	return metrics.WebhookApplied, nil
}

func (s *BillingService) onSubscriptionDeleted(ctx context.Context, lg zerolog.Logger, event stripe.Event) (string, error) {
	var sub stripe.Subscription
	if err := decodeObject(event, &sub); err != nil {
		return "", err
	}
	if sub.ID == "" {
		return "", fmt.Errorf("%w: subscription without id", ErrMalformedEvent)
	}

	rec, err := s.repo.GetBySubscriptionID(ctx, sub.ID)
	if err != nil {
		return "", err
	}
	if rec == nil {
		lg.Info().Str("subscription_id", sub.ID).Msg("No family holds this subscription; nothing to downgrade")
		return metrics.WebhookIgnored, nil
	}
	if err := s.repo.Downgrade(ctx, rec.FamilyID, s.now()); err != nil {
		return "", err
	}
	lg.Info().Str("family_id", rec.FamilyID).Str("subscription_id", sub.ID).Msg("Subscription ended, family moved to free plan")
	return metrics.WebhookApplied, nil
}

// onPaymentFailed only logs. Stripe's retry schedule decides when to give up,
// and that arrives later as customer.subscription.deleted.
func (s *BillingService) onPaymentFailed(lg zerolog.Logger, event stripe.Event) string {
	var inv stripe.Invoice
	if err := decodeObject(event, &inv); err != nil {
		lg.Warn().Err(err).Msg("Payment failed for an unreadable invoice")
		return metrics.WebhookIgnored
	}
	customerID := ""
	if inv.Customer != nil {
		customerID = inv.Customer.ID
	}
	lg.Warn().
		Str("invoice_id", inv.ID).
		Str("subscription_id", invoiceSubscriptionID(&inv)).
		Str("stripe_customer_id", customerID).
		Int64("attempt_count", inv.AttemptCount).
		Msg("Invoice payment failed")
	return metrics.WebhookIgnored
}
