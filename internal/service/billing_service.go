package service

import (
	"context"
	"fmt"
	"time"

	"familynest/internal/config"
	"familynest/internal/metrics"
	"familynest/internal/model"
	"familynest/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
)

// Keys the checkout flow writes into Stripe metadata and the webhook reads back.
const (
	MetadataFamilyID = "family_id"
	MetadataPlan     = "plan"
)

// BillingService owns every write to the family billing record: webhook
// reconciliation, checkout and portal sessions, and explicit cancellation.
type BillingService struct {
	cfg      *config.Config
	repo     repository.BillingRepository
	payments PaymentGateway
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   zerolog.Logger
}

type BillingOption func(*BillingService)

// WithClock overrides the time source used for plan timestamps.
func WithClock(now func() time.Time) BillingOption {
	return func(s *BillingService) { s.now = now }
}

// NewBillingService returns the service with a scoped logger.
func NewBillingService(cfg *config.Config, repo repository.BillingRepository, payments PaymentGateway, m *metrics.Metrics, logger zerolog.Logger, opts ...BillingOption) *BillingService {
	s := &BillingService{
		cfg:      cfg,
		repo:     repo,
		payments: payments,
		metrics:  m,
		now:      time.Now,
		logger:   logger.With().Str("service", "BillingService").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.StripeWebhookSecret == "" {
		s.logger.Warn().Msg("STRIPE_WEBHOOK_SECRET is empty; every webhook delivery will be rejected")
	}
	return s
}

func validFamilyID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func priceFor(cfg *config.Config, plan model.PlanType) (string, stripe.CheckoutSessionMode, error) {
	switch plan {
	case model.PlanAnnual:
		return cfg.StripePriceAnnual, stripe.CheckoutSessionModeSubscription, nil
	case model.PlanLegacy:
		return cfg.StripePriceLegacy, stripe.CheckoutSessionModePayment, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPlan, plan)
	}
}

// getOrCreateCustomer ensures the family has a Stripe customer and returns its id.
func (s *BillingService) getOrCreateCustomer(ctx context.Context, familyID string, current *model.FamilyBilling) (string, error) {
	if current != nil && current.StripeCustomerID != nil && *current.StripeCustomerID != "" {
		return *current.StripeCustomerID, nil
	}
	cust, err := s.payments.CreateCustomer(ctx, &stripe.CustomerCreateParams{
		Metadata: map[string]string{MetadataFamilyID: familyID},
	})
	if err != nil {
		s.logger.Error().Err(err).Str("family_id", familyID).Msg("Failed to create Stripe customer")
		return "", err
	}
	if err := s.repo.SetStripeCustomerID(ctx, familyID, cust.ID, s.now()); err != nil {
		s.logger.Error().Err(err).Str("family_id", familyID).Msg("Failed to store Stripe customer id")
		return "", err
	}
	return cust.ID, nil
}

// CreateCheckoutSession starts a Stripe Checkout for plan and returns its URL.
// Annual checkouts create a subscription; legacy checkouts take a one-time payment.
func (s *BillingService) CreateCheckoutSession(ctx context.Context, familyID string, plan model.PlanType) (string, error) {
	priceID, mode, err := priceFor(s.cfg, plan)
	if err != nil {
		return "", err
	}
	if priceID == "" {
		return "", fmt.Errorf("no stripe price configured for %s plan", plan)
	}

	current, err := s.repo.GetByFamilyID(ctx, familyID)
	if err != nil {
		return "", err
	}
	if current != nil {
		switch {
		case current.PlanType == model.PlanLegacy:
			return "", ErrAlreadyOnPlan
		case plan == model.PlanAnnual && current.PlanType == model.PlanAnnual && current.HasSubscription():
			return "", ErrAlreadyOnPlan
		}
	}

	customerID, err := s.getOrCreateCustomer(ctx, familyID, current)
	if err != nil {
		return "", err
	}

	metadata := map[string]string{MetadataFamilyID: familyID, MetadataPlan: string(plan)}
	params := &stripe.CheckoutSessionCreateParams{
		Customer:   stripe.String(customerID),
		LineItems:  []*stripe.CheckoutSessionCreateLineItemParams{{Price: stripe.String(priceID), Quantity: stripe.Int64(1)}},
		Mode:       stripe.String(string(mode)),
		SuccessURL: stripe.String(s.cfg.AppURL + "/dashboard/settings/billing?status=success"),
		CancelURL:  stripe.String(s.cfg.AppURL + "/dashboard/settings/billing?status=cancel"),
		Metadata:   metadata,
	}
	if mode == stripe.CheckoutSessionModeSubscription {
		params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{Metadata: metadata}
	}

	sess, err := s.payments.NewCheckoutSession(ctx, params)
	if err != nil {
		s.logger.Error().Err(err).Str("family_id", familyID).Str("plan", string(plan)).Msg("Failed to create Stripe checkout session")
		return "", err
	}
	return sess.URL, nil
}

// CreatePortalSession returns a Stripe customer portal URL for the family.
func (s *BillingService) CreatePortalSession(ctx context.Context, familyID string) (string, error) {
	current, err := s.repo.GetByFamilyID(ctx, familyID)
	if err != nil {
		return "", err
	}
	if current == nil || current.StripeCustomerID == nil || *current.StripeCustomerID == "" {
		return "", ErrNoBillingAccount
	}
	sess, err := s.payments.NewPortalSession(ctx, &stripe.BillingPortalSessionCreateParams{
		Customer:  current.StripeCustomerID,
		ReturnURL: stripe.String(s.cfg.AppURL + "/dashboard/settings/billing"),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("family_id", familyID).Msg("Failed to create Stripe billing portal session")
		return "", err
	}
	return sess.URL, nil
}

// CancelSubscription is the user-initiated downgrade. It cancels upstream and
// then moves the family to free. The customer.subscription.deleted event that
// follows finds no matching record and is a no-op.
func (s *BillingService) CancelSubscription(ctx context.Context, familyID string) error {
	current, err := s.repo.GetByFamilyID(ctx, familyID)
	if err != nil {
		return err
	}
	if !current.HasSubscription() {
		return ErrNoSubscription
	}
	subID := *current.StripeSubscriptionID
	if err := s.payments.CancelSubscription(ctx, subID); err != nil {
		s.logger.Error().Err(err).Str("family_id", familyID).Str("subscription_id", subID).Msg("Failed to cancel subscription")
		return err
	}
	if err := s.repo.Downgrade(ctx, familyID, s.now()); err != nil {
		s.logger.Error().Err(err).Str("family_id", familyID).Msg("Subscription cancelled upstream but local downgrade failed")
		return err
	}
	s.logger.Info().Str("family_id", familyID).Str("subscription_id", subID).Msg("Subscription cancelled, family moved to free plan")
	return nil
}
