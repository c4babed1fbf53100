package service

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"
)

// SubscriptionGateway is the part of Stripe the webhook reconciliation needs.
type SubscriptionGateway interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, id string) error
}

// PaymentGateway adds the calls used to start checkout and portal sessions.
type PaymentGateway interface {
	SubscriptionGateway
	CreateCustomer(ctx context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error)
	NewCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	NewPortalSession(ctx context.Context, params *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error)
}

type stripeGateway struct {
	sc *stripe.Client
}

// NewStripeGateway returns the live gateway, authenticated with secretKey.
func NewStripeGateway(secretKey string, opts ...stripe.ClientOption) PaymentGateway {
	return &stripeGateway{sc: stripe.NewClient(secretKey, opts...)}
}

func (g *stripeGateway) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	sub, err := g.sc.V1Subscriptions.Retrieve(ctx, id, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch stripe subscription %s: %w", id, err)
	}
	return sub, nil
}

func (g *stripeGateway) CancelSubscription(ctx context.Context, id string) error {
	if _, err := g.sc.V1Subscriptions.Cancel(ctx, id, nil); err != nil {
		return fmt.Errorf("cancel stripe subscription %s: %w", id, err)
	}
	return nil
}

func (g *stripeGateway) CreateCustomer(ctx context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error) {
	cust, err := g.sc.V1Customers.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create stripe customer: %w", err)
	}
	return cust, nil
}

func (g *stripeGateway) NewCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	sess, err := g.sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return sess, nil
}

func (g *stripeGateway) NewPortalSession(ctx context.Context, params *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error) {
	sess, err := g.sc.V1BillingPortalSessions.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create billing portal session: %w", err)
	}
	return sess, nil
}
