package service

import (
	"context"
	"errors"
	"sync"

	"github.com/stripe/stripe-go/v82"
)

var errStripeDown = errors.New("stripe unavailable")

// fakeGateway records calls and serves canned Stripe objects.
type fakeGateway struct {
	mu            sync.Mutex
	subscriptions map[string]*stripe.Subscription
	getErr        error
	cancelErr     error
	cancelled     []string
	getCalls      int

	customerSeq     int
	customerParams  []*stripe.CustomerCreateParams
	checkoutParams  []*stripe.CheckoutSessionCreateParams
	portalParams    []*stripe.BillingPortalSessionCreateParams
	checkoutErr     error
}

func newFakeGateway(subs ...*stripe.Subscription) *fakeGateway {
	g := &fakeGateway{subscriptions: map[string]*stripe.Subscription{}}
	for _, s := range subs {
		g.subscriptions[s.ID] = s
	}
	return g
}

func (g *fakeGateway) GetSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	if g.getErr != nil {
		return nil, g.getErr
	}
	sub, ok := g.subscriptions[id]
	if !ok {
		return nil, errors.New("no such subscription: " + id)
	}
	return sub, nil
}

func (g *fakeGateway) CancelSubscription(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, id)
	return g.cancelErr
}

func (g *fakeGateway) CreateCustomer(_ context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.customerSeq++
	g.customerParams = append(g.customerParams, params)
	return &stripe.Customer{ID: "cus_new"}, nil
}

func (g *fakeGateway) NewCheckoutSession(_ context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	g.checkoutParams = append(g.checkoutParams, params)
	return &stripe.CheckoutSession{ID: "cs_test", URL: "https://checkout.stripe.test/cs_test"}, nil
}

func (g *fakeGateway) NewPortalSession(_ context.Context, params *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.portalParams = append(g.portalParams, params)
	return &stripe.BillingPortalSession{URL: "https://billing.stripe.test/p/session"}, nil
}
