package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

func newTestStripeGateway(t *testing.T, handler http.HandlerFunc) PaymentGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return NewStripeGateway("sk_test_gateway", stripe.WithBackends(&stripe.Backends{
		API:         backend,
		Connect:     backend,
		Uploads:     backend,
		MeterEvents: backend,
	}))
}

func TestStripeGatewaySubscriptionCalls(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	gw := newTestStripeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
		assert.Equal(t, "Bearer sk_test_gateway", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sub_1","object":"subscription","status":"active","metadata":{"plan":"annual"}}`))
	})

	sub, err := gw.GetSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", sub.ID)
	assert.Equal(t, "annual", sub.Metadata[MetadataPlan])

	require.NoError(t, gw.CancelSubscription(context.Background(), "sub_1"))

	assert.Equal(t, []string{"GET /v1/subscriptions/sub_1", "DELETE /v1/subscriptions/sub_1"}, calls)
}

func TestStripeGatewayWrapsAPIErrors(t *testing.T) {
	gw := newTestStripeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such subscription: 'sub_gone'"}}`))
	})

	_, err := gw.GetSubscription(context.Background(), "sub_gone")
	require.Error(t, err)
	var se *stripe.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, stripe.ErrorCodeResourceMissing, se.Code)
	assert.Contains(t, err.Error(), "fetch stripe subscription sub_gone")
}

func TestStripeGatewayHonoursContext(t *testing.T) {
	gw := newTestStripeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the server")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, gw.CancelSubscription(ctx, "sub_1"))
}
