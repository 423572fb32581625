package stripe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

func newTestClient() *Client {
	return NewClient(Config{
		SecretKey:        "sk_test_123",
		WebhookSecret:    "whsec_test",
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
	}, slog.Default())
}

func TestIsSuccessful(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"card declined", &stripe.Error{HTTPStatusCode: 402}, true},
		{"not found", &stripe.Error{HTTPStatusCode: 404}, true},
		{"server error", &stripe.Error{HTTPStatusCode: 500}, false},
		{"transport", errors.New("dial tcp: i/o timeout"), false},
	}
	for _, tt := range tests {
		if got := isSuccessful(tt.err); got != tt.want {
			t.Errorf("%s: isSuccessful = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	c := newTestClient()
	ctx := context.Background()
	boom := &stripe.Error{HTTPStatusCode: 503}

	for i := 0; i < 2; i++ {
		_, err := call(ctx, c, "test", func() (*stripe.Customer, error) { return nil, boom })
		if err == nil {
			t.Fatal("expected error")
		}
	}

	calls := 0
	_, err := call(ctx, c, "test", func() (*stripe.Customer, error) {
		calls++
		return &stripe.Customer{}, nil
	})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err = %v, want open breaker", err)
	}
	if calls != 0 {
		t.Error("open breaker must not call through")
	}
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	c := newTestClient()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		call(ctx, c, "test", func() (*stripe.Customer, error) {
			return nil, &stripe.Error{HTTPStatusCode: 400}
		})
	}

	cust, err := call(ctx, c, "test", func() (*stripe.Customer, error) {
		return &stripe.Customer{ID: "cus_1"}, nil
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if cust.ID != "cus_1" {
		t.Errorf("id = %q, want cus_1", cust.ID)
	}
}

func TestCallHonoursCancelledContext(t *testing.T) {
	c := newTestClient()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := call(ctx, c, "test", func() (*stripe.Customer, error) {
		t.Fatal("should not be called")
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestReadsFollowCallerContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(Config{SecretKey: "sk_test_123", Timeout: time.Minute, FailureThreshold: 100}, slog.Default())
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
	}))
	t.Cleanup(func() {
		stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{}))
	})

	ops := map[string]func(ctx context.Context) error{
		"customer.get": func(ctx context.Context) error {
			_, err := c.GetCustomer(ctx, "cus_1")
			return err
		},
		"customer.delete": func(ctx context.Context) error {
			return c.DeleteCustomer(ctx, "cus_1")
		},
		"checkout_session.get": func(ctx context.Context) error {
			_, err := c.GetCheckoutSession(ctx, "cs_1")
			return err
		},
		"subscription.get": func(ctx context.Context) error {
			_, err := c.GetSubscription(ctx, "sub_1")
			return err
		},
		"price.get": func(ctx context.Context) error {
			_, err := c.GetPrice(ctx, "price_1")
			return err
		},
		"product.get": func(ctx context.Context) error {
			_, err := c.GetProduct(ctx, "prod_1")
			return err
		},
		"event.get": func(ctx context.Context) error {
			_, err := c.GetEvent(ctx, "evt_1")
			return err
		},
	}
	for name, op := range ops {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		start := time.Now()
		err := op(ctx)
		cancel()
		if err == nil {
			t.Errorf("%s: expected error from cancelled request", name)
		}
		if elapsed := time.Since(start); elapsed > 5*time.Second {
			t.Errorf("%s: returned after %v, caller deadline was ignored", name, elapsed)
		}
	}
}

func TestConstructEvent(t *testing.T) {
	c := newTestClient()
	payload := []byte(`{"id":"evt_1","object":"event","type":"customer.subscription.updated","created":1700000000,"api_version":"2019-01-01","data":{"object":{}}}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})

	event, err := c.ConstructEvent(signed.Payload, signed.Header)
	if err != nil {
		t.Fatalf("construct event: %v", err)
	}
	if event.ID != "evt_1" {
		t.Errorf("id = %q, want evt_1", event.ID)
	}

	if _, err := c.ConstructEvent(payload, "t=1,v1=deadbeef"); err == nil {
		t.Error("expected signature error")
	}
}
