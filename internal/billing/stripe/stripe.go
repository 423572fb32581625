// Package stripe implements billing.Provider on the Stripe API.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"
	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/event"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/product"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/stayscan/internal/billing"
	"github.com/dukerupert/stayscan/internal/metrics"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	// Timeout bounds each API call.
	Timeout time.Duration
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

type Client struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

var _ billing.Provider = (*Client)(nil)

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	stripe.Key = cfg.SecretKey
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}))

	c := &Client{cfg: cfg, logger: logger}
	c.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
		IsSuccessful: isSuccessful,
	})
	return c
}

// isSuccessful keeps client errors from tripping the breaker: a 4xx means
// Stripe is up and rejected the request.
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	var serr *stripe.Error
	if errors.As(err, &serr) {
		return serr.HTTPStatusCode > 0 && serr.HTTPStatusCode < 500
	}
	return false
}

// call runs fn through the breaker and records the outcome.
func call[T any](ctx context.Context, c *Client, op string, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	v, err := c.breaker.Execute(func() (any, error) {
		return fn()
	})
	outcome := "ok"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		outcome = "rejected"
	case err != nil:
		outcome = "error"
	}
	metrics.StripeRequests.WithLabelValues(op, outcome).Inc()

	if err != nil {
		return zero, fmt.Errorf("stripe %s: %w", op, err)
	}
	return v.(T), nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

func (c *Client) CreateCustomer(ctx context.Context, in billing.CustomerInput) (*stripe.Customer, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.CustomerParams{
		Email: stripe.String(in.Email),
	}
	params.Context = ctx
	params.AddMetadata(billing.MetaUserID, strconv.FormatInt(in.UserID, 10))
	params.AddMetadata(billing.MetaPropertyLimit, strconv.Itoa(in.PropertyLimit))
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	return call(ctx, c, "customer.create", func() (*stripe.Customer, error) {
		return customer.New(params)
	})
}

func (c *Client) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.CustomerParams{}
	params.Context = ctx

	return call(ctx, c, "customer.get", func() (*stripe.Customer, error) {
		return customer.Get(id, params)
	})
}

func (c *Client) UpdateCustomerMetadata(ctx context.Context, id string, metadata map[string]string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.CustomerParams{}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	_, err := call(ctx, c, "customer.update", func() (*stripe.Customer, error) {
		return customer.Update(id, params)
	})
	return err
}

func (c *Client) DeleteCustomer(ctx context.Context, id string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.CustomerParams{}
	params.Context = ctx

	_, err := call(ctx, c, "customer.delete", func() (*stripe.Customer, error) {
		return customer.Del(id, params)
	})
	return err
}

func (c *Client) CreateCheckoutSession(ctx context.Context, in billing.CheckoutInput) (*stripe.CheckoutSession, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	userID := strconv.FormatInt(in.UserID, 10)
	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(in.CustomerID),
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(userID),
		SuccessURL:        stripe.String(in.SuccessURL),
		CancelURL:         stripe.String(in.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata(billing.MetaUserID, userID)
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	return call(ctx, c, "checkout_session.create", func() (*stripe.CheckoutSession, error) {
		return checksession.New(params)
	})
}

func (c *Client) GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	return call(ctx, c, "checkout_session.get", func() (*stripe.CheckoutSession, error) {
		return checksession.Get(id, params)
	})
}

func (c *Client) CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := call(ctx, c, "billing_portal_session.create", func() (*stripe.BillingPortalSession, error) {
		return portalsession.New(params)
	})
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}

func (c *Client) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	return call(ctx, c, "subscription.get", func() (*stripe.Subscription, error) {
		return subscription.Get(id, params)
	})
}

func (c *Client) GetPrice(ctx context.Context, id string) (*stripe.Price, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.PriceParams{}
	params.Context = ctx

	return call(ctx, c, "price.get", func() (*stripe.Price, error) {
		return price.Get(id, params)
	})
}

func (c *Client) GetProduct(ctx context.Context, id string) (*stripe.Product, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.ProductParams{}
	params.Context = ctx

	return call(ctx, c, "product.get", func() (*stripe.Product, error) {
		return product.Get(id, params)
	})
}

// GetEvent fetches an event Stripe has already delivered, for replays.
func (c *Client) GetEvent(ctx context.Context, id string) (*stripe.Event, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.EventParams{}
	params.Context = ctx

	return call(ctx, c, "event.get", func() (*stripe.Event, error) {
		return event.Get(id, params)
	})
}

// ConstructEvent verifies the Stripe-Signature header and parses the event.
// Events from a newer API version than the library's are still accepted.
func (c *Client) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, c.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}
