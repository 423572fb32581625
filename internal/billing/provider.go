// Package billing keeps local subscription rows in step with Stripe.
//
// Rows are reconciled from two directions: Stripe pushes webhook events, and
// reads pull the live subscription. Both paths go through Reconciler and the
// same field mapping, so they converge on the same row.
package billing

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v82"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUnknownPrice    = errors.New("unknown price")
	ErrNoCustomer      = errors.New("no billing customer")
	ErrSessionNotFound = errors.New("checkout session not found")

	// ErrNoUserID marks a Stripe customer without a usable userId in its
	// metadata. Such events cannot be attributed and are dropped.
	ErrNoUserID = errors.New("customer has no userId metadata")

	// ErrNoItems marks a subscription without line items.
	ErrNoItems = errors.New("subscription has no items")

	// ErrStore wraps local persistence failures that survived retries.
	ErrStore = errors.New("store")
)

// CustomerInput describes a Stripe customer to create for a user.
type CustomerInput struct {
	Email          string
	UserID         int64
	PropertyLimit  int
	IdempotencyKey string
}

// CheckoutInput describes a subscription-mode checkout session.
type CheckoutInput struct {
	CustomerID     string
	PriceID        string
	UserID         int64
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// Provider is the subset of Stripe the billing flow uses.
type Provider interface {
	CreateCustomer(ctx context.Context, in CustomerInput) (*stripe.Customer, error)
	GetCustomer(ctx context.Context, id string) (*stripe.Customer, error)
	UpdateCustomerMetadata(ctx context.Context, id string, metadata map[string]string) error
	DeleteCustomer(ctx context.Context, id string) error

	CreateCheckoutSession(ctx context.Context, in CheckoutInput) (*stripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
	CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error)

	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	GetPrice(ctx context.Context, id string) (*stripe.Price, error)
	GetProduct(ctx context.Context, id string) (*stripe.Product, error)

	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}
