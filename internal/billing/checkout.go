package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/stayscan/internal/metrics"
	"github.com/dukerupert/stayscan/internal/model"
	"github.com/dukerupert/stayscan/internal/plan"
	"github.com/dukerupert/stayscan/internal/retry"
	"github.com/dukerupert/stayscan/internal/store"
)

// checkoutNamespace seeds derived checkout idempotency keys.
var checkoutNamespace = uuid.MustParse("6f1c3c8e-52a4-4f43-9a57-6a3f0f2b8d11")

// idempotencyWindow is how long a repeated checkout request for the same
// price reuses the same Stripe session.
const idempotencyWindow = 10 * time.Minute

// EmailLookup resolves a user's primary email from the identity provider.
type EmailLookup interface {
	PrimaryEmail(ctx context.Context, externalID string) (string, error)
}

// CheckoutRequest is the body of a checkout session request.
type CheckoutRequest struct {
	PriceID       string `json:"priceId" validate:"required"`
	PropertyLimit int    `json:"propertyLimit" validate:"omitempty,min=1"`
}

type CheckoutResult struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// SessionStatus is what a returning browser learns about its checkout.
type SessionStatus struct {
	Status        string              `json:"status"`
	PaymentStatus string              `json:"paymentStatus"`
	Subscription  *model.Subscription `json:"subscription"`
}

// Checkout starts Stripe checkout sessions for local users.
type Checkout struct {
	provider   Provider
	users      UserStore
	subs       SubscriptionStore
	identity   EmailLookup
	catalog    *plan.Catalog
	reconciler *Reconciler
	policy     retry.Policy
	appURL     string
	logger     *slog.Logger
	now        func() time.Time
}

func NewCheckout(provider Provider, users UserStore, subs SubscriptionStore, identity EmailLookup,
	catalog *plan.Catalog, reconciler *Reconciler, policy retry.Policy, appURL string, logger *slog.Logger) *Checkout {
	return &Checkout{
		provider:   provider,
		users:      users,
		subs:       subs,
		identity:   identity,
		catalog:    catalog,
		reconciler: reconciler,
		policy:     policy,
		appURL:     appURL,
		logger:     logger,
		now:        time.Now,
	}
}

// Start creates a checkout session for the user behind externalID. A
// non-empty idempotencyKey is passed to Stripe as-is; otherwise one is
// derived from the user, the price and the current time window.
func (c *Checkout) Start(ctx context.Context, externalID string, req CheckoutRequest, idempotencyKey string) (*CheckoutResult, error) {
	res, err := c.start(ctx, externalID, req, idempotencyKey)
	if err != nil {
		metrics.CheckoutSessions.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.CheckoutSessions.WithLabelValues("created").Inc()
	return res, nil
}

func (c *Checkout) start(ctx context.Context, externalID string, req CheckoutRequest, idempotencyKey string) (*CheckoutResult, error) {
	p, ok := c.catalog.ByPriceID(req.PriceID)
	if !ok {
		return nil, fmt.Errorf("price %q: %w", req.PriceID, ErrUnknownPrice)
	}
	limit := req.PropertyLimit
	if limit == 0 {
		limit = p.PropertyLimit
	}

	user, err := c.lookupUser(ctx, externalID)
	if err != nil {
		return nil, err
	}

	customerID, err := c.ensureCustomer(ctx, user, externalID, limit)
	if err != nil {
		return nil, err
	}

	if idempotencyKey == "" {
		window := c.now().Unix() / int64(idempotencyWindow/time.Second)
		name := fmt.Sprintf("checkout:%d:%s:%d:%d", user.ID, req.PriceID, limit, window)
		idempotencyKey = uuid.NewSHA1(checkoutNamespace, []byte(name)).String()
	}

	sess, err := c.provider.CreateCheckoutSession(ctx, CheckoutInput{
		CustomerID:     customerID,
		PriceID:        req.PriceID,
		UserID:         user.ID,
		SuccessURL:     c.appURL + "/dashboard?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:      c.appURL + "/dashboard/billing",
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	c.logger.Info("checkout session created", "user_id", user.ID, "session_id", sess.ID, "plan", p.Name)
	return &CheckoutResult{SessionID: sess.ID, URL: sess.URL}, nil
}

func (c *Checkout) lookupUser(ctx context.Context, externalID string) (*model.User, error) {
	user, err := retry.Value(ctx, c.policy, func(ctx context.Context) (*model.User, error) {
		return c.users.GetByExternalID(ctx, externalID)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ensureCustomer returns the user's Stripe customer, creating it on first
// checkout or when the stored one has been deleted. A customer created here
// is deleted again if the local row cannot be written, so no orphan is left
// behind.
func (c *Checkout) ensureCustomer(ctx context.Context, user *model.User, externalID string, limit int) (string, error) {
	sub, err := retry.Value(ctx, c.policy, func(ctx context.Context) (*model.Subscription, error) {
		return c.subs.GetByUserID(ctx, user.ID)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStore, err)
	}

	if sub != nil && sub.StripeCustomerID != nil {
		id := *sub.StripeCustomerID
		gone, err := c.customerGone(ctx, id)
		if err != nil {
			return "", fmt.Errorf("get customer: %w", err)
		}
		if !gone {
			err := c.provider.UpdateCustomerMetadata(ctx, id, map[string]string{
				MetaUserID:        strconv.FormatInt(user.ID, 10),
				MetaPropertyLimit: strconv.Itoa(limit),
			})
			if err != nil {
				return "", fmt.Errorf("update customer: %w", err)
			}
			return id, nil
		}
		c.logger.Warn("stored stripe customer is gone, creating a new one", "customer_id", id, "user_id", user.ID)
	}

	email := user.Email
	if email == "" {
		email, err = c.identity.PrimaryEmail(ctx, externalID)
		if err != nil {
			return "", fmt.Errorf("lookup email: %w", err)
		}
	}

	window := c.now().Unix() / int64(idempotencyWindow/time.Second)
	in := CustomerInput{
		Email:          email,
		UserID:         user.ID,
		PropertyLimit:  limit,
		IdempotencyKey: fmt.Sprintf("customer-create-user-%d-%d", user.ID, window),
	}
	cust, err := c.provider.CreateCustomer(ctx, in)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}

	// A key reused within the window replays the original response, which
	// may name a customer rolled back by an earlier attempt.
	gone, err := c.customerGone(ctx, cust.ID)
	if err != nil {
		return "", fmt.Errorf("get customer: %w", err)
	}
	if gone {
		in.IdempotencyKey = fmt.Sprintf("customer-create-user-%d-%s", user.ID, uuid.NewString())
		cust, err = c.provider.CreateCustomer(ctx, in)
		if err != nil {
			return "", fmt.Errorf("create customer: %w", err)
		}
	}

	_, err = retry.Value(ctx, c.policy, func(ctx context.Context) (*model.Subscription, error) {
		return c.subs.SetCustomer(ctx, user.ID, cust.ID, store.FreeDefaults(model.StatusInactive, c.now()))
	})
	if err != nil {
		if delErr := c.provider.DeleteCustomer(context.WithoutCancel(ctx), cust.ID); delErr != nil {
			c.logger.Error("orphaned stripe customer", "customer_id", cust.ID, "user_id", user.ID, "error", delErr)
		} else {
			c.logger.Warn("rolled back stripe customer", "customer_id", cust.ID, "user_id", user.ID)
		}
		return "", fmt.Errorf("%w: save customer: %w", ErrStore, err)
	}

	c.logger.Info("stripe customer created", "customer_id", cust.ID, "user_id", user.ID)
	return cust.ID, nil
}

// customerGone reports whether Stripe no longer has a live customer by id.
func (c *Checkout) customerGone(ctx context.Context, id string) (bool, error) {
	cust, err := c.provider.GetCustomer(ctx, id)
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.HTTPStatusCode == http.StatusNotFound {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return cust.Deleted, nil
}

// Session reports on a checkout session the user started and, once it has
// produced a subscription, reconciles that subscription immediately.
func (c *Checkout) Session(ctx context.Context, externalID, sessionID string) (*SessionStatus, error) {
	user, err := c.lookupUser(ctx, externalID)
	if err != nil {
		return nil, err
	}

	sess, err := c.provider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	if sess.Metadata[MetaUserID] != strconv.FormatInt(user.ID, 10) {
		return nil, ErrSessionNotFound
	}

	status := &SessionStatus{
		Status:        string(sess.Status),
		PaymentStatus: string(sess.PaymentStatus),
	}
	if sess.Subscription != nil && sess.Subscription.ID != "" {
		res, err := c.reconciler.Pull(ctx, sess.Subscription.ID, SourcePull)
		if err != nil {
			return nil, err
		}
		status.Subscription = res.Current
	}
	return status, nil
}

// PortalURL opens a billing portal session for the user's customer.
func (c *Checkout) PortalURL(ctx context.Context, externalID string) (string, error) {
	user, err := c.lookupUser(ctx, externalID)
	if err != nil {
		return "", err
	}
	sub, err := retry.Value(ctx, c.policy, func(ctx context.Context) (*model.Subscription, error) {
		return c.subs.GetByUserID(ctx, user.ID)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStore, err)
	}
	if sub == nil || sub.StripeCustomerID == nil {
		return "", ErrNoCustomer
	}

	url, err := c.provider.CreateBillingPortalSession(ctx, *sub.StripeCustomerID, c.appURL+"/dashboard/billing")
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return url, nil
}
