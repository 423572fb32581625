package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/stayscan/internal/billing"
	"github.com/dukerupert/stayscan/internal/model"
)

type fakeCheckout struct {
	starts   []billing.CheckoutRequest
	idemKeys []string
	err      error
	portal   string
}

func (f *fakeCheckout) Start(ctx context.Context, externalID string, req billing.CheckoutRequest, idempotencyKey string) (*billing.CheckoutResult, error) {
	f.starts = append(f.starts, req)
	f.idemKeys = append(f.idemKeys, idempotencyKey)
	if f.err != nil {
		return nil, f.err
	}
	return &billing.CheckoutResult{SessionID: "cs_1", URL: "https://checkout.stripe.test/cs_1"}, nil
}

func (f *fakeCheckout) Session(ctx context.Context, externalID, sessionID string) (*billing.SessionStatus, error) {
	if sessionID != "cs_1" {
		return nil, billing.ErrSessionNotFound
	}
	return &billing.SessionStatus{Status: "complete", PaymentStatus: "paid"}, nil
}

func (f *fakeCheckout) PortalURL(ctx context.Context, externalID string) (string, error) {
	if f.portal == "" {
		return "", billing.ErrNoCustomer
	}
	return f.portal, nil
}

type fakeSubscriptions struct {
	setErr error
}

func (f *fakeSubscriptions) Current(ctx context.Context, externalID string) (*model.Subscription, error) {
	return &model.Subscription{Name: "free", PropertyLimit: 1, Status: model.StatusActive}, nil
}

func (f *fakeSubscriptions) SetCustomer(ctx context.Context, externalID, customerID string) (*model.Subscription, error) {
	if f.setErr != nil {
		return nil, f.setErr
	}
	return &model.Subscription{Name: "free", PropertyLimit: 1, Status: model.StatusActive, StripeCustomerID: &customerID}, nil
}

func TestCheckoutMissingPriceID(t *testing.T) {
	checkout := &fakeCheckout{}
	h := NewBillingHandler(checkout, &fakeSubscriptions{}, discard)

	rr := httptest.NewRecorder()
	h.CreateCheckoutSession(rr, request(http.MethodPost, "/api/create-checkout-session", "user_host",
		map[string]any{"propertyLimit": 3}))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Missing required field: priceId", errorMessage(t, rr))
	assert.Empty(t, checkout.starts)
}

func TestCheckoutInvalidPropertyLimit(t *testing.T) {
	checkout := &fakeCheckout{}
	h := NewBillingHandler(checkout, &fakeSubscriptions{}, discard)

	rr := httptest.NewRecorder()
	h.CreateCheckoutSession(rr, request(http.MethodPost, "/api/create-checkout-session", "user_host",
		map[string]any{"priceId": "price_pro", "propertyLimit": 0, "extra": true}))
	require.Equal(t, http.StatusOK, rr.Code, "zero means unset")

	rr = httptest.NewRecorder()
	h.CreateCheckoutSession(rr, request(http.MethodPost, "/api/create-checkout-session", "user_host",
		map[string]any{"priceId": "price_pro", "propertyLimit": -2}))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "propertyLimit must be at least 1", errorMessage(t, rr))
}

func TestCheckoutStarted(t *testing.T) {
	checkout := &fakeCheckout{}
	h := NewBillingHandler(checkout, &fakeSubscriptions{}, discard)

	req := request(http.MethodPost, "/api/create-checkout-session", "user_host",
		map[string]any{"priceId": "price_pro", "propertyLimit": 15})
	req.Header.Set("Idempotency-Key", "abc")
	rr := httptest.NewRecorder()
	h.CreateCheckoutSession(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"sessionId":"cs_1","url":"https://checkout.stripe.test/cs_1"}`, rr.Body.String())
	require.Len(t, checkout.starts, 1)
	assert.Equal(t, 15, checkout.starts[0].PropertyLimit)
	assert.Equal(t, []string{"abc"}, checkout.idemKeys)
}

func TestCheckoutErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		msg    string
	}{
		{billing.ErrUnknownPrice, http.StatusBadRequest, "Invalid priceId"},
		{billing.ErrUserNotFound, http.StatusNotFound, "User not found"},
		{errors.New("stripe down"), http.StatusInternalServerError, "Error creating checkout session"},
	}
	for _, tt := range tests {
		h := NewBillingHandler(&fakeCheckout{err: tt.err}, &fakeSubscriptions{}, discard)
		rr := httptest.NewRecorder()
		h.CreateCheckoutSession(rr, request(http.MethodPost, "/api/create-checkout-session", "user_host",
			map[string]any{"priceId": "price_x"}))
		assert.Equal(t, tt.status, rr.Code)
		assert.Equal(t, tt.msg, errorMessage(t, rr))
	}
}

func TestGetCheckoutSession(t *testing.T) {
	h := NewBillingHandler(&fakeCheckout{}, &fakeSubscriptions{}, discard)

	req := request(http.MethodGet, "/api/checkout-session/cs_1", "user_host", nil)
	req.SetPathValue("id", "cs_1")
	rr := httptest.NewRecorder()
	h.GetCheckoutSession(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	req = request(http.MethodGet, "/api/checkout-session/cs_other", "user_host", nil)
	req.SetPathValue("id", "cs_other")
	rr = httptest.NewRecorder()
	h.GetCheckoutSession(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBillingPortal(t *testing.T) {
	h := NewBillingHandler(&fakeCheckout{}, &fakeSubscriptions{}, discard)
	rr := httptest.NewRecorder()
	h.BillingPortal(rr, request(http.MethodPost, "/api/billing-portal", "user_host", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	h = NewBillingHandler(&fakeCheckout{portal: "https://billing.stripe.test/p"}, &fakeSubscriptions{}, discard)
	rr = httptest.NewRecorder()
	h.BillingPortal(rr, request(http.MethodPost, "/api/billing-portal", "user_host", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"url":"https://billing.stripe.test/p"}`, rr.Body.String())
}

func TestSetSubscriptionCustomer(t *testing.T) {
	h := NewBillingHandler(&fakeCheckout{}, &fakeSubscriptions{}, discard)

	rr := httptest.NewRecorder()
	h.SetSubscriptionCustomer(rr, request(http.MethodPost, "/api/subscription", "user_host", map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Missing required field: stripeCustomerId", errorMessage(t, rr))

	rr = httptest.NewRecorder()
	h.SetSubscriptionCustomer(rr, request(http.MethodPost, "/api/subscription", "user_host",
		map[string]string{"stripeCustomerId": "cus_123"}))
	require.Equal(t, http.StatusOK, rr.Code)
	sub := decodeBody[map[string]any](t, rr)
	assert.Equal(t, "cus_123", sub["stripeCustomerId"])
}

func TestGetSubscription(t *testing.T) {
	h := NewBillingHandler(&fakeCheckout{}, &fakeSubscriptions{}, discard)
	rr := httptest.NewRecorder()
	h.GetSubscription(rr, request(http.MethodGet, "/api/subscription", "user_host", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	sub := decodeBody[map[string]any](t, rr)
	assert.Equal(t, "free", sub["name"])
	assert.EqualValues(t, 0, sub["price"])
	assert.EqualValues(t, 1, sub["propertyLimit"])
}
