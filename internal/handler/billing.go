package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/stayscan/internal/billing"
	"github.com/dukerupert/stayscan/internal/identity"
	"github.com/dukerupert/stayscan/internal/model"
	"github.com/dukerupert/stayscan/internal/store"
)

// CheckoutService starts and inspects checkout sessions.
type CheckoutService interface {
	Start(ctx context.Context, externalID string, req billing.CheckoutRequest, idempotencyKey string) (*billing.CheckoutResult, error)
	Session(ctx context.Context, externalID, sessionID string) (*billing.SessionStatus, error)
	PortalURL(ctx context.Context, externalID string) (string, error)
}

// SubscriptionService serves a user's subscription row.
type SubscriptionService interface {
	Current(ctx context.Context, externalID string) (*model.Subscription, error)
	SetCustomer(ctx context.Context, externalID, customerID string) (*model.Subscription, error)
}

type BillingHandler struct {
	checkout      CheckoutService
	subscriptions SubscriptionService
	logger        *slog.Logger
}

func NewBillingHandler(checkout CheckoutService, subscriptions SubscriptionService, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{checkout: checkout, subscriptions: subscriptions, logger: logger}
}

func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req billing.CheckoutRequest
	if !decode(w, r, &req) {
		return
	}

	subject := identity.Subject(r.Context())
	res, err := h.checkout.Start(r.Context(), subject, req, r.Header.Get("Idempotency-Key"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, billing.ErrUnknownPrice):
		writeError(w, http.StatusBadRequest, "Invalid priceId")
	case errors.Is(err, billing.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	default:
		h.logger.Error("create checkout session", "subject", subject, "price_id", req.PriceID, "error", err)
		writeError(w, http.StatusInternalServerError, "Error creating checkout session")
	}
}

func (h *BillingHandler) GetCheckoutSession(w http.ResponseWriter, r *http.Request) {
	subject := identity.Subject(r.Context())
	status, err := h.checkout.Session(r.Context(), subject, r.PathValue("id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, status)
	case errors.Is(err, billing.ErrUserNotFound), errors.Is(err, billing.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "Checkout session not found")
	default:
		h.logger.Error("get checkout session", "subject", subject, "error", err)
		writeError(w, http.StatusInternalServerError, "Error retrieving checkout session")
	}
}

func (h *BillingHandler) BillingPortal(w http.ResponseWriter, r *http.Request) {
	subject := identity.Subject(r.Context())
	url, err := h.checkout.PortalURL(r.Context(), subject)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	case errors.Is(err, billing.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, billing.ErrNoCustomer):
		writeError(w, http.StatusBadRequest, "No billing account for this user")
	default:
		h.logger.Error("create billing portal session", "subject", subject, "error", err)
		writeError(w, http.StatusInternalServerError, "Error creating billing portal session")
	}
}

func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	subject := identity.Subject(r.Context())
	sub, err := h.subscriptions.Current(r.Context(), subject)
	if err != nil {
		serverError(w, h.logger, "Failed to fetch subscription", err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *BillingHandler) SetSubscriptionCustomer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StripeCustomerID string `json:"stripeCustomerId" validate:"required,startswith=cus_"`
	}
	if !decode(w, r, &req) {
		return
	}

	sub, err := h.subscriptions.SetCustomer(r.Context(), identity.Subject(r.Context()), req.StripeCustomerID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sub)
	case errors.Is(err, billing.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case store.IsUniqueViolation(err):
		writeError(w, http.StatusConflict, "Customer already linked to another user")
	default:
		serverError(w, h.logger, "Failed to update subscription", err)
	}
}
