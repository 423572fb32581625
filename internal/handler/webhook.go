package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/stayscan/internal/billing"
)

const maxWebhookBytes = 1 << 20

// EventProcessor verifies and handles Stripe events.
type EventProcessor interface {
	Verify(payload []byte, signature string) (stripe.Event, error)
	Process(ctx context.Context, event stripe.Event) (billing.Outcome, error)
}

type WebhookHandler struct {
	events EventProcessor
	logger *slog.Logger
}

func NewWebhookHandler(events EventProcessor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{events: events, logger: logger}
}

// HandleStripeWebhook verifies the Stripe-Signature header before anything
// is read from the event. Only failures Stripe should retry answer 500.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("webhook payload too large", "limit", tooLarge.Limit)
			writeError(w, http.StatusRequestEntityTooLarge, "Webhook Error: payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Webhook Error: read body")
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		writeError(w, http.StatusBadRequest, "No Stripe signature found")
		return
	}

	event, err := h.events.Verify(body, sig)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		writeError(w, http.StatusBadRequest, "Webhook Error: "+err.Error())
		return
	}

	outcome, err := h.events.Process(r.Context(), event)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Webhook handler failed")
		return
	}

	h.logger.Debug("webhook handled", "event_id", event.ID, "type", event.Type, "outcome", outcome)
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
