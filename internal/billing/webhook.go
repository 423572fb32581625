package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/stayscan/internal/metrics"
	"github.com/dukerupert/stayscan/internal/model"
	"github.com/dukerupert/stayscan/internal/retry"
)

// Outcome is how a single event delivery was handled.
type Outcome string

const (
	OutcomeProcessed    Outcome = "processed"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeUnattributed Outcome = "unattributed"
	OutcomeStoreError   Outcome = "store_error"
	OutcomeFailed       Outcome = "failed"
)

// EventLedger remembers which events have been processed.
type EventLedger interface {
	Record(ctx context.Context, eventID, eventType string, created int64) (*model.WebhookEvent, error)
	MarkProcessed(ctx context.Context, eventID, procErr string) error
}

// Webhooks dispatches verified Stripe events.
type Webhooks struct {
	provider   Provider
	reconciler *Reconciler
	ledger     EventLedger
	policy     retry.Policy
	logger     *slog.Logger
}

func NewWebhooks(provider Provider, reconciler *Reconciler, ledger EventLedger, policy retry.Policy, logger *slog.Logger) *Webhooks {
	return &Webhooks{
		provider:   provider,
		reconciler: reconciler,
		ledger:     ledger,
		policy:     policy,
		logger:     logger,
	}
}

// Verify checks the Stripe-Signature header and parses the event.
func (w *Webhooks) Verify(payload []byte, signature string) (stripe.Event, error) {
	return w.provider.ConstructEvent(payload, signature)
}

// Process handles one event. A non-nil error means Stripe should redeliver
// it: the event could not be read or Stripe itself could not be reached.
// Events that cannot be attributed to a user, and local write failures, are
// logged and reported through the Outcome only.
func (w *Webhooks) Process(ctx context.Context, event stripe.Event) (Outcome, error) {
	outcome, err := w.process(ctx, event)
	metrics.WebhookEvents.WithLabelValues(string(event.Type), string(outcome)).Inc()
	return outcome, err
}

func (w *Webhooks) process(ctx context.Context, event stripe.Event) (Outcome, error) {
	log := w.logger.With("event_id", event.ID, "type", event.Type)

	if !handled(event.Type) {
		log.Debug("ignoring webhook event")
		return OutcomeIgnored, nil
	}

	if event.ID != "" {
		entry, err := retry.Value(ctx, w.policy, func(ctx context.Context) (*model.WebhookEvent, error) {
			return w.ledger.Record(ctx, event.ID, string(event.Type), event.Created)
		})
		if err != nil {
			log.Warn("record webhook event", "error", err)
		} else if entry.ProcessedAt != nil {
			log.Info("duplicate webhook event")
			return OutcomeDuplicate, nil
		}
	}

	return w.run(ctx, log, event)
}

// Replay handles an event again even when the ledger has already seen it.
// The out-of-order guard still applies, so a replay never rolls a row back.
func (w *Webhooks) Replay(ctx context.Context, event stripe.Event) (Outcome, error) {
	log := w.logger.With("event_id", event.ID, "type", event.Type, "replay", true)
	if !handled(event.Type) {
		return OutcomeIgnored, nil
	}
	outcome, err := w.run(ctx, log, event)
	metrics.WebhookEvents.WithLabelValues(string(event.Type), string(outcome)).Inc()
	return outcome, err
}

func (w *Webhooks) run(ctx context.Context, log *slog.Logger, event stripe.Event) (Outcome, error) {
	err := w.dispatch(ctx, event)
	outcome := OutcomeProcessed
	switch {
	case err == nil:
	case errors.Is(err, ErrNoUserID), errors.Is(err, ErrUserNotFound):
		log.Warn("webhook event not attributable", "error", err)
		outcome, err = OutcomeUnattributed, nil
	case errors.Is(err, ErrStore):
		log.Error("webhook reconcile write failed", "error", err)
		w.finish(ctx, log, event.ID, err.Error())
		return OutcomeStoreError, nil
	default:
		log.Error("webhook processing failed", "error", err)
		w.finish(ctx, log, event.ID, err.Error())
		return OutcomeFailed, err
	}

	w.finish(ctx, log, event.ID, "")
	return outcome, nil
}

func (w *Webhooks) finish(ctx context.Context, log *slog.Logger, eventID, procErr string) {
	if eventID == "" {
		return
	}
	err := retry.Do(ctx, w.policy, func(ctx context.Context) error {
		return w.ledger.MarkProcessed(ctx, eventID, procErr)
	})
	if err != nil {
		log.Warn("mark webhook event", "error", err)
	}
}

func handled(t stripe.EventType) bool {
	switch t {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"checkout.session.completed":
		return true
	}
	return false
}

func (w *Webhooks) dispatch(ctx context.Context, event stripe.Event) error {
	if event.Data == nil {
		return errors.New("event has no data")
	}
	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("unmarshal subscription: %w", err)
		}
		if event.Type == "customer.subscription.deleted" {
			sub.Status = stripe.SubscriptionStatusCanceled
		}
		_, err := w.reconciler.Apply(ctx, &sub, SourceWebhook, event.Created)
		return err

	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("unmarshal checkout session: %w", err)
		}
		if sess.Mode != stripe.CheckoutSessionModeSubscription || sess.Subscription == nil || sess.Subscription.ID == "" {
			w.logger.Debug("checkout session without subscription", "session_id", sess.ID, "mode", sess.Mode)
			return nil
		}
		sub, err := w.provider.GetSubscription(ctx, sess.Subscription.ID)
		if err != nil {
			return fmt.Errorf("get subscription: %w", err)
		}
		_, err = w.reconciler.Apply(ctx, sub, SourceWebhook, event.Created)
		return err
	}
	return nil
}
