package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/stayscan/internal/metrics"
	"github.com/dukerupert/stayscan/internal/model"
	"github.com/dukerupert/stayscan/internal/retry"
	"github.com/dukerupert/stayscan/internal/store"
)

// Source names the path a reconcile came from.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePull    Source = "pull"
	SourceSweep   Source = "sweep"
)

type UserStore interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByExternalID(ctx context.Context, externalID string) (*model.User, error)
	Upsert(ctx context.Context, externalID, email string) (*model.User, error)
}

type SubscriptionStore interface {
	GetByUserID(ctx context.Context, userID int64) (*model.Subscription, error)
	CreateDefault(ctx context.Context, userID int64, d store.Defaults) (*model.Subscription, bool, error)
	SetCustomer(ctx context.Context, userID int64, customerID string, d store.Defaults) (*model.Subscription, error)
	Reconcile(ctx context.Context, userID int64, f model.SubscriptionFields, sourceUpdatedAt int64) (*store.ReconcileResult, error)
	ListLinked(ctx context.Context) ([]model.Subscription, error)
}

// Notifier is told about rows whose status changed.
type Notifier interface {
	SubscriptionChanged(ctx context.Context, customer *stripe.Customer, prev, cur *model.Subscription)
}

// Reconciler writes Stripe subscription state onto local rows.
type Reconciler struct {
	provider Provider
	users    UserStore
	subs     SubscriptionStore
	notifier Notifier
	policy   retry.Policy
	logger   *slog.Logger
	now      func() time.Time
}

func NewReconciler(provider Provider, users UserStore, subs SubscriptionStore, policy retry.Policy, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		provider: provider,
		users:    users,
		subs:     subs,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}
}

// SetNotifier registers n to hear about status changes.
func (r *Reconciler) SetNotifier(n Notifier) {
	r.notifier = n
}

// Fetch loads the customer, price and product behind sub.
func (r *Reconciler) Fetch(ctx context.Context, sub *stripe.Subscription) (Snapshot, error) {
	snap := Snapshot{Subscription: sub}
	if sub.Customer == nil || sub.Customer.ID == "" {
		return snap, fmt.Errorf("subscription %s has no customer", sub.ID)
	}

	cust, err := r.provider.GetCustomer(ctx, sub.Customer.ID)
	if err != nil {
		return snap, fmt.Errorf("get customer: %w", err)
	}
	snap.Customer = cust

	item := firstItem(sub)
	if item == nil || item.Price == nil {
		return snap, ErrNoItems
	}
	price, err := r.provider.GetPrice(ctx, item.Price.ID)
	if err != nil {
		return snap, fmt.Errorf("get price: %w", err)
	}
	snap.Price = price

	if price.Product != nil && price.Product.ID != "" {
		product, err := r.provider.GetProduct(ctx, price.Product.ID)
		if err != nil {
			return snap, fmt.Errorf("get product: %w", err)
		}
		snap.Product = product
	}
	return snap, nil
}

// Apply reconciles sub onto its owner's row. sourceTime is the unix time of
// the Stripe fact; older facts than the one already stored are skipped.
//
// Errors wrapping ErrNoUserID or ErrUserNotFound mean the event cannot be
// attributed. Errors wrapping ErrStore mean Stripe was read but the write
// failed. Anything else is a Stripe failure.
func (r *Reconciler) Apply(ctx context.Context, sub *stripe.Subscription, source Source, sourceTime int64) (*store.ReconcileResult, error) {
	res, err := r.apply(ctx, sub, sourceTime)
	outcome := "applied"
	switch {
	case err != nil && (errors.Is(err, ErrNoUserID) || errors.Is(err, ErrUserNotFound)):
		outcome = "unattributed"
	case errors.Is(err, ErrStore):
		outcome = "store_error"
	case err != nil:
		outcome = "provider_error"
	case !res.Applied:
		outcome = "stale"
	}
	metrics.Reconciliations.WithLabelValues(string(source), outcome).Inc()
	return res, err
}

func (r *Reconciler) apply(ctx context.Context, sub *stripe.Subscription, sourceTime int64) (*store.ReconcileResult, error) {
	snap, err := r.Fetch(ctx, sub)
	if err != nil {
		return nil, err
	}

	userID, ok := UserID(snap.Customer)
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", snap.Customer.ID, ErrNoUserID)
	}

	user, err := retry.Value(ctx, r.policy, func(ctx context.Context) (*model.User, error) {
		return r.users.GetByID(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %d: %w", userID, ErrUserNotFound)
	}

	fields := snap.Fields()
	res, err := retry.Value(ctx, r.policy, func(ctx context.Context) (*store.ReconcileResult, error) {
		return r.subs.Reconcile(ctx, user.ID, fields, sourceTime)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}

	if !res.Applied {
		r.logger.Info("skipped stale subscription state",
			"user_id", user.ID, "subscription_id", sub.ID, "source_time", sourceTime)
	} else if res.StatusChanged() {
		r.logger.Info("subscription status changed",
			"user_id", user.ID, "subscription_id", sub.ID, "status", res.Current.Status)
		if r.notifier != nil {
			r.notifier.SubscriptionChanged(ctx, snap.Customer, res.Previous, res.Current)
		}
	}
	return res, nil
}

// Pull fetches a subscription by id and applies its live state. The state
// is stamped with the time the fetch started, so an event Stripe emits while
// the fetch is in flight still counts as newer.
func (r *Reconciler) Pull(ctx context.Context, subscriptionID string, source Source) (*store.ReconcileResult, error) {
	started := r.now().Unix()
	sub, err := r.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		metrics.Reconciliations.WithLabelValues(string(source), "provider_error").Inc()
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return r.Apply(ctx, sub, source, started)
}

// SweepResult counts the outcome of a sweep.
type SweepResult struct {
	Checked int
	Updated int
	Failed  int
}

// Sweep pulls every linked row, or only userID's row when userID is non-zero.
// Individual failures are logged and counted; the sweep carries on.
func (r *Reconciler) Sweep(ctx context.Context, userID int64) (SweepResult, error) {
	var result SweepResult

	subs, err := retry.Value(ctx, r.policy, r.subs.ListLinked)
	if err != nil {
		return result, fmt.Errorf("list subscriptions: %w", err)
	}

	for _, sub := range subs {
		if userID != 0 && sub.UserID != userID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++

		res, err := r.Pull(ctx, *sub.StripeSubscriptionID, SourceSweep)
		if err != nil {
			result.Failed++
			r.logger.Error("sweep subscription", "user_id", sub.UserID, "subscription_id", *sub.StripeSubscriptionID, "error", err)
			continue
		}
		if res.Applied && res.Previous != nil && changed(res.Previous, res.Current) {
			result.Updated++
		}
	}
	return result, nil
}

func changed(a, b *model.Subscription) bool {
	return a.Status != b.Status ||
		a.Name != b.Name ||
		a.PriceCents != b.PriceCents ||
		a.PropertyLimit != b.PropertyLimit ||
		!sameTime(a.CurrentPeriodEnd, b.CurrentPeriodEnd)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
