package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/stayscan/internal/model"
	"github.com/dukerupert/stayscan/internal/retry"
	"github.com/dukerupert/stayscan/internal/store"
)

// Subscriptions serves a user's own subscription row.
type Subscriptions struct {
	users      UserStore
	subs       SubscriptionStore
	reconciler *Reconciler
	policy     retry.Policy
	logger     *slog.Logger
	now        func() time.Time
}

func NewSubscriptions(users UserStore, subs SubscriptionStore, reconciler *Reconciler, policy retry.Policy, logger *slog.Logger) *Subscriptions {
	return &Subscriptions{
		users:      users,
		subs:       subs,
		reconciler: reconciler,
		policy:     policy,
		logger:     logger,
		now:        time.Now,
	}
}

// Current returns the user's subscription. A user without one gets the
// active Free plan; a user with a Stripe subscription gets its live state.
// A failed refresh falls back to the stored row.
func (s *Subscriptions) Current(ctx context.Context, externalID string) (*model.Subscription, error) {
	user, err := retry.Value(ctx, s.policy, func(ctx context.Context) (*model.User, error) {
		return s.users.Upsert(ctx, externalID, "")
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}

	sub, created, err := s.ensure(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info("created free subscription", "user_id", user.ID)
		return sub, nil
	}
	if sub.StripeSubscriptionID == nil {
		return sub, nil
	}

	res, err := s.reconciler.Pull(ctx, *sub.StripeSubscriptionID, SourcePull)
	if err != nil {
		s.logger.Warn("refresh subscription from stripe", "user_id", user.ID, "error", err)
		return sub, nil
	}
	return res.Current, nil
}

// Ensure returns the user's row, creating the Free default if missing.
func (s *Subscriptions) Ensure(ctx context.Context, userID int64) (*model.Subscription, error) {
	sub, _, err := s.ensure(ctx, userID)
	return sub, err
}

func (s *Subscriptions) ensure(ctx context.Context, userID int64) (*model.Subscription, bool, error) {
	var created bool
	sub, err := retry.Value(ctx, s.policy, func(ctx context.Context) (*model.Subscription, error) {
		sub, c, err := s.subs.CreateDefault(ctx, userID, store.FreeDefaults(model.StatusActive, s.now()))
		created = c
		return sub, err
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return sub, created, nil
}

// SetCustomer points the user's row at a Stripe customer.
func (s *Subscriptions) SetCustomer(ctx context.Context, externalID, customerID string) (*model.Subscription, error) {
	user, err := retry.Value(ctx, s.policy, func(ctx context.Context) (*model.User, error) {
		return s.users.GetByExternalID(ctx, externalID)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	sub, err := retry.Value(ctx, s.policy, func(ctx context.Context) (*model.Subscription, error) {
		return s.subs.SetCustomer(ctx, user.ID, customerID, store.FreeDefaults(model.StatusActive, s.now()))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return sub, nil
}
