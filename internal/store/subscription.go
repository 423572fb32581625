package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/stayscan/internal/model"
	"github.com/dukerupert/stayscan/internal/plan"
)

type SubscriptionStore struct {
	db *sql.DB
}

func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.Subscription, error) {
	var sub model.Subscription
	var customerID, subscriptionID, priceID sql.NullString
	var start, end sql.NullTime
	err := scanner.Scan(
		&sub.ID, &sub.UserID, &sub.Name, &sub.PriceCents, &sub.PropertyLimit, &sub.Status,
		&customerID, &subscriptionID, &priceID, &start, &end,
		&sub.SourceUpdatedAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.StripeCustomerID = strPtr(customerID)
	sub.StripeSubscriptionID = strPtr(subscriptionID)
	sub.StripePriceID = strPtr(priceID)
	sub.CurrentPeriodStart = timePtr(start)
	sub.CurrentPeriodEnd = timePtr(end)
	return &sub, nil
}

const subscriptionCols = `id, user_id, name, price_cents, property_limit, status,
	stripe_customer_id, stripe_subscription_id, stripe_price_id,
	current_period_start, current_period_end, source_updated_at, created_at, updated_at`

// Defaults describes the Free row written when a user has no subscription yet.
type Defaults struct {
	Status      string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// FreeDefaults is a Free plan valid for one year from now.
func FreeDefaults(status string, now time.Time) Defaults {
	return Defaults{
		Status:      status,
		PeriodStart: now,
		PeriodEnd:   now.AddDate(1, 0, 0),
	}
}

func getSubscription(ctx context.Context, q queryer, where string, arg any) (*model.Subscription, error) {
	row := q.QueryRowContext(ctx, `SELECT `+subscriptionCols+` FROM subscriptions WHERE `+where+` = ?`, arg)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) GetByUserID(ctx context.Context, userID int64) (*model.Subscription, error) {
	return getSubscription(ctx, s.db, "user_id", userID)
}

func (s *SubscriptionStore) GetByCustomerID(ctx context.Context, customerID string) (*model.Subscription, error) {
	return getSubscription(ctx, s.db, "stripe_customer_id", customerID)
}

// CreateDefault inserts the Free row for a user unless one already exists.
// It returns the stored row and whether it was created by this call.
func (s *SubscriptionStore) CreateDefault(ctx context.Context, userID int64, d Defaults) (*model.Subscription, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, name, price_cents, property_limit, status, current_period_start, current_period_end)
		 VALUES (?, ?, 0, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, plan.FreeName, plan.FreePropertyLimit, d.Status, d.PeriodStart.UTC(), d.PeriodEnd.UTC(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert default subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	sub, err := s.GetByUserID(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return sub, n > 0, nil
}

// SetCustomer attaches a Stripe customer to the user's row, creating the
// Free row from d when the user has none.
func (s *SubscriptionStore) SetCustomer(ctx context.Context, userID int64, customerID string, d Defaults) (*model.Subscription, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, name, price_cents, property_limit, status, stripe_customer_id, current_period_start, current_period_end)
		 VALUES (?, ?, 0, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
			stripe_customer_id = excluded.stripe_customer_id,
			updated_at = CURRENT_TIMESTAMP`,
		userID, plan.FreeName, plan.FreePropertyLimit, d.Status, customerID, d.PeriodStart.UTC(), d.PeriodEnd.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("set subscription customer: %w", err)
	}
	return s.GetByUserID(ctx, userID)
}

// ReconcileResult reports what a reconcile did to a user's row.
type ReconcileResult struct {
	// Applied is false when the row already reflected a newer Stripe fact.
	Applied  bool
	Previous *model.Subscription
	Current  *model.Subscription
}

// StatusChanged reports whether the reconcile moved the row to a new status.
func (r *ReconcileResult) StatusChanged() bool {
	if !r.Applied || r.Current == nil {
		return false
	}
	return r.Previous == nil || r.Previous.Status != r.Current.Status
}

// Reconcile upserts the Stripe-derived fields for a user. The write is
// skipped when the stored row was produced from a Stripe fact newer than
// sourceUpdatedAt, so late deliveries cannot roll a row back.
func (s *SubscriptionStore) Reconcile(ctx context.Context, userID int64, f model.SubscriptionFields, sourceUpdatedAt int64) (*ReconcileResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reconcile: %w", err)
	}
	defer tx.Rollback()

	prev, err := getSubscription(ctx, tx, "user_id", userID)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO subscriptions (
			user_id, name, price_cents, property_limit, status,
			stripe_customer_id, stripe_subscription_id, stripe_price_id,
			current_period_start, current_period_end, source_updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
			name = excluded.name,
			price_cents = excluded.price_cents,
			property_limit = excluded.property_limit,
			status = excluded.status,
			stripe_customer_id = COALESCE(excluded.stripe_customer_id, subscriptions.stripe_customer_id),
			stripe_subscription_id = excluded.stripe_subscription_id,
			stripe_price_id = excluded.stripe_price_id,
			current_period_start = excluded.current_period_start,
			current_period_end = excluded.current_period_end,
			source_updated_at = excluded.source_updated_at,
			updated_at = CURRENT_TIMESTAMP
		 WHERE excluded.source_updated_at >= subscriptions.source_updated_at`,
		userID, f.Name, f.PriceCents, f.PropertyLimit, f.Status,
		nullString(f.StripeCustomerID), nullString(f.StripeSubscriptionID), nullString(f.StripePriceID),
		nullTime(f.CurrentPeriodStart), nullTime(f.CurrentPeriodEnd), sourceUpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}

	cur, err := getSubscription(ctx, tx, "user_id", userID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reconcile: %w", err)
	}

	return &ReconcileResult{Applied: n > 0, Previous: prev, Current: cur}, nil
}

// ListLinked returns every row that points at a Stripe subscription.
func (s *SubscriptionStore) ListLinked(ctx context.Context) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions
		 WHERE stripe_subscription_id IS NOT NULL
		 ORDER BY user_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list linked subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
