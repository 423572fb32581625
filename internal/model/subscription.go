package model

import (
	"encoding/json"
	"time"
)

// Subscription statuses. Paid statuses are mirrored verbatim from Stripe,
// so values outside this list are possible and must be stored as-is.
const (
	StatusInactive = "inactive"
	StatusActive   = "active"
	StatusTrialing = "trialing"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
	StatusUnpaid   = "unpaid"
)

// Subscription is the local projection of a user's Stripe subscription.
// There is at most one per user.
type Subscription struct {
	ID                   int64      `json:"id"`
	UserID               int64      `json:"userId"`
	Name                 string     `json:"name"`
	PriceCents           int64      `json:"-"`
	PropertyLimit        int        `json:"propertyLimit"`
	Status               string     `json:"status"`
	StripeCustomerID     *string    `json:"stripeCustomerId"`
	StripeSubscriptionID *string    `json:"stripeSubscriptionId"`
	StripePriceID        *string    `json:"stripePriceId"`
	CurrentPeriodStart   *time.Time `json:"currentPeriodStart"`
	CurrentPeriodEnd     *time.Time `json:"currentPeriodEnd"`
	SourceUpdatedAt      int64      `json:"-"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// Price returns the monthly price in dollars.
func (s Subscription) Price() float64 {
	return float64(s.PriceCents) / 100
}

type subscriptionJSON Subscription

func (s Subscription) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		subscriptionJSON
		Price float64 `json:"price"`
	}{subscriptionJSON(s), s.Price()})
}

// SubscriptionFields are the values a reconcile writes onto a subscription row.
type SubscriptionFields struct {
	Name                 string
	PriceCents           int64
	PropertyLimit        int
	Status               string
	StripeCustomerID     string
	StripeSubscriptionID string
	StripePriceID        string
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
}
