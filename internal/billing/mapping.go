package billing

import (
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/stayscan/internal/model"
	"github.com/dukerupert/stayscan/internal/plan"
)

// Customer metadata keys written at checkout and read back on reconcile.
const (
	MetaUserID        = "userId"
	MetaPropertyLimit = "propertyLimit"
)

// Snapshot is everything Stripe knows about one subscription that the local
// row mirrors.
type Snapshot struct {
	Subscription *stripe.Subscription
	Customer     *stripe.Customer
	Price        *stripe.Price
	Product      *stripe.Product
}

// Fields maps a snapshot onto the local row. Push and pull both use it.
func (s Snapshot) Fields() model.SubscriptionFields {
	f := model.SubscriptionFields{
		Status:        string(s.Subscription.Status),
		PropertyLimit: PropertyLimit(s.Customer.Metadata),
	}
	f.StripeSubscriptionID = s.Subscription.ID
	f.StripeCustomerID = s.Customer.ID

	if s.Price != nil {
		f.StripePriceID = s.Price.ID
		f.PriceCents = s.Price.UnitAmount
	}
	if s.Product != nil {
		f.Name = s.Product.Name
	}

	if item := firstItem(s.Subscription); item != nil {
		f.CurrentPeriodStart = epoch(item.CurrentPeriodStart)
		f.CurrentPeriodEnd = epoch(item.CurrentPeriodEnd)
	}
	return f
}

// PropertyLimit reads the propertyLimit customer metadata, falling back to
// the free allowance when it is absent or not a positive integer.
func PropertyLimit(metadata map[string]string) int {
	n, err := strconv.Atoi(strings.TrimSpace(metadata[MetaPropertyLimit]))
	if err != nil || n < 1 {
		return plan.FreePropertyLimit
	}
	return n
}

// UserID reads the internal user id from customer metadata.
func UserID(c *stripe.Customer) (int64, bool) {
	if c == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(c.Metadata[MetaUserID]), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func firstItem(sub *stripe.Subscription) *stripe.SubscriptionItem {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	return sub.Items.Data[0]
}

func epoch(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
