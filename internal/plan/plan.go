// Package plan holds the subscription plan catalog shared by checkout and
// the plans API.
package plan

import "strings"

// Plan is one purchasable tier.
type Plan struct {
	Key           string  `json:"key"`
	Name          string  `json:"name"`
	PriceCents    int64   `json:"-"`
	Price         float64 `json:"price"`
	PropertyLimit int     `json:"propertyLimit"`
	PriceID       string  `json:"priceId,omitempty"`
}

const (
	FreeName          = "Free"
	FreePropertyLimit = 1
)

// Overrides replaces the Stripe price ids of the paid plans. Empty values
// keep the built-in ids.
type Overrides struct {
	Basic      string
	Pro        string
	Enterprise string
}

// Catalog is an ordered, read-only plan list.
type Catalog struct {
	plans []Plan
}

func newPlan(key, name string, cents int64, limit int, priceID string) Plan {
	return Plan{
		Key:           key,
		Name:          name,
		PriceCents:    cents,
		Price:         float64(cents) / 100,
		PropertyLimit: limit,
		PriceID:       priceID,
	}
}

// New builds the catalog, applying any price id overrides.
func New(o Overrides) *Catalog {
	return &Catalog{plans: []Plan{
		newPlan("free", FreeName, 0, FreePropertyLimit, ""),
		newPlan("basic", "Basic", 999, 5, or(o.Basic, "price_1QkKskBy9Ue4ijcYwlExvrjV")),
		newPlan("pro", "Pro", 1999, 15, or(o.Pro, "price_1QkKt1By9Ue4ijcY7uomvOeI")),
		newPlan("enterprise", "Enterprise", 4999, 50, or(o.Enterprise, "price_1QkKtHBy9Ue4ijcYFk2Emofg")),
	}}
}

// All returns every plan, free first.
func (c *Catalog) All() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// Paid returns the plans that go through checkout.
func (c *Catalog) Paid() []Plan {
	var out []Plan
	for _, p := range c.plans {
		if p.PriceID != "" {
			out = append(out, p)
		}
	}
	return out
}

// Free returns the default plan given to every new user.
func (c *Catalog) Free() Plan {
	return c.plans[0]
}

// ByName finds a plan by key or display name, case-insensitively.
func (c *Catalog) ByName(name string) (Plan, bool) {
	for _, p := range c.plans {
		if strings.EqualFold(p.Key, name) || strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Plan{}, false
}

// ByPriceID finds the paid plan sold under a Stripe price id.
func (c *Catalog) ByPriceID(priceID string) (Plan, bool) {
	if priceID == "" {
		return Plan{}, false
	}
	for _, p := range c.plans {
		if p.PriceID == priceID {
			return p, true
		}
	}
	return Plan{}, false
}

func or(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
