package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/stayscan/internal/database"
	"github.com/dukerupert/stayscan/internal/model"
	"github.com/dukerupert/stayscan/internal/plan"
	"github.com/dukerupert/stayscan/internal/retry"
	"github.com/dukerupert/stayscan/internal/store"
)

var testPolicy = retry.Policy{MaxAttempts: 2, Delay: time.Millisecond}

// fakeProvider is an in-memory Stripe.
type fakeProvider struct {
	mu            sync.Mutex
	customers     map[string]*stripe.Customer
	subscriptions map[string]*stripe.Subscription
	prices        map[string]*stripe.Price
	products      map[string]*stripe.Product
	sessions      map[string]*stripe.CheckoutSession

	created         []CustomerInput
	deleted         []string
	checkouts       []CheckoutInput
	metadataUpdates map[string]map[string]string
	// byKey replays customer creations by idempotency key, as Stripe does.
	byKey map[string]stripe.Customer

	getSubscriptionErr error
	// onGetSubscription runs before each subscription fetch returns.
	onGetSubscription func()
	nextID             int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		customers:       map[string]*stripe.Customer{},
		subscriptions:   map[string]*stripe.Subscription{},
		prices:          map[string]*stripe.Price{},
		products:        map[string]*stripe.Product{},
		sessions:        map[string]*stripe.CheckoutSession{},
		metadataUpdates: map[string]map[string]string{},
		byKey:           map[string]stripe.Customer{},
	}
}

func (f *fakeProvider) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s_%d", prefix, f.nextID)
}

func (f *fakeProvider) CreateCustomer(ctx context.Context, in CustomerInput) (*stripe.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	if cached, ok := f.byKey[in.IdempotencyKey]; ok && in.IdempotencyKey != "" {
		return &cached, nil
	}
	c := &stripe.Customer{
		ID:    f.id("cus"),
		Email: in.Email,
		Metadata: map[string]string{
			MetaUserID:        strconv.FormatInt(in.UserID, 10),
			MetaPropertyLimit: strconv.Itoa(in.PropertyLimit),
		},
	}
	f.customers[c.ID] = c
	if in.IdempotencyKey != "" {
		f.byKey[in.IdempotencyKey] = *c
	}
	return c, nil
}

func (f *fakeProvider) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.customers[id]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: 404, Msg: "No such customer"}
	}
	return c, nil
}

func (f *fakeProvider) UpdateCustomerMetadata(ctx context.Context, id string, md map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadataUpdates[id] = md
	if c, ok := f.customers[id]; ok {
		for k, v := range md {
			c.Metadata[k] = v
		}
	}
	return nil
}

func (f *fakeProvider) DeleteCustomer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	delete(f.customers, id)
	return nil
}

func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, in CheckoutInput) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts = append(f.checkouts, in)
	s := &stripe.CheckoutSession{
		ID:       f.id("cs"),
		Mode:     stripe.CheckoutSessionModeSubscription,
		Metadata: map[string]string{MetaUserID: strconv.FormatInt(in.UserID, 10)},
	}
	s.URL = "https://checkout.stripe.test/" + s.ID
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeProvider) GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: 404}
	}
	return s, nil
}

func (f *fakeProvider) CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	return "https://billing.stripe.test/" + customerID, nil
}

func (f *fakeProvider) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onGetSubscription != nil {
		f.onGetSubscription()
	}
	if f.getSubscriptionErr != nil {
		return nil, f.getSubscriptionErr
	}
	s, ok := f.subscriptions[id]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: 404}
	}
	return s, nil
}

func (f *fakeProvider) GetPrice(ctx context.Context, id string) (*stripe.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[id]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: 404}
	}
	return p, nil
}

func (f *fakeProvider) GetProduct(ctx context.Context, id string) (*stripe.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: 404}
	}
	return p, nil
}

func (f *fakeProvider) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return stripe.Event{}, errors.New("not used")
}

// seed registers a customer, a price, a product and a subscription.
func (f *fakeProvider) seed(userID int64, limit string, status stripe.SubscriptionStatus, unitAmount int64, productName string) *stripe.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	cust := &stripe.Customer{
		ID:       "cus_seed",
		Email:    "host@example.com",
		Metadata: map[string]string{MetaUserID: strconv.FormatInt(userID, 10)},
	}
	if limit != "" {
		cust.Metadata[MetaPropertyLimit] = limit
	}
	f.customers[cust.ID] = cust
	f.products["prod_seed"] = &stripe.Product{ID: "prod_seed", Name: productName}
	f.prices["price_seed"] = &stripe.Price{ID: "price_seed", UnitAmount: unitAmount, Product: &stripe.Product{ID: "prod_seed"}}
	sub := &stripe.Subscription{
		ID:       "sub_seed",
		Status:   status,
		Customer: &stripe.Customer{ID: cust.ID},
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
			ID:                 "si_seed",
			Price:              &stripe.Price{ID: "price_seed"},
			CurrentPeriodStart: 1735689600,
			CurrentPeriodEnd:   1738368000,
		}}},
	}
	f.subscriptions[sub.ID] = sub
	return sub
}

type fakeIdentity struct {
	email string
	err   error
	calls int
}

func (f *fakeIdentity) PrimaryEmail(ctx context.Context, externalID string) (string, error) {
	f.calls++
	return f.email, f.err
}

type recordingNotifier struct {
	changes []*model.Subscription
}

func (r *recordingNotifier) SubscriptionChanged(ctx context.Context, customer *stripe.Customer, prev, cur *model.Subscription) {
	r.changes = append(r.changes, cur)
}

type env struct {
	provider      *fakeProvider
	identity      *fakeIdentity
	notifier      *recordingNotifier
	users         *store.UserStore
	subs          *store.SubscriptionStore
	ledger        *store.WebhookEventStore
	reconciler    *Reconciler
	checkout      *Checkout
	subscriptions *Subscriptions
	webhooks      *Webhooks
}

func setup(t *testing.T) *env {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.DiscardHandler)
	e := &env{
		provider: newFakeProvider(),
		identity: &fakeIdentity{email: "host@example.com"},
		notifier: &recordingNotifier{},
		users:    store.NewUserStore(db),
		subs:     store.NewSubscriptionStore(db),
		ledger:   store.NewWebhookEventStore(db),
	}
	e.reconciler = NewReconciler(e.provider, e.users, e.subs, testPolicy, logger)
	e.reconciler.SetNotifier(e.notifier)
	e.checkout = NewCheckout(e.provider, e.users, e.subs, e.identity, plan.New(plan.Overrides{}),
		e.reconciler, testPolicy, "https://stayscan.test", logger)
	e.subscriptions = NewSubscriptions(e.users, e.subs, e.reconciler, testPolicy, logger)
	e.webhooks = NewWebhooks(e.provider, e.reconciler, e.ledger, testPolicy, logger)
	return e
}

func (e *env) user(t *testing.T, externalID string) *model.User {
	t.Helper()
	u, err := e.users.Upsert(context.Background(), externalID, "")
	require.NoError(t, err)
	return u
}
