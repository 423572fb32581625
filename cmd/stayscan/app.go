package main

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukerupert/stayscan/internal/billing"
	billingstripe "github.com/dukerupert/stayscan/internal/billing/stripe"
	"github.com/dukerupert/stayscan/internal/database"
	"github.com/dukerupert/stayscan/internal/email"
	"github.com/dukerupert/stayscan/internal/identity"
	"github.com/dukerupert/stayscan/internal/plan"
	"github.com/dukerupert/stayscan/internal/retry"
	"github.com/dukerupert/stayscan/internal/store"
	ws "github.com/dukerupert/stayscan/internal/websocket"
)

// app holds the billing services shared by the commands.
type app struct {
	db            *sql.DB
	stripe        *billingstripe.Client
	catalog       *plan.Catalog
	hub           *ws.Hub
	ledger        *store.WebhookEventStore
	reconciler    *billing.Reconciler
	checkout      *billing.Checkout
	subscriptions *billing.Subscriptions
	webhooks      *billing.Webhooks
}

func newApp() (*app, error) {
	if cfg.StripeSecretKey == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is required")
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	policy := retry.Default
	users := store.NewUserStore(db)
	subs := store.NewSubscriptionStore(db)

	a := &app{
		db: db,
		stripe: billingstripe.NewClient(billingstripe.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			Timeout:       cfg.StripeTimeout,
		}, logger.With("component", "stripe")),
		catalog: plan.New(plan.Overrides{
			Basic:      cfg.StripePriceBasic,
			Pro:        cfg.StripePricePro,
			Enterprise: cfg.StripePriceEnterprise,
		}),
		hub:    ws.NewHub(logger.With("component", "websocket")),
		ledger: store.NewWebhookEventStore(db),
	}

	mail := email.NewClient(cfg.PostmarkToken, cfg.FromEmail, cfg.AppURL)
	idClient := identity.NewClient(identity.ClientConfig{
		APIURL:    cfg.IdentityAPIURL,
		SecretKey: cfg.IdentitySecretKey,
	})

	billingLogger := logger.With("component", "billing")
	a.reconciler = billing.NewReconciler(a.stripe, users, subs, policy, billingLogger)
	a.reconciler.SetNotifier(billing.NewNotifications(a.hub, mail, billingLogger))
	a.checkout = billing.NewCheckout(a.stripe, users, subs, idClient, a.catalog, a.reconciler, policy, cfg.AppURL, billingLogger)
	a.subscriptions = billing.NewSubscriptions(users, subs, a.reconciler, policy, billingLogger)
	a.webhooks = billing.NewWebhooks(a.stripe, a.reconciler, a.ledger, policy, billingLogger)
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
