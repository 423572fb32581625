package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/dukerupert/stayscan/internal/handler"
	"github.com/dukerupert/stayscan/internal/identity"
	"github.com/dukerupert/stayscan/internal/metrics"
	"github.com/dukerupert/stayscan/internal/middleware"
	"github.com/dukerupert/stayscan/internal/model"
	"github.com/dukerupert/stayscan/internal/plan"
	"github.com/dukerupert/stayscan/internal/retry"
	"github.com/dukerupert/stayscan/internal/store"
	ws "github.com/dukerupert/stayscan/internal/websocket"
)

const (
	webhookRateLimit = 300
	apiRateLimit     = 120
)

// SubscriptionService reads, creates and links a user's subscription row.
type SubscriptionService interface {
	handler.SubscriptionService
	handler.SubscriptionEnsurer
}

// Deps are the services built by the caller. The server builds its own
// stores from DB.
type Deps struct {
	DB            *sql.DB
	Verifier      middleware.TokenVerifier
	Webhooks      handler.EventProcessor
	Checkout      handler.CheckoutService
	Subscriptions SubscriptionService
	Catalog       *plan.Catalog
	Box           handler.Sealer
	Images        handler.ImageSigner
	Hub           *ws.Hub
	AppURL        string
	Policy        retry.Policy
}

type Server struct {
	verifier       middleware.TokenVerifier
	users          *store.UserStore
	hub            *ws.Hub
	rateLimiter    *middleware.RateLimiter
	originPatterns []string
	policy         retry.Policy

	webhookH     *handler.WebhookHandler
	billingH     *handler.BillingHandler
	userH        *handler.UserHandler
	planH        *handler.PlanHandler
	propertyH    *handler.PropertyHandler
	maintenanceH *handler.MaintenanceHandler

	logger *slog.Logger
}

func New(d Deps, logger *slog.Logger) *Server {
	userStore := store.NewUserStore(d.DB)
	subStore := store.NewSubscriptionStore(d.DB)
	propertyStore := store.NewPropertyStore(d.DB)
	issueStore := store.NewMaintenanceStore(d.DB)

	var origins []string
	if u, err := url.Parse(d.AppURL); err == nil && u.Host != "" {
		origins = []string{u.Host}
	}

	return &Server{
		verifier:       d.Verifier,
		users:          userStore,
		hub:            d.Hub,
		rateLimiter:    middleware.NewRateLimiter(),
		originPatterns: origins,
		policy:         d.Policy,
		webhookH:       handler.NewWebhookHandler(d.Webhooks, logger.With("component", "webhook")),
		billingH:       handler.NewBillingHandler(d.Checkout, d.Subscriptions, logger.With("component", "billing")),
		userH:          handler.NewUserHandler(userStore, subStore, d.Subscriptions, d.Policy, logger.With("component", "user")),
		planH:          handler.NewPlanHandler(d.Catalog),
		propertyH: handler.NewPropertyHandler(userStore, propertyStore, issueStore, d.Subscriptions,
			d.Box, d.Images, d.Hub, d.Policy, logger.With("component", "property")),
		maintenanceH: handler.NewMaintenanceHandler(userStore, propertyStore, issueStore, d.Hub, d.Policy,
			logger.With("component", "maintenance")),
		logger: logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())

	webhook := s.rateLimited("webhook", webhookRateLimit)(http.HandlerFunc(s.webhookH.HandleStripeWebhook))
	mux.Handle("POST /api/webhook", webhook)
	mux.Handle("POST /webhooks/stripe", webhook)

	// Guest pages
	mux.Handle("GET /api/plans", s.public(s.planH.List))
	mux.Handle("GET /api/properties/{id}", s.public(s.propertyH.Get))
	mux.Handle("POST /api/properties/{id}/scan", s.public(s.propertyH.Scan))

	// User
	mux.Handle("GET /api/user", s.protected(s.userH.Get))
	mux.Handle("POST /api/user", s.protected(s.userH.Upsert))

	// Billing
	mux.Handle("GET /api/subscription", s.protected(s.billingH.GetSubscription))
	mux.Handle("POST /api/subscription", s.protected(s.billingH.SetSubscriptionCustomer))
	mux.Handle("POST /api/create-checkout-session", s.protected(s.billingH.CreateCheckoutSession))
	mux.Handle("GET /api/checkout-session/{id}", s.protected(s.billingH.GetCheckoutSession))
	mux.Handle("POST /api/billing-portal", s.protected(s.billingH.BillingPortal))

	// Properties
	mux.Handle("GET /api/properties", s.protected(s.propertyH.List))
	mux.Handle("POST /api/properties", s.protected(s.propertyH.Create))
	mux.Handle("PUT /api/properties/{id}", s.protected(s.propertyH.Update))
	mux.Handle("DELETE /api/properties/{id}", s.protected(s.propertyH.Delete))
	mux.Handle("POST /api/properties/{id}/images/upload-url", s.protected(s.propertyH.UploadURL))

	// Maintenance issues
	mux.Handle("GET /api/maintenance-issues", s.protected(s.maintenanceH.List))
	mux.Handle("POST /api/maintenance-issues", s.protected(s.maintenanceH.Create))
	mux.Handle("GET /api/maintenance-issues/{id}", s.protected(s.maintenanceH.Get))
	mux.Handle("PUT /api/maintenance-issues/{id}", s.protected(s.maintenanceH.Update))
	mux.Handle("DELETE /api/maintenance-issues/{id}", s.protected(s.maintenanceH.Delete))

	// WebSocket
	mux.Handle("GET /ws", s.protected(ws.HandleWebSocket(s.hub, s.resolveUser, s.originPatterns, s.logger.With("component", "websocket"))))

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimited(prefix string, limit int) func(http.Handler) http.Handler {
	return middleware.RateLimit(s.rateLimiter, prefix, middleware.RealIP, limit, time.Minute)
}

// protected requires a valid bearer token.
func (s *Server) protected(h http.HandlerFunc) http.Handler {
	auth := middleware.RequireAuth(s.verifier, s.logger.With("component", "auth"))
	return s.rateLimited("api", apiRateLimit)(auth(h))
}

// public serves anyone and records the caller when a valid token is sent.
func (s *Server) public(h http.HandlerFunc) http.Handler {
	return s.rateLimited("api", apiRateLimit)(middleware.OptionalAuth(s.verifier)(h))
}

// resolveUser maps the websocket caller to a local user, creating it on
// first contact.
func (s *Server) resolveUser(r *http.Request) (int64, error) {
	claims, ok := identity.FromContext(r.Context())
	if !ok {
		return 0, errors.New("no identity in context")
	}
	u, err := retry.Value(r.Context(), s.policy, func(ctx context.Context) (*model.User, error) {
		return s.users.Upsert(ctx, claims.Subject, claims.Email)
	})
	if err != nil {
		return 0, err
	}
	return u.ID, nil
}
