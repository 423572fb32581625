package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/stayscan/internal/model"
	"github.com/dukerupert/stayscan/internal/plan"
	"github.com/dukerupert/stayscan/internal/retry"
)

type SubscriptionReader interface {
	GetByUserID(ctx context.Context, userID int64) (*model.Subscription, error)
}

// SubscriptionEnsurer returns a user's row, creating the Free default.
type SubscriptionEnsurer interface {
	Ensure(ctx context.Context, userID int64) (*model.Subscription, error)
}

type userResponse struct {
	*model.User
	Subscription *model.Subscription `json:"subscription"`
}

type UserHandler struct {
	users  UserStore
	subs   SubscriptionReader
	ensure SubscriptionEnsurer
	policy retry.Policy
	logger *slog.Logger
}

func NewUserHandler(users UserStore, subs SubscriptionReader, ensure SubscriptionEnsurer, policy retry.Policy, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, subs: subs, ensure: ensure, policy: policy, logger: logger}
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context(), h.users, h.policy)
	if err != nil {
		serverError(w, h.logger, "Failed to fetch user", err)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	sub, err := retry.Value(r.Context(), h.policy, func(ctx context.Context) (*model.Subscription, error) {
		return h.subs.GetByUserID(ctx, user.ID)
	})
	if err != nil {
		serverError(w, h.logger, "Failed to fetch user", err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: user, Subscription: sub})
}

// Upsert records the caller and gives new users the Free plan.
func (h *UserHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	user, err := ensureUser(r.Context(), h.users, h.policy)
	if err != nil {
		serverError(w, h.logger, "Failed to create/update user", err)
		return
	}
	sub, err := h.ensure.Ensure(r.Context(), user.ID)
	if err != nil {
		serverError(w, h.logger, "Failed to create/update user", err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: user, Subscription: sub})
}

type PlanHandler struct {
	catalog *plan.Catalog
}

func NewPlanHandler(catalog *plan.Catalog) *PlanHandler {
	return &PlanHandler{catalog: catalog}
}

func (h *PlanHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.catalog.All())
}
