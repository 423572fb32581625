package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/stayscan/internal/model"
	"github.com/dukerupert/stayscan/internal/retry"
	"github.com/dukerupert/stayscan/internal/websocket"
)

type MaintenanceStore interface {
	Create(ctx context.Context, m *model.MaintenanceIssue) (*model.MaintenanceIssue, error)
	GetForUser(ctx context.Context, id, userID int64) (*model.MaintenanceIssue, error)
	ListByUser(ctx context.Context, userID, propertyID int64) ([]model.MaintenanceIssue, error)
	Update(ctx context.Context, m *model.MaintenanceIssue) (*model.MaintenanceIssue, error)
	Delete(ctx context.Context, id int64) error
}

// PropertyGetter is the property lookup used for ownership checks.
type PropertyGetter interface {
	GetByID(ctx context.Context, id int64) (*model.Property, error)
}

type createIssueRequest struct {
	PropertyID int64  `json:"propertyId" validate:"required"`
	Title      string `json:"title" validate:"required,max=200"`
	Issue      string `json:"issue" validate:"required,max=10000"`
	Status     string `json:"status" validate:"omitempty,oneof='Open' 'In Progress' 'Resolved'"`
	Details    string `json:"details" validate:"max=10000"`
}

type updateIssueRequest struct {
	Title   *string `json:"title" validate:"omitempty,min=1,max=200"`
	Issue   *string `json:"issue" validate:"omitempty,min=1,max=10000"`
	Status  *string `json:"status" validate:"omitempty,oneof='Open' 'In Progress' 'Resolved'"`
	Details *string `json:"details" validate:"omitempty,max=10000"`
}

type MaintenanceHandler struct {
	users  UserStore
	props  PropertyGetter
	issues MaintenanceStore
	hub    Broadcaster
	policy retry.Policy
	logger *slog.Logger
}

func NewMaintenanceHandler(users UserStore, props PropertyGetter, issues MaintenanceStore, hub Broadcaster, policy retry.Policy, logger *slog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{users: users, props: props, issues: issues, hub: hub, policy: policy, logger: logger}
}

func (h *MaintenanceHandler) List(w http.ResponseWriter, r *http.Request) {
	var propertyID int64
	if raw := r.URL.Query().Get("propertyId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid property ID")
			return
		}
		propertyID = id
	}

	user, err := currentUser(r.Context(), h.users, h.policy)
	if err != nil {
		serverError(w, h.logger, "Failed to fetch maintenance issues", err)
		return
	}
	if user == nil {
		writeJSON(w, http.StatusOK, []model.MaintenanceIssue{})
		return
	}

	issues, err := retry.Value(r.Context(), h.policy, func(ctx context.Context) ([]model.MaintenanceIssue, error) {
		return h.issues.ListByUser(ctx, user.ID, propertyID)
	})
	if err != nil {
		serverError(w, h.logger, "Failed to fetch maintenance issues", err)
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

func (h *MaintenanceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createIssueRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := currentUser(r.Context(), h.users, h.policy)
	if err != nil {
		serverError(w, h.logger, "Failed to create maintenance issue", err)
		return
	}
	p, err := retry.Value(r.Context(), h.policy, func(ctx context.Context) (*model.Property, error) {
		return h.props.GetByID(ctx, req.PropertyID)
	})
	if err != nil {
		serverError(w, h.logger, "Failed to create maintenance issue", err)
		return
	}
	if user == nil || p == nil || p.UserID != user.ID {
		writeError(w, http.StatusNotFound, "Property not found or does not belong to user")
		return
	}

	created, err := retry.Value(r.Context(), h.policy, func(ctx context.Context) (*model.MaintenanceIssue, error) {
		return h.issues.Create(ctx, &model.MaintenanceIssue{
			PropertyID: p.ID,
			Title:      req.Title,
			Issue:      req.Issue,
			Status:     req.Status,
			Details:    req.Details,
		})
	})
	if err != nil {
		serverError(w, h.logger, "Failed to create maintenance issue", err)
		return
	}

	h.hub.SendToUser(user.ID, websocket.NewMessage("maintenance", "created", created.ID, created))
	h.logger.Info("maintenance issue created", "issue_id", created.ID, "property_id", p.ID)
	writeJSON(w, http.StatusCreated, created)
}

// lookup loads an issue on one of the caller's properties. Issues that are
// missing and issues owned by someone else both answer 404.
func (h *MaintenanceHandler) lookup(w http.ResponseWriter, r *http.Request) (*model.User, *model.MaintenanceIssue) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid issue ID")
		return nil, nil
	}

	user, err := currentUser(r.Context(), h.users, h.policy)
	if err != nil {
		serverError(w, h.logger, "Failed to fetch maintenance issue", err)
		return nil, nil
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "Maintenance issue not found")
		return nil, nil
	}

	m, err := retry.Value(r.Context(), h.policy, func(ctx context.Context) (*model.MaintenanceIssue, error) {
		return h.issues.GetForUser(ctx, id, user.ID)
	})
	if err != nil {
		serverError(w, h.logger, "Failed to fetch maintenance issue", err)
		return nil, nil
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "Maintenance issue not found")
		return nil, nil
	}
	return user, m
}

func (h *MaintenanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, m := h.lookup(w, r); m != nil {
		writeJSON(w, http.StatusOK, m)
	}
}

func (h *MaintenanceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateIssueRequest
	if !decode(w, r, &req) {
		return
	}

	user, m := h.lookup(w, r)
	if m == nil {
		return
	}

	assign(&m.Title, req.Title)
	assign(&m.Issue, req.Issue)
	assign(&m.Status, req.Status)
	assign(&m.Details, req.Details)

	updated, err := retry.Value(r.Context(), h.policy, func(ctx context.Context) (*model.MaintenanceIssue, error) {
		return h.issues.Update(ctx, m)
	})
	if err != nil {
		serverError(w, h.logger, "Failed to update maintenance issue", err)
		return
	}

	h.hub.SendToUser(user.ID, websocket.NewMessage("maintenance", "updated", updated.ID, updated))
	writeJSON(w, http.StatusOK, updated)
}

func (h *MaintenanceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, m := h.lookup(w, r)
	if m == nil {
		return
	}

	err := retry.Do(r.Context(), h.policy, func(ctx context.Context) error {
		return h.issues.Delete(ctx, m.ID)
	})
	if err != nil {
		serverError(w, h.logger, "Failed to delete maintenance issue", err)
		return
	}

	h.hub.SendToUser(user.ID, websocket.NewMessage("maintenance", "deleted", m.ID, nil))
	w.WriteHeader(http.StatusNoContent)
}
