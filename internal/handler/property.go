package handler

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/stayscan/internal/identity"
	"github.com/dukerupert/stayscan/internal/imagestore"
	"github.com/dukerupert/stayscan/internal/model"
	"github.com/dukerupert/stayscan/internal/retry"
	"github.com/dukerupert/stayscan/internal/store"
	"github.com/dukerupert/stayscan/internal/websocket"
)

type PropertyStore interface {
	CreateWithinLimit(ctx context.Context, p *model.Property, limit int) (*model.Property, error)
	GetByID(ctx context.Context, id int64) (*model.Property, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Property, error)
	Update(ctx context.Context, p *model.Property) (*model.Property, error)
	Delete(ctx context.Context, id int64) error
	IncrementScans(ctx context.Context, id int64) (int64, error)
}

type IssueLister interface {
	ListByUser(ctx context.Context, userID, propertyID int64) ([]model.MaintenanceIssue, error)
}

// Sealer encrypts wifi passwords at rest.
type Sealer interface {
	Seal(plaintext string) ([]byte, error)
	Open(data []byte) (string, error)
}

// ImageSigner issues upload URLs and removes stored images.
type ImageSigner interface {
	UploadURL(ctx context.Context, propertyID int64, contentType string) (*imagestore.Upload, error)
	DeleteImages(ctx context.Context, urls []string) error
}

// propertyRequest carries create and update bodies. Nil fields are left
// unchanged on update.
type propertyRequest struct {
	Name                 *string  `json:"name" validate:"omitempty,max=200"`
	Location             *string  `json:"location" validate:"omitempty,max=500"`
	Description          *string  `json:"description" validate:"omitempty,max=10000"`
	Status               *string  `json:"status" validate:"omitempty,max=50"`
	Amenities            *string  `json:"amenities" validate:"omitempty,max=5000"`
	Images               []string `json:"images" validate:"omitempty,max=30,dive,url"`
	LocalFood            *string  `json:"localFood" validate:"omitempty,max=5000"`
	RubbishAndBins       *string  `json:"rubbishAndBins" validate:"omitempty,max=5000"`
	WifiName             *string  `json:"wifiName" validate:"omitempty,max=200"`
	WifiPassword         *string  `json:"wifiPassword" validate:"omitempty,max=200"`
	ApplianceGuides      *string  `json:"applianceGuides" validate:"omitempty,max=10000"`
	HouseRules           *string  `json:"houseRules" validate:"omitempty,max=10000"`
	CheckoutTime         *string  `json:"checkoutTime" validate:"omitempty,max=50"`
	CheckoutInstructions *string  `json:"checkoutInstructions" validate:"omitempty,max=5000"`
	EmergencyContact     *string  `json:"emergencyContact" validate:"omitempty,max=500"`
	NearbyPlaces         *string  `json:"nearbyPlaces" validate:"omitempty,max=10000"`
	DigitalGuide         *string  `json:"digitalGuide" validate:"omitempty,max=50000"`
}

func assign(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func (req *propertyRequest) apply(p *model.Property) {
	assign(&p.Name, req.Name)
	assign(&p.Location, req.Location)
	assign(&p.Description, req.Description)
	assign(&p.Status, req.Status)
	assign(&p.Amenities, req.Amenities)
	assign(&p.LocalFood, req.LocalFood)
	assign(&p.RubbishAndBins, req.RubbishAndBins)
	assign(&p.WifiName, req.WifiName)
	assign(&p.WifiPassword, req.WifiPassword)
	assign(&p.ApplianceGuides, req.ApplianceGuides)
	assign(&p.HouseRules, req.HouseRules)
	assign(&p.CheckoutTime, req.CheckoutTime)
	assign(&p.CheckoutInstructions, req.CheckoutInstructions)
	assign(&p.EmergencyContact, req.EmergencyContact)
	assign(&p.NearbyPlaces, req.NearbyPlaces)
	assign(&p.DigitalGuide, req.DigitalGuide)
	if req.Images != nil {
		p.Images = req.Images
	}
}

// propertyView is the public property page. Owners also see open issues.
type propertyView struct {
	model.Property
	IsAuth            bool                     `json:"isAuth"`
	MaintenanceIssues []model.MaintenanceIssue `json:"maintenanceIssues,omitempty"`
}

type PropertyHandler struct {
	users  UserStore
	props  PropertyStore
	issues IssueLister
	subs   SubscriptionEnsurer
	box    Sealer
	images ImageSigner
	hub    Broadcaster
	policy retry.Policy
	logger *slog.Logger
}

func NewPropertyHandler(users UserStore, props PropertyStore, issues IssueLister, subs SubscriptionEnsurer,
	box Sealer, images ImageSigner, hub Broadcaster, policy retry.Policy, logger *slog.Logger) *PropertyHandler {
	return &PropertyHandler{
		users:  users,
		props:  props,
		issues: issues,
		subs:   subs,
		box:    box,
		images: images,
		hub:    hub,
		policy: policy,
		logger: logger,
	}
}

// reveal decrypts the wifi password for display.
func (h *PropertyHandler) reveal(p *model.Property) {
	pw, err := h.box.Open(p.WifiPasswordEnc)
	if err != nil {
		h.logger.Warn("decrypt wifi password", "property_id", p.ID, "error", err)
		pw = ""
	}
	p.WifiPassword = pw
}

func (h *PropertyHandler) seal(p *model.Property) error {
	enc, err := h.box.Seal(p.WifiPassword)
	if err != nil {
		return err
	}
	p.WifiPasswordEnc = enc
	return nil
}

func (h *PropertyHandler) List(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context(), h.users, h.policy)
	if err != nil {
		serverError(w, h.logger, "Failed to fetch properties", err)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	props, err := retry.Value(r.Context(), h.policy, func(ctx context.Context) ([]model.Property, error) {
		return h.props.ListByUser(ctx, user.ID)
	})
	if err != nil {
		serverError(w, h.logger, "Failed to fetch properties", err)
		return
	}
	for i := range props {
		h.reveal(&props[i])
	}
	writeJSON(w, http.StatusOK, props)
}

func (h *PropertyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req propertyRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == nil || *req.Name == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: name")
		return
	}
	if req.Location == nil || *req.Location == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: location")
		return
	}

	user, err := ensureUser(r.Context(), h.users, h.policy)
	if err != nil {
		serverError(w, h.logger, "Error creating property", err)
		return
	}
	sub, err := h.subs.Ensure(r.Context(), user.ID)
	if err != nil {
		serverError(w, h.logger, "Error creating property", err)
		return
	}

	p := &model.Property{UserID: user.ID, Status: "draft"}
	req.apply(p)
	if err := h.seal(p); err != nil {
		serverError(w, h.logger, "Error creating property", err)
		return
	}

	created, err := retry.Value(r.Context(), h.policy, func(ctx context.Context) (*model.Property, error) {
		return h.props.CreateWithinLimit(ctx, p, sub.PropertyLimit)
	})
	switch {
	case errors.Is(err, store.ErrLimitReached):
		writeError(w, http.StatusForbidden, "Property limit reached")
		return
	case store.IsUniqueViolation(err):
		writeError(w, http.StatusConflict, "Property already exists")
		return
	case err != nil:
		serverError(w, h.logger, "Error creating property", err)
		return
	}

	h.reveal(created)
	h.hub.SendToUser(user.ID, websocket.NewMessage("property", "created", created.ID, created))
	h.logger.Info("property created", "property_id", created.ID, "user_id", user.ID)
	writeJSON(w, http.StatusCreated, created)
}

// Get serves the guest view of a property. It needs no authentication;
// a signed-in owner additionally gets isAuth and the property's issues.
func (h *PropertyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid property ID")
		return
	}

	p, err := h.getProperty(r.Context(), id)
	if err != nil {
		serverError(w, h.logger, "Failed to fetch property", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Property not found")
		return
	}
	h.reveal(p)

	view := propertyView{Property: *p}
	if identity.Subject(r.Context()) != "" {
		user, err := currentUser(r.Context(), h.users, h.policy)
		if err != nil {
			serverError(w, h.logger, "Failed to fetch property", err)
			return
		}
		if user != nil && user.ID == p.UserID {
			view.IsAuth = true
			view.MaintenanceIssues, err = retry.Value(r.Context(), h.policy, func(ctx context.Context) ([]model.MaintenanceIssue, error) {
				return h.issues.ListByUser(ctx, user.ID, p.ID)
			})
			if err != nil {
				serverError(w, h.logger, "Failed to fetch property", err)
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *PropertyHandler) getProperty(ctx context.Context, id int64) (*model.Property, error) {
	return retry.Value(ctx, h.policy, func(ctx context.Context) (*model.Property, error) {
		return h.props.GetByID(ctx, id)
	})
}

// owned loads a property for a write by the caller. It writes the error
// response itself and returns nil when the request cannot proceed.
func (h *PropertyHandler) owned(w http.ResponseWriter, r *http.Request) (*model.User, *model.Property) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid property ID")
		return nil, nil
	}

	p, err := h.getProperty(r.Context(), id)
	if err != nil {
		serverError(w, h.logger, "Failed to fetch property", err)
		return nil, nil
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Property not found")
		return nil, nil
	}

	user, err := currentUser(r.Context(), h.users, h.policy)
	if err != nil {
		serverError(w, h.logger, "Failed to fetch property", err)
		return nil, nil
	}
	if user == nil || user.ID != p.UserID {
		writeError(w, http.StatusForbidden, "Forbidden")
		return nil, nil
	}
	return user, p
}

func (h *PropertyHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req propertyRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name != nil && *req.Name == "" {
		writeError(w, http.StatusBadRequest, "name cannot be empty")
		return
	}

	user, p := h.owned(w, r)
	if p == nil {
		return
	}

	h.reveal(p)
	req.apply(p)
	if err := h.seal(p); err != nil {
		serverError(w, h.logger, "Failed to update property", err)
		return
	}

	updated, err := retry.Value(r.Context(), h.policy, func(ctx context.Context) (*model.Property, error) {
		return h.props.Update(ctx, p)
	})
	if err != nil {
		serverError(w, h.logger, "Failed to update property", err)
		return
	}

	h.reveal(updated)
	h.hub.SendToUser(user.ID, websocket.NewMessage("property", "updated", updated.ID, updated))
	writeJSON(w, http.StatusOK, updated)
}

func (h *PropertyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, p := h.owned(w, r)
	if p == nil {
		return
	}

	err := retry.Do(r.Context(), h.policy, func(ctx context.Context) error {
		return h.props.Delete(ctx, p.ID)
	})
	if err != nil {
		serverError(w, h.logger, "Failed to delete property", err)
		return
	}

	if err := h.images.DeleteImages(context.WithoutCancel(r.Context()), p.Images); err != nil {
		h.logger.Warn("delete property images", "property_id", p.ID, "error", err)
	}
	h.hub.SendToUser(user.ID, websocket.NewMessage("property", "deleted", p.ID, nil))
	h.logger.Info("property deleted", "property_id", p.ID, "user_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}

// Scan counts a guest opening the property from its QR code.
func (h *PropertyHandler) Scan(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid property ID")
		return
	}

	n, err := retry.Value(r.Context(), h.policy, func(ctx context.Context) (int64, error) {
		return h.props.IncrementScans(ctx, id)
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, "Property not found")
	case err != nil:
		serverError(w, h.logger, "Failed to record scan", err)
	default:
		writeJSON(w, http.StatusOK, map[string]int64{"qrScans": n})
	}
}

func (h *PropertyHandler) UploadURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContentType string `json:"contentType" validate:"required"`
	}
	if !decode(w, r, &req) {
		return
	}

	_, p := h.owned(w, r)
	if p == nil {
		return
	}

	up, err := h.images.UploadURL(r.Context(), p.ID, req.ContentType)
	switch {
	case errors.Is(err, imagestore.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "Image storage not configured")
	case errors.Is(err, imagestore.ErrContentType):
		writeError(w, http.StatusBadRequest, "Unsupported image type")
	case err != nil:
		serverError(w, h.logger, "Failed to create upload URL", err)
	default:
		writeJSON(w, http.StatusOK, up)
	}
}
