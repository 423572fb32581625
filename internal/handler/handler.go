// Package handler serves the StayScan JSON API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dukerupert/stayscan/internal/identity"
	"github.com/dukerupert/stayscan/internal/model"
	"github.com/dukerupert/stayscan/internal/retry"
	"github.com/dukerupert/stayscan/internal/websocket"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// Broadcaster pushes change notifications to a user's open dashboards.
type Broadcaster interface {
	SendToUser(userID int64, msg websocket.Message)
}

// UserStore is the user lookup shared by the handlers.
type UserStore interface {
	GetByExternalID(ctx context.Context, externalID string) (*model.User, error)
	Upsert(ctx context.Context, externalID, email string) (*model.User, error)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// serverError logs err and answers with a generic message.
func serverError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}

// decode reads a JSON body into dst and validates it. On failure it writes
// a 400 and returns false.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := lowerFirst(fe.Field())
	switch fe.Tag() {
	case "required":
		return "Missing required field: " + field
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "url":
		return field + " must be a URL"
	case "email":
		return field + " must be an email address"
	}
	return "invalid " + field
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func parseIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

// currentUser resolves the caller's local user. It returns nil without an
// error when the subject has never been seen.
func currentUser(ctx context.Context, users UserStore, policy retry.Policy) (*model.User, error) {
	return retry.Value(ctx, policy, func(ctx context.Context) (*model.User, error) {
		return users.GetByExternalID(ctx, identity.Subject(ctx))
	})
}

// ensureUser resolves the caller's local user, creating it on first use.
func ensureUser(ctx context.Context, users UserStore, policy retry.Policy) (*model.User, error) {
	claims, _ := identity.FromContext(ctx)
	return retry.Value(ctx, policy, func(ctx context.Context) (*model.User, error) {
		return users.Upsert(ctx, claims.Subject, claims.Email)
	})
}
