package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/stayscan/internal/database"
	"github.com/dukerupert/stayscan/internal/identity"
	"github.com/dukerupert/stayscan/internal/imagestore"
	"github.com/dukerupert/stayscan/internal/model"
	"github.com/dukerupert/stayscan/internal/retry"
	"github.com/dukerupert/stayscan/internal/secret"
	"github.com/dukerupert/stayscan/internal/store"
	"github.com/dukerupert/stayscan/internal/websocket"
)

var testPolicy = retry.Policy{MaxAttempts: 2, Delay: time.Millisecond}

var discard = slog.New(slog.DiscardHandler)

type recordingHub struct {
	mu   sync.Mutex
	sent map[int64][]websocket.Message
}

func (h *recordingHub) SendToUser(userID int64, msg websocket.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sent == nil {
		h.sent = map[int64][]websocket.Message{}
	}
	h.sent[userID] = append(h.sent[userID], msg)
}

func (h *recordingHub) types(userID int64) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, m := range h.sent[userID] {
		out = append(out, m.Type)
	}
	return out
}

// fixedLimit hands every user a plan with the same property limit.
type fixedLimit struct {
	limit int
}

func (f fixedLimit) Ensure(ctx context.Context, userID int64) (*model.Subscription, error) {
	return &model.Subscription{UserID: userID, Name: "free", PropertyLimit: f.limit, Status: model.StatusActive}, nil
}

type env struct {
	users  *store.UserStore
	props  *store.PropertyStore
	issues *store.MaintenanceStore
	hub    *recordingHub

	properties  *PropertyHandler
	maintenance *MaintenanceHandler
}

func setup(t *testing.T, limit int) *env {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	box, err := secret.NewBox("test-passphrase")
	require.NoError(t, err)

	e := &env{
		users:  store.NewUserStore(db),
		props:  store.NewPropertyStore(db),
		issues: store.NewMaintenanceStore(db),
		hub:    &recordingHub{},
	}
	var images *imagestore.Store
	e.properties = NewPropertyHandler(e.users, e.props, e.issues, fixedLimit{limit: limit},
		box, images, e.hub, testPolicy, discard)
	e.maintenance = NewMaintenanceHandler(e.users, e.props, e.issues, e.hub, testPolicy, discard)
	return e
}

func (e *env) user(t *testing.T, subject string) *model.User {
	t.Helper()
	u, err := e.users.Upsert(context.Background(), subject, subject+"@example.com")
	require.NoError(t, err)
	return u
}

// request builds a request as the given subject. An empty subject is anonymous.
func request(method, target, subject string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		req = req.WithContext(identity.WithClaims(req.Context(), identity.Claims{
			Subject: subject,
			Email:   subject + "@example.com",
		}))
	}
	return req
}

func withID(req *http.Request, id string) *http.Request {
	req.SetPathValue("id", id)
	return req
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[map[string]string](t, rr)["error"]
}

func TestDecodeErrors(t *testing.T) {
	var dst struct {
		PriceID string `json:"priceId" validate:"required"`
	}

	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty body", "", "request body is required"},
		{"bad json", "{", "invalid JSON"},
		{"missing field", "{}", "Missing required field: priceId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			ok := decode(rr, request(http.MethodPost, "/", "", tt.body), &dst)
			assert.False(t, ok)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.want, errorMessage(t, rr))
		})
	}
}

func TestParseIDParam(t *testing.T) {
	for _, raw := range []string{"", "abc", "0", "-3"} {
		_, err := parseIDParam(withID(httptest.NewRequest(http.MethodGet, "/", nil), raw))
		assert.Error(t, err, raw)
	}
	id, err := parseIDParam(withID(httptest.NewRequest(http.MethodGet, "/", nil), "42"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}
