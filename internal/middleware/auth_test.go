package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/stayscan/internal/identity"
)

// stubVerifier accepts the single token "good".
type stubVerifier struct{}

func (stubVerifier) Verify(token string) (identity.Claims, error) {
	if token != "good" {
		return identity.Claims{}, errors.New("bad token")
	}
	return identity.Claims{Subject: "user_abc", Email: "host@example.com"}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRequireAuthNoToken(t *testing.T) {
	handler := RequireAuth(stubVerifier{}, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/api/subscription", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if body := rec.Body.String(); body != `{"error":"Unauthorized"}` {
		t.Errorf("body = %q", body)
	}
}

func TestRequireAuthInvalidToken(t *testing.T) {
	handler := RequireAuth(stubVerifier{}, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	for _, header := range []string{"Bearer bad", "Basic good", "good"} {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%q: status = %d, want %d", header, rec.Code, http.StatusUnauthorized)
		}
	}
}

func TestRequireAuthValidToken(t *testing.T) {
	var got identity.Claims
	handler := RequireAuth(stubVerifier{}, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := identity.FromContext(r.Context())
		if !ok {
			t.Fatal("expected claims in request context")
		}
		got = claims
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "bearer good")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got.Subject != "user_abc" {
		t.Errorf("Subject = %q, want %q", got.Subject, "user_abc")
	}
}

func TestRequireAuthQueryTokenOnlyForWebsocket(t *testing.T) {
	handler := RequireAuth(stubVerifier{}, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/user?token=good", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("plain request: status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	req = httptest.NewRequest("GET", "/ws?token=good", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("upgrade request: status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestOptionalAuth(t *testing.T) {
	var subject string
	handler := OptionalAuth(stubVerifier{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = identity.Subject(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer bad", ""},
		{"Bearer good", "user_abc"},
	}
	for _, tt := range tests {
		subject = "unset"
		req := httptest.NewRequest("GET", "/api/properties/1", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("%q: status = %d", tt.header, rec.Code)
		}
		if subject != tt.want {
			t.Errorf("%q: subject = %q, want %q", tt.header, subject, tt.want)
		}
	}
}
