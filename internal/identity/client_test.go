package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPrimaryEmail(t *testing.T) {
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "user_abc",
			"primary_email_address_id": "idn_2",
			"email_addresses": [
				{"id": "idn_1", "email_address": "old@example.com"},
				{"id": "idn_2", "email_address": "host@example.com"}
			]
		}`))
	}))
	defer server.Close()

	c := NewClient(ClientConfig{APIURL: server.URL, SecretKey: "sk_test"})
	email, err := c.PrimaryEmail(context.Background(), "user_abc")
	if err != nil {
		t.Fatalf("primary email: %v", err)
	}
	if email != "host@example.com" {
		t.Errorf("email = %q, want %q", email, "host@example.com")
	}
	if gotAuth != "Bearer sk_test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/v1/users/user_abc" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestPrimaryEmailFallsBackToFirst(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"user_abc","email_addresses":[{"id":"idn_1","email_address":"only@example.com"}]}`))
	}))
	defer server.Close()

	c := NewClient(ClientConfig{APIURL: server.URL, SecretKey: "sk_test"})
	email, err := c.PrimaryEmail(context.Background(), "user_abc")
	if err != nil {
		t.Fatalf("primary email: %v", err)
	}
	if email != "only@example.com" {
		t.Errorf("email = %q", email)
	}
}

func TestPrimaryEmailErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/users/user_empty" {
			w.Write([]byte(`{"id":"user_empty","email_addresses":[]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(ClientConfig{APIURL: server.URL, SecretKey: "sk_test"})
	if _, err := c.PrimaryEmail(context.Background(), "user_missing"); err == nil {
		t.Error("expected error for 404")
	}
	if _, err := c.PrimaryEmail(context.Background(), "user_empty"); !errors.Is(err, ErrNoEmail) {
		t.Errorf("err = %v, want ErrNoEmail", err)
	}

	unconfigured := NewClient(ClientConfig{APIURL: server.URL})
	if _, err := unconfigured.PrimaryEmail(context.Background(), "user_abc"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}
