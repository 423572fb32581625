package store

import (
	"context"
	"testing"
)

func TestUserUpsertCreates(t *testing.T) {
	db := setupTestDB(t)
	s := NewUserStore(db)
	ctx := context.Background()

	u, err := s.Upsert(ctx, "user_abc", "alice@example.com")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if u.ExternalID != "user_abc" {
		t.Errorf("external_id = %q, want %q", u.ExternalID, "user_abc")
	}
	if u.Email != "alice@example.com" {
		t.Errorf("email = %q, want %q", u.Email, "alice@example.com")
	}
}

func TestUserUpsertKeepsIDAndEmail(t *testing.T) {
	db := setupTestDB(t)
	s := NewUserStore(db)
	ctx := context.Background()

	first, _ := s.Upsert(ctx, "user_abc", "alice@example.com")
	second, err := s.Upsert(ctx, "user_abc", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("id = %d, want %d", second.ID, first.ID)
	}
	if second.Email != "alice@example.com" {
		t.Errorf("email = %q, empty email must not overwrite", second.Email)
	}

	third, _ := s.Upsert(ctx, "user_abc", "new@example.com")
	if third.Email != "new@example.com" {
		t.Errorf("email = %q, want %q", third.Email, "new@example.com")
	}
}

func TestUserGetNotFound(t *testing.T) {
	db := setupTestDB(t)
	s := NewUserStore(db)
	ctx := context.Background()

	u, err := s.GetByExternalID(ctx, "nobody")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u != nil {
		t.Error("expected nil for unknown external id")
	}

	u, err = s.GetByID(ctx, 999)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if u != nil {
		t.Error("expected nil for nonexistent id")
	}
}
