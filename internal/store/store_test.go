package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/dukerupert/stayscan/internal/database"
	"github.com/dukerupert/stayscan/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, db *sql.DB, externalID string) *model.User {
	t.Helper()
	u, err := NewUserStore(db).Upsert(context.Background(), externalID, externalID+"@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func createTestProperty(t *testing.T, db *sql.DB, userID int64, name string) *model.Property {
	t.Helper()
	p, err := NewPropertyStore(db).CreateWithinLimit(context.Background(), &model.Property{UserID: userID, Name: name}, 100)
	if err != nil {
		t.Fatalf("create property: %v", err)
	}
	return p
}
