package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/backchat/internal/apperror"
)

func TestTokenInsertAndFind(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db, "123", "a@x.com")

	if _, ok, err := db.FindUserByToken(ctx, "tok-1"); err != nil || ok {
		t.Fatalf("FindUserByToken() before insert = _, %v, %v; want false, nil", ok, err)
	}

	if err := db.InsertToken(ctx, "tok-1", userID); err != nil {
		t.Fatalf("InsertToken() error = %v", err)
	}

	got, ok, err := db.FindUserByToken(ctx, "tok-1")
	if err != nil || !ok || got != userID {
		t.Errorf("FindUserByToken() = %d, %v, %v; want %d, true, nil", got, ok, err, userID)
	}
}

func TestInsertToken_Duplicate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	first := createTestUser(t, db, "1", "")
	second := createTestUser(t, db, "2", "")

	if err := db.InsertToken(ctx, "tok", first); err != nil {
		t.Fatalf("InsertToken() error = %v", err)
	}

	err := db.InsertToken(ctx, "tok", second)
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("second InsertToken() error = %v, want ErrConflict", err)
	}

	// The first mapping stands.
	got, _, _ := db.FindUserByToken(ctx, "tok")
	if got != first {
		t.Errorf("token maps to %d, want %d", got, first)
	}
}

func TestInsertToken_UnknownUser(t *testing.T) {
	db := newTestDB(t)

	err := db.InsertToken(context.Background(), "tok", 999)
	if err == nil {
		t.Fatal("InsertToken() should fail for a user that does not exist")
	}
	if errors.Is(err, apperror.ErrConflict) {
		t.Errorf("foreign key failure reported as conflict: %v", err)
	}
}
