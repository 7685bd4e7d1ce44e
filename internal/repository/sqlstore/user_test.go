package sqlstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/sakif/backchat/internal/apperror"
	"github.com/sakif/backchat/internal/model"
)

// newTestDB returns a migrated in-memory SQLite store that is closed when
// the test ends.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, ":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return db
}

// createTestUser creates a facebook-linked user and fails the test on error.
func createTestUser(t *testing.T, db *DB, fbID, email string) int64 {
	t.Helper()
	id, err := db.CreateUser(context.Background(), model.IDTypeFacebook, fbID, email)
	if err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return id
}

// exec runs raw SQL for fixtures the repository has no writer for.
func exec(t *testing.T, db *DB, query string, args ...any) {
	t.Helper()
	if _, err := db.conn.ExecContext(context.Background(), db.rebind(query), args...); err != nil {
		t.Fatalf("fixture %q: %v", query, err)
	}
}

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestCreateUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id, err := db.CreateUser(ctx, model.IDTypeGoogle, "777", "new@n.com")
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if id == 0 {
		t.Fatal("CreateUser() returned id 0")
	}

	var email, settings, gppID string
	var registered, autocreated, fake, featured bool
	err = db.conn.QueryRowContext(ctx,
		`SELECT email, settings, gpp_id, registered, autocreated, fake, featured FROM users WHERE id = ?`, id,
	).Scan(&email, &settings, &gppID, &registered, &autocreated, &fake, &featured)
	if err != nil {
		t.Fatalf("reading created user: %v", err)
	}

	if email != "new@n.com" {
		t.Errorf("email = %q, want %q", email, "new@n.com")
	}
	if gppID != "777" {
		t.Errorf("gpp_id = %q, want %q", gppID, "777")
	}
	if !registered || autocreated || fake || featured {
		t.Errorf("flags = registered:%v autocreated:%v fake:%v featured:%v, want true/false/false/false",
			registered, autocreated, fake, featured)
	}
	if got, err := model.DecodeSettings(settings); err != nil || got != model.DefaultSettings() {
		t.Errorf("settings = %q (%v), want default document", settings, err)
	}

	var clues int64
	if err := db.conn.QueryRowContext(ctx,
		`SELECT SUM(clues) FROM purchases WHERE user_id = ?`, id,
	).Scan(&clues); err != nil {
		t.Fatalf("reading purchases: %v", err)
	}
	if clues != model.DefaultClues {
		t.Errorf("purchased clues = %d, want %d", clues, model.DefaultClues)
	}
}

func TestCreateUser_DuplicateExternalID(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "123", "a@x.com")

	_, err := db.CreateUser(context.Background(), model.IDTypeFacebook, "123", "other@x.com")
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("CreateUser() error = %v, want ErrConflict", err)
	}

	// The failed transaction must not leave a purchase behind.
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM purchases`).Scan(&n); err != nil {
		t.Fatalf("counting purchases: %v", err)
	}
	if n != 1 {
		t.Errorf("purchases = %d, want 1", n)
	}
}

func TestCreateUser_PurchaseFailureRollsBack(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	exec(t, db, `CREATE TRIGGER purchases_reject BEFORE INSERT ON purchases
		BEGIN SELECT RAISE(ABORT, 'purchases unavailable'); END`)

	_, err := db.CreateUser(ctx, model.IDTypeFacebook, "555", "half@x.com")
	if err == nil {
		t.Fatal("CreateUser() should fail when the purchase insert fails")
	}
	if errors.Is(err, apperror.ErrConflict) {
		t.Errorf("trigger failure reported as conflict: %v", err)
	}

	// No user may exist without its purchase.
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		t.Fatalf("counting users: %v", err)
	}
	if n != 0 {
		t.Errorf("users = %d, want 0 after rollback", n)
	}

	// Once purchases work again the same identity can be created.
	exec(t, db, `DROP TRIGGER purchases_reject`)
	if _, err := db.CreateUser(ctx, model.IDTypeFacebook, "555", "half@x.com"); err != nil {
		t.Fatalf("CreateUser() after rollback error = %v", err)
	}
}

func TestCreateUser_UnknownIDType(t *testing.T) {
	db := newTestDB(t)

	_, err := db.CreateUser(context.Background(), model.IDType("twitter_id"), "1", "")
	if err == nil {
		t.Fatal("CreateUser() should reject an unknown identity column")
	}
}

// =========================================================================
// LOOKUP TESTS
// =========================================================================

func TestFindByExternalID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	want := createTestUser(t, db, "123", "a@x.com")

	got, ok, err := db.FindByExternalID(ctx, model.IDTypeFacebook, "123")
	if err != nil || !ok || got != want {
		t.Errorf("FindByExternalID(fb_id, 123) = %d, %v, %v; want %d, true, nil", got, ok, err, want)
	}

	// Same value in a different provider column is a different identity.
	_, ok, err = db.FindByExternalID(ctx, model.IDTypeGoogle, "123")
	if err != nil || ok {
		t.Errorf("FindByExternalID(gpp_id, 123) = _, %v, %v; want false, nil", ok, err)
	}
}

func TestFindByEmail(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	want := createTestUser(t, db, "1", "c@z.com")

	t.Run("single match", func(t *testing.T) {
		got, ok, err := db.FindByEmail(ctx, "c@z.com")
		if err != nil || !ok || got != want {
			t.Errorf("FindByEmail() = %d, %v, %v; want %d, true, nil", got, ok, err, want)
		}
	})

	t.Run("no match", func(t *testing.T) {
		_, ok, err := db.FindByEmail(ctx, "nobody@z.com")
		if err != nil || ok {
			t.Errorf("FindByEmail() = _, %v, %v; want false, nil", ok, err)
		}
	})

	t.Run("shared email is not a match", func(t *testing.T) {
		createTestUser(t, db, "2", "shared@z.com")
		createTestUser(t, db, "3", "shared@z.com")

		_, ok, err := db.FindByEmail(ctx, "shared@z.com")
		if err != nil || ok {
			t.Errorf("FindByEmail() = _, %v, %v; want false, nil", ok, err)
		}
	})

	t.Run("empty email is rejected", func(t *testing.T) {
		_, _, err := db.FindByEmail(ctx, "")
		if !errors.Is(err, apperror.ErrValidation) {
			t.Errorf("FindByEmail(\"\") error = %v, want ErrValidation", err)
		}
	})
}

// =========================================================================
// UPDATE TESTS
// =========================================================================

func TestUpdateIdentity(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	id := createTestUser(t, db, "123", "a@x.com")

	readUser := func() (email string, gppID *string) {
		t.Helper()
		if err := db.conn.QueryRowContext(ctx,
			`SELECT email, gpp_id FROM users WHERE id = ?`, id,
		).Scan(&email, &gppID); err != nil {
			t.Fatalf("reading user: %v", err)
		}
		return email, gppID
	}

	t.Run("links identity and replaces email", func(t *testing.T) {
		if err := db.UpdateIdentity(ctx, id, model.IDTypeGoogle, "g-9", "b@y.com"); err != nil {
			t.Fatalf("UpdateIdentity() error = %v", err)
		}
		email, gppID := readUser()
		if email != "b@y.com" {
			t.Errorf("email = %q, want %q", email, "b@y.com")
		}
		if gppID == nil || *gppID != "g-9" {
			t.Errorf("gpp_id = %v, want g-9", gppID)
		}
	})

	t.Run("empty email keeps the stored one", func(t *testing.T) {
		if err := db.UpdateIdentity(ctx, id, model.IDTypeGoogle, "g-10", ""); err != nil {
			t.Fatalf("UpdateIdentity() error = %v", err)
		}
		email, gppID := readUser()
		if email != "b@y.com" {
			t.Errorf("email = %q, want it unchanged (%q)", email, "b@y.com")
		}
		if gppID == nil || *gppID != "g-10" {
			t.Errorf("gpp_id = %v, want g-10", gppID)
		}
	})

	t.Run("missing user", func(t *testing.T) {
		err := db.UpdateIdentity(ctx, 9999, model.IDTypeGoogle, "g-11", "")
		if !errors.Is(err, apperror.ErrNotFound) {
			t.Errorf("UpdateIdentity() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("identity owned by another user", func(t *testing.T) {
		other := createTestUser(t, db, "456", "")
		err := db.UpdateIdentity(ctx, other, model.IDTypeFacebook, "123", "")
		if !errors.Is(err, apperror.ErrConflict) {
			t.Errorf("UpdateIdentity() error = %v, want ErrConflict", err)
		}
	})
}

// =========================================================================
// PROJECTION TESTS
// =========================================================================

func TestLoadProjection_NewUser(t *testing.T) {
	db := newTestDB(t)
	id := createTestUser(t, db, "123", "a@x.com")

	p, err := db.LoadProjection(context.Background(), id)
	if err != nil {
		t.Fatalf("LoadProjection() error = %v", err)
	}

	want := model.UserProjection{
		NewUser:        false,
		Settings:       model.DefaultSettings(),
		AvailableClues: model.DefaultClues,
		ID:             id,
		FullName:       "",
	}
	if *p != want {
		t.Errorf("LoadProjection() = %+v, want %+v", *p, want)
	}
}

func TestLoadProjection_DerivedFields(t *testing.T) {
	tests := []struct {
		name      string
		purchases []int64
		revealed  int
		hidden    int
		want      int64
	}{
		{"default grant plus purchase", []int64{10}, 4, 2, 9},
		{"more revealed than bought", nil, 5, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			id := createTestUser(t, db, "123", "a@x.com")

			for _, n := range tt.purchases {
				exec(t, db, `INSERT INTO purchases (user_id, clues) VALUES (?, ?)`, id, n)
			}
			for range tt.revealed {
				exec(t, db, `INSERT INTO clues (user_id, revealed) VALUES (?, TRUE)`, id)
			}
			for range tt.hidden {
				exec(t, db, `INSERT INTO clues (user_id, revealed) VALUES (?, FALSE)`, id)
			}

			p, err := db.LoadProjection(context.Background(), id)
			if err != nil {
				t.Fatalf("LoadProjection() error = %v", err)
			}
			if p.AvailableClues != tt.want {
				t.Errorf("AvailableClues = %d, want %d", p.AvailableClues, tt.want)
			}
		})
	}
}

func TestLoadProjection_NameAndSettings(t *testing.T) {
	db := newTestDB(t)
	id := createTestUser(t, db, "123", "a@x.com")
	exec(t, db, `UPDATE users SET first_name = ?, last_name = ?, settings = ? WHERE id = ?`,
		"Ada", "Lovelace", "---\nmessage_preview: true\n", id)

	p, err := db.LoadProjection(context.Background(), id)
	if err != nil {
		t.Fatalf("LoadProjection() error = %v", err)
	}
	if p.FullName != "Ada Lovelace" {
		t.Errorf("FullName = %q, want %q", p.FullName, "Ada Lovelace")
	}
	if !p.Settings.MessagePreview {
		t.Error("Settings.MessagePreview = false, want true")
	}
}

func TestLoadProjection_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.LoadProjection(context.Background(), 4242)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("LoadProjection() error = %v, want ErrNotFound", err)
	}
}

func TestLoadProjection_CorruptSettings(t *testing.T) {
	db := newTestDB(t)
	id := createTestUser(t, db, "123", "")
	exec(t, db, `UPDATE users SET settings = ? WHERE id = ?`, "message_preview: [", id)

	if _, err := db.LoadProjection(context.Background(), id); err == nil {
		t.Error("LoadProjection() should fail on an unparseable settings document")
	}
}
