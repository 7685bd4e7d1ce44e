package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sakif/backchat/internal/apperror"
	"github.com/sakif/backchat/internal/model"
	"github.com/sakif/backchat/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// identityColumn returns the column for idType, refusing anything outside
// the closed set. The result is safe to interpolate into SQL.
func identityColumn(idType model.IDType) (string, error) {
	if !idType.Valid() {
		return "", fmt.Errorf("sqlstore: unknown identity column %q", idType)
	}
	return string(idType), nil
}

// FindByExternalID returns the user linked to (idType, idValue).
func (db *DB) FindByExternalID(ctx context.Context, idType model.IDType, idValue string) (int64, bool, error) {
	col, err := identityColumn(idType)
	if err != nil {
		return 0, false, err
	}

	var id int64
	err = db.conn.QueryRowContext(ctx,
		db.rebind(`SELECT id FROM users WHERE `+col+` = ?`), idValue,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("sqlstore: looking up user by %s %s: %w", col, idValue, err)
	}
	return id, true, nil
}

// FindByEmail returns the single user with this email.
//
// Legacy data may hold several accounts sharing an email. That is not a
// match: the caller goes on as if nobody had the address.
func (db *DB) FindByEmail(ctx context.Context, email string) (int64, bool, error) {
	if email == "" {
		return 0, false, apperror.ValidationFailed("email", "email must not be empty")
	}

	rows, err := db.conn.QueryContext(ctx,
		db.rebind(`SELECT id FROM users WHERE email = ? LIMIT 2`), email,
	)
	if err != nil {
		return 0, false, fmt.Errorf("sqlstore: looking up user by email %s: %w", email, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, false, fmt.Errorf("sqlstore: scanning user by email %s: %w", email, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, false, fmt.Errorf("sqlstore: iterating users by email %s: %w", email, err)
	}

	switch len(ids) {
	case 0:
		return 0, false, nil
	case 1:
		return ids[0], true, nil
	default:
		db.logger.Warn("several users share an email, not matching on it",
			slog.String("email", email),
		)
		return 0, false, nil
	}
}

// CreateUser inserts a registered, non-autocreated user with default
// settings, linked to (idType, idValue), together with the default clue
// purchase.
//
// WHY A TRANSACTION?
// A user without the purchase row would report zero available clues forever,
// and nothing later backfills it. Writing both rows in one transaction means
// a crash or a failed second insert leaves no user at all, and the next
// request simply creates it again.
//
// WHY LET THE INSERT FAIL ON A DUPLICATE?
// Two first requests for the same identity race here. Checking first and
// inserting second leaves a window between the two; the unique index on the
// identity column closes it. The loser gets apperror.ErrConflict and the
// service re-reads the winner's row.
func (db *DB) CreateUser(ctx context.Context, idType model.IDType, idValue, email string) (int64, error) {
	col, err := identityColumn(idType)
	if err != nil {
		return 0, err
	}

	settings, err := model.EncodeSettings(model.DefaultSettings())
	if err != nil {
		return 0, err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: beginning user creation: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback()

	var userID int64
	err = tx.QueryRowContext(ctx, db.rebind(`
		INSERT INTO users (autocreated, registered, fake, featured, email, settings, created_at, updated_at, `+col+`)
		VALUES (FALSE, TRUE, FALSE, FALSE, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, ?)
		RETURNING id`),
		email, settings, idValue,
	).Scan(&userID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, apperror.Conflict("user", col+"="+idValue, err)
		}
		return 0, fmt.Errorf("sqlstore: inserting user for %s %s: %w", col, idValue, err)
	}

	_, err = tx.ExecContext(ctx, db.rebind(`
		INSERT INTO purchases (user_id, clues, created_at, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`),
		userID, model.DefaultClues,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: inserting default clues for user %d: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlstore: committing user %d: %w", userID, err)
	}
	return userID, nil
}

// UpdateIdentity links (idType, idValue) to userID and, when email is
// non-empty, replaces the stored email.
func (db *DB) UpdateIdentity(ctx context.Context, userID int64, idType model.IDType, idValue, email string) error {
	col, err := identityColumn(idType)
	if err != nil {
		return err
	}

	query := `UPDATE users SET ` + col + ` = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	args := []any{idValue, userID}
	if email != "" {
		query = `UPDATE users SET ` + col + ` = ?, email = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
		args = []any{idValue, email, userID}
	}

	res, err := db.conn.ExecContext(ctx, db.rebind(query), args...)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", col+"="+idValue, err)
		}
		return fmt.Errorf("sqlstore: updating identity of user %d: %w", userID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: rows affected for user %d: %w", userID, err)
	}
	if n == 0 {
		return apperror.NotFound("user", strconv.FormatInt(userID, 10))
	}
	return nil
}

// LoadProjection reads the user's settings and name and derives the
// available clue count from the purchases and clues tables.
func (db *DB) LoadProjection(ctx context.Context, userID int64) (*model.UserProjection, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT settings, first_name, last_name,
			(SELECT COALESCE(SUM(purchases.clues), 0) FROM purchases WHERE purchases.user_id = ?) AS bought_clues,
			(SELECT COUNT(clues.id) FROM clues WHERE clues.revealed = TRUE AND clues.user_id = ?) AS revealed_clues
		FROM users WHERE id = ?`),
		userID, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: querying user %d: %w", userID, err)
	}
	defer rows.Close()

	type row struct {
		settings  string
		firstName sql.NullString
		lastName  sql.NullString
		bought    int64
		revealed  int64
	}
	var found []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.settings, &r.firstName, &r.lastName, &r.bought, &r.revealed); err != nil {
			return nil, fmt.Errorf("sqlstore: scanning user %d: %w", userID, err)
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: iterating user %d: %w", userID, err)
	}

	switch len(found) {
	case 0:
		return nil, apperror.NotFound("user", strconv.FormatInt(userID, 10))
	case 1:
	default:
		db.logger.Error("integrity violation: several rows for one user id",
			slog.Int64("user_id", userID),
			slog.Int("rows", len(found)),
		)
		return nil, apperror.DataCorruption(fmt.Sprintf("%d rows for user %d", len(found), userID))
	}

	r := found[0]
	settings, err := model.DecodeSettings(r.settings)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: user %d: %w", userID, err)
	}

	return &model.UserProjection{
		NewUser:        false,
		Settings:       settings,
		AvailableClues: model.AvailableClues(r.bought, r.revealed),
		ID:             userID,
		FullName:       model.FullName(nullString(r.firstName), nullString(r.lastName)),
	}, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
