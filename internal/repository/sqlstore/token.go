package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/backchat/internal/apperror"
	"github.com/sakif/backchat/internal/repository"
)

var _ repository.TokenRepository = (*DB)(nil)

// FindUserByToken returns the user an access token was issued for.
func (db *DB) FindUserByToken(ctx context.Context, accessToken string) (int64, bool, error) {
	var userID int64
	err := db.conn.QueryRowContext(ctx,
		db.rebind(`SELECT user_id FROM tokens WHERE access_token = ?`), accessToken,
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("sqlstore: looking up token: %w", err)
	}
	return userID, true, nil
}

// InsertToken records accessToken for userID. A token that is already
// stored yields apperror.ErrConflict.
func (db *DB) InsertToken(ctx context.Context, accessToken string, userID int64) error {
	_, err := db.conn.ExecContext(ctx, db.rebind(`
		INSERT INTO tokens (user_id, access_token, created_at, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`),
		userID, accessToken,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("token", fmt.Sprintf("for user %d", userID), err)
		}
		return fmt.Errorf("sqlstore: inserting token for user %d: %w", userID, err)
	}
	return nil
}
