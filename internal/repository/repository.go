// Package repository declares the storage contracts the reconciliation
// service depends on. Implementations live in sub-packages.
package repository

import (
	"context"

	"github.com/sakif/backchat/internal/model"
)

// UserRepository owns user rows and the purchase ledger.
//
// Find* methods return (0, false, nil) when nothing matches. Write conflicts
// on unique columns are reported as apperror.ErrConflict.
type UserRepository interface {
	FindByExternalID(ctx context.Context, idType model.IDType, idValue string) (int64, bool, error)
	// FindByEmail must only be called with a non-empty email.
	FindByEmail(ctx context.Context, email string) (int64, bool, error)
	// CreateUser inserts a registered user linked to (idType, idValue) and
	// the default clue purchase, atomically.
	CreateUser(ctx context.Context, idType model.IDType, idValue, email string) (int64, error)
	// UpdateIdentity sets the identity column, and the email when non-empty.
	UpdateIdentity(ctx context.Context, userID int64, idType model.IDType, idValue, email string) error
	// LoadProjection returns apperror.ErrNotFound for no row and
	// apperror.ErrDataCorruption for more than one.
	LoadProjection(ctx context.Context, userID int64) (*model.UserProjection, error)
}

// TokenRepository owns the access token -> user mapping. Tokens are only
// ever inserted; an access token already present yields apperror.ErrConflict.
type TokenRepository interface {
	FindUserByToken(ctx context.Context, accessToken string) (int64, bool, error)
	InsertToken(ctx context.Context, accessToken string, userID int64) error
}
