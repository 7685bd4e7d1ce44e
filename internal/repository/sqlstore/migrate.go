package sqlstore

import (
	"context"
	"fmt"
)

// schema holds the DDL per dialect. Every statement is idempotent, so
// Migrate can run on each boot.
//
// The UNIQUE constraints on fb_id, gpp_id and tokens.access_token make a
// lost creation race surface as a conflict instead of a duplicate row.
var schema = map[Dialect]string{
	DialectSQLite: `
		CREATE TABLE IF NOT EXISTS users (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			first_name  TEXT,
			last_name   TEXT,
			email       TEXT NOT NULL DEFAULT '',
			settings    TEXT NOT NULL DEFAULT '',
			fb_id       TEXT UNIQUE,
			gpp_id      TEXT UNIQUE,
			registered  BOOLEAN NOT NULL DEFAULT FALSE,
			autocreated BOOLEAN NOT NULL DEFAULT FALSE,
			fake        BOOLEAN NOT NULL DEFAULT FALSE,
			featured    BOOLEAN NOT NULL DEFAULT FALSE,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

		CREATE TABLE IF NOT EXISTS purchases (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    INTEGER NOT NULL REFERENCES users(id),
			clues      INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_purchases_user_id ON purchases(user_id);

		CREATE TABLE IF NOT EXISTS clues (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    INTEGER NOT NULL REFERENCES users(id),
			revealed   BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_clues_user_id ON clues(user_id);

		CREATE TABLE IF NOT EXISTS tokens (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id      INTEGER NOT NULL REFERENCES users(id),
			access_token TEXT NOT NULL UNIQUE,
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`,
	DialectPostgres: `
		CREATE TABLE IF NOT EXISTS users (
			id          BIGSERIAL PRIMARY KEY,
			first_name  TEXT,
			last_name   TEXT,
			email       TEXT NOT NULL DEFAULT '',
			settings    TEXT NOT NULL DEFAULT '',
			fb_id       TEXT UNIQUE,
			gpp_id      TEXT UNIQUE,
			registered  BOOLEAN NOT NULL DEFAULT FALSE,
			autocreated BOOLEAN NOT NULL DEFAULT FALSE,
			fake        BOOLEAN NOT NULL DEFAULT FALSE,
			featured    BOOLEAN NOT NULL DEFAULT FALSE,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

		CREATE TABLE IF NOT EXISTS purchases (
			id         BIGSERIAL PRIMARY KEY,
			user_id    BIGINT NOT NULL REFERENCES users(id),
			clues      INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_purchases_user_id ON purchases(user_id);

		CREATE TABLE IF NOT EXISTS clues (
			id         BIGSERIAL PRIMARY KEY,
			user_id    BIGINT NOT NULL REFERENCES users(id),
			revealed   BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_clues_user_id ON clues(user_id);

		CREATE TABLE IF NOT EXISTS tokens (
			id           BIGSERIAL PRIMARY KEY,
			user_id      BIGINT NOT NULL REFERENCES users(id),
			access_token TEXT NOT NULL UNIQUE,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`,
}

// Migrate creates the users, purchases, clues and tokens tables if missing.
func (db *DB) Migrate(ctx context.Context) error {
	ddl, ok := schema[db.dialect]
	if !ok {
		return fmt.Errorf("sqlstore: no schema for dialect %q", db.dialect)
	}
	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlstore: migrating %s schema: %w", db.dialect, err)
	}
	return nil
}
