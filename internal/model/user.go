// Package model defines the data structures used throughout the application.
package model

import (
	"strings"
	"time"
)

// DefaultClues is the size of the purchase-ledger entry granted to every
// newly created user.
const DefaultClues = 3

// IDType names the users column holding one provider's external identity.
//
// The set is closed: only the constants below are valid, and store code
// relies on that when it interpolates the column name into SQL.
type IDType string

const (
	IDTypeFacebook IDType = "fb_id"
	IDTypeGoogle   IDType = "gpp_id"
)

// Valid reports whether t is one of the known identity columns.
func (t IDType) Valid() bool {
	switch t {
	case IDTypeFacebook, IDTypeGoogle:
		return true
	}
	return false
}

// User is one account row.
//
// FirstName and LastName are nullable in the database, so they are pointers.
// External ids live in one column per provider; a user may be linked to any
// subset of them.
type User struct {
	ID          int64     `json:"id"          db:"id"`
	FirstName   *string   `json:"firstName"   db:"first_name"`
	LastName    *string   `json:"lastName"    db:"last_name"`
	Email       string    `json:"email"       db:"email"`
	Settings    Settings  `json:"settings"    db:"settings"`
	FacebookID  *string   `json:"fbId"        db:"fb_id"`
	GoogleID    *string   `json:"gppId"       db:"gpp_id"`
	Registered  bool      `json:"registered"  db:"registered"`
	Autocreated bool      `json:"autocreated" db:"autocreated"`
	Fake        bool      `json:"fake"        db:"fake"`
	Featured    bool      `json:"featured"    db:"featured"`
	CreatedAt   time.Time `json:"createdAt"   db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt"   db:"updated_at"`
}

// UserProjection is the read-shaped view of a user returned to API callers.
// AvailableClues is derived, never stored.
type UserProjection struct {
	NewUser        bool     `json:"new_user"`
	Settings       Settings `json:"settings"`
	AvailableClues int64    `json:"available_clues"`
	ID             int64    `json:"id"`
	FullName       string   `json:"full_name"`
}

// AvailableClues returns bought minus revealed, floored at zero.
func AvailableClues(bought, revealed int64) int64 {
	return max(0, bought-revealed)
}

// FullName joins whichever name parts are present with a single space.
func FullName(first, last *string) string {
	parts := make([]string, 0, 2)
	for _, p := range []*string{first, last} {
		if p == nil {
			continue
		}
		if s := strings.TrimSpace(*p); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// NewUserProjection is the projection of a user created moments ago. It
// needs no store read: a fresh account has default settings, no name and
// exactly the default clue grant.
func NewUserProjection(id int64) UserProjection {
	return UserProjection{
		NewUser:        true,
		Settings:       DefaultSettings(),
		AvailableClues: DefaultClues,
		ID:             id,
		FullName:       "",
	}
}
