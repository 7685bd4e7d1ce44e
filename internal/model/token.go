package model

import "time"

// SessionToken maps a provider-issued access token, used verbatim, to the
// local user it authenticated.
type SessionToken struct {
	AccessToken string    `json:"-"         db:"access_token"`
	UserID      int64     `json:"userId"    db:"user_id"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// Purchase is a ledger entry of clue credits bought by a user.
type Purchase struct {
	ID        int64     `json:"id"        db:"id"`
	UserID    int64     `json:"userId"    db:"user_id"`
	Clues     int64     `json:"clues"     db:"clues"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Clue is a hint shown to a user. Revealed clues are subtracted from the
// user's purchased total.
type Clue struct {
	ID        int64     `json:"id"        db:"id"`
	UserID    int64     `json:"userId"    db:"user_id"`
	Revealed  bool      `json:"revealed"  db:"revealed"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
