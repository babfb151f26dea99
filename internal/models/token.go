package models

import "time"

// RefreshToken represents a persisted refresh token session. A record is
// valid for use iff Revoked is false and ExpiresAt is in the future; the
// revoked flag is one-way and set exactly once, either when the token is
// consumed by a rotation or when the session is logged out.
type RefreshToken struct {
	ID             string     `db:"id" json:"id"`
	UserID         string     `db:"user_id" json:"user_id"`
	Token          string     `db:"token" json:"token"`
	ExpiresAt      time.Time  `db:"expires_at" json:"expires_at"`
	Revoked        bool       `db:"revoked" json:"revoked"`
	RevokedAt      *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	LastModifiedAt time.Time  `db:"last_modified_at" json:"last_modified_at"`
	IPAddress      string     `db:"ip_address" json:"ip_address"`
	UserAgent      string     `db:"user_agent" json:"user_agent"`
}

// Valid reports whether the record may still be redeemed at the given time.
func (t *RefreshToken) Valid(now time.Time) bool {
	return t != nil && !t.Revoked && now.Before(t.ExpiresAt)
}
