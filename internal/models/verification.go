package models

import "time"

// EmailVerification is a single-use token sent to a new account's address.
type EmailVerification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	TokenHash string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (v EmailVerification) IsExpired(now time.Time) bool {
	return now.After(v.ExpiresAt)
}

func (v EmailVerification) IsUsed() bool {
	return v.UsedAt != nil
}
