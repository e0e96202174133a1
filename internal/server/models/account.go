// Package models defines the typed records persisted in the mailvault
// document and the DTOs exchanged with the upstream mail API.
package models

import "time"

// AccountStatus reflects the outcome of the most recent verification attempt.
// It is never set by unrelated operations; editing the refresh token resets
// it to unknown because the previous outcome no longer applies.
type AccountStatus string

const (
	StatusActive  AccountStatus = "active"
	StatusInvalid AccountStatus = "invalid"
	StatusUnknown AccountStatus = "unknown"
)

// Account is one managed mailbox. Password and RefreshToken are stored in the
// codec's at-rest representation (ciphertext when a key is configured).
type Account struct {
	ID           string        `json:"id"`
	OwnerID      string        `json:"owner_id"`
	Email        string        `json:"email"`
	Password     string        `json:"password,omitempty"`
	RefreshToken string        `json:"refresh_token"`
	ClientID     string        `json:"client_id"`
	GroupID      *string       `json:"group_id"`
	Remark       string        `json:"remark,omitempty"`
	Status       AccountStatus `json:"status"`
	LastVerified *time.Time    `json:"last_verified"`
	CreatedAt    time.Time     `json:"created_at"`
}

// VerifyResult is the per-account outcome of a verification run.
type VerifyResult struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Valid     bool   `json:"valid"`
	Error     string `json:"error,omitempty"`
}
