package models

import "time"

// CodeState is the lifecycle of a one-time code or token.
type CodeState string

const (
	CodeActive     CodeState = "active"
	CodeSuperseded CodeState = "superseded"
	CodeRedeemed   CodeState = "redeemed"
)

// CodeKind distinguishes the two families of one-time credentials.
type CodeKind string

const (
	KindEmailVerification CodeKind = "email_verification"
	KindPasswordReset     CodeKind = "password_reset"
)

// VerificationCode proves ownership of Email for UserID.
type VerificationCode struct {
	ID             string
	UserID         string
	Email          string
	Code           string
	State          CodeState
	ExpiresAt      time.Time
	StateChangedAt *time.Time
	CreatedAt      time.Time
}

// PasswordResetToken can be redeemed either by its opaque token, stored only
// as a SHA-256 hash, or by its 6-digit companion code.
type PasswordResetToken struct {
	ID             string
	UserID         string
	TokenHash      string
	Code           string
	State          CodeState
	ExpiresAt      time.Time
	StateChangedAt *time.Time
	CreatedAt      time.Time
}
