package models

import "time"

// User is an account. Email is unique when present; TaxID (CPF, digits only)
// never changes once set.
type User struct {
	ID            string
	DisplayName   string
	Email         *string
	EmailVerified bool
	Phone         *string
	MessagingID   *string
	TaxID         *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
