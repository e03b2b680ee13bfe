package models

import "time"

const ProviderRequestPending = "pending"

// ProviderRequest is a client's application to become a service provider.
// Phone is nil when the submitted number could not be canonicalized.
type ProviderRequest struct {
	ID          string
	UserID      string
	Document    string
	Phone       *string
	MessagingID *string
	Description string
	Status      string
	CreatedAt   time.Time
}
