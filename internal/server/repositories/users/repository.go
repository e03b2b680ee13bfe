package users

import (
	"context"

	"github.com/flicapp/identity/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	FindByPhones(ctx context.Context, phones []string) (*models.User, error)
	SetEmail(ctx context.Context, id, email string, verified bool) error
	MarkEmailVerified(ctx context.Context, id string) error
	UpdatePhone(ctx context.Context, id, phone, messagingID string) error
	SetTaxID(ctx context.Context, id, taxID string) error
	Delete(ctx context.Context, id string) error
}
