package providerrequests

import (
	"context"

	"github.com/flicapp/identity/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, req *models.ProviderRequest) (*models.ProviderRequest, error)
}
