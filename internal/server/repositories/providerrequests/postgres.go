// Package providerrequests stores applications to become a provider.
package providerrequests

import (
	"context"
	"fmt"

	"github.com/flicapp/identity/internal/dbx"
	"github.com/flicapp/identity/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, req *models.ProviderRequest) (*models.ProviderRequest, error) {
	query := `
		INSERT INTO provider_requests (user_id, document, phone, messaging_id, description, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	if req.Status == "" {
		req.Status = models.ProviderRequestPending
	}
	err := r.db.QueryRowContext(ctx, query,
		req.UserID, req.Document, req.Phone, req.MessagingID, req.Description, req.Status,
	).Scan(&req.ID, &req.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return req, nil
}
