package resettokens

import (
	"context"
	"time"

	"github.com/flicapp/identity/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, token *models.PasswordResetToken) (*models.PasswordResetToken, error)
	SupersedeActive(ctx context.Context, userID string, now time.Time) (int64, error)
	RedeemByToken(ctx context.Context, tokenHash string, now time.Time) (*models.PasswordResetToken, error)
	RedeemByCode(ctx context.Context, code string, now time.Time) (*models.PasswordResetToken, error)
}
