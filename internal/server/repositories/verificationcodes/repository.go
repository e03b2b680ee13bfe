package verificationcodes

import (
	"context"
	"time"

	"github.com/flicapp/identity/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, code *models.VerificationCode) (*models.VerificationCode, error)
	SupersedeActive(ctx context.Context, userID string, now time.Time) (int64, error)
	Redeem(ctx context.Context, userID, code string, now time.Time) (*models.VerificationCode, error)
	Latest(ctx context.Context, userID string) (*models.VerificationCode, error)
}
