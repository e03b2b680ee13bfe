package orders

import (
	"context"
	"time"

	"github.com/flicapp/identity/internal/server/models"
)

type Repository interface {
	MonthlyBuckets(ctx context.Context, since time.Time) ([]models.OrderBucket, error)
}
