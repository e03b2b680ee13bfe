package accounts

import (
	"context"

	"github.com/flicapp/identity/internal/server/models"
)

// Repository holds the multi-table statements used when two accounts are
// merged. It is only meaningful when bound to a transaction.
type Repository interface {
	LockUsers(ctx context.Context, ids ...string) (map[string]*models.User, error)
	ReassignDependents(ctx context.Context, fromID, toID string) ([]Reassignment, error)
	Backfill(ctx context.Context, canonicalID string, from *models.User) error
}

// Reassignment reports how many rows one merge step touched.
type Reassignment struct {
	Step string
	Rows int64
}
