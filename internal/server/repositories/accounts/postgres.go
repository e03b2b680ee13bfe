// Package accounts re-points user-owned rows from one account to another.
package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/flicapp/identity/internal/dbx"
	"github.com/flicapp/identity/internal/server/models"
	"github.com/flicapp/identity/internal/server/repositories/users"
)

// step is one statement of the reassignment. $1 is the duplicate user id,
// $2 the canonical one.
type step struct {
	name  string
	query string
}

// Steps run in order. Rows that would collide with a canonical row are
// dropped first, then the remainder is re-pointed.
var steps = []step{
	{"user_roles.dedupe", `DELETE FROM user_roles d WHERE d.user_id = $1
		AND EXISTS (SELECT 1 FROM user_roles c WHERE c.user_id = $2 AND c.role_id = d.role_id)`},
	{"user_roles", `UPDATE user_roles SET user_id = $2 WHERE user_id = $1`},
	{"provider_profiles.dedupe", `DELETE FROM provider_profiles WHERE user_id = $1
		AND EXISTS (SELECT 1 FROM provider_profiles WHERE user_id = $2)`},
	{"provider_profiles", `UPDATE provider_profiles SET user_id = $2 WHERE user_id = $1`},
	{"provider_categories.dedupe", `DELETE FROM provider_categories d WHERE d.user_id = $1
		AND EXISTS (SELECT 1 FROM provider_categories c WHERE c.user_id = $2 AND c.category_id = d.category_id)`},
	{"provider_categories", `UPDATE provider_categories SET user_id = $2 WHERE user_id = $1`},
	{"provider_requests", `UPDATE provider_requests SET user_id = $2 WHERE user_id = $1`},
	{"addresses", `UPDATE addresses SET user_id = $2 WHERE user_id = $1`},
	{"orders.client", `UPDATE orders SET client_id = $2 WHERE client_id = $1`},
	{"orders.provider", `UPDATE orders SET provider_id = $2 WHERE provider_id = $1`},
	{"order_reviews.client", `UPDATE order_reviews SET client_id = $2 WHERE client_id = $1`},
	{"order_reviews.provider", `UPDATE order_reviews SET provider_id = $2 WHERE provider_id = $1`},
}

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// LockUsers row-locks the given users in id order and returns those that
// exist, keyed by id. Missing ids are simply absent from the map.
func (r *PostgresRepository) LockUsers(ctx context.Context, ids ...string) (map[string]*models.User, error) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := `SELECT id, display_name, email, email_verified, phone, messaging_id, tax_id, created_at, updated_at
		FROM users WHERE id IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY id FOR UPDATE`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*models.User, len(ids))
	for rows.Next() {
		u, err := users.ScanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) ReassignDependents(ctx context.Context, fromID, toID string) ([]Reassignment, error) {
	out := make([]Reassignment, 0, len(steps))
	for _, s := range steps {
		res, err := r.db.ExecContext(ctx, s.query, fromID, toID)
		if err != nil {
			return nil, fmt.Errorf("%s: db error: %w", s.name, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("%s: db error: %w", s.name, err)
		}
		out = append(out, Reassignment{Step: s.name, Rows: n})
	}
	return out, nil
}

// Backfill copies profile fields from the duplicate onto the canonical user
// where the canonical value is empty. Existing values are never replaced.
func (r *PostgresRepository) Backfill(ctx context.Context, canonicalID string, from *models.User) error {
	query := `
		UPDATE users SET
			phone        = COALESCE(phone, $2),
			messaging_id = COALESCE(messaging_id, $3),
			tax_id       = COALESCE(tax_id, $4),
			display_name = CASE WHEN display_name = '' THEN $5 ELSE display_name END,
			updated_at   = now()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, canonicalID, from.Phone, from.MessagingID, from.TaxID, from.DisplayName); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
