// Package verificationcodes stores email verification codes. A code moves
// from active to superseded or redeemed exactly once; both transitions are
// conditional updates so concurrent requests cannot redeem the same row twice.
package verificationcodes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flicapp/identity/internal/common"
	"github.com/flicapp/identity/internal/dbx"
	"github.com/flicapp/identity/internal/server/models"
)

const codeColumns = `id, user_id, email, code, state, expires_at, state_changed_at, created_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanCode(row interface{ Scan(...any) error }) (*models.VerificationCode, error) {
	var (
		c       models.VerificationCode
		state   string
		changed sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Email, &c.Code, &state, &c.ExpiresAt, &changed, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.State = models.CodeState(state)
	if changed.Valid {
		c.StateChangedAt = &changed.Time
	}
	return &c, nil
}

func (r *PostgresRepository) Create(ctx context.Context, code *models.VerificationCode) (*models.VerificationCode, error) {
	query := `
		INSERT INTO verification_codes (user_id, email, code, state, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	code.State = models.CodeActive
	err := r.db.QueryRowContext(ctx, query, code.UserID, code.Email, code.Code, string(code.State), code.ExpiresAt).
		Scan(&code.ID, &code.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return code, nil
}

// SupersedeActive retires every still-valid active code of userID and
// returns how many were retired.
func (r *PostgresRepository) SupersedeActive(ctx context.Context, userID string, now time.Time) (int64, error) {
	query := `
		UPDATE verification_codes
		SET state = 'superseded', state_changed_at = $2
		WHERE user_id = $1 AND state = 'active' AND expires_at > $2
	`
	res, err := r.db.ExecContext(ctx, query, userID, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// Redeem marks the newest active, unexpired code matching userID and code as
// redeemed in one statement. No match yields common.ErrorInvalidOrExpiredCode.
func (r *PostgresRepository) Redeem(ctx context.Context, userID, code string, now time.Time) (*models.VerificationCode, error) {
	query := `
		UPDATE verification_codes
		SET state = 'redeemed', state_changed_at = $3
		WHERE id = (
			SELECT id FROM verification_codes
			WHERE user_id = $1 AND code = $2 AND state = 'active' AND expires_at > $3
			ORDER BY created_at DESC, id DESC
			LIMIT 1
			FOR UPDATE
		) AND state = 'active'
		RETURNING ` + codeColumns

	c, err := scanCode(r.db.QueryRowContext(ctx, query, userID, code, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorInvalidOrExpiredCode
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

// Latest returns the most recently created code of userID in any state.
func (r *PostgresRepository) Latest(ctx context.Context, userID string) (*models.VerificationCode, error) {
	query := `
		SELECT ` + codeColumns + `
		FROM verification_codes
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	c, err := scanCode(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}
