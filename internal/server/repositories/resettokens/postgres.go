// Package resettokens stores password reset credentials. Each row can be
// redeemed through its token hash or through its 6-digit code, once.
package resettokens

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

const tokenColumns = `id, user_id, token_hash, code, state, expires_at, state_changed_at, created_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, token *models.PasswordResetToken) (*models.PasswordResetToken, error) {
	query := `
		INSERT INTO password_reset_tokens (user_id, token_hash, code, state, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	token.State = models.CodeActive
	err := r.db.QueryRowContext(ctx, query, token.UserID, token.TokenHash, token.Code, string(token.State), token.ExpiresAt).
		Scan(&token.ID, &token.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return token, nil
}

func (r *PostgresRepository) SupersedeActive(ctx context.Context, userID string, now time.Time) (int64, error) {
	query := `
		UPDATE password_reset_tokens
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

func (r *PostgresRepository) RedeemByToken(ctx context.Context, tokenHash string, now time.Time) (*models.PasswordResetToken, error) {
	return r.redeem(ctx, "token_hash", tokenHash, now)
}

// RedeemByCode picks the newest matching code when several users happen to
// hold the same one.
func (r *PostgresRepository) RedeemByCode(ctx context.Context, code string, now time.Time) (*models.PasswordResetToken, error) {
	return r.redeem(ctx, "code", code, now)
}

func (r *PostgresRepository) redeem(ctx context.Context, column, value string, now time.Time) (*models.PasswordResetToken, error) {
	query := `
		UPDATE password_reset_tokens
		SET state = 'redeemed', state_changed_at = $2
		WHERE id = (
			SELECT id FROM password_reset_tokens
			WHERE ` + column + ` = $1 AND state = 'active' AND expires_at > $2
			ORDER BY created_at DESC, id DESC
			LIMIT 1
			FOR UPDATE
		) AND state = 'active'
		RETURNING ` + tokenColumns

	var (
		t       models.PasswordResetToken
		state   string
		changed sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, value, now).
		Scan(&t.ID, &t.UserID, &t.TokenHash, &t.Code, &state, &t.ExpiresAt, &changed, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorInvalidOrExpiredCode
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	t.State = models.CodeState(state)
	if changed.Valid {
		t.StateChangedAt = &changed.Time
	}
	return &t, nil
}
