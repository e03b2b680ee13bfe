// Package users provides the PostgreSQL-backed user repository.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/flicapp/identity/internal/common"
	"github.com/flicapp/identity/internal/dbx"
	"github.com/flicapp/identity/internal/server/models"
)

const userColumns = `id, display_name, email, email_verified, phone, messaging_id, tax_id, created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// ScanUser reads a row selected with the users column list.
func ScanUser(row rowScanner) (*models.User, error) {
	var (
		u                                models.User
		email, phone, messagingID, taxID sql.NullString
	)
	err := row.Scan(&u.ID, &u.DisplayName, &email, &u.EmailVerified, &phone, &messagingID, &taxID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Email = nullable(email)
	u.Phone = nullable(phone)
	u.MessagingID = nullable(messagingID)
	u.TaxID = nullable(taxID)
	return &u, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query :=
		`INSERT INTO users (display_name, email, email_verified, phone, messaging_id, tax_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		user.DisplayName, user.Email, user.EmailVerified, user.Phone, user.MessagingID, user.TaxID,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	user, err := ScanUser(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail matches case-insensitively.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

// FindByPhones returns the oldest user whose stored phone equals any of phones.
func (r *PostgresRepository) FindByPhones(ctx context.Context, phones []string) (*models.User, error) {
	if len(phones) == 0 {
		return nil, common.ErrorNotFound
	}

	placeholders := make([]string, len(phones))
	args := make([]any, len(phones))
	for i, p := range phones {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = p
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE phone IN (` + strings.Join(placeholders, ", ") + `) ORDER BY created_at LIMIT 1`
	return r.getOne(ctx, query, args...)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	switch {
	case err != nil:
		return fmt.Errorf("db error: %w", err)
	case n == 0:
		return common.ErrorNotFound
	default:
		return nil
	}
}

func (r *PostgresRepository) SetEmail(ctx context.Context, id, email string, verified bool) error {
	return r.exec(ctx,
		`UPDATE users SET email = $2, email_verified = $3, updated_at = now() WHERE id = $1`,
		id, email, verified)
}

func (r *PostgresRepository) MarkEmailVerified(ctx context.Context, id string) error {
	return r.exec(ctx,
		`UPDATE users SET email_verified = TRUE, updated_at = now() WHERE id = $1`,
		id)
}

func (r *PostgresRepository) UpdatePhone(ctx context.Context, id, phone, messagingID string) error {
	return r.exec(ctx,
		`UPDATE users SET phone = $2, messaging_id = $3, updated_at = now() WHERE id = $1`,
		id, phone, messagingID)
}

// SetTaxID stores taxID only while the column is empty or already equal.
// A different existing value yields common.ErrorConflict.
func (r *PostgresRepository) SetTaxID(ctx context.Context, id, taxID string) error {
	err := r.exec(ctx,
		`UPDATE users SET tax_id = $2, updated_at = now() WHERE id = $1 AND (tax_id IS NULL OR tax_id = $2)`,
		id, taxID)
	if errors.Is(err, common.ErrorNotFound) {
		return common.ErrorConflict
	}
	return err
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM users WHERE id = $1`, id)
}
