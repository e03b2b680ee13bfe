// Package orders provides read-only order aggregations for reporting.
package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/flicapp/identity/internal/dbx"
	"github.com/flicapp/identity/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// MonthlyBuckets groups orders created at or after since by calendar month
// (UTC) and status.
func (r *PostgresRepository) MonthlyBuckets(ctx context.Context, since time.Time) ([]models.OrderBucket, error) {
	query := `
		SELECT date_trunc('month', created_at AT TIME ZONE 'UTC') AS month, status, COUNT(*), COALESCE(SUM(total), 0)
		FROM orders
		WHERE created_at >= $1
		GROUP BY 1, 2
		ORDER BY 1, 2
	`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.OrderBucket
	for rows.Next() {
		var b models.OrderBucket
		if err := rows.Scan(&b.Month, &b.Status, &b.Count, &b.Total); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		b.Month = b.Month.UTC()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
