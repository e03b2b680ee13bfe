package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flicapp/identity/internal/common"
	"github.com/flicapp/identity/internal/dbx"
	"github.com/flicapp/identity/internal/logging"
	"github.com/flicapp/identity/internal/server/metrics"
	"github.com/flicapp/identity/internal/server/repositories/repomanager"
)

// MergeService folds a duplicate account into a canonical one.
type MergeService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	metrics     *metrics.Metrics
}

func NewMergeService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger, mt *metrics.Metrics) *MergeService {
	return &MergeService{db: db, repomanager: m, logger: logger, metrics: mt}
}

// MergeUsers moves everything owned by duplicateID onto canonicalID and
// deletes the duplicate, all in one read-committed transaction. It returns
// the canonical id.
func (s *MergeService) MergeUsers(ctx context.Context, canonicalID, duplicateID string) (string, error) {
	if canonicalID == duplicateID {
		return "", common.NewValidationError("duplicateUserId", "must differ from canonicalUserId")
	}

	var id string
	err := dbx.WithTx(ctx, s.db, dbx.ReadCommitted, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		id, err = s.merge(ctx, tx, canonicalID, duplicateID)
		return err
	})
	s.metrics.Merge(err == nil)
	if err != nil {
		s.logger.Error(ctx, "account merge failed", "canonical_id", canonicalID, "duplicate_id", duplicateID, "error", err)
		return "", mergeError(err)
	}
	return id, nil
}

// merge runs inside tx. Both users are locked in id order first, so a second
// merge of the same duplicate waits and then finds it gone.
func (s *MergeService) merge(ctx context.Context, tx dbx.DBTX, canonicalID, duplicateID string) (string, error) {
	accounts := s.repomanager.Accounts(tx)
	users := s.repomanager.Users(tx)

	locked, err := accounts.LockUsers(ctx, canonicalID, duplicateID)
	if err != nil {
		return "", fmt.Errorf("lock users: %w", err)
	}
	canonical, ok := locked[canonicalID]
	if !ok {
		return "", fmt.Errorf("canonical user %s: %w", canonicalID, common.ErrorNotFound)
	}
	duplicate, ok := locked[duplicateID]
	if !ok {
		return "", fmt.Errorf("duplicate user %s: %w", duplicateID, common.ErrorNotFound)
	}

	steps, err := accounts.ReassignDependents(ctx, duplicate.ID, canonical.ID)
	if err != nil {
		return "", fmt.Errorf("reassign dependents: %w", err)
	}

	// The duplicate goes before the backfill so its unique tax id and email
	// are free to move.
	if err := users.Delete(ctx, duplicate.ID); err != nil {
		return "", fmt.Errorf("delete duplicate: %w", err)
	}
	if err := accounts.Backfill(ctx, canonical.ID, duplicate); err != nil {
		return "", fmt.Errorf("backfill: %w", err)
	}
	if canonical.Email != nil {
		if err := users.MarkEmailVerified(ctx, canonical.ID); err != nil {
			return "", fmt.Errorf("mark email verified: %w", err)
		}
	}

	args := []any{"canonical_id", canonical.ID, "duplicate_id", duplicate.ID}
	for _, st := range steps {
		args = append(args, st.Step, st.Rows)
	}
	s.logger.Info(ctx, "accounts merged", args...)

	return canonical.ID, nil
}

// mergeError tags err with ErrorMergeFailed, keeping the cause matchable.
func mergeError(err error) error {
	if errors.Is(err, common.ErrorMergeFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", common.ErrorMergeFailed, err)
}
