package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flicapp/identity/internal/common"
	"github.com/flicapp/identity/internal/dbx"
	"github.com/flicapp/identity/internal/logging"
	"github.com/flicapp/identity/internal/server/auth"
	"github.com/flicapp/identity/internal/server/metrics"
	"github.com/flicapp/identity/internal/server/models"
	"github.com/flicapp/identity/internal/server/ratelimit"
	"github.com/flicapp/identity/internal/server/repositories/repomanager"
)

const invalidCodeMessage = "invalid or expired code"

// VerificationResult is the outcome of redeeming an email code. A rejected
// code yields Success=false and a nil error.
type VerificationResult struct {
	Success      bool
	UserID       string
	Merged       bool
	SessionToken string
	Message      string
}

type VerificationOptions struct {
	CodeTTL         time.Duration
	SecretKey       []byte
	SessionValidity time.Duration
}

// VerificationService issues and redeems email verification codes.
type VerificationService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	merger      *MergeService
	notifier    Notifier
	limiter     ratelimit.Limiter
	logger      logging.Logger
	metrics     *metrics.Metrics
	opts        VerificationOptions
	now         clock
}

func NewVerificationService(db *sql.DB, m repomanager.RepositoryManager, merger *MergeService, n Notifier,
	l ratelimit.Limiter, logger logging.Logger, mt *metrics.Metrics, opts VerificationOptions) *VerificationService {
	return &VerificationService{
		db:          db,
		repomanager: m,
		merger:      merger,
		notifier:    n,
		limiter:     l,
		logger:      logger,
		metrics:     mt,
		opts:        opts,
		now:         utcNow,
	}
}

// RequestEmailVerification issues a code proving userID owns email.
func (s *VerificationService) RequestEmailVerification(ctx context.Context, userID, email string) (*models.VerificationCode, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, common.NewValidationError("email", "is required")
	}
	if err := allow(ctx, s.limiter, s.logger, "request:"+userID, s.now()); err != nil {
		return nil, err
	}
	if _, err := s.repomanager.Users(s.db).GetByID(ctx, userID); err != nil {
		return nil, internal("get user", err)
	}
	return s.issue(ctx, userID, email)
}

// ResendEmailVerification reissues a code for the email of the user's
// latest code, or for the user's own unverified email.
func (s *VerificationService) ResendEmailVerification(ctx context.Context, userID string) (*models.VerificationCode, error) {
	if err := allow(ctx, s.limiter, s.logger, "resend:"+userID, s.now()); err != nil {
		return nil, err
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, internal("get user", err)
	}

	var email string
	latest, err := s.repomanager.VerificationCodes(s.db).Latest(ctx, userID)
	switch {
	case err == nil:
		email = latest.Email
	case errors.Is(err, common.ErrorNotFound):
		if user.Email == nil || user.EmailVerified {
			return nil, fmt.Errorf("no email to verify: %w", common.ErrorNotFound)
		}
		email = *user.Email
	default:
		return nil, internal("latest code", err)
	}

	return s.issue(ctx, userID, email)
}

// issue supersedes the user's active codes and stores a new one in a single
// transaction, then hands the code to the notifier.
func (s *VerificationService) issue(ctx context.Context, userID, email string) (*models.VerificationCode, error) {
	value, err := common.GenerateNumericCode()
	if err != nil {
		return nil, internal("generate code", err)
	}

	now := s.now()
	code := &models.VerificationCode{
		UserID:    userID,
		Email:     email,
		Code:      value,
		ExpiresAt: now.Add(s.opts.CodeTTL),
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.VerificationCodes(tx)
		if _, err := repo.SupersedeActive(ctx, userID, now); err != nil {
			return err
		}
		code, err = repo.Create(ctx, code)
		return err
	})
	if err != nil {
		return nil, internal("issue code", err)
	}

	s.metrics.CodeIssued(string(models.KindEmailVerification))
	s.notifier.SendVerificationEmail(ctx, email, value)
	return code, nil
}

// ValidateEmailCode redeems code for userID. When the code's email already
// belongs to another account, userID is merged into it and the session moves
// to that account. Redemption and merge share one transaction, so a failed
// merge leaves the code usable.
func (s *VerificationService) ValidateEmailCode(ctx context.Context, userID, code string) (*VerificationResult, error) {
	if _, err := s.repomanager.Users(s.db).GetByID(ctx, userID); err != nil {
		return nil, internal("get user", err)
	}

	res := &VerificationResult{UserID: userID}
	err := dbx.WithTx(ctx, s.db, dbx.ReadCommitted, func(ctx context.Context, tx dbx.DBTX) error {
		vc, err := s.repomanager.VerificationCodes(tx).Redeem(ctx, userID, code, s.now())
		if err != nil {
			return err
		}

		users := s.repomanager.Users(tx)
		owner, err := users.GetByEmail(ctx, vc.Email)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			return users.SetEmail(ctx, userID, vc.Email, true)
		case err != nil:
			return err
		case owner.ID == userID:
			return users.MarkEmailVerified(ctx, userID)
		}

		canonicalID, err := s.merger.merge(ctx, tx, owner.ID, userID)
		if err != nil {
			return fmt.Errorf("%w: %w", common.ErrorMergeFailed, err)
		}
		res.UserID = canonicalID
		res.Merged = true
		return nil
	})

	kind := string(models.KindEmailVerification)
	switch {
	case errors.Is(err, common.ErrorInvalidOrExpiredCode):
		s.metrics.CodeRedeemed(kind, false)
		return &VerificationResult{Success: false, UserID: userID, Message: invalidCodeMessage}, nil
	case errors.Is(err, common.ErrorMergeFailed):
		s.metrics.Merge(false)
		s.logger.Error(ctx, "account merge failed", "user_id", userID, "error", err)
		return nil, mergeError(err)
	case err != nil:
		return nil, internal("validate code", err)
	}

	s.metrics.CodeRedeemed(kind, true)
	if res.Merged {
		s.metrics.Merge(true)
	}

	token, err := auth.GenerateToken(res.UserID, auth.RoleUser, s.opts.SecretKey, s.opts.SessionValidity)
	if err != nil {
		return nil, internal("session token", err)
	}
	res.Success = true
	res.SessionToken = token
	return res, nil
}
