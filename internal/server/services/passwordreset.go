package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/flicapp/identity/internal/common"
	"github.com/flicapp/identity/internal/dbx"
	"github.com/flicapp/identity/internal/logging"
	"github.com/flicapp/identity/internal/server/metrics"
	"github.com/flicapp/identity/internal/server/models"
	"github.com/flicapp/identity/internal/server/ratelimit"
	"github.com/flicapp/identity/internal/server/repositories/repomanager"
)

// IssuedReset is the plain token and code handed to the user. Only the
// token's hash is stored.
type IssuedReset struct {
	UserID    string
	Token     string
	Code      string
	ExpiresAt time.Time
}

type ResetResult struct {
	Success bool
	UserID  string
	Message string
}

type PasswordResetService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	notifier    Notifier
	limiter     ratelimit.Limiter
	logger      logging.Logger
	metrics     *metrics.Metrics
	ttl         time.Duration
	now         clock
}

func NewPasswordResetService(db *sql.DB, m repomanager.RepositoryManager, n Notifier, l ratelimit.Limiter,
	logger logging.Logger, mt *metrics.Metrics, ttl time.Duration) *PasswordResetService {
	return &PasswordResetService{
		db:          db,
		repomanager: m,
		notifier:    n,
		limiter:     l,
		logger:      logger,
		metrics:     mt,
		ttl:         ttl,
		now:         utcNow,
	}
}

// RequestReset issues a token for the account holding email and mails it.
// Delivery failures do not surface.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return common.NewValidationError("email", "is required")
	}
	if err := allow(ctx, s.limiter, s.logger, "reset:"+email, s.now()); err != nil {
		return err
	}

	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		return internal("get user", err)
	}

	issued, err := s.IssueResetToken(ctx, user.ID)
	if err != nil {
		return err
	}
	s.notifier.SendPasswordResetEmail(ctx, email, issued.Code, issued.Token)
	return nil
}

// IssueResetToken supersedes the user's active reset tokens and stores a new
// token/code pair expiring after the configured TTL.
func (s *PasswordResetService) IssueResetToken(ctx context.Context, userID string) (*IssuedReset, error) {
	token, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, internal("generate token", err)
	}
	code, err := common.GenerateNumericCode()
	if err != nil {
		return nil, internal("generate code", err)
	}

	now := s.now()
	row := &models.PasswordResetToken{
		UserID:    userID,
		TokenHash: hashToken(token),
		Code:      code,
		ExpiresAt: now.Add(s.ttl),
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.ResetTokens(tx)
		if _, err := repo.SupersedeActive(ctx, userID, now); err != nil {
			return err
		}
		_, err := repo.Create(ctx, row)
		return err
	})
	if err != nil {
		return nil, internal("issue reset token", err)
	}

	s.metrics.CodeIssued(string(models.KindPasswordReset))
	return &IssuedReset{UserID: userID, Token: token, Code: code, ExpiresAt: row.ExpiresAt}, nil
}

// ValidateReset redeems by token when one is given, otherwise by code.
func (s *PasswordResetService) ValidateReset(ctx context.Context, token, code string) (*ResetResult, error) {
	token = strings.TrimSpace(token)
	code = strings.TrimSpace(code)
	if token == "" && code == "" {
		return nil, common.NewValidationError("token", "token or code is required")
	}

	repo := s.repomanager.ResetTokens(s.db)
	var (
		row *models.PasswordResetToken
		err error
	)
	if token != "" {
		row, err = repo.RedeemByToken(ctx, hashToken(token), s.now())
	} else {
		row, err = repo.RedeemByCode(ctx, code, s.now())
	}

	kind := string(models.KindPasswordReset)
	if errors.Is(err, common.ErrorInvalidOrExpiredCode) {
		s.metrics.CodeRedeemed(kind, false)
		return &ResetResult{Success: false, Message: invalidCodeMessage}, nil
	}
	if err != nil {
		return nil, internal("redeem reset token", err)
	}

	s.metrics.CodeRedeemed(kind, true)
	return &ResetResult{Success: true, UserID: row.UserID}, nil
}
