package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/flicapp/identity/internal/logging"
	"github.com/flicapp/identity/internal/server/auth"
	"github.com/flicapp/identity/internal/server/models"
	"github.com/flicapp/identity/internal/server/ratelimit"
	"github.com/flicapp/identity/internal/server/repositories/repomanager"
)

// Session is a signed bearer token for UserID.
type Session struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// SessionService opens anonymous sessions: a fresh account with no email,
// which later verification either upgrades or merges away.
type SessionService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	limiter     ratelimit.Limiter
	logger      logging.Logger
	secret      []byte
	validity    time.Duration
	now         clock
}

func NewSessionService(db *sql.DB, m repomanager.RepositoryManager, l ratelimit.Limiter, logger logging.Logger,
	secret []byte, validity time.Duration) *SessionService {
	return &SessionService{
		db:          db,
		repomanager: m,
		limiter:     l,
		logger:      logger,
		secret:      secret,
		validity:    validity,
		now:         utcNow,
	}
}

// StartAnonymous creates an account and signs a session for it. client keys
// the rate limit, normally the caller's address.
func (s *SessionService) StartAnonymous(ctx context.Context, client string) (*Session, error) {
	now := s.now()
	if err := allow(ctx, s.limiter, s.logger, "session:"+client, now); err != nil {
		return nil, err
	}

	u, err := s.repomanager.Users(s.db).Create(ctx, &models.User{})
	if err != nil {
		return nil, internal("create user", err)
	}

	token, err := auth.GenerateToken(u.ID, auth.RoleUser, s.secret, s.validity)
	if err != nil {
		return nil, internal("session token", err)
	}
	s.logger.Info(ctx, "anonymous session started", "user_id", u.ID)
	return &Session{UserID: u.ID, Token: token, ExpiresAt: now.Add(s.validity)}, nil
}
