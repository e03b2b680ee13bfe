// Package services contains the identity business logic: one-time code
// issuance and redemption, account merging, password reset, profile updates,
// provider requests and order statistics. Services take a *sql.DB and a
// RepositoryManager and open transactions through dbx.WithTx.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/flicapp/identity/internal/common"
	"github.com/flicapp/identity/internal/logging"
	"github.com/flicapp/identity/internal/server/ratelimit"
)

// Notifier delivers identity emails. Implementations must not block the
// caller on delivery and must not report delivery failures.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, to, code string)
	SendPasswordResetEmail(ctx context.Context, to, code, token string)
}

type clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

// allow consults the limiter. Limiter failures are logged and let the
// request through.
func allow(ctx context.Context, l ratelimit.Limiter, log logging.Logger, key string, now time.Time) error {
	if l == nil {
		return nil
	}
	ok, retryAfter, err := l.Allow(ctx, key, now)
	if err != nil {
		log.Warn(ctx, "rate limiter unavailable", "key", key, "error", err)
		return nil
	}
	if !ok {
		return &common.RateLimitError{RetryAfter: retryAfter}
	}
	return nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// internal hides driver detail behind common.ErrorInternal while keeping the
// taxonomy sentinels intact.
func internal(op string, err error) error {
	for _, known := range []error{
		common.ErrorNotFound,
		common.ErrorValidation,
		common.ErrorConflict,
		common.ErrorInvalidOrExpiredCode,
		common.ErrorMergeFailed,
		common.ErrorRateLimited,
		common.ErrorUnauthorized,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %v", op, common.ErrorInternal, err)
}
