package repomanager

import (
	"context"
	"database/sql"

	"github.com/flicapp/identity/internal/dbx"
	"github.com/flicapp/identity/internal/server/repositories/accounts"
	"github.com/flicapp/identity/internal/server/repositories/orders"
	"github.com/flicapp/identity/internal/server/repositories/providerrequests"
	"github.com/flicapp/identity/internal/server/repositories/resettokens"
	"github.com/flicapp/identity/internal/server/repositories/users"
	"github.com/flicapp/identity/internal/server/repositories/verificationcodes"
)

// RepositoryManager vends repositories bound to a DBTX, so the same service
// code runs against the pool or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	VerificationCodes(db dbx.DBTX) verificationcodes.Repository
	ResetTokens(db dbx.DBTX) resettokens.Repository
	Accounts(db dbx.DBTX) accounts.Repository
	Orders(db dbx.DBTX) orders.Repository
	ProviderRequests(db dbx.DBTX) providerrequests.Repository
}
