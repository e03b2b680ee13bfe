package services

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/flicapp/identity/internal/common"
	"github.com/flicapp/identity/internal/dbx"
	"github.com/flicapp/identity/internal/server/models"
	"github.com/flicapp/identity/internal/server/repositories/accounts"
	"github.com/flicapp/identity/internal/server/repositories/orders"
	"github.com/flicapp/identity/internal/server/repositories/providerrequests"
	"github.com/flicapp/identity/internal/server/repositories/resettokens"
	"github.com/flicapp/identity/internal/server/repositories/users"
	"github.com/flicapp/identity/internal/server/repositories/verificationcodes"
)

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func strptr(s string) *string { return &s }

// fakeStore is an in-memory stand-in for every repository. It ignores the
// DBTX it was vended for; transaction boundaries are asserted with sqlmock,
// or enforced by newTxDB when the test needs rollbacks to undo writes.
type fakeStore struct {
	users      map[string]*models.User
	codes      []*models.VerificationCode
	resets     []*models.PasswordResetToken
	providers  []*models.ProviderRequest
	buckets    []models.OrderBucket
	dependents map[string][]string // table -> owner of each row

	failOn map[string]error
	seq    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      map[string]*models.User{},
		dependents: map[string][]string{},
		failOn:     map[string]error{},
	}
}

// snapshot deep-copies the stored rows. failOn is not part of the state.
func (f *fakeStore) snapshot() *fakeStore {
	cp := &fakeStore{
		users:      make(map[string]*models.User, len(f.users)),
		dependents: make(map[string][]string, len(f.dependents)),
		buckets:    append([]models.OrderBucket(nil), f.buckets...),
		seq:        f.seq,
	}
	for id, u := range f.users {
		v := *u
		cp.users[id] = &v
	}
	for _, c := range f.codes {
		v := *c
		cp.codes = append(cp.codes, &v)
	}
	for _, t := range f.resets {
		v := *t
		cp.resets = append(cp.resets, &v)
	}
	for _, p := range f.providers {
		v := *p
		cp.providers = append(cp.providers, &v)
	}
	for table, owners := range f.dependents {
		cp.dependents[table] = append([]string(nil), owners...)
	}
	return cp
}

func (f *fakeStore) restore(from *fakeStore) {
	f.users, f.codes, f.resets = from.users, from.codes, from.resets
	f.providers, f.buckets, f.dependents = from.providers, from.buckets, from.dependents
	f.seq = from.seq
}

// redeemable mirrors the repositories' "state = 'active' AND expires_at > now".
func redeemable(state models.CodeState, expiresAt, now time.Time) bool {
	return state == models.CodeActive && now.Before(expiresAt)
}

func (f *fakeStore) fail(op string) error { return f.failOn[op] }

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeStore) addUser(u *models.User) *models.User {
	f.users[u.ID] = u
	return u
}

type fakeRepoManager struct{ s *fakeStore }

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository { return (*fakeUsers)(m.s) }

func (m *fakeRepoManager) VerificationCodes(dbx.DBTX) verificationcodes.Repository {
	return (*fakeCodes)(m.s)
}

func (m *fakeRepoManager) ResetTokens(dbx.DBTX) resettokens.Repository { return (*fakeResets)(m.s) }

func (m *fakeRepoManager) Accounts(dbx.DBTX) accounts.Repository { return (*fakeAccounts)(m.s) }

func (m *fakeRepoManager) Orders(dbx.DBTX) orders.Repository { return (*fakeOrders)(m.s) }

func (m *fakeRepoManager) ProviderRequests(dbx.DBTX) providerrequests.Repository {
	return (*fakeProviders)(m.s)
}

// --- users ---

type fakeUsers fakeStore

func (r *fakeUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	s := (*fakeStore)(r)
	if err := s.fail("users.Create"); err != nil {
		return nil, err
	}
	u.ID = s.nextID("user")
	s.users[u.ID] = u
	return u, nil
}

func (r *fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	s := (*fakeStore)(r)
	if err := s.fail("users.GetByID"); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	s := (*fakeStore)(r)
	if err := s.fail("users.GetByEmail"); err != nil {
		return nil, err
	}
	for _, u := range s.users {
		if u.Email != nil && *u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeUsers) FindByPhones(_ context.Context, phones []string) (*models.User, error) {
	s := (*fakeStore)(r)
	if err := s.fail("users.FindByPhones"); err != nil {
		return nil, err
	}
	for _, p := range phones {
		for _, u := range s.users {
			if u.Phone != nil && *u.Phone == p {
				return u, nil
			}
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeUsers) SetEmail(_ context.Context, id, email string, verified bool) error {
	s := (*fakeStore)(r)
	u, ok := s.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.Email = &email
	u.EmailVerified = verified
	return nil
}

func (r *fakeUsers) MarkEmailVerified(_ context.Context, id string) error {
	s := (*fakeStore)(r)
	if err := s.fail("users.MarkEmailVerified"); err != nil {
		return err
	}
	u, ok := s.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.EmailVerified = true
	return nil
}

func (r *fakeUsers) UpdatePhone(_ context.Context, id, phone, messagingID string) error {
	s := (*fakeStore)(r)
	u, ok := s.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.Phone, u.MessagingID = &phone, &messagingID
	return nil
}

func (r *fakeUsers) SetTaxID(_ context.Context, id, taxID string) error {
	s := (*fakeStore)(r)
	u, ok := s.users[id]
	if !ok || (u.TaxID != nil && *u.TaxID != taxID) {
		return common.ErrorConflict
	}
	u.TaxID = &taxID
	return nil
}

func (r *fakeUsers) Delete(_ context.Context, id string) error {
	s := (*fakeStore)(r)
	if err := s.fail("users.Delete"); err != nil {
		return err
	}
	if _, ok := s.users[id]; !ok {
		return common.ErrorNotFound
	}
	delete(s.users, id)
	return nil
}

// --- verification codes ---

type fakeCodes fakeStore

func (r *fakeCodes) Create(_ context.Context, c *models.VerificationCode) (*models.VerificationCode, error) {
	s := (*fakeStore)(r)
	if err := s.fail("codes.Create"); err != nil {
		return nil, err
	}
	c.ID = s.nextID("code")
	c.State = models.CodeActive
	c.CreatedAt = time.Unix(int64(s.seq), 0)
	s.codes = append(s.codes, c)
	return c, nil
}

func (r *fakeCodes) SupersedeActive(_ context.Context, userID string, now time.Time) (int64, error) {
	s := (*fakeStore)(r)
	var n int64
	for _, c := range s.codes {
		if c.UserID == userID && redeemable(c.State, c.ExpiresAt, now) {
			c.State = models.CodeSuperseded
			n++
		}
	}
	return n, nil
}

func (r *fakeCodes) Redeem(_ context.Context, userID, code string, now time.Time) (*models.VerificationCode, error) {
	s := (*fakeStore)(r)
	for i := len(s.codes) - 1; i >= 0; i-- {
		c := s.codes[i]
		if c.UserID == userID && c.Code == code && redeemable(c.State, c.ExpiresAt, now) {
			c.State = models.CodeRedeemed
			c.StateChangedAt = &now
			cp := *c
			return &cp, nil
		}
	}
	return nil, common.ErrorInvalidOrExpiredCode
}

func (r *fakeCodes) Latest(_ context.Context, userID string) (*models.VerificationCode, error) {
	s := (*fakeStore)(r)
	if err := s.fail("codes.Latest"); err != nil {
		return nil, err
	}
	for i := len(s.codes) - 1; i >= 0; i-- {
		if s.codes[i].UserID == userID {
			return s.codes[i], nil
		}
	}
	return nil, common.ErrorNotFound
}

// --- reset tokens ---

type fakeResets fakeStore

func (r *fakeResets) Create(_ context.Context, t *models.PasswordResetToken) (*models.PasswordResetToken, error) {
	s := (*fakeStore)(r)
	if err := s.fail("resets.Create"); err != nil {
		return nil, err
	}
	t.ID = s.nextID("reset")
	t.State = models.CodeActive
	s.resets = append(s.resets, t)
	return t, nil
}

func (r *fakeResets) SupersedeActive(_ context.Context, userID string, now time.Time) (int64, error) {
	s := (*fakeStore)(r)
	var n int64
	for _, t := range s.resets {
		if t.UserID == userID && redeemable(t.State, t.ExpiresAt, now) {
			t.State = models.CodeSuperseded
			n++
		}
	}
	return n, nil
}

func (r *fakeResets) redeem(match func(*models.PasswordResetToken) bool, now time.Time) (*models.PasswordResetToken, error) {
	s := (*fakeStore)(r)
	for i := len(s.resets) - 1; i >= 0; i-- {
		t := s.resets[i]
		if match(t) && redeemable(t.State, t.ExpiresAt, now) {
			t.State = models.CodeRedeemed
			return t, nil
		}
	}
	return nil, common.ErrorInvalidOrExpiredCode
}

func (r *fakeResets) RedeemByToken(_ context.Context, hash string, now time.Time) (*models.PasswordResetToken, error) {
	return r.redeem(func(t *models.PasswordResetToken) bool { return t.TokenHash == hash }, now)
}

func (r *fakeResets) RedeemByCode(_ context.Context, code string, now time.Time) (*models.PasswordResetToken, error) {
	return r.redeem(func(t *models.PasswordResetToken) bool { return t.Code == code }, now)
}

// --- accounts ---

type fakeAccounts fakeStore

func (r *fakeAccounts) LockUsers(_ context.Context, ids ...string) (map[string]*models.User, error) {
	s := (*fakeStore)(r)
	if err := s.fail("accounts.LockUsers"); err != nil {
		return nil, err
	}
	out := map[string]*models.User{}
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

func (r *fakeAccounts) ReassignDependents(_ context.Context, fromID, toID string) ([]accounts.Reassignment, error) {
	s := (*fakeStore)(r)
	if err := s.fail("accounts.ReassignDependents"); err != nil {
		return nil, err
	}
	var out []accounts.Reassignment
	for table, owners := range s.dependents {
		var n int64
		for i, o := range owners {
			if o == fromID {
				owners[i] = toID
				n++
			}
		}
		out = append(out, accounts.Reassignment{Step: table, Rows: n})
	}
	return out, nil
}

func (r *fakeAccounts) Backfill(_ context.Context, canonicalID string, from *models.User) error {
	s := (*fakeStore)(r)
	if err := s.fail("accounts.Backfill"); err != nil {
		return err
	}
	u := s.users[canonicalID]
	if u.Phone == nil {
		u.Phone = from.Phone
	}
	if u.MessagingID == nil {
		u.MessagingID = from.MessagingID
	}
	if u.TaxID == nil {
		u.TaxID = from.TaxID
	}
	return nil
}

// --- orders / provider requests ---

type fakeOrders fakeStore

func (r *fakeOrders) MonthlyBuckets(_ context.Context, since time.Time) ([]models.OrderBucket, error) {
	s := (*fakeStore)(r)
	if err := s.fail("orders.MonthlyBuckets"); err != nil {
		return nil, err
	}
	var out []models.OrderBucket
	for _, b := range s.buckets {
		if !b.Month.Before(since) {
			out = append(out, b)
		}
	}
	return out, nil
}

type fakeProviders fakeStore

func (r *fakeProviders) Create(_ context.Context, req *models.ProviderRequest) (*models.ProviderRequest, error) {
	s := (*fakeStore)(r)
	if err := s.fail("providers.Create"); err != nil {
		return nil, err
	}
	req.ID = s.nextID("preq")
	req.Status = models.ProviderRequestPending
	s.providers = append(s.providers, req)
	return req, nil
}

// --- notifier ---

type sentMail struct {
	kind, to, code, token string
}

type fakeNotifier struct {
	sent []sentMail
}

func (n *fakeNotifier) SendVerificationEmail(_ context.Context, to, code string) {
	n.sent = append(n.sent, sentMail{kind: "verification", to: to, code: code})
}

func (n *fakeNotifier) SendPasswordResetEmail(_ context.Context, to, code, token string) {
	n.sent = append(n.sent, sentMail{kind: "reset", to: to, code: code, token: token})
}
