package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flicapp/identity/internal/common"
	"github.com/flicapp/identity/internal/logging"
	"github.com/flicapp/identity/internal/server/auth"
	"github.com/flicapp/identity/internal/server/metrics"
	"github.com/flicapp/identity/internal/server/models"
	"github.com/flicapp/identity/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	userA = "0b6f1c52-3f7a-4d55-9d2e-4a3a8f0c1a11"
	userB = "7c1e2d3f-8a9b-4c5d-9e0f-1a2b3c4d5e6f"
)

var secret = []byte("secret")

type fakeVerification struct {
	lastUser, lastEmail, lastCode string
	result                        *services.VerificationResult
	err                           error
}

func (f *fakeVerification) RequestEmailVerification(_ context.Context, userID, email string) (*models.VerificationCode, error) {
	f.lastUser, f.lastEmail = userID, email
	if f.err != nil {
		return nil, f.err
	}
	return &models.VerificationCode{ExpiresAt: time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)}, nil
}

func (f *fakeVerification) ResendEmailVerification(_ context.Context, userID string) (*models.VerificationCode, error) {
	f.lastUser = userID
	if f.err != nil {
		return nil, f.err
	}
	return &models.VerificationCode{ExpiresAt: time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)}, nil
}

func (f *fakeVerification) ValidateEmailCode(_ context.Context, userID, code string) (*services.VerificationResult, error) {
	f.lastUser, f.lastCode = userID, code
	return f.result, f.err
}

type fakeSessions struct {
	client string
	err    error
}

func (f *fakeSessions) StartAnonymous(_ context.Context, client string) (*services.Session, error) {
	f.client = client
	if f.err != nil {
		return nil, f.err
	}
	return &services.Session{UserID: userA, Token: "anon-token", ExpiresAt: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}, nil
}

type fakeReset struct {
	token, code string
	result      *services.ResetResult
	err         error
}

func (f *fakeReset) RequestReset(context.Context, string) error { return f.err }

func (f *fakeReset) ValidateReset(_ context.Context, token, code string) (*services.ResetResult, error) {
	f.token, f.code = token, code
	return f.result, f.err
}

type fakeMerge struct {
	called bool
	err    error
}

func (f *fakeMerge) MergeUsers(_ context.Context, canonicalID, _ string) (string, error) {
	f.called = true
	return canonicalID, f.err
}

type fakeUsers struct {
	lookup  *services.PhoneLookup
	user    *models.User
	updated string
	err     error
}

func (f *fakeUsers) LookupPhone(context.Context, string) (*services.PhoneLookup, error) {
	return f.lookup, f.err
}

func (f *fakeUsers) UpdateProfile(_ context.Context, userID string, _ services.ProfileUpdate) (*models.User, error) {
	f.updated = userID
	return f.user, f.err
}

type fakeProviders struct {
	in  services.ProviderRequestInput
	err error
}

func (f *fakeProviders) SubmitRequest(_ context.Context, in services.ProviderRequestInput) (*models.ProviderRequest, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &models.ProviderRequest{ID: "p1", Status: models.ProviderRequestPending, Document: in.Document}, nil
}

type fakeStats struct {
	months int
	err    error
}

func (f *fakeStats) MonthlyOrders(_ context.Context, months int) ([]services.MonthStats, error) {
	f.months = months
	if f.err != nil {
		return nil, f.err
	}
	return []services.MonthStats{{
		Month:        "2026-03",
		Count:        2,
		Total:        decimal.RequireFromString("150.50"),
		ByStatus:     map[string]services.StatusStats{"completed": {Count: 2, Total: decimal.RequireFromString("150.50")}},
		CountDelta:   decimal.NewFromInt(100),
		RevenueDelta: decimal.NewFromInt(100),
	}}, nil
}

type fixture struct {
	h        *Handlers
	ready    *Readiness
	registry *prometheus.Registry
	router   http.Handler
}

func newFixture() *fixture {
	h := &Handlers{
		Sessions:      &fakeSessions{},
		Verification:  &fakeVerification{},
		PasswordReset: &fakeReset{},
		Merge:         &fakeMerge{},
		Users:         &fakeUsers{},
		Providers:     &fakeProviders{},
		Stats:         &fakeStats{},
	}
	reg := prometheus.NewRegistry()
	ready := &Readiness{}
	router := NewRouter(h, RouterOptions{
		Logger:    logging.Nop(),
		Metrics:   metrics.New(reg),
		Registry:  reg,
		Readiness: ready,
		SecretKey: secret,
	})
	return &fixture{h: h, ready: ready, registry: reg, router: router}
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func bearer(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := auth.GenerateToken(userID, role, secret, time.Minute)
	require.NoError(t, err)
	return "Bearer " + tok
}

func adminToken(t *testing.T, role string) string {
	t.Helper()
	return bearer(t, userA, role)
}

func TestHealth(t *testing.T) {
	f := newFixture()

	rec, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, _ = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	f.ready.SetReady(true)
	rec, _ = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",route="/readyz",status="503"} 1`)
}

func TestRequestID_Propagated(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(t, http.MethodGet, "/healthz", "", "X-Request-ID", "req-42")
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRequestID_TagsRequestLog(t *testing.T) {
	var buf bytes.Buffer
	reg := prometheus.NewRegistry()
	router := NewRouter(newFixture().h, RouterOptions{
		Logger:    logging.NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, nil))),
		Metrics:   metrics.New(reg),
		Registry:  reg,
		Readiness: &Readiness{},
		SecretKey: secret,
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	router.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "request", entry["msg"])
	assert.Equal(t, "req-42", entry["request_id"])
	assert.Equal(t, "/healthz", entry["route"])
}

func TestValidateCode(t *testing.T) {
	f := newFixture()
	v := f.h.Verification.(*fakeVerification)
	v.result = &services.VerificationResult{Success: true, UserID: userB, Merged: true, SessionToken: "tok"}

	rec, body := f.do(t, http.MethodPost, "/email-verification/validate", `{"code":"123456"}`,
		"Authorization", bearer(t, userA, auth.RoleUser))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["merged"])
	assert.Equal(t, userB, body["userId"])
	assert.Equal(t, "tok", body["sessionToken"])
	assert.Equal(t, "123456", v.lastCode)
	assert.Equal(t, userA, v.lastUser)
}

func TestIdentityRoutes_RequireSession(t *testing.T) {
	routes := []struct{ method, path, body string }{
		{http.MethodPost, "/email-verification/request", `{"email":"a@x.com"}`},
		{http.MethodPost, "/email-verification/resend", `{}`},
		{http.MethodPost, "/email-verification/validate", `{"code":"123456"}`},
		{http.MethodPatch, "/users/" + userA + "/profile", `{}`},
		{http.MethodPost, "/provider-requests", `{"document":"11.222.333/0001-81","description":"plumbing"}`},
	}
	for _, rt := range routes {
		t.Run(rt.path, func(t *testing.T) {
			f := newFixture()
			rec, body := f.do(t, rt.method, rt.path, rt.body)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized", body["error"])

			rec, _ = f.do(t, rt.method, rt.path, rt.body, "Authorization", "Bearer garbage")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			v := f.h.Verification.(*fakeVerification)
			assert.Empty(t, v.lastUser)
		})
	}
}

// A user id in the body never selects the account; only the session does.
func TestIdentityRoutes_IgnoreBodyUserID(t *testing.T) {
	f := newFixture()
	v := f.h.Verification.(*fakeVerification)
	v.result = &services.VerificationResult{Success: true, UserID: userB}
	attacker := bearer(t, userB, auth.RoleUser)

	rec, _ := f.do(t, http.MethodPost, "/email-verification/request",
		fmt.Sprintf(`{"userId":%q,"email":"evil@x.com"}`, userA), "Authorization", attacker)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userB, v.lastUser)

	v.lastUser = ""
	rec, _ = f.do(t, http.MethodPost, "/email-verification/validate",
		fmt.Sprintf(`{"userId":%q,"code":"123456"}`, userA), "Authorization", attacker)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userB, v.lastUser)

	p := f.h.Providers.(*fakeProviders)
	rec, _ = f.do(t, http.MethodPost, "/provider-requests",
		fmt.Sprintf(`{"userId":%q,"document":"11.222.333/0001-81","description":"plumbing"}`, userA), "Authorization", attacker)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, userB, p.in.UserID)
}

func TestStartAnonymousSession(t *testing.T) {
	f := newFixture()
	sess := f.h.Sessions.(*fakeSessions)

	rec, body := f.do(t, http.MethodPost, "/sessions/anonymous", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, userA, body["userId"])
	assert.Equal(t, "anon-token", body["sessionToken"])
	assert.Equal(t, "2026-03-02T12:00:00Z", body["expiresAt"])
	assert.Equal(t, "192.0.2.1", sess.client)

	sess.err = &common.RateLimitError{RetryAfter: time.Minute}
	rec, _ = f.do(t, http.MethodPost, "/sessions/anonymous", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestValidateCode_RejectedIsNot4xx(t *testing.T) {
	f := newFixture()
	f.h.Verification.(*fakeVerification).result = &services.VerificationResult{Success: false, UserID: userA, Message: "invalid or expired code"}

	rec, body := f.do(t, http.MethodPost, "/email-verification/validate", `{"code":"000000"}`,
		"Authorization", bearer(t, userA, auth.RoleUser))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "invalid or expired code", body["message"])
}

func TestValidateCode_MalformedInput(t *testing.T) {
	f := newFixture()

	session := bearer(t, userA, auth.RoleUser)

	rec, body := f.do(t, http.MethodPost, "/email-verification/validate", `{"code":"12"}`, "Authorization", session)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields := body["fields"].(map[string]any)
	assert.Contains(t, fields, "code")

	rec, body = f.do(t, http.MethodPost, "/email-verification/validate", `{`, "Authorization", session)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "malformed JSON", body["fields"].(map[string]any)["body"])
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"not found", fmt.Errorf("get user: %w", common.ErrorNotFound), http.StatusNotFound, "not found"},
		{"merge failed", fmt.Errorf("%w: boom", common.ErrorMergeFailed), http.StatusInternalServerError, "account unification failed"},
		{"merge target gone", fmt.Errorf("%w: %w", common.ErrorMergeFailed, common.ErrorNotFound), http.StatusNotFound, "not found"},
		{"rate limited", &common.RateLimitError{RetryAfter: 90 * time.Second}, http.StatusTooManyRequests, "too many requests"},
		{"internal", fmt.Errorf("db error: connection reset"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.h.Verification.(*fakeVerification).err = tt.err

			rec, body := f.do(t, http.MethodPost, "/email-verification/resend", "", "Authorization", bearer(t, userA, auth.RoleUser))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.msg, body["error"])
			assert.NotContains(t, rec.Body.String(), "connection reset")
		})
	}
}

func TestRateLimited_RetryAfter(t *testing.T) {
	f := newFixture()
	f.h.PasswordReset.(*fakeReset).err = &common.RateLimitError{RetryAfter: 1500 * time.Millisecond}

	rec, _ := f.do(t, http.MethodPost, "/password-reset/request", `{"email":"a@x.com"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}

func TestRequestVerification(t *testing.T) {
	f := newFixture()
	v := f.h.Verification.(*fakeVerification)

	session := bearer(t, userA, auth.RoleUser)

	rec, body := f.do(t, http.MethodPost, "/email-verification/request", `{"email":"a@x.com"}`, "Authorization", session)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "2026-03-01T12:10:00Z", body["expiresAt"])
	assert.Equal(t, "a@x.com", v.lastEmail)
	assert.Equal(t, userA, v.lastUser)

	rec, _ = f.do(t, http.MethodPost, "/email-verification/request", `{"email":"not-an-email"}`, "Authorization", session)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPasswordReset(t *testing.T) {
	f := newFixture()
	r := f.h.PasswordReset.(*fakeReset)
	r.result = &services.ResetResult{Success: true, UserID: userA}

	rec, body := f.do(t, http.MethodPost, "/password-reset/request", `{"email":"a@x.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	rec, body = f.do(t, http.MethodPost, "/password-reset/validate-token", `{"code":"123456"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userA, body["userId"])
	assert.Equal(t, "123456", r.code)

	rec, _ = f.do(t, http.MethodPost, "/password-reset/validate-token", `{"token":"xyz"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	r.err = common.NewValidationError("token", "token or code is required")
	rec, body = f.do(t, http.MethodPost, "/password-reset/validate-token", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "token or code is required", body["fields"].(map[string]any)["token"])
}

func TestPhoneLookup(t *testing.T) {
	f := newFixture()
	f.h.Users.(*fakeUsers).lookup = &services.PhoneLookup{Exists: true, UserID: userA, E164: "+5548996899346"}

	rec, body := f.do(t, http.MethodPost, "/users/phone-lookup", `{"phone":"(48) 99689-9346"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["exists"])
	assert.Equal(t, "+5548996899346", body["e164"])
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture()
	u := f.h.Users.(*fakeUsers)
	tax := "11144477735"
	u.user = &models.User{ID: userA, TaxID: &tax}
	session := bearer(t, userA, auth.RoleUser)

	rec, body := f.do(t, http.MethodPatch, "/users/"+userA+"/profile", `{"taxId":"111.444.777-35"}`, "Authorization", session)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tax, body["taxId"])

	rec, _ = f.do(t, http.MethodPatch, "/users/not-a-uuid/profile", `{}`, "Authorization", session)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	u.err = fmt.Errorf("tax id cannot be changed: %w", common.ErrorConflict)
	rec, body = f.do(t, http.MethodPatch, "/users/"+userA+"/profile", `{"taxId":"529.982.247-25"}`, "Authorization", session)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "tax id cannot be changed", body["error"])
}

func TestUpdateProfile_OnlyOwnAccount(t *testing.T) {
	f := newFixture()
	u := f.h.Users.(*fakeUsers)
	u.user = &models.User{ID: userA}

	rec, body := f.do(t, http.MethodPatch, "/users/"+userA+"/profile", `{"taxId":"111.444.777-35"}`,
		"Authorization", bearer(t, userB, auth.RoleUser))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", body["error"])
	assert.Empty(t, u.updated)

	rec, _ = f.do(t, http.MethodPatch, "/users/"+userA+"/profile", `{"taxId":"111.444.777-35"}`,
		"Authorization", bearer(t, userB, auth.RoleAdmin))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userA, u.updated)
}

func TestSubmitProviderRequest(t *testing.T) {
	f := newFixture()
	p := f.h.Providers.(*fakeProviders)

	session := bearer(t, userA, auth.RoleUser)

	rec, body := f.do(t, http.MethodPost, "/provider-requests",
		`{"document":"11.222.333/0001-81","phone":"x","description":"plumbing"}`, "Authorization", session)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "x", p.in.Phone)
	assert.Equal(t, userA, p.in.UserID)

	rec, _ = f.do(t, http.MethodPost, "/provider-requests", `{"document":"1"}`, "Authorization", session)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_RequiresAdminRole(t *testing.T) {
	f := newFixture()
	body := fmt.Sprintf(`{"canonicalUserId":%q,"duplicateUserId":%q}`, userB, userA)

	rec, _ := f.do(t, http.MethodPost, "/admin/users/merge", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/admin/users/merge", body, "Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/admin/users/merge", body, "Authorization", adminToken(t, auth.RoleUser))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, f.h.Merge.(*fakeMerge).called)

	rec, out := f.do(t, http.MethodPost, "/admin/users/merge", body, "Authorization", adminToken(t, auth.RoleAdmin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userB, out["userId"])
}

func TestAdmin_MergeSameUser(t *testing.T) {
	f := newFixture()
	body := fmt.Sprintf(`{"canonicalUserId":%q,"duplicateUserId":%q}`, userA, userA)

	rec, _ := f.do(t, http.MethodPost, "/admin/users/merge", body, "Authorization", adminToken(t, auth.RoleAdmin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, f.h.Merge.(*fakeMerge).called)
}

func TestAdmin_OrderStats(t *testing.T) {
	f := newFixture()
	s := f.h.Stats.(*fakeStats)

	rec, body := f.do(t, http.MethodGet, "/admin/stats/orders?months=3", "", "Authorization", adminToken(t, auth.RoleAdmin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, s.months)
	months := body["months"].([]any)
	require.Len(t, months, 1)
	first := months[0].(map[string]any)
	assert.Equal(t, "2026-03", first["month"])
	assert.Equal(t, "150.5", first["total"])
	assert.Equal(t, "100", first["countDeltaPct"])

	rec, _ = f.do(t, http.MethodGet, "/admin/stats/orders", "", "Authorization", adminToken(t, auth.RoleAdmin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6, s.months)

	rec, _ = f.do(t, http.MethodGet, "/admin/stats/orders?months=x", "", "Authorization", adminToken(t, auth.RoleAdmin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecover(t *testing.T) {
	f := newFixture()
	f.h.Users = panicUsers{}

	rec, body := f.do(t, http.MethodPost, "/users/phone-lookup", `{"phone":"48996899346"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", body["error"])
}

type panicUsers struct{ *fakeUsers }

func (panicUsers) LookupPhone(context.Context, string) (*services.PhoneLookup, error) {
	panic("boom")
}
