package httpapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/flicapp/identity/internal/common"
	"github.com/flicapp/identity/internal/logging"
	"github.com/flicapp/identity/internal/server/auth"
	"github.com/flicapp/identity/internal/server/models"
	"github.com/flicapp/identity/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type VerificationService interface {
	RequestEmailVerification(ctx context.Context, userID, email string) (*models.VerificationCode, error)
	ResendEmailVerification(ctx context.Context, userID string) (*models.VerificationCode, error)
	ValidateEmailCode(ctx context.Context, userID, code string) (*services.VerificationResult, error)
}

type PasswordResetService interface {
	RequestReset(ctx context.Context, email string) error
	ValidateReset(ctx context.Context, token, code string) (*services.ResetResult, error)
}

type SessionService interface {
	StartAnonymous(ctx context.Context, client string) (*services.Session, error)
}

type MergeService interface {
	MergeUsers(ctx context.Context, canonicalID, duplicateID string) (string, error)
}

type UserService interface {
	LookupPhone(ctx context.Context, phone string) (*services.PhoneLookup, error)
	UpdateProfile(ctx context.Context, userID string, upd services.ProfileUpdate) (*models.User, error)
}

type ProviderService interface {
	SubmitRequest(ctx context.Context, in services.ProviderRequestInput) (*models.ProviderRequest, error)
}

type StatsService interface {
	MonthlyOrders(ctx context.Context, months int) ([]services.MonthStats, error)
}

// Handlers binds the HTTP surface to the services.
type Handlers struct {
	Sessions      SessionService
	Verification  VerificationService
	PasswordReset PasswordResetService
	Merge         MergeService
	Users         UserService
	Providers     ProviderService
	Stats         StatsService

	logger   logging.Logger
	validate *Validator
}

// sessionUser is the caller's user id from the bearer session. Identity
// routes never take it from the request body.
func (h *Handlers) sessionUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims := sessionClaims(r)
	if claims == nil {
		writeError(w, r, h.logger, common.ErrorUnauthorized)
		return "", false
	}
	return claims.UserID, true
}

// --- sessions ---

type sessionResponse struct {
	UserID       string    `json:"userId"`
	SessionToken string    `json:"sessionToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func (h *Handlers) startAnonymousSession(w http.ResponseWriter, r *http.Request) {
	client, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		client = r.RemoteAddr
	}
	sess, err := h.Sessions.StartAnonymous(r.Context(), client)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{UserID: sess.UserID, SessionToken: sess.Token, ExpiresAt: sess.ExpiresAt})
}

// --- email verification ---

type requestVerificationRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type issuedResponse struct {
	Success   bool      `json:"success"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *Handlers) requestVerification(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.sessionUser(w, r)
	if !ok {
		return
	}
	var req requestVerificationRequest
	if err := h.validate.decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	code, err := h.Verification.RequestEmailVerification(r.Context(), userID, req.Email)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, issuedResponse{Success: true, ExpiresAt: code.ExpiresAt})
}

func (h *Handlers) resendVerification(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.sessionUser(w, r)
	if !ok {
		return
	}
	code, err := h.Verification.ResendEmailVerification(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, issuedResponse{Success: true, ExpiresAt: code.ExpiresAt})
}

type validateCodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

type validateCodeResponse struct {
	Success      bool   `json:"success"`
	UserID       string `json:"userId,omitempty"`
	Merged       bool   `json:"merged"`
	SessionToken string `json:"sessionToken,omitempty"`
	Message      string `json:"message,omitempty"`
}

func (h *Handlers) validateCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.sessionUser(w, r)
	if !ok {
		return
	}
	var req validateCodeRequest
	if err := h.validate.decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res, err := h.Verification.ValidateEmailCode(r.Context(), userID, req.Code)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, validateCodeResponse{
		Success:      res.Success,
		UserID:       res.UserID,
		Merged:       res.Merged,
		SessionToken: res.SessionToken,
		Message:      res.Message,
	})
}

// --- password reset ---

type resetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetValidateRequest struct {
	Token string `json:"token" validate:"omitempty,hexadecimal,len=64"`
	Code  string `json:"code"  validate:"omitempty,len=6,numeric"`
}

type resetValidateResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *Handlers) requestReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := h.validate.decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.PasswordReset.RequestReset(r.Context(), req.Email); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handlers) validateReset(w http.ResponseWriter, r *http.Request) {
	var req resetValidateRequest
	if err := h.validate.decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res, err := h.PasswordReset.ValidateReset(r.Context(), req.Token, req.Code)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resetValidateResponse{Success: res.Success, UserID: res.UserID, Message: res.Message})
}

// --- users ---

type phoneLookupRequest struct {
	Phone string `json:"phone" validate:"required"`
}

type phoneLookupResponse struct {
	Exists bool   `json:"exists"`
	UserID string `json:"userId,omitempty"`
	E164   string `json:"e164"`
}

func (h *Handlers) phoneLookup(w http.ResponseWriter, r *http.Request) {
	var req phoneLookupRequest
	if err := h.validate.decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res, err := h.Users.LookupPhone(r.Context(), req.Phone)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, phoneLookupResponse{Exists: res.Exists, UserID: res.UserID, E164: res.E164})
}

type profileRequest struct {
	Phone *string `json:"phone" validate:"omitempty,min=1"`
	TaxID *string `json:"taxId" validate:"omitempty,min=1"`
}

type userResponse struct {
	ID            string  `json:"id"`
	DisplayName   string  `json:"displayName"`
	Email         *string `json:"email"`
	EmailVerified bool    `json:"emailVerified"`
	Phone         *string `json:"phone"`
	MessagingID   *string `json:"messagingId"`
	TaxID         *string `json:"taxId"`
}

type userIDParam struct {
	ID string `json:"id" validate:"required,uuid"`
}

// updateProfile edits the caller's own profile; admins may edit any.
func (h *Handlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	id := userIDParam{ID: chi.URLParam(r, "id")}
	if err := h.validate.Struct(id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	userID, ok := h.sessionUser(w, r)
	if !ok {
		return
	}
	if userID != id.ID && sessionClaims(r).Role != auth.RoleAdmin {
		writeForbidden(w)
		return
	}
	var req profileRequest
	if err := h.validate.decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	u, err := h.Users.UpdateProfile(r.Context(), id.ID, services.ProfileUpdate{Phone: req.Phone, TaxID: req.TaxID})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{
		ID:            u.ID,
		DisplayName:   u.DisplayName,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		Phone:         u.Phone,
		MessagingID:   u.MessagingID,
		TaxID:         u.TaxID,
	})
}

// --- provider requests ---

type providerRequest struct {
	Document    string `json:"document"    validate:"required"`
	Phone       string `json:"phone"`
	Description string `json:"description" validate:"required,max=2000"`
}

type providerResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Document  string    `json:"document"`
	Phone     *string   `json:"phone"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *Handlers) submitProviderRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.sessionUser(w, r)
	if !ok {
		return
	}
	var req providerRequest
	if err := h.validate.decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	pr, err := h.Providers.SubmitRequest(r.Context(), services.ProviderRequestInput{
		UserID:      userID,
		Document:    req.Document,
		Phone:       req.Phone,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, providerResponse{
		ID:        pr.ID,
		Status:    pr.Status,
		Document:  pr.Document,
		Phone:     pr.Phone,
		CreatedAt: pr.CreatedAt,
	})
}

// --- admin ---

type mergeRequest struct {
	CanonicalUserID string `json:"canonicalUserId" validate:"required,uuid"`
	DuplicateUserID string `json:"duplicateUserId" validate:"required,uuid,nefield=CanonicalUserID"`
}

func (h *Handlers) adminMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := h.validate.decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	id, err := h.Merge.MergeUsers(r.Context(), req.CanonicalUserID, req.DuplicateUserID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if claims := sessionClaims(r); claims != nil {
		h.logger.Info(r.Context(), "admin merge", "admin_id", claims.UserID, "canonical_id", id, "duplicate_id", req.DuplicateUserID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "userId": id})
}

type statusStatsResponse struct {
	Count int64           `json:"count"`
	Total decimal.Decimal `json:"total"`
}

type monthStatsResponse struct {
	Month        string                         `json:"month"`
	Count        int64                          `json:"count"`
	Total        decimal.Decimal                `json:"total"`
	ByStatus     map[string]statusStatsResponse `json:"byStatus"`
	CountDelta   decimal.Decimal                `json:"countDeltaPct"`
	RevenueDelta decimal.Decimal                `json:"revenueDeltaPct"`
}

func (h *Handlers) orderStats(w http.ResponseWriter, r *http.Request) {
	months := 6
	if v := r.URL.Query().Get("months"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, h.logger, common.NewValidationError("months", "must be an integer"))
			return
		}
		months = n
	}

	stats, err := h.Stats.MonthlyOrders(r.Context(), months)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	out := make([]monthStatsResponse, 0, len(stats))
	for _, m := range stats {
		by := make(map[string]statusStatsResponse, len(m.ByStatus))
		for status, st := range m.ByStatus {
			by[status] = statusStatsResponse{Count: st.Count, Total: st.Total}
		}
		out = append(out, monthStatsResponse{
			Month:        m.Month,
			Count:        m.Count,
			Total:        m.Total,
			ByStatus:     by,
			CountDelta:   m.CountDelta,
			RevenueDelta: m.RevenueDelta,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"months": out})
}
