package services

import (
	"context"
	"database/sql"
	"strings"

	"github.com/flicapp/identity/internal/common"
	"github.com/flicapp/identity/internal/document"
	"github.com/flicapp/identity/internal/logging"
	"github.com/flicapp/identity/internal/phone"
	"github.com/flicapp/identity/internal/server/models"
	"github.com/flicapp/identity/internal/server/repositories/repomanager"
)

type ProviderRequestInput struct {
	UserID      string
	Document    string
	Phone       string
	Description string
}

type ProviderService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
}

func NewProviderService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger) *ProviderService {
	return &ProviderService{db: db, repomanager: m, logger: logger}
}

// SubmitRequest stores a pending provider application. A phone that cannot
// be canonicalized is dropped and the request is stored without it.
func (s *ProviderService) SubmitRequest(ctx context.Context, in ProviderRequestInput) (*models.ProviderRequest, error) {
	if !document.Validate(in.Document) {
		return nil, common.NewValidationError("document", "invalid CPF or CNPJ")
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return nil, common.NewValidationError("description", "is required")
	}

	if _, err := s.repomanager.Users(s.db).GetByID(ctx, in.UserID); err != nil {
		return nil, internal("get user", err)
	}

	req := &models.ProviderRequest{
		UserID:      in.UserID,
		Document:    document.Digits(in.Document),
		Description: description,
	}
	if in.Phone != "" {
		e164, err := phone.ToE164(in.Phone)
		if err != nil {
			s.logger.Warn(ctx, "provider request phone dropped", "user_id", in.UserID, "error", err)
		} else {
			msgID := phone.MessagingID(e164)
			req.Phone = &e164
			req.MessagingID = &msgID
		}
	}

	created, err := s.repomanager.ProviderRequests(s.db).Create(ctx, req)
	if err != nil {
		return nil, internal("create provider request", err)
	}
	return created, nil
}
