package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flicapp/identity/internal/common"
	"github.com/flicapp/identity/internal/dbx"
	"github.com/flicapp/identity/internal/document"
	"github.com/flicapp/identity/internal/phone"
	"github.com/flicapp/identity/internal/server/models"
	"github.com/flicapp/identity/internal/server/repositories/repomanager"
)

type PhoneLookup struct {
	Exists bool
	UserID string
	E164   string
}

// ProfileUpdate carries the optional fields of a profile change. Nil fields
// are left alone.
type ProfileUpdate struct {
	Phone *string
	TaxID *string
}

type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager) *UserService {
	return &UserService{db: db, repomanager: m}
}

// LookupPhone reports whether any account holds the number, treating the
// 10- and 11-digit forms of a mobile line as the same phone.
func (s *UserService) LookupPhone(ctx context.Context, input string) (*PhoneLookup, error) {
	variants, err := phone.Variants(input)
	if err != nil {
		return nil, common.NewValidationError("phone", err.Error())
	}

	res := &PhoneLookup{E164: variants[0]}
	user, err := s.repomanager.Users(s.db).FindByPhones(ctx, variants)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return res, nil
	case err != nil:
		return nil, internal("find by phone", err)
	}

	res.Exists = true
	res.UserID = user.ID
	return res, nil
}

// UpdateProfile sets the phone and tax id. The tax id must be a valid CPF and
// cannot change once stored.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*models.User, error) {
	var e164, taxID string
	if upd.Phone != nil {
		var err error
		if e164, err = phone.ToE164(*upd.Phone); err != nil {
			return nil, common.NewValidationError("phone", err.Error())
		}
	}
	if upd.TaxID != nil {
		if !document.ValidateCPF(*upd.TaxID) {
			return nil, common.NewValidationError("taxId", "invalid CPF")
		}
		taxID = document.Digits(*upd.TaxID)
	}

	users := s.repomanager.Users(s.db)
	user, err := users.GetByID(ctx, userID)
	if err != nil {
		return nil, internal("get user", err)
	}
	if taxID != "" && user.TaxID != nil && *user.TaxID != taxID {
		return nil, fmt.Errorf("tax id cannot be changed: %w", common.ErrorConflict)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		users := s.repomanager.Users(tx)
		if e164 != "" {
			if err := users.UpdatePhone(ctx, userID, e164, phone.MessagingID(e164)); err != nil {
				return err
			}
		}
		if taxID != "" {
			if err := users.SetTaxID(ctx, userID, taxID); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, common.ErrorConflict) {
		return nil, fmt.Errorf("tax id cannot be changed: %w", err)
	}
	if err != nil {
		return nil, internal("update profile", err)
	}

	return users.GetByID(ctx, userID)
}
