package crm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"editions/internal/middleware"
	"editions/internal/models"
)

// Accounts is the Salesforce account API the syncer drives.
type Accounts interface {
	GetAccount(ctx context.Context, userID uint) (map[string]any, error)
	UpdateAccount(ctx context.Context, userID uint, updates map[string]any) error
	CreateAccount(ctx context.Context, record map[string]any) error
	ResetToken()
}

// Directory supplies the base fields of a new account.
type Directory interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)
	AppByCreator(ctx context.Context, creatorID uint) (*models.App, error)
}

// Update is one user's pending field changes.
type Update struct {
	UserID uint
	Fields map[string]any
}

// Syncer upserts account records.
type Syncer struct {
	accounts  Accounts
	directory Directory
	logger    *slog.Logger
}

// NewSyncer builds a Syncer.
func NewSyncer(accounts Accounts, directory Directory) *Syncer {
	return &Syncer{accounts: accounts, directory: directory, logger: middleware.Logger}
}

// Apply patches the user's account, creating it from ledger data when missing.
func (s *Syncer) Apply(ctx context.Context, userID uint, updates map[string]any) error {
	existing, err := s.accounts.GetAccount(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		// A stale session is the usual cause; authenticate again once.
		s.accounts.ResetToken()
		existing, err = s.accounts.GetAccount(ctx, userID)
	}
	switch {
	case err == nil && existing != nil:
		return s.accounts.UpdateAccount(ctx, userID, updates)
	case err != nil && !errors.Is(err, ErrNotFound):
		return fmt.Errorf("load crm account %d: %w", userID, err)
	}

	record, err := s.baseRecord(ctx, userID)
	if err != nil {
		return err
	}
	for k, v := range updates {
		record[k] = v
	}
	return s.accounts.CreateAccount(ctx, record)
}

// ApplyMany applies each update independently. Failures are logged and the
// first one is returned after every update was attempted.
func (s *Syncer) ApplyMany(ctx context.Context, updates []Update) error {
	var first error
	for _, u := range updates {
		if err := s.Apply(ctx, u.UserID, u.Fields); err != nil {
			s.logger.WarnContext(ctx, "crm update failed", slog.Uint64("user_id", uint64(u.UserID)), slog.String("error", err.Error()))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (s *Syncer) baseRecord(ctx context.Context, userID uint) (map[string]any, error) {
	user, err := s.directory.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %d for crm: %w", userID, err)
	}
	record := map[string]any{
		FieldUserID:            strconv.FormatUint(uint64(user.ID), 10),
		FieldEmail:             user.Email,
		FieldLastName:          user.Username,
		FieldAccountType:       AccountTypeSubscriber,
		FieldCreateDateForUser: user.CreatedAt.UTC().Format(time.DateOnly),
	}
	if user.WalletAddress != nil {
		record[FieldBlockchainAddress] = *user.WalletAddress
	}
	if app, err := s.directory.AppByCreator(ctx, userID); err == nil && app != nil {
		record[FieldAccountType] = AccountTypeCreator
		record[FieldSubdomain] = app.Subdomain
	}
	return record, nil
}
