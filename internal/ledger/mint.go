package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"editions/internal/models"

	"gorm.io/gorm"
)

// MintSubject is everything a mint strategy needs about one token.
type MintSubject struct {
	Token      models.Token
	Post       models.Post
	Collection *models.Collection
	Recipient  models.User
	App        models.App
}

// LoadMintSubject reads the token with its post, collection, app and owner.
func (l *Ledger) LoadMintSubject(ctx context.Context, tokenID uint) (*MintSubject, error) {
	db := l.db.WithContext(ctx)
	var s MintSubject
	if err := db.First(&s.Token, tokenID).Error; err != nil {
		return nil, notFound(err, "Token", tokenID)
	}
	if err := db.First(&s.Post, s.Token.PostID).Error; err != nil {
		return nil, notFound(err, "Post", s.Token.PostID)
	}
	if err := db.First(&s.Recipient, s.Token.UserID).Error; err != nil {
		return nil, notFound(err, "User", s.Token.UserID)
	}
	if err := db.First(&s.App, s.Token.AppID).Error; err != nil {
		return nil, notFound(err, "App", s.Token.AppID)
	}
	if s.Post.CollectionID != nil {
		var c models.Collection
		if err := db.First(&c, *s.Post.CollectionID).Error; err != nil {
			return nil, notFound(err, "Collection", *s.Post.CollectionID)
		}
		s.Collection = &c
	}
	return &s, nil
}

func notFound(err error, resource string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	return fmt.Errorf("load %s %d: %w", resource, id, err)
}

// ClaimMint takes the exclusive right to submit a mint for tokenID. It succeeds
// only while the token has no mint transaction, has not been confirmed on-chain
// and has no live claim. A claim older than lease is treated as abandoned.
func (l *Ledger) ClaimMint(ctx context.Context, tokenID uint, claimID string, lease time.Duration) error {
	now := l.now()
	res := l.db.WithContext(ctx).Model(&models.Token{}).
		Where("id = ?", tokenID).
		Where("(mint_tx_id IS NULL OR mint_tx_id = '')").
		Where("mint_status <> ?", string(models.MintConfirmed)).
		Where("(mint_claim_id IS NULL OR mint_claimed_at IS NULL OR mint_claimed_at < ?)", now.Add(-lease)).
		UpdateColumns(map[string]interface{}{
			"mint_claim_id":   claimID,
			"mint_claimed_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("claim mint: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var token models.Token
	if err := l.db.WithContext(ctx).Select("id", "mint_tx_id", "mint_status").First(&token, tokenID).Error; err != nil {
		return notFound(err, "Token", tokenID)
	}
	if token.Minted() {
		return models.ErrAlreadyMinted
	}
	return models.ErrMintInProgress
}

// RecordMintSubmission stores the relay transaction id under the caller's claim.
func (l *Ledger) RecordMintSubmission(ctx context.Context, tokenID uint, claimID, txID string, contractAddress *string) error {
	updates := map[string]interface{}{
		"mint_tx_id":      txID,
		"mint_claim_id":   nil,
		"mint_claimed_at": nil,
	}
	if contractAddress != nil && *contractAddress != "" {
		updates["contract_address"] = *contractAddress
	}
	res := l.db.WithContext(ctx).Model(&models.Token{}).
		Where("id = ? AND mint_claim_id = ?", tokenID, claimID).
		Where("(mint_tx_id IS NULL OR mint_tx_id = '')").
		UpdateColumns(updates)
	if res.Error != nil {
		return fmt.Errorf("record mint tx: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrMintInProgress.WithCause(fmt.Errorf("claim %s on token %d lost before recording %s", claimID, tokenID, txID))
	}
	return nil
}

// ReleaseMintClaim drops claimID so another attempt can mint the token.
func (l *Ledger) ReleaseMintClaim(ctx context.Context, tokenID uint, claimID string) error {
	return l.db.WithContext(ctx).Model(&models.Token{}).
		Where("id = ? AND mint_claim_id = ?", tokenID, claimID).
		UpdateColumns(map[string]interface{}{
			"mint_claim_id":   nil,
			"mint_claimed_at": nil,
		}).Error
}

// StuckMintTokens returns ids of tokens created before cutoff that have neither a
// mint transaction nor an on-chain confirmation.
func (l *Ledger) StuckMintTokens(ctx context.Context, cutoff time.Time, limit int) ([]uint, error) {
	var ids []uint
	err := l.db.WithContext(ctx).Model(&models.Token{}).
		Where("(mint_tx_id IS NULL OR mint_tx_id = '') AND created_at < ?", cutoff).
		Where("mint_status <> ?", string(models.MintConfirmed)).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
