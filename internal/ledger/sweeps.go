package ledger

import (
	"context"
	"fmt"

	"editions/internal/models"
)

// CollectionsMissingAddress lists collections whose contract address is unknown
// although at least one of their posts has issued tokens.
func (l *Ledger) CollectionsMissingAddress(ctx context.Context, limit int) ([]models.Collection, error) {
	var out []models.Collection
	err := l.db.WithContext(ctx).
		Where("contract_address IS NULL").
		Where("EXISTS (SELECT 1 FROM posts WHERE posts.collection_id = collections.id AND posts.supply_count > 0)").
		Order("id").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SetCollectionAddress stores an observed contract address. An address that is
// already set is never overwritten.
func (l *Ledger) SetCollectionAddress(ctx context.Context, collectionID uint, address string) (bool, error) {
	res := l.db.WithContext(ctx).Model(&models.Collection{}).
		Where("id = ? AND contract_address IS NULL", collectionID).
		Update("contract_address", address)
	if res.Error != nil {
		return false, fmt.Errorf("set collection address: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// AppsMissingLegacyFactory lists apps that deployed a legacy factory whose address is not yet known.
func (l *Ledger) AppsMissingLegacyFactory(ctx context.Context, limit int) ([]models.App, error) {
	var out []models.App
	err := l.db.WithContext(ctx).
		Where("legacy_factory_tx_id IS NOT NULL AND legacy_factory_address IS NULL").
		Order("id").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SetLegacyFactoryAddress stores an observed legacy factory address.
func (l *Ledger) SetLegacyFactoryAddress(ctx context.Context, appID uint, address string) (bool, error) {
	res := l.db.WithContext(ctx).Model(&models.App{}).
		Where("id = ? AND legacy_factory_address IS NULL", appID).
		Update("legacy_factory_address", address)
	if res.Error != nil {
		return false, fmt.Errorf("set legacy factory address: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// UnmintedTokens returns pending tokens with their collection binding, least
// recently checked first.
func (l *Ledger) UnmintedTokens(ctx context.Context, limit int) ([]models.UnmintedToken, error) {
	var out []models.UnmintedToken
	err := l.db.WithContext(ctx).
		Table("tokens").
		Select("tokens.id AS id, collections.contract_uri AS contract_uri, collections.contract_address AS contract_address, collections.version AS version").
		Joins("LEFT JOIN posts ON posts.id = tokens.post_id").
		Joins("LEFT JOIN collections ON collections.id = posts.collection_id").
		Where("tokens.mint_status = ?", string(models.MintPending)).
		Order("tokens.mint_checked_at IS NOT NULL, tokens.mint_checked_at, tokens.id").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

// MarkMintStatus moves pending tokens to status. Tokens that already left
// pending are not touched, so repeating a sweep changes nothing.
func (l *Ledger) MarkMintStatus(ctx context.Context, ids []uint, status models.MintStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if !status.Valid() || status == models.MintPending {
		return 0, models.NewValidationError(fmt.Sprintf("cannot mark tokens %q", status))
	}
	res := l.db.WithContext(ctx).Model(&models.Token{}).
		Where("id IN ? AND mint_status = ?", ids, string(models.MintPending)).
		UpdateColumns(map[string]interface{}{
			"mint_status":     string(status),
			"mint_checked_at": l.now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("mark tokens %s: %w", status, res.Error)
	}
	return res.RowsAffected, nil
}

// TouchMintChecked advances the check cursor on tokens that stay pending.
func (l *Ledger) TouchMintChecked(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return l.db.WithContext(ctx).Model(&models.Token{}).
		Where("id IN ? AND mint_status = ?", ids, string(models.MintPending)).
		UpdateColumn("mint_checked_at", l.now()).Error
}
