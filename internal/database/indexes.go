package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// ledgerIndexes are constraints AutoMigrate cannot express from struct tags.
// The SQL migrations create the same indexes, so both schema modes agree.
var ledgerIndexes = []string{
	// One free claim per (user, post); purchased tokens are exempt.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_tokens_free_claim ON tokens (user_id, post_id) WHERE purchase_id IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_unminted ON tokens (mint_status, mint_checked_at)`,
	`CREATE INDEX IF NOT EXISTS idx_purchases_post_status ON purchases (post_id, status)`,
}

// EnsureLedgerIndexes creates the partial and composite indexes the ledger relies on.
func EnsureLedgerIndexes(ctx context.Context, db *gorm.DB) error {
	for _, stmt := range ledgerIndexes {
		if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("ensure ledger index: %w", err)
		}
	}
	return nil
}
