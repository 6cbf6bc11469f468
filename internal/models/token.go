package models

import "time"

// Token is one issued unit of a post. Only the mint fields change after creation.
type Token struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	AppID           uint       `gorm:"not null;index" json:"app_id"`
	CreatorID       uint       `gorm:"not null" json:"creator_id"`
	UserID          uint       `gorm:"not null;index" json:"user_id"`
	PostID          uint       `gorm:"not null;index" json:"post_id"`
	PurchaseID      *uint      `gorm:"index" json:"purchase_id,omitempty"`
	IP              string     `gorm:"size:64" json:"-"`
	MintTxID        *string    `gorm:"size:80" json:"mint_tx_id,omitempty"`
	ContractAddress *string    `gorm:"size:42" json:"contract_address,omitempty"`
	MintStatus      MintStatus `gorm:"size:16;not null;default:pending;index" json:"mint_status"`
	MintCheckedAt   *time.Time `gorm:"index" json:"mint_checked_at,omitempty"`
	MintClaimID     *string    `gorm:"size:36" json:"-"`
	MintClaimedAt   *time.Time `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// HasMintTx reports whether a relay transaction was already recorded.
func (t *Token) HasMintTx() bool {
	return t.MintTxID != nil && *t.MintTxID != ""
}

// Minted reports whether the token must never be submitted again: either a
// relay transaction is recorded or the token was seen on-chain.
func (t *Token) Minted() bool {
	return t.HasMintTx() || t.MintStatus == MintConfirmed
}

// UnmintedToken is a token awaiting on-chain confirmation, joined with its collection.
type UnmintedToken struct {
	ID              uint
	ContractURI     *string
	ContractAddress *string
	Version         *CollectionVersion
}
