// Package models contains data structures for the issuance ledger.
package models

import (
	"time"
)

// UnboundedSupply stands in for a missing supply cap in conditional updates.
const UnboundedSupply = 1_000_000_000

// Post is a limited-edition release that subscribers claim or purchase.
type Post struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	AppID        uint   `gorm:"not null;index" json:"app_id"`
	CreatorID    uint   `gorm:"not null;index" json:"creator_id"`
	CollectionID *uint  `gorm:"index" json:"collection_id,omitempty"`
	Title        string `gorm:"size:255;not null" json:"title"`
	Active       bool   `gorm:"not null;default:true" json:"active"`
	SupplyCap    *int   `json:"supply_cap,omitempty"`
	SupplyCount  int    `gorm:"not null;default:0;check:chk_posts_supply_bound,supply_cap IS NULL OR supply_count <= supply_cap" json:"supply_count"`
	// TokenPrice is in cents; nil means the post is a free claim.
	TokenPrice     *int64    `json:"token_price,omitempty"`
	TokenURI       string    `gorm:"size:512" json:"token_uri"`
	TokenSignature string    `gorm:"size:256" json:"-"`
	TokenRoyalty   int       `gorm:"not null;default:0" json:"token_royalty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// EffectiveCap returns the supply cap used by conditional updates.
func (p *Post) EffectiveCap() int {
	if p.SupplyCap == nil {
		return UnboundedSupply
	}
	return *p.SupplyCap
}

// IsFree reports whether the post is claimed rather than purchased.
func (p *Post) IsFree() bool {
	return p.TokenPrice == nil || *p.TokenPrice == 0
}

// Collection binds a post's tokens to an on-chain contract.
type Collection struct {
	ID              uint              `gorm:"primaryKey" json:"id"`
	ContractURI     string            `gorm:"size:512;not null;uniqueIndex" json:"contract_uri"`
	ContractAddress *string           `gorm:"size:42" json:"contract_address,omitempty"`
	Version         CollectionVersion `gorm:"not null" json:"version"`
	CreatorAddress  string            `gorm:"size:42" json:"creator_address"`
	RoyaltyAddress  string            `gorm:"size:42" json:"royalty_address"`
	RoyaltyRate     int               `gorm:"not null;default:0" json:"royalty_rate"`
	TokenName       string            `gorm:"size:128" json:"token_name"`
	TokenSymbol     string            `gorm:"size:32" json:"token_symbol"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// App is a creator's storefront; legacy mints go through its per-app factory.
type App struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	CreatorID            uint      `gorm:"not null;index" json:"creator_id"`
	Subdomain            string    `gorm:"size:64;not null;uniqueIndex" json:"subdomain"`
	Name                 string    `gorm:"size:255" json:"name"`
	Status               AppStatus `gorm:"size:8;not null;default:DFLT" json:"status"`
	LegacyFactoryTxID    *string   `gorm:"size:80" json:"legacy_factory_tx_id,omitempty"`
	LegacyFactoryAddress *string   `gorm:"size:42" json:"legacy_factory_address,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TableName returns the database table name for App.
func (App) TableName() string {
	return "app_configs"
}

// Subscription links a subscriber to an app's releases.
type Subscription struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AppID        uint      `gorm:"not null;index" json:"app_id"`
	SubscriberID uint      `gorm:"not null;index" json:"subscriber_id"`
	Active       bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}
