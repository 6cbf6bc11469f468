package models

import "time"

// Purchase is a buyer's paid claim on NFTAmount units of a post.
type Purchase struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	AppID           uint           `gorm:"not null;index" json:"app_id"`
	CreatorID       uint           `gorm:"not null" json:"creator_id"`
	BuyerID         uint           `gorm:"not null;index" json:"buyer_id"`
	PostID          uint           `gorm:"not null;index" json:"post_id"`
	Title           string         `gorm:"size:255" json:"title"`
	NFTAmount       int            `gorm:"not null" json:"nft_amount"`
	TokenPrice      int64          `gorm:"not null" json:"token_price"`
	TotalPrice      int64          `gorm:"not null" json:"total_price"`
	BuyerFee        int64          `gorm:"not null;default:0" json:"buyer_fee"`
	SellerFee       int64          `gorm:"not null;default:0" json:"seller_fee"`
	PaymentIntentID *string        `gorm:"size:64;index" json:"payment_intent_id,omitempty"`
	Status          PurchaseStatus `gorm:"size:16;not null;default:CREATED;index" json:"status"`
	IP              string         `gorm:"size:64" json:"-"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Payout mirrors a payment processor payout to a creator's connected account.
type Payout struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	AppID       uint      `gorm:"not null;index" json:"app_id"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	ExternalID  string    `gorm:"size:64;not null;uniqueIndex" json:"external_id"`
	Amount      int64     `gorm:"not null" json:"amount"`
	Currency    string    `gorm:"size:8" json:"currency"`
	Automatic   bool      `json:"automatic"`
	Status      string    `gorm:"size:16" json:"status"`
	InitiatedAt time.Time `json:"initiated_at"`
	ArrivalDate time.Time `json:"arrival_date"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SalesAggregate summarizes completed sales for one app.
type SalesAggregate struct {
	TotalNFTs       int64 `gorm:"column:total_nfts" json:"total_nfts"`
	TotalProceeds   int64 `gorm:"column:total_proceeds" json:"total_proceeds"`
	TotalRecipients int64 `gorm:"column:total_recipients" json:"total_recipients"`
}
