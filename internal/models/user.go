package models

import "time"

// User is a subscriber, buyer or creator.
type User struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	Username             string    `gorm:"size:64;not null" json:"username"`
	Email                string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	WalletAddress        *string   `gorm:"size:42" json:"wallet_address,omitempty"`
	StripeCustomerID     *string   `gorm:"size:64" json:"-"`
	StripeAccountID      *string   `gorm:"size:64;index" json:"-"`
	DailyDigestSubscribe bool      `gorm:"not null;default:false" json:"daily_digest_subscribe"`
	IsAdmin              bool      `gorm:"not null;default:false" json:"is_admin"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// SubscriberContact is an active subscription joined with the subscriber's contact data.
type SubscriberContact struct {
	SubscriptionID       uint
	SubscriberID         uint
	Email                string
	DailyDigestSubscribe bool
}
