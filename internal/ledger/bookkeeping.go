package ledger

import (
	"context"
	"errors"
	"fmt"

	"editions/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AppRollup is one app's line in the daily CRM rollup.
type AppRollup struct {
	AppID       uint
	CreatorID   uint
	Subscribers int64
	models.SalesAggregate
}

// GetPost loads a post by id.
func (l *Ledger) GetPost(ctx context.Context, id uint) (*models.Post, error) {
	var p models.Post
	if err := l.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err, "Post", id)
	}
	return &p, nil
}

// GetApp loads an app config by id.
func (l *Ledger) GetApp(ctx context.Context, id uint) (*models.App, error) {
	var a models.App
	if err := l.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, notFound(err, "App", id)
	}
	return &a, nil
}

// GetUser loads a user by id.
func (l *Ledger) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := l.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFound(err, "User", id)
	}
	return &u, nil
}

// UserByStripeAccount finds the creator owning a connected payment account.
func (l *Ledger) UserByStripeAccount(ctx context.Context, accountID string) (*models.User, error) {
	var u models.User
	err := l.db.WithContext(ctx).Where("stripe_account_id = ?", accountID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("User with account", accountID)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// AppByCreator returns the first app owned by creatorID.
func (l *Ledger) AppByCreator(ctx context.Context, creatorID uint) (*models.App, error) {
	var a models.App
	err := l.db.WithContext(ctx).Where("creator_id = ?", creatorID).Order("id").First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("App for creator", creatorID)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SetStripeCustomerID stores the payment processor customer created for a buyer.
func (l *Ledger) SetStripeCustomerID(ctx context.Context, userID uint, customerID string) error {
	return l.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("stripe_customer_id", customerID).Error
}

// CreatePayout inserts a payout row. A duplicate external id is ignored so
// redelivered webhooks stay harmless.
func (l *Ledger) CreatePayout(ctx context.Context, p *models.Payout) error {
	return l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_id"}}, DoNothing: true}).
		Create(p).Error
}

// UpdatePayoutStatus sets the status of the payout with externalID.
func (l *Ledger) UpdatePayoutStatus(ctx context.Context, externalID, status string) error {
	return l.db.WithContext(ctx).Model(&models.Payout{}).
		Where("external_id = ?", externalID).
		Update("status", status).Error
}

// UpdatePayout rewrites the mutable fields of the payout with p.ExternalID.
func (l *Ledger) UpdatePayout(ctx context.Context, p *models.Payout) error {
	return l.db.WithContext(ctx).Model(&models.Payout{}).
		Where("external_id = ?", p.ExternalID).
		Updates(map[string]interface{}{
			"amount":       p.Amount,
			"currency":     p.Currency,
			"automatic":    p.Automatic,
			"status":       p.Status,
			"initiated_at": p.InitiatedAt,
			"arrival_date": p.ArrivalDate,
		}).Error
}

// AppRollups aggregates subscribers and completed sales for every app.
func (l *Ledger) AppRollups(ctx context.Context) ([]AppRollup, error) {
	completed := string(models.PurchaseCompleted)
	var out []AppRollup
	err := l.db.WithContext(ctx).
		Table("app_configs").
		Select(`app_configs.id AS app_id,
			app_configs.creator_id AS creator_id,
			(SELECT COUNT(*) FROM subscriptions s WHERE s.app_id = app_configs.id AND s.active = ?) AS subscribers,
			(SELECT COALESCE(SUM(p.nft_amount), 0) FROM purchases p WHERE p.app_id = app_configs.id AND p.status = ?) AS total_nfts,
			(SELECT COALESCE(SUM(p.total_price - p.seller_fee), 0) FROM purchases p WHERE p.app_id = app_configs.id AND p.status = ?) AS total_proceeds,
			(SELECT COUNT(DISTINCT p.buyer_id) FROM purchases p WHERE p.app_id = app_configs.id AND p.status = ?) AS total_recipients`,
			true, completed, completed, completed).
		Order("app_configs.id").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("app rollups: %w", err)
	}
	return out, nil
}

// SubscriberPage returns active subscribers of appID with subscription ids
// greater than afterID, in id order.
func (l *Ledger) SubscriberPage(ctx context.Context, appID, afterID uint, limit int) ([]models.SubscriberContact, error) {
	var out []models.SubscriberContact
	err := l.db.WithContext(ctx).
		Table("subscriptions").
		Select("subscriptions.id AS subscription_id, subscriptions.subscriber_id AS subscriber_id, users.email AS email, users.daily_digest_subscribe AS daily_digest_subscribe").
		Joins("JOIN users ON users.id = subscriptions.subscriber_id").
		Where("subscriptions.app_id = ? AND subscriptions.active = ? AND subscriptions.id > ?", appID, true, afterID).
		Order("subscriptions.id").
		Limit(limit).
		Scan(&out).Error
	return out, err
}
