package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"editions/internal/models"

	"gorm.io/gorm"
)

// TransitionIntent moves every purchase under intentID whose current status is a
// legal predecessor of target. Purchases already in a terminal state are left
// alone, so repeated calls are no-ops. It returns the number of rows moved.
func (l *Ledger) TransitionIntent(ctx context.Context, intentID string, target models.PurchaseStatus) (int64, error) {
	if !target.Valid() {
		return 0, models.NewValidationError(fmt.Sprintf("unknown purchase status %q", target))
	}
	preds := target.Predecessors()
	if len(preds) == 0 {
		return 0, nil
	}
	res := l.db.WithContext(ctx).Model(&models.Purchase{}).
		Where("payment_intent_id = ? AND status IN ?", intentID, purchaseStatusStrings(preds)).
		Update("status", string(target))
	if res.Error != nil {
		return 0, fmt.Errorf("mark intent %s %s: %w", intentID, target, res.Error)
	}
	return res.RowsAffected, nil
}

func (l *Ledger) transitionPurchase(ctx context.Context, purchaseID uint, target models.PurchaseStatus) (bool, error) {
	res := l.db.WithContext(ctx).Model(&models.Purchase{}).
		Where("id = ? AND status IN ?", purchaseID, purchaseStatusStrings(target.Predecessors())).
		Update("status", string(target))
	if res.Error != nil {
		return false, fmt.Errorf("mark purchase %d %s: %w", purchaseID, target, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CancelPurchase marks a non-terminal purchase CANCELED. It reports whether the
// row moved; canceling an already terminal purchase is a no-op.
func (l *Ledger) CancelPurchase(ctx context.Context, purchaseID uint) (bool, error) {
	return l.transitionPurchase(ctx, purchaseID, models.PurchaseCanceled)
}

// FailPurchase marks a CREATED or PENDING purchase FAILED.
func (l *Ledger) FailPurchase(ctx context.Context, purchaseID uint) (bool, error) {
	return l.transitionPurchase(ctx, purchaseID, models.PurchaseFailed)
}

// AttachIntent records the payment intent created for a purchase.
func (l *Ledger) AttachIntent(ctx context.Context, purchaseID uint, intentID string) error {
	res := l.db.WithContext(ctx).Model(&models.Purchase{}).
		Where("id = ? AND status NOT IN ?", purchaseID, purchaseStatusStrings(models.TerminalPurchaseStatuses)).
		Update("payment_intent_id", intentID)
	if res.Error != nil {
		return fmt.Errorf("attach intent: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Purchase", purchaseID)
	}
	return nil
}

// GetPurchase loads a purchase by id.
func (l *Ledger) GetPurchase(ctx context.Context, id uint) (*models.Purchase, error) {
	var p models.Purchase
	if err := l.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Purchase", id)
		}
		return nil, err
	}
	return &p, nil
}

// PurchasesByIntent returns every purchase sharing intentID.
func (l *Ledger) PurchasesByIntent(ctx context.Context, intentID string) ([]models.Purchase, error) {
	var out []models.Purchase
	err := l.db.WithContext(ctx).
		Where("payment_intent_id = ?", intentID).
		Order("id").
		Find(&out).Error
	return out, err
}

// StalePurchases lists CREATED and FAILED purchases created before cutoff.
func (l *Ledger) StalePurchases(ctx context.Context, cutoff time.Time, limit int) ([]models.Purchase, error) {
	var out []models.Purchase
	err := l.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?",
			purchaseStatusStrings([]models.PurchaseStatus{models.PurchaseCreated, models.PurchaseFailed}), cutoff).
		Order("id").
		Limit(limit).
		Find(&out).Error
	return out, err
}
