package ledger

import (
	"context"
	"errors"
	"fmt"

	"editions/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FreeClaim describes a single free token reservation.
type FreeClaim struct {
	PostID    uint
	UserID    uint
	CreatorID uint
	AppID     uint
	IP        string
}

// PurchaseRequest describes a capacity reservation for a paid checkout.
// SupplyCap overrides the post's cap when set.
type PurchaseRequest struct {
	PostID     uint
	BuyerID    uint
	CreatorID  uint
	AppID      uint
	Title      string
	NFTAmount  int
	TokenPrice int64
	TotalPrice int64
	BuyerFee   int64
	SellerFee  int64
	SupplyCap  *int
	IP         string
}

// ReserveFreeToken increments the post's supply and inserts the claimant's token
// in one transaction. The increment only applies while the post has headroom and
// the user holds no token for it.
func (l *Ledger) ReserveFreeToken(ctx context.Context, in FreeClaim) (*models.Token, error) {
	var token *models.Token
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Post{}).
			Where("id = ? AND supply_count < COALESCE(supply_cap, ?)", in.PostID, models.UnboundedSupply).
			Where("NOT EXISTS (SELECT 1 FROM tokens WHERE tokens.user_id = ? AND tokens.post_id = ?)", in.UserID, in.PostID).
			UpdateColumn("supply_count", gorm.Expr("supply_count + ?", 1))
		if res.Error != nil {
			return fmt.Errorf("increment supply: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return classifyFreeClaimMiss(tx, in)
		}

		token = &models.Token{
			AppID:      in.AppID,
			CreatorID:  in.CreatorID,
			UserID:     in.UserID,
			PostID:     in.PostID,
			IP:         in.IP,
			MintStatus: models.MintPending,
		}
		if err := tx.Create(token).Error; err != nil {
			if isUniqueViolation(err) {
				return models.ErrAlreadyClaimed
			}
			return fmt.Errorf("insert token: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

// classifyFreeClaimMiss tells a duplicate claim apart from an exhausted post
// after the conditional increment matched nothing.
func classifyFreeClaimMiss(tx *gorm.DB, in FreeClaim) error {
	var held int64
	if err := tx.Model(&models.Token{}).
		Where("user_id = ? AND post_id = ?", in.UserID, in.PostID).
		Count(&held).Error; err != nil {
		return fmt.Errorf("check existing claim: %w", err)
	}
	if held > 0 {
		return models.ErrAlreadyClaimed
	}

	var post models.Post
	if err := tx.Select("id").First(&post, in.PostID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewNotFoundError("Post", in.PostID)
		}
		return fmt.Errorf("load post: %w", err)
	}
	return models.ErrSupplyExhausted
}

// ReservePurchase locks the post, sums the units held by its non-canceled
// purchases and inserts a CREATED purchase if the new units still fit.
func (l *Ledger) ReservePurchase(ctx context.Context, in PurchaseRequest) (*models.Purchase, error) {
	if in.NFTAmount <= 0 {
		return nil, models.NewValidationError("nft amount must be positive")
	}

	var purchase *models.Purchase
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Post
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&post, in.PostID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("Post", in.PostID)
			}
			return fmt.Errorf("lock post: %w", err)
		}

		supplyCap := post.EffectiveCap()
		if in.SupplyCap != nil {
			supplyCap = *in.SupplyCap
		}

		var reserved int64
		if err := tx.Model(&models.Purchase{}).
			Where("post_id = ? AND status <> ?", in.PostID, string(models.PurchaseCanceled)).
			Select("COALESCE(SUM(nft_amount), 0)").
			Scan(&reserved).Error; err != nil {
			return fmt.Errorf("sum reserved units: %w", err)
		}
		if reserved+int64(in.NFTAmount) > int64(supplyCap) {
			return models.ErrCapacityExceeded.WithCause(
				fmt.Errorf("%d reserved, %d requested, cap %d", reserved, in.NFTAmount, supplyCap))
		}

		purchase = &models.Purchase{
			AppID:      in.AppID,
			CreatorID:  in.CreatorID,
			BuyerID:    in.BuyerID,
			PostID:     in.PostID,
			Title:      in.Title,
			NFTAmount:  in.NFTAmount,
			TokenPrice: in.TokenPrice,
			TotalPrice: in.TotalPrice,
			BuyerFee:   in.BuyerFee,
			SellerFee:  in.SellerFee,
			Status:     models.PurchaseCreated,
			IP:         in.IP,
		}
		if err := tx.Create(purchase).Error; err != nil {
			return fmt.Errorf("insert purchase: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return purchase, nil
}

// Settlement is the outcome of SettlePurchase.
type Settlement struct {
	Purchases []models.Purchase
	Tokens    []models.Token
}

// SettlePurchase converts every non-terminal purchase under intentID into tokens.
// Either all purchases under the intent complete or none do. A second call for
// an already settled intent finds nothing to lock and returns an empty result.
func (l *Ledger) SettlePurchase(ctx context.Context, intentID string) (*Settlement, error) {
	out := &Settlement{}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var purchases []models.Purchase
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("payment_intent_id = ? AND status NOT IN ?", intentID, purchaseStatusStrings(models.TerminalPurchaseStatuses)).
			Order("id").
			Find(&purchases).Error; err != nil {
			return fmt.Errorf("lock purchases: %w", err)
		}
		if len(purchases) == 0 {
			return nil
		}

		tokens := make([]models.Token, 0)
		ids := make([]uint, 0, len(purchases))
		for _, p := range purchases {
			res := tx.Model(&models.Post{}).
				Where("id = ? AND supply_count + ? <= COALESCE(supply_cap, ?)", p.PostID, p.NFTAmount, models.UnboundedSupply).
				UpdateColumn("supply_count", gorm.Expr("supply_count + ?", p.NFTAmount))
			if res.Error != nil {
				return fmt.Errorf("increment supply for purchase %d: %w", p.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				return models.ErrSupplyExhausted.WithCause(
					fmt.Errorf("purchase %d needs %d units on post %d", p.ID, p.NFTAmount, p.PostID))
			}

			purchaseID := p.ID
			for i := 0; i < p.NFTAmount; i++ {
				tokens = append(tokens, models.Token{
					AppID:      p.AppID,
					CreatorID:  p.CreatorID,
					UserID:     p.BuyerID,
					PostID:     p.PostID,
					PurchaseID: &purchaseID,
					IP:         p.IP,
					MintStatus: models.MintPending,
				})
			}
			ids = append(ids, p.ID)
		}

		if len(tokens) > 0 {
			if err := tx.CreateInBatches(&tokens, tokenInsertBatch).Error; err != nil {
				return fmt.Errorf("insert tokens: %w", err)
			}
		}

		// CREATED and FAILED purchases pass through PENDING on their way to COMPLETED.
		if err := transitionIDs(tx, ids, models.PurchasePending, false); err != nil {
			return err
		}
		if err := transitionIDs(tx, ids, models.PurchaseCompleted, true); err != nil {
			return err
		}

		for i := range purchases {
			purchases[i].Status = models.PurchaseCompleted
		}
		out.Purchases = purchases
		out.Tokens = tokens
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// transitionIDs moves the given purchases to target. When strict is set every id
// must have been in a legal predecessor state.
func transitionIDs(tx *gorm.DB, ids []uint, target models.PurchaseStatus, strict bool) error {
	res := tx.Model(&models.Purchase{}).
		Where("id IN ? AND status IN ?", ids, purchaseStatusStrings(target.Predecessors())).
		Update("status", string(target))
	if res.Error != nil {
		return fmt.Errorf("mark purchases %s: %w", target, res.Error)
	}
	if strict && res.RowsAffected != int64(len(ids)) {
		return fmt.Errorf("mark purchases %s: %d of %d rows in a legal state", target, res.RowsAffected, len(ids))
	}
	return nil
}
