package service

import (
	"context"
	"fmt"
	"log/slog"

	"editions/internal/cache"
	"editions/internal/ledger"
	"editions/internal/middleware"
	"editions/internal/models"
	"editions/internal/observability"
	"editions/internal/payments"
)

// PurchaseLedger reserves and tracks paid checkouts.
type PurchaseLedger interface {
	ReleaseLedger
	ReservePurchase(ctx context.Context, in ledger.PurchaseRequest) (*models.Purchase, error)
	AttachIntent(ctx context.Context, purchaseID uint, intentID string) error
	FailPurchase(ctx context.Context, purchaseID uint) (bool, error)
	PurchasesByIntent(ctx context.Context, intentID string) ([]models.Purchase, error)
	SetStripeCustomerID(ctx context.Context, userID uint, customerID string) error
}

// PaymentGateway opens and cancels payment intents.
type PaymentGateway interface {
	CreateCustomer(ctx context.Context, email string) (string, error)
	CreateIntent(ctx context.Context, req payments.IntentRequest) (*payments.Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
}

type PurchaseService struct {
	ledger  PurchaseLedger
	gateway PaymentGateway
	cache   *cache.Cache
}

type CreatePurchaseInput struct {
	BuyerID   uint
	PostID    uint
	NFTAmount int
	IP        string
}

// Checkout is what the client needs to confirm payment.
type Checkout struct {
	PurchaseID   uint   `json:"purchase_id"`
	IntentID     string `json:"payment_intent_id"`
	ClientSecret string `json:"client_secret"`
	Total        int64  `json:"total"`
	BuyerFee     int64  `json:"buyer_fee"`
	Charge       int64  `json:"charge"`
}

func NewPurchaseService(l PurchaseLedger, g PaymentGateway, c *cache.Cache) *PurchaseService {
	return &PurchaseService{ledger: l, gateway: g, cache: c}
}

// CreatePurchase reserves capacity for a paid checkout and opens its payment
// intent. The reservation commits first; the payment processor is called
// outside the post lock. If the intent cannot be created the purchase is
// marked FAILED so the stale sweep releases its capacity.
func (s *PurchaseService) CreatePurchase(ctx context.Context, in CreatePurchaseInput) (*Checkout, error) {
	if in.NFTAmount <= 0 {
		return nil, models.NewValidationError("nft_amount must be positive")
	}
	post, app, err := loadRelease(ctx, s.ledger, s.cache, in.PostID)
	if err != nil {
		return nil, err
	}
	if !app.Status.CanSell() {
		return nil, models.NewValidationError("This app cannot accept purchases")
	}
	if post.IsFree() {
		return nil, models.NewValidationError("Release is free to claim")
	}

	total := int64(in.NFTAmount) * *post.TokenPrice
	if total <= 0 {
		return nil, models.NewValidationError("Purchase total must be positive")
	}
	creator, err := s.ledger.GetUser(ctx, post.CreatorID)
	if err != nil {
		return nil, err
	}
	if creator.StripeAccountID == nil || *creator.StripeAccountID == "" {
		return nil, models.NewValidationError("Creator cannot accept payments yet")
	}
	buyer, err := s.ledger.GetUser(ctx, in.BuyerID)
	if err != nil {
		return nil, err
	}

	fees := payments.ComputeFees(total)
	purchase, err := s.ledger.ReservePurchase(ctx, ledger.PurchaseRequest{
		PostID:     post.ID,
		BuyerID:    buyer.ID,
		CreatorID:  post.CreatorID,
		AppID:      post.AppID,
		Title:      post.Title,
		NFTAmount:  in.NFTAmount,
		TokenPrice: *post.TokenPrice,
		TotalPrice: fees.Total,
		BuyerFee:   fees.BuyerFee,
		SellerFee:  fees.SellerFee,
		IP:         in.IP,
	})
	if err != nil {
		observability.LedgerRejections.WithLabelValues(rejectionCode(err)).Inc()
		return nil, err
	}

	intent, err := s.openIntent(ctx, purchase, buyer, *creator.StripeAccountID, fees)
	if err != nil {
		if _, ferr := s.ledger.FailPurchase(ctx, purchase.ID); ferr != nil {
			middleware.Logger.ErrorContext(ctx, "mark purchase failed",
				slog.Uint64("purchase_id", uint64(purchase.ID)), slog.String("error", ferr.Error()))
		}
		return nil, err
	}

	return &Checkout{
		PurchaseID:   purchase.ID,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Total:        fees.Total,
		BuyerFee:     fees.BuyerFee,
		Charge:       fees.Charge(),
	}, nil
}

func (s *PurchaseService) openIntent(ctx context.Context, purchase *models.Purchase, buyer *models.User, destination string, fees payments.Fees) (*payments.Intent, error) {
	customerID := ""
	if buyer.StripeCustomerID != nil {
		customerID = *buyer.StripeCustomerID
	}
	if customerID == "" {
		id, err := s.gateway.CreateCustomer(ctx, buyer.Email)
		if err != nil {
			return nil, err
		}
		if err := s.ledger.SetStripeCustomerID(ctx, buyer.ID, id); err != nil {
			return nil, err
		}
		customerID = id
	}

	intent, err := s.gateway.CreateIntent(ctx, payments.IntentRequest{
		PurchaseID:   purchase.ID,
		CustomerID:   customerID,
		Fees:         fees,
		Destination:  destination,
		Description:  fmt.Sprintf("%d x %s", purchase.NFTAmount, purchase.Title),
		ReceiptEmail: buyer.Email,
	})
	if err != nil {
		return nil, err
	}
	if err := s.ledger.AttachIntent(ctx, purchase.ID, intent.ID); err != nil {
		// Nothing references the intent locally; cancel it so it cannot be paid.
		if cerr := s.gateway.CancelIntent(ctx, intent.ID); cerr != nil {
			middleware.Logger.WarnContext(ctx, "cancel orphaned intent",
				slog.String("intent_id", intent.ID), slog.String("error", cerr.Error()))
		}
		return nil, err
	}
	return intent, nil
}

// CancelCheckout cancels the payment intent behind the caller's checkout.
// Local statuses follow through the canceled webhook and the stale sweep.
func (s *PurchaseService) CancelCheckout(ctx context.Context, buyerID uint, intentID string) error {
	if intentID == "" {
		return models.NewValidationError("payment_intent_id is required")
	}
	purchases, err := s.ledger.PurchasesByIntent(ctx, intentID)
	if err != nil {
		return err
	}
	if len(purchases) == 0 {
		return models.NewNotFoundError("Checkout", intentID)
	}
	for _, p := range purchases {
		if p.BuyerID != buyerID {
			return models.NewNotFoundError("Checkout", intentID)
		}
		if p.Status == models.PurchaseCompleted {
			return models.NewValidationError("Checkout is already paid")
		}
	}
	return s.gateway.CancelIntent(ctx, intentID)
}
