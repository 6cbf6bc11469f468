package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"editions/internal/crm"
	"editions/internal/jobs"
	"editions/internal/ledger"
	"editions/internal/middleware"
	"editions/internal/models"
	"editions/internal/notifications"
	"editions/internal/observability"
	"editions/internal/queue"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.opentelemetry.io/otel/attribute"
)

// Webhook event types the processor acts on.
const (
	EventIntentSucceeded  = "payment_intent.succeeded"
	EventIntentProcessing = "payment_intent.processing"
	EventIntentCanceled   = "payment_intent.canceled"
	EventIntentFailed     = "payment_intent.payment_failed"
	EventAccountUpdated   = "account.updated"
	EventPayoutCreated    = "payout.created"
	EventPayoutPaid       = "payout.paid"
	EventPayoutCanceled   = "payout.canceled"
	EventPayoutFailed     = "payout.failed"
	EventPayoutUpdated    = "payout.updated"
)

// Connected account statuses reported to the CRM.
const (
	AccountCreated    = "Created"
	AccountEnabled    = "Enabled"
	AccountCompleted  = "Completed"
	AccountPending    = "Pending"
	AccountRestricted = "Restricted"
)

// ErrInvalidSignature is returned when a delivery fails verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Ledger is what webhook handling reads and writes.
type Ledger interface {
	SettlePurchase(ctx context.Context, intentID string) (*ledger.Settlement, error)
	TransitionIntent(ctx context.Context, intentID string, target models.PurchaseStatus) (int64, error)
	GetUser(ctx context.Context, id uint) (*models.User, error)
	UserByStripeAccount(ctx context.Context, accountID string) (*models.User, error)
	AppByCreator(ctx context.Context, creatorID uint) (*models.App, error)
	CreatePayout(ctx context.Context, p *models.Payout) error
	UpdatePayoutStatus(ctx context.Context, externalID, status string) error
	UpdatePayout(ctx context.Context, p *models.Payout) error
}

// Publisher delivers realtime events to users.
type Publisher interface {
	PublishEvent(ctx context.Context, userID uint, eventType string, data any) error
}

// SellerCustomers mirrors a settled charge onto the creator's connected account.
type SellerCustomers interface {
	UpdateSellerCustomer(ctx context.Context, chargeID string) error
}

// PurchaseSettled is published to the buyer once tokens exist for a purchase.
type PurchaseSettled struct {
	PurchaseID uint   `json:"purchase_id"`
	PostID     uint   `json:"post_id"`
	TokenIDs   []uint `json:"token_ids"`
}

// Processor verifies and applies webhook deliveries.
type Processor struct {
	secret    string
	ledger    Ledger
	jobs      jobs.Creator
	publisher Publisher
	sellers   SellerCustomers
	logger    *slog.Logger
}

// NewProcessor builds a Processor. publisher and sellers may be nil.
func NewProcessor(secret string, l Ledger, j jobs.Creator, p Publisher, sellers SellerCustomers) *Processor {
	return &Processor{secret: secret, ledger: l, jobs: j, publisher: p, sellers: sellers, logger: middleware.Logger}
}

// Verify checks the signature header and decodes the event.
func (p *Processor) Verify(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

// Handle applies one verified event. Unsupported types are acknowledged.
func (p *Processor) Handle(ctx context.Context, event stripe.Event) error {
	eventType := string(event.Type)
	span, ctx := observability.NewSpan(ctx, "webhook."+eventType)
	defer span.End()
	span.AddAttributes(attribute.String("webhook.event_id", event.ID))

	err := p.dispatch(ctx, event)
	result := "ok"
	if err != nil {
		result = "error"
		span.SetError(err)
	}
	observability.WebhookEvents.WithLabelValues(eventType, result).Inc()
	return err
}

func (p *Processor) dispatch(ctx context.Context, event stripe.Event) error {
	if event.Data == nil {
		return fmt.Errorf("event %s has no data", event.ID)
	}
	raw := event.Data.Raw

	switch string(event.Type) {
	case EventIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return fmt.Errorf("decode payment intent: %w", err)
		}
		return p.settle(ctx, &pi)

	case EventIntentProcessing, EventIntentCanceled, EventIntentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return fmt.Errorf("decode payment intent: %w", err)
		}
		target := intentTarget(string(event.Type))
		n, err := p.ledger.TransitionIntent(ctx, pi.ID, target)
		if err != nil {
			return err
		}
		p.logger.InfoContext(ctx, "purchase status from webhook",
			slog.String("intent_id", pi.ID), slog.String("status", string(target)), slog.Int64("rows", n))
		return nil

	case EventAccountUpdated:
		var acct stripe.Account
		if err := json.Unmarshal(raw, &acct); err != nil {
			return fmt.Errorf("decode account: %w", err)
		}
		return p.accountUpdated(ctx, &acct)

	case EventPayoutCreated:
		var po stripe.Payout
		if err := json.Unmarshal(raw, &po); err != nil {
			return fmt.Errorf("decode payout: %w", err)
		}
		return p.payoutCreated(ctx, event.Account, &po)

	case EventPayoutPaid, EventPayoutCanceled, EventPayoutFailed:
		var po stripe.Payout
		if err := json.Unmarshal(raw, &po); err != nil {
			return fmt.Errorf("decode payout: %w", err)
		}
		return p.ledger.UpdatePayoutStatus(ctx, po.ID, string(po.Status))

	case EventPayoutUpdated:
		var po stripe.Payout
		if err := json.Unmarshal(raw, &po); err != nil {
			return fmt.Errorf("decode payout: %w", err)
		}
		return p.ledger.UpdatePayout(ctx, payoutRow(&po))
	}

	p.logger.InfoContext(ctx, "webhook event not supported", slog.String("event_type", string(event.Type)))
	return nil
}

func intentTarget(eventType string) models.PurchaseStatus {
	switch eventType {
	case EventIntentProcessing:
		return models.PurchasePending
	case EventIntentCanceled:
		return models.PurchaseCanceled
	}
	return models.PurchaseFailed
}

// settle converts the intent's purchases into tokens and fans out the
// follow-up work. A redelivered event finds nothing to settle.
func (p *Processor) settle(ctx context.Context, pi *stripe.PaymentIntent) error {
	intentID := pi.ID
	settled, err := p.ledger.SettlePurchase(ctx, intentID)
	if errors.Is(err, models.ErrSupplyExhausted) {
		return p.rejectSettlement(ctx, intentID, err)
	}
	if err != nil {
		return fmt.Errorf("settle intent %s: %w", intentID, err)
	}
	if len(settled.Tokens) == 0 {
		return nil
	}
	p.updateSellerCustomer(ctx, pi)

	byPurchase := make(map[uint][]uint, len(settled.Purchases))
	for _, t := range settled.Tokens {
		if _, err := p.jobs.Create(ctx, jobs.TypeMintToken, queue.PriorityNormal, jobs.MintToken{TokenID: t.ID}); err != nil {
			// The stuck-mint sweep picks the token up later.
			p.logger.ErrorContext(ctx, "enqueue mint", slog.Uint64("token_id", uint64(t.ID)), slog.String("error", err.Error()))
		}
		if t.PurchaseID != nil {
			byPurchase[*t.PurchaseID] = append(byPurchase[*t.PurchaseID], t.ID)
		}
	}

	for _, purchase := range settled.Purchases {
		p.receipt(ctx, purchase)
		if p.publisher == nil {
			continue
		}
		event := PurchaseSettled{PurchaseID: purchase.ID, PostID: purchase.PostID, TokenIDs: byPurchase[purchase.ID]}
		if err := p.publisher.PublishEvent(ctx, purchase.BuyerID, notifications.EventPurchaseSettled, event); err != nil {
			p.logger.WarnContext(ctx, "publish purchase event", slog.String("error", err.Error()))
		}
	}
	return nil
}

// rejectSettlement fails a paid intent the ledger cannot fill. Redelivery would
// hit the same cap, so the event is acknowledged and the refund is left to an
// operator. Only the first delivery raises the alert.
func (p *Processor) rejectSettlement(ctx context.Context, intentID string, cause error) error {
	n, err := p.ledger.TransitionIntent(ctx, intentID, models.PurchaseFailed)
	if err != nil {
		return fmt.Errorf("fail unsettleable intent %s: %w", intentID, err)
	}
	if n == 0 {
		p.logger.WarnContext(ctx, "unsettleable intent already failed", slog.String("intent_id", intentID))
		return nil
	}
	observability.SettlementRejections.WithLabelValues(models.CodeSupplyExhausted).Inc()
	p.logger.ErrorContext(ctx, "paid intent rejected at settlement, refund required",
		slog.Bool("alert", true),
		slog.String("intent_id", intentID),
		slog.Int64("purchases_failed", n),
		slog.String("error", cause.Error()),
	)
	return nil
}

func (p *Processor) updateSellerCustomer(ctx context.Context, pi *stripe.PaymentIntent) {
	if p.sellers == nil {
		return
	}
	if pi.LatestCharge == nil || pi.LatestCharge.ID == "" {
		p.logger.WarnContext(ctx, "settled intent has no charge", slog.String("intent_id", pi.ID))
		return
	}
	if err := p.sellers.UpdateSellerCustomer(ctx, pi.LatestCharge.ID); err != nil {
		p.logger.ErrorContext(ctx, "update seller customer",
			slog.String("intent_id", pi.ID),
			slog.String("charge_id", pi.LatestCharge.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Processor) receipt(ctx context.Context, purchase models.Purchase) {
	buyer, err := p.ledger.GetUser(ctx, purchase.BuyerID)
	if err != nil {
		p.logger.WarnContext(ctx, "receipt recipient", slog.Uint64("buyer_id", uint64(purchase.BuyerID)), slog.String("error", err.Error()))
		return
	}
	total := purchase.TotalPrice + purchase.BuyerFee
	email := jobs.SendEmail{
		To:      buyer.Email,
		Subject: fmt.Sprintf("Your purchase of %s", purchase.Title),
		Text: fmt.Sprintf("Thanks for your purchase: %d x %s for $%d.%02d. Your tokens are being minted.",
			purchase.NFTAmount, purchase.Title, total/100, total%100),
	}
	if _, err := p.jobs.Create(ctx, jobs.TypeSendEmail, queue.PriorityLow, email); err != nil {
		p.logger.WarnContext(ctx, "enqueue receipt", slog.String("error", err.Error()))
	}
}

// AccountStatus derives the CRM status of a connected account. Later rules win.
func AccountStatus(a *stripe.Account) string {
	status := AccountCreated
	if a.DetailsSubmitted && a.ChargesEnabled && a.PayoutsEnabled {
		status = AccountEnabled
	}

	var currentlyDue, eventuallyDue, pending int
	var disabled bool
	if r := a.Requirements; r != nil {
		currentlyDue += len(r.CurrentlyDue)
		eventuallyDue += len(r.EventuallyDue)
		pending += len(r.PendingVerification)
		disabled = disabled || r.DisabledReason != ""
	}
	if r := a.FutureRequirements; r != nil {
		currentlyDue += len(r.CurrentlyDue)
		eventuallyDue += len(r.EventuallyDue)
		pending += len(r.PendingVerification)
		disabled = disabled || r.DisabledReason != ""
	}

	if currentlyDue == 0 && eventuallyDue == 0 {
		status = AccountCompleted
	}
	if pending > 0 {
		status = AccountPending
	}
	if disabled {
		status = AccountRestricted
	}
	return status
}

func (p *Processor) accountUpdated(ctx context.Context, acct *stripe.Account) error {
	user, err := p.ledger.UserByStripeAccount(ctx, acct.ID)
	if err != nil {
		if errors.Is(err, &models.AppError{Code: models.CodeNotFound}) {
			p.logger.WarnContext(ctx, "account update for unknown creator", slog.String("account_id", acct.ID))
			return nil
		}
		return err
	}

	updates := map[string]any{
		crm.FieldStripeID:             acct.ID,
		crm.FieldPaymentCountry:       acct.Country,
		crm.FieldPaymentCurrency:      string(acct.DefaultCurrency),
		crm.FieldPaymentEmail:         acct.Email,
		crm.FieldPaymentAccountStatus: AccountStatus(acct),
	}
	if acct.Created > 0 {
		updates[crm.FieldPaymentSignupDate] = time.Unix(acct.Created, 0).UTC().Format(time.RFC3339)
	}
	_, err = p.jobs.Create(ctx, jobs.TypeApplyCRM, queue.PriorityLow, jobs.ApplyCRM{UserID: user.ID, Updates: updates})
	return err
}

func (p *Processor) payoutCreated(ctx context.Context, accountID string, po *stripe.Payout) error {
	if accountID == "" {
		return nil
	}
	user, err := p.ledger.UserByStripeAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, &models.AppError{Code: models.CodeNotFound}) {
			p.logger.WarnContext(ctx, "payout for unknown creator", slog.String("account_id", accountID))
			return nil
		}
		return err
	}
	row := payoutRow(po)
	row.UserID = user.ID
	if app, err := p.ledger.AppByCreator(ctx, user.ID); err == nil {
		row.AppID = app.ID
	}
	return p.ledger.CreatePayout(ctx, row)
}

func payoutRow(po *stripe.Payout) *models.Payout {
	return &models.Payout{
		ExternalID:  po.ID,
		Amount:      po.Amount,
		Currency:    string(po.Currency),
		Automatic:   po.Automatic,
		Status:      string(po.Status),
		InitiatedAt: time.Unix(po.Created, 0).UTC(),
		ArrivalDate: time.Unix(po.ArrivalDate, 0).UTC(),
	}
}
