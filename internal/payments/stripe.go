// Package payments adapts the Stripe API: checkout payment intents and the
// webhook events that drive purchase settlement.
package payments

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"editions/internal/observability"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/customer"
	"go.opentelemetry.io/otel/attribute"
)

// Fee schedule in percent of the purchase total.
const (
	feePercent     = 5
	minBuyerFee    = 50
	payoutPercent  = 100 - feePercent
	intentCurrency = "usd"
)

// Fees is the split of one checkout, in cents.
type Fees struct {
	Total     int64
	BuyerFee  int64
	SellerFee int64
	// Transfer is what the creator's connected account receives.
	Transfer int64
}

// Charge is what the buyer pays.
func (f Fees) Charge() int64 {
	return f.Total + f.BuyerFee
}

// ComputeFees splits a purchase total. The seller fee is 5% rounded up, the
// buyer fee the same with a 50 cent floor, and the transfer 95% rounded down.
func ComputeFees(total int64) Fees {
	seller := ceilPercent(total, feePercent)
	return Fees{
		Total:     total,
		BuyerFee:  max(seller, minBuyerFee),
		SellerFee: seller,
		Transfer:  total * payoutPercent / 100,
	}
}

func ceilPercent(v, pct int64) int64 {
	return (v*pct + 99) / 100
}

// IntentRequest describes a destination charge for one checkout.
type IntentRequest struct {
	PurchaseID   uint
	CustomerID   string
	Fees         Fees
	Destination  string
	Description  string
	ReceiptEmail string
}

// Intent is the part of a created payment intent the client needs.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
}

type intentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type customerAPI interface {
	New(params *stripe.CustomerParams) (*stripe.Customer, error)
	List(params *stripe.CustomerListParams) *customer.Iter
}

type chargeAPI interface {
	Get(id string, params *stripe.ChargeParams) (*stripe.Charge, error)
	Update(id string, params *stripe.ChargeParams) (*stripe.Charge, error)
}

type transferAPI interface {
	Get(id string, params *stripe.TransferParams) (*stripe.Transfer, error)
}

// Gateway creates and cancels payment intents and keeps the creator's
// connected account in step with settled charges.
type Gateway struct {
	intents   intentAPI
	customers customerAPI
	charges   chargeAPI
	transfers transferAPI
	timeout   time.Duration
}

// NewGateway builds a Gateway on the Stripe API with secretKey.
func NewGateway(secretKey string, timeout time.Duration) *Gateway {
	sc := client.New(secretKey, nil)
	g := newGateway(sc.PaymentIntents, sc.Customers, timeout)
	g.charges = sc.Charges
	g.transfers = sc.Transfers
	return g
}

func newGateway(intents intentAPI, customers customerAPI, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Gateway{intents: intents, customers: customers, timeout: timeout}
}

// CreateCustomer registers a buyer and returns the customer id.
func (g *Gateway) CreateCustomer(ctx context.Context, email string) (string, error) {
	span, ctx := observability.TraceRPC(ctx, "stripe", "customers.create")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	c, err := g.customers.New(params)
	if err != nil {
		span.SetError(err)
		return "", fmt.Errorf("create customer: %w", err)
	}
	return c.ID, nil
}

// CreateIntent opens a card payment for the buyer charge that transfers the
// creator's share to their connected account.
func (g *Gateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	span, ctx := observability.TraceRPC(ctx, "stripe", "payment_intents.create")
	defer span.End()
	span.AddAttributes(attribute.Int64("purchase.id", int64(req.PurchaseID)))
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Fees.Charge()),
		Currency:           stripe.String(intentCurrency),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Description:        stripe.String(req.Description),
		TransferData: &stripe.PaymentIntentTransferDataParams{
			Amount:      stripe.Int64(req.Fees.Transfer),
			Destination: stripe.String(req.Destination),
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	params.AddMetadata("purchase_id", strconv.FormatUint(uint64(req.PurchaseID), 10))
	params.Context = ctx

	pi, err := g.intents.New(params)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("create payment intent for purchase %d: %w", req.PurchaseID, err)
	}
	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}, nil
}

// CancelIntent cancels an unpaid intent. The purchase status follows through
// the canceled webhook.
func (g *Gateway) CancelIntent(ctx context.Context, intentID string) error {
	span, ctx := observability.TraceRPC(ctx, "stripe", "payment_intents.cancel")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := g.intents.Cancel(intentID, params); err != nil {
		span.SetError(err)
		return fmt.Errorf("cancel payment intent %s: %w", intentID, err)
	}
	return nil
}

// UpdateSellerCustomer attaches the buyer to the payment the destination charge
// created on the creator's connected account, so the sale shows up with a
// customer and description in the creator's own dashboard. The buyer is looked
// up by receipt email on that account and created when absent.
func (g *Gateway) UpdateSellerCustomer(ctx context.Context, chargeID string) error {
	span, ctx := observability.TraceRPC(ctx, "stripe", "charges.update_seller_customer")
	defer span.End()
	span.AddAttributes(attribute.String("charge.id", chargeID))
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	err := g.updateSellerCustomer(ctx, chargeID)
	if err != nil {
		span.SetError(err)
	}
	return err
}

func (g *Gateway) updateSellerCustomer(ctx context.Context, chargeID string) error {
	chargeParams := &stripe.ChargeParams{}
	chargeParams.Context = ctx
	ch, err := g.charges.Get(chargeID, chargeParams)
	if err != nil {
		return fmt.Errorf("get charge %s: %w", chargeID, err)
	}
	if ch.TransferData == nil || ch.TransferData.Destination == nil || ch.TransferData.Destination.ID == "" || ch.Transfer == nil || ch.Transfer.ID == "" {
		return fmt.Errorf("charge %s has no connected account transfer", chargeID)
	}
	seller := ch.TransferData.Destination.ID

	transferParams := &stripe.TransferParams{}
	transferParams.Context = ctx
	tr, err := g.transfers.Get(ch.Transfer.ID, transferParams)
	if err != nil {
		return fmt.Errorf("get transfer %s: %w", ch.Transfer.ID, err)
	}
	if tr.DestinationPayment == nil || tr.DestinationPayment.ID == "" {
		return fmt.Errorf("transfer %s has no destination payment", tr.ID)
	}

	customerID, err := g.sellerCustomer(ctx, seller, ch.ReceiptEmail)
	if err != nil {
		return err
	}

	update := &stripe.ChargeParams{
		Description: stripe.String(ch.Description),
		Customer:    stripe.String(customerID),
	}
	update.Context = ctx
	update.SetStripeAccount(seller)
	if _, err := g.charges.Update(tr.DestinationPayment.ID, update); err != nil {
		return fmt.Errorf("update seller payment %s: %w", tr.DestinationPayment.ID, err)
	}
	return nil
}

// sellerCustomer finds the buyer by email on the seller's account, creating it
// when there is none.
func (g *Gateway) sellerCustomer(ctx context.Context, seller, email string) (string, error) {
	list := &stripe.CustomerListParams{Email: stripe.String(email)}
	list.Limit = stripe.Int64(1)
	list.Context = ctx
	list.SetStripeAccount(seller)
	it := g.customers.List(list)
	if it.Next() {
		return it.Customer().ID, nil
	}
	if err := it.Err(); err != nil {
		return "", fmt.Errorf("list seller customers: %w", err)
	}

	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	params.SetStripeAccount(seller)
	c, err := g.customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create seller customer: %w", err)
	}
	return c.ID, nil
}
