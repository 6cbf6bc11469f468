// Package settlement turns accepted claims and purchases into on-chain
// ownership and runs the notification side effects of settlement.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"editions/internal/chain"
	"editions/internal/ledger"
	"editions/internal/middleware"
	"editions/internal/models"
	"editions/internal/notifications"
	"editions/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Ledger is the part of the ledger the mint path reads and writes.
type Ledger interface {
	LoadMintSubject(ctx context.Context, tokenID uint) (*ledger.MintSubject, error)
	ClaimMint(ctx context.Context, tokenID uint, claimID string, lease time.Duration) error
	RecordMintSubmission(ctx context.Context, tokenID uint, claimID, txID string, contractAddress *string) error
	ReleaseMintClaim(ctx context.Context, tokenID uint, claimID string) error
}

// BlockchainClient prices and relays mints.
type BlockchainClient interface {
	GasPrice(ctx context.Context) (*big.Int, error)
	SubmitMint(ctx context.Context, req chain.MintRequest) (string, error)
}

// Publisher delivers realtime events to users.
type Publisher interface {
	PublishEvent(ctx context.Context, userID uint, eventType string, data any) error
}

// Config tunes the mint path.
type Config struct {
	// MaxGasPrice is the fee ceiling in wei.
	MaxGasPrice *big.Int
	// ClaimLease is how long a mint claim blocks other workers.
	ClaimLease time.Duration
}

// Worker mints tokens.
type Worker struct {
	ledger    Ledger
	chain     BlockchainClient
	publisher Publisher
	cfg       Config
	logger    *slog.Logger
	newClaim  func() string
}

// NewWorker builds a Worker. publisher may be nil.
func NewWorker(l Ledger, c BlockchainClient, p Publisher, cfg Config) *Worker {
	if cfg.MaxGasPrice == nil {
		cfg.MaxGasPrice = chain.GweiToWei(200)
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 10 * time.Minute
	}
	return &Worker{
		ledger:    l,
		chain:     c,
		publisher: p,
		cfg:       cfg,
		logger:    middleware.Logger,
		newClaim:  func() string { return uuid.NewString() },
	}
}

// MintSubmitted is published to the token owner once the relay accepts a mint.
type MintSubmitted struct {
	TokenID uint   `json:"token_id"`
	PostID  uint   `json:"post_id"`
	TxID    string `json:"tx_id"`
}

// MintToken submits the mint for tokenID and records the relay transaction id.
// Chain confirmation is left to the unminted-token sweep.
func (w *Worker) MintToken(ctx context.Context, tokenID uint) (string, error) {
	subject, err := w.ledger.LoadMintSubject(ctx, tokenID)
	if err != nil {
		return "", err
	}
	if subject.Token.Minted() {
		return "", models.ErrAlreadyMinted
	}

	req, err := BuildMintRequest(subject)
	if err != nil {
		return "", err
	}

	if err := w.checkFee(ctx); err != nil {
		return "", err
	}

	claimID := w.newClaim()
	if err := w.ledger.ClaimMint(ctx, tokenID, claimID, w.cfg.ClaimLease); err != nil {
		return "", err
	}

	txID, err := w.chain.SubmitMint(ctx, req)
	if err != nil {
		if rerr := w.ledger.ReleaseMintClaim(context.WithoutCancel(ctx), tokenID, claimID); rerr != nil {
			w.logger.ErrorContext(ctx, "release mint claim",
				slog.Uint64("token_id", uint64(tokenID)), slog.String("error", rerr.Error()))
		}
		return "", fmt.Errorf("submit mint for token %d: %w", tokenID, err)
	}

	if err := w.ledger.RecordMintSubmission(context.WithoutCancel(ctx), tokenID, claimID, txID, contractAddress(subject)); err != nil {
		// The relay already accepted the transaction; the sweep reconciles
		// from chain state rather than risking a second submission.
		w.logger.ErrorContext(ctx, "mint relayed but not recorded",
			slog.Uint64("token_id", uint64(tokenID)),
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
		return txID, &unrecordedError{txID: txID, err: err}
	}

	if w.publisher != nil {
		event := MintSubmitted{TokenID: tokenID, PostID: subject.Token.PostID, TxID: txID}
		if err := w.publisher.PublishEvent(ctx, subject.Token.UserID, notifications.EventTokenMintSubmitted, event); err != nil {
			observability.RedisErrorRate.WithLabelValues("publish").Inc()
			w.logger.WarnContext(ctx, "publish mint event", slog.String("error", err.Error()))
		}
	}
	return txID, nil
}

type unrecordedError struct {
	txID string
	err  error
}

func (e *unrecordedError) Error() string {
	return fmt.Sprintf("mint %s relayed but not recorded: %v", e.txID, e.err)
}

func (e *unrecordedError) Unwrap() error { return e.err }

func (w *Worker) checkFee(ctx context.Context) error {
	price, err := w.chain.GasPrice(ctx)
	if err != nil {
		return fmt.Errorf("fetch gas price: %w", err)
	}
	if price.Cmp(w.cfg.MaxGasPrice) > 0 {
		observability.FeeRejections.Inc()
		return models.ErrFeeTooHigh.WithCause(fmt.Errorf("actual %s wei, limit %s wei", price, w.cfg.MaxGasPrice))
	}
	return nil
}

// StrategyFor selects the minting scheme for a collection. Posts without a
// collection mint through the legacy per-app factory.
func StrategyFor(c *models.Collection) (chain.Strategy, error) {
	if c == nil {
		return chain.StrategyLegacy, nil
	}
	switch c.Version {
	case models.CollectionLegacy:
		return chain.StrategyLegacy, nil
	case models.CollectionV2:
		return chain.StrategyV2, nil
	case models.CollectionV3:
		return chain.StrategyV3, nil
	}
	return "", fmt.Errorf("collection %d has unsupported version %d", c.ID, c.Version)
}

// BuildMintRequest maps a loaded token onto the request its strategy signs.
func BuildMintRequest(s *ledger.MintSubject) (chain.MintRequest, error) {
	strategy, err := StrategyFor(s.Collection)
	if err != nil {
		return chain.MintRequest{}, err
	}
	if s.Recipient.WalletAddress == nil || !common.IsHexAddress(*s.Recipient.WalletAddress) {
		return chain.MintRequest{}, models.ErrAuthorizationFailure.WithCause(
			fmt.Errorf("user %d has no wallet address", s.Recipient.ID))
	}

	req := chain.MintRequest{
		Strategy:     strategy,
		AppID:        uint64(s.App.ID),
		TokenID:      uint64(s.Token.ID),
		Recipient:    common.HexToAddress(*s.Recipient.WalletAddress),
		TokenURI:     s.Post.TokenURI,
		TokenRoyalty: int64(s.Post.TokenRoyalty),
	}
	if s.Post.TokenSignature != "" {
		sig, err := chain.DecodeSignature(s.Post.TokenSignature)
		if err != nil {
			return chain.MintRequest{}, models.ErrAuthorizationFailure.WithCause(err)
		}
		req.TokenSignature = sig
	}
	if c := s.Collection; c != nil {
		req.ContractURI = c.ContractURI
		req.CreatorAddress = common.HexToAddress(c.CreatorAddress)
		req.RoyaltyAddress = common.HexToAddress(c.RoyaltyAddress)
		req.RoyaltyRate = int64(c.RoyaltyRate)
		req.TokenName = c.TokenName
		req.TokenSymbol = c.TokenSymbol
	}
	if s.Post.SupplyCap != nil {
		req.SupplyCap = uint64(*s.Post.SupplyCap)
	}
	return req, nil
}

func contractAddress(s *ledger.MintSubject) *string {
	if s.Collection != nil {
		return s.Collection.ContractAddress
	}
	return s.App.LegacyFactoryAddress
}

// retryable reports whether a mint failure may succeed on a later attempt.
func retryable(err error) bool {
	var unrecorded *unrecordedError
	switch {
	case errors.As(err, &unrecorded):
		return false
	case errors.Is(err, models.ErrAlreadyMinted):
		return false
	case errors.Is(err, &models.AppError{Code: models.CodeNotFound}):
		return false
	}
	return true
}
