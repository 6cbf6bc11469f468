// Package reconcile runs the periodic sweeps that pull the ledger back in line
// with the payment processor and the chain.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"editions/internal/chain"
	"editions/internal/crm"
	"editions/internal/jobs"
	"editions/internal/ledger"
	"editions/internal/middleware"
	"editions/internal/models"
	"editions/internal/observability"
	"editions/internal/queue"

	"github.com/ethereum/go-ethereum/common"
)

// Sweep names, used in logs and metrics.
const (
	SweepStalePurchases = "stale_purchases"
	SweepUnmintedTokens = "unminted_tokens"
	SweepContracts      = "contract_addresses"
	SweepLegacyFactory  = "legacy_factories"
	SweepStuckMints     = "stuck_mints"
	SweepCRMRollup      = "crm_rollup"
)

// Ledger is the state the sweeps read and correct.
type Ledger interface {
	StalePurchases(ctx context.Context, cutoff time.Time, limit int) ([]models.Purchase, error)
	CancelPurchase(ctx context.Context, purchaseID uint) (bool, error)
	UnmintedTokens(ctx context.Context, limit int) ([]models.UnmintedToken, error)
	MarkMintStatus(ctx context.Context, ids []uint, status models.MintStatus) (int64, error)
	TouchMintChecked(ctx context.Context, ids []uint) error
	CollectionsMissingAddress(ctx context.Context, limit int) ([]models.Collection, error)
	SetCollectionAddress(ctx context.Context, collectionID uint, address string) (bool, error)
	AppsMissingLegacyFactory(ctx context.Context, limit int) ([]models.App, error)
	SetLegacyFactoryAddress(ctx context.Context, appID uint, address string) (bool, error)
	StuckMintTokens(ctx context.Context, cutoff time.Time, limit int) ([]uint, error)
	AppRollups(ctx context.Context) ([]ledger.AppRollup, error)
}

// Chain answers the on-chain questions the sweeps ask.
type Chain interface {
	LegacyFactory(ctx context.Context, appID uint64) (common.Address, error)
	ContractAddresses(ctx context.Context, strategy chain.Strategy, contractURIs []string) ([]common.Address, error)
	Exists(ctx context.Context, strategy chain.Strategy, contractURIs []string, tokenIDs []uint64) ([]bool, error)
}

// PaymentClient cancels abandoned payment intents upstream.
type PaymentClient interface {
	CancelIntent(ctx context.Context, intentID string) error
}

// Config tunes the sweeps.
type Config struct {
	StaleGrace      time.Duration
	StuckMintAge    time.Duration
	UnmintedBatch   int
	CollectionBatch int
	PurchaseBatch   int
}

func (c Config) withDefaults() Config {
	if c.StaleGrace <= 0 {
		c.StaleGrace = 10 * time.Minute
	}
	if c.StuckMintAge <= 0 {
		c.StuckMintAge = time.Hour
	}
	if c.UnmintedBatch <= 0 {
		c.UnmintedBatch = 500
	}
	if c.CollectionBatch <= 0 {
		c.CollectionBatch = 100
	}
	if c.PurchaseBatch <= 0 {
		c.PurchaseBatch = 500
	}
	return c
}

// Reconciler owns the sweeps.
type Reconciler struct {
	ledger   Ledger
	chain    Chain
	payments PaymentClient
	jobs     jobs.Creator
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a Reconciler.
func New(l Ledger, c Chain, p PaymentClient, j jobs.Creator, cfg Config) *Reconciler {
	return &Reconciler{
		ledger:   l,
		chain:    c,
		payments: p,
		jobs:     j,
		cfg:      cfg.withDefaults(),
		logger:   middleware.Logger,
		now:      time.Now,
	}
}

// run wraps one sweep with a span, metrics and a summary log line.
func (r *Reconciler) run(ctx context.Context, name string, sweep func(context.Context) (int, error)) (int, error) {
	span, ctx := observability.TraceSweep(ctx, name)
	defer span.End()

	n, err := sweep(ctx)
	if n > 0 {
		observability.SweepCorrections.WithLabelValues(name).Add(float64(n))
	}
	if err != nil {
		span.SetError(err)
		observability.SweepRuns.WithLabelValues(name, "error").Inc()
		r.logger.ErrorContext(ctx, "sweep failed", slog.String("sweep", name), slog.Int("corrected", n), slog.String("error", err.Error()))
		return n, err
	}
	observability.SweepRuns.WithLabelValues(name, "ok").Inc()
	if n > 0 {
		r.logger.InfoContext(ctx, "sweep corrected rows", slog.String("sweep", name), slog.Int("corrected", n))
	}
	return n, nil
}

// SweepStalePurchases cancels checkouts left CREATED or FAILED past the grace
// window, releasing their reserved capacity, and cancels their intents upstream.
func (r *Reconciler) SweepStalePurchases(ctx context.Context) (int, error) {
	return r.run(ctx, SweepStalePurchases, func(ctx context.Context) (int, error) {
		stale, err := r.ledger.StalePurchases(ctx, r.now().Add(-r.cfg.StaleGrace), r.cfg.PurchaseBatch)
		if err != nil {
			return 0, fmt.Errorf("load stale purchases: %w", err)
		}
		canceled := 0
		var errs []error
		for _, p := range stale {
			changed, err := r.ledger.CancelPurchase(ctx, p.ID)
			if err != nil {
				errs = append(errs, fmt.Errorf("cancel purchase %d: %w", p.ID, err))
				continue
			}
			if !changed {
				continue
			}
			canceled++
			if p.PaymentIntentID == nil || *p.PaymentIntentID == "" || r.payments == nil {
				continue
			}
			// The intent may already be canceled or expired upstream.
			if err := r.payments.CancelIntent(ctx, *p.PaymentIntentID); err != nil {
				r.logger.WarnContext(ctx, "cancel stale intent",
					slog.Uint64("purchase_id", uint64(p.ID)), slog.String("intent_id", *p.PaymentIntentID), slog.String("error", err.Error()))
			}
		}
		return canceled, errors.Join(errs...)
	})
}

// SweepUnmintedTokens checks pending tokens against the chain. Tokens found
// on-chain are confirmed; legacy tokens, which have no existence query, become
// unverifiable; the rest stay pending with their check time advanced.
func (r *Reconciler) SweepUnmintedTokens(ctx context.Context) (int, error) {
	return r.run(ctx, SweepUnmintedTokens, func(ctx context.Context) (int, error) {
		tokens, err := r.ledger.UnmintedTokens(ctx, r.cfg.UnmintedBatch)
		if err != nil {
			return 0, fmt.Errorf("load unminted tokens: %w", err)
		}

		var legacy, confirmed, pending []uint
		groups := map[chain.Strategy][]models.UnmintedToken{}
		for _, t := range tokens {
			switch {
			case t.Version == nil || *t.Version == models.CollectionLegacy:
				legacy = append(legacy, t.ID)
			case *t.Version == models.CollectionV2 && t.ContractURI != nil:
				groups[chain.StrategyV2] = append(groups[chain.StrategyV2], t)
			case *t.Version == models.CollectionV3 && t.ContractURI != nil && t.ContractAddress != nil:
				groups[chain.StrategyV3] = append(groups[chain.StrategyV3], t)
			default:
				// Undeployed collection or unknown version: nothing to ask yet.
				pending = append(pending, t.ID)
			}
		}

		var errs []error
		for _, strategy := range []chain.Strategy{chain.StrategyV2, chain.StrategyV3} {
			group := groups[strategy]
			if len(group) == 0 {
				continue
			}
			uris := make([]string, len(group))
			ids := make([]uint64, len(group))
			for i, t := range group {
				uris[i] = *t.ContractURI
				ids[i] = uint64(t.ID)
			}
			exists, err := r.chain.Exists(ctx, strategy, uris, ids)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s existence check: %w", strategy, err))
				continue
			}
			for i, t := range group {
				if exists[i] {
					confirmed = append(confirmed, t.ID)
				} else {
					pending = append(pending, t.ID)
				}
			}
		}

		corrected := 0
		n, err := r.ledger.MarkMintStatus(ctx, confirmed, models.MintConfirmed)
		corrected += int(n)
		errs = append(errs, err)
		n, err = r.ledger.MarkMintStatus(ctx, legacy, models.MintUnverifiable)
		corrected += int(n)
		errs = append(errs, err)
		errs = append(errs, r.ledger.TouchMintChecked(ctx, pending))
		return corrected, errors.Join(errs...)
	})
}

// SweepContractAddresses persists collection addresses that appeared on-chain
// since the collection's first mint.
func (r *Reconciler) SweepContractAddresses(ctx context.Context) (int, error) {
	return r.run(ctx, SweepContracts, func(ctx context.Context) (int, error) {
		collections, err := r.ledger.CollectionsMissingAddress(ctx, r.cfg.CollectionBatch)
		if err != nil {
			return 0, fmt.Errorf("load collections: %w", err)
		}
		groups := map[chain.Strategy][]models.Collection{}
		for _, c := range collections {
			switch c.Version {
			case models.CollectionV2:
				groups[chain.StrategyV2] = append(groups[chain.StrategyV2], c)
			case models.CollectionV3:
				groups[chain.StrategyV3] = append(groups[chain.StrategyV3], c)
			}
		}

		stored := 0
		var errs []error
		for _, strategy := range []chain.Strategy{chain.StrategyV2, chain.StrategyV3} {
			group := groups[strategy]
			if len(group) == 0 {
				continue
			}
			uris := make([]string, len(group))
			for i, c := range group {
				uris[i] = c.ContractURI
			}
			addrs, err := r.chain.ContractAddresses(ctx, strategy, uris)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s contract addresses: %w", strategy, err))
				continue
			}
			for i, c := range group {
				if addrs[i] == (common.Address{}) {
					continue
				}
				ok, err := r.ledger.SetCollectionAddress(ctx, c.ID, addrs[i].Hex())
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if ok {
					stored++
				}
			}
		}
		return stored, errors.Join(errs...)
	})
}

// SweepLegacyFactories persists per-app factory addresses once deployed.
func (r *Reconciler) SweepLegacyFactories(ctx context.Context) (int, error) {
	return r.run(ctx, SweepLegacyFactory, func(ctx context.Context) (int, error) {
		apps, err := r.ledger.AppsMissingLegacyFactory(ctx, r.cfg.CollectionBatch)
		if err != nil {
			return 0, fmt.Errorf("load apps: %w", err)
		}
		stored := 0
		var errs []error
		for _, app := range apps {
			addr, err := r.chain.LegacyFactory(ctx, uint64(app.ID))
			if err != nil {
				errs = append(errs, fmt.Errorf("factory of app %d: %w", app.ID, err))
				continue
			}
			if addr == (common.Address{}) {
				continue
			}
			ok, err := r.ledger.SetLegacyFactoryAddress(ctx, app.ID, addr.Hex())
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if ok {
				stored++
			}
		}
		return stored, errors.Join(errs...)
	})
}

// RetryStuckMints re-enqueues mint jobs for tokens still lacking a mint
// transaction after the stuck age. Jobs already queued collapse on their key.
func (r *Reconciler) RetryStuckMints(ctx context.Context) (int, error) {
	return r.run(ctx, SweepStuckMints, func(ctx context.Context) (int, error) {
		ids, err := r.ledger.StuckMintTokens(ctx, r.now().Add(-r.cfg.StuckMintAge), r.cfg.UnmintedBatch)
		if err != nil {
			return 0, fmt.Errorf("load stuck mints: %w", err)
		}
		enqueued := 0
		for _, id := range ids {
			if _, err := r.jobs.Create(ctx, jobs.TypeMintToken, queue.PriorityNormal, jobs.MintToken{TokenID: id}); err != nil {
				return enqueued, fmt.Errorf("enqueue mint for token %d: %w", id, err)
			}
			enqueued++
		}
		return enqueued, nil
	})
}

// RollupCRM pushes per-app subscriber and sales totals to the creators' CRM
// records in one job.
func (r *Reconciler) RollupCRM(ctx context.Context) (int, error) {
	return r.run(ctx, SweepCRMRollup, func(ctx context.Context) (int, error) {
		rollups, err := r.ledger.AppRollups(ctx)
		if err != nil {
			return 0, err
		}
		if len(rollups) == 0 {
			return 0, nil
		}
		infos := make([]jobs.ApplyCRM, 0, len(rollups))
		for _, a := range rollups {
			infos = append(infos, jobs.ApplyCRM{
				UserID: a.CreatorID,
				Updates: map[string]any{
					crm.FieldTotalSubscribers: a.Subscribers,
					crm.FieldTotalSales:       float64(a.TotalProceeds) / 100,
					crm.FieldTotalUnitsSold:   a.TotalNFTs,
				},
			})
		}
		if _, err := r.jobs.Create(ctx, jobs.TypeApplyMultiCRM, queue.PriorityLow, jobs.ApplyMultiCRM{Infos: infos}); err != nil {
			return 0, err
		}
		return len(infos), nil
	})
}
