package bootstrap

import (
	"context"
	"net/http"
	"time"

	"editions/internal/chain"
	"editions/internal/config"
	"editions/internal/payments"
	"editions/internal/reconcile"

	"github.com/ethereum/go-ethereum/common"
)

// ChainConfig maps the chain settings onto chain.Config.
func ChainConfig(cfg *config.Config) chain.Config {
	return chain.Config{
		RPCURL:           cfg.ChainRPCURL,
		RelayURL:         cfg.RelayURL,
		RelayAPIKey:      cfg.RelayAPIKey,
		ForwarderAddress: cfg.RelayForwarderAddress,
		ChainID:          cfg.ChainID,
		SignerKey:        cfg.ManagerSignerKey,
		Contracts: chain.Contracts{
			LegacyFactoryManager: common.HexToAddress(cfg.LegacyFactoryManagerAddress),
			FactoryManagerV2:     common.HexToAddress(cfg.FactoryManagerV2Address),
			CollectionManager:    common.HexToAddress(cfg.CollectionManagerAddress),
		},
		RatePerSecond: cfg.ChainRPCRatePerSec,
		CallTimeout:   time.Duration(cfg.ChainCallTimeoutSeconds) * time.Second,
	}
}

// ChainConfigured reports whether the relay and signer are set.
func ChainConfigured(cfg *config.Config) bool {
	return cfg.RelayURL != "" && cfg.ManagerSignerKey != ""
}

// DialChain connects to the node and relay.
func DialChain(ctx context.Context, cfg *config.Config) (*chain.Client, error) {
	return chain.Dial(ctx, ChainConfig(cfg))
}

// Gateway builds the payment gateway.
func Gateway(cfg *config.Config) *payments.Gateway {
	return payments.NewGateway(cfg.StripeSecretKey, time.Duration(cfg.PaymentCallTimeoutSeconds)*time.Second)
}

// ReconcileConfig maps the sweep settings onto reconcile.Config.
func ReconcileConfig(cfg *config.Config) reconcile.Config {
	return reconcile.Config{
		StaleGrace:      time.Duration(cfg.StalePurchaseGraceMinutes) * time.Minute,
		StuckMintAge:    time.Duration(cfg.StuckMintAgeMinutes) * time.Minute,
		UnmintedBatch:   cfg.UnmintedSweepBatch,
		CollectionBatch: cfg.CollectionSweepBatch,
	}
}

// NewReconciler builds the sweeps over the runtime's ledger and queue.
// c may be nil for processes that only retry stuck mints.
func (r *Runtime) NewReconciler(c reconcile.Chain, p reconcile.PaymentClient) *reconcile.Reconciler {
	return reconcile.New(r.Ledger, c, p, r.Queue, ReconcileConfig(r.Config))
}

// HTTPClient is the base client for outbound REST integrations.
func HTTPClient() *http.Client {
	return &http.Client{Timeout: 20 * time.Second}
}
