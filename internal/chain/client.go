// Package chain talks to the blockchain: manager-signed mint calls relayed as
// meta-transactions, and batched reads against the factory and collection
// manager contracts.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"editions/internal/middleware"
	"editions/internal/observability"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"
)

// Backend is the chain node API the client reads through.
type Backend interface {
	GasEstimator
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Config configures Dial.
type Config struct {
	RPCURL           string
	RelayURL         string
	RelayAPIKey      string
	ForwarderAddress string
	ChainID          int64
	SignerKey        string
	Contracts        Contracts
	RatePerSecond    float64
	CallTimeout      time.Duration
}

// Client is the blockchain client used by settlement and reconciliation.
type Client struct {
	backend   Backend
	relay     *Relay
	signer    *ManagerSigner
	contracts Contracts
	limiter   *rate.Limiter
	timeout   time.Duration
	logger    *slog.Logger
}

// Dial connects to the chain node and the relay.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	signer, err := NewManagerSigner(cfg.SignerKey)
	if err != nil {
		return nil, err
	}
	node, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	relayRPC, err := rpc.DialOptions(ctx, cfg.RelayURL, rpc.WithHeader("x-api-key", cfg.RelayAPIKey))
	if err != nil {
		node.Close()
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	relay := NewRelay(relayRPC, node, common.HexToAddress(cfg.ForwarderAddress), cfg.ChainID)
	return NewClient(node, relay, signer, cfg.Contracts, cfg.RatePerSecond, cfg.CallTimeout), nil
}

// NewClient assembles a Client from its parts. A non-positive rate disables
// read throttling.
func NewClient(backend Backend, relay *Relay, signer *ManagerSigner, contracts Contracts, perSecond float64, timeout time.Duration) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		backend:   backend,
		relay:     relay,
		signer:    signer,
		contracts: contracts,
		limiter:   limiter,
		timeout:   timeout,
		logger:    middleware.Logger,
	}
}

// GasPrice returns the network's suggested gas price in wei.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := c.begin(ctx)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	span, ctx := observability.TraceRPC(ctx, "chain", "eth_gasPrice")
	defer span.End()
	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	return price, nil
}

// SubmitMint signs, encodes and relays one mint. It returns the relay
// transaction id once the relay accepts the submission.
func (c *Client) SubmitMint(ctx context.Context, req MintRequest) (string, error) {
	call, err := c.contracts.BuildMint(c.signer, req)
	if err != nil {
		return "", err
	}

	ctx, cancel := c.begin(ctx)
	defer cancel()
	span, ctx := observability.TraceRPC(ctx, "relay", "eth_sendRawTransaction")
	defer span.End()

	txID, err := c.relay.Submit(ctx, call)
	if err != nil {
		span.SetError(err)
		observability.MintSubmissions.WithLabelValues(string(req.Strategy), "error").Inc()
		return "", err
	}
	observability.MintSubmissions.WithLabelValues(string(req.Strategy), "accepted").Inc()
	c.logger.InfoContext(ctx, "mint relayed",
		slog.String("strategy", string(req.Strategy)),
		slog.Uint64("token_id", req.TokenID),
		slog.String("tx_id", txID),
	)
	return txID, nil
}

// LegacyFactory returns the factory deployed for appID, or the zero address
// while deployment is still pending.
func (c *Client) LegacyFactory(ctx context.Context, appID uint64) (common.Address, error) {
	out, err := c.read(ctx, c.contracts.LegacyFactoryManager, legacyABI, "getNFTFactory", new(big.Int).SetUint64(appID))
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("getNFTFactory: unexpected output %T", out[0])
	}
	return addr, nil
}

// ContractAddresses returns the deployed contract for each URI under strategy.
// Undeployed entries are the zero address.
func (c *Client) ContractAddresses(ctx context.Context, strategy Strategy, contractURIs []string) ([]common.Address, error) {
	var out []any
	var err error
	switch strategy {
	case StrategyV2:
		out, err = c.read(ctx, c.contracts.FactoryManagerV2, v2ABI, "getFactoryAddresses", contractURIs)
	case StrategyV3:
		out, err = c.read(ctx, c.contracts.CollectionManager, v3ABI, "getCollectionAddresses", contractURIs)
	default:
		return nil, fmt.Errorf("strategy %q has no contract address lookup", strategy)
	}
	if err != nil {
		return nil, err
	}
	addrs, ok := out[0].([]common.Address)
	if !ok || len(addrs) != len(contractURIs) {
		return nil, fmt.Errorf("contract addresses: unexpected output %v", out[0])
	}
	return addrs, nil
}

// Exists checks which (contract URI, token id) pairs have been minted.
func (c *Client) Exists(ctx context.Context, strategy Strategy, contractURIs []string, tokenIDs []uint64) ([]bool, error) {
	if len(contractURIs) != len(tokenIDs) {
		return nil, fmt.Errorf("exists: %d uris for %d tokens", len(contractURIs), len(tokenIDs))
	}
	ids := make([]*big.Int, len(tokenIDs))
	for i, id := range tokenIDs {
		ids[i] = new(big.Int).SetUint64(id)
	}
	var out []any
	var err error
	switch strategy {
	case StrategyV2:
		out, err = c.read(ctx, c.contracts.FactoryManagerV2, v2ABI, "existsBatch", contractURIs, ids)
	case StrategyV3:
		out, err = c.read(ctx, c.contracts.CollectionManager, v3ABI, "existsBatch", contractURIs, ids)
	default:
		return nil, fmt.Errorf("strategy %q has no existence query", strategy)
	}
	if err != nil {
		return nil, err
	}
	exists, ok := out[0].([]bool)
	if !ok || len(exists) != len(tokenIDs) {
		return nil, fmt.Errorf("existsBatch: unexpected output %v", out[0])
	}
	return exists, nil
}

func (c *Client) read(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	ctx, cancel := c.begin(ctx)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	span, ctx := observability.TraceRPC(ctx, "chain", method)
	defer span.End()

	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return out, nil
}

func (c *Client) begin(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// GweiToWei converts a gwei amount to wei.
func GweiToWei(gwei int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(gwei), big.NewInt(1_000_000_000))
}
