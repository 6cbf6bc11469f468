package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// GasEstimator estimates the gas a call from an arbitrary sender needs.
type GasEstimator interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// RPCCaller is the subset of an RPC client the relay submits through.
type RPCCaller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// Relay submits gas-sponsored meta-transactions. Every submission is signed
// by a throwaway key; the relay forwards the call and pays for gas.
type Relay struct {
	rpc       RPCCaller
	estimator GasEstimator
	forwarder common.Address
	chainID   *big.Int
	now       func() time.Time
	newKey    func() (*ecdsa.PrivateKey, error)
}

// NewRelay builds a relay client that forwards through forwarder on chainID.
func NewRelay(rpc RPCCaller, estimator GasEstimator, forwarder common.Address, chainID int64) *Relay {
	return &Relay{
		rpc:       rpc,
		estimator: estimator,
		forwarder: forwarder,
		chainID:   big.NewInt(chainID),
		now:       time.Now,
		newKey:    crypto.GenerateKey,
	}
}

const forwardDeadline = time.Hour

type relayParams struct {
	Signature      string         `json:"signature"`
	GasLimit       string         `json:"gasLimit"`
	ForwardRequest map[string]any `json:"forwardRequest"`
	RawTransaction string         `json:"rawTransaction"`
	SignatureType  string         `json:"signatureType"`
}

// Submit relays call and returns the relay's transaction id.
func (r *Relay) Submit(ctx context.Context, call Call) (string, error) {
	key, err := r.newKey()
	if err != nil {
		return "", fmt.Errorf("generate meta signer: %w", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	txGas, err := r.estimator.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &call.To, Data: call.Data})
	if err != nil {
		return "", fmt.Errorf("estimate relay gas: %w", err)
	}

	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		To:       &call.To,
		Gas:      txGas,
		GasPrice: new(big.Int),
		Data:     call.Data,
	}), types.NewEIP155Signer(r.chainID), key)
	if err != nil {
		return "", fmt.Errorf("sign meta transaction: %w", err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encode meta transaction: %w", err)
	}

	// A fresh sender always starts at batch nonce zero.
	request := map[string]any{
		"from":          from.Hex(),
		"to":            call.To.Hex(),
		"token":         common.Address{}.Hex(),
		"txGas":         strconv.FormatUint(txGas, 10),
		"tokenGasPrice": "0",
		"batchId":       "0",
		"batchNonce":    "0",
		"deadline":      strconv.FormatInt(r.now().Add(forwardDeadline).Unix(), 10),
		"data":          hexutil.Encode(call.Data),
	}
	sig, err := r.signForwardRequest(key, request)
	if err != nil {
		return "", err
	}

	var txID string
	err = r.rpc.CallContext(ctx, &txID, "eth_sendRawTransaction", relayParams{
		Signature:      hexutil.Encode(sig),
		GasLimit:       strconv.FormatUint(txGas+call.GasBuffer, 10),
		ForwardRequest: request,
		RawTransaction: hexutil.Encode(raw),
		SignatureType:  "EIP712_SIGN",
	})
	if err != nil {
		return "", fmt.Errorf("relay meta transaction: %w", err)
	}
	if txID == "" {
		return "", fmt.Errorf("relay returned an empty transaction id")
	}
	return txID, nil
}

func (r *Relay) typedData(request map[string]any) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "verifyingContract", Type: "address"},
				{Name: "salt", Type: "bytes32"},
			},
			"ERC20ForwardRequest": {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "token", Type: "address"},
				{Name: "txGas", Type: "uint256"},
				{Name: "tokenGasPrice", Type: "uint256"},
				{Name: "batchId", Type: "uint256"},
				{Name: "batchNonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
				{Name: "data", Type: "bytes"},
			},
		},
		PrimaryType: "ERC20ForwardRequest",
		Domain: apitypes.TypedDataDomain{
			Name:              "Biconomy Forwarder",
			Version:           "1",
			VerifyingContract: r.forwarder.Hex(),
			Salt:              hexutil.Encode(math.U256Bytes(new(big.Int).Set(r.chainID))),
		},
		Message: apitypes.TypedDataMessage(request),
	}
}

func (r *Relay) signForwardRequest(key *ecdsa.PrivateKey, request map[string]any) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(r.typedData(request))
	if err != nil {
		return nil, fmt.Errorf("hash forward request: %w", err)
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("sign forward request: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}
