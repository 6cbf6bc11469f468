package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Strategy is the minting scheme a collection version uses.
type Strategy string

const (
	// StrategyLegacy mints through a per-app factory created by the legacy manager.
	StrategyLegacy Strategy = "legacy"
	// StrategyV2 mints through the shared factory manager, deploying the factory on first use.
	StrategyV2 Strategy = "v2"
	// StrategyV3 mints through the collection manager, deploying the collection on first use.
	StrategyV3 Strategy = "v3"
)

// MintRequest carries everything a strategy signs and encodes for one token.
type MintRequest struct {
	Strategy  Strategy
	AppID     uint64
	TokenID   uint64
	Recipient common.Address
	TokenURI  string
	// TokenSignature is the creator's signature over the token URI.
	TokenSignature []byte
	TokenRoyalty   int64

	ContractURI    string
	CreatorAddress common.Address
	RoyaltyAddress common.Address
	RoyaltyRate    int64
	TokenName      string
	TokenSymbol    string
	SupplyCap      uint64
}

// Call is an encoded contract call ready for relaying.
type Call struct {
	To   common.Address
	Data []byte
	// GasBuffer is added to the forwarder's gas estimate.
	GasBuffer uint64
}

// Contracts holds the manager contract addresses each strategy targets.
type Contracts struct {
	LegacyFactoryManager common.Address
	FactoryManagerV2     common.Address
	CollectionManager    common.Address
}

var (
	legacyMessage = arguments("address", "uint256", "uint256", "string")
	v2Message     = arguments("string", "address", "address", "uint256", "string", "string", "address", "uint256", "string")
	v3Contract    = arguments("string", "address", "uint256", "string", "string")
	v3Token       = arguments("string", "string", "uint64", "uint256[]", "address[]")
)

// BuildMint signs the manager authorization for req and encodes the mint call.
func (c Contracts) BuildMint(signer *ManagerSigner, req MintRequest) (Call, error) {
	tokenID := new(big.Int).SetUint64(req.TokenID)
	switch req.Strategy {
	case StrategyLegacy:
		royalty := big.NewInt(req.TokenRoyalty)
		managerSig, err := signer.SignEncoded(legacyMessage, req.Recipient, tokenID, royalty, req.TokenURI)
		if err != nil {
			return Call{}, err
		}
		data, err := legacyABI.Pack("mintBatch",
			[]*big.Int{new(big.Int).SetUint64(req.AppID)},
			[]common.Address{req.Recipient},
			[]*big.Int{tokenID},
			[]*big.Int{royalty},
			[]string{req.TokenURI},
			[]string{"\x19Ethereum Signed Message:\n" + strconv.Itoa(len(req.TokenURI))},
			[][]byte{req.TokenSignature},
			[][]byte{managerSig},
		)
		if err != nil {
			return Call{}, fmt.Errorf("encode legacy mint: %w", err)
		}
		return Call{To: c.LegacyFactoryManager, Data: data, GasBuffer: 100_000}, nil

	case StrategyV2:
		rate := big.NewInt(req.RoyaltyRate)
		managerSig, err := signer.SignEncoded(v2Message,
			req.ContractURI, req.CreatorAddress, req.RoyaltyAddress, rate,
			req.TokenName, req.TokenSymbol, req.Recipient, tokenID, req.TokenURI,
		)
		if err != nil {
			return Call{}, err
		}
		data, err := v2ABI.Pack("mintBatch",
			[]string{req.ContractURI},
			[]common.Address{req.CreatorAddress},
			[]common.Address{req.RoyaltyAddress},
			[]*big.Int{rate},
			[]string{req.TokenName},
			[]string{req.TokenSymbol},
			[]common.Address{req.Recipient},
			[]*big.Int{tokenID},
			[]string{req.TokenURI},
			[][]byte{req.TokenSignature},
			[][]byte{managerSig},
		)
		if err != nil {
			return Call{}, fmt.Errorf("encode v2 mint: %w", err)
		}
		return Call{To: c.FactoryManagerV2, Data: data, GasBuffer: 500_000}, nil

	case StrategyV3:
		rate := big.NewInt(req.RoyaltyRate)
		contractSig, err := signer.SignEncoded(v3Contract,
			req.ContractURI, req.CreatorAddress, rate, req.TokenName, req.TokenSymbol)
		if err != nil {
			return Call{}, err
		}
		tokenIDs := []*big.Int{tokenID}
		recipients := []common.Address{req.Recipient}
		tokenSig, err := signer.SignEncoded(v3Token, req.ContractURI, req.TokenURI, req.SupplyCap, tokenIDs, recipients)
		if err != nil {
			return Call{}, err
		}
		data, err := v3ABI.Pack("mintBatch",
			req.ContractURI, req.CreatorAddress, rate, req.TokenName, req.TokenSymbol, contractSig,
			req.TokenURI, req.SupplyCap, tokenIDs, recipients, tokenSig,
		)
		if err != nil {
			return Call{}, fmt.Errorf("encode v3 mint: %w", err)
		}
		return Call{To: c.CollectionManager, Data: data, GasBuffer: 500_000}, nil
	}
	return Call{}, fmt.Errorf("unknown mint strategy %q", req.Strategy)
}

// DecodeSignature parses a hex encoded signature, with or without 0x prefix.
func DecodeSignature(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	return b, nil
}
