package chain

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// ManagerSigner signs mint authorizations with a manager group member key.
type ManagerSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewManagerSigner parses a hex private key, with or without 0x prefix.
func NewManagerSigner(hexKey string) (*ManagerSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse manager signer key: %w", err)
	}
	return &ManagerSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address is the manager account the contracts check signatures against.
func (s *ManagerSigner) Address() common.Address {
	return s.address
}

// SignEncoded ABI-encodes values with the given argument types, hashes the
// encoding with keccak256 and signs the hash as an EIP-191 personal message.
func (s *ManagerSigner) SignEncoded(args abi.Arguments, values ...any) ([]byte, error) {
	encoded, err := args.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("encode manager message: %w", err)
	}
	return s.signDigest(keccak(encoded))
}

func (s *ManagerSigner) signDigest(digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(digest), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign manager message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func keccak(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}
