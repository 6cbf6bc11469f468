package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const legacyFactoryManagerABI = `[
 {"type":"function","name":"mintBatch","stateMutability":"nonpayable","outputs":[],"inputs":[
  {"name":"appIDs","type":"uint256[]"},
  {"name":"recipients","type":"address[]"},
  {"name":"tokenIDs","type":"uint256[]"},
  {"name":"royalties","type":"uint256[]"},
  {"name":"tokenURIs","type":"string[]"},
  {"name":"messagePrefixes","type":"string[]"},
  {"name":"tokenSignatures","type":"bytes[]"},
  {"name":"managerSignatures","type":"bytes[]"}]},
 {"type":"function","name":"getNFTFactory","stateMutability":"view",
  "inputs":[{"name":"appID","type":"uint256"}],
  "outputs":[{"name":"","type":"address"}]}
]`

const factoryManagerV2ABI = `[
 {"type":"function","name":"mintBatch","stateMutability":"nonpayable","outputs":[],"inputs":[
  {"name":"contractURIs","type":"string[]"},
  {"name":"creators","type":"address[]"},
  {"name":"royaltyAddresses","type":"address[]"},
  {"name":"royaltyRates","type":"uint256[]"},
  {"name":"tokenNames","type":"string[]"},
  {"name":"tokenSymbols","type":"string[]"},
  {"name":"collectors","type":"address[]"},
  {"name":"tokenIDs","type":"uint256[]"},
  {"name":"tokenURIs","type":"string[]"},
  {"name":"creatorSignatures","type":"bytes[]"},
  {"name":"managerSignatures","type":"bytes[]"}]},
 {"type":"function","name":"getFactoryAddresses","stateMutability":"view",
  "inputs":[{"name":"contractURIs","type":"string[]"}],
  "outputs":[{"name":"","type":"address[]"}]},
 {"type":"function","name":"existsBatch","stateMutability":"view",
  "inputs":[{"name":"contractURIs","type":"string[]"},{"name":"tokenIDs","type":"uint256[]"}],
  "outputs":[{"name":"","type":"bool[]"}]}
]`

const collectionManagerABI = `[
 {"type":"function","name":"mintBatch","stateMutability":"nonpayable","outputs":[],"inputs":[
  {"name":"contractURI","type":"string"},
  {"name":"owner","type":"address"},
  {"name":"royalty","type":"uint256"},
  {"name":"name","type":"string"},
  {"name":"symbol","type":"string"},
  {"name":"contractSignature","type":"bytes"},
  {"name":"tokenURI","type":"string"},
  {"name":"supplyCap","type":"uint64"},
  {"name":"tokenIDs","type":"uint256[]"},
  {"name":"recipients","type":"address[]"},
  {"name":"tokenSignature","type":"bytes"}]},
 {"type":"function","name":"getCollectionAddresses","stateMutability":"view",
  "inputs":[{"name":"contractURIs","type":"string[]"}],
  "outputs":[{"name":"","type":"address[]"}]},
 {"type":"function","name":"existsBatch","stateMutability":"view",
  "inputs":[{"name":"contractURIs","type":"string[]"},{"name":"tokenIDs","type":"uint256[]"}],
  "outputs":[{"name":"","type":"bool[]"}]}
]`

var (
	legacyABI = mustParse(legacyFactoryManagerABI)
	v2ABI     = mustParse(factoryManagerV2ABI)
	v3ABI     = mustParse(collectionManagerABI)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: invalid contract ABI: " + err.Error())
	}
	return parsed
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic("chain: invalid abi type " + t + ": " + err.Error())
	}
	return typ
}

func arguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		args[i] = abi.Argument{Type: mustType(t)}
	}
	return args
}
