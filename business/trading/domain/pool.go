package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
)

// UniswapV3PoolInitCodeHash is the keccak256 of the Uniswap V3 pool creation code.
var UniswapV3PoolInitCodeHash = common.HexToHash("0xe34f199b19b2b4f47f68442619d555527d244f78a3297ea89325f843f87b8b54")

// PoolIdentity names a liquidity pool by its ordered asset pair and fee tier.
// Token0 always sorts before Token1.
type PoolIdentity struct {
	Token0 asset.AssetID
	Token1 asset.AssetID
	Fee    FeeTier
}

// NewPoolIdentity orders the pair so that (a, b) and (b, a) map to the same pool.
func NewPoolIdentity(a, b asset.AssetID, fee FeeTier) PoolIdentity {
	if a.Compare(b) > 0 {
		a, b = b, a
	}
	return PoolIdentity{Token0: a, Token1: b, Fee: fee}
}

// Contains reports whether id is one side of the pair.
func (p PoolIdentity) Contains(id asset.AssetID) bool {
	return p.Token0.Equals(id) || p.Token1.Equals(id)
}

// Key returns a stable string usable as a map or cache key.
func (p PoolIdentity) Key() string {
	return fmt.Sprintf("%d:%s:%s:%d", p.Token0.ChainID(), p.Token0.Address().Hex(), p.Token1.Address().Hex(), p.Fee)
}

func (p PoolIdentity) String() string {
	return fmt.Sprintf("%s/%s@%d", p.Token0, p.Token1, p.Fee)
}

// Address derives the CREATE2 pool address a Uniswap V3 style factory
// deploys for this identity.
func (p PoolIdentity) Address(factory common.Address, initCodeHash common.Hash) common.Address {
	salt := crypto.Keccak256Hash(
		common.LeftPadBytes(p.Token0.Address().Bytes(), 32),
		common.LeftPadBytes(p.Token1.Address().Bytes(), 32),
		common.LeftPadBytes(p.Fee.Big().Bytes(), 32),
	)
	return crypto.CreateAddress2(factory, salt, initCodeHash.Bytes())
}

// PoolHandle is a resolved pool: its identity and the account holding its liquidity.
type PoolHandle struct {
	Identity PoolIdentity
	Address  common.Address
}
