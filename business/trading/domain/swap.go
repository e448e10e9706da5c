package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
)

// LegName identifies which half of the round trip a swap is.
type LegName string

const (
	LegBuy  LegName = "buy"
	LegSell LegName = "sell"
)

// Swap rejection reasons carried in the error's reason detail.
const (
	ReasonUnknownVenue    = "unknown_venue"
	ReasonNoPool          = "no_pool"
	ReasonSlippage        = "slippage"
	ReasonPriceLimit      = "price_limit"
	ReasonZeroOutput      = "zero_output"
	ReasonDeadline        = "deadline_exceeded"
	ReasonEmptyReserves   = "empty_reserves"
	ReasonWrongInputAsset = "wrong_input_asset"
	ReasonQuoteFailed     = "quote_failed"
)

// SwapLeg is one directional exchange against a venue.
type SwapLeg struct {
	Name         LegName
	Venue        common.Address
	Fee          FeeTier
	AmountIn     asset.Amount
	MinAmountOut asset.Amount
	PriceLimit   *big.Int // sqrtPriceX96, zero = none
	Deadline     time.Time
}

// AssetIn is the asset the leg spends.
func (l SwapLeg) AssetIn() *asset.Asset {
	return l.AmountIn.Asset()
}

// AssetOut is the asset the leg receives.
func (l SwapLeg) AssetOut() *asset.Asset {
	return l.MinAmountOut.Asset()
}

// Pool returns the identity of the pool this leg trades through.
func (l SwapLeg) Pool() PoolIdentity {
	return NewPoolIdentity(l.AssetIn().ID(), l.AssetOut().ID(), l.Fee)
}

// ZeroForOne reports whether the leg sells token0 for token1.
func (l SwapLeg) ZeroForOne() bool {
	return l.AssetIn().ID().Compare(l.AssetOut().ID()) < 0
}

// HasPriceLimit reports whether a sqrtPriceX96 bound is set.
func (l SwapLeg) HasPriceLimit() bool {
	return l.PriceLimit != nil && l.PriceLimit.Sign() > 0
}
