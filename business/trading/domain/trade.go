// Package domain contains the trade execution model: requests, pool
// identities, swap legs, the profit gate and the step records an attempt emits.
package domain

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
)

// TradeID is an opaque 48-bit identifier assigned by the caller.
type TradeID uint64

// MaxTradeID is the largest identifier that fits in 48 bits.
const MaxTradeID TradeID = 1<<48 - 1

// tradeIDEpoch anchors the day field of composed identifiers.
var tradeIDEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// ComposeTradeID packs a process tag, a calendar day and a minute-of-day
// bucket the way discovery processes label their attempts:
// tag (8 bits) | days since 2000-01-01 (24 bits) | minute of day (16 bits).
// The coordinator never interprets these fields.
func ComposeTradeID(tag uint8, at time.Time) TradeID {
	at = at.UTC()
	day := uint64(at.Truncate(24*time.Hour).Sub(tradeIDEpoch)/(24*time.Hour)) & 0xFFFFFF
	minute := uint64(at.Hour()*60 + at.Minute())
	return TradeID(uint64(tag)<<40 | day<<16 | minute)
}

// Parts splits a composed identifier back into its fields.
func (id TradeID) Parts() (tag uint8, day time.Time, minuteOfDay uint16) {
	v := uint64(id)
	tag = uint8(v >> 40)
	days := int((v >> 16) & 0xFFFFFF)
	minuteOfDay = uint16(v & 0xFFFF)
	return tag, tradeIDEpoch.AddDate(0, 0, days), minuteOfDay
}

// Valid reports whether the identifier fits in 48 bits.
func (id TradeID) Valid() bool {
	return id <= MaxTradeID
}

func (id TradeID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseTradeID parses a base-10 identifier.
func ParseTradeID(s string) (TradeID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse trade id %q: %w", s, err)
	}
	return TradeID(v), nil
}

// FeeTier is a Uniswap V3 style fee in hundredths of a basis point.
type FeeTier uint32

// Standard fee tiers.
const (
	FeeTier001 FeeTier = 100   // 0.01%
	FeeTier005 FeeTier = 500   // 0.05%
	FeeTier030 FeeTier = 3000  // 0.30%
	FeeTier100 FeeTier = 10000 // 1.00%
)

// FeeDenominator is the fee tier scale (1e6 = 100%).
const FeeDenominator = 1_000_000

// Valid reports whether the tier leaves part of the input after the fee.
func (f FeeTier) Valid() bool {
	return f < FeeDenominator
}

// Big returns the tier as a big.Int.
func (f FeeTier) Big() *big.Int {
	return new(big.Int).SetUint64(uint64(f))
}

func (f FeeTier) String() string {
	return strconv.FormatUint(uint64(f), 10)
}

// TradeRequest is the caller-supplied intent for one attempt. Amounts are raw
// integers in the smallest unit of their asset.
type TradeRequest struct {
	TradeID             TradeID
	TradeAsset          *asset.Asset
	Principal           *big.Int // base asset
	MinAcceptableOutput *big.Int // trade asset, floor for the buy leg

	LoanFeeTier FeeTier
	BuyFeeTier  FeeTier
	SellFeeTier FeeTier

	BuyVenue  common.Address
	SellVenue common.Address

	// sqrtPriceX96 bounds; zero means no limit.
	PriceLimitBuy  *big.Int
	PriceLimitSell *big.Int

	// DeadlineOffset bounds both swap legs relative to the attempt start.
	DeadlineOffset time.Duration
}

// intOrZero returns v, or zero when v is nil.
func intOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
