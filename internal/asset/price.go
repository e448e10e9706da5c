package asset

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// PricePrecision is the number of decimals a Price rate carries.
const PricePrecision = 18

// ErrEmptyReserve is returned when the base side of a pool holds nothing.
var ErrEmptyReserve = errors.New("asset: empty base reserve")

// Price is the amount of quote paid for one whole unit of base, as a
// fixed-point integer with PricePrecision decimals.
type Price struct {
	rate  *big.Int
	base  *Asset
	quote *Asset
	at    time.Time
}

// PriceFromReserves is the marginal price of a constant-product pool holding
// reserveBase against reserveQuote, both in smallest units.
func PriceFromReserves(reserveBase, reserveQuote Amount, at time.Time) (Price, error) {
	if reserveBase.Asset() == nil || reserveQuote.Asset() == nil {
		return Price{}, ErrNilAsset
	}
	if reserveBase.IsZero() {
		return Price{}, ErrEmptyReserve
	}

	base, quote := reserveBase.Asset(), reserveQuote.Asset()
	exp := int64(PricePrecision) + int64(base.Decimals()) - int64(quote.Decimals())

	num := reserveQuote.Raw()
	den := reserveBase.Raw()
	if exp >= 0 {
		num.Mul(num, pow10(exp))
	} else {
		den.Mul(den, pow10(-exp))
	}
	return Price{rate: num.Quo(num, den), base: base, quote: quote, at: at}, nil
}

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

// Rate returns the price as a decimal.
func (p Price) Rate() decimal.Decimal {
	if p.rate == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(p.rate, -PricePrecision)
}

// RateRaw returns a copy of the fixed-point rate.
func (p Price) RateRaw() *big.Int {
	if p.rate == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(p.rate)
}

func (p Price) Base() *Asset  { return p.base }
func (p Price) Quote() *Asset { return p.quote }

// At is when the reserves behind the price were read.
func (p Price) At() time.Time { return p.at }

func (p Price) String() string {
	if p.base == nil || p.quote == nil {
		return p.Rate().String()
	}
	return fmt.Sprintf("%s %s/%s", p.Rate().String(), p.quote.Symbol(), p.base.Symbol())
}
