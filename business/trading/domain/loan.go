package domain

import (
	"math/big"

	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
)

// Loan is the funding delivered into an open bracket.
type Loan struct {
	Pool      PoolHandle
	Principal asset.Amount
	Fee       asset.Amount
}

// FlashFee returns ceil(amount * fee / 1e6), the premium a pool charges for
// lending amount at the given tier.
func FlashFee(amount *big.Int, fee FeeTier) *big.Int {
	num := new(big.Int).Mul(amount, fee.Big())
	q, r := new(big.Int).QuoRem(num, big.NewInt(FeeDenominator), new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
