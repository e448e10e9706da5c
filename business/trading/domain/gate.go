package domain

import (
	"errors"

	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
)

// Decision is the profit gate outcome.
type Decision int

const (
	Abort Decision = iota
	Commit
)

func (d Decision) String() string {
	if d == Commit {
		return "commit"
	}
	return "abort"
}

// AmountOwed returns principal + fee. A sum that does not fit in a 256-bit
// word fails with ArithmeticOverflow instead of wrapping.
func AmountOwed(principal, fee asset.Amount) (asset.Amount, error) {
	owed, err := principal.CheckedAdd(fee)
	if err != nil {
		if errors.Is(err, asset.ErrOverflow) {
			return asset.Amount{}, apperror.New(apperror.CodeArithmeticOverflow,
				apperror.WithCause(err),
				apperror.WithContext("principal + fee"))
		}
		return asset.Amount{}, apperror.Wrap(err, apperror.CodeInternalError, "amount owed")
	}
	return owed, nil
}

// Decide commits only when proceeds strictly exceed what is owed. Break-even
// aborts.
func Decide(finalProceeds, amountOwed asset.Amount) Decision {
	if finalProceeds.Raw().Cmp(amountOwed.Raw()) <= 0 {
		return Abort
	}
	return Commit
}

// Unprofitable builds the error returned when the gate aborts.
func Unprofitable(finalProceeds, amountOwed asset.Amount) error {
	return apperror.New(apperror.CodeUnprofitableTrade,
		apperror.WithContext(finalProceeds.Raw().String()+" <= "+amountOwed.Raw().String()),
		apperror.WithDetail(DetailFinalProceeds, finalProceeds.Raw().String()),
		apperror.WithDetail(DetailAmountOwed, amountOwed.Raw().String()))
}
