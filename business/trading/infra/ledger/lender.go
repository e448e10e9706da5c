package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/app"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/logger"
)

var _ app.LoanSource = (*FlashLender)(nil)

// FlashLender lends pool liquidity to the borrower for the span of one
// ledger unit. The fee follows the pool's tier: ceil(amount * fee / 1e6).
type FlashLender struct {
	ledger   *Ledger
	borrower common.Address
	logger   logger.LoggerInterface
}

// NewFlashLender creates a lender whose loans are delivered to borrower.
func NewFlashLender(l *Ledger, borrower common.Address, log logger.LoggerInterface) *FlashLender {
	return &FlashLender{
		ledger:   l,
		borrower: borrower,
		logger:   log,
	}
}

// Borrow opens the bracket, runs fn, and on success collects principal + fee
// back into the pool. Anything else rolls the whole unit back.
func (f *FlashLender) Borrow(ctx context.Context, pool domain.PoolHandle, amount asset.Amount, fn app.BracketFunc) error {
	if !pool.Identity.Contains(amount.Asset().ID()) {
		return apperror.New(apperror.CodeLoanFailed,
			apperror.WithContext(fmt.Sprintf("pool %s does not hold %s", pool.Identity, amount.Asset().Symbol())))
	}

	loan := domain.Loan{
		Pool:      pool,
		Principal: amount,
		Fee:       asset.NewAmount(amount.Asset(), domain.FlashFee(amount.Raw(), pool.Identity.Fee)),
	}

	return f.ledger.Atomic(ctx, func(tx *Tx) error {
		if err := tx.Transfer(pool.Address, f.borrower, loan.Principal); err != nil {
			return apperror.New(apperror.CodeLoanFailed,
				apperror.WithCause(err),
				apperror.WithContext(pool.Address.Hex()))
		}

		if err := fn(ctx, tx, loan); err != nil {
			return err
		}

		owed, err := domain.AmountOwed(loan.Principal, loan.Fee)
		if err != nil {
			return err
		}

		if err := tx.Transfer(f.borrower, pool.Address, owed); err != nil {
			return apperror.New(apperror.CodeLoanNotRepaid,
				apperror.WithCause(err),
				apperror.WithContext(fmt.Sprintf("owed %s to %s", owed, pool.Address.Hex())))
		}

		f.logger.Debug(ctx, "flash loan repaid",
			"pool", pool.Address.Hex(),
			"principal", loan.Principal.Raw().String(),
			"fee", loan.Fee.Raw().String(),
		)
		return nil
	})
}
