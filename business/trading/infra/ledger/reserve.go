package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/app"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
)

var _ app.Reserve = (*Reserve)(nil)

// Reserve is the engine account's holding on the ledger.
type Reserve struct {
	ledger *Ledger
	engine common.Address
}

// NewReserve creates a reserve view over the engine account.
func NewReserve(l *Ledger, engine common.Address) *Reserve {
	return &Reserve{ledger: l, engine: engine}
}

// Balance returns the committed holding of a.
func (r *Reserve) Balance(ctx context.Context, a *asset.Asset) asset.Amount {
	return r.ledger.Balance(r.engine, a)
}

// Deposit moves amount from the depositor's wallet into the engine.
func (r *Reserve) Deposit(ctx context.Context, from common.Address, amount asset.Amount) error {
	return r.ledger.Atomic(ctx, func(tx *Tx) error {
		return tx.Transfer(from, r.engine, amount)
	})
}

// Withdraw moves amount from the engine to the recipient.
func (r *Reserve) Withdraw(ctx context.Context, to common.Address, amount asset.Amount) error {
	return r.ledger.Atomic(ctx, func(tx *Tx) error {
		if err := tx.Transfer(r.engine, to, amount); err != nil {
			if apperror.GetCode(err) == apperror.CodeInsufficientBalance {
				return apperror.New(apperror.CodeInsufficientReserve,
					apperror.WithCause(err),
					apperror.WithContext(amount.String()))
			}
			return err
		}
		return nil
	})
}
