// Package app contains the trade coordinator, the service façade and the
// port definitions its infrastructure implements.
package app

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
)

// Workspace is the set of asset movements available inside an open loan
// bracket. Every write made through it is undone if the bracket aborts.
type Workspace interface {
	Balance(account common.Address, a *asset.Asset) asset.Amount
	Transfer(from, to common.Address, amount asset.Amount) error
	Approve(owner, spender common.Address, amount asset.Amount) error
	Allowance(owner, spender common.Address, a *asset.Asset) asset.Amount
	TransferFrom(spender, from, to common.Address, amount asset.Amount) error
}

// BracketFunc runs inside the loan bracket. Returning nil asks the lender to
// collect repayment and commit; any error closes the bracket unrepaid.
type BracketFunc func(ctx context.Context, ws Workspace, loan domain.Loan) error

// LoanSource lends amount from a pool for the duration of fn.
type LoanSource interface {
	Borrow(ctx context.Context, pool domain.PoolHandle, amount asset.Amount, fn BracketFunc) error
}

// SwapExecutor performs one leg on behalf of trader.
type SwapExecutor interface {
	Swap(ctx context.Context, ws Workspace, trader common.Address, leg domain.SwapLeg) (asset.Amount, error)
}

// Venue is a single exchange addressed by its router address.
type Venue interface {
	SwapExecutor
	Router() common.Address
}

// PoolResolver confirms a pool exists and returns where its liquidity lives.
type PoolResolver interface {
	Resolve(ctx context.Context, id domain.PoolIdentity) (domain.PoolHandle, error)
}

// EventLog is the append-only record stream.
type EventLog interface {
	Append(ctx context.Context, rec domain.StepRecord) error
	ByTrade(ctx context.Context, id domain.TradeID) ([]domain.StepRecord, error)
	// OpenAttempts returns the last record of every attempt that has no
	// terminal record.
	OpenAttempts(ctx context.Context) ([]domain.StepRecord, error)
}

// RecordSink receives a copy of every record. Sinks are best effort.
type RecordSink interface {
	Publish(ctx context.Context, rec domain.StepRecord) error
}

// Reserve is the engine's own base-asset holding.
type Reserve interface {
	Balance(ctx context.Context, a *asset.Asset) asset.Amount
	Deposit(ctx context.Context, from common.Address, amount asset.Amount) error
	Withdraw(ctx context.Context, to common.Address, amount asset.Amount) error
}

// Operation names a privileged action.
type Operation string

const (
	OpTrade    Operation = "trade"
	OpDeposit  Operation = "deposit"
	OpWithdraw Operation = "withdraw"
)

// Policy decides whether caller may perform op. It must not have side effects.
type Policy interface {
	Allow(caller common.Address, op Operation) bool
}
