// Package ledger implements the execution substrate: balances and allowances
// mutated only inside serialized, all-or-nothing units of work.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/app"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/logger"
)

const meterName = "ledger"

var _ app.Workspace = (*Tx)(nil)

type balanceKey struct {
	account common.Address
	asset   asset.AssetID
}

type allowanceKey struct {
	owner   common.Address
	spender common.Address
	asset   asset.AssetID
}

type ledgerMetrics struct {
	commits   metric.Int64Counter
	rollbacks metric.Int64Counter
}

// Ledger holds every balance and allowance. All mutations go through Atomic,
// which runs one unit at a time.
type Ledger struct {
	mu         sync.Mutex
	balances   map[balanceKey]*big.Int
	allowances map[allowanceKey]*big.Int

	logger  logger.LoggerInterface
	metrics *ledgerMetrics
}

// New creates an empty ledger.
func New(log logger.LoggerInterface) (*Ledger, error) {
	l := &Ledger{
		balances:   make(map[balanceKey]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		logger:     log,
	}

	if err := l.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return l, nil
}

func (l *Ledger) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	l.metrics = &ledgerMetrics{}

	l.metrics.commits, err = meter.Int64Counter(
		"ledger_units_committed_total",
		metric.WithDescription("Units of work committed"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return err
	}

	l.metrics.rollbacks, err = meter.Int64Counter(
		"ledger_units_rolled_back_total",
		metric.WithDescription("Units of work rolled back"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Atomic runs fn as one indivisible unit. If fn returns an error or panics,
// every write it made is undone before Atomic returns.
func (l *Ledger) Atomic(ctx context.Context, fn func(tx *Tx) error) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &Tx{ledger: l}

	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			l.metrics.rollbacks.Add(ctx, 1)
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		n := tx.rollback()
		l.metrics.rollbacks.Add(ctx, 1)
		l.logger.Debug(ctx, "ledger unit rolled back", "writes_undone", n, "error", err)
		return err
	}

	tx.journal = nil
	l.metrics.commits.Add(ctx, 1)
	return nil
}

// Balance reads a committed balance. It waits for any running unit.
func (l *Ledger) Balance(account common.Address, a *asset.Asset) asset.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return asset.NewAmount(a, l.balanceOf(account, a.ID()))
}

// Mint credits an account outside any trade. Used for seeding paper
// liquidity and wallets.
func (l *Ledger) Mint(ctx context.Context, account common.Address, amount asset.Amount) error {
	return l.Atomic(ctx, func(tx *Tx) error {
		return tx.credit(account, amount)
	})
}

func (l *Ledger) balanceOf(account common.Address, id asset.AssetID) *big.Int {
	if v, ok := l.balances[balanceKey{account, id}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (l *Ledger) allowanceOf(owner, spender common.Address, id asset.AssetID) *big.Int {
	if v, ok := l.allowances[allowanceKey{owner, spender, id}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Tx is the view of the ledger inside one unit of work.
type Tx struct {
	ledger  *Ledger
	journal []func()
}

// Balance returns the balance as seen inside the unit.
func (tx *Tx) Balance(account common.Address, a *asset.Asset) asset.Amount {
	return asset.NewAmount(a, tx.ledger.balanceOf(account, a.ID()))
}

// Transfer moves amount from one account to another.
func (tx *Tx) Transfer(from, to common.Address, amount asset.Amount) error {
	if err := tx.debit(from, amount); err != nil {
		return err
	}
	return tx.credit(to, amount)
}

// Approve sets the amount spender may pull from owner.
func (tx *Tx) Approve(owner, spender common.Address, amount asset.Amount) error {
	tx.setAllowance(allowanceKey{owner, spender, amount.Asset().ID()}, amount.Raw())
	return nil
}

// Allowance returns the amount spender may still pull from owner.
func (tx *Tx) Allowance(owner, spender common.Address, a *asset.Asset) asset.Amount {
	return asset.NewAmount(a, tx.ledger.allowanceOf(owner, spender, a.ID()))
}

// TransferFrom moves amount from owner to to on behalf of spender, consuming allowance.
func (tx *Tx) TransferFrom(spender, from, to common.Address, amount asset.Amount) error {
	id := amount.Asset().ID()
	allowed := tx.ledger.allowanceOf(from, spender, id)
	if allowed.Cmp(amount.Raw()) < 0 {
		return apperror.New(apperror.CodeInsufficientAllowance,
			apperror.WithContext(fmt.Sprintf("%s allowed %s, needs %s", spender.Hex(), allowed, amount.Raw())))
	}

	tx.setAllowance(allowanceKey{from, spender, id}, new(big.Int).Sub(allowed, amount.Raw()))
	return tx.Transfer(from, to, amount)
}

func (tx *Tx) debit(account common.Address, amount asset.Amount) error {
	key := balanceKey{account, amount.Asset().ID()}
	current := tx.ledger.balanceOf(account, key.asset)
	if current.Cmp(amount.Raw()) < 0 {
		return apperror.New(apperror.CodeInsufficientBalance,
			apperror.WithContext(fmt.Sprintf("%s holds %s, needs %s", account.Hex(), asset.NewAmount(amount.Asset(), current), amount)))
	}
	tx.setBalance(key, current.Sub(current, amount.Raw()))
	return nil
}

func (tx *Tx) credit(account common.Address, amount asset.Amount) error {
	key := balanceKey{account, amount.Asset().ID()}
	next := tx.ledger.balanceOf(account, key.asset)
	next.Add(next, amount.Raw())
	if !asset.FitsUint256(next) {
		return apperror.New(apperror.CodeArithmeticOverflow,
			apperror.WithContext(fmt.Sprintf("balance of %s", account.Hex())))
	}
	tx.setBalance(key, next)
	return nil
}

func (tx *Tx) setBalance(key balanceKey, v *big.Int) {
	prev, existed := tx.ledger.balances[key]
	tx.journal = append(tx.journal, func() {
		if existed {
			tx.ledger.balances[key] = prev
		} else {
			delete(tx.ledger.balances, key)
		}
	})
	tx.ledger.balances[key] = v
}

func (tx *Tx) setAllowance(key allowanceKey, v *big.Int) {
	prev, existed := tx.ledger.allowances[key]
	tx.journal = append(tx.journal, func() {
		if existed {
			tx.ledger.allowances[key] = prev
		} else {
			delete(tx.ledger.allowances, key)
		}
	})
	if v.Sign() == 0 {
		delete(tx.ledger.allowances, key)
		return
	}
	tx.ledger.allowances[key] = v
}

// rollback undoes writes in reverse order and reports how many were undone.
func (tx *Tx) rollback() int {
	n := len(tx.journal)
	for i := n - 1; i >= 0; i-- {
		tx.journal[i]()
	}
	tx.journal = nil
	return n
}
