// Package amm implements an in-process constant-product exchange whose pool
// reserves are ledger balances. It backs paper trading and the coordinator
// tests with venues that enforce slippage floors, price limits and deadlines.
package amm

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/app"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/logger"
)

// Venue rejection reasons.
const (
	ReasonNoPool          = domain.ReasonNoPool
	ReasonSlippage        = domain.ReasonSlippage
	ReasonPriceLimit      = domain.ReasonPriceLimit
	ReasonZeroOutput      = domain.ReasonZeroOutput
	ReasonDeadline        = domain.ReasonDeadline
	ReasonEmptyReserves   = domain.ReasonEmptyReserves
	ReasonWrongInputAsset = domain.ReasonWrongInputAsset
)

// Ledger is the subset of the ledger the exchange needs outside a bracket.
type Ledger interface {
	Balance(account common.Address, a *asset.Asset) asset.Amount
	Mint(ctx context.Context, account common.Address, amount asset.Amount) error
}

// Pool is one listed pair.
type Pool struct {
	Handle domain.PoolHandle
	Token0 *asset.Asset
	Token1 *asset.Asset
}

// Exchange is a Uniswap V3 addressed, V2 priced venue. Pools live at their
// CREATE2 address under Factory.
type Exchange struct {
	name     string
	router   common.Address
	factory  common.Address
	initCode common.Hash

	ledger Ledger
	logger logger.LoggerInterface
	now    func() time.Time

	mu    sync.RWMutex
	pools map[string]Pool
}

var (
	_ app.Venue        = (*Exchange)(nil)
	_ app.PoolResolver = (*Exchange)(nil)
)

// NewExchange creates an exchange with no pools.
func NewExchange(name string, router, factory common.Address, l Ledger, log logger.LoggerInterface) *Exchange {
	return &Exchange{
		name:     name,
		router:   router,
		factory:  factory,
		initCode: domain.UniswapV3PoolInitCodeHash,
		ledger:   l,
		logger:   log,
		now:      time.Now,
		pools:    make(map[string]Pool),
	}
}

// Name returns the venue label.
func (e *Exchange) Name() string { return e.name }

// Router returns the address legs are routed to.
func (e *Exchange) Router() common.Address { return e.router }

// AddPool lists a pair and seeds its reserves on the ledger.
func (e *Exchange) AddPool(ctx context.Context, reserveA, reserveB asset.Amount, fee domain.FeeTier) (Pool, error) {
	a, b := reserveA.Asset(), reserveB.Asset()
	if a == nil || b == nil || a.Equals(b) {
		return Pool{}, apperror.New(apperror.CodeInvalidParameters, apperror.WithContext("pool needs two distinct assets"))
	}
	if !fee.Valid() {
		return Pool{}, apperror.New(apperror.CodeInvalidParameters,
			apperror.WithContext(fmt.Sprintf("fee tier %s must be below %d", fee, domain.FeeDenominator)))
	}

	id := domain.NewPoolIdentity(a.ID(), b.ID(), fee)
	p := Pool{
		Handle: domain.PoolHandle{Identity: id, Address: id.Address(e.factory, e.initCode)},
		Token0: a,
		Token1: b,
	}
	if !id.Token0.Equals(a.ID()) {
		p.Token0, p.Token1 = b, a
	}

	for _, r := range []asset.Amount{reserveA, reserveB} {
		if r.IsZero() {
			continue
		}
		if err := e.ledger.Mint(ctx, p.Handle.Address, r); err != nil {
			return Pool{}, err
		}
	}

	e.mu.Lock()
	e.pools[id.Key()] = p
	e.mu.Unlock()

	e.logger.Info(ctx, "pool listed",
		"venue", e.name,
		"pool", id.String(),
		"address", p.Handle.Address.Hex(),
		"reserve0", e.ledger.Balance(p.Handle.Address, p.Token0).String(),
		"reserve1", e.ledger.Balance(p.Handle.Address, p.Token1).String(),
	)
	return p, nil
}

// Pools returns the listed pools ordered by address.
func (e *Exchange) Pools() []Pool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Pool, 0, len(e.pools))
	for _, p := range e.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Handle.Address.Cmp(out[j].Handle.Address) < 0
	})
	return out
}

// Resolve returns the handle of a listed pool.
func (e *Exchange) Resolve(ctx context.Context, id domain.PoolIdentity) (domain.PoolHandle, error) {
	p, ok := e.pool(id)
	if !ok {
		return domain.PoolHandle{}, apperror.New(apperror.CodePoolNotFound,
			apperror.WithContext(fmt.Sprintf("%s on %s", id, e.name)))
	}
	return p.Handle, nil
}

// SpotPrice returns the current price of token0 in token1.
func (e *Exchange) SpotPrice(ctx context.Context, id domain.PoolIdentity) (asset.Price, error) {
	p, ok := e.pool(id)
	if !ok {
		return asset.Price{}, apperror.New(apperror.CodePoolNotFound, apperror.WithContext(id.String()))
	}

	price, err := asset.PriceFromReserves(
		e.ledger.Balance(p.Handle.Address, p.Token0),
		e.ledger.Balance(p.Handle.Address, p.Token1),
		e.now(),
	)
	if err != nil {
		return asset.Price{}, apperror.New(apperror.CodeInsufficientLiquidity,
			apperror.WithCause(err),
			apperror.WithContext(id.String()))
	}
	return price, nil
}

// Swap exchanges leg.AmountIn against the leg's pool. The router pulls the
// input under the trader's allowance and pays the output from the pool.
func (e *Exchange) Swap(ctx context.Context, ws app.Workspace, trader common.Address, leg domain.SwapLeg) (asset.Amount, error) {
	if err := ctx.Err(); err != nil {
		return asset.Amount{}, reject(apperror.CodeDeadlineExceeded, ReasonDeadline, leg, err)
	}
	if !leg.Deadline.IsZero() && !e.now().Before(leg.Deadline) {
		return asset.Amount{}, reject(apperror.CodeDeadlineExceeded, ReasonDeadline, leg, nil)
	}

	p, ok := e.pool(leg.Pool())
	if !ok {
		return asset.Amount{}, reject(apperror.CodePoolNotFound, ReasonNoPool, leg, nil)
	}

	in, out := p.Token0, p.Token1
	if !leg.ZeroForOne() {
		in, out = p.Token1, p.Token0
	}
	if !in.Equals(leg.AssetIn()) {
		return asset.Amount{}, reject(apperror.CodeInvalidParameters, ReasonWrongInputAsset, leg, nil)
	}

	reserveIn := ws.Balance(p.Handle.Address, in).Raw()
	reserveOut := ws.Balance(p.Handle.Address, out).Raw()
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return asset.Amount{}, reject(apperror.CodeInsufficientLiquidity, ReasonEmptyReserves, leg, nil)
	}

	amountOut := GetAmountOut(leg.AmountIn.Raw(), reserveIn, reserveOut, leg.Fee)
	if amountOut.Sign() == 0 {
		return asset.Amount{}, reject(apperror.CodeInsufficientLiquidity, ReasonZeroOutput, leg, nil)
	}
	if amountOut.Cmp(leg.MinAmountOut.Raw()) < 0 {
		return asset.Amount{}, reject(apperror.CodeInsufficientLiquidity, ReasonSlippage, leg,
			fmt.Errorf("out %s below floor %s", amountOut, leg.MinAmountOut.Raw()))
	}

	if leg.HasPriceLimit() {
		newIn := new(big.Int).Add(reserveIn, leg.AmountIn.Raw())
		newOut := new(big.Int).Sub(reserveOut, amountOut)
		var after *big.Int
		if leg.ZeroForOne() {
			after = SqrtPriceX96(newIn, newOut)
			if after.Cmp(leg.PriceLimit) < 0 {
				return asset.Amount{}, reject(apperror.CodeInsufficientLiquidity, ReasonPriceLimit, leg, nil)
			}
		} else {
			after = SqrtPriceX96(newOut, newIn)
			if after.Cmp(leg.PriceLimit) > 0 {
				return asset.Amount{}, reject(apperror.CodeInsufficientLiquidity, ReasonPriceLimit, leg, nil)
			}
		}
	}

	if err := ws.TransferFrom(e.router, trader, p.Handle.Address, leg.AmountIn); err != nil {
		return asset.Amount{}, err
	}
	paid := asset.NewAmount(out, amountOut)
	if err := ws.Transfer(p.Handle.Address, trader, paid); err != nil {
		return asset.Amount{}, err
	}

	e.logger.Debug(ctx, "swap filled",
		"venue", e.name,
		"leg", string(leg.Name),
		"pool", p.Handle.Address.Hex(),
		"amount_in", leg.AmountIn.Raw().String(),
		"amount_out", amountOut.String(),
	)
	return paid, nil
}

func (e *Exchange) pool(id domain.PoolIdentity) (Pool, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.pools[id.Key()]
	return p, ok
}

// GetAmountOut is the constant-product output for amountIn after the tier fee.
// A tier that takes the whole input yields nothing.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, fee domain.FeeTier) *big.Int {
	keep := new(big.Int).Sub(big.NewInt(domain.FeeDenominator), fee.Big())
	if keep.Sign() <= 0 {
		return new(big.Int)
	}
	inAfterFee := new(big.Int).Mul(amountIn, keep)
	num := new(big.Int).Mul(inAfterFee, reserveOut)
	den := new(big.Int).Mul(reserveIn, big.NewInt(domain.FeeDenominator))
	den.Add(den, inAfterFee)
	return num.Quo(num, den)
}

// SqrtPriceX96 returns sqrt(reserve1/reserve0) in Q64.96.
func SqrtPriceX96(reserve0, reserve1 *big.Int) *big.Int {
	if reserve0.Sign() == 0 {
		return new(big.Int)
	}
	ratio := new(big.Int).Lsh(reserve1, 192)
	ratio.Quo(ratio, reserve0)
	return ratio.Sqrt(ratio)
}

func reject(code apperror.Code, reason string, leg domain.SwapLeg, cause error) error {
	opts := []apperror.Option{
		apperror.WithContext(fmt.Sprintf("%s leg: %s", leg.Name, reason)),
		apperror.WithDetail(domain.DetailReason, reason),
	}
	if cause != nil {
		opts = append(opts, apperror.WithCause(cause))
	}
	return apperror.New(code, opts...)
}
