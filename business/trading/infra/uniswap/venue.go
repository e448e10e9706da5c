package uniswap

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/app"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/logger"
)

// LegQuoter prices one leg.
type LegQuoter interface {
	Quote(ctx context.Context, leg domain.SwapLeg) (*QuoteResult, error)
}

var _ app.Venue = (*QuotedVenue)(nil)

// QuotedVenue fills legs at the price a live QuoterV2 returns and settles
// them against pool inventory held on the workspace. Nothing is broadcast.
type QuotedVenue struct {
	name     string
	router   common.Address
	resolver app.PoolResolver
	quoter   LegQuoter
	logger   logger.LoggerInterface
	now      func() time.Time
}

// NewQuotedVenue creates a venue addressed by router.
func NewQuotedVenue(name string, router common.Address, resolver app.PoolResolver, quoter LegQuoter, log logger.LoggerInterface) *QuotedVenue {
	return &QuotedVenue{
		name:     name,
		router:   router,
		resolver: resolver,
		quoter:   quoter,
		logger:   log,
		now:      time.Now,
	}
}

// Name returns the venue label.
func (v *QuotedVenue) Name() string { return v.name }

// Router returns the address legs are routed to.
func (v *QuotedVenue) Router() common.Address { return v.router }

// Swap quotes leg, enforces its floor, then moves the input into the pool
// and the quoted output out of it.
func (v *QuotedVenue) Swap(ctx context.Context, ws app.Workspace, trader common.Address, leg domain.SwapLeg) (asset.Amount, error) {
	if err := ctx.Err(); err != nil {
		return asset.Amount{}, reject(apperror.CodeDeadlineExceeded, domain.ReasonDeadline, leg, err)
	}
	if !leg.Deadline.IsZero() && !v.now().Before(leg.Deadline) {
		return asset.Amount{}, reject(apperror.CodeDeadlineExceeded, domain.ReasonDeadline, leg, nil)
	}

	pool, err := v.resolver.Resolve(ctx, leg.Pool())
	if err != nil {
		return asset.Amount{}, reject(apperror.CodePoolNotFound, domain.ReasonNoPool, leg, err)
	}

	q, err := v.quoter.Quote(ctx, leg)
	if err != nil {
		return asset.Amount{}, err
	}
	if q.AmountOut.Sign() == 0 {
		return asset.Amount{}, reject(apperror.CodeInsufficientLiquidity, domain.ReasonZeroOutput, leg, nil)
	}
	if q.AmountOut.Cmp(leg.MinAmountOut.Raw()) < 0 {
		return asset.Amount{}, reject(apperror.CodeInsufficientLiquidity, domain.ReasonSlippage, leg,
			fmt.Errorf("quoted %s below floor %s", q.AmountOut, leg.MinAmountOut.Raw()))
	}

	paid := asset.NewAmount(leg.AssetOut(), q.AmountOut)
	if ws.Balance(pool.Address, leg.AssetOut()).Raw().Cmp(q.AmountOut) < 0 {
		return asset.Amount{}, reject(apperror.CodeInsufficientLiquidity, domain.ReasonEmptyReserves, leg, nil)
	}

	if err := ws.TransferFrom(v.router, trader, pool.Address, leg.AmountIn); err != nil {
		return asset.Amount{}, err
	}
	if err := ws.Transfer(pool.Address, trader, paid); err != nil {
		return asset.Amount{}, err
	}

	v.logger.Debug(ctx, "quoted swap filled",
		"venue", v.name,
		"leg", string(leg.Name),
		"pool", pool.Address.Hex(),
		"amount_in", leg.AmountIn.Raw().String(),
		"amount_out", q.AmountOut.String(),
		"sqrt_price_after", q.SqrtPriceX96After.String(),
	)
	return paid, nil
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
