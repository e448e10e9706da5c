package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apm"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/logger"
)

const (
	tracerName = "trading.coordinator"
	meterName  = "trading"
)

// CoordinatorConfig holds the fixed parameters of the engine.
type CoordinatorConfig struct {
	// Engine is the account that receives loans and trades.
	Engine common.Address
	// Base is the asset every principal is denominated in.
	Base *asset.Asset
	// DefaultDeadline applies when a request carries no deadline offset.
	DefaultDeadline time.Duration
}

type coordinatorMetrics struct {
	attempts metric.Int64Counter
	outcomes metric.Int64Counter
	latency  metric.Float64Histogram
}

// Coordinator runs one trade attempt end to end: validate, resolve the loan
// pool, borrow, buy, sell, and either repay or abort the whole attempt.
type Coordinator struct {
	cfg      CoordinatorConfig
	resolver PoolResolver
	lender   LoanSource
	swaps    SwapExecutor
	events   EventLog

	logger  logger.LoggerInterface
	tracer  apm.Tracer
	metrics *coordinatorMetrics

	now       func() time.Time
	attemptID func() string
}

// NewCoordinator wires a coordinator.
func NewCoordinator(
	cfg CoordinatorConfig,
	resolver PoolResolver,
	lender LoanSource,
	swaps SwapExecutor,
	events EventLog,
	log logger.LoggerInterface,
) (*Coordinator, error) {
	if cfg.Base == nil {
		return nil, apperror.New(apperror.CodeConfigurationError, apperror.WithContext("base asset is required"))
	}
	if cfg.DefaultDeadline <= 0 {
		cfg.DefaultDeadline = 2 * time.Minute
	}

	c := &Coordinator{
		cfg:       cfg,
		resolver:  resolver,
		lender:    lender,
		swaps:     swaps,
		events:    events,
		logger:    log,
		tracer:    apm.NewTracer(tracerName),
		now:       time.Now,
		attemptID: func() string { return uuid.NewString() },
	}

	if err := c.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return c, nil
}

func (c *Coordinator) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	c.metrics = &coordinatorMetrics{}

	c.metrics.attempts, err = meter.Int64Counter(
		"trade_attempts_total",
		metric.WithDescription("Trade attempts received"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return err
	}

	c.metrics.outcomes, err = meter.Int64Counter(
		"trade_outcomes_total",
		metric.WithDescription("Trade attempts by terminal state"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return err
	}

	c.metrics.latency, err = meter.Float64Histogram(
		"trade_attempt_latency_ms",
		metric.WithDescription("Trade attempt latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Base returns the base asset.
func (c *Coordinator) Base() *asset.Asset {
	return c.cfg.Base
}

// Execute runs one attempt. The returned result is always non-nil and
// carries the terminal state; the error explains any non-committed outcome.
func (c *Coordinator) Execute(ctx context.Context, req domain.TradeRequest) (*domain.TradeResult, error) {
	tc := &domain.TradeContext{
		Request:   req,
		AttemptID: c.attemptID(),
		Started:   c.now(),
		State:     domain.StateReceived,
	}

	ctx, span := c.tracer.StartSpanFromContext(ctx, "trade.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("trade_id", req.TradeID.String()),
		attribute.String("attempt_id", tc.AttemptID),
	)

	c.metrics.attempts.Add(ctx, 1)
	rec := newRecorder(c.events, c.logger, req.TradeID, tc.AttemptID, c.now)

	err := c.execute(ctx, tc, rec)

	c.metrics.latency.Record(ctx, float64(c.now().Sub(tc.Started).Milliseconds()))
	c.metrics.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("state", tc.State.String())))
	span.SetAttributes(attribute.String("state", tc.State.String()))

	if err != nil {
		span.NoticeError(err)
		c.logger.Info(ctx, "trade attempt finished",
			"trade_id", req.TradeID,
			"attempt_id", tc.AttemptID,
			"state", tc.State.String(),
			"code", apperror.GetCode(err),
			"error", err,
		)
		return tc.Result(), err
	}

	span.SetStatus(codes.Ok, "committed")
	result := tc.Result()
	c.logger.Info(ctx, "trade committed",
		"trade_id", req.TradeID,
		"attempt_id", tc.AttemptID,
		"final_proceeds", result.FinalProceeds.Raw().String(),
		"amount_owed", result.AmountOwed.Raw().String(),
		"net_profit", result.NetProfit.Raw().String(),
	)
	return result, nil
}

func (c *Coordinator) execute(ctx context.Context, tc *domain.TradeContext, rec *recorder) error {
	req := tc.Request

	if err := domain.Validate(req, c.cfg.Base); err != nil {
		tc.Advance(domain.StateRejected)
		c.reject(ctx, rec, err)
		return err
	}
	tc.Advance(domain.StateValidated)

	poolID := domain.NewPoolIdentity(c.cfg.Base.ID(), req.TradeAsset.ID(), req.LoanFeeTier)
	handle, err := c.resolver.Resolve(ctx, poolID)
	if err != nil {
		if apperror.GetCode(err) != apperror.CodePoolNotFound {
			err = apperror.New(apperror.CodePoolNotFound,
				apperror.WithCause(err),
				apperror.WithContext(poolID.String()),
				apperror.WithDetail(domain.DetailReason, "pool_lookup_failed"))
		}
		tc.Advance(domain.StateRejected)
		c.reject(ctx, rec, err)
		return err
	}
	tc.Pool = handle
	tc.Advance(domain.StatePoolResolved)

	offset := req.DeadlineOffset
	if offset <= 0 {
		offset = c.cfg.DefaultDeadline
	}
	tc.Deadline = tc.Started.Add(offset)

	principal := asset.NewAmount(c.cfg.Base, req.Principal)

	if err := rec.emit(ctx, domain.StepInitiated, map[string]string{
		domain.DetailPool:       handle.Address.Hex(),
		domain.DetailPrincipal:  principal.Raw().String(),
		domain.DetailTradeAsset: req.TradeAsset.Symbol(),
	}); err != nil {
		tc.Advance(domain.StateRejected)
		return err
	}

	err = c.lender.Borrow(ctx, handle, principal, func(ctx context.Context, ws Workspace, loan domain.Loan) error {
		return c.bracket(ctx, ws, loan, tc, rec)
	})
	if err != nil {
		tc.Advance(domain.StateAborted)
		if !tc.Closed() {
			c.abort(ctx, rec, err)
		}
		return err
	}

	tc.Advance(domain.StateCommitted)
	res := tc.Result()
	if err := rec.emit(ctx, domain.StepCompleted, map[string]string{
		domain.DetailFinalProceeds: res.FinalProceeds.Raw().String(),
		domain.DetailAmountOwed:    res.AmountOwed.Raw().String(),
		domain.DetailNetProfit:     res.NetProfit.Raw().String(),
	}); err != nil {
		c.logger.Error(ctx, "committed trade missing completion record",
			"trade_id", tc.Request.TradeID,
			"attempt_id", tc.AttemptID,
			"error", err,
			"details", apperror.LogFields(err),
		)
	}
	return nil
}

// bracket runs inside the loan. Returning an error closes the loan unrepaid
// and undoes every effect of the attempt.
func (c *Coordinator) bracket(ctx context.Context, ws Workspace, loan domain.Loan, tc *domain.TradeContext, rec *recorder) error {
	req := tc.Request
	tc.Loan = loan
	tc.Advance(domain.StateBorrowed)

	if err := rec.emit(ctx, domain.StepBorrowed, map[string]string{
		domain.DetailPool:      loan.Pool.Address.Hex(),
		domain.DetailPrincipal: loan.Principal.Raw().String(),
		domain.DetailFee:       loan.Fee.Raw().String(),
	}); err != nil {
		return err
	}

	owed, err := domain.AmountOwed(loan.Principal, loan.Fee)
	if err != nil {
		return err
	}
	tc.AmountOwed = owed

	tc.Buy = domain.SwapLeg{
		Name:         domain.LegBuy,
		Venue:        req.BuyVenue,
		Fee:          req.BuyFeeTier,
		AmountIn:     loan.Principal,
		MinAmountOut: asset.NewAmount(req.TradeAsset, orZero(req.MinAcceptableOutput)),
		PriceLimit:   orZero(req.PriceLimitBuy),
		Deadline:     tc.Deadline,
	}
	bought, err := c.runLeg(ctx, ws, tc.Buy)
	if err != nil {
		return c.legFailed(ctx, rec, tc, domain.StepBuyFailed, tc.Buy, err)
	}
	tc.BoughtOut = bought
	tc.Advance(domain.StateBought)

	if err := rec.emit(ctx, domain.StepBuySucceeded, map[string]string{
		domain.DetailAmountIn:  tc.Buy.AmountIn.Raw().String(),
		domain.DetailAmountOut: bought.Raw().String(),
	}); err != nil {
		return err
	}

	tc.Sell = domain.SwapLeg{
		Name:         domain.LegSell,
		Venue:        req.SellVenue,
		Fee:          req.SellFeeTier,
		AmountIn:     bought,
		MinAmountOut: owed,
		PriceLimit:   orZero(req.PriceLimitSell),
		Deadline:     tc.Deadline,
	}
	proceeds, err := c.runLeg(ctx, ws, tc.Sell)
	if err != nil {
		return c.legFailed(ctx, rec, tc, domain.StepSellFailed, tc.Sell, err)
	}
	tc.Proceeds = proceeds
	tc.Advance(domain.StateSold)

	if err := rec.emit(ctx, domain.StepSellSucceeded, map[string]string{
		domain.DetailAmountIn:  tc.Sell.AmountIn.Raw().String(),
		domain.DetailAmountOut: proceeds.Raw().String(),
	}); err != nil {
		return err
	}

	if domain.Decide(proceeds, owed) == domain.Abort {
		tc.Close()
		_ = rec.emit(ctx, domain.StepRevertedForLoss, map[string]string{
			domain.DetailFinalProceeds: proceeds.Raw().String(),
			domain.DetailAmountOwed:    owed.Raw().String(),
		})
		return domain.Unprofitable(proceeds, owed)
	}

	if err := ctx.Err(); err != nil {
		return apperror.New(apperror.CodeTradeAborted, apperror.WithCause(err), apperror.WithContext("cancelled before repayment"))
	}
	return nil
}

// runLeg approves exactly AmountIn to the venue and clears the allowance
// afterwards whatever the outcome.
func (c *Coordinator) runLeg(ctx context.Context, ws Workspace, leg domain.SwapLeg) (asset.Amount, error) {
	ctx, span := c.tracer.StartSpanFromContext(ctx, "trade.swap."+string(leg.Name))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return asset.Amount{}, err
	}

	if err := ws.Approve(c.cfg.Engine, leg.Venue, leg.AmountIn); err != nil {
		return asset.Amount{}, err
	}
	defer func() {
		_ = ws.Approve(c.cfg.Engine, leg.Venue, asset.Zero(leg.AssetIn()))
	}()

	out, err := c.swaps.Swap(ctx, ws, c.cfg.Engine, leg)
	if err != nil {
		span.NoticeError(err)
		return asset.Amount{}, err
	}
	if !out.Asset().Equals(leg.AssetOut()) {
		return asset.Amount{}, apperror.New(apperror.CodeInvalidQuote,
			apperror.WithContext(fmt.Sprintf("venue paid %s, expected %s", out.Asset(), leg.AssetOut())),
			apperror.WithDetail(domain.DetailReason, "wrong_output_asset"))
	}

	span.SetAttributes(attribute.String("amount_out", out.Raw().String()))
	return out, nil
}

func (c *Coordinator) legFailed(ctx context.Context, rec *recorder, tc *domain.TradeContext, step domain.StepName, leg domain.SwapLeg, cause error) error {
	reason := failureReason(cause)
	tc.Close()
	_ = rec.emit(ctx, step, map[string]string{
		domain.DetailLeg:      string(leg.Name),
		domain.DetailReason:   reason,
		domain.DetailCode:     string(apperror.GetCode(cause)),
		domain.DetailAmountIn: leg.AmountIn.Raw().String(),
	})

	return apperror.New(apperror.CodeSwapFailed,
		apperror.WithCause(cause),
		apperror.WithContext(fmt.Sprintf("%s leg: %s", leg.Name, reason)),
		apperror.WithDetail(domain.DetailLeg, string(leg.Name)),
		apperror.WithDetail(domain.DetailReason, reason))
}

func (c *Coordinator) reject(ctx context.Context, rec *recorder, cause error) {
	_ = rec.emit(ctx, domain.StepRejected, map[string]string{
		domain.DetailCode:   string(apperror.GetCode(cause)),
		domain.DetailReason: failureReason(cause),
	})
}

func (c *Coordinator) abort(ctx context.Context, rec *recorder, cause error) {
	_ = rec.emit(ctx, domain.StepAborted, map[string]string{
		domain.DetailCode:   string(apperror.GetCode(cause)),
		domain.DetailReason: failureReason(cause),
	})
}

// failureReason prefers a structured reason, then the error code.
func failureReason(err error) string {
	if r := apperror.GetDetail(err, domain.DetailReason); r != "" {
		return r
	}
	if apperror.IsAppError(err) {
		return string(apperror.GetCode(err))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return err.Error()
}

// orZero treats an absent bound as zero.
func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
