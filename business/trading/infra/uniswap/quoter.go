// Package uniswap connects the coordinator to Uniswap V3 deployments: pool
// discovery through the factory's CREATE2 addressing and leg pricing through
// the QuoterV2 contract.
package uniswap

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/circuitbreaker"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/logger"
)

const (
	tracerName = "uniswap"
	meterName  = "uniswap"
)

// ChainReader is the read-only node access the package needs.
type ChainReader interface {
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ ChainReader = (*ethclient.Client)(nil)

type quoterMetrics struct {
	quotesTotal  metric.Int64Counter
	quoteLatency metric.Float64Histogram
	quoteErrors  metric.Int64Counter
}

// Quoter prices single-pool exact-input swaps against QuoterV2.
type Quoter struct {
	client    ChainReader
	address   common.Address
	quoterABI abi.ABI

	logger logger.LoggerInterface
	cb     *circuitbreaker.CircuitBreaker[[]byte]

	tracer  trace.Tracer
	metrics *quoterMetrics
}

// NewQuoter creates a quoter bound to the QuoterV2 deployment at address.
func NewQuoter(client ChainReader, address common.Address, log logger.LoggerInterface) (*Quoter, error) {
	parsedABI, err := abi.JSON(strings.NewReader(quoterV2ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse quoter ABI: %w", err)
	}

	q := &Quoter{
		client:    client,
		address:   address,
		quoterABI: parsedABI,
		logger:    log,
		cb:        circuitbreaker.New[[]byte](circuitbreaker.DefaultConfig("uniswap-quoter")),
		tracer:    otel.Tracer(tracerName),
	}

	if err := q.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}
	return q, nil
}

func (q *Quoter) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	q.metrics = &quoterMetrics{}

	q.metrics.quotesTotal, err = meter.Int64Counter(
		"uniswap_quotes_total",
		metric.WithDescription("Total quote requests"),
	)
	if err != nil {
		return err
	}

	q.metrics.quoteLatency, err = meter.Float64Histogram(
		"uniswap_quote_latency_ms",
		metric.WithDescription("Quote request latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	q.metrics.quoteErrors, err = meter.Int64Counter(
		"uniswap_quote_errors_total",
		metric.WithDescription("Total quote errors"),
	)
	return err
}

// Quote returns what leg.AmountIn would buy in the leg's pool, honoring the
// leg's sqrtPriceX96 limit.
func (q *Quoter) Quote(ctx context.Context, leg domain.SwapLeg) (*QuoteResult, error) {
	ctx, span := q.tracer.Start(ctx, "uniswap.quote",
		trace.WithAttributes(
			attribute.String("leg", string(leg.Name)),
			attribute.String("token_in", leg.AssetIn().Address().Hex()),
			attribute.String("token_out", leg.AssetOut().Address().Hex()),
			attribute.String("amount_in", leg.AmountIn.Raw().String()),
			attribute.Int64("fee_tier", int64(leg.Fee)),
		),
	)
	defer span.End()

	start := time.Now()
	q.metrics.quotesTotal.Add(ctx, 1)

	res, err := q.call(ctx, leg)
	q.metrics.quoteLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		q.metrics.quoteErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "quote failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("amount_out", res.AmountOut.String()),
		attribute.Int64("gas_estimate", res.GasEstimate.Int64()),
	)
	span.SetStatus(codes.Ok, "quote received")

	q.logger.Debug(ctx, "uniswap quote",
		"leg", string(leg.Name),
		"amount_in", leg.AmountIn.Raw().String(),
		"amount_out", res.AmountOut.String(),
		"fee_tier", leg.Fee,
	)
	return res, nil
}

func (q *Quoter) call(ctx context.Context, leg domain.SwapLeg) (*QuoteResult, error) {
	limit := leg.PriceLimit
	if limit == nil {
		limit = new(big.Int)
	}

	callData, err := q.quoterABI.Pack(quoteMethod, QuoteParams{
		TokenIn:           leg.AssetIn().Address(),
		TokenOut:          leg.AssetOut().Address(),
		AmountIn:          leg.AmountIn.Raw(),
		Fee:               leg.Fee.Big(),
		SqrtPriceLimitX96: limit,
	})
	if err != nil {
		return nil, apperror.New(apperror.CodeUniswapQuoteFailed,
			apperror.WithCause(err),
			apperror.WithContext("encode quote call"),
			apperror.WithDetail(domain.DetailReason, domain.ReasonQuoteFailed))
	}

	raw, err := q.cb.Execute(func() ([]byte, error) {
		return q.client.CallContract(ctx, ethereum.CallMsg{
			To:   &q.address,
			Data: callData,
		}, nil)
	})
	if err != nil {
		return nil, apperror.New(apperror.CodeContractCallFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("quoter call failed for fee tier %d", leg.Fee)),
			apperror.WithDetail(domain.DetailReason, domain.ReasonQuoteFailed))
	}

	outputs, err := q.quoterABI.Unpack(quoteMethod, raw)
	if err != nil || len(outputs) < 4 {
		if err == nil {
			err = fmt.Errorf("unexpected output length: %d", len(outputs))
		}
		return nil, apperror.New(apperror.CodeInvalidQuote,
			apperror.WithCause(err),
			apperror.WithDetail(domain.DetailReason, domain.ReasonQuoteFailed))
	}

	return &QuoteResult{
		AmountOut:               outputs[0].(*big.Int),
		SqrtPriceX96After:       outputs[1].(*big.Int),
		InitializedTicksCrossed: outputs[2].(uint32),
		GasEstimate:             outputs[3].(*big.Int),
	}, nil
}
