package amm

import (
	"context"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/app"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/infra/eventlog"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/infra/ledger"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/logger"
)

var (
	engine = common.HexToAddress("0x00000000000000000000000000000000000E6143")

	lenderFactory = common.HexToAddress("0x0000000000000000000000000000000000F00001")
	buyFactory    = common.HexToAddress("0x0000000000000000000000000000000000F00002")
	sellFactory   = common.HexToAddress("0x0000000000000000000000000000000000F00003")

	lenderRouter = common.HexToAddress("0x00000000000000000000000000000000000B0000")
	buyRouter    = common.HexToAddress("0x00000000000000000000000000000000000B0001")
	sellRouter   = common.HexToAddress("0x00000000000000000000000000000000000B0002")
)

const reserveUnit = 1_000_000_000

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelError, "test", nil)
}

func usdc(v int64) asset.Amount { return asset.NewAmountFromInt64(asset.USDC, v) }
func weth(v int64) asset.Amount { return asset.NewAmountFromInt64(asset.WETH, v) }

// market is a full paper setup: one lending pool and two venues that price
// WETH differently.
type market struct {
	ledger      *ledger.Ledger
	lender      *Exchange
	buy         *Exchange
	sell        *Exchange
	events      *eventlog.Memory
	coordinator *app.Coordinator
	loanPool    Pool
	buyPool     Pool
	sellPool    Pool
}

// newMarket lists a 1:1 USDC/WETH pool on the buy venue and a pool holding
// sellUSDC against 1e9 WETH on the sell venue.
func newMarket(t *testing.T, sellUSDC int64) *market {
	t.Helper()
	ctx := context.Background()
	log := testLogger()

	l, err := ledger.New(log)
	require.NoError(t, err)

	m := &market{
		ledger: l,
		lender: NewExchange("lender", lenderRouter, lenderFactory, l, log),
		buy:    NewExchange("cheap", buyRouter, buyFactory, l, log),
		sell:   NewExchange("rich", sellRouter, sellFactory, l, log),
		events: eventlog.NewMemory(),
	}

	m.loanPool, err = m.lender.AddPool(ctx, usdc(50*reserveUnit), weth(reserveUnit), domain.FeeTier030)
	require.NoError(t, err)
	m.buyPool, err = m.buy.AddPool(ctx, usdc(reserveUnit), weth(reserveUnit), domain.FeeTier005)
	require.NoError(t, err)
	m.sellPool, err = m.sell.AddPool(ctx, weth(reserveUnit), usdc(sellUSDC), domain.FeeTier030)
	require.NoError(t, err)

	m.coordinator, err = app.NewCoordinator(app.CoordinatorConfig{
		Engine:          engine,
		Base:            asset.USDC,
		DefaultDeadline: time.Minute,
	}, m.lender, ledger.NewFlashLender(l, engine, log), app.NewSwapRouter(m.buy, m.sell), m.events, log)
	require.NoError(t, err)
	return m
}

func (m *market) request() domain.TradeRequest {
	return domain.TradeRequest{
		TradeID:     domain.ComposeTradeID(3, time.Date(2026, 3, 1, 9, 15, 0, 0, time.UTC)),
		TradeAsset:  asset.WETH,
		Principal:   big.NewInt(1_000_000),
		LoanFeeTier: domain.FeeTier030,
		BuyFeeTier:  domain.FeeTier005,
		SellFeeTier: domain.FeeTier030,
		BuyVenue:    buyRouter,
		SellVenue:   sellRouter,
	}
}

func (m *market) balance(account common.Address, a *asset.Asset) int64 {
	return m.ledger.Balance(account, a).Raw().Int64()
}

func (m *market) steps(t *testing.T, id domain.TradeID) []domain.StepName {
	t.Helper()
	recs, err := m.events.ByTrade(context.Background(), id)
	require.NoError(t, err)
	out := make([]domain.StepName, len(recs))
	for i, r := range recs {
		out[i] = r.Step
	}
	return out
}

func TestAddPool_OrdersTokensAndDerivesAddress(t *testing.T) {
	m := newMarket(t, 2*reserveUnit)

	// USDC sorts before WETH regardless of argument order.
	assert.True(t, m.sellPool.Token0.Equals(asset.USDC))
	assert.True(t, m.sellPool.Token1.Equals(asset.WETH))

	id := domain.NewPoolIdentity(asset.IDEthereumWETH, asset.IDEthereumUSDC, domain.FeeTier030)
	assert.Equal(t, id.Address(sellFactory, domain.UniswapV3PoolInitCodeHash), m.sellPool.Handle.Address)
	assert.NotEqual(t, m.loanPool.Handle.Address, m.sellPool.Handle.Address)

	assert.Equal(t, int64(2*reserveUnit), m.balance(m.sellPool.Handle.Address, asset.USDC))
	assert.Len(t, m.sell.Pools(), 1)
}

func TestAddPool_RejectsFeeOutsideScale(t *testing.T) {
	l, err := ledger.New(testLogger())
	require.NoError(t, err)
	ex := NewExchange("bad", buyRouter, buyFactory, l, testLogger())

	for _, fee := range []domain.FeeTier{domain.FeeDenominator, 2_000_000} {
		_, err := ex.AddPool(context.Background(), usdc(reserveUnit), weth(reserveUnit), fee)
		require.Error(t, err, "fee %d", fee)
		assert.Equal(t, apperror.CodeInvalidParameters, apperror.GetCode(err))

		addr := domain.NewPoolIdentity(asset.IDEthereumUSDC, asset.IDEthereumWETH, fee).
			Address(buyFactory, domain.UniswapV3PoolInitCodeHash)
		assert.True(t, l.Balance(addr, asset.USDC).IsZero(), "nothing minted for fee %d", fee)
	}

	assert.Empty(t, ex.Pools())
}

func TestResolve(t *testing.T) {
	m := newMarket(t, 2*reserveUnit)
	ctx := context.Background()

	h, err := m.lender.Resolve(ctx, domain.NewPoolIdentity(asset.IDEthereumUSDC, asset.IDEthereumWETH, domain.FeeTier030))
	require.NoError(t, err)
	assert.Equal(t, m.loanPool.Handle.Address, h.Address)

	_, err = m.lender.Resolve(ctx, domain.NewPoolIdentity(asset.IDEthereumUSDC, asset.IDEthereumWETH, domain.FeeTier100))
	require.Error(t, err)
	assert.Equal(t, apperror.CodePoolNotFound, apperror.GetCode(err))
}

func TestSpotPrice(t *testing.T) {
	m := newMarket(t, 2*reserveUnit)

	p, err := m.buy.SpotPrice(context.Background(), m.buyPool.Handle.Identity)
	require.NoError(t, err)

	// 1 raw USDC buys 1 raw WETH: 1e-12 WETH per USDC in whole units.
	assert.Equal(t, "1000000", p.RateRaw().String())
	assert.True(t, p.Base().Equals(asset.USDC))
	assert.True(t, p.Quote().Equals(asset.WETH))
}

func TestGetAmountOut(t *testing.T) {
	tests := []struct {
		name       string
		in         int64
		reserveIn  int64
		reserveOut int64
		fee        domain.FeeTier
		want       int64
	}{
		{"fee 0.05%", 1_000_000, reserveUnit, reserveUnit, domain.FeeTier005, 998_501},
		{"fee 0.30% rich side", 998_501, reserveUnit, 2 * reserveUnit, domain.FeeTier030, 1_989_030},
		{"fee 0.30% flat", 998_501, reserveUnit, reserveUnit, domain.FeeTier030, 994_515},
		{"dust rounds to zero", 1, reserveUnit, 1, domain.FeeTier030, 0},
		{"fee takes the whole input", 1_000, 1_000_000, 1_000_000, domain.FeeDenominator, 0},
		{"fee above the scale pays nothing", 1_000, 1_000_000, 1_000_000, 2_000_000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetAmountOut(big.NewInt(tt.in), big.NewInt(tt.reserveIn), big.NewInt(tt.reserveOut), tt.fee)
			assert.Equal(t, tt.want, got.Int64())
		})
	}
}

func TestSqrtPriceX96(t *testing.T) {
	q96 := new(big.Int).Lsh(big.NewInt(1), 96)
	assert.Equal(t, q96.String(), SqrtPriceX96(big.NewInt(reserveUnit), big.NewInt(reserveUnit)).String())

	// 4x the token1 reserve doubles the square root price.
	double := new(big.Int).Lsh(q96, 1)
	assert.Equal(t, double.String(), SqrtPriceX96(big.NewInt(reserveUnit), big.NewInt(4*reserveUnit)).String())

	assert.Equal(t, 0, SqrtPriceX96(new(big.Int), big.NewInt(1)).Sign())
}

func TestCoordinator_CommitsAcrossVenues(t *testing.T) {
	m := newMarket(t, 2*reserveUnit)
	req := m.request()

	result, err := m.coordinator.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.StateCommitted, result.State)
	assert.Equal(t, int64(1_003_000), result.AmountOwed.Raw().Int64())
	assert.Equal(t, int64(1_989_030), result.FinalProceeds.Raw().Int64())
	assert.Equal(t, int64(986_030), result.NetProfit.Raw().Int64())

	assert.Equal(t, int64(986_030), m.balance(engine, asset.USDC))
	assert.Equal(t, int64(0), m.balance(engine, asset.WETH))
	assert.Equal(t, int64(50*reserveUnit+3_000), m.balance(m.loanPool.Handle.Address, asset.USDC))
	assert.Equal(t, int64(reserveUnit+1_000_000), m.balance(m.buyPool.Handle.Address, asset.USDC))
	assert.Equal(t, int64(reserveUnit-998_501), m.balance(m.buyPool.Handle.Address, asset.WETH))
	assert.Equal(t, int64(reserveUnit+998_501), m.balance(m.sellPool.Handle.Address, asset.WETH))
	assert.Equal(t, int64(2*reserveUnit-1_989_030), m.balance(m.sellPool.Handle.Address, asset.USDC))

	assert.Equal(t, []domain.StepName{
		domain.StepInitiated,
		domain.StepBorrowed,
		domain.StepBuySucceeded,
		domain.StepSellSucceeded,
		domain.StepCompleted,
	}, m.steps(t, req.TradeID))
}

// snapshot captures every balance the attempt can touch.
func (m *market) snapshot() map[string]int64 {
	out := make(map[string]int64)
	for _, acct := range []common.Address{engine, m.loanPool.Handle.Address, m.buyPool.Handle.Address, m.sellPool.Handle.Address} {
		for _, a := range []*asset.Asset{asset.USDC, asset.WETH} {
			out[acct.Hex()+"/"+a.Symbol()] = m.balance(acct, a)
		}
	}
	return out
}

func TestCoordinator_SellFloorRevertsEverything(t *testing.T) {
	// Both venues quote 1:1, so the round trip cannot repay the loan.
	m := newMarket(t, reserveUnit)
	req := m.request()
	before := m.snapshot()

	_, err := m.coordinator.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, apperror.CodeSwapFailed, apperror.GetCode(err))
	assert.Equal(t, string(domain.LegSell), apperror.GetDetail(err, domain.DetailLeg))
	assert.Equal(t, ReasonSlippage, apperror.GetDetail(err, domain.DetailReason))

	assert.Equal(t, before, m.snapshot())
	assert.Equal(t, []domain.StepName{
		domain.StepInitiated,
		domain.StepBorrowed,
		domain.StepBuySucceeded,
		domain.StepSellFailed,
	}, m.steps(t, req.TradeID))
}

func TestCoordinator_BuyPriceLimit(t *testing.T) {
	m := newMarket(t, 2*reserveUnit)
	req := m.request()
	// Buying WETH with USDC pushes the price down; a limit at the current
	// price cannot be honored.
	req.PriceLimitBuy = SqrtPriceX96(big.NewInt(reserveUnit), big.NewInt(reserveUnit))
	before := m.snapshot()

	_, err := m.coordinator.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, apperror.CodeSwapFailed, apperror.GetCode(err))
	assert.Equal(t, string(domain.LegBuy), apperror.GetDetail(err, domain.DetailLeg))
	assert.Equal(t, ReasonPriceLimit, apperror.GetDetail(err, domain.DetailReason))

	assert.Equal(t, before, m.snapshot())
	assert.Equal(t, []domain.StepName{
		domain.StepInitiated,
		domain.StepBorrowed,
		domain.StepBuyFailed,
	}, m.steps(t, req.TradeID))
}

func TestCoordinator_BuyMinOutputFloor(t *testing.T) {
	m := newMarket(t, 2*reserveUnit)
	req := m.request()
	req.MinAcceptableOutput = big.NewInt(998_502)

	_, err := m.coordinator.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, string(domain.LegBuy), apperror.GetDetail(err, domain.DetailLeg))
	assert.Equal(t, ReasonSlippage, apperror.GetDetail(err, domain.DetailReason))
	assert.Equal(t, int64(0), m.balance(engine, asset.USDC))
}

func TestCoordinator_MissingLoanPool(t *testing.T) {
	m := newMarket(t, 2*reserveUnit)
	req := m.request()
	req.LoanFeeTier = domain.FeeTier100

	_, err := m.coordinator.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, apperror.CodePoolNotFound, apperror.GetCode(err))
	assert.Equal(t, []domain.StepName{domain.StepRejected}, m.steps(t, req.TradeID))
}

func TestSwap_ExpiredDeadline(t *testing.T) {
	m := newMarket(t, 2*reserveUnit)
	ctx := context.Background()

	leg := domain.SwapLeg{
		Name:         domain.LegBuy,
		Venue:        buyRouter,
		Fee:          domain.FeeTier005,
		AmountIn:     usdc(1_000),
		MinAmountOut: weth(0),
		Deadline:     time.Now().Add(-time.Second),
	}

	err := m.ledger.Atomic(ctx, func(tx *ledger.Tx) error {
		_, err := m.buy.Swap(ctx, tx, engine, leg)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeDeadlineExceeded, apperror.GetCode(err))
	assert.Equal(t, ReasonDeadline, apperror.GetDetail(err, domain.DetailReason))
}

func TestSwap_RequiresAllowance(t *testing.T) {
	m := newMarket(t, 2*reserveUnit)
	ctx := context.Background()
	require.NoError(t, m.ledger.Mint(ctx, engine, usdc(1_000)))

	leg := domain.SwapLeg{
		Name:         domain.LegBuy,
		Venue:        buyRouter,
		Fee:          domain.FeeTier005,
		AmountIn:     usdc(1_000),
		MinAmountOut: weth(0),
	}

	err := m.ledger.Atomic(ctx, func(tx *ledger.Tx) error {
		_, err := m.buy.Swap(ctx, tx, engine, leg)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeInsufficientAllowance, apperror.GetCode(err))
	assert.Equal(t, int64(1_000), m.balance(engine, asset.USDC))
}
