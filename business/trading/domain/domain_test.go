package domain_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
)

func validRequest() domain.TradeRequest {
	return domain.TradeRequest{
		TradeID:             42,
		TradeAsset:          asset.DAI,
		Principal:           big.NewInt(1000),
		MinAcceptableOutput: big.NewInt(1),
		LoanFeeTier:         domain.FeeTier030,
		BuyFeeTier:          domain.FeeTier005,
		SellFeeTier:         domain.FeeTier030,
		BuyVenue:            common.HexToAddress("0x01"),
		SellVenue:           common.HexToAddress("0x02"),
		DeadlineOffset:      time.Minute,
	}
}

func TestValidate(t *testing.T) {
	nullAsset := asset.NewAsset(asset.AssetID{}, "NULL", 18)

	tests := []struct {
		name   string
		mutate func(r *domain.TradeRequest)
		reason string
	}{
		{"valid", func(r *domain.TradeRequest) {}, ""},
		{"zero trade id", func(r *domain.TradeRequest) { r.TradeID = 0 }, domain.ReasonZeroTradeID},
		{"trade id wider than 48 bits", func(r *domain.TradeRequest) { r.TradeID = domain.MaxTradeID + 1 }, domain.ReasonTradeIDOverflow},
		{"trade asset equals base", func(r *domain.TradeRequest) { r.TradeAsset = asset.WETH }, domain.ReasonTradeAssetIsBase},
		{"nil trade asset", func(r *domain.TradeRequest) { r.TradeAsset = nil }, domain.ReasonNullTradeAsset},
		{"null trade asset", func(r *domain.TradeRequest) { r.TradeAsset = nullAsset }, domain.ReasonNullTradeAsset},
		{"zero principal", func(r *domain.TradeRequest) { r.Principal = big.NewInt(0) }, domain.ReasonNonPositivePrincipal},
		{"negative principal", func(r *domain.TradeRequest) { r.Principal = big.NewInt(-5) }, domain.ReasonNonPositivePrincipal},
		{"nil principal", func(r *domain.TradeRequest) { r.Principal = nil }, domain.ReasonNonPositivePrincipal},
		{"principal above 256 bits", func(r *domain.TradeRequest) {
			r.Principal = new(big.Int).Add(asset.MaxUint256, big.NewInt(1))
		}, domain.ReasonPrincipalOverflow},
		{"negative min output", func(r *domain.TradeRequest) { r.MinAcceptableOutput = big.NewInt(-1) }, domain.ReasonNegativeMinOutput},
		{"nil min output is allowed", func(r *domain.TradeRequest) { r.MinAcceptableOutput = nil }, ""},
		{"negative price limit", func(r *domain.TradeRequest) { r.PriceLimitSell = big.NewInt(-1) }, domain.ReasonNegativePriceLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			err := domain.Validate(req, asset.WETH)
			if tt.reason == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}

			if apperror.GetCode(err) != apperror.CodeInvalidParameters {
				t.Fatalf("expected INVALID_PARAMETERS, got %v", err)
			}
			if got := apperror.GetDetail(err, domain.DetailReason); got != tt.reason {
				t.Errorf("expected reason %q, got %q", tt.reason, got)
			}
		})
	}
}

func TestValidate_ZeroIDCheckedFirst(t *testing.T) {
	req := validRequest()
	req.TradeID = 0
	req.TradeAsset = asset.WETH
	req.Principal = big.NewInt(0)

	err := domain.Validate(req, asset.WETH)
	if got := apperror.GetDetail(err, domain.DetailReason); got != domain.ReasonZeroTradeID {
		t.Errorf("expected %q to win, got %q", domain.ReasonZeroTradeID, got)
	}
}

func TestNewPoolIdentity_OrderIndependent(t *testing.T) {
	tiers := []domain.FeeTier{domain.FeeTier001, domain.FeeTier005, domain.FeeTier030, domain.FeeTier100}

	for _, fee := range tiers {
		ab := domain.NewPoolIdentity(asset.IDEthereumWETH, asset.IDEthereumUSDC, fee)
		ba := domain.NewPoolIdentity(asset.IDEthereumUSDC, asset.IDEthereumWETH, fee)

		if ab != ba {
			t.Errorf("fee %d: identities differ: %v vs %v", fee, ab, ba)
		}
		if !ab.Token0.Equals(asset.IDEthereumUSDC) {
			t.Errorf("fee %d: expected USDC (lower address) as token0, got %v", fee, ab.Token0)
		}
	}
}

func TestPoolIdentity_Address(t *testing.T) {
	factory := common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")

	tests := []struct {
		name string
		fee  domain.FeeTier
		want common.Address
	}{
		{"USDC/WETH 0.05%", domain.FeeTier005, common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640")},
		{"USDC/WETH 0.30%", domain.FeeTier030, common.HexToAddress("0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := domain.NewPoolIdentity(asset.IDEthereumWETH, asset.IDEthereumUSDC, tt.fee)
			if got := id.Address(factory, domain.UniswapV3PoolInitCodeHash); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want.Hex(), got.Hex())
			}
		})
	}
}

func TestFlashFee(t *testing.T) {
	tests := []struct {
		amount int64
		fee    domain.FeeTier
		want   int64
	}{
		{1000, domain.FeeTier030, 3},
		{1001, domain.FeeTier030, 4}, // 3.003 rounds up
		{1, domain.FeeTier001, 1},
		{0, domain.FeeTier100, 0},
		{1_000_000, domain.FeeTier005, 500},
	}

	for _, tt := range tests {
		got := domain.FlashFee(big.NewInt(tt.amount), tt.fee)
		if got.Int64() != tt.want {
			t.Errorf("FlashFee(%d, %d) = %s, want %d", tt.amount, tt.fee, got, tt.want)
		}
	}
}

func TestFeeTier_Valid(t *testing.T) {
	for _, f := range []domain.FeeTier{0, domain.FeeTier001, domain.FeeTier100, domain.FeeDenominator - 1} {
		if !f.Valid() {
			t.Errorf("fee %d should be valid", f)
		}
	}
	for _, f := range []domain.FeeTier{domain.FeeDenominator, 2_000_000} {
		if f.Valid() {
			t.Errorf("fee %d should be rejected", f)
		}
	}
}

func TestDecide(t *testing.T) {
	owed := asset.NewAmountFromInt64(asset.WETH, 1003)

	tests := []struct {
		name     string
		proceeds int64
		want     domain.Decision
	}{
		{"profit commits", 1010, domain.Commit},
		{"loss aborts", 1002, domain.Abort},
		{"break-even aborts", 1003, domain.Abort},
		{"one unit over commits", 1004, domain.Commit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := domain.Decide(asset.NewAmountFromInt64(asset.WETH, tt.proceeds), owed)
			if got != tt.want {
				t.Errorf("Decide(%d, 1003) = %v, want %v", tt.proceeds, got, tt.want)
			}
		})
	}
}

func TestAmountOwed(t *testing.T) {
	owed, err := domain.AmountOwed(asset.NewAmountFromInt64(asset.WETH, 1000), asset.NewAmountFromInt64(asset.WETH, 3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if owed.Raw().Int64() != 1003 {
		t.Errorf("expected 1003, got %s", owed.Raw())
	}

	_, err = domain.AmountOwed(asset.NewAmount(asset.WETH, asset.MaxUint256), asset.NewAmountFromInt64(asset.WETH, 1))
	if apperror.GetCode(err) != apperror.CodeArithmeticOverflow {
		t.Errorf("expected ARITHMETIC_OVERFLOW, got %v", err)
	}
}

func TestTradeID_ComposeRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 15, 13, 47, 0, 0, time.UTC)
	id := domain.ComposeTradeID(7, at)

	if id == 0 || !id.Valid() {
		t.Fatalf("expected a non-zero 48-bit id, got %d", id)
	}

	tag, day, minute := id.Parts()
	if tag != 7 {
		t.Errorf("expected tag 7, got %d", tag)
	}
	if !day.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected 2024-03-15, got %s", day)
	}
	if minute != 13*60+47 {
		t.Errorf("expected minute %d, got %d", 13*60+47, minute)
	}

	parsed, err := domain.ParseTradeID(id.String())
	if err != nil || parsed != id {
		t.Errorf("ParseTradeID(%s) = %d, %v", id, parsed, err)
	}
}

func TestStepName_Terminal(t *testing.T) {
	open := []domain.StepName{domain.StepInitiated, domain.StepBorrowed, domain.StepBuySucceeded, domain.StepSellSucceeded}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}

	closed := []domain.StepName{domain.StepCompleted, domain.StepRevertedForLoss, domain.StepBuyFailed,
		domain.StepSellFailed, domain.StepRejected, domain.StepAborted, domain.StepRecovered}
	for _, s := range closed {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}
