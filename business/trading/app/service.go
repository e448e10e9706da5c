package app

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/logger"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/ratelimit"
)

// TradeService is the externally visible surface of the engine. Every
// privileged operation is authorized before anything else happens.
type TradeService struct {
	coordinator *Coordinator
	policy      Policy
	reserve     Reserve
	events      EventLog
	limiter     *ratelimit.Limiter
	logger      logger.LoggerInterface
}

// NewTradeService creates the service. limiter may be nil to disable pacing.
func NewTradeService(
	coordinator *Coordinator,
	policy Policy,
	reserve Reserve,
	events EventLog,
	limiter *ratelimit.Limiter,
	log logger.LoggerInterface,
) *TradeService {
	return &TradeService{
		coordinator: coordinator,
		policy:      policy,
		reserve:     reserve,
		events:      events,
		limiter:     limiter,
		logger:      log,
	}
}

// Submit runs one trade attempt on behalf of caller.
func (s *TradeService) Submit(ctx context.Context, caller common.Address, req domain.TradeRequest) (*domain.TradeResult, error) {
	if err := s.authorize(ctx, caller, OpTrade); err != nil {
		return nil, err
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, apperror.New(apperror.CodeRateLimitExceeded,
				apperror.WithCause(err),
				apperror.WithContext(fmt.Sprintf("trade %s", req.TradeID)))
		}
	}

	return s.coordinator.Execute(ctx, req)
}

// Deposit moves amount of the base asset from caller into the reserve.
func (s *TradeService) Deposit(ctx context.Context, caller common.Address, amount asset.Amount) error {
	if err := s.authorize(ctx, caller, OpDeposit); err != nil {
		return err
	}
	if err := s.checkAmount(amount); err != nil {
		return err
	}

	if err := s.reserve.Deposit(ctx, caller, amount); err != nil {
		return err
	}

	s.logger.Info(ctx, "reserve deposit", "caller", caller.Hex(), "amount", amount.String())
	return nil
}

// Withdraw moves amount of the base asset from the reserve to caller.
func (s *TradeService) Withdraw(ctx context.Context, caller common.Address, amount asset.Amount) error {
	if err := s.authorize(ctx, caller, OpWithdraw); err != nil {
		return err
	}
	if err := s.checkAmount(amount); err != nil {
		return err
	}

	if err := s.reserve.Withdraw(ctx, caller, amount); err != nil {
		return err
	}

	s.logger.Info(ctx, "reserve withdrawal", "caller", caller.Hex(), "amount", amount.String())
	return nil
}

// Balance returns the reserve's base-asset holding. It is not restricted.
func (s *TradeService) Balance(ctx context.Context) asset.Amount {
	return s.reserve.Balance(ctx, s.coordinator.Base())
}

// Records returns every record logged under id, across attempts, in order.
func (s *TradeService) Records(ctx context.Context, id domain.TradeID) ([]domain.StepRecord, error) {
	recs, err := s.events.ByTrade(ctx, id)
	if err != nil {
		if apperror.IsAppError(err) {
			return nil, err
		}
		return nil, apperror.New(apperror.CodeEventLogReadFailed,
			apperror.WithCause(err),
			apperror.WithContext(id.String()))
	}
	return recs, nil
}

// Base returns the asset the reserve is denominated in.
func (s *TradeService) Base() *asset.Asset {
	return s.coordinator.Base()
}

func (s *TradeService) authorize(ctx context.Context, caller common.Address, op Operation) error {
	if s.policy.Allow(caller, op) {
		return nil
	}

	s.logger.Warn(ctx, "unauthorized caller", "caller", caller.Hex(), "operation", string(op))
	return apperror.New(apperror.CodeUnauthorized,
		apperror.WithContext(fmt.Sprintf("%s by %s", op, caller.Hex())))
}

func (s *TradeService) checkAmount(amount asset.Amount) error {
	base := s.coordinator.Base()
	if amount.Asset() == nil || !amount.Asset().Equals(base) {
		return apperror.New(apperror.CodeInvalidParameters,
			apperror.WithContext("amount must be in "+base.Symbol()),
			apperror.WithDetail(domain.DetailReason, "wrong_asset"))
	}
	if !amount.IsPositive() {
		return apperror.New(apperror.CodeInvalidParameters,
			apperror.WithContext("amount must be positive"),
			apperror.WithDetail(domain.DetailReason, "non_positive_amount"))
	}
	return nil
}
