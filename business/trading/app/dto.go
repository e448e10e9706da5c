package app

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sugawarayuuta/sonnet"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
)

// RequestDTO is the JSON form of a trade request. Principal and MinOutput are
// decimal strings in display units; price limits are raw sqrtPriceX96 values.
type RequestDTO struct {
	TradeID        uint64 `json:"trade_id"`
	TradeAsset     string `json:"trade_asset"`
	Principal      string `json:"principal"`
	MinOutput      string `json:"min_output,omitempty"`
	LoanFee        uint32 `json:"loan_fee"`
	BuyFee         uint32 `json:"buy_fee"`
	SellFee        uint32 `json:"sell_fee"`
	BuyVenue       string `json:"buy_venue"`
	SellVenue      string `json:"sell_venue"`
	PriceLimitBuy  string `json:"price_limit_buy,omitempty"`
	PriceLimitSell string `json:"price_limit_sell,omitempty"`
	Deadline       string `json:"deadline,omitempty"`
}

// DecodeRequest parses one JSON request.
func DecodeRequest(data []byte) (RequestDTO, error) {
	var dto RequestDTO
	if err := sonnet.Unmarshal(data, &dto); err != nil {
		return RequestDTO{}, apperror.New(apperror.CodeInvalidFormat, apperror.WithCause(err), apperror.WithContext("trade request"))
	}
	return dto, nil
}

// ToRequest resolves symbols against the registry and converts amounts to
// raw units. Semantic checks are left to the coordinator.
func (d RequestDTO) ToRequest(registry *asset.Registry, base *asset.Asset) (domain.TradeRequest, error) {
	tradeAsset, err := lookupAsset(registry, base.ChainID(), d.TradeAsset)
	if err != nil {
		return domain.TradeRequest{}, err
	}

	principal, err := asset.ParseString(base, d.Principal)
	if err != nil {
		return domain.TradeRequest{}, formatError("principal", err)
	}

	minOut := new(big.Int)
	if d.MinOutput != "" && tradeAsset != nil {
		amt, err := asset.ParseString(tradeAsset, d.MinOutput)
		if err != nil {
			return domain.TradeRequest{}, formatError("min_output", err)
		}
		minOut = amt.Raw()
	}

	limitBuy, err := parseRaw("price_limit_buy", d.PriceLimitBuy)
	if err != nil {
		return domain.TradeRequest{}, err
	}
	limitSell, err := parseRaw("price_limit_sell", d.PriceLimitSell)
	if err != nil {
		return domain.TradeRequest{}, err
	}

	var deadline time.Duration
	if d.Deadline != "" {
		deadline, err = time.ParseDuration(d.Deadline)
		if err != nil {
			return domain.TradeRequest{}, formatError("deadline", err)
		}
	}

	buyVenue, err := parseAddress("buy_venue", d.BuyVenue)
	if err != nil {
		return domain.TradeRequest{}, err
	}
	sellVenue, err := parseAddress("sell_venue", d.SellVenue)
	if err != nil {
		return domain.TradeRequest{}, err
	}

	return domain.TradeRequest{
		TradeID:             domain.TradeID(d.TradeID),
		TradeAsset:          tradeAsset,
		Principal:           principal.Raw(),
		MinAcceptableOutput: minOut,
		LoanFeeTier:         domain.FeeTier(d.LoanFee),
		BuyFeeTier:          domain.FeeTier(d.BuyFee),
		SellFeeTier:         domain.FeeTier(d.SellFee),
		BuyVenue:            buyVenue,
		SellVenue:           sellVenue,
		PriceLimitBuy:       limitBuy,
		PriceLimitSell:      limitSell,
		DeadlineOffset:      deadline,
	}, nil
}

// lookupAsset accepts a symbol or a token address. An empty value yields a
// nil asset so the coordinator can reject it with the proper reason.
func lookupAsset(registry *asset.Registry, chainID uint64, s string) (*asset.Asset, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if common.IsHexAddress(s) {
		if a, ok := registry.GetToken(chainID, common.HexToAddress(s)); ok {
			return a, nil
		}
	} else if a, ok := registry.GetBySymbolAndChain(strings.ToUpper(s), chainID); ok {
		return a, nil
	}
	return nil, apperror.New(apperror.CodeInvalidParameters,
		apperror.WithContext("unknown trade asset "+s),
		apperror.WithDetail(domain.DetailReason, "unknown_asset"))
}

func parseRaw(field, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, formatError(field, fmt.Errorf("not a base-10 integer: %q", s))
	}
	return v, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, formatError(field, fmt.Errorf("not an address: %q", s))
	}
	return common.HexToAddress(s), nil
}

func formatError(field string, err error) error {
	return apperror.New(apperror.CodeInvalidFormat, apperror.WithCause(err), apperror.WithContext(field))
}

// RecordDTO is the printable form of a step record.
type RecordDTO struct {
	TradeID   string            `json:"trade_id"`
	AttemptID string            `json:"attempt_id"`
	Seq       int               `json:"seq"`
	Step      string            `json:"step"`
	At        string            `json:"at"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// NewRecordDTO converts a record for display.
func NewRecordDTO(rec domain.StepRecord) RecordDTO {
	return RecordDTO{
		TradeID:   rec.TradeID.String(),
		AttemptID: rec.AttemptID,
		Seq:       rec.Seq,
		Step:      string(rec.Step),
		At:        rec.At.Format(time.RFC3339Nano),
		Payload:   rec.Payload,
	}
}
