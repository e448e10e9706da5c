package domain

import (
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
)

// Rejection reasons carried by InvalidParameters.
const (
	ReasonZeroTradeID          = "zero_trade_id"
	ReasonTradeIDOverflow      = "trade_id_overflow"
	ReasonTradeAssetIsBase     = "trade_asset_is_base"
	ReasonNullTradeAsset       = "null_trade_asset"
	ReasonNonPositivePrincipal = "non_positive_principal"
	ReasonPrincipalOverflow    = "principal_overflow"
	ReasonNegativeMinOutput    = "negative_min_output"
	ReasonNegativePriceLimit   = "negative_price_limit"
)

// Validate checks a request against the base asset. It has no side effects;
// a nil return means the request may proceed unchanged.
func Validate(req TradeRequest, base *asset.Asset) error {
	switch {
	case req.TradeID == 0:
		return invalid(ReasonZeroTradeID)
	case !req.TradeID.Valid():
		return invalid(ReasonTradeIDOverflow)
	case req.TradeAsset != nil && req.TradeAsset.Equals(base):
		return invalid(ReasonTradeAssetIsBase)
	case req.TradeAsset.IsNull():
		return invalid(ReasonNullTradeAsset)
	case req.Principal == nil || req.Principal.Sign() <= 0:
		return invalid(ReasonNonPositivePrincipal)
	case !asset.FitsUint256(req.Principal):
		return invalid(ReasonPrincipalOverflow)
	case intOrZero(req.MinAcceptableOutput).Sign() < 0:
		return invalid(ReasonNegativeMinOutput)
	case intOrZero(req.PriceLimitBuy).Sign() < 0, intOrZero(req.PriceLimitSell).Sign() < 0:
		return invalid(ReasonNegativePriceLimit)
	}
	return nil
}

func invalid(reason string) error {
	return apperror.New(apperror.CodeInvalidParameters,
		apperror.WithContext(reason),
		apperror.WithDetail(DetailReason, reason))
}
