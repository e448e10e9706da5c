package domain

import (
	"time"
)

// StepName labels an emitted observation.
type StepName string

const (
	StepInitiated       StepName = "initiated"
	StepBorrowed        StepName = "borrowed"
	StepBuySucceeded    StepName = "buy-succeeded"
	StepBuyFailed       StepName = "buy-failed"
	StepSellSucceeded   StepName = "sell-succeeded"
	StepSellFailed      StepName = "sell-failed"
	StepCompleted       StepName = "completed"
	StepRevertedForLoss StepName = "reverted-for-loss"

	// StepRejected closes an attempt refused before any funds moved.
	StepRejected StepName = "rejected"
	// StepAborted closes an attempt that failed after borrowing for a reason
	// other than a swap leg or the profit gate.
	StepAborted StepName = "aborted"
	// StepRecovered is appended by reconciliation for attempts that never
	// reached a terminal record.
	StepRecovered StepName = "recovered"
)

// Terminal reports whether no further records follow this step in an attempt.
func (s StepName) Terminal() bool {
	switch s {
	case StepCompleted, StepRevertedForLoss, StepBuyFailed, StepSellFailed,
		StepRejected, StepAborted, StepRecovered:
		return true
	}
	return false
}

// Payload keys. Amounts are raw base-10 integers.
const (
	DetailReason        = "reason"
	DetailCode          = "code"
	DetailLeg           = "leg"
	DetailPool          = "pool"
	DetailPrincipal     = "principal"
	DetailFee           = "fee"
	DetailAmountIn      = "amount_in"
	DetailAmountOut     = "amount_out"
	DetailFinalProceeds = "final_proceeds"
	DetailAmountOwed    = "amount_owed"
	DetailNetProfit     = "net_profit"
	DetailTradeAsset    = "trade_asset"
	DetailOutcome       = "outcome"
	DetailLastStep      = "last_step"
)

// StepRecord is one append-only entry of the event log.
type StepRecord struct {
	TradeID   TradeID           `json:"trade_id"`
	AttemptID string            `json:"attempt_id"`
	Seq       int               `json:"seq"`
	Step      StepName          `json:"step"`
	At        time.Time         `json:"at"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Get returns a payload value or "".
func (r StepRecord) Get(key string) string {
	if r.Payload == nil {
		return ""
	}
	return r.Payload[key]
}
