package domain

import (
	"time"

	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
)

// State is the position of an attempt in its lifecycle.
type State int

const (
	StateReceived State = iota
	StateValidated
	StatePoolResolved
	StateBorrowed
	StateBought
	StateSold
	StateCommitted
	StateAborted
	StateRejected
)

var stateNames = [...]string{
	StateReceived:     "received",
	StateValidated:    "validated",
	StatePoolResolved: "pool_resolved",
	StateBorrowed:     "borrowed",
	StateBought:       "bought",
	StateSold:         "sold",
	StateCommitted:    "committed",
	StateAborted:      "aborted",
	StateRejected:     "rejected",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether the attempt is finished.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateAborted || s == StateRejected
}

// TradeContext is the working state of one attempt. It lives only for the
// duration of Execute and is never shared.
type TradeContext struct {
	Request   TradeRequest
	AttemptID string
	Started   time.Time
	Deadline  time.Time
	State     State

	Pool       PoolHandle
	Loan       Loan
	AmountOwed asset.Amount
	Buy        SwapLeg
	Sell       SwapLeg
	BoughtOut  asset.Amount
	Proceeds   asset.Amount

	// closed is set once a terminal record has been emitted.
	closed bool
}

// Advance moves the attempt forward.
func (tc *TradeContext) Advance(s State) {
	tc.State = s
}

// Close marks the terminal record as emitted.
func (tc *TradeContext) Close() {
	tc.closed = true
}

// Closed reports whether the terminal record was emitted.
func (tc *TradeContext) Closed() bool {
	return tc.closed
}

// TradeResult summarizes an attempt for the caller.
type TradeResult struct {
	TradeID       TradeID
	AttemptID     string
	State         State
	FinalProceeds asset.Amount
	AmountOwed    asset.Amount
	NetProfit     asset.Amount
}

// Result builds the caller-facing summary.
func (tc *TradeContext) Result() *TradeResult {
	res := &TradeResult{
		TradeID:       tc.Request.TradeID,
		AttemptID:     tc.AttemptID,
		State:         tc.State,
		FinalProceeds: tc.Proceeds,
		AmountOwed:    tc.AmountOwed,
	}
	if tc.State == StateCommitted {
		if profit, err := tc.Proceeds.Sub(tc.AmountOwed); err == nil {
			res.NetProfit = profit
		}
	}
	return res
}
