package eventlog

import (
	"context"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/app"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/logger"
)

var _ app.EventLog = (*FanOut)(nil)

// FanOut stores records in a primary log and copies them to sinks. Only the
// primary can fail an append; sink errors are logged and dropped.
type FanOut struct {
	primary app.EventLog
	sinks   []app.RecordSink
	logger  logger.LoggerInterface
}

// NewFanOut wraps primary with best-effort sinks.
func NewFanOut(primary app.EventLog, log logger.LoggerInterface, sinks ...app.RecordSink) *FanOut {
	return &FanOut{
		primary: primary,
		sinks:   sinks,
		logger:  log,
	}
}

// Append writes to the primary log, then to every sink.
func (f *FanOut) Append(ctx context.Context, rec domain.StepRecord) error {
	if err := f.primary.Append(ctx, rec); err != nil {
		return err
	}

	for _, s := range f.sinks {
		if err := s.Publish(ctx, rec); err != nil {
			f.logger.Warn(ctx, "record sink publish failed",
				"trade_id", rec.TradeID,
				"attempt_id", rec.AttemptID,
				"step", string(rec.Step),
				"error", err,
			)
		}
	}
	return nil
}

// ByTrade reads from the primary log.
func (f *FanOut) ByTrade(ctx context.Context, id domain.TradeID) ([]domain.StepRecord, error) {
	return f.primary.ByTrade(ctx, id)
}

// OpenAttempts reads from the primary log.
func (f *FanOut) OpenAttempts(ctx context.Context) ([]domain.StepRecord, error) {
	return f.primary.OpenAttempts(ctx)
}
