package app

import (
	"context"
	"time"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/logger"
)

// recorder numbers and appends the records of one attempt.
type recorder struct {
	events    EventLog
	logger    logger.LoggerInterface
	tradeID   domain.TradeID
	attemptID string
	now       func() time.Time
	seq       int
}

func newRecorder(events EventLog, log logger.LoggerInterface, tradeID domain.TradeID, attemptID string, now func() time.Time) *recorder {
	return &recorder{
		events:    events,
		logger:    log,
		tradeID:   tradeID,
		attemptID: attemptID,
		now:       now,
	}
}

func (r *recorder) emit(ctx context.Context, step domain.StepName, payload map[string]string) error {
	r.seq++
	rec := domain.StepRecord{
		TradeID:   r.tradeID,
		AttemptID: r.attemptID,
		Seq:       r.seq,
		Step:      step,
		At:        r.now().UTC(),
		Payload:   payload,
	}

	// Records must land even when the attempt's own context is done.
	if err := r.events.Append(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Errorc(ctx, 4, "append step record",
			"trade_id", r.tradeID,
			"attempt_id", r.attemptID,
			"step", string(step),
			"error", err,
		)
		if apperror.IsAppError(err) {
			return err
		}
		return apperror.New(apperror.CodeEventLogWriteFailed,
			apperror.WithCause(err),
			apperror.WithContext(string(step)))
	}

	r.logger.Debug(ctx, "step recorded",
		"trade_id", r.tradeID,
		"attempt_id", r.attemptID,
		"seq", r.seq,
		"step", string(step),
	)
	return nil
}
