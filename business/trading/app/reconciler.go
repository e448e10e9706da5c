package app

import (
	"context"
	"time"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/logger"
)

// Recovery outcomes.
const (
	OutcomeRolledBack    = "rolled_back"
	OutcomeIndeterminate = "indeterminate"
)

// Reconciler closes attempts that stopped without a terminal record, e.g.
// because the process died inside the loan bracket.
type Reconciler struct {
	events EventLog
	logger logger.LoggerInterface
	now    func() time.Time
}

// NewReconciler creates a reconciler over events.
func NewReconciler(events EventLog, log logger.LoggerInterface) *Reconciler {
	return &Reconciler{
		events: events,
		logger: log,
		now:    time.Now,
	}
}

// Reconcile appends a recovered record to every open attempt and returns how
// many it closed.
//
// A ledger unit is only committed after repayment, so an attempt whose last
// record precedes the sell leg was rolled back. An attempt that logged
// sell-succeeded may have died on either side of the commit and is marked
// indeterminate.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	open, err := r.events.OpenAttempts(ctx)
	if err != nil {
		return 0, apperror.New(apperror.CodeEventLogReadFailed, apperror.WithCause(err), apperror.WithContext("open attempts"))
	}

	closed := 0
	for _, last := range open {
		outcome := OutcomeRolledBack
		if last.Step == domain.StepSellSucceeded {
			outcome = OutcomeIndeterminate
		}

		rec := domain.StepRecord{
			TradeID:   last.TradeID,
			AttemptID: last.AttemptID,
			Seq:       last.Seq + 1,
			Step:      domain.StepRecovered,
			At:        r.now().UTC(),
			Payload: map[string]string{
				domain.DetailOutcome:  outcome,
				domain.DetailLastStep: string(last.Step),
			},
		}
		if err := r.events.Append(ctx, rec); err != nil {
			return closed, apperror.New(apperror.CodeEventLogWriteFailed, apperror.WithCause(err), apperror.WithContext(last.AttemptID))
		}
		closed++

		log := r.logger.Info
		if outcome == OutcomeIndeterminate {
			log = r.logger.Warn
		}
		log(ctx, "attempt recovered",
			"trade_id", last.TradeID,
			"attempt_id", last.AttemptID,
			"last_step", string(last.Step),
			"outcome", outcome,
		)
	}

	return closed, nil
}
