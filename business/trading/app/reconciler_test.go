package app

import (
	"context"
	"testing"
	"time"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
)

func TestReconciler_Reconcile(t *testing.T) {
	ctx := context.Background()
	events := &mockEventLog{}
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	seed := func(id domain.TradeID, attempt string, steps ...domain.StepName) {
		for i, s := range steps {
			_ = events.Append(ctx, domain.StepRecord{TradeID: id, AttemptID: attempt, Seq: i + 1, Step: s, At: at})
		}
	}
	seed(1, "a-done", domain.StepInitiated, domain.StepBorrowed, domain.StepBuySucceeded, domain.StepSellSucceeded, domain.StepCompleted)
	seed(2, "b-borrowed", domain.StepInitiated, domain.StepBorrowed)
	seed(3, "c-sold", domain.StepInitiated, domain.StepBorrowed, domain.StepBuySucceeded, domain.StepSellSucceeded)

	r := NewReconciler(events, &mockLogger{})
	r.now = func() time.Time { return at.Add(time.Minute) }

	n, err := r.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 attempts recovered, got %d", n)
	}

	tests := []struct {
		id       domain.TradeID
		seq      int
		outcome  string
		lastStep domain.StepName
	}{
		{2, 3, OutcomeRolledBack, domain.StepBorrowed},
		{3, 5, OutcomeIndeterminate, domain.StepSellSucceeded},
	}
	for _, tt := range tests {
		recs, _ := events.ByTrade(ctx, tt.id)
		last := recs[len(recs)-1]
		if last.Step != domain.StepRecovered {
			t.Errorf("trade %d: expected recovered, got %s", tt.id, last.Step)
		}
		if last.Seq != tt.seq {
			t.Errorf("trade %d: expected seq %d, got %d", tt.id, tt.seq, last.Seq)
		}
		if got := last.Get(domain.DetailOutcome); got != tt.outcome {
			t.Errorf("trade %d: expected outcome %s, got %s", tt.id, tt.outcome, got)
		}
		if got := last.Get(domain.DetailLastStep); got != string(tt.lastStep) {
			t.Errorf("trade %d: expected last_step %s, got %s", tt.id, tt.lastStep, got)
		}
	}

	n, err = r.Reconcile(ctx)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if n != 0 {
		t.Errorf("expected nothing left to recover, got %d", n)
	}
}
