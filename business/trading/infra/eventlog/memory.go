package eventlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/app"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
)

var _ app.EventLog = (*Memory)(nil)

// Memory keeps records in process. Nothing survives a restart.
type Memory struct {
	mu      sync.RWMutex
	records []domain.StepRecord
	lastSeq map[string]int
	order   []string // attempt ids in first-seen order
}

// NewMemory creates an empty log.
func NewMemory() *Memory {
	return &Memory{lastSeq: make(map[string]int)}
}

// Append adds rec. Records of an attempt must arrive with increasing seq.
func (m *Memory) Append(ctx context.Context, rec domain.StepRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	last, seen := m.lastSeq[rec.AttemptID]
	if rec.Seq <= last {
		return writeFailed("append", fmt.Errorf("attempt %s: seq %d after %d", rec.AttemptID, rec.Seq, last))
	}
	if !seen {
		m.order = append(m.order, rec.AttemptID)
	}
	m.lastSeq[rec.AttemptID] = rec.Seq
	m.records = append(m.records, copyRecord(rec))
	return nil
}

// ByTrade returns the records of id in append order.
func (m *Memory) ByTrade(ctx context.Context, id domain.TradeID) ([]domain.StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.StepRecord
	for _, r := range m.records {
		if r.TradeID == id {
			out = append(out, copyRecord(r))
		}
	}
	return out, nil
}

// OpenAttempts returns the last record of every attempt without a terminal
// record, oldest attempt first.
func (m *Memory) OpenAttempts(ctx context.Context) ([]domain.StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	last := make(map[string]domain.StepRecord, len(m.order))
	for _, r := range m.records {
		last[r.AttemptID] = r
	}

	var out []domain.StepRecord
	for _, id := range m.order {
		if r := last[id]; !r.Step.Terminal() {
			out = append(out, copyRecord(r))
		}
	}
	return out, nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func copyRecord(r domain.StepRecord) domain.StepRecord {
	if r.Payload != nil {
		p := make(map[string]string, len(r.Payload))
		for k, v := range r.Payload {
			p[k] = v
		}
		r.Payload = p
	}
	return r
}
