// Package eventlog stores and fans out the step records trade attempts emit.
package eventlog

import (
	"fmt"

	"github.com/sugawarayuuta/sonnet"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
)

// terminalSteps lists the steps that close an attempt, for SQL filters.
var terminalSteps = []string{
	string(domain.StepCompleted),
	string(domain.StepRevertedForLoss),
	string(domain.StepBuyFailed),
	string(domain.StepSellFailed),
	string(domain.StepRejected),
	string(domain.StepAborted),
	string(domain.StepRecovered),
}

// Encode renders a record as JSON.
func Encode(rec domain.StepRecord) ([]byte, error) {
	b, err := sonnet.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

// Decode parses a JSON record.
func Decode(data []byte) (domain.StepRecord, error) {
	var rec domain.StepRecord
	if err := sonnet.Unmarshal(data, &rec); err != nil {
		return domain.StepRecord{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func encodePayload(p map[string]string) ([]byte, error) {
	if p == nil {
		p = map[string]string{}
	}
	return sonnet.Marshal(p)
}

func decodePayload(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var p map[string]string
	if err := sonnet.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if len(p) == 0 {
		return nil, nil
	}
	return p, nil
}

func writeFailed(op string, err error) error {
	return apperror.New(apperror.CodeEventLogWriteFailed, apperror.WithCause(err), apperror.WithContext(op))
}

func readFailed(op string, err error) error {
	return apperror.New(apperror.CodeEventLogReadFailed, apperror.WithCause(err), apperror.WithContext(op))
}

func checkRecord(rec domain.StepRecord) error {
	switch {
	case rec.AttemptID == "":
		return writeFailed("append", fmt.Errorf("record without attempt id"))
	case rec.Seq < 1:
		return writeFailed("append", fmt.Errorf("record seq %d out of range", rec.Seq))
	case rec.Step == "":
		return writeFailed("append", fmt.Errorf("record without step"))
	}
	return nil
}
