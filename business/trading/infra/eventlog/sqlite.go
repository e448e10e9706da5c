package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/app"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS step_records (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    trade_id   INTEGER NOT NULL,
    attempt_id TEXT    NOT NULL,
    seq        INTEGER NOT NULL,
    step       TEXT    NOT NULL,
    at         TEXT    NOT NULL,
    payload    TEXT    NOT NULL DEFAULT '{}',
    UNIQUE (attempt_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_step_records_trade ON step_records(trade_id, id);
`

var _ app.EventLog = (*SQLite)(nil)

// SQLite is a file backed log (pure Go driver, no cgo). Use ":memory:" for
// a throwaway database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single writer; also keeps ":memory:" on one connection
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: apply sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Append inserts rec unless the attempt already holds a record at or past rec.Seq.
func (s *SQLite) Append(ctx context.Context, rec domain.StepRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	payload, err := encodePayload(rec.Payload)
	if err != nil {
		return writeFailed("encode payload", err)
	}

	const query = `
INSERT INTO step_records (trade_id, attempt_id, seq, step, at, payload)
SELECT ?, ?, ?, ?, ?, ?
WHERE NOT EXISTS (SELECT 1 FROM step_records WHERE attempt_id = ? AND seq >= ?)`

	res, err := s.db.ExecContext(ctx, query,
		int64(rec.TradeID), rec.AttemptID, rec.Seq, string(rec.Step),
		rec.At.UTC().Format(time.RFC3339Nano), string(payload),
		rec.AttemptID, rec.Seq,
	)
	if err != nil {
		return writeFailed("insert record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return writeFailed("insert record", err)
	}
	if n == 0 {
		return writeFailed("append", fmt.Errorf("attempt %s: seq %d is not after the last record", rec.AttemptID, rec.Seq))
	}
	return nil
}

// ByTrade returns the records of id in append order.
func (s *SQLite) ByTrade(ctx context.Context, id domain.TradeID) ([]domain.StepRecord, error) {
	const query = `
SELECT trade_id, attempt_id, seq, step, at, payload
FROM step_records WHERE trade_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, int64(id))
	if err != nil {
		return nil, readFailed("query records", err)
	}
	defer rows.Close()
	return scanSQLiteRows(rows)
}

// OpenAttempts returns the last record of every attempt without a terminal
// record, oldest attempt first.
func (s *SQLite) OpenAttempts(ctx context.Context) ([]domain.StepRecord, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(terminalSteps)), ",")
	query := `
SELECT r.trade_id, r.attempt_id, r.seq, r.step, r.at, r.payload
FROM step_records r
JOIN (SELECT attempt_id, MAX(seq) AS seq, MIN(id) AS first_id
      FROM step_records GROUP BY attempt_id) l
  ON r.attempt_id = l.attempt_id AND r.seq = l.seq
WHERE r.step NOT IN (` + placeholders + `)
ORDER BY l.first_id`

	args := make([]any, len(terminalSteps))
	for i, step := range terminalSteps {
		args[i] = step
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, readFailed("query open attempts", err)
	}
	defer rows.Close()
	return scanSQLiteRows(rows)
}

// Close releases the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func scanSQLiteRows(rows *sql.Rows) ([]domain.StepRecord, error) {
	var out []domain.StepRecord
	for rows.Next() {
		var (
			rec     domain.StepRecord
			tradeID int64
			step    string
			at      string
			payload string
		)
		if err := rows.Scan(&tradeID, &rec.AttemptID, &rec.Seq, &step, &at, &payload); err != nil {
			return nil, readFailed("scan record", err)
		}

		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, readFailed("parse record time", err)
		}
		p, err := decodePayload([]byte(payload))
		if err != nil {
			return nil, readFailed("decode payload", err)
		}

		rec.TradeID = domain.TradeID(tradeID)
		rec.Step = domain.StepName(step)
		rec.At = t
		rec.Payload = p
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, readFailed("iterate records", err)
	}
	return out, nil
}
