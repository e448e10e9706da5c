package eventlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/app"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS step_records (
    id         BIGSERIAL PRIMARY KEY,
    trade_id   BIGINT      NOT NULL,
    attempt_id TEXT        NOT NULL,
    seq        INTEGER     NOT NULL,
    step       TEXT        NOT NULL,
    at         TIMESTAMPTZ NOT NULL,
    payload    JSONB       NOT NULL DEFAULT '{}'::jsonb,
    UNIQUE (attempt_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_step_records_trade ON step_records(trade_id, id);
`

var _ app.EventLog = (*Postgres)(nil)

// PostgresConfig holds connection parameters.
type PostgresConfig struct {
	DSN      string
	MaxConns int
	MinConns int
}

// Postgres stores records in a shared PostgreSQL database.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, pings and applies the schema.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("eventlog: parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("eventlog: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("eventlog: ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("eventlog: apply postgres schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Append inserts rec unless the attempt already holds a record at or past rec.Seq.
func (p *Postgres) Append(ctx context.Context, rec domain.StepRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	payload, err := encodePayload(rec.Payload)
	if err != nil {
		return writeFailed("encode payload", err)
	}

	const query = `
INSERT INTO step_records (trade_id, attempt_id, seq, step, at, payload)
SELECT $1::bigint, $2::text, $3::integer, $4::text, $5::timestamptz, $6::jsonb
WHERE NOT EXISTS (SELECT 1 FROM step_records WHERE attempt_id = $2 AND seq >= $3)`

	tag, err := p.pool.Exec(ctx, query,
		int64(rec.TradeID), rec.AttemptID, rec.Seq, string(rec.Step), rec.At.UTC(), payload)
	if err != nil {
		return writeFailed("insert record", err)
	}
	if tag.RowsAffected() == 0 {
		return writeFailed("append", fmt.Errorf("attempt %s: seq %d is not after the last record", rec.AttemptID, rec.Seq))
	}
	return nil
}

// ByTrade returns the records of id in append order.
func (p *Postgres) ByTrade(ctx context.Context, id domain.TradeID) ([]domain.StepRecord, error) {
	const query = `
SELECT trade_id, attempt_id, seq, step, at, payload
FROM step_records WHERE trade_id = $1 ORDER BY id`

	rows, err := p.pool.Query(ctx, query, int64(id))
	if err != nil {
		return nil, readFailed("query records", err)
	}
	defer rows.Close()
	return scanPgRows(rows)
}

// OpenAttempts returns the last record of every attempt without a terminal
// record, oldest attempt first.
func (p *Postgres) OpenAttempts(ctx context.Context) ([]domain.StepRecord, error) {
	const query = `
SELECT r.trade_id, r.attempt_id, r.seq, r.step, r.at, r.payload
FROM step_records r
JOIN (SELECT attempt_id, MAX(seq) AS seq, MIN(id) AS first_id
      FROM step_records GROUP BY attempt_id) l
  ON r.attempt_id = l.attempt_id AND r.seq = l.seq
WHERE r.step <> ALL($1)
ORDER BY l.first_id`

	rows, err := p.pool.Query(ctx, query, terminalSteps)
	if err != nil {
		return nil, readFailed("query open attempts", err)
	}
	defer rows.Close()
	return scanPgRows(rows)
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func scanPgRows(rows pgx.Rows) ([]domain.StepRecord, error) {
	var out []domain.StepRecord
	for rows.Next() {
		var (
			rec     domain.StepRecord
			tradeID int64
			step    string
			payload []byte
		)
		if err := rows.Scan(&tradeID, &rec.AttemptID, &rec.Seq, &step, &rec.At, &payload); err != nil {
			return nil, readFailed("scan record", err)
		}
		pl, err := decodePayload(payload)
		if err != nil {
			return nil, readFailed("decode payload", err)
		}
		rec.TradeID = domain.TradeID(tradeID)
		rec.Step = domain.StepName(step)
		rec.At = rec.At.UTC()
		rec.Payload = pl
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, readFailed("iterate records", err)
	}
	return out, nil
}
