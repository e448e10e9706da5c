package eventlog

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/app"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
)

// streamMaxLen caps the stream length, enforced via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// RedisConfig holds connection parameters for the stream sink.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Stream   string
}

var _ app.RecordSink = (*RedisStream)(nil)

// RedisStream publishes every record to a Redis stream for downstream
// consumers. It is write-only.
type RedisStream struct {
	rdb    *redis.Client
	stream string
}

// NewRedisStream connects and pings the server.
func NewRedisStream(ctx context.Context, cfg RedisConfig) (*RedisStream, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: 3,
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("eventlog: ping redis %s: %w", cfg.Addr, err)
	}

	stream := cfg.Stream
	if stream == "" {
		stream = "trade:records"
	}
	return &RedisStream{rdb: rdb, stream: stream}, nil
}

// NewRedisStreamFromClient wraps an existing client.
func NewRedisStreamFromClient(rdb *redis.Client, stream string) *RedisStream {
	return &RedisStream{rdb: rdb, stream: stream}
}

// Publish appends rec to the stream.
func (r *RedisStream) Publish(ctx context.Context, rec domain.StepRecord) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"trade_id":   rec.TradeID.String(),
			"attempt_id": rec.AttemptID,
			"step":       string(rec.Step),
			"payload":    data,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("eventlog: xadd %s: %w", r.stream, err)
	}
	return nil
}

// Close releases the client.
func (r *RedisStream) Close() error {
	return r.rdb.Close()
}
