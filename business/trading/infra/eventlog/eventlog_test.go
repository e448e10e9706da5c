package eventlog

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/app"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/logger"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/wsconn"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelError, "test", nil)
}

func record(id domain.TradeID, attempt string, seq int, step domain.StepName) domain.StepRecord {
	return domain.StepRecord{
		TradeID:   id,
		AttemptID: attempt,
		Seq:       seq,
		Step:      step,
		At:        t0.Add(time.Duration(seq) * time.Second),
	}
}

// logFactories returns every store that runs without external services.
func logFactories(t *testing.T) map[string]func() app.EventLog {
	t.Helper()
	return map[string]func() app.EventLog{
		"memory": func() app.EventLog { return NewMemory() },
		"sqlite": func() app.EventLog {
			db, err := OpenSQLite(context.Background(), ":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			return db
		},
	}
}

func TestEventLog_AppendAndByTrade(t *testing.T) {
	for name, open := range logFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			log := open()

			rec := record(7, "a1", 1, domain.StepInitiated)
			rec.Payload = map[string]string{domain.DetailPrincipal: "1000000"}
			require.NoError(t, log.Append(ctx, rec))
			require.NoError(t, log.Append(ctx, record(8, "b1", 1, domain.StepInitiated)))
			require.NoError(t, log.Append(ctx, record(7, "a1", 2, domain.StepBorrowed)))

			got, err := log.ByTrade(ctx, 7)
			require.NoError(t, err)
			require.Len(t, got, 2)

			assert.Equal(t, domain.StepInitiated, got[0].Step)
			assert.Equal(t, "1000000", got[0].Get(domain.DetailPrincipal))
			assert.True(t, got[0].At.Equal(rec.At))
			assert.Equal(t, domain.StepBorrowed, got[1].Step)
			assert.Equal(t, 2, got[1].Seq)

			none, err := log.ByTrade(ctx, 99)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestEventLog_RejectsOutOfOrderSeq(t *testing.T) {
	for name, open := range logFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			log := open()

			require.NoError(t, log.Append(ctx, record(1, "a1", 2, domain.StepBorrowed)))

			err := log.Append(ctx, record(1, "a1", 2, domain.StepBuySucceeded))
			require.Error(t, err)
			assert.Equal(t, apperror.CodeEventLogWriteFailed, apperror.GetCode(err))

			err = log.Append(ctx, record(1, "a1", 1, domain.StepInitiated))
			require.Error(t, err)

			// another attempt of the same trade starts over
			require.NoError(t, log.Append(ctx, record(1, "a2", 1, domain.StepInitiated)))
		})
	}
}

func TestEventLog_RejectsMalformedRecords(t *testing.T) {
	tests := []struct {
		name string
		rec  domain.StepRecord
	}{
		{"no attempt", record(1, "", 1, domain.StepInitiated)},
		{"zero seq", record(1, "a1", 0, domain.StepInitiated)},
		{"no step", record(1, "a1", 1, "")},
	}

	for name, open := range logFactories(t) {
		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				err := open().Append(context.Background(), tt.rec)
				require.Error(t, err)
				assert.Equal(t, apperror.CodeEventLogWriteFailed, apperror.GetCode(err))
			})
		}
	}
}

func TestEventLog_OpenAttempts(t *testing.T) {
	for name, open := range logFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			log := open()

			seed := []domain.StepRecord{
				record(1, "done", 1, domain.StepInitiated),
				record(2, "open-a", 1, domain.StepInitiated),
				record(1, "done", 2, domain.StepCompleted),
				record(2, "open-a", 2, domain.StepBorrowed),
				record(3, "rejected", 1, domain.StepRejected),
				record(4, "open-b", 1, domain.StepInitiated),
				record(2, "open-a", 3, domain.StepSellSucceeded),
			}
			for _, r := range seed {
				require.NoError(t, log.Append(ctx, r))
			}

			pending, err := log.OpenAttempts(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 2)

			assert.Equal(t, "open-a", pending[0].AttemptID)
			assert.Equal(t, domain.StepSellSucceeded, pending[0].Step)
			assert.Equal(t, 3, pending[0].Seq)
			assert.Equal(t, "open-b", pending[1].AttemptID)
			assert.Equal(t, domain.StepInitiated, pending[1].Step)
		})
	}
}

func TestEventLog_ReconcilerClosesOpenAttempts(t *testing.T) {
	db, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.Append(ctx, record(5, "x", 1, domain.StepInitiated)))
	require.NoError(t, db.Append(ctx, record(5, "x", 2, domain.StepBorrowed)))

	n, err := app.NewReconciler(db, testLogger()).Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := db.OpenAttempts(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	recs, err := db.ByTrade(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, domain.StepRecovered, recs[2].Step)
	assert.Equal(t, app.OutcomeRolledBack, recs[2].Get(domain.DetailOutcome))
}

func TestCodec_RoundTrip(t *testing.T) {
	rec := record(42, "a1", 3, domain.StepSellSucceeded)
	rec.Payload = map[string]string{
		domain.DetailLeg:       "sell",
		domain.DetailAmountOut: "1010",
	}

	data, err := Encode(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"step":"sell-succeeded"`)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, rec.TradeID, got.TradeID)
	assert.Equal(t, rec.Step, got.Step)
	assert.Equal(t, rec.Payload, got.Payload)
	assert.True(t, rec.At.Equal(got.At))

	_, err = Decode([]byte("{"))
	assert.Error(t, err)
}

type captureSink struct {
	mu   sync.Mutex
	recs []domain.StepRecord
	err  error
}

func (s *captureSink) Publish(_ context.Context, rec domain.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, rec)
	return nil
}

func TestFanOut_SinkFailureDoesNotFailAppend(t *testing.T) {
	ctx := context.Background()
	primary := NewMemory()
	good := &captureSink{}
	bad := &captureSink{err: errors.New("broker down")}

	f := NewFanOut(primary, testLogger(), bad, good)

	require.NoError(t, f.Append(ctx, record(1, "a1", 1, domain.StepInitiated)))
	require.NoError(t, f.Append(ctx, record(1, "a1", 2, domain.StepBorrowed)))

	assert.Equal(t, 2, primary.Len())
	assert.Len(t, good.recs, 2)

	recs, err := f.ByTrade(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestFanOut_PrimaryFailureSkipsSinks(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	f := NewFanOut(NewMemory(), testLogger(), sink)

	err := f.Append(ctx, record(1, "", 1, domain.StepInitiated))
	require.Error(t, err)
	assert.Empty(t, sink.recs)
}

func TestWebSocketSink_Publish(t *testing.T) {
	received := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		received <- data
	}))
	defer server.Close()

	cfg := wsconn.DefaultConfig("ws"+strings.TrimPrefix(server.URL, "http"), "records")
	cfg.PingInterval = 0
	cfg.MaxReconnects = -1
	client, err := wsconn.New(cfg)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	rec := record(9, "a1", 1, domain.StepInitiated)
	require.NoError(t, NewWebSocket(client).Publish(ctx, rec))

	select {
	case data := <-received:
		got, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, domain.TradeID(9), got.TradeID)
		assert.Equal(t, domain.StepInitiated, got.Step)
	case <-ctx.Done():
		t.Fatal("record never reached the server")
	}
}
