package eventlog

import (
	"context"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/app"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/wsconn"
)

// Publisher is the part of a websocket client the sink writes through.
type Publisher interface {
	Send(ctx context.Context, msg []byte) error
}

var (
	_ app.RecordSink = (*WebSocket)(nil)
	_ Publisher      = (*wsconn.Client)(nil)
)

// WebSocket pushes every record to a monitoring endpoint.
type WebSocket struct {
	client Publisher
}

// NewWebSocket creates a sink over a connected client.
func NewWebSocket(client Publisher) *WebSocket {
	return &WebSocket{client: client}
}

// Publish sends rec as one JSON text message.
func (w *WebSocket) Publish(ctx context.Context, rec domain.StepRecord) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	return w.client.Send(ctx, data)
}
