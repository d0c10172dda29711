package spike

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/membot-trading/membot/internal/solana"
)

// WSSubscriber opens one logsSubscribe websocket per mint.
type WSSubscriber struct {
	Endpoint   string
	Commitment string
}

func NewWSSubscriber(endpoint string) *WSSubscriber {
	return &WSSubscriber{Endpoint: endpoint, Commitment: "processed"}
}

func (s *WSSubscriber) Subscribe(ctx context.Context, mint solana.Pubkey) (<-chan LogBatch, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.Endpoint, nil)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("spike: dial %s: %w", s.Endpoint, err)
	}

	sub := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "logsSubscribe",
		"params": []any{
			map[string]any{"mentions": []string{string(mint)}},
			map[string]any{"commitment": s.Commitment},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("spike: subscribe %s: %w", mint, err)
	}

	out := make(chan LogBatch, 64)
	go func() {
		defer close(out)
		defer conn.Close()
		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					log.Debug().Err(err).Str("mint", string(mint)).Msg("spike: subscription closed")
				}
				return
			}

			var msg struct {
				Method string `json:"method"`
				Params struct {
					Result struct {
						Value struct {
							Err  any      `json:"err"`
							Logs []string `json:"logs"`
						} `json:"value"`
					} `json:"result"`
				} `json:"params"`
			}
			if err := json.Unmarshal(raw, &msg); err != nil || msg.Method != "logsNotification" {
				continue
			}
			if msg.Params.Result.Value.Err != nil {
				continue
			}
			if len(msg.Params.Result.Value.Logs) == 0 {
				// A notification with no log lines is not activity.
				continue
			}
			batch := LogBatch{At: time.Now(), Logs: msg.Params.Result.Value.Logs}
			select {
			case out <- batch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

var _ Subscriber = (*WSSubscriber)(nil)
