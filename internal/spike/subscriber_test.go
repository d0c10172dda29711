package spike

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notification(logs []string) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"method":  "logsNotification",
		"params": map[string]any{
			"result": map[string]any{
				"value": map[string]any{"err": nil, "logs": logs},
			},
		},
	}
}

func TestWSSubscriberSkipsEmptyBatches(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		// Subscribe request comes first.
		var sub map[string]any
		assert.NoError(t, conn.ReadJSON(&sub))
		assert.Equal(t, "logsSubscribe", sub["method"])

		assert.NoError(t, conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": 1, "result": 42}))
		assert.NoError(t, conn.WriteJSON(notification(nil)))
		assert.NoError(t, conn.WriteJSON(notification([]string{})))
		assert.NoError(t, conn.WriteJSON(notification([]string{"Program log: swap"})))

		// Hold the socket open until the client hangs up.
		conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s := NewWSSubscriber("ws" + strings.TrimPrefix(srv.URL, "http"))
	ch, err := s.Subscribe(ctx, "mint")
	require.NoError(t, err)

	select {
	case batch := <-ch:
		require.Len(t, batch.Logs, 1)
		assert.Equal(t, "Program log: swap", batch.Logs[0])
	case <-ctx.Done():
		t.Fatal("no batch delivered")
	}

	// The two log-less notifications never became batches.
	select {
	case batch, ok := <-ch:
		if ok {
			t.Fatalf("unexpected extra batch: %v", batch.Logs)
		}
	case <-time.After(100 * time.Millisecond):
	}
}
