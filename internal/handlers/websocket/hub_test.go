package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/closebid/market-server/pkg/types"
)

func newConnectedClient(h *Hub, id string) *Client {
	client := &Client{
		ID:          id,
		Send:        make(chan []byte, 4),
		RateLimiter: rate.NewLimiter(1, 3),
	}
	h.clientLock.Lock()
	h.clients[client] = true
	h.clientLock.Unlock()
	return client
}

func TestHub_NotifySettledBroadcastsToAllClients(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	clientA := newConnectedClient(hub, "userA")
	clientB := newConnectedClient(hub, "userB")

	winner := "userZ"
	deadline := time.Date(2024, 3, 9, 9, 30, 0, 0, time.UTC)
	hub.NotifySettled(context.Background(), types.SettlementEvent{
		BidID:           "auction1",
		ItemName:        "Vintage Camera",
		WinnerID:        &winner,
		WinningAmount:   80,
		PaymentDeadline: &deadline,
		ClosedAt:        time.Now().UTC(),
	})

	for _, client := range []*Client{clientA, clientB} {
		select {
		case raw := <-client.Send:
			msg, err := ParseMessage(raw)
			require.NoError(t, err)
			require.Equal(t, "settled", msg.Type)

			var event types.SettlementEvent
			require.NoError(t, json.Unmarshal(msg.Data, &event))
			require.Equal(t, "auction1", event.BidID)
			require.Equal(t, "Vintage Camera", event.ItemName)
			require.NotNil(t, event.WinnerID)
			require.Equal(t, "userZ", *event.WinnerID)
		default:
			t.Fatalf("client %s received no message", client.ID)
		}
	}
}

func TestHub_HandleMessage(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	client := newConnectedClient(hub, "userA")

	// ping gets a pong back
	hub.HandleMessage(client, []byte(`{"type":"ping"}`))
	require.Equal(t, `{"type":"pong"}`, string(<-client.Send))

	// join is acknowledged silently
	hub.HandleMessage(client, []byte(`{"type":"join"}`))
	require.Empty(t, client.Send)

	// unknown types and malformed payloads get structured errors
	hub.HandleMessage(client, []byte(`{"type":"bid"}`))
	var errMsg struct {
		Type string `json:"type"`
		Code int    `json:"code"`
	}
	require.NoError(t, json.Unmarshal(<-client.Send, &errMsg))
	require.Equal(t, "error", errMsg.Type)

	hub.HandleMessage(client, []byte(`not json`))
	require.NoError(t, json.Unmarshal(<-client.Send, &errMsg))
	require.Equal(t, "error", errMsg.Type)
}

func TestParseMessage(t *testing.T) {
	t.Parallel()

	msg, err := ParseMessage([]byte(`{"type":"settled","data":{"bid_id":"auction1"}}`))
	require.NoError(t, err)
	require.Equal(t, "settled", msg.Type)

	_, err = ParseMessage([]byte(`{{`))
	require.Error(t, err)
}
