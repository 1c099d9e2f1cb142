package websocket

import (
	"context"
	"encoding/json"

	"github.com/charmbracelet/log"

	"github.com/closebid/market-server/pkg/errors"
	"github.com/closebid/market-server/pkg/types"
)

type Message struct {
	Type string          `json:"type"` // Type of the message (e.g., "settled", "join")
	Data json.RawMessage `json:"data,omitempty"`
}

// ParseMessage validates and parses incoming messages.
func ParseMessage(rawMessage []byte) (*Message, error) {
	var msg Message
	err := json.Unmarshal(rawMessage, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// HandleMessage routes the message based on its type. The feed is
// outbound-only; clients may only join and ping.
func (h *Hub) HandleMessage(client *Client, rawMessage []byte) {
	if !client.RateLimiter.Allow() {
		log.Warnf("Rate limit exceeded for client %s", client.ID)
		client.Send <- []byte(errors.New(errors.ErrBadMessageFormat, "Rate limit exceeded").ToJSON())
		return
	}

	msg, err := ParseMessage(rawMessage)
	if err != nil {
		log.Infof("Invalid message from client %s: %v", client.ID, err)
		client.Send <- []byte(errors.New(errors.ErrBadMessageFormat, "Invalid message format").ToJSON())
		return
	}

	switch msg.Type {
	case "join":
		log.Debugf("Client %s joined the settlement feed", client.ID)
	case "ping":
		client.Send <- []byte(`{"type":"pong"}`)
	default:
		log.Infof("Unknown message type from client %s: %s", client.ID, msg.Type)
		client.Send <- []byte(errors.New(errors.ErrUnknownMessageType, "Unknown message type").ToJSON())
	}
}

// NotifySettled broadcasts a settlement event to every connected client.
// Implements the engine's Notifier.
func (h *Hub) NotifySettled(ctx context.Context, event types.SettlementEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error("Error marshalling settlement event: ", err)
		return
	}

	rawMessage, err := json.Marshal(&Message{Type: "settled", Data: data})
	if err != nil {
		log.Error("Error marshalling settlement message: ", err)
		return
	}

	h.Broadcast(rawMessage)
}
