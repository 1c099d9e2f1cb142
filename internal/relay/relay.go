package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"
	"github.com/segmentio/kafka-go"

	"github.com/closebid/market-server/pkg/types"
)

// Producer publishes settlement events for the downstream push
// notification pipeline. Messages are keyed by auction id so replays of
// the same settlement land on the same partition.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Close releases the writer resources.
func (p *Producer) Close() error { return p.w.Close() }

// Publish synchronously writes one settlement event.
func (p *Producer) Publish(ctx context.Context, event types.SettlementEvent) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.BidID),
		Value: b,
	})
}

// NotifySettled implements the engine's Notifier. Relay delivery is best
// effort; failures are logged, the bid_notifications row is the durable
// record.
func (p *Producer) NotifySettled(ctx context.Context, event types.SettlementEvent) {
	if err := p.Publish(ctx, event); err != nil {
		log.Error("Failed to publish settlement event", "auction", event.BidID, "error", err)
	}
}
