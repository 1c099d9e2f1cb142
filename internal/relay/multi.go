package relay

import (
	"context"

	"github.com/closebid/market-server/pkg/types"
)

// Notifier matches settlement.Notifier without importing it.
type Notifier interface {
	NotifySettled(ctx context.Context, event types.SettlementEvent)
}

// Multi fans one settlement event out to several sinks in order.
type Multi []Notifier

func (m Multi) NotifySettled(ctx context.Context, event types.SettlementEvent) {
	for _, n := range m {
		n.NotifySettled(ctx, event)
	}
}
