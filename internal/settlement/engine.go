package settlement

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/closebid/market-server/pkg/types"
)

// PaymentWindow is how long a winner has to pay, counted from the moment
// the auction is closed.
const PaymentWindow = 7 * 24 * time.Hour

// Store is the slice of the database the engine needs.
type Store interface {
	GetExpiredAuctions(ctx context.Context, limit int) ([]types.Auction, error)
	CloseAuction(ctx context.Context, close types.AuctionClose) (bool, error)
	CreateNotification(ctx context.Context, n types.Notification) (types.Notification, error)
}

// Notifier receives settlement events for realtime fan-out. Delivery is
// best effort; the durable record is the bid_notifications row.
type Notifier interface {
	NotifySettled(ctx context.Context, event types.SettlementEvent)
}

// Result aggregates the independent per-auction outcomes of one run.
//
// Processed mirrors Fetched for callers that predate the split counts.
type Result struct {
	Fetched int `json:"fetched"`
	Settled int `json:"settled"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

type Config struct {
	// BatchSize bounds a single fetch of expired auctions. The engine
	// keeps fetching until the backlog is drained.
	BatchSize int
	// VerifyBaseURL is the public base for winner verification links.
	VerifyBaseURL string
	// VerifySecret keys the verification token derivation.
	VerifySecret string
}

type Engine struct {
	store    Store
	notifier Notifier
	cfg      Config
	now      func() time.Time
}

func NewEngine(store Store, notifier Notifier, cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// ProcessExpiredAuctions drains the backlog of active auctions whose end
// time has passed, settling each one independently. A fetch failure
// aborts the run; a per-auction failure is logged, counted and skipped,
// leaving that auction active for the next run.
func (e *Engine) ProcessExpiredAuctions(ctx context.Context) (Result, error) {
	var result Result

	for {
		auctions, err := e.store.GetExpiredAuctions(ctx, e.cfg.BatchSize)
		if err != nil {
			return result, fmt.Errorf("fetching expired auctions: %w", err)
		}
		result.Fetched += len(auctions)

		progress := 0
		for _, auction := range auctions {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			switch e.settle(ctx, auction) {
			case settled:
				result.Settled++
				progress++
			case skipped:
				result.Skipped++
				progress++
			case failed:
				result.Failed++
			}
		}

		// A short batch means the backlog is drained. A full batch of
		// failures would refetch the same rows forever, so stop then too.
		if len(auctions) < e.cfg.BatchSize || progress == 0 {
			break
		}
	}

	log.Info("Settlement run finished",
		"fetched", result.Fetched,
		"settled", result.Settled,
		"skipped", result.Skipped,
		"failed", result.Failed)

	return result, nil
}

type outcome int

const (
	settled outcome = iota
	skipped
	failed
)

// settle closes one expired auction. The close is conditional on the row
// still being active, which is the sole guard against overlapping
// invocations settling the same auction twice.
func (e *Engine) settle(ctx context.Context, auction types.Auction) outcome {
	winner, ok := PickWinner(auction.Offers)

	close := types.AuctionClose{ID: auction.ID}
	closedAt := e.now().UTC()
	if ok {
		deadline := closedAt.Add(PaymentWindow)
		url := VerificationURL(e.cfg.VerifyBaseURL, e.cfg.VerifySecret, auction.ID, winner.UserID)
		close.WinnerID = &winner.UserID
		close.PaymentDeadline = &deadline
		close.VerificationURL = &url
	}

	claimed, err := e.store.CloseAuction(ctx, close)
	if err != nil {
		log.Error("Failed to close auction", "auction", auction.ID, "error", err)
		return failed
	}
	if !claimed {
		// Another invocation closed it between our read and write.
		log.Debugf("Auction %s already closed, skipping", auction.ID)
		return skipped
	}

	if ok {
		notification := types.Notification{
			ID:      uuid.NewString(),
			BidID:   auction.ID,
			UserID:  winner.UserID,
			Message: winnerMessage(auction.ItemName, *close.PaymentDeadline),
		}
		if _, err := e.store.CreateNotification(ctx, notification); err != nil {
			// The auction is closed either way; the winner just misses the
			// in-app message.
			log.Error("Failed to create winner notification", "auction", auction.ID, "winner", winner.UserID, "error", err)
		}
	}

	log.Info("Auction settled", "auction", auction.ID, "item", auction.ItemName, "winner", close.WinnerID)

	if e.notifier != nil {
		event := types.SettlementEvent{
			BidID:           auction.ID,
			ItemName:        auction.ItemName,
			WinnerID:        close.WinnerID,
			PaymentDeadline: close.PaymentDeadline,
			ClosedAt:        closedAt,
		}
		if ok {
			event.WinningAmount = winner.Amount
		}
		e.notifier.NotifySettled(ctx, event)
	}

	return settled
}

// PickWinner returns the winning offer: highest amount, earliest
// created_at among equal amounts, smallest id as the final tie-break.
// ok is false when there are no offers.
func PickWinner(offers []types.Offer) (winner types.Offer, ok bool) {
	if len(offers) == 0 {
		return types.Offer{}, false
	}

	ranked := append([]types.Offer(nil), offers...)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Amount != ranked[j].Amount {
			return ranked[i].Amount > ranked[j].Amount
		}
		if !ranked[i].CreatedAt.Equal(ranked[j].CreatedAt) {
			return ranked[i].CreatedAt.Before(ranked[j].CreatedAt)
		}
		return ranked[i].ID < ranked[j].ID
	})

	return ranked[0], true
}

func winnerMessage(itemName string, deadline time.Time) string {
	return fmt.Sprintf(
		"Congratulations! You won the auction for %q. Payment is due by %s.",
		itemName,
		deadline.UTC().Format("January 2, 2006 at 15:04 MST"),
	)
}
