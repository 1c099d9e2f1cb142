package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/closebid/market-server/pkg/types"
)

// fakeStore is an in-memory Store with per-auction failure injection.
type fakeStore struct {
	mu            sync.Mutex
	auctions      map[string]*types.Auction
	notifications []types.Notification

	fetchErr      error
	fetchCalls    int
	closeErr      map[string]error
	notifyErr     map[string]error
	alreadyClosed map[string]bool // force a lost-race skip for these ids
}

func newFakeStore(auctions ...types.Auction) *fakeStore {
	s := &fakeStore{
		auctions:      make(map[string]*types.Auction),
		closeErr:      make(map[string]error),
		notifyErr:     make(map[string]error),
		alreadyClosed: make(map[string]bool),
	}
	for i := range auctions {
		a := auctions[i]
		s.auctions[a.ID] = &a
	}
	return s
}

func (s *fakeStore) GetExpiredAuctions(ctx context.Context, limit int) ([]types.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetchCalls++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	var expired []types.Auction
	for _, a := range s.auctions {
		if a.Status == types.AuctionActive && a.EndsAt.Before(time.Now()) {
			expired = append(expired, *a)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].EndsAt.Before(expired[j].EndsAt) })
	if len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (s *fakeStore) CloseAuction(ctx context.Context, close types.AuctionClose) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.closeErr[close.ID]; err != nil {
		return false, err
	}
	a, ok := s.auctions[close.ID]
	if !ok {
		return false, nil
	}
	if s.alreadyClosed[close.ID] || a.Status != types.AuctionActive {
		return false, nil
	}

	a.Status = types.AuctionClosed
	a.WinnerID = close.WinnerID
	a.PaymentDeadline = close.PaymentDeadline
	a.VerificationURL = close.VerificationURL
	return true, nil
}

func (s *fakeStore) CreateNotification(ctx context.Context, n types.Notification) (types.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.notifyErr[n.BidID]; err != nil {
		return types.Notification{}, err
	}
	s.notifications = append(s.notifications, n)
	return n, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []types.SettlementEvent
}

func (n *fakeNotifier) NotifySettled(ctx context.Context, event types.SettlementEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func newOffer(id, bidID, userID string, amount float64, createdAt time.Time) types.Offer {
	return types.Offer{ID: id, BidID: bidID, UserID: userID, Amount: amount, CreatedAt: createdAt}
}

func expiredAuction(id, item string, offers ...types.Offer) types.Auction {
	return types.Auction{
		ID:       id,
		ItemName: item,
		EndsAt:   time.Now().Add(-24 * time.Hour),
		Status:   types.AuctionActive,
		Offers:   offers,
	}
}

func newTestEngine(store Store, notifier Notifier, now time.Time) *Engine {
	e := NewEngine(store, notifier, Config{
		BatchSize:     100,
		VerifyBaseURL: "https://market.example.com",
		VerifySecret:  "test-secret",
	})
	e.now = func() time.Time { return now }
	return e
}

func TestPickWinner(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		offers     []types.Offer
		wantOK     bool
		wantUserID string
	}{
		{
			name:   "no_offers",
			offers: nil,
			wantOK: false,
		},
		{
			name:       "single_offer",
			offers:     []types.Offer{newOffer("o1", "a1", "userX", 50, base)},
			wantOK:     true,
			wantUserID: "userX",
		},
		{
			name: "highest_amount_wins",
			offers: []types.Offer{
				newOffer("o1", "a1", "userX", 50, base),
				newOffer("o2", "a1", "userY", 80, base.Add(time.Minute)),
				newOffer("o3", "a1", "userW", 65, base.Add(2*time.Minute)),
			},
			wantOK:     true,
			wantUserID: "userY",
		},
		{
			name: "tie_earliest_created_wins",
			offers: []types.Offer{
				newOffer("o1", "a1", "userX", 50, base),
				newOffer("o2", "a1", "userY", 80, base.Add(time.Minute)),
				newOffer("o3", "a1", "userZ", 80, base.Add(-time.Hour)),
			},
			wantOK:     true,
			wantUserID: "userZ",
		},
		{
			name: "tie_same_created_smallest_id_wins",
			offers: []types.Offer{
				newOffer("o9", "a1", "userY", 80, base),
				newOffer("o2", "a1", "userZ", 80, base),
			},
			wantOK:     true,
			wantUserID: "userZ",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			winner, ok := PickWinner(tc.offers)
			require.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				require.Equal(t, tc.wantUserID, winner.UserID)
			}
		})
	}
}

func TestPickWinner_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	base := time.Now()
	offers := []types.Offer{
		newOffer("o1", "a1", "userX", 10, base),
		newOffer("o2", "a1", "userY", 30, base),
		newOffer("o3", "a1", "userZ", 20, base),
	}

	_, ok := PickWinner(offers)
	require.True(t, ok)
	require.Equal(t, "o1", offers[0].ID)
	require.Equal(t, "o2", offers[1].ID)
	require.Equal(t, "o3", offers[2].ID)
}

func TestProcessExpiredAuctions_SettlesWinnerAndEmptyAuction(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore(
		expiredAuction("auctionA", "Vintage Camera",
			newOffer("o1", "auctionA", "userX", 50, base),
			newOffer("o2", "auctionA", "userY", 80, base.Add(time.Minute)),
			newOffer("o3", "auctionA", "userZ", 80, base.Add(-time.Hour)),
		),
		expiredAuction("auctionB", "Empty Lot"),
	)
	notifier := &fakeNotifier{}

	now := time.Date(2024, 3, 2, 9, 30, 0, 0, time.UTC)
	engine := newTestEngine(store, notifier, now)

	result, err := engine.ProcessExpiredAuctions(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Fetched: 2, Settled: 2}, result)

	// Auction A: winner triple all set together
	a := store.auctions["auctionA"]
	require.Equal(t, types.AuctionClosed, a.Status)
	require.NotNil(t, a.WinnerID)
	require.Equal(t, "userZ", *a.WinnerID)
	require.NotNil(t, a.PaymentDeadline)
	require.Equal(t, now.Add(7*24*time.Hour), *a.PaymentDeadline)
	require.NotNil(t, a.VerificationURL)
	require.Equal(t, VerificationURL("https://market.example.com", "test-secret", "auctionA", "userZ"), *a.VerificationURL)

	// Auction B: closed, no winner fields
	b := store.auctions["auctionB"]
	require.Equal(t, types.AuctionClosed, b.Status)
	require.Nil(t, b.WinnerID)
	require.Nil(t, b.PaymentDeadline)
	require.Nil(t, b.VerificationURL)

	// Exactly one notification, addressed to the winner
	require.Len(t, store.notifications, 1)
	n := store.notifications[0]
	require.Equal(t, "auctionA", n.BidID)
	require.Equal(t, "userZ", n.UserID)
	require.Contains(t, n.Message, "Vintage Camera")
	require.Contains(t, n.Message, "March 9, 2024")

	// Both settlements emitted events
	require.Len(t, notifier.events, 2)
}

func TestProcessExpiredAuctions_PaymentDeadlineIsExactly168Hours(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		expiredAuction("auction1", "Lamp", newOffer("o1", "auction1", "user1", 10, time.Now())),
	)

	now := time.Date(2024, 10, 26, 23, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	engine := newTestEngine(store, nil, now)

	_, err := engine.ProcessExpiredAuctions(context.Background())
	require.NoError(t, err)

	deadline := store.auctions["auction1"].PaymentDeadline
	require.NotNil(t, deadline)
	require.Equal(t, 168*time.Hour, deadline.Sub(now.UTC()))
}

func TestProcessExpiredAuctions_SecondRunFindsNothing(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		expiredAuction("auction1", "Chair", newOffer("o1", "auction1", "user1", 25, time.Now())),
	)
	engine := newTestEngine(store, nil, time.Now())

	first, err := engine.ProcessExpiredAuctions(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.Settled)

	second, err := engine.ProcessExpiredAuctions(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{}, second)
	require.Len(t, store.notifications, 1)
}

func TestProcessExpiredAuctions_LostRaceIsBenignSkip(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		expiredAuction("auction1", "Rug", newOffer("o1", "auction1", "user1", 40, time.Now())),
	)
	store.alreadyClosed["auction1"] = true

	engine := newTestEngine(store, nil, time.Now())

	result, err := engine.ProcessExpiredAuctions(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Fetched: 1, Skipped: 1}, result)
	require.Empty(t, store.notifications)
}

func TestProcessExpiredAuctions_CloseFailureDoesNotAbortBatch(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		types.Auction{
			ID: "auction1", ItemName: "Desk", Status: types.AuctionActive,
			EndsAt: time.Now().Add(-2 * time.Hour),
			Offers: []types.Offer{newOffer("o1", "auction1", "user1", 10, time.Now())},
		},
		types.Auction{
			ID: "auction2", ItemName: "Sofa", Status: types.AuctionActive,
			EndsAt: time.Now().Add(-1 * time.Hour),
			Offers: []types.Offer{newOffer("o2", "auction2", "user2", 20, time.Now())},
		},
	)
	store.closeErr["auction1"] = errors.New("connection reset")

	engine := newTestEngine(store, nil, time.Now())

	result, err := engine.ProcessExpiredAuctions(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Fetched: 2, Settled: 1, Failed: 1}, result)

	// The failed auction stays active and eligible for the next run
	require.Equal(t, types.AuctionActive, store.auctions["auction1"].Status)
	require.Equal(t, types.AuctionClosed, store.auctions["auction2"].Status)
	require.Len(t, store.notifications, 1)
	require.Equal(t, "auction2", store.notifications[0].BidID)
}

func TestProcessExpiredAuctions_NotificationFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		expiredAuction("auction1", "Mirror", newOffer("o1", "auction1", "user1", 15, time.Now())),
	)
	store.notifyErr["auction1"] = errors.New("insert failed")

	engine := newTestEngine(store, nil, time.Now())

	result, err := engine.ProcessExpiredAuctions(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Fetched: 1, Settled: 1}, result)

	// The auction is closed regardless of the lost notification
	require.Equal(t, types.AuctionClosed, store.auctions["auction1"].Status)
	require.Empty(t, store.notifications)
}

func TestProcessExpiredAuctions_FetchErrorAbortsRun(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.fetchErr = errors.New("connection refused")

	engine := newTestEngine(store, nil, time.Now())

	result, err := engine.ProcessExpiredAuctions(context.Background())
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "fetching expired auctions"))
	require.Equal(t, Result{}, result)
}

func TestProcessExpiredAuctions_DrainsBacklogInBatches(t *testing.T) {
	t.Parallel()

	var auctions []types.Auction
	for i := 0; i < 250; i++ {
		id := fmt.Sprintf("auction%03d", i)
		auctions = append(auctions, types.Auction{
			ID: id, ItemName: "Bulk Item", Status: types.AuctionActive,
			EndsAt: time.Now().Add(-time.Duration(i+1) * time.Minute),
			Offers: []types.Offer{newOffer("o-"+id, id, "user1", float64(i+1), time.Now())},
		})
	}
	store := newFakeStore(auctions...)

	engine := newTestEngine(store, nil, time.Now())

	result, err := engine.ProcessExpiredAuctions(context.Background())
	require.NoError(t, err)
	require.Equal(t, 250, result.Fetched)
	require.Equal(t, 250, result.Settled)
	require.Equal(t, 3, store.fetchCalls)
	require.Len(t, store.notifications, 250)
}

func TestProcessExpiredAuctions_ConcurrentRunsSettleOnce(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		expiredAuction("auction1", "Contested Item", newOffer("o1", "auction1", "user1", 99, time.Now())),
	)

	engineA := newTestEngine(store, nil, time.Now())
	engineB := newTestEngine(store, nil, time.Now())

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i, engine := range []*Engine{engineA, engineB} {
		wg.Add(1)
		go func(i int, e *Engine) {
			defer wg.Done()
			r, err := e.ProcessExpiredAuctions(context.Background())
			require.NoError(t, err)
			results[i] = r
		}(i, engine)
	}
	wg.Wait()

	// At most one successful close, at most one notification
	require.Equal(t, 1, results[0].Settled+results[1].Settled)
	require.LessOrEqual(t, results[0].Skipped+results[1].Skipped, 1)
	require.Len(t, store.notifications, 1)
}
