package types

import (
	"time"
)

type User struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// AuctionStatus is the two-state auction lifecycle. Transitions are
// monotonic: active -> closed, never back.
type AuctionStatus string

const (
	AuctionActive AuctionStatus = "active"
	AuctionClosed AuctionStatus = "closed"
)

// Auction is an item-sale listing with a closing time and a set of
// offers. Stored in the "bids" table.
type Auction struct {
	ID              string        `json:"id"`
	ItemName        string        `json:"item_name"`
	EndsAt          time.Time     `json:"ends_at"`
	Status          AuctionStatus `json:"status"`
	WinnerID        *string       `json:"winner_id,omitempty"`
	PaymentDeadline *time.Time    `json:"payment_deadline,omitempty"`
	VerificationURL *string       `json:"verification_url,omitempty"`
	GroupID         string        `json:"group_id"`
	UserID          string        `json:"user_id"`
	CreatedAt       time.Time     `json:"created_at"`

	Offers []Offer `json:"offers,omitempty"`
}

// Offer is a monetary proposal against an auction. Immutable once
// created. Stored in the "bid_offers" table.
type Offer struct {
	ID        string    `json:"id"`
	BidID     string    `json:"bid_id"`
	UserID    string    `json:"user_id"`
	Amount    float64   `json:"offer_amount"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is a settlement message addressed to an auction winner.
// Stored in the "bid_notifications" table, created at most once per
// closed auction.
type Notification struct {
	ID        string    `json:"id"`
	BidID     string    `json:"bid_id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// AuctionClose carries the fields of a single settlement write. Winner
// fields are either all set or all nil.
type AuctionClose struct {
	ID              string
	WinnerID        *string
	PaymentDeadline *time.Time
	VerificationURL *string
}

// SettlementEvent is what a successful close emits to the realtime hub
// and the relay.
type SettlementEvent struct {
	BidID           string     `json:"bid_id"`
	ItemName        string     `json:"item_name"`
	WinnerID        *string    `json:"winner_id,omitempty"`
	WinningAmount   float64    `json:"winning_amount,omitempty"`
	PaymentDeadline *time.Time `json:"payment_deadline,omitempty"`
	ClosedAt        time.Time  `json:"closed_at"`
}
