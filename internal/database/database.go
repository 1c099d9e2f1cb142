package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/joho/godotenv/autoload"

	"github.com/closebid/market-server/configs"
	"github.com/closebid/market-server/pkg/types"
)

// Service represents a service that interacts with a database.
type Service interface {
	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health() map[string]string

	// Close terminates the database connection.
	// It returns an error if the connection cannot be closed.
	Close() error

	// USER METHODS
	GetUserByEmail(ctx context.Context, email string) (types.User, error)

	// AUCTION METHODS
	GetExpiredAuctions(ctx context.Context, limit int) ([]types.Auction, error)
	CloseAuction(ctx context.Context, close types.AuctionClose) (bool, error)
	ListRecentAuctions(ctx context.Context, limit int) ([]types.Auction, error)

	// NOTIFICATION METHODS
	CreateNotification(ctx context.Context, n types.Notification) (types.Notification, error)
}

type service struct {
	db *sql.DB
}

var dbInstance *service

func New(cfg *configs.Config) Service {
	// Reuse Connection
	if dbInstance != nil {
		return dbInstance
	}
	dbConfig := cfg.Database
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.Name,
		dbConfig.SSLMode,
	)

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		log.Fatal("Error opening database: ", err)
	}

	dbInstance = &service{
		db: db,
	}
	return dbInstance
}

// NewFromDB wraps an existing connection. Used by integration tests.
func NewFromDB(db *sql.DB) Service {
	return &service{db: db}
}

// Health checks the health of the database connection by pinging the database.
// It returns a map with keys indicating various health statistics.
func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	// Ping the database
	err := s.db.PingContext(ctx)
	if err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	// Database is up, add more statistics
	stats["status"] = "up"
	stats["message"] = "It's healthy"

	// Get database stats (like open connections, in use, idle, etc.)
	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()
	stats["max_idle_closed"] = strconv.FormatInt(dbStats.MaxIdleClosed, 10)
	stats["max_lifetime_closed"] = strconv.FormatInt(dbStats.MaxLifetimeClosed, 10)

	if dbStats.WaitCount > 1000 {
		stats["message"] = "The database has a high number of wait events, indicating potential bottlenecks."
	}

	return stats
}

// Close closes the database connection.
// It logs a message indicating the disconnection from the specific database.
// If the connection is successfully closed, it returns nil.
// If an error occurs while closing the connection, it returns the error.
func (s *service) Close() error {
	log.Info("Disconnected from database")
	return s.db.Close()
}

func (s *service) GetUserByEmail(ctx context.Context, email string) (types.User, error) {
	var user types.User
	query := `SELECT id, full_name, email, role FROM users WHERE email = $1`
	err := s.db.QueryRowContext(ctx, query, email).Scan(&user.ID, &user.FullName, &user.Email, &user.Role)
	if err != nil {
		return types.User{}, fmt.Errorf("error getting user by email: %w", err)
	}
	return user, nil
}

// GetExpiredAuctions returns up to limit auctions that are still active
// past their end time, oldest-ending first, each with its offers attached.
func (s *service) GetExpiredAuctions(ctx context.Context, limit int) ([]types.Auction, error) {
	query := `
        SELECT id, item_name, ends_at, status, winner_id, payment_deadline,
               verification_url, group_id, user_id, created_at
        FROM bids
        WHERE status = 'active' AND ends_at < now()
        ORDER BY ends_at ASC
        LIMIT $1
    `
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("error getting expired auctions: %w", err)
	}
	defer rows.Close()

	var auctions []types.Auction
	index := make(map[string]int)
	for rows.Next() {
		var auction types.Auction
		err := rows.Scan(
			&auction.ID,
			&auction.ItemName,
			&auction.EndsAt,
			&auction.Status,
			&auction.WinnerID,
			&auction.PaymentDeadline,
			&auction.VerificationURL,
			&auction.GroupID,
			&auction.UserID,
			&auction.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning auction: %w", err)
		}
		index[auction.ID] = len(auctions)
		auctions = append(auctions, auction)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over auctions: %w", err)
	}

	if len(auctions) == 0 {
		return auctions, nil
	}

	ids := make([]string, 0, len(auctions))
	for _, a := range auctions {
		ids = append(ids, a.ID)
	}

	offerQuery := `
        SELECT id, bid_id, user_id, offer_amount, created_at
        FROM bid_offers
        WHERE bid_id = ANY($1)
        ORDER BY created_at ASC
    `
	offerRows, err := s.db.QueryContext(ctx, offerQuery, ids)
	if err != nil {
		return nil, fmt.Errorf("error getting offers for expired auctions: %w", err)
	}
	defer offerRows.Close()

	for offerRows.Next() {
		var offer types.Offer
		err := offerRows.Scan(
			&offer.ID,
			&offer.BidID,
			&offer.UserID,
			&offer.Amount,
			&offer.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning offer: %w", err)
		}
		if i, ok := index[offer.BidID]; ok {
			auctions[i].Offers = append(auctions[i].Offers, offer)
		}
	}
	if err = offerRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over offers: %w", err)
	}

	return auctions, nil
}

// CloseAuction marks an auction closed, conditionally on it still being
// active at write time. Returns false when another invocation claimed the
// auction first; callers must treat that as a benign skip.
func (s *service) CloseAuction(ctx context.Context, close types.AuctionClose) (bool, error) {
	query := `
        UPDATE bids
        SET status = 'closed',
            winner_id = $2,
            payment_deadline = $3,
            verification_url = $4
        WHERE id = $1 AND status = 'active'
    `
	res, err := s.db.ExecContext(ctx, query, close.ID, close.WinnerID, close.PaymentDeadline, close.VerificationURL)
	if err != nil {
		return false, fmt.Errorf("error closing auction %s: %w", close.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading rows affected for auction %s: %w", close.ID, err)
	}

	log.Debugf("Auction %s close attempt: %d row(s) affected", close.ID, affected)

	return affected > 0, nil
}

// ListRecentAuctions returns the most recently ending auctions for the
// admin console, newest first.
func (s *service) ListRecentAuctions(ctx context.Context, limit int) ([]types.Auction, error) {
	query := `
        SELECT id, item_name, ends_at, status, winner_id, payment_deadline,
               verification_url, group_id, user_id, created_at
        FROM bids
        ORDER BY ends_at DESC
        LIMIT $1
    `
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing recent auctions: %w", err)
	}
	defer rows.Close()

	var auctions []types.Auction
	for rows.Next() {
		var auction types.Auction
		err := rows.Scan(
			&auction.ID,
			&auction.ItemName,
			&auction.EndsAt,
			&auction.Status,
			&auction.WinnerID,
			&auction.PaymentDeadline,
			&auction.VerificationURL,
			&auction.GroupID,
			&auction.UserID,
			&auction.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning auction: %w", err)
		}
		auctions = append(auctions, auction)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over auctions: %w", err)
	}

	return auctions, nil
}

func (s *service) CreateNotification(ctx context.Context, n types.Notification) (types.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	query := `
        INSERT INTO bid_notifications (id, bid_id, user_id, message)
        VALUES ($1, $2, $3, $4)
        RETURNING id, bid_id, user_id, message, created_at
    `
	var created types.Notification
	err := s.db.QueryRowContext(ctx, query, n.ID, n.BidID, n.UserID, n.Message).Scan(
		&created.ID,
		&created.BidID,
		&created.UserID,
		&created.Message,
		&created.CreatedAt,
	)
	if err != nil {
		return types.Notification{}, fmt.Errorf("error creating notification: %w", err)
	}
	return created, nil
}
