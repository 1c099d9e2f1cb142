package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/closebid/market-server/internal/auth"
	"github.com/closebid/market-server/pkg/types"
)

// UserDirectory resolves authenticated sessions to known users.
type UserDirectory interface {
	GetUserByEmail(ctx context.Context, email string) (types.User, error)
}

// Hub fans settlement events out to connected clients.
type Hub struct {
	directory UserDirectory

	clientLock sync.Mutex
	clients    map[*Client]bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func NewHub(directory UserDirectory) *Hub {
	return &Hub{
		directory: directory,
		clients:   make(map[*Client]bool),
	}
}

// HandleSettlementFeed integrates authentication and WebSocket handling.
func (h *Hub) HandleSettlementFeed(w http.ResponseWriter, r *http.Request) {
	// Validate the token from the cookie
	token, err := auth.ValidateTokenFromCookie(r)
	if err != nil || token == nil {
		log.Error("Invalid token: ", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var email string
	err = token.Get("email", &email)
	if err != nil {
		log.Error("Error retrieving email from token claims")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Check if the user exists
	user, err := h.directory.GetUserByEmail(r.Context(), email)
	if err != nil {
		log.Error("User not found: ", err)
		http.Error(w, "User not found", http.StatusUnauthorized)
		return
	}

	h.serve(w, r, user)
}

// serve upgrades the HTTP request to a WebSocket connection.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, user types.User) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Infof("Failed to upgrade connection: %v", err)
		http.Error(w, "Failed to establish connection", http.StatusInternalServerError)
		return
	}

	// Initialize a new client
	client := &Client{
		ID:          user.ID,
		Email:       user.Email,
		Conn:        conn,
		Send:        make(chan []byte),
		RateLimiter: rate.NewLimiter(1, 3),
	}

	h.clientLock.Lock()
	h.clients[client] = true
	h.clientLock.Unlock()

	// Start handling the client
	go client.ReadMessages(h, h.HandleMessage)
	go client.WriteMessages()
}

// remove drops a client from the hub.
func (h *Hub) remove(client *Client) {
	h.clientLock.Lock()
	delete(h.clients, client)
	h.clientLock.Unlock()
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(message []byte) {
	h.clientLock.Lock()
	defer h.clientLock.Unlock()

	for client := range h.clients {
		select {
		case client.Send <- message:
		default:
			// Remove disconnected clients
			delete(h.clients, client)
			client.Disconnect(nil)
		}
	}
}
