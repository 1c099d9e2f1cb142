package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/closebid/market-server/internal/auth"
	"github.com/closebid/market-server/internal/settlement"
	"github.com/closebid/market-server/pkg/types"
)

// SettlementRunner is the engine as seen by the trigger endpoint.
type SettlementRunner interface {
	ProcessExpiredAuctions(ctx context.Context) (settlement.Result, error)
}

// Store is the slice of the database the HTTP layer needs.
type Store interface {
	GetUserByEmail(ctx context.Context, email string) (types.User, error)
	Health() map[string]string
}

type Handler struct {
	store         Store
	engine        SettlementRunner
	serviceSecret string
}

func New(store Store, engine SettlementRunner, serviceSecret string) *Handler {
	return &Handler{
		store:         store,
		engine:        engine,
		serviceSecret: serviceSecret,
	}
}

// Register mounts all routes on the given mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/jobs/close-expired-bids", h.HandleCloseExpiredBids)
	mux.HandleFunc("/users/lookup", h.HandleUserLookup)
	mux.HandleFunc("/health", h.HandleHealth)
}

// writeCORS mirrors the permissive headers browser clients expect on
// function endpoints.
func writeCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type closeExpiredResponse struct {
	Success bool `json:"success"`
	// Processed keeps the historical meaning: auctions fetched, not
	// auctions successfully settled. The split counts follow.
	Processed int `json:"processed"`
	Fetched   int `json:"fetched"`
	Settled   int `json:"settled"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// HandleCloseExpiredBids is the settlement trigger. Callers must present
// the service-level secret; end-user session tokens are not accepted.
func (h *Handler) HandleCloseExpiredBids(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := auth.CheckServiceSecret(r, h.serviceSecret); err != nil {
		log.Warn("Rejected settlement trigger", "remote", r.RemoteAddr, "error", err)
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	result, err := h.engine.ProcessExpiredAuctions(r.Context())
	if err != nil {
		log.Error("Settlement run failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, closeExpiredResponse{
		Success:   true,
		Processed: result.Fetched,
		Fetched:   result.Fetched,
		Settled:   result.Settled,
		Skipped:   result.Skipped,
		Failed:    result.Failed,
	})
}

type userLookupRequest struct {
	Email string `json:"email"`
}

type userLookupResponse struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// HandleUserLookup resolves a user by email for backend callers.
func (h *Handler) HandleUserLookup(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := auth.CheckServiceSecret(r, h.serviceSecret); err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req userLookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Error("User lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, userLookupResponse{
		ID:       user.ID,
		FullName: user.FullName,
		Email:    user.Email,
	})
}

// HandleHealth reports database health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.store.Health()
	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, stats)
}
