package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/google/uuid"

	"parley/internal/auth"
	"parley/internal/storage"
)

// Stats is the connection registry view the admin surface reports.
type Stats interface {
	OnlineUsers() []string
	Connections() int
}

// AdminHandler provisions accounts, mints their tokens and reports
// runtime stats. It listens on the admin address only and is additionally
// basic-auth gated when a password is configured.
type AdminHandler struct {
	store    *storage.Store
	verifier *auth.Verifier
	stats    Stats
	password string
}

func NewAdminHandler(store *storage.Store, verifier *auth.Verifier, stats Stats, password string) *AdminHandler {
	return &AdminHandler{store: store, verifier: verifier, stats: stats, password: password}
}

type AddUserRequest struct {
	ID          string `json:"id,omitempty"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
}

type AddUserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

func (h *AdminHandler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if h.password == "" {
		return true
	}
	_, pass, ok := r.BasicAuth()
	if !ok || subtle.ConstantTimeCompare([]byte(pass), []byte(h.password)) != 1 {
		w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	return true
}

func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var req AddUserRequest
	if err := decode(r, &req); err != nil {
		writeStoreError(w, err)
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	if err := h.store.EnsureUser(req.ID, req.Username, req.DisplayName); err != nil {
		writeStoreError(w, err)
		return
	}
	token, err := h.verifier.Issue(req.ID, req.Username, req.DisplayName)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AddUserResponse{
		ID:       req.ID,
		Username: req.Username,
		Token:    token,
	})
}

func (h *AdminHandler) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	users, err := h.store.ListUsers()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// StatsHandler reports the live connection state: who is connected and
// how many endpoints they hold in total.
func (h *AdminHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	online := h.stats.OnlineUsers()
	writeJSON(w, http.StatusOK, map[string]any{
		"onlineUsers": online,
		"onlineCount": len(online),
		"connections": h.stats.Connections(),
	})
}
