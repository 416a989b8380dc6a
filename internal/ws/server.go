package ws

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"parley/internal/auth"
)

type Server struct {
	verifier *auth.Verifier
	hub      *Hub
	upgrader *websocket.Upgrader
}

func NewServer(verifier *auth.Verifier, hub *Hub) *Server {
	return &Server{
		verifier: verifier,
		hub:      hub,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleConnections authenticates the handshake and runs the connection
// until the client goes away. The token comes from the Authorization
// header, or the token query parameter for browser websocket clients that
// cannot set headers.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	claims, err := s.verifier.Verify(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	conn := NewConnection(s.hub, ws, uuid.NewString(), claims.UserID)
	if err := conn.Handle(r.Context()); err != nil {
		slog.Debug("websocket connection closed", "user", claims.UserID, "error", err)
	}
}
