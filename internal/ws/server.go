package ws

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type tokenVerifier interface {
	GetUserID(token string) (string, error)
}

// Server upgrades authenticated HTTP requests to websocket connections and
// hands them to the hub. An invalid token fails before the upgrade and
// leaves no state behind.
type Server struct {
	auth      tokenVerifier
	hub       *Hub
	heartbeat time.Duration
	upgrader  *websocket.Upgrader
}

func NewServer(auth tokenVerifier, hub *Hub, heartbeat time.Duration) *Server {
	return &Server{
		auth:      auth,
		hub:       hub,
		heartbeat: heartbeat,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.GetUserID(bearerToken(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	c := NewConnection(s.hub, conn, userID, s.heartbeat)
	if err := c.Handle(r.Context()); err != nil {
		log.Printf("connection closed for user %s: %v", userID, err)
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if t := r.Header.Get("token"); t != "" {
		return t
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}
