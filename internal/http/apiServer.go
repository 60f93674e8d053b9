package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"palaver/internal/api"
	"palaver/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(handlers *api.API, wsServer *ws.Server, addr string) *APIServer {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/me", handlers.RequireAuth(handlers.MeHandler))
	mux.HandleFunc("GET /api/users", handlers.RequireAuth(handlers.UsersHandler))

	mux.HandleFunc("GET /api/rooms", handlers.RequireAuth(handlers.RoomsHandler))
	mux.HandleFunc("POST /api/rooms/direct", handlers.RequireAuth(handlers.CreateDirectHandler))
	mux.HandleFunc("POST /api/rooms/group", handlers.RequireAuth(handlers.CreateGroupHandler))
	mux.HandleFunc("POST /api/rooms/support", handlers.RequireAuth(handlers.CreateSupportHandler))
	mux.HandleFunc("POST /api/rooms/{id}/join", handlers.RequireAuth(handlers.JoinSupportHandler))
	mux.HandleFunc("POST /api/rooms/{id}/resolve", handlers.RequireAuth(handlers.ResolveSupportHandler))
	mux.HandleFunc("POST /api/rooms/{id}/leave", handlers.RequireAuth(handlers.LeaveRoomHandler))
	mux.HandleFunc("POST /api/rooms/{id}/hide", handlers.RequireAuth(handlers.HideRoomHandler))
	mux.HandleFunc("POST /api/rooms/{id}/read", handlers.RequireAuth(handlers.MarkReadHandler))

	mux.HandleFunc("GET /api/rooms/{id}/messages", handlers.RequireAuth(handlers.HistoryHandler))
	mux.HandleFunc("POST /api/rooms/{id}/messages", handlers.RequireAuth(handlers.PostMessageHandler))
	mux.HandleFunc("PATCH /api/messages/{id}", handlers.RequireAuth(handlers.EditMessageHandler))
	mux.HandleFunc("DELETE /api/messages/{id}", handlers.RequireAuth(handlers.DeleteMessageHandler))

	mux.HandleFunc("POST /api/upload", handlers.RequireAuth(handlers.UploadHandler))
	mux.HandleFunc("GET /api/attachments/{id}", handlers.RequireAuth(handlers.GetAttachmentHandler))

	mux.HandleFunc("POST /api/push/subscribe", handlers.RequireAuth(handlers.PushSubscribeHandler))

	// WebSocket endpoint
	mux.HandleFunc("/api/chat", wsServer.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
