package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"parley/internal/api"
	"parley/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(handlers *api.API, wsServer *ws.Server, addr string) *APIServer {
	mux := http.NewServeMux()

	// Messages
	mux.HandleFunc("POST /messages/send", handlers.RequireAuth(handlers.SendMessageHandler))
	mux.HandleFunc("GET /messages/conversations", handlers.RequireAuth(handlers.ListConversationsHandler))
	mux.HandleFunc("POST /messages/conversations", handlers.RequireAuth(handlers.CreateConversationHandler))
	mux.HandleFunc("GET /messages/conversations/{conversationId}", handlers.RequireAuth(handlers.ListMessagesHandler))
	mux.HandleFunc("PUT /messages/conversations/{conversationId}", handlers.RequireAuth(handlers.UpdateConversationHandler))
	mux.HandleFunc("GET /messages/conversations/{conversationId}/members", handlers.RequireAuth(handlers.ListMembersHandler))
	mux.HandleFunc("POST /messages/conversations/{conversationId}/members", handlers.RequireAuth(handlers.AddMemberHandler))
	mux.HandleFunc("DELETE /messages/conversations/{conversationId}/members/{userId}", handlers.RequireAuth(handlers.RemoveMemberHandler))
	mux.HandleFunc("PUT /messages/{messageId}", handlers.RequireAuth(handlers.EditMessageHandler))
	mux.HandleFunc("DELETE /messages/{messageId}", handlers.RequireAuth(handlers.DeleteMessageHandler))
	mux.HandleFunc("POST /messages/{messageId}/reactions", handlers.RequireAuth(handlers.AddReactionHandler))
	mux.HandleFunc("DELETE /messages/{messageId}/reactions", handlers.RequireAuth(handlers.RemoveReactionHandler))
	mux.HandleFunc("PUT /messages/{messageId}/read", handlers.RequireAuth(handlers.MarkReadHandler))

	// Notifications
	mux.HandleFunc("GET /notifications", handlers.RequireAuth(handlers.ListNotificationsHandler))
	mux.HandleFunc("PUT /notifications/{notificationId}/read", handlers.RequireAuth(handlers.MarkNotificationReadHandler))
	mux.HandleFunc("POST /notifications/read-all", handlers.RequireAuth(handlers.MarkAllNotificationsReadHandler))
	mux.HandleFunc("POST /push/subscriptions", handlers.RequireAuth(handlers.SubscribePushHandler))
	mux.HandleFunc("DELETE /push/subscriptions", handlers.RequireAuth(handlers.UnsubscribePushHandler))

	// Contacts and presence
	mux.HandleFunc("GET /contacts", handlers.RequireAuth(handlers.ListContactsHandler))
	mux.HandleFunc("POST /contacts", handlers.RequireAuth(handlers.AddContactHandler))
	mux.HandleFunc("PUT /contacts/{contactId}/block", handlers.RequireAuth(handlers.BlockContactHandler))
	mux.HandleFunc("GET /presence/{userId}", handlers.RequireAuth(handlers.GetPresenceHandler))

	// Attachments
	mux.HandleFunc("POST /attachments", handlers.RequireAuth(handlers.UploadAttachmentHandler))
	mux.HandleFunc("GET /attachments/{attachmentId}", handlers.RequireAuth(handlers.GetAttachmentHandler))

	// Realtime channel
	mux.HandleFunc("GET /realtime", wsServer.HandleConnections)

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
	log.Printf("API server started on %s", s.server.Addr)
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
