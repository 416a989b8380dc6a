// Package api is the REST surface of the messaging core. Handlers decode,
// authorize through the storage layer's own checks, and translate sentinel
// errors to status codes; all realtime side effects go through the
// dispatcher after the durable write.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"parley/internal/auth"
	"parley/internal/content"
	"parley/internal/dispatch"
	"parley/internal/filestore"
	"parley/internal/models"
	"parley/internal/presence"
	"parley/internal/receipts"
	"parley/internal/storage"
)

const maxUploadSize = 25 << 20

type API struct {
	store      *storage.Store
	verifier   *auth.Verifier
	tracker    *receipts.Tracker
	dispatcher *dispatch.Dispatcher
	presence   *presence.Engine
	files      *filestore.Store
}

func New(store *storage.Store, verifier *auth.Verifier, tracker *receipts.Tracker, dispatcher *dispatch.Dispatcher, presenceEngine *presence.Engine, files *filestore.Store) *API {
	return &API{
		store:      store,
		verifier:   verifier,
		tracker:    tracker,
		dispatcher: dispatcher,
		presence:   presenceEngine,
		files:      files,
	}
}

type ctxKey int

const claimsKey ctxKey = 0

// RequireAuth verifies the bearer token and makes the caller's identity
// available to the handler. The user row is refreshed from the claims so
// later membership checks always have someone to point at.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		claims, err := a.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		if err := a.store.EnsureUser(claims.UserID, claims.Username, claims.DisplayName); err != nil {
			slog.Error("failed to ensure user", "user", claims.UserID, "error", err)
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return r.URL.Query().Get("token")
}

func caller(r *http.Request) auth.Claims {
	claims, _ := r.Context().Value(claimsKey).(auth.Claims)
	return claims
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps sentinel errors onto the HTTP taxonomy. Membership
// is not secret to members, so permission failures on visible resources
// are 403, and genuine absence is 404.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotMember), errors.Is(err, models.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return models.Invalidf("invalid request body")
	}
	return nil
}

// withHTML fills the rendered HTML for a message payload. Tombstones stay
// empty.
func withHTML(msg models.Message) models.Message {
	if msg.IsDeleted || msg.Content == "" {
		return msg
	}
	html, err := content.RenderHTML(msg.Content)
	if err != nil {
		slog.Error("failed to render message", "message", msg.ID, "error", err)
		return msg
	}
	msg.ContentHTML = html
	return msg
}

type sendMessageRequest struct {
	ConversationID  string             `json:"conversationId"`
	Content         string             `json:"content"`
	Type            models.MessageType `json:"type"`
	ReplyToID       string             `json:"replyToId,omitempty"`
	ForwardedFromID string             `json:"forwardedFromId,omitempty"`
	Metadata        map[string]any     `json:"metadata,omitempty"`
}

// SendMessageHandler persists the message in one transaction and fans it
// out afterwards. The 201 means the message is durable regardless of how
// fan-out goes.
func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decode(r, &req); err != nil {
		writeStoreError(w, err)
		return
	}
	if req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "conversationId is required")
		return
	}
	if req.Type == "" {
		req.Type = models.MessageText
	}
	if !req.Type.Valid() {
		writeError(w, http.StatusBadRequest, "unknown message type")
		return
	}
	// Text messages need a body; attachment and system messages may carry
	// everything in metadata.
	if req.Content == "" && req.Type == models.MessageText {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	msg, err := a.store.AppendMessage(storage.AppendMessageParams{
		ConversationID:  req.ConversationID,
		SenderID:        caller(r).UserID,
		Type:            req.Type,
		Content:         content.Sanitize(req.Content),
		Metadata:        req.Metadata,
		ReplyToID:       req.ReplyToID,
		ForwardedFromID: req.ForwardedFromID,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	msg = withHTML(msg)
	a.dispatcher.DispatchNewMessage(msg)
	writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

// ListMessagesHandler returns conversation history ascending and, as a
// side effect, marks everything as read for the caller.
func (a *API) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	userID := caller(r).UserID

	if _, err := a.store.GetMember(conversationID, userID); err != nil {
		writeStoreError(w, err)
		return
	}

	q := r.URL.Query()
	filter := storage.MessageFilter{
		Limit:  queryInt(q.Get("limit")),
		Offset: queryInt(q.Get("offset")),
		Before: queryInt64(q.Get("before")),
		After:  queryInt64(q.Get("after")),
	}
	messages, err := a.store.ListMessages(conversationID, filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	for i := range messages {
		messages[i] = withHTML(messages[i])
	}

	// Opening a conversation reads it.
	if _, err := a.tracker.MarkAllRead(conversationID, userID); err != nil {
		slog.Error("failed to mark conversation read", "conversation", conversationID, "user", userID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (a *API) EditMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decode(r, &req); err != nil {
		writeStoreError(w, err)
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	msg, err := a.store.EditMessage(r.PathValue("messageId"), caller(r).UserID, content.Sanitize(req.Content))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	msg = withHTML(msg)
	a.dispatcher.DispatchMessageUpdate(msg, "edited")
	writeJSON(w, http.StatusOK, map[string]any{"message": msg})
}

func (a *API) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	msg, err := a.store.DeleteMessage(r.PathValue("messageId"), caller(r).UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	a.dispatcher.DispatchMessageUpdate(msg, "deleted")
	writeJSON(w, http.StatusOK, map[string]any{"message": msg})
}

func (a *API) AddReactionHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := decode(r, &req); err != nil {
		writeStoreError(w, err)
		return
	}
	if req.Emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji is required")
		return
	}

	messageID := r.PathValue("messageId")
	reaction, err := a.store.AddReaction(messageID, caller(r).UserID, req.Emoji)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if msg, err := a.store.GetMessage(messageID); err == nil {
		a.dispatcher.DispatchReactionUpdate(msg, reaction, "added")
	}
	writeJSON(w, http.StatusCreated, map[string]any{"reaction": reaction})
}

func (a *API) RemoveReactionHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := decode(r, &req); err != nil {
		writeStoreError(w, err)
		return
	}

	messageID := r.PathValue("messageId")
	userID := caller(r).UserID
	if err := a.store.RemoveReaction(messageID, userID, req.Emoji); err != nil {
		writeStoreError(w, err)
		return
	}

	if msg, err := a.store.GetMessage(messageID); err == nil {
		a.dispatcher.DispatchReactionUpdate(msg, models.Reaction{
			MessageID: messageID,
			UserID:    userID,
			Emoji:     req.Emoji,
		}, "removed")
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	receipt, err := a.tracker.MarkRead(r.PathValue("messageId"), caller(r).UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipt": receipt})
}

func queryInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func queryInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
