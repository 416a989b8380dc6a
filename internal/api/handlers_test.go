package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"parley/internal/auth"
	"parley/internal/dispatch"
	"parley/internal/filestore"
	"parley/internal/models"
	"parley/internal/notify"
	"parley/internal/presence"
	"parley/internal/receipts"
	"parley/internal/storage"
)

type nopHub struct{}

func (nopHub) SendToUser(string, models.ServerEvent)                               {}
func (nopHub) SendToMember(string, string, models.ServerEvent, models.ServerEvent) {}

type nobodyOnline struct{}

func (nobodyOnline) IsOnline(string) bool { return false }

type captureNotifier struct {
	items []notify.Item
}

func (c *captureNotifier) Enqueue(item notify.Item) { c.items = append(c.items, item) }

type testAPI struct {
	api      *API
	store    *storage.Store
	verifier *auth.Verifier
	notifier *captureNotifier
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store, err := storage.NewStore(filepath.Join(t.TempDir(), "api_test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	verifier, err := auth.NewVerifier(ctx, auth.Config{Secret: "api-test-secret", TokenExpiry: time.Hour})
	if err != nil {
		t.Fatalf("failed to create verifier: %v", err)
	}

	files, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create filestore: %v", err)
	}

	notifier := &captureNotifier{}
	dispatcher := dispatch.New(store, nobodyOnline{}, notifier)
	dispatcher.Bind(nopHub{})

	tracker := receipts.New(store)
	presenceEngine := presence.New(ctx, store, nobodyOnline{}, time.Second, time.Second)
	t.Cleanup(presenceEngine.Close)

	return &testAPI{
		api:      New(store, verifier, tracker, dispatcher, presenceEngine, files),
		store:    store,
		verifier: verifier,
		notifier: notifier,
	}
}

func (ta *testAPI) addUser(t *testing.T, id, username string) string {
	t.Helper()
	if err := ta.store.EnsureUser(id, username, strings.ToUpper(username[:1])+username[1:]); err != nil {
		t.Fatalf("failed to create user %s: %v", id, err)
	}
	token, err := ta.verifier.Issue(id, username, username)
	if err != nil {
		t.Fatalf("failed to issue token for %s: %v", id, err)
	}
	return token
}

// call runs a handler through the auth middleware the way the real mux does.
func (ta *testAPI) call(t *testing.T, handler http.HandlerFunc, method, token string, body any, pathValues map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, "/", reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}

	w := httptest.NewRecorder()
	ta.api.RequireAuth(handler)(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func (ta *testAPI) newConversation(t *testing.T, ownerToken string, memberIDs []string, convType models.ConversationType, name string) string {
	t.Helper()
	w := ta.call(t, ta.api.CreateConversationHandler, http.MethodPost, ownerToken, map[string]any{
		"type":      convType,
		"name":      name,
		"memberIds": memberIDs,
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating conversation, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody[struct {
		Conversation models.Conversation `json:"conversation"`
	}](t, w)
	return resp.Conversation.ID
}

func TestRequireAuth(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.call(t, ta.api.ListConversationsHandler, http.MethodGet, "", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	w = ta.call(t, ta.api.ListConversationsHandler, http.MethodGet, "garbage-token", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with bad token, got %d", w.Code)
	}

	// A valid token creates the user row on first use.
	token := ta.addUser(t, "u1", "alice")
	w = ta.call(t, ta.api.ListConversationsHandler, http.MethodGet, token, nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with valid token, got %d", w.Code)
	}
	if _, err := ta.store.GetUser("u1"); err != nil {
		t.Errorf("expected user row after authenticated request: %v", err)
	}
}

func TestSendMessageHandler(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.addUser(t, "u1", "alice")
	ta.addUser(t, "u2", "bob")
	convID := ta.newConversation(t, alice, []string{"u2"}, models.ConversationDirect, "")

	t.Run("valid message", func(t *testing.T) {
		w := ta.call(t, ta.api.SendMessageHandler, http.MethodPost, alice, map[string]any{
			"conversationId": convID,
			"content":        "hello **bob**",
		}, nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
		}
		resp := decodeBody[struct {
			Message models.Message `json:"message"`
		}](t, w)
		if resp.Message.Seq != 1 {
			t.Errorf("expected seq 1, got %d", resp.Message.Seq)
		}
		if !strings.Contains(resp.Message.ContentHTML, "<strong>bob</strong>") {
			t.Errorf("expected rendered html, got %q", resp.Message.ContentHTML)
		}
	})

	t.Run("offline recipient is queued for notification", func(t *testing.T) {
		if len(ta.notifier.items) == 0 {
			t.Fatal("expected a queued notification for the offline recipient")
		}
		item := ta.notifier.items[0]
		if item.UserID != "u2" {
			t.Errorf("expected notification for u2, got %s", item.UserID)
		}
		if item.Body != "hello bob" {
			t.Errorf("expected plain preview, got %q", item.Body)
		}
	})

	t.Run("script content is sanitized", func(t *testing.T) {
		w := ta.call(t, ta.api.SendMessageHandler, http.MethodPost, alice, map[string]any{
			"conversationId": convID,
			"content":        `<script>alert(1)</script>plain`,
		}, nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", w.Code)
		}
		resp := decodeBody[struct {
			Message models.Message `json:"message"`
		}](t, w)
		if strings.Contains(resp.Message.Content, "<script>") {
			t.Errorf("script survived sanitization: %q", resp.Message.Content)
		}
	})

	t.Run("missing content", func(t *testing.T) {
		w := ta.call(t, ta.api.SendMessageHandler, http.MethodPost, alice, map[string]any{
			"conversationId": convID,
		}, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("image message carries content in metadata", func(t *testing.T) {
		w := ta.call(t, ta.api.SendMessageHandler, http.MethodPost, alice, map[string]any{
			"conversationId": convID,
			"type":           "image",
			"metadata":       map[string]any{"attachmentId": "att-1"},
		}, nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201 for image without content, got %d: %s", w.Code, w.Body.String())
		}
		resp := decodeBody[struct {
			Message models.Message `json:"message"`
		}](t, w)
		if resp.Message.Type != models.MessageImage || resp.Message.Content != "" {
			t.Errorf("unexpected message: %+v", resp.Message)
		}
		if resp.Message.Metadata["attachmentId"] != "att-1" {
			t.Errorf("metadata lost: %+v", resp.Message.Metadata)
		}
	})

	t.Run("system message without content", func(t *testing.T) {
		w := ta.call(t, ta.api.SendMessageHandler, http.MethodPost, alice, map[string]any{
			"conversationId": convID,
			"type":           "system",
			"metadata":       map[string]any{"event": "member_added"},
		}, nil)
		if w.Code != http.StatusCreated {
			t.Errorf("expected 201 for system message, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("unknown message type", func(t *testing.T) {
		w := ta.call(t, ta.api.SendMessageHandler, http.MethodPost, alice, map[string]any{
			"conversationId": convID,
			"content":        "hi",
			"type":           "carrier_pigeon",
		}, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("non-member", func(t *testing.T) {
		mallory := ta.addUser(t, "u3", "mallory")
		w := ta.call(t, ta.api.SendMessageHandler, http.MethodPost, mallory, map[string]any{
			"conversationId": convID,
			"content":        "let me in",
		}, nil)
		if w.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", w.Code)
		}
	})

	t.Run("unknown conversation", func(t *testing.T) {
		w := ta.call(t, ta.api.SendMessageHandler, http.MethodPost, alice, map[string]any{
			"conversationId": "nope",
			"content":        "hi",
		}, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})
}

func TestListMessagesHandler(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.addUser(t, "u1", "alice")
	bob := ta.addUser(t, "u2", "bob")
	convID := ta.newConversation(t, alice, []string{"u2"}, models.ConversationDirect, "")

	for i := 1; i <= 3; i++ {
		w := ta.call(t, ta.api.SendMessageHandler, http.MethodPost, alice, map[string]any{
			"conversationId": convID,
			"content":        fmt.Sprintf("message %d", i),
		}, nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("send %d failed: %d", i, w.Code)
		}
	}

	pv := map[string]string{"conversationId": convID}

	w := ta.call(t, ta.api.ListMessagesHandler, http.MethodGet, bob, nil, pv)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decodeBody[struct {
		Messages []models.Message `json:"messages"`
	}](t, w)
	if len(resp.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(resp.Messages))
	}
	for i, msg := range resp.Messages {
		if msg.Seq != uint64(i+1) {
			t.Errorf("expected ascending order, message %d has seq %d", i, msg.Seq)
		}
	}

	// Opening history marks the conversation read.
	member, err := ta.store.GetMember(convID, "u2")
	if err != nil {
		t.Fatalf("failed to get member: %v", err)
	}
	if member.UnreadCount != 0 {
		t.Errorf("expected unread count reset after listing, got %d", member.UnreadCount)
	}

	t.Run("outsider", func(t *testing.T) {
		mallory := ta.addUser(t, "u3", "mallory")
		w := ta.call(t, ta.api.ListMessagesHandler, http.MethodGet, mallory, nil, pv)
		if w.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", w.Code)
		}
	})
}

func TestEditDeleteMessageHandlers(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.addUser(t, "u1", "alice")
	bob := ta.addUser(t, "u2", "bob")
	convID := ta.newConversation(t, alice, []string{"u2"}, models.ConversationDirect, "")

	w := ta.call(t, ta.api.SendMessageHandler, http.MethodPost, alice, map[string]any{
		"conversationId": convID,
		"content":        "original",
	}, nil)
	sent := decodeBody[struct {
		Message models.Message `json:"message"`
	}](t, w)
	pv := map[string]string{"messageId": sent.Message.ID}

	t.Run("non-sender cannot edit", func(t *testing.T) {
		w := ta.call(t, ta.api.EditMessageHandler, http.MethodPut, bob, map[string]any{"content": "hijacked"}, pv)
		if w.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", w.Code)
		}
	})

	t.Run("sender edits", func(t *testing.T) {
		w := ta.call(t, ta.api.EditMessageHandler, http.MethodPut, alice, map[string]any{"content": "fixed"}, pv)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		resp := decodeBody[struct {
			Message models.Message `json:"message"`
		}](t, w)
		if !resp.Message.IsEdited || resp.Message.Content != "fixed" {
			t.Errorf("expected edited message, got %+v", resp.Message)
		}
	})

	t.Run("sender deletes", func(t *testing.T) {
		w := ta.call(t, ta.api.DeleteMessageHandler, http.MethodDelete, alice, nil, pv)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		msg, err := ta.store.GetMessage(sent.Message.ID)
		if err != nil {
			t.Fatalf("tombstone should still resolve: %v", err)
		}
		if !msg.IsDeleted || msg.Content != "" {
			t.Errorf("expected tombstone, got %+v", msg)
		}
	})

	t.Run("deleted message cannot be edited", func(t *testing.T) {
		w := ta.call(t, ta.api.EditMessageHandler, http.MethodPut, alice, map[string]any{"content": "zombie"}, pv)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})
}

func TestReactionHandlers(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.addUser(t, "u1", "alice")
	bob := ta.addUser(t, "u2", "bob")
	convID := ta.newConversation(t, alice, []string{"u2"}, models.ConversationDirect, "")

	w := ta.call(t, ta.api.SendMessageHandler, http.MethodPost, alice, map[string]any{
		"conversationId": convID,
		"content":        "react to this",
	}, nil)
	sent := decodeBody[struct {
		Message models.Message `json:"message"`
	}](t, w)
	pv := map[string]string{"messageId": sent.Message.ID}

	w = ta.call(t, ta.api.AddReactionHandler, http.MethodPost, bob, map[string]any{"emoji": "👍"}, pv)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	t.Run("duplicate", func(t *testing.T) {
		w := ta.call(t, ta.api.AddReactionHandler, http.MethodPost, bob, map[string]any{"emoji": "👍"}, pv)
		if w.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", w.Code)
		}
	})

	t.Run("remove missing", func(t *testing.T) {
		w := ta.call(t, ta.api.RemoveReactionHandler, http.MethodDelete, alice, map[string]any{"emoji": "👍"}, pv)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})

	t.Run("remove", func(t *testing.T) {
		w := ta.call(t, ta.api.RemoveReactionHandler, http.MethodDelete, bob, map[string]any{"emoji": "👍"}, pv)
		if w.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", w.Code)
		}
	})
}

func TestMarkReadHandler(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.addUser(t, "u1", "alice")
	bob := ta.addUser(t, "u2", "bob")
	convID := ta.newConversation(t, alice, []string{"u2"}, models.ConversationDirect, "")

	w := ta.call(t, ta.api.SendMessageHandler, http.MethodPost, alice, map[string]any{
		"conversationId": convID,
		"content":        "read me",
	}, nil)
	sent := decodeBody[struct {
		Message models.Message `json:"message"`
	}](t, w)

	w = ta.call(t, ta.api.MarkReadHandler, http.MethodPut, bob, nil, map[string]string{"messageId": sent.Message.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody[struct {
		Receipt models.Receipt `json:"receipt"`
	}](t, w)
	if !resp.Receipt.IsRead || !resp.Receipt.IsDelivered {
		t.Errorf("expected read receipt implying delivery, got %+v", resp.Receipt)
	}

	t.Run("unknown message", func(t *testing.T) {
		w := ta.call(t, ta.api.MarkReadHandler, http.MethodPut, bob, nil, map[string]string{"messageId": "nope"})
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})
}

func TestConversationHandlers(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.addUser(t, "u1", "alice")
	bob := ta.addUser(t, "u2", "bob")

	t.Run("direct requires exactly one member", func(t *testing.T) {
		w := ta.call(t, ta.api.CreateConversationHandler, http.MethodPost, alice, map[string]any{
			"type":      "direct",
			"memberIds": []string{},
		}, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("group requires a name", func(t *testing.T) {
		w := ta.call(t, ta.api.CreateConversationHandler, http.MethodPost, alice, map[string]any{
			"type":      "group",
			"memberIds": []string{"u2"},
		}, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		w := ta.call(t, ta.api.CreateConversationHandler, http.MethodPost, alice, map[string]any{
			"type": "broadcast",
		}, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	convID := ta.newConversation(t, alice, []string{"u2"}, models.ConversationGroup, "devs")
	pv := map[string]string{"conversationId": convID}

	t.Run("update by owner", func(t *testing.T) {
		w := ta.call(t, ta.api.UpdateConversationHandler, http.MethodPut, alice, map[string]any{"name": "core devs"}, pv)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		resp := decodeBody[struct {
			Conversation models.Conversation `json:"conversation"`
		}](t, w)
		if resp.Conversation.Name != "core devs" {
			t.Errorf("expected renamed conversation, got %q", resp.Conversation.Name)
		}
	})

	t.Run("update by member", func(t *testing.T) {
		w := ta.call(t, ta.api.UpdateConversationHandler, http.MethodPut, bob, map[string]any{"name": "bobs place"}, pv)
		if w.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", w.Code)
		}
	})

	t.Run("member cannot add members", func(t *testing.T) {
		ta.addUser(t, "u3", "carol")
		w := ta.call(t, ta.api.AddMemberHandler, http.MethodPost, bob, map[string]any{"userId": "u3"}, pv)
		if w.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", w.Code)
		}
	})

	t.Run("owner adds member", func(t *testing.T) {
		w := ta.call(t, ta.api.AddMemberHandler, http.MethodPost, alice, map[string]any{"userId": "u3"}, pv)
		if w.Code != http.StatusCreated {
			t.Errorf("expected 201, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("owner role cannot be granted", func(t *testing.T) {
		ta.addUser(t, "u4", "dave")
		w := ta.call(t, ta.api.AddMemberHandler, http.MethodPost, alice, map[string]any{"userId": "u4", "role": "owner"}, pv)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("member leaves", func(t *testing.T) {
		w := ta.call(t, ta.api.RemoveMemberHandler, http.MethodDelete, bob, nil, map[string]string{
			"conversationId": convID,
			"userId":         "u2",
		})
		if w.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", w.Code)
		}
	})

	t.Run("former member is locked out", func(t *testing.T) {
		w := ta.call(t, ta.api.ListMembersHandler, http.MethodGet, bob, nil, pv)
		if w.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", w.Code)
		}
	})
}

func TestContactHandlers(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.addUser(t, "u1", "alice")
	ta.addUser(t, "u2", "bob")

	t.Run("self add", func(t *testing.T) {
		w := ta.call(t, ta.api.AddContactHandler, http.MethodPost, alice, map[string]any{"contactId": "u1"}, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("unknown contact", func(t *testing.T) {
		w := ta.call(t, ta.api.AddContactHandler, http.MethodPost, alice, map[string]any{"contactId": "ghost"}, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})

	w := ta.call(t, ta.api.AddContactHandler, http.MethodPost, alice, map[string]any{"contactId": "u2"}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	t.Run("duplicate", func(t *testing.T) {
		w := ta.call(t, ta.api.AddContactHandler, http.MethodPost, alice, map[string]any{"contactId": "u2"}, nil)
		if w.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", w.Code)
		}
	})

	t.Run("block hides the contact", func(t *testing.T) {
		w := ta.call(t, ta.api.BlockContactHandler, http.MethodPut, alice, map[string]any{"blocked": true}, map[string]string{"contactId": "u2"})
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		w = ta.call(t, ta.api.ListContactsHandler, http.MethodGet, alice, nil, nil)
		resp := decodeBody[struct {
			Contacts []models.User `json:"contacts"`
		}](t, w)
		if len(resp.Contacts) != 0 {
			t.Errorf("expected blocked contact hidden, got %d contacts", len(resp.Contacts))
		}
	})
}

func TestNotificationHandlers(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.addUser(t, "u1", "alice")

	for i := 1; i <= 3; i++ {
		_, err := ta.store.CreateNotification(storage.CreateNotificationParams{
			UserID: "u1",
			Type:   models.NotificationMessage,
			Title:  fmt.Sprintf("notification %d", i),
		})
		if err != nil {
			t.Fatalf("failed to create notification: %v", err)
		}
	}

	w := ta.call(t, ta.api.ListNotificationsHandler, http.MethodGet, alice, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decodeBody[struct {
		Notifications []models.Notification `json:"notifications"`
		UnreadCount   int                   `json:"unreadCount"`
	}](t, w)
	if len(resp.Notifications) != 3 || resp.UnreadCount != 3 {
		t.Fatalf("expected 3 unread notifications, got %d with unread %d", len(resp.Notifications), resp.UnreadCount)
	}

	t.Run("mark one read", func(t *testing.T) {
		w := ta.call(t, ta.api.MarkNotificationReadHandler, http.MethodPut, alice, nil, map[string]string{
			"notificationId": resp.Notifications[0].ID,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	})

	t.Run("mark all read", func(t *testing.T) {
		w := ta.call(t, ta.api.MarkAllNotificationsReadHandler, http.MethodPost, alice, nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		marked := decodeBody[struct {
			Marked int `json:"marked"`
		}](t, w)
		if marked.Marked != 2 {
			t.Errorf("expected 2 remaining marked, got %d", marked.Marked)
		}
	})

	t.Run("someone else's notification", func(t *testing.T) {
		bob := ta.addUser(t, "u2", "bob")
		w := ta.call(t, ta.api.MarkNotificationReadHandler, http.MethodPut, bob, nil, map[string]string{
			"notificationId": resp.Notifications[0].ID,
		})
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})
}

func TestPushSubscriptionHandlers(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.addUser(t, "u1", "alice")

	t.Run("missing keys", func(t *testing.T) {
		w := ta.call(t, ta.api.SubscribePushHandler, http.MethodPost, alice, map[string]any{
			"endpoint": "https://push.example/ep1",
		}, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	w := ta.call(t, ta.api.SubscribePushHandler, http.MethodPost, alice, map[string]any{
		"endpoint": "https://push.example/ep1",
		"keys":     map[string]string{"p256dh": "pk", "auth": "ak"},
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	subs, err := ta.store.ListPushSubscriptions("u1")
	if err != nil || len(subs) != 1 {
		t.Fatalf("expected 1 subscription, got %d (err %v)", len(subs), err)
	}

	w = ta.call(t, ta.api.UnsubscribePushHandler, http.MethodDelete, alice, map[string]any{
		"endpoint": "https://push.example/ep1",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	subs, _ = ta.store.ListPushSubscriptions("u1")
	if len(subs) != 0 {
		t.Errorf("expected subscription removed, got %d", len(subs))
	}
}

func TestAttachmentHandlers(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.addUser(t, "u1", "alice")

	// Smallest valid PNG.
	png, err := base64.StdEncoding.DecodeString("iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII=")
	if err != nil {
		t.Fatalf("failed to decode fixture: %v", err)
	}

	upload := func(t *testing.T, data []byte) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/attachments?filename=dot.png", bytes.NewReader(data))
		token, _ := ta.verifier.Issue("u1", "alice", "alice")
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		ta.api.RequireAuth(ta.api.UploadAttachmentHandler)(w, req)
		return w
	}

	w := upload(t, png)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody[struct {
		Attachment models.Attachment `json:"attachment"`
	}](t, w)
	if resp.Attachment.MimeType != "image/png" {
		t.Errorf("expected sniffed mime type image/png, got %q", resp.Attachment.MimeType)
	}
	if resp.Attachment.FileName != "dot.png" {
		t.Errorf("expected filename from query, got %q", resp.Attachment.FileName)
	}

	t.Run("download", func(t *testing.T) {
		w := ta.call(t, ta.api.GetAttachmentHandler, http.MethodGet, alice, nil, map[string]string{
			"attachmentId": resp.Attachment.ID,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "image/png" {
			t.Errorf("expected image/png, got %q", ct)
		}
		if !bytes.Equal(w.Body.Bytes(), png) {
			t.Error("downloaded bytes do not match the upload")
		}
	})

	t.Run("unrecognized bytes", func(t *testing.T) {
		w := upload(t, []byte("just some text"))
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("unknown attachment", func(t *testing.T) {
		w := ta.call(t, ta.api.GetAttachmentHandler, http.MethodGet, alice, nil, map[string]string{
			"attachmentId": "nope",
		})
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})
}

func TestGetPresenceHandler(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.addUser(t, "u1", "alice")
	ta.addUser(t, "u2", "bob")

	w := ta.call(t, ta.api.GetPresenceHandler, http.MethodGet, alice, nil, map[string]string{"userId": "u2"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decodeBody[struct {
		Presence models.UserPresence `json:"presence"`
	}](t, w)
	if resp.Presence.Status != models.UserStatusOffline {
		t.Errorf("expected offline for a user with no connection, got %q", resp.Presence.Status)
	}
}
