// Package dispatch fans persisted events out to the conversation audience.
// Fan-out runs after the durable write and is strictly best effort: a slow
// or broken connection can never fail a message that is already stored.
package dispatch

import (
	"log/slog"

	"parley/internal/content"
	"parley/internal/metrics"
	"parley/internal/models"
	"parley/internal/notify"
)

const previewLength = 120

type Store interface {
	ActiveMembers(conversationID string) ([]models.ConversationMember, error)
	GetUser(id string) (models.User, error)
}

// Hub delivers events to live connections. SendToMember picks the event by
// room focus: a client currently viewing the conversation gets the in-room
// payload, other connections get the out-of-room one.
type Hub interface {
	SendToUser(userID string, ev models.ServerEvent)
	SendToMember(userID, conversationID string, inRoom, outOfRoom models.ServerEvent)
}

type Online interface {
	IsOnline(userID string) bool
}

type Notifier interface {
	Enqueue(item notify.Item)
}

type Dispatcher struct {
	store    Store
	online   Online
	hub      Hub
	notifier Notifier
}

func New(store Store, online Online, notifier Notifier) *Dispatcher {
	return &Dispatcher{store: store, online: online, notifier: notifier}
}

func (d *Dispatcher) Bind(hub Hub) {
	d.hub = hub
}

// DispatchNewMessage pushes a freshly stored message to every other active
// member. Online members get a realtime event; offline members go to the
// notification side-channel. Muted members get realtime events but no
// notifications.
func (d *Dispatcher) DispatchNewMessage(msg models.Message) {
	members, err := d.store.ActiveMembers(msg.ConversationID)
	if err != nil {
		slog.Error("dispatch: audience lookup failed", "conversation", msg.ConversationID, "error", err)
		return
	}

	inRoom := models.ServerEvent{
		Type:           models.ServerNewMessage,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Message:        &msg,
	}
	outOfRoom := inRoom
	outOfRoom.Type = models.ServerMessageNotification

	for _, m := range members {
		if m.UserID == msg.SenderID {
			// The sender's own connections see the message too, so other
			// devices stay in sync.
			d.hub.SendToMember(m.UserID, msg.ConversationID, inRoom, outOfRoom)
			continue
		}
		if d.online.IsOnline(m.UserID) {
			d.hub.SendToMember(m.UserID, msg.ConversationID, inRoom, outOfRoom)
			metrics.DispatchPushes.WithLabelValues("online").Inc()
			continue
		}
		metrics.DispatchPushes.WithLabelValues("offline").Inc()
		if m.IsMuted {
			continue
		}
		d.notifier.Enqueue(notify.Item{
			UserID: m.UserID,
			Type:   models.NotificationMessage,
			Title:  d.senderName(msg.SenderID),
			Body:   content.Preview(msg.Content, previewLength),
			Data: map[string]any{
				"conversationId": msg.ConversationID,
				"messageId":      msg.ID,
			},
		})
	}
}

// DispatchMessageUpdate broadcasts an edit or delete to all online members.
// Action is "edited" or "deleted".
func (d *Dispatcher) DispatchMessageUpdate(msg models.Message, action string) {
	d.broadcast(msg.ConversationID, models.ServerEvent{
		Type:           models.ServerMessageUpdated,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Action:         action,
		Message:        &msg,
	})
}

// DispatchReactionUpdate broadcasts a reaction change. Action is "added"
// or "removed".
func (d *Dispatcher) DispatchReactionUpdate(msg models.Message, reaction models.Reaction, action string) {
	d.broadcast(msg.ConversationID, models.ServerEvent{
		Type:           models.ServerReactionUpdated,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Action:         action,
		Reaction:       &reaction,
	})
}

// DispatchTyping pushes a typing indicator to everyone in the conversation
// except the typist.
func (d *Dispatcher) DispatchTyping(conversationID, userID string, typing bool) {
	members, err := d.store.ActiveMembers(conversationID)
	if err != nil {
		slog.Error("dispatch: audience lookup failed", "conversation", conversationID, "error", err)
		return
	}
	ev := models.ServerEvent{
		Type:           models.ServerTypingIndicator,
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       typing,
	}
	for _, m := range members {
		if m.UserID == userID || !d.online.IsOnline(m.UserID) {
			continue
		}
		d.hub.SendToUser(m.UserID, ev)
	}
}

func (d *Dispatcher) broadcast(conversationID string, ev models.ServerEvent) {
	members, err := d.store.ActiveMembers(conversationID)
	if err != nil {
		slog.Error("dispatch: audience lookup failed", "conversation", conversationID, "error", err)
		return
	}
	for _, m := range members {
		if !d.online.IsOnline(m.UserID) {
			continue
		}
		d.hub.SendToUser(m.UserID, ev)
		metrics.DispatchPushes.WithLabelValues("online").Inc()
	}
}

func (d *Dispatcher) senderName(senderID string) string {
	user, err := d.store.GetUser(senderID)
	if err != nil {
		return "New message"
	}
	if user.DisplayName != "" {
		return user.DisplayName
	}
	return user.Username
}
