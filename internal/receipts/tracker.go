// Package receipts applies delivery and read acknowledgments and echoes
// the resulting state changes to the interested parties: the message
// sender sees the acknowledgment, the reader sees their new unread count.
package receipts

import (
	"fmt"
	"log/slog"

	"parley/internal/models"
)

type Store interface {
	MarkDelivered(messageID, userID string) (models.Receipt, bool, error)
	MarkRead(messageID, userID string) (models.Receipt, bool, error)
	MarkAllRead(conversationID, userID string) ([]models.Message, error)
	GetMessage(messageID string) (models.Message, error)
	GetMember(conversationID, userID string) (models.ConversationMember, error)
}

type Sender interface {
	SendToUser(userID string, ev models.ServerEvent)
}

type Tracker struct {
	store  Store
	sender Sender
}

func New(store Store) *Tracker {
	return &Tracker{store: store}
}

func (t *Tracker) Bind(sender Sender) {
	t.sender = sender
}

// MarkDelivered acknowledges delivery of one message for one recipient.
// The durable write happens first; the echo to the sender is best effort.
func (t *Tracker) MarkDelivered(messageID, userID string) (models.Receipt, error) {
	receipt, changed, err := t.store.MarkDelivered(messageID, userID)
	if err != nil {
		return models.Receipt{}, fmt.Errorf("failed to mark delivered: %w", err)
	}
	if changed {
		t.echoToSender(messageID, models.ServerMessageDeliveryUpdate, receipt)
	}
	return receipt, nil
}

// MarkRead acknowledges a read. On the first transition the sender gets a
// read update and the reader's connections get their new unread count.
func (t *Tracker) MarkRead(messageID, userID string) (models.Receipt, error) {
	receipt, changed, err := t.store.MarkRead(messageID, userID)
	if err != nil {
		return models.Receipt{}, fmt.Errorf("failed to mark read: %w", err)
	}
	if !changed {
		return receipt, nil
	}

	t.echoToSender(messageID, models.ServerMessageReadUpdate, receipt)

	msg, err := t.store.GetMessage(messageID)
	if err != nil {
		slog.Error("receipts: message lookup failed", "message", messageID, "error", err)
		return receipt, nil
	}
	t.pushUnreadCount(msg.ConversationID, userID)
	return receipt, nil
}

// MarkAllRead acknowledges everything unread in a conversation at once and
// echoes a read update per affected message.
func (t *Tracker) MarkAllRead(conversationID, userID string) (int, error) {
	changed, err := t.store.MarkAllRead(conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all read: %w", err)
	}

	if t.sender != nil {
		for _, msg := range changed {
			t.sender.SendToUser(msg.SenderID, models.ServerEvent{
				Type:           models.ServerMessageReadUpdate,
				ConversationID: conversationID,
				MessageID:      msg.ID,
				UserID:         userID,
			})
		}
	}
	if len(changed) > 0 {
		t.pushUnreadCount(conversationID, userID)
	}
	return len(changed), nil
}

func (t *Tracker) echoToSender(messageID string, evType models.ServerEventType, receipt models.Receipt) {
	if t.sender == nil {
		return
	}
	msg, err := t.store.GetMessage(messageID)
	if err != nil {
		slog.Error("receipts: message lookup failed", "message", messageID, "error", err)
		return
	}
	t.sender.SendToUser(msg.SenderID, models.ServerEvent{
		Type:           evType,
		ConversationID: msg.ConversationID,
		MessageID:      messageID,
		UserID:         receipt.UserID,
		Receipt:        &receipt,
	})
}

func (t *Tracker) pushUnreadCount(conversationID, userID string) {
	if t.sender == nil {
		return
	}
	member, err := t.store.GetMember(conversationID, userID)
	if err != nil {
		slog.Error("receipts: member lookup failed", "conversation", conversationID, "user", userID, "error", err)
		return
	}
	t.sender.SendToUser(userID, models.ServerEvent{
		Type:           models.ServerUnreadCountUpdated,
		ConversationID: conversationID,
		UserID:         userID,
		UnreadCount:    member.UnreadCount,
	})
}
