package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"

	"parley/internal/models"
)

// Storeable is implemented by every record type persisted in bbolt.
type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

type DBUser struct {
	ID            string `msgpack:"id"`
	Username      string `msgpack:"username"`
	DisplayName   string `msgpack:"displayName"`
	AvatarURL     string `msgpack:"avatarUrl"`
	Status        string `msgpack:"status"`
	StatusMessage string `msgpack:"statusMessage"`
	LastSeenAt    int64  `msgpack:"lastSeenAt"`
}

func (u *DBUser) Key() []byte { return []byte(u.ID) }

func (u *DBUser) MarshalBinary() ([]byte, error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

func (u *DBUser) toModel() models.User {
	return models.User{
		ID:            u.ID,
		Username:      u.Username,
		DisplayName:   u.DisplayName,
		AvatarURL:     u.AvatarURL,
		Status:        models.UserStatus(u.Status),
		StatusMessage: u.StatusMessage,
		LastSeenAt:    u.LastSeenAt,
	}
}

type DBPresence struct {
	UserID                 string `msgpack:"userId"`
	Status                 string `msgpack:"status"`
	LastActiveAt           int64  `msgpack:"lastActiveAt"`
	IsTyping               bool   `msgpack:"isTyping"`
	TypingInConversationID string `msgpack:"typingInConversationId"`
}

func (p *DBPresence) Key() []byte { return []byte(p.UserID) }

func (p *DBPresence) MarshalBinary() ([]byte, error) {
	type alias DBPresence
	return msgpack.Marshal((*alias)(p))
}

func (p *DBPresence) UnmarshalBinary(data []byte) error {
	type alias DBPresence
	return msgpack.Unmarshal(data, (*alias)(p))
}

func (p *DBPresence) toModel() models.UserPresence {
	return models.UserPresence{
		UserID:                 p.UserID,
		Status:                 models.UserStatus(p.Status),
		LastActiveAt:           p.LastActiveAt,
		IsTyping:               p.IsTyping,
		TypingInConversationID: p.TypingInConversationID,
	}
}

// DBContact lives in a per-user nested bucket keyed by contact ID.
type DBContact struct {
	ContactID string `msgpack:"contactId"`
	Nickname  string `msgpack:"nickname"`
	IsBlocked bool   `msgpack:"isBlocked"`
	AddedAt   int64  `msgpack:"addedAt"`
}

func (c *DBContact) Key() []byte { return []byte(c.ContactID) }

func (c *DBContact) MarshalBinary() ([]byte, error) {
	type alias DBContact
	return msgpack.Marshal((*alias)(c))
}

func (c *DBContact) UnmarshalBinary(data []byte) error {
	type alias DBContact
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBConversation struct {
	ID            string `msgpack:"id"`
	Type          string `msgpack:"type"`
	Name          string `msgpack:"name"`
	Description   string `msgpack:"description"`
	AvatarURL     string `msgpack:"avatarUrl"`
	IsArchived    bool   `msgpack:"isArchived"`
	IsPinned      bool   `msgpack:"isPinned"`
	LastMessageID string `msgpack:"lastMessageId"`
	LastMessageAt int64  `msgpack:"lastMessageAt"`
	CreatedByID   string `msgpack:"createdById"`
	CreatedAt     int64  `msgpack:"createdAt"`
	UpdatedAt     int64  `msgpack:"updatedAt"`
}

func (c *DBConversation) Key() []byte { return []byte(c.ID) }

func (c *DBConversation) MarshalBinary() ([]byte, error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

func (c *DBConversation) toModel() models.Conversation {
	return models.Conversation{
		ID:            c.ID,
		Type:          models.ConversationType(c.Type),
		Name:          c.Name,
		Description:   c.Description,
		AvatarURL:     c.AvatarURL,
		IsArchived:    c.IsArchived,
		IsPinned:      c.IsPinned,
		LastMessageID: c.LastMessageID,
		LastMessageAt: c.LastMessageAt,
		CreatedByID:   c.CreatedByID,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

// DBMember lives in a per-conversation nested bucket keyed by user ID.
// LeftAt == 0 means active; at most one row per (conversation, user) pair
// exists by construction.
type DBMember struct {
	ConversationID string `msgpack:"conversationId"`
	UserID         string `msgpack:"userId"`
	Role           string `msgpack:"role"`
	UnreadCount    int    `msgpack:"unreadCount"`
	LastReadAt     int64  `msgpack:"lastReadAt"`
	IsMuted        bool   `msgpack:"isMuted"`
	JoinedAt       int64  `msgpack:"joinedAt"`
	LeftAt         int64  `msgpack:"leftAt"`
}

func (m *DBMember) Key() []byte { return []byte(m.UserID) }

func (m *DBMember) MarshalBinary() ([]byte, error) {
	type alias DBMember
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMember) UnmarshalBinary(data []byte) error {
	type alias DBMember
	return msgpack.Unmarshal(data, (*alias)(m))
}

func (m *DBMember) toModel() models.ConversationMember {
	return models.ConversationMember{
		ConversationID: m.ConversationID,
		UserID:         m.UserID,
		Role:           models.MemberRole(m.Role),
		UnreadCount:    m.UnreadCount,
		LastReadAt:     m.LastReadAt,
		IsMuted:        m.IsMuted,
		JoinedAt:       m.JoinedAt,
		LeftAt:         m.LeftAt,
	}
}

// DBMessage lives in a per-conversation nested bucket keyed by the
// big-endian sequence number, which doubles as the delivery ordering key.
type DBMessage struct {
	ID              string         `msgpack:"id"`
	Seq             uint64         `msgpack:"seq"`
	ConversationID  string         `msgpack:"conversationId"`
	SenderID        string         `msgpack:"senderId"`
	Type            string         `msgpack:"type"`
	Content         string         `msgpack:"content"`
	Metadata        map[string]any `msgpack:"metadata"`
	ReplyToID       string         `msgpack:"replyToId"`
	ForwardedFromID string         `msgpack:"forwardedFromId"`
	IsEdited        bool           `msgpack:"isEdited"`
	EditedAt        int64          `msgpack:"editedAt"`
	IsDeleted       bool           `msgpack:"isDeleted"`
	DeletedAt       int64          `msgpack:"deletedAt"`
	IsPinned        bool           `msgpack:"isPinned"`
	CreatedAt       int64          `msgpack:"createdAt"`
}

func (m *DBMessage) Key() []byte { return seqKey(m.Seq) }

func (m *DBMessage) MarshalBinary() ([]byte, error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func (m *DBMessage) toModel() models.Message {
	return models.Message{
		ID:              m.ID,
		Seq:             m.Seq,
		ConversationID:  m.ConversationID,
		SenderID:        m.SenderID,
		Type:            models.MessageType(m.Type),
		Content:         m.Content,
		Metadata:        m.Metadata,
		ReplyToID:       m.ReplyToID,
		ForwardedFromID: m.ForwardedFromID,
		IsEdited:        m.IsEdited,
		EditedAt:        m.EditedAt,
		IsDeleted:       m.IsDeleted,
		DeletedAt:       m.DeletedAt,
		IsPinned:        m.IsPinned,
		CreatedAt:       m.CreatedAt,
	}
}

// DBMessageRef maps a message ID to its conversation and sequence so
// by-ID lookups can find the row in the per-conversation bucket.
type DBMessageRef struct {
	ConversationID string `msgpack:"conversationId"`
	Seq            uint64 `msgpack:"seq"`
}

func (r *DBMessageRef) MarshalBinary() ([]byte, error) {
	type alias DBMessageRef
	return msgpack.Marshal((*alias)(r))
}

func (r *DBMessageRef) UnmarshalBinary(data []byte) error {
	type alias DBMessageRef
	return msgpack.Unmarshal(data, (*alias)(r))
}

// DBReceipt lives in a per-message nested bucket keyed by recipient ID.
type DBReceipt struct {
	MessageID   string `msgpack:"messageId"`
	UserID      string `msgpack:"userId"`
	IsDelivered bool   `msgpack:"isDelivered"`
	DeliveredAt int64  `msgpack:"deliveredAt"`
	IsRead      bool   `msgpack:"isRead"`
	ReadAt      int64  `msgpack:"readAt"`
}

func (r *DBReceipt) Key() []byte { return []byte(r.UserID) }

func (r *DBReceipt) MarshalBinary() ([]byte, error) {
	type alias DBReceipt
	return msgpack.Marshal((*alias)(r))
}

func (r *DBReceipt) UnmarshalBinary(data []byte) error {
	type alias DBReceipt
	return msgpack.Unmarshal(data, (*alias)(r))
}

func (r *DBReceipt) toModel() models.Receipt {
	return models.Receipt{
		MessageID:   r.MessageID,
		UserID:      r.UserID,
		IsDelivered: r.IsDelivered,
		DeliveredAt: r.DeliveredAt,
		IsRead:      r.IsRead,
		ReadAt:      r.ReadAt,
	}
}

// DBReaction lives in a per-message nested bucket keyed by userID|emoji,
// which makes the (message, user, emoji) triple unique by construction.
type DBReaction struct {
	MessageID string `msgpack:"messageId"`
	UserID    string `msgpack:"userId"`
	Emoji     string `msgpack:"emoji"`
	CreatedAt int64  `msgpack:"createdAt"`
}

func (r *DBReaction) Key() []byte { return []byte(r.UserID + "|" + r.Emoji) }

func (r *DBReaction) MarshalBinary() ([]byte, error) {
	type alias DBReaction
	return msgpack.Marshal((*alias)(r))
}

func (r *DBReaction) UnmarshalBinary(data []byte) error {
	type alias DBReaction
	return msgpack.Unmarshal(data, (*alias)(r))
}

func (r *DBReaction) toModel() models.Reaction {
	return models.Reaction{
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Emoji:     r.Emoji,
		CreatedAt: r.CreatedAt,
	}
}

// DBNotification lives in a per-user nested bucket keyed by sequence,
// so a cursor walk yields creation order.
type DBNotification struct {
	ID        string         `msgpack:"id"`
	Seq       uint64         `msgpack:"seq"`
	UserID    string         `msgpack:"userId"`
	Type      string         `msgpack:"type"`
	Title     string         `msgpack:"title"`
	Body      string         `msgpack:"body"`
	Data      map[string]any `msgpack:"data"`
	IsRead    bool           `msgpack:"isRead"`
	ReadAt    int64          `msgpack:"readAt"`
	CreatedAt int64          `msgpack:"createdAt"`
}

func (n *DBNotification) Key() []byte { return seqKey(n.Seq) }

func (n *DBNotification) MarshalBinary() ([]byte, error) {
	type alias DBNotification
	return msgpack.Marshal((*alias)(n))
}

func (n *DBNotification) UnmarshalBinary(data []byte) error {
	type alias DBNotification
	return msgpack.Unmarshal(data, (*alias)(n))
}

func (n *DBNotification) toModel() models.Notification {
	return models.Notification{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      models.NotificationType(n.Type),
		Title:     n.Title,
		Body:      n.Body,
		Data:      n.Data,
		IsRead:    n.IsRead,
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
	}
}

// DBPushSubscription lives in a per-user nested bucket keyed by endpoint.
type DBPushSubscription struct {
	Endpoint  string `msgpack:"endpoint"`
	P256dh    string `msgpack:"p256dh"`
	Auth      string `msgpack:"auth"`
	CreatedAt int64  `msgpack:"createdAt"`
}

func (s *DBPushSubscription) Key() []byte { return []byte(s.Endpoint) }

func (s *DBPushSubscription) MarshalBinary() ([]byte, error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(s))
}

func (s *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(s))
}

type DBAttachment struct {
	ID         string `msgpack:"id"`
	FileName   string `msgpack:"fileName"`
	FileSize   int64  `msgpack:"fileSize"`
	MimeType   string `msgpack:"mimeType"`
	UploadedBy string `msgpack:"uploadedBy"`
	UploadedAt int64  `msgpack:"uploadedAt"`
}

func (a *DBAttachment) Key() []byte { return []byte(a.ID) }

func (a *DBAttachment) MarshalBinary() ([]byte, error) {
	type alias DBAttachment
	return msgpack.Marshal((*alias)(a))
}

func (a *DBAttachment) UnmarshalBinary(data []byte) error {
	type alias DBAttachment
	return msgpack.Unmarshal(data, (*alias)(a))
}
