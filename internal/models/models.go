package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrConflict  = errors.New("conflict")
	ErrNotMember = errors.New("not a member of this conversation")
	ErrInvalid   = errors.New("invalid request")
)

// Invalidf wraps ErrInvalid with a human-readable reason that is safe to
// return to the client.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

type UserStatus string

const (
	UserStatusOnline    UserStatus = "online"
	UserStatusOffline   UserStatus = "offline"
	UserStatusAway      UserStatus = "away"
	UserStatusBusy      UserStatus = "busy"
	UserStatusInvisible UserStatus = "invisible"
)

func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusOnline, UserStatusOffline, UserStatusAway, UserStatusBusy, UserStatusInvisible:
		return true
	}
	return false
}

type ConversationType string

const (
	ConversationDirect  ConversationType = "direct"
	ConversationGroup   ConversationType = "group"
	ConversationChannel ConversationType = "channel"
)

func (t ConversationType) Valid() bool {
	switch t {
	case ConversationDirect, ConversationGroup, ConversationChannel:
		return true
	}
	return false
}

type MemberRole string

const (
	RoleOwner     MemberRole = "owner"
	RoleAdmin     MemberRole = "admin"
	RoleModerator MemberRole = "moderator"
	RoleMember    MemberRole = "member"
)

func (r MemberRole) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleModerator, RoleMember:
		return true
	}
	return false
}

// CanModerate reports whether the role may delete other users' messages
// and manage conversation metadata/membership.
func (r MemberRole) CanModerate() bool {
	return r == RoleOwner || r == RoleAdmin
}

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageVideo  MessageType = "video"
	MessageAudio  MessageType = "audio"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageAudio, MessageFile, MessageSystem:
		return true
	}
	return false
}

type NotificationType string

const (
	NotificationMessage  NotificationType = "message"
	NotificationMention  NotificationType = "mention"
	NotificationReaction NotificationType = "reaction"
	NotificationSystem   NotificationType = "system"
)

// User is the messaging core's view of an account. Profile management is
// owned elsewhere; we read and write status, statusMessage and lastSeenAt.
type User struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	DisplayName   string     `json:"displayName"`
	AvatarURL     string     `json:"avatarUrl,omitempty"`
	Status        UserStatus `json:"status"`
	StatusMessage string     `json:"statusMessage,omitempty"`
	LastSeenAt    int64      `json:"lastSeenAt,omitempty"` // Unix timestamp (seconds)
}

// UserPresence is the volatile realtime counterpart of User.Status.
// Both are written through a single storage write path to avoid divergence.
type UserPresence struct {
	UserID                 string     `json:"userId"`
	Status                 UserStatus `json:"status"`
	LastActiveAt           int64      `json:"lastActiveAt"`
	IsTyping               bool       `json:"isTyping"`
	TypingInConversationID string     `json:"typingInConversationId,omitempty"`
}

type Contact struct {
	UserID    string `json:"userId"`
	ContactID string `json:"contactId"`
	Nickname  string `json:"nickname,omitempty"`
	IsBlocked bool   `json:"isBlocked"`
	AddedAt   int64  `json:"addedAt"`
}

type Conversation struct {
	ID            string           `json:"id"`
	Type          ConversationType `json:"type"`
	Name          string           `json:"name,omitempty"`
	Description   string           `json:"description,omitempty"`
	AvatarURL     string           `json:"avatarUrl,omitempty"`
	IsArchived    bool             `json:"isArchived"`
	IsPinned      bool             `json:"isPinned"`
	LastMessageID string           `json:"lastMessageId,omitempty"`
	LastMessageAt int64            `json:"lastMessageAt,omitempty"`
	CreatedByID   string           `json:"createdById"`
	CreatedAt     int64            `json:"createdAt"`
	UpdatedAt     int64            `json:"updatedAt"`
}

// ConversationMember is the join row between a user and a conversation.
// LeftAt == 0 means the membership is active.
type ConversationMember struct {
	ConversationID string     `json:"conversationId"`
	UserID         string     `json:"userId"`
	Role           MemberRole `json:"role"`
	UnreadCount    int        `json:"unreadCount"`
	LastReadAt     int64      `json:"lastReadAt,omitempty"`
	IsMuted        bool       `json:"isMuted"`
	JoinedAt       int64      `json:"joinedAt"`
	LeftAt         int64      `json:"leftAt,omitempty"`
}

func (m ConversationMember) Active() bool {
	return m.LeftAt == 0
}

// Message content is immutable once created except for the edit and delete
// flags. A deleted message keeps its row as a tombstone with nil content.
type Message struct {
	ID              string         `json:"id"`
	Seq             uint64         `json:"seq"`
	ConversationID  string         `json:"conversationId"`
	SenderID        string         `json:"senderId"`
	Type            MessageType    `json:"type"`
	Content         string         `json:"content,omitempty"`
	ContentHTML     string         `json:"contentHtml,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ReplyToID       string         `json:"replyToId,omitempty"`
	ForwardedFromID string         `json:"forwardedFromId,omitempty"`
	IsEdited        bool           `json:"isEdited"`
	EditedAt        int64          `json:"editedAt,omitempty"`
	IsDeleted       bool           `json:"isDeleted"`
	DeletedAt       int64          `json:"deletedAt,omitempty"`
	IsPinned        bool           `json:"isPinned"`
	CreatedAt       int64          `json:"createdAt"`
}

// Receipt tracks delivery and read state for one (message, recipient)
// pair. The sender never has a receipt row. Both flags are monotonic.
type Receipt struct {
	MessageID   string `json:"messageId"`
	UserID      string `json:"userId"`
	IsDelivered bool   `json:"isDelivered"`
	DeliveredAt int64  `json:"deliveredAt,omitempty"`
	IsRead      bool   `json:"isRead"`
	ReadAt      int64  `json:"readAt,omitempty"`
}

type Reaction struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
	CreatedAt int64  `json:"createdAt"`
}

// Notification is the durable mailbox entry for a user who was not live
// to receive a realtime push.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body,omitempty"`
	Data      map[string]any   `json:"data,omitempty"`
	IsRead    bool             `json:"isRead"`
	ReadAt    int64            `json:"readAt,omitempty"`
	CreatedAt int64            `json:"createdAt"`
}

// PushSubscription is a stored web push endpoint for one device.
type PushSubscription struct {
	UserID    string `json:"userId"`
	Endpoint  string `json:"endpoint"`
	P256dh    string `json:"p256dh"`
	Auth      string `json:"auth"`
	CreatedAt int64  `json:"createdAt"`
}

type Attachment struct {
	ID         string `json:"id"`
	FileName   string `json:"fileName"`
	FileSize   int64  `json:"fileSize"`
	MimeType   string `json:"mimeType"`
	UploadedBy string `json:"uploadedBy"`
	UploadedAt int64  `json:"uploadedAt"`
}
