package models

// ClientEventType enumerates events a connected client may send over the
// realtime channel.
type ClientEventType string

const (
	ClientJoinConversation  ClientEventType = "join_conversation"
	ClientLeaveConversation ClientEventType = "leave_conversation"
	ClientTypingStart       ClientEventType = "typing_start"
	ClientTypingStop        ClientEventType = "typing_stop"
	ClientMessageDelivered  ClientEventType = "message_delivered"
	ClientMessageRead       ClientEventType = "message_read"
	ClientUpdateStatus      ClientEventType = "update_status"
	ClientGetOnlineContacts ClientEventType = "get_online_contacts"
	ClientGetUserPresence   ClientEventType = "get_user_presence"
)

// ServerEventType enumerates events pushed to clients. Every payload
// carries enough identifying context (conversationId, messageId) for the
// client to apply it without a follow-up fetch.
type ServerEventType string

const (
	ServerNewMessage            ServerEventType = "new_message"
	ServerMessageNotification   ServerEventType = "message_notification"
	ServerMessageUpdated        ServerEventType = "message_updated"
	ServerReactionUpdated       ServerEventType = "reaction_updated"
	ServerTypingIndicator       ServerEventType = "typing_indicator"
	ServerContactStatusUpdate   ServerEventType = "contact_status_update"
	ServerMessageDeliveryUpdate ServerEventType = "message_delivery_update"
	ServerMessageReadUpdate     ServerEventType = "message_read_update"
	ServerNewNotification       ServerEventType = "new_notification"
	ServerUnreadCountUpdated    ServerEventType = "unread_count_updated"
	ServerJoinedConversation    ServerEventType = "joined_conversation"
	ServerLeftConversation      ServerEventType = "left_conversation"
	ServerOnlineContacts        ServerEventType = "online_contacts"
	ServerUserPresenceData      ServerEventType = "user_presence_data"
	ServerStatusUpdated         ServerEventType = "status_updated"
	ServerError                 ServerEventType = "error"
)

// ClientEvent is the flat request envelope read from the websocket.
type ClientEvent struct {
	Type           ClientEventType `json:"type"`
	ConversationID string          `json:"conversationId,omitempty"`
	MessageID      string          `json:"messageId,omitempty"`
	Status         UserStatus      `json:"status,omitempty"`
	StatusMessage  string          `json:"statusMessage,omitempty"`
	UserIDs        []string        `json:"userIds,omitempty"`
}

// ServerEvent is the flat response envelope written to the websocket.
type ServerEvent struct {
	Type           ServerEventType `json:"type"`
	ConversationID string          `json:"conversationId,omitempty"`
	MessageID      string          `json:"messageId,omitempty"`
	UserID         string          `json:"userId,omitempty"`
	Action         string          `json:"action,omitempty"`
	Message        *Message        `json:"message,omitempty"`
	Reaction       *Reaction       `json:"reaction,omitempty"`
	Receipt        *Receipt        `json:"receipt,omitempty"`
	Notification   *Notification   `json:"notification,omitempty"`
	User           *User           `json:"user,omitempty"`
	Contacts       []User          `json:"contacts,omitempty"`
	Presence       []UserPresence  `json:"presence,omitempty"`
	Status         UserStatus      `json:"status,omitempty"`
	StatusMessage  string          `json:"statusMessage,omitempty"`
	IsTyping       bool            `json:"isTyping,omitempty"`
	UnreadCount    int             `json:"unreadCount"`
	Error          string          `json:"error,omitempty"`
}
