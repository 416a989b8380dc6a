package ws

import (
	"fmt"
	"log/slog"
	"sync"

	"parley/internal/metrics"
	"parley/internal/models"
	"parley/internal/registry"
)

const sendBuffer = 256

// Presence is the slice of the presence engine the hub drives.
type Presence interface {
	HandleConnect(userID string)
	HandleDisconnect(userID string)
	UpdateStatus(userID string, status models.UserStatus, statusMessage string) (models.UserPresence, error)
	StartTyping(userID, conversationID string)
	StopTyping(userID string)
	OnlineContacts(userID string) ([]models.User, error)
	PresenceFor(userIDs []string) []models.UserPresence
}

// Tracker applies delivery and read acknowledgments.
type Tracker interface {
	MarkDelivered(messageID, userID string) (models.Receipt, error)
	MarkRead(messageID, userID string) (models.Receipt, error)
}

// Typist broadcasts typing indicators to a conversation's audience.
type Typist interface {
	DispatchTyping(conversationID, userID string, typing bool)
}

// MemberStore answers membership questions for room joins.
type MemberStore interface {
	GetMember(conversationID, userID string) (models.ConversationMember, error)
}

// session is one websocket endpoint. rooms tracks which conversations the
// client currently has open, which decides between the full new_message
// event and the lighter message_notification.
type session struct {
	endpointID string
	userID     string
	ch         chan models.ServerEvent

	mu    sync.Mutex
	rooms map[string]bool
}

func (s *session) inRoom(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[conversationID]
}

func (s *session) setRoom(conversationID string, in bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in {
		s.rooms[conversationID] = true
	} else {
		delete(s.rooms, conversationID)
	}
}

type Hub struct {
	registry *registry.Registry
	presence Presence
	tracker  Tracker
	typist   Typist
	members  MemberStore

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewHub(reg *registry.Registry, presence Presence, tracker Tracker, typist Typist, members MemberStore) *Hub {
	return &Hub{
		registry: reg,
		presence: presence,
		tracker:  tracker,
		typist:   typist,
		members:  members,
		sessions: make(map[string]*session),
	}
}

// Join registers an endpoint and returns its outbound event channel. The
// first endpoint of a user triggers the presence connect path.
func (h *Hub) Join(endpointID, userID string) chan models.ServerEvent {
	s := &session{
		endpointID: endpointID,
		userID:     userID,
		ch:         make(chan models.ServerEvent, sendBuffer),
		rooms:      make(map[string]bool),
	}

	h.mu.Lock()
	h.sessions[endpointID] = s
	h.mu.Unlock()

	first := h.registry.Register(endpointID, userID)
	metrics.WSConnections.Inc()
	if first {
		h.presence.HandleConnect(userID)
	}
	return s.ch
}

// Leave drops an endpoint. The user's last endpoint triggers the presence
// disconnect path, which debounces the offline transition.
func (h *Hub) Leave(endpointID string) {
	h.mu.Lock()
	s, ok := h.sessions[endpointID]
	if ok {
		delete(h.sessions, endpointID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	close(s.ch)

	userID, last := h.registry.Unregister(endpointID)
	metrics.WSConnections.Dec()
	if last {
		h.presence.HandleDisconnect(userID)
	}
}

// Dispatch handles one client event. Failures are reported back on the
// same endpoint as an error event and never tear the connection down.
func (h *Hub) Dispatch(endpointID, userID string, ev models.ClientEvent) {
	if err := h.handle(endpointID, userID, ev); err != nil {
		h.sendToEndpoint(endpointID, models.ServerEvent{
			Type:  models.ServerError,
			Error: err.Error(),
		})
	}
}

func (h *Hub) handle(endpointID, userID string, ev models.ClientEvent) error {
	switch ev.Type {
	case models.ClientJoinConversation:
		if _, err := h.members.GetMember(ev.ConversationID, userID); err != nil {
			return fmt.Errorf("cannot join conversation: %w", err)
		}
		if s := h.session(endpointID); s != nil {
			s.setRoom(ev.ConversationID, true)
		}
		h.sendToEndpoint(endpointID, models.ServerEvent{
			Type:           models.ServerJoinedConversation,
			ConversationID: ev.ConversationID,
		})

	case models.ClientLeaveConversation:
		if s := h.session(endpointID); s != nil {
			s.setRoom(ev.ConversationID, false)
		}
		h.sendToEndpoint(endpointID, models.ServerEvent{
			Type:           models.ServerLeftConversation,
			ConversationID: ev.ConversationID,
		})

	case models.ClientTypingStart:
		if _, err := h.members.GetMember(ev.ConversationID, userID); err != nil {
			return fmt.Errorf("cannot type in conversation: %w", err)
		}
		h.presence.StartTyping(userID, ev.ConversationID)
		h.typist.DispatchTyping(ev.ConversationID, userID, true)

	case models.ClientTypingStop:
		h.presence.StopTyping(userID)
		h.typist.DispatchTyping(ev.ConversationID, userID, false)

	case models.ClientMessageDelivered:
		if _, err := h.tracker.MarkDelivered(ev.MessageID, userID); err != nil {
			return err
		}

	case models.ClientMessageRead:
		if _, err := h.tracker.MarkRead(ev.MessageID, userID); err != nil {
			return err
		}

	case models.ClientUpdateStatus:
		if _, err := h.presence.UpdateStatus(userID, ev.Status, ev.StatusMessage); err != nil {
			return err
		}

	case models.ClientGetOnlineContacts:
		contacts, err := h.presence.OnlineContacts(userID)
		if err != nil {
			return err
		}
		h.sendToEndpoint(endpointID, models.ServerEvent{
			Type:     models.ServerOnlineContacts,
			Contacts: contacts,
		})

	case models.ClientGetUserPresence:
		h.sendToEndpoint(endpointID, models.ServerEvent{
			Type:     models.ServerUserPresenceData,
			Presence: h.presence.PresenceFor(ev.UserIDs),
		})

	default:
		return models.Invalidf("unknown event type %q", ev.Type)
	}
	return nil
}

func (h *Hub) session(endpointID string) *session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[endpointID]
}

// SendToUser pushes an event to every endpoint of the user. A full send
// buffer drops the event for that endpoint; the durable state is already
// written, so the client catches up on its next fetch.
func (h *Hub) SendToUser(userID string, ev models.ServerEvent) {
	for _, s := range h.sessionsFor(userID) {
		h.push(s, ev)
	}
}

// SendToMember pushes the in-room event to endpoints that have the
// conversation open and the out-of-room event to the rest.
func (h *Hub) SendToMember(userID, conversationID string, inRoom, outOfRoom models.ServerEvent) {
	for _, s := range h.sessionsFor(userID) {
		if s.inRoom(conversationID) {
			h.push(s, inRoom)
		} else {
			h.push(s, outOfRoom)
		}
	}
}

func (h *Hub) sendToEndpoint(endpointID string, ev models.ServerEvent) {
	if s := h.session(endpointID); s != nil {
		h.push(s, ev)
	}
}

func (h *Hub) sessionsFor(userID string) []*session {
	endpoints := h.registry.EndpointsFor(userID)
	h.mu.RLock()
	defer h.mu.RUnlock()
	sessions := make([]*session, 0, len(endpoints))
	for _, id := range endpoints {
		if s, ok := h.sessions[id]; ok {
			sessions = append(sessions, s)
		}
	}
	return sessions
}

func (h *Hub) push(s *session, ev models.ServerEvent) {
	select {
	case s.ch <- ev:
	default:
		metrics.DispatchPushes.WithLabelValues("dropped").Inc()
		slog.Warn("send buffer full, dropping event", "endpoint", s.endpointID, "user", s.userID, "event", ev.Type)
	}
}
