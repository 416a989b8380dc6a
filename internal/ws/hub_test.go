package ws

import (
	"sync"
	"testing"

	"parley/internal/models"
	"parley/internal/registry"
)

type stubPresence struct {
	mu          sync.Mutex
	connects    []string
	disconnects []string
	typing      map[string]string
	statuses    map[string]models.UserStatus
}

func newStubPresence() *stubPresence {
	return &stubPresence{typing: make(map[string]string), statuses: make(map[string]models.UserStatus)}
}

func (p *stubPresence) HandleConnect(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connects = append(p.connects, userID)
}

func (p *stubPresence) HandleDisconnect(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnects = append(p.disconnects, userID)
}

func (p *stubPresence) UpdateStatus(userID string, status models.UserStatus, statusMessage string) (models.UserPresence, error) {
	if !status.Valid() {
		return models.UserPresence{}, models.Invalidf("unknown status %q", status)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[userID] = status
	return models.UserPresence{UserID: userID, Status: status}, nil
}

func (p *stubPresence) StartTyping(userID, conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typing[userID] = conversationID
}

func (p *stubPresence) StopTyping(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.typing, userID)
}

func (p *stubPresence) OnlineContacts(userID string) ([]models.User, error) {
	return []models.User{{ID: "bob", Status: models.UserStatusOnline}}, nil
}

func (p *stubPresence) PresenceFor(userIDs []string) []models.UserPresence {
	out := make([]models.UserPresence, 0, len(userIDs))
	for _, id := range userIDs {
		out = append(out, models.UserPresence{UserID: id, Status: models.UserStatusOffline})
	}
	return out
}

type stubTracker struct {
	mu        sync.Mutex
	delivered []string
	read      []string
}

func (t *stubTracker) MarkDelivered(messageID, userID string) (models.Receipt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delivered = append(t.delivered, messageID)
	return models.Receipt{MessageID: messageID, UserID: userID, IsDelivered: true}, nil
}

func (t *stubTracker) MarkRead(messageID, userID string) (models.Receipt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if messageID == "missing" {
		return models.Receipt{}, models.ErrNotFound
	}
	t.read = append(t.read, messageID)
	return models.Receipt{MessageID: messageID, UserID: userID, IsRead: true}, nil
}

type stubTypist struct {
	mu     sync.Mutex
	events []bool
}

func (t *stubTypist) DispatchTyping(conversationID, userID string, typing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, typing)
}

type stubMembers map[string]bool

func (m stubMembers) GetMember(conversationID, userID string) (models.ConversationMember, error) {
	if !m[conversationID+"/"+userID] {
		return models.ConversationMember{}, models.ErrNotMember
	}
	return models.ConversationMember{ConversationID: conversationID, UserID: userID}, nil
}

func newTestHub() (*Hub, *stubPresence, *stubTracker, *stubTypist) {
	presence := newStubPresence()
	tracker := &stubTracker{}
	typist := &stubTypist{}
	members := stubMembers{"c1/alice": true}
	hub := NewHub(registry.New(), presence, tracker, typist, members)
	return hub, presence, tracker, typist
}

func drain(ch chan models.ServerEvent) []models.ServerEvent {
	var out []models.ServerEvent
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestJoinLeavePresenceTransitions(t *testing.T) {
	hub, presence, _, _ := newTestHub()

	hub.Join("ep1", "alice")
	hub.Join("ep2", "alice")

	if len(presence.connects) != 1 {
		t.Errorf("expected 1 connect for first endpoint only, got %d", len(presence.connects))
	}

	hub.Leave("ep1")
	if len(presence.disconnects) != 0 {
		t.Error("disconnect fired while another endpoint is live")
	}

	hub.Leave("ep2")
	if len(presence.disconnects) != 1 {
		t.Errorf("expected 1 disconnect after last endpoint, got %d", len(presence.disconnects))
	}
}

func TestRoomScopedDelivery(t *testing.T) {
	hub, _, _, _ := newTestHub()

	chInRoom := hub.Join("ep1", "alice")
	chOutOfRoom := hub.Join("ep2", "alice")

	hub.Dispatch("ep1", "alice", models.ClientEvent{
		Type:           models.ClientJoinConversation,
		ConversationID: "c1",
	})
	// Consume the joined_conversation ack.
	if acks := drain(chInRoom); len(acks) != 1 || acks[0].Type != models.ServerJoinedConversation {
		t.Fatalf("expected join ack, got %+v", acks)
	}

	inRoom := models.ServerEvent{Type: models.ServerNewMessage, ConversationID: "c1"}
	outOfRoom := models.ServerEvent{Type: models.ServerMessageNotification, ConversationID: "c1"}
	hub.SendToMember("alice", "c1", inRoom, outOfRoom)

	got := drain(chInRoom)
	if len(got) != 1 || got[0].Type != models.ServerNewMessage {
		t.Errorf("in-room endpoint got %+v", got)
	}
	got = drain(chOutOfRoom)
	if len(got) != 1 || got[0].Type != models.ServerMessageNotification {
		t.Errorf("out-of-room endpoint got %+v", got)
	}
}

func TestJoinConversationRequiresMembership(t *testing.T) {
	hub, _, _, _ := newTestHub()
	ch := hub.Join("ep1", "mallory")

	hub.Dispatch("ep1", "mallory", models.ClientEvent{
		Type:           models.ClientJoinConversation,
		ConversationID: "c1",
	})

	events := drain(ch)
	if len(events) != 1 || events[0].Type != models.ServerError {
		t.Fatalf("expected error event, got %+v", events)
	}
}

func TestTypingEvents(t *testing.T) {
	hub, presence, _, typist := newTestHub()
	hub.Join("ep1", "alice")

	hub.Dispatch("ep1", "alice", models.ClientEvent{
		Type:           models.ClientTypingStart,
		ConversationID: "c1",
	})
	if presence.typing["alice"] != "c1" {
		t.Error("typing state not recorded")
	}
	if len(typist.events) != 1 || !typist.events[0] {
		t.Errorf("typing broadcast missing: %v", typist.events)
	}

	hub.Dispatch("ep1", "alice", models.ClientEvent{
		Type:           models.ClientTypingStop,
		ConversationID: "c1",
	})
	if _, ok := presence.typing["alice"]; ok {
		t.Error("typing state not cleared")
	}
	if len(typist.events) != 2 || typist.events[1] {
		t.Errorf("stop broadcast missing: %v", typist.events)
	}
}

func TestReceiptEvents(t *testing.T) {
	hub, _, tracker, _ := newTestHub()
	ch := hub.Join("ep1", "alice")

	hub.Dispatch("ep1", "alice", models.ClientEvent{Type: models.ClientMessageDelivered, MessageID: "m1"})
	hub.Dispatch("ep1", "alice", models.ClientEvent{Type: models.ClientMessageRead, MessageID: "m1"})

	if len(tracker.delivered) != 1 || len(tracker.read) != 1 {
		t.Errorf("tracker calls missing: %v %v", tracker.delivered, tracker.read)
	}

	// A failed acknowledgment surfaces as an error event on this endpoint.
	hub.Dispatch("ep1", "alice", models.ClientEvent{Type: models.ClientMessageRead, MessageID: "missing"})
	events := drain(ch)
	if len(events) != 1 || events[0].Type != models.ServerError {
		t.Errorf("expected error event, got %+v", events)
	}
}

func TestStatusAndPresenceQueries(t *testing.T) {
	hub, presence, _, _ := newTestHub()
	ch := hub.Join("ep1", "alice")

	hub.Dispatch("ep1", "alice", models.ClientEvent{Type: models.ClientUpdateStatus, Status: models.UserStatusAway})
	if presence.statuses["alice"] != models.UserStatusAway {
		t.Error("status update not applied")
	}

	hub.Dispatch("ep1", "alice", models.ClientEvent{Type: models.ClientGetOnlineContacts})
	hub.Dispatch("ep1", "alice", models.ClientEvent{Type: models.ClientGetUserPresence, UserIDs: []string{"bob", "carol"}})

	events := drain(ch)
	if len(events) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(events))
	}
	if events[0].Type != models.ServerOnlineContacts || len(events[0].Contacts) != 1 {
		t.Errorf("online contacts reply wrong: %+v", events[0])
	}
	if events[1].Type != models.ServerUserPresenceData || len(events[1].Presence) != 2 {
		t.Errorf("presence reply wrong: %+v", events[1])
	}
}

func TestUnknownEventType(t *testing.T) {
	hub, _, _, _ := newTestHub()
	ch := hub.Join("ep1", "alice")

	hub.Dispatch("ep1", "alice", models.ClientEvent{Type: "mystery"})

	events := drain(ch)
	if len(events) != 1 || events[0].Type != models.ServerError {
		t.Errorf("expected error event, got %+v", events)
	}
}

func TestSendToUserFansOutToAllEndpoints(t *testing.T) {
	hub, _, _, _ := newTestHub()
	ch1 := hub.Join("ep1", "alice")
	ch2 := hub.Join("ep2", "alice")
	chBob := hub.Join("ep3", "bob")

	hub.SendToUser("alice", models.ServerEvent{Type: models.ServerNewNotification})

	if len(drain(ch1)) != 1 || len(drain(ch2)) != 1 {
		t.Error("not all endpoints received the event")
	}
	if len(drain(chBob)) != 0 {
		t.Error("event leaked to another user")
	}
}
