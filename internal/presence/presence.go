// Package presence owns user status, typing state and the contact-graph
// status broadcast. Status writes go through storage so the durable
// profile status and the realtime view cannot diverge.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c-pro/geche"

	"parley/internal/models"
)

// Store is the slice of the storage layer the engine needs.
type Store interface {
	SetUserStatus(userID string, status models.UserStatus, statusMessage string) (models.UserPresence, error)
	SetTyping(userID, conversationID string, typing bool) error
	GetPresence(userID string) (models.UserPresence, error)
	GetUser(id string) (models.User, error)
	ContactIDs(userID string) ([]string, error)
	ListContacts(userID string) ([]models.User, error)
}

// Sender pushes events to live connections. Delivery is best effort.
type Sender interface {
	SendToUser(userID string, ev models.ServerEvent)
}

// Online answers whether a user has at least one live endpoint.
type Online interface {
	IsOnline(userID string) bool
}

type Engine struct {
	store  Store
	online Online
	sender Sender

	// typing maps userID to the conversation they are typing in. TTL
	// expiry stops a crashed client from showing as typing forever.
	typing geche.Geche[string, string]

	grace time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func New(ctx context.Context, store Store, online Online, typingTTL, grace time.Duration) *Engine {
	return &Engine{
		store:  store,
		online: online,
		typing: geche.NewMapTTLCache[string, string](ctx, typingTTL, time.Second),
		grace:  grace,
		timers: make(map[string]*time.Timer),
	}
}

// Bind attaches the event sender. The hub needs the engine and the engine
// needs the hub, so the sender arrives after construction.
func (e *Engine) Bind(sender Sender) {
	e.sender = sender
}

// HandleConnect runs when a user's first endpoint comes up. A pending
// offline grace timer means this is a quick reconnect: cancel it and keep
// the previous status without re-broadcasting.
func (e *Engine) HandleConnect(userID string) {
	if e.cancelGrace(userID) {
		return
	}

	user, err := e.store.GetUser(userID)
	if err != nil {
		slog.Error("presence: connect lookup failed", "user", userID, "error", err)
		return
	}
	// Invisible users come online silently and stay invisible.
	if user.Status == models.UserStatusInvisible {
		if _, err := e.store.SetUserStatus(userID, models.UserStatusInvisible, ""); err != nil {
			slog.Error("presence: status write failed", "user", userID, "error", err)
		}
		return
	}

	if _, err := e.store.SetUserStatus(userID, models.UserStatusOnline, ""); err != nil {
		slog.Error("presence: status write failed", "user", userID, "error", err)
		return
	}
	e.broadcastStatus(userID, models.UserStatusOnline, "")
}

// HandleDisconnect runs when a user's last endpoint drops. The offline
// transition is debounced by the grace window so page reloads do not
// flap the contact list.
func (e *Engine) HandleDisconnect(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prev, ok := e.timers[userID]; ok {
		prev.Stop()
	}
	e.timers[userID] = time.AfterFunc(e.grace, func() {
		e.goOffline(userID)
	})
}

func (e *Engine) goOffline(userID string) {
	e.mu.Lock()
	delete(e.timers, userID)
	e.mu.Unlock()

	// Reconnected during the grace window.
	if e.online.IsOnline(userID) {
		return
	}

	wasInvisible := false
	if user, err := e.store.GetUser(userID); err == nil {
		wasInvisible = user.Status == models.UserStatusInvisible
	}

	e.typing.Del(userID)
	if _, err := e.store.SetUserStatus(userID, models.UserStatusOffline, ""); err != nil {
		slog.Error("presence: offline write failed", "user", userID, "error", err)
		return
	}
	// Invisible users already looked offline to everyone.
	if !wasInvisible {
		e.broadcastStatus(userID, models.UserStatusOffline, "")
	}
}

func (e *Engine) cancelGrace(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if timer, ok := e.timers[userID]; ok {
		timer.Stop()
		delete(e.timers, userID)
		return true
	}
	return false
}

// Close stops all pending grace timers.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, timer := range e.timers {
		timer.Stop()
		delete(e.timers, id)
	}
}

// UpdateStatus applies an explicit status change and echoes it back to the
// caller's own connections.
func (e *Engine) UpdateStatus(userID string, status models.UserStatus, statusMessage string) (models.UserPresence, error) {
	if !status.Valid() {
		return models.UserPresence{}, models.Invalidf("unknown status %q", status)
	}
	presence, err := e.store.SetUserStatus(userID, status, statusMessage)
	if err != nil {
		return models.UserPresence{}, fmt.Errorf("failed to set status: %w", err)
	}
	if status == models.UserStatusOffline {
		e.typing.Del(userID)
	}

	e.broadcastStatus(userID, status, statusMessage)
	if e.sender != nil {
		e.sender.SendToUser(userID, models.ServerEvent{
			Type:          models.ServerStatusUpdated,
			UserID:        userID,
			Status:        status,
			StatusMessage: statusMessage,
		})
	}
	return presence, nil
}

// broadcastStatus fans the change out to the user's contacts. Invisible is
// presented as offline; the real value never leaves the server.
func (e *Engine) broadcastStatus(userID string, status models.UserStatus, statusMessage string) {
	if e.sender == nil {
		return
	}
	visible := status
	if visible == models.UserStatusInvisible {
		visible = models.UserStatusOffline
		statusMessage = ""
	}

	ids, err := e.store.ContactIDs(userID)
	if err != nil {
		slog.Error("presence: contact lookup failed", "user", userID, "error", err)
		return
	}
	ev := models.ServerEvent{
		Type:          models.ServerContactStatusUpdate,
		UserID:        userID,
		Status:        visible,
		StatusMessage: statusMessage,
	}
	for _, id := range ids {
		e.sender.SendToUser(id, ev)
	}
}

// StartTyping records that the user is typing in the conversation. A user
// types in at most one conversation; starting elsewhere moves the marker.
func (e *Engine) StartTyping(userID, conversationID string) {
	e.typing.Set(userID, conversationID)
	if err := e.store.SetTyping(userID, conversationID, true); err != nil {
		slog.Error("presence: typing write failed", "user", userID, "error", err)
	}
}

func (e *Engine) StopTyping(userID string) {
	e.typing.Del(userID)
	if err := e.store.SetTyping(userID, "", false); err != nil {
		slog.Error("presence: typing write failed", "user", userID, "error", err)
	}
}

// TypingIn reports the conversation the user is currently typing in.
// Expired entries read as not typing, which is how a crashed client's
// indicator clears without a stop event.
func (e *Engine) TypingIn(userID string) (string, bool) {
	conversationID, err := e.typing.Get(userID)
	if err != nil {
		return "", false
	}
	return conversationID, true
}

// OnlineContacts returns the user's contacts that are currently connected
// and not hiding.
func (e *Engine) OnlineContacts(userID string) ([]models.User, error) {
	contacts, err := e.store.ListContacts(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	online := make([]models.User, 0, len(contacts))
	for _, c := range contacts {
		if !e.online.IsOnline(c.ID) {
			continue
		}
		if c.Status == models.UserStatusInvisible {
			continue
		}
		online = append(online, c)
	}
	return online, nil
}

// PresenceFor resolves presence for a batch of users. Invisible users are
// masked as offline, a stale stored status is overridden when the
// registry shows no live endpoint, and typing flags are checked against
// the TTL cache so a client that vanished mid-typing stops showing as
// typing once the entry expires.
func (e *Engine) PresenceFor(userIDs []string) []models.UserPresence {
	out := make([]models.UserPresence, 0, len(userIDs))
	for _, id := range userIDs {
		p, err := e.store.GetPresence(id)
		if err != nil {
			slog.Error("presence: lookup failed", "user", id, "error", err)
			continue
		}
		if p.Status == models.UserStatusInvisible || !e.online.IsOnline(id) {
			p.Status = models.UserStatusOffline
			p.IsTyping = false
			p.TypingInConversationID = ""
		}
		if p.IsTyping {
			if conv, ok := e.TypingIn(id); !ok || conv != p.TypingInConversationID {
				p.IsTyping = false
				p.TypingInConversationID = ""
			}
		}
		out = append(out, p)
	}
	return out
}
