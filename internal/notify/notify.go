// Package notify is the offline side-channel. Dispatch hands it events for
// recipients without a live connection; a background worker persists each
// one to the user's mailbox and attempts a web push to their registered
// devices. The queue is bounded: when it is full new entries are dropped
// and counted, never blocking the message path.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"parley/internal/metrics"
	"parley/internal/models"
	"parley/internal/storage"
)

type Store interface {
	CreateNotification(p storage.CreateNotificationParams) (models.Notification, error)
	ListPushSubscriptions(userID string) ([]models.PushSubscription, error)
	DeletePushSubscription(userID, endpoint string) error
}

type Sender interface {
	SendToUser(userID string, ev models.ServerEvent)
}

type Online interface {
	IsOnline(userID string) bool
}

// VAPIDConfig carries the web push signing material. Empty keys disable
// the push leg; mailbox persistence still happens.
type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

type Item struct {
	UserID string
	Type   models.NotificationType
	Title  string
	Body   string
	Data   map[string]any
}

type Notifier struct {
	store  Store
	online Online
	sender Sender
	vapid  VAPIDConfig
	queue  chan Item

	// push is swappable in tests.
	push func(payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)
}

func New(store Store, online Online, vapid VAPIDConfig, queueSize int) *Notifier {
	return &Notifier{
		store:  store,
		online: online,
		vapid:  vapid,
		queue:  make(chan Item, queueSize),
		push:   webpush.SendNotification,
	}
}

func (n *Notifier) Bind(sender Sender) {
	n.sender = sender
}

// Enqueue hands an item to the worker. It never blocks: a full queue drops
// the item, which only costs a notification, not a message.
func (n *Notifier) Enqueue(item Item) {
	select {
	case n.queue <- item:
		metrics.NotifyQueueDepth.Set(float64(len(n.queue)))
	default:
		metrics.Notifications.WithLabelValues("dropped").Inc()
		slog.Warn("notification queue full, dropping", "user", item.UserID)
	}
}

// Run drains the queue until the context ends.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-n.queue:
			metrics.NotifyQueueDepth.Set(float64(len(n.queue)))
			n.process(item)
		}
	}
}

func (n *Notifier) process(item Item) {
	notification, err := n.store.CreateNotification(storage.CreateNotificationParams{
		UserID: item.UserID,
		Type:   item.Type,
		Title:  item.Title,
		Body:   item.Body,
		Data:   item.Data,
	})
	if err != nil {
		metrics.Notifications.WithLabelValues("error").Inc()
		slog.Error("failed to persist notification", "user", item.UserID, "error", err)
		return
	}
	metrics.Notifications.WithLabelValues("stored").Inc()

	// The recipient may have connected while the item sat in the queue.
	if n.sender != nil && n.online.IsOnline(item.UserID) {
		n.sender.SendToUser(item.UserID, models.ServerEvent{
			Type:         models.ServerNewNotification,
			UserID:       item.UserID,
			Notification: &notification,
		})
	}

	n.webPush(item)
}

func (n *Notifier) webPush(item Item) {
	if n.vapid.PublicKey == "" || n.vapid.PrivateKey == "" {
		return
	}
	subs, err := n.store.ListPushSubscriptions(item.UserID)
	if err != nil {
		slog.Error("failed to list push subscriptions", "user", item.UserID, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"title": item.Title,
		"body":  item.Body,
		"data":  item.Data,
	})
	if err != nil {
		slog.Error("failed to marshal push payload", "error", err)
		return
	}

	for _, sub := range subs {
		resp, err := n.push(payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
		}, &webpush.Options{
			Subscriber:      n.vapid.Subject,
			VAPIDPublicKey:  n.vapid.PublicKey,
			VAPIDPrivateKey: n.vapid.PrivateKey,
			TTL:             3600,
		})
		if err != nil {
			metrics.Notifications.WithLabelValues("push_error").Inc()
			slog.Error("web push failed", "user", item.UserID, "error", err)
			continue
		}
		status := resp.StatusCode
		_ = resp.Body.Close()

		// Gone endpoints are pruned so we stop pushing to dead devices.
		if status == http.StatusGone || status == http.StatusNotFound {
			if err := n.store.DeletePushSubscription(item.UserID, sub.Endpoint); err != nil {
				slog.Error("failed to prune push subscription", "user", item.UserID, "error", err)
			}
			continue
		}
		metrics.Notifications.WithLabelValues("pushed").Inc()
	}
}
