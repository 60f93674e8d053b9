package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"palaver/internal/models"
	"palaver/internal/roster"
	"palaver/internal/storage"

	webpush "github.com/SherClockHolmes/webpush-go"
)

type onlineChecker interface {
	Online(userID string) bool
}

// Pusher sends best-effort web-push notifications to room members with no
// live connection when a message commits. Failures are logged and never
// surface to the sender.
type Pusher struct {
	store    *storage.Store
	roster   *roster.Service
	presence onlineChecker

	vapidPublic  string
	vapidPrivate string
	subject      string
}

func NewPusher(store *storage.Store, roster *roster.Service, presence onlineChecker, vapidPublic, vapidPrivate, subject string) *Pusher {
	return &Pusher{
		store:        store,
		roster:       roster,
		presence:     presence,
		vapidPublic:  vapidPublic,
		vapidPrivate: vapidPrivate,
		subject:      subject,
	}
}

// Enabled reports whether VAPID keys are configured.
func (p *Pusher) Enabled() bool {
	return p.vapidPublic != "" && p.vapidPrivate != ""
}

// Subscribe stores a browser push subscription for the user.
func (p *Pusher) Subscribe(userID string, raw []byte) error {
	var sub webpush.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil || sub.Endpoint == "" {
		return models.ErrValidation
	}
	return p.store.PutPushSubscription(userID, raw)
}

// MessageCreated implements pipeline.Notifier. Delivery happens on a
// separate goroutine; a slow push service never delays fanout.
func (p *Pusher) MessageCreated(msg models.Message) {
	if !p.Enabled() || msg.Type == models.MessageSystem {
		return
	}
	go p.pushToOffline(msg)
}

// MessageEdited implements pipeline.Notifier. Edits are not pushed.
func (p *Pusher) MessageEdited(models.Message) {}

// MessageDeleted implements pipeline.Notifier. Deletes are not pushed.
func (p *Pusher) MessageDeleted(roomID, messageID string, seq int64) {}

func (p *Pusher) pushToOffline(msg models.Message) {
	members, err := p.roster.Members(msg.RoomID)
	if err != nil {
		slog.Error("push failed to list members", "room_id", msg.RoomID, "error", err)
		return
	}

	payload, err := json.Marshal(map[string]any{
		"roomId":   msg.RoomID,
		"senderId": msg.SenderID,
		"seq":      msg.Seq,
	})
	if err != nil {
		return
	}

	for _, m := range members {
		if m.UserID == msg.SenderID || p.presence.Online(m.UserID) {
			continue
		}
		subs, err := p.store.ListPushSubscriptions(m.UserID)
		if err != nil {
			slog.Error("push failed to list subscriptions", "user_id", m.UserID, "error", err)
			continue
		}
		for _, raw := range subs {
			p.send(m.UserID, raw, payload)
		}
	}
}

func (p *Pusher) send(userID string, raw, payload []byte) {
	var sub webpush.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		_ = p.store.DeletePushSubscription(userID, raw)
		return
	}

	resp, err := webpush.SendNotification(payload, &sub, &webpush.Options{
		Subscriber:      p.subject,
		VAPIDPublicKey:  p.vapidPublic,
		VAPIDPrivateKey: p.vapidPrivate,
		TTL:             60,
	})
	if err != nil {
		slog.Warn("push delivery failed", "user_id", userID, "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	// The push service tells us when a subscription is dead.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		_ = p.store.DeletePushSubscription(userID, raw)
	}
}
