package ws

import (
	"log/slog"
	"sync"
	"time"

	"palaver/internal/models"
	"palaver/internal/presence"

	"github.com/google/uuid"
)

// sendBuffer is the per-connection event queue size. A connection that
// cannot drain this many events has its events dropped rather than
// blocking delivery to anyone else.
const sendBuffer = 100

type roomDirectory interface {
	Members(roomID string) ([]models.Membership, error)
	RoomIDs(userID string) ([]string, error)
	RequireMember(roomID, userID string) error
}

// Hub routes events between live connections and the messaging services.
// It owns the session registry: one user may hold several connections, each
// with its own buffered event channel.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[string]chan models.ServerEvent

	roster   roomDirectory
	presence *presence.Tracker
	typing   *presence.Typing
}

type HubConfig struct {
	Roster         roomDirectory
	OfflineGrace   time.Duration
	TypingTTL      time.Duration
	TypingDebounce time.Duration
}

func NewHub(cfg HubConfig) *Hub {
	h := &Hub{
		sessions: make(map[string]map[string]chan models.ServerEvent),
		roster:   cfg.Roster,
	}
	h.presence = presence.NewTracker(cfg.OfflineGrace, h.presenceChanged)
	h.typing = presence.NewTyping(cfg.TypingTTL, cfg.TypingDebounce, h.typingChanged)
	return h
}

// Typing exposes the typing registry so its sweeper can be run from main.
func (h *Hub) Typing() *presence.Typing {
	return h.typing
}

// Presence exposes online state, e.g. for the push notifier.
func (h *Hub) Presence() *presence.Tracker {
	return h.presence
}

// Attach registers a live connection for the user and returns its event
// channel. Every attach increments the presence refcount.
func (h *Hub) Attach(userID string) (string, chan models.ServerEvent) {
	connID := uuid.NewString()
	ch := make(chan models.ServerEvent, sendBuffer)

	h.mu.Lock()
	conns := h.sessions[userID]
	if conns == nil {
		conns = make(map[string]chan models.ServerEvent)
		h.sessions[userID] = conns
	}
	conns[connID] = ch
	h.mu.Unlock()

	h.presence.Connect(userID)
	return connID, ch
}

// Detach deregisters a connection. It is safe to call more than once for
// the same connection; the presence refcount drops at most once.
func (h *Hub) Detach(userID, connID string) {
	h.mu.Lock()
	conns, ok := h.sessions[userID]
	if ok {
		if _, ok = conns[connID]; ok {
			close(conns[connID])
			delete(conns, connID)
			if len(conns) == 0 {
				delete(h.sessions, userID)
			}
		}
	}
	last := len(h.sessions[userID]) == 0
	h.mu.Unlock()

	if !ok {
		return
	}
	h.presence.Disconnect(userID)
	if last {
		h.typing.StopAllFor(userID)
	}
}

// HandleClientEvent processes one event read from a client connection.
func (h *Hub) HandleClientEvent(userID string, ev models.ClientEvent) {
	switch ev.Type {
	case models.ClientEventJoinRoom:
		// Fanout is membership driven; the event only sanity-checks that
		// the client is allowed to listen to the room.
		if err := h.roster.RequireMember(ev.RoomID, userID); err != nil {
			slog.Warn("join_room rejected", "user_id", userID, "room_id", ev.RoomID, "error", err)
		}
	case models.ClientEventTypingStart:
		if err := h.roster.RequireMember(ev.RoomID, userID); err != nil {
			return
		}
		h.typing.Start(ev.RoomID, userID)
	case models.ClientEventTypingStop:
		h.typing.Stop(ev.RoomID, userID)
	case models.ClientEventUserOnline:
		// Presence is derived from the connection refcount; nothing to do.
	}
}

// Broadcast delivers an event to every live connection of every room
// member. A full or broken connection buffer only loses the event for that
// one connection.
func (h *Hub) Broadcast(roomID string, ev models.ServerEvent) {
	h.broadcast(roomID, "", ev)
}

// BroadcastExcept is Broadcast minus one user, used for typing events that
// the typist does not need echoed back.
func (h *Hub) BroadcastExcept(roomID, exceptUserID string, ev models.ServerEvent) {
	h.broadcast(roomID, exceptUserID, ev)
}

func (h *Hub) broadcast(roomID, exceptUserID string, ev models.ServerEvent) {
	members, err := h.roster.Members(roomID)
	if err != nil {
		slog.Error("broadcast failed to list members", "room_id", roomID, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, m := range members {
		if m.UserID == exceptUserID {
			continue
		}
		for _, ch := range h.sessions[m.UserID] {
			select {
			case ch <- ev:
			default:
				// Drop for this connection; never block the others.
			}
		}
	}
}

// MessageCreated implements pipeline.Notifier.
func (h *Hub) MessageCreated(msg models.Message) {
	h.Broadcast(msg.RoomID, models.ServerEvent{
		Type:    models.ServerEventNewMessage,
		RoomID:  msg.RoomID,
		Message: &msg,
	})
}

// MessageEdited implements pipeline.Notifier.
func (h *Hub) MessageEdited(msg models.Message) {
	h.Broadcast(msg.RoomID, models.ServerEvent{
		Type:    models.ServerEventMessageEdited,
		RoomID:  msg.RoomID,
		Message: &msg,
	})
}

// MessageDeleted implements pipeline.Notifier.
func (h *Hub) MessageDeleted(roomID, messageID string, seq int64) {
	h.Broadcast(roomID, models.ServerEvent{
		Type:      models.ServerEventMessageDeleted,
		RoomID:    roomID,
		MessageID: messageID,
		Seq:       seq,
	})
}

func (h *Hub) presenceChanged(userID string, online bool) {
	// RoomIDs includes conversations the user has hidden: hiding is a
	// list-level preference, not an exit from the room.
	rooms, err := h.roster.RoomIDs(userID)
	if err != nil {
		slog.Error("presence fanout failed to list rooms", "user_id", userID, "error", err)
		return
	}
	ev := models.ServerEvent{
		Type:   models.ServerEventPresenceChanged,
		UserID: userID,
		Online: online,
	}
	for _, roomID := range rooms {
		h.BroadcastExcept(roomID, userID, ev)
	}
}

func (h *Hub) typingChanged(roomID, userID string, typing bool) {
	evType := models.ServerEventUserTyping
	if !typing {
		evType = models.ServerEventUserStoppedTyping
	}
	h.BroadcastExcept(roomID, userID, models.ServerEvent{
		Type:   evType,
		RoomID: roomID,
		UserID: userID,
	})
}
