package models

// ClientEvent is a message sent from the client over the websocket.
// Message submission itself goes through the REST API; the socket carries
// only room subscription, typing and liveness signals.
type ClientEvent struct {
	Type   ClientEventType `json:"type"`
	RoomID string          `json:"roomId,omitempty"`
}

type ClientEventType string

const (
	ClientEventJoinRoom    ClientEventType = "join_room"
	ClientEventTypingStart ClientEventType = "typing_start"
	ClientEventTypingStop  ClientEventType = "typing_stop"
	ClientEventUserOnline  ClientEventType = "user_online"
)

// ServerEvent is a message pushed to the client over the websocket.
type ServerEvent struct {
	Type      ServerEventType `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Online    bool            `json:"online,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	Seq       int64           `json:"seq,omitempty"`
	Message   *Message        `json:"message,omitempty"`
}

type ServerEventType string

const (
	ServerEventNewMessage        ServerEventType = "new_message"
	ServerEventMessageEdited     ServerEventType = "message_edited"
	ServerEventMessageDeleted    ServerEventType = "message_deleted"
	ServerEventUserTyping        ServerEventType = "user_typing"
	ServerEventUserStoppedTyping ServerEventType = "user_stopped_typing"
	ServerEventPresenceChanged   ServerEventType = "presence_changed"
)
