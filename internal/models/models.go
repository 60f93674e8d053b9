package models

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
)

type Role string

const (
	RoleOrdinary Role = "ordinary"
	RoleStaff    Role = "staff"
)

// User is owned by the upstream identity system and is immutable here.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
	AvatarURL   string `json:"avatarUrl"`
}

func (u User) IsStaff() bool {
	return u.Role == RoleStaff
}

type RoomType string

const (
	RoomDirect  RoomType = "direct"
	RoomGroup   RoomType = "group"
	RoomSupport RoomType = "support"
)

type Room struct {
	ID        string   `json:"id"`
	Type      RoomType `json:"type"`
	Name      string   `json:"name,omitempty"`
	CreatedAt int64    `json:"createdAt"` // Unix timestamp (seconds)
	Resolved  bool     `json:"resolved,omitempty"`

	// LastSeq and LastMessageAt are maintained by the store on every append.
	LastSeq       int64 `json:"lastSeq"`
	LastMessageAt int64 `json:"lastMessageAt"`
}

// RoomSummary is a Room annotated for a particular member.
type RoomSummary struct {
	Room
	UnreadCount int64 `json:"unreadCount"`
}

// Membership links a user to a room. LastReadSeq is monotonic and only
// ever advances.
type Membership struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	JoinedAt    int64  `json:"joinedAt"`
	LastReadSeq int64  `json:"lastReadSeq"`
	Hidden      bool   `json:"hidden,omitempty"`
}

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

// Message holds one room entry. Seq is assigned by the store, strictly
// increasing and gapless per room. Soft delete clears Content but keeps
// the sequence slot.
type Message struct {
	ID           string      `json:"id"`
	RoomID       string      `json:"roomId"`
	SenderID     string      `json:"senderId"`
	Seq          int64       `json:"seq"`
	Type         MessageType `json:"type"`
	Content      string      `json:"content"`
	HTML         string      `json:"html,omitempty"`
	AttachmentID string      `json:"attachmentId,omitempty"`
	CreatedAt    int64       `json:"createdAt"`
	Edited       bool        `json:"edited,omitempty"`
	EditedAt     int64       `json:"editedAt,omitempty"`
	Deleted      bool        `json:"deleted,omitempty"`
}

// Attachment is immutable once created. Messages reference it by ID,
// never embed it.
type Attachment struct {
	ID        string `json:"id"`
	Checksum  string `json:"checksum"`
	Name      string `json:"name"`
	MimeType  string `json:"mimeType"`
	Size      int64  `json:"size"`
	OwnerID   string `json:"ownerId"`
	CreatedAt int64  `json:"createdAt"`
}

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
