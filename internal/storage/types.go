package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID          string `msgpack:"id"`
	DisplayName string `msgpack:"displayName"`
	Role        string `msgpack:"role"`
	AvatarURL   string `msgpack:"avatarUrl"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBToken struct {
	UserID    string `msgpack:"userId"`
	TokenHash string `msgpack:"tokenHash"`
}

func (t *DBToken) Key() []byte {
	return []byte(t.TokenHash)
}

func (t *DBToken) MarshalBinary() (data []byte, err error) {
	type alias DBToken
	return msgpack.Marshal((*alias)(t))
}

func (t *DBToken) UnmarshalBinary(data []byte) error {
	type alias DBToken
	return msgpack.Unmarshal(data, (*alias)(t))
}

type DBRoom struct {
	ID            string `msgpack:"id"`
	Type          string `msgpack:"type"`
	Name          string `msgpack:"name"`
	CreatedAt     int64  `msgpack:"createdAt"`
	Resolved      bool   `msgpack:"resolved"`
	LastSeq       int64  `msgpack:"lastSeq"`
	LastMessageAt int64  `msgpack:"lastMessageAt"`
}

func (r *DBRoom) Key() []byte {
	return []byte(r.ID)
}

func (r *DBRoom) MarshalBinary() (data []byte, err error) {
	type alias DBRoom
	return msgpack.Marshal((*alias)(r))
}

func (r *DBRoom) UnmarshalBinary(data []byte) error {
	type alias DBRoom
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBMembership struct {
	RoomID      string `msgpack:"roomId"`
	UserID      string `msgpack:"userId"`
	JoinedAt    int64  `msgpack:"joinedAt"`
	LastReadSeq int64  `msgpack:"lastReadSeq"`
	Hidden      bool   `msgpack:"hidden"`
}

func (m *DBMembership) Key() []byte {
	return []byte(m.UserID)
}

func (m *DBMembership) MarshalBinary() (data []byte, err error) {
	type alias DBMembership
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMembership) UnmarshalBinary(data []byte) error {
	type alias DBMembership
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBMessage struct {
	ID           string `msgpack:"id"`
	RoomID       string `msgpack:"roomId"`
	SenderID     string `msgpack:"senderId"`
	Seq          int64  `msgpack:"seq"`
	Type         string `msgpack:"type"`
	Content      string `msgpack:"content"`
	AttachmentID string `msgpack:"attachmentId"`
	CreatedAt    int64  `msgpack:"createdAt"`
	Edited       bool   `msgpack:"edited"`
	EditedAt     int64  `msgpack:"editedAt"`
	Deleted      bool   `msgpack:"deleted"`
}

// Message keys are big-endian sequence numbers so a bucket cursor walks
// them in room order.
func (m *DBMessage) Key() []byte {
	return seqKey(m.Seq)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

// DBMessageRef locates a message by ID in the per-room message buckets.
type DBMessageRef struct {
	MessageID string `msgpack:"messageId"`
	RoomID    string `msgpack:"roomId"`
	Seq       int64  `msgpack:"seq"`
}

func (r *DBMessageRef) Key() []byte {
	return []byte(r.MessageID)
}

func (r *DBMessageRef) MarshalBinary() (data []byte, err error) {
	type alias DBMessageRef
	return msgpack.Marshal((*alias)(r))
}

func (r *DBMessageRef) UnmarshalBinary(data []byte) error {
	type alias DBMessageRef
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBAttachment struct {
	ID        string `msgpack:"id"`
	Checksum  string `msgpack:"checksum"`
	Name      string `msgpack:"name"`
	MimeType  string `msgpack:"mimeType"`
	Size      int64  `msgpack:"size"`
	OwnerID   string `msgpack:"ownerId"`
	CreatedAt int64  `msgpack:"createdAt"`
}

func (a *DBAttachment) Key() []byte {
	return []byte(a.ID)
}

func (a *DBAttachment) MarshalBinary() (data []byte, err error) {
	type alias DBAttachment
	return msgpack.Marshal((*alias)(a))
}

func (a *DBAttachment) UnmarshalBinary(data []byte) error {
	type alias DBAttachment
	return msgpack.Unmarshal(data, (*alias)(a))
}

func seqKey(seq int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(seq))
	return key
}
