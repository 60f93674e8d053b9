package storage

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"palaver/internal/models"

	"go.etcd.io/bbolt"
)

// AppendMessage assigns the next room sequence number and persists the
// message. The sequence comes from the room bucket's own counter inside the
// write transaction, so concurrent submissions to one room always commit
// distinct, consecutive, gapless numbers. In the same transaction the
// sender's read position advances to the new message and hidden memberships
// resurface.
func (s *Store) AppendMessage(msg *models.Message) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		room, err := getRoom(tx, msg.RoomID)
		if err != nil {
			return err
		}

		rb, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(msg.RoomID))
		if err != nil {
			return fmt.Errorf("failed to create room message bucket: %w", err)
		}

		seq, err := rb.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to assign sequence: %w", err)
		}
		msg.Seq = int64(seq)

		dbMsg := fromMessage(*msg)
		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := rb.Put(dbMsg.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		ref := &DBMessageRef{MessageID: msg.ID, RoomID: msg.RoomID, Seq: msg.Seq}
		refData, err := ref.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketMessageIndex).Put(ref.Key(), refData); err != nil {
			return err
		}

		room.LastSeq = msg.Seq
		room.LastMessageAt = msg.CreatedAt
		if err := writeRoom(tx, room); err != nil {
			return err
		}

		mb := tx.Bucket(bucketMembers).Bucket([]byte(msg.RoomID))
		if mb == nil {
			return nil
		}
		var members []DBMembership
		err = mb.ForEach(func(k, v []byte) error {
			var dbm DBMembership
			if err := dbm.UnmarshalBinary(v); err != nil {
				return err
			}
			members = append(members, dbm)
			return nil
		})
		if err != nil {
			return err
		}
		for _, dbm := range members {
			changed := false
			// The sender has obviously seen their own message.
			if dbm.UserID == msg.SenderID && dbm.LastReadSeq < msg.Seq {
				dbm.LastReadSeq = msg.Seq
				changed = true
			}
			if dbm.Hidden {
				dbm.Hidden = false
				changed = true
			}
			if changed {
				if err := putMembership(tx, toMembership(dbm)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *Store) GetMessage(messageID string) (models.Message, error) {
	var msg models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		found, err := getMessage(tx, messageID)
		if err != nil {
			return err
		}
		msg = found
		return nil
	})
	return msg, err
}

// MutateMessage applies fn to a stored message and writes it back. The
// sequence number and key never change, so edits and soft deletes keep
// their ordering slot.
func (s *Store) MutateMessage(messageID string, fn func(*models.Message)) (models.Message, error) {
	var msg models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		found, err := getMessage(tx, messageID)
		if err != nil {
			return err
		}
		fn(&found)
		found.ID = messageID
		dbMsg := fromMessage(found)
		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return err
		}
		rb := tx.Bucket(bucketMessages).Bucket([]byte(found.RoomID))
		if rb == nil {
			return fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
		}
		if err := rb.Put(dbMsg.Key(), data); err != nil {
			return err
		}
		msg = found
		return nil
	})
	return msg, err
}

// ListMessages returns the messages of a room with from <= seq <= to, in
// ascending sequence order.
func (s *Store) ListMessages(roomID string, from, to int64) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		rb := tx.Bucket(bucketMessages).Bucket([]byte(roomID))
		if rb == nil {
			return nil
		}

		c := rb.Cursor()
		minKey := seqKey(from)
		maxKey := seqKey(to)

		for k, v := c.Seek(minKey); k != nil && bytes.Compare(k, maxKey) <= 0; k, v = c.Next() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, toMessage(dbMsg))
		}
		return nil
	})
	return messages, err
}

// MarkRead advances the member's read position to uptoSeq. The position is
// monotonic: an older value leaves it unchanged. uptoSeq is clamped to the
// room's newest sequence, so a position can never point past messages that
// do not exist yet. Returns the effective position.
func (s *Store) MarkRead(roomID, userID string, uptoSeq int64) (int64, error) {
	var effective int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		room, err := getRoom(tx, roomID)
		if err != nil {
			return err
		}
		if uptoSeq > room.LastSeq {
			uptoSeq = room.LastSeq
		}
		m, err := getMembership(tx, roomID, userID)
		if err != nil {
			return err
		}
		if uptoSeq > m.LastReadSeq {
			m.LastReadSeq = uptoSeq
			if err := putMembership(tx, m); err != nil {
				return err
			}
		}
		effective = m.LastReadSeq
		return nil
	})
	return effective, err
}

// CountUnread counts the non-deleted messages past the member's read
// position.
func (s *Store) CountUnread(roomID, userID string) (int64, error) {
	var count int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		m, err := getMembership(tx, roomID, userID)
		if err != nil {
			return err
		}
		count = countUnread(tx, roomID, m.LastReadSeq)
		return nil
	})
	return count, err
}

func countUnread(tx *bbolt.Tx, roomID string, lastReadSeq int64) int64 {
	rb := tx.Bucket(bucketMessages).Bucket([]byte(roomID))
	if rb == nil {
		return 0
	}

	var count int64
	c := rb.Cursor()
	for k, v := c.Seek(seqKey(lastReadSeq + 1)); k != nil; k, v = c.Next() {
		var dbMsg DBMessage
		if err := dbMsg.UnmarshalBinary(v); err != nil {
			continue
		}
		if !dbMsg.Deleted {
			count++
		}
	}
	return count
}

func getMessage(tx *bbolt.Tx, messageID string) (models.Message, error) {
	refData := tx.Bucket(bucketMessageIndex).Get([]byte(messageID))
	if refData == nil {
		return models.Message{}, fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}
	var ref DBMessageRef
	if err := ref.UnmarshalBinary(refData); err != nil {
		return models.Message{}, err
	}

	rb := tx.Bucket(bucketMessages).Bucket([]byte(ref.RoomID))
	if rb == nil {
		return models.Message{}, fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}
	data := rb.Get(seqKey(ref.Seq))
	if data == nil {
		return models.Message{}, fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}
	var dbMsg DBMessage
	if err := dbMsg.UnmarshalBinary(data); err != nil {
		return models.Message{}, err
	}
	return toMessage(dbMsg), nil
}

func fromMessage(m models.Message) *DBMessage {
	return &DBMessage{
		ID:           m.ID,
		RoomID:       m.RoomID,
		SenderID:     m.SenderID,
		Seq:          m.Seq,
		Type:         string(m.Type),
		Content:      m.Content,
		AttachmentID: m.AttachmentID,
		CreatedAt:    m.CreatedAt,
		Edited:       m.Edited,
		EditedAt:     m.EditedAt,
		Deleted:      m.Deleted,
	}
}

// Retry runs op up to attempts times with a short pause between tries. It is
// used at the pipeline and attachment boundaries to absorb transient storage
// failures. Domain errors are never retried.
func Retry(attempts int, op func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		for _, domain := range []error{
			models.ErrNotFound,
			models.ErrForbidden,
			models.ErrUnauthorized,
			models.ErrValidation,
			models.ErrConflict,
		} {
			if errors.Is(err, domain) {
				return err
			}
		}
		time.Sleep(time.Duration(i+1) * 50 * time.Millisecond)
	}
	return err
}
