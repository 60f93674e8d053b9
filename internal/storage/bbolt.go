package storage

import (
	"fmt"
	"time"

	"palaver/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers        = []byte("users")
	bucketTokens       = []byte("tokens")
	bucketRooms        = []byte("rooms")
	bucketMembers      = []byte("members")
	bucketUserRooms    = []byte("user_rooms")
	bucketMessages     = []byte("messages")
	bucketMessageIndex = []byte("message_index")
	bucketDirectIndex  = []byte("direct_index")
	bucketSupportIndex = []byte("support_index")
	bucketAttachments  = []byte("attachments")
	bucketPushSubs     = []byte("push_subs")
)

type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketUsers,
			bucketTokens,
			bucketRooms,
			bucketMembers,
			bucketUserRooms,
			bucketMessages,
			bucketMessageIndex,
			bucketDirectIndex,
			bucketSupportIndex,
			bucketAttachments,
			bucketPushSubs,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertUser stores a user record synced from the identity system.
func (s *Store) UpsertUser(user models.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := &DBUser{
			ID:          user.ID,
			DisplayName: user.DisplayName,
			Role:        string(user.Role),
			AvatarURL:   user.AvatarURL,
		}
		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), data)
	})
}

func (s *Store) GetUser(id string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("user %s: %w", id, models.ErrNotFound)
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		user = toUser(dbUser)
		return nil
	})
	return user, err
}

func (s *Store) ListUsers() ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			users = append(users, toUser(dbUser))
			return nil
		})
	})
	return users, err
}

func (s *Store) UpsertToken(userID, tokenHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		dbToken := &DBToken{UserID: userID, TokenHash: tokenHash}
		data, err := dbToken.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbToken.Key(), data)
	})
}

func (s *Store) DeleteToken(tokenHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(tokenHash))
	})
}

// ListTokens returns a map of token hash to user ID.
func (s *Store) ListTokens() (map[string]string, error) {
	tokens := make(map[string]string)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).ForEach(func(k, v []byte) error {
			var dbToken DBToken
			if err := dbToken.UnmarshalBinary(v); err != nil {
				return err
			}
			tokens[dbToken.TokenHash] = dbToken.UserID
			return nil
		})
	})
	return tokens, err
}

func toUser(u DBUser) models.User {
	return models.User{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Role:        models.Role(u.Role),
		AvatarURL:   u.AvatarURL,
	}
}

func toRoom(r DBRoom) models.Room {
	return models.Room{
		ID:            r.ID,
		Type:          models.RoomType(r.Type),
		Name:          r.Name,
		CreatedAt:     r.CreatedAt,
		Resolved:      r.Resolved,
		LastSeq:       r.LastSeq,
		LastMessageAt: r.LastMessageAt,
	}
}

func toMembership(m DBMembership) models.Membership {
	return models.Membership{
		RoomID:      m.RoomID,
		UserID:      m.UserID,
		JoinedAt:    m.JoinedAt,
		LastReadSeq: m.LastReadSeq,
		Hidden:      m.Hidden,
	}
}

func toMessage(m DBMessage) models.Message {
	return models.Message{
		ID:           m.ID,
		RoomID:       m.RoomID,
		SenderID:     m.SenderID,
		Seq:          m.Seq,
		Type:         models.MessageType(m.Type),
		Content:      m.Content,
		AttachmentID: m.AttachmentID,
		CreatedAt:    m.CreatedAt,
		Edited:       m.Edited,
		EditedAt:     m.EditedAt,
		Deleted:      m.Deleted,
	}
}
