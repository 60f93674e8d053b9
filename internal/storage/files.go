package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"palaver/internal/models"

	"go.etcd.io/bbolt"
)

func (s *Store) PutAttachment(att models.Attachment) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbAtt := &DBAttachment{
			ID:        att.ID,
			Checksum:  att.Checksum,
			Name:      att.Name,
			MimeType:  att.MimeType,
			Size:      att.Size,
			OwnerID:   att.OwnerID,
			CreatedAt: att.CreatedAt,
		}
		data, err := dbAtt.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal attachment: %w", err)
		}
		return tx.Bucket(bucketAttachments).Put(dbAtt.Key(), data)
	})
}

func (s *Store) GetAttachment(id string) (models.Attachment, error) {
	var att models.Attachment
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketAttachments).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("attachment %s: %w", id, models.ErrNotFound)
		}
		var dbAtt DBAttachment
		if err := dbAtt.UnmarshalBinary(data); err != nil {
			return err
		}
		att = models.Attachment{
			ID:        dbAtt.ID,
			Checksum:  dbAtt.Checksum,
			Name:      dbAtt.Name,
			MimeType:  dbAtt.MimeType,
			Size:      dbAtt.Size,
			OwnerID:   dbAtt.OwnerID,
			CreatedAt: dbAtt.CreatedAt,
		}
		return nil
	})
	return att, err
}

// PutPushSubscription stores a raw web-push subscription for a user, keyed
// by a digest of the subscription itself so re-subscribing is idempotent.
func (s *Store) PutPushSubscription(userID string, sub []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		ub, err := tx.Bucket(bucketPushSubs).CreateBucketIfNotExists([]byte(userID))
		if err != nil {
			return err
		}
		digest := sha256.Sum256(sub)
		return ub.Put([]byte(hex.EncodeToString(digest[:])), sub)
	})
}

func (s *Store) DeletePushSubscription(userID string, sub []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		ub := tx.Bucket(bucketPushSubs).Bucket([]byte(userID))
		if ub == nil {
			return nil
		}
		digest := sha256.Sum256(sub)
		return ub.Delete([]byte(hex.EncodeToString(digest[:])))
	})
}

func (s *Store) ListPushSubscriptions(userID string) ([][]byte, error) {
	var subs [][]byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		ub := tx.Bucket(bucketPushSubs).Bucket([]byte(userID))
		if ub == nil {
			return nil
		}
		return ub.ForEach(func(k, v []byte) error {
			sub := make([]byte, len(v))
			copy(sub, v)
			subs = append(subs, sub)
			return nil
		})
	})
	return subs, err
}
