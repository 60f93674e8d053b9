package storage

import (
	"fmt"
	"sort"

	"palaver/internal/models"

	"go.etcd.io/bbolt"
)

// CreateDirectRoom creates the DIRECT room for the given canonical pair key,
// or returns the existing one. The index lookup and the room creation happen
// in a single write transaction, so two racing calls resolve to the same
// room.
func (s *Store) CreateDirectRoom(pairKey string, room models.Room, memberships []models.Membership) (models.Room, error) {
	var result models.Room
	err := s.db.Update(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(bucketDirectIndex)
		if existing := idx.Get([]byte(pairKey)); existing != nil {
			found, err := getRoom(tx, string(existing))
			if err != nil {
				return err
			}
			result = found
			return nil
		}

		if err := putRoom(tx, room, memberships); err != nil {
			return err
		}
		if err := idx.Put([]byte(pairKey), []byte(room.ID)); err != nil {
			return err
		}
		result = room
		return nil
	})
	return result, err
}

// CreateGroupRoom creates a GROUP room with its initial memberships.
func (s *Store) CreateGroupRoom(room models.Room, memberships []models.Membership) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putRoom(tx, room, memberships)
	})
}

// CreateSupportRoom creates a SUPPORT room for the user, or returns the
// user's current unresolved one. Resolved rooms drop out of the index, so a
// later call creates a fresh room.
func (s *Store) CreateSupportRoom(userID string, room models.Room, membership models.Membership) (models.Room, error) {
	var result models.Room
	err := s.db.Update(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(bucketSupportIndex)
		if existing := idx.Get([]byte(userID)); existing != nil {
			found, err := getRoom(tx, string(existing))
			if err != nil {
				return err
			}
			result = found
			return nil
		}

		if err := putRoom(tx, room, []models.Membership{membership}); err != nil {
			return err
		}
		if err := idx.Put([]byte(userID), []byte(room.ID)); err != nil {
			return err
		}
		result = room
		return nil
	})
	return result, err
}

// ResolveSupportRoom marks a SUPPORT room resolved and unlinks it from the
// per-user index.
func (s *Store) ResolveSupportRoom(roomID, userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		room, err := getRoom(tx, roomID)
		if err != nil {
			return err
		}
		room.Resolved = true
		if err := writeRoom(tx, room); err != nil {
			return err
		}
		idx := tx.Bucket(bucketSupportIndex)
		if current := idx.Get([]byte(userID)); string(current) == roomID {
			return idx.Delete([]byte(userID))
		}
		return nil
	})
}

func (s *Store) GetRoom(roomID string) (models.Room, error) {
	var room models.Room
	err := s.db.View(func(tx *bbolt.Tx) error {
		found, err := getRoom(tx, roomID)
		if err != nil {
			return err
		}
		room = found
		return nil
	})
	return room, err
}

// AddMember inserts a membership and the reverse user index entry.
func (s *Store) AddMember(m models.Membership) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := getRoom(tx, m.RoomID); err != nil {
			return err
		}
		return putMembership(tx, m)
	})
}

// RemoveMember deletes the membership record. Message history stays.
func (s *Store) RemoveMember(roomID, userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		rb := tx.Bucket(bucketMembers).Bucket([]byte(roomID))
		if rb == nil || rb.Get([]byte(userID)) == nil {
			return fmt.Errorf("membership %s/%s: %w", roomID, userID, models.ErrNotFound)
		}
		if err := rb.Delete([]byte(userID)); err != nil {
			return err
		}
		if ub := tx.Bucket(bucketUserRooms).Bucket([]byte(userID)); ub != nil {
			return ub.Delete([]byte(roomID))
		}
		return nil
	})
}

func (s *Store) GetMembership(roomID, userID string) (models.Membership, error) {
	var m models.Membership
	err := s.db.View(func(tx *bbolt.Tx) error {
		found, err := getMembership(tx, roomID, userID)
		if err != nil {
			return err
		}
		m = found
		return nil
	})
	return m, err
}

func (s *Store) ListMembers(roomID string) ([]models.Membership, error) {
	var members []models.Membership
	err := s.db.View(func(tx *bbolt.Tx) error {
		rb := tx.Bucket(bucketMembers).Bucket([]byte(roomID))
		if rb == nil {
			return nil
		}
		return rb.ForEach(func(k, v []byte) error {
			var dbm DBMembership
			if err := dbm.UnmarshalBinary(v); err != nil {
				return err
			}
			members = append(members, toMembership(dbm))
			return nil
		})
	})
	return members, err
}

// SetHidden flags a conversation hidden for one member. A new message in the
// room clears the flag again.
func (s *Store) SetHidden(roomID, userID string, hidden bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		m, err := getMembership(tx, roomID, userID)
		if err != nil {
			return err
		}
		m.Hidden = hidden
		return putMembership(tx, m)
	})
}

// ListRoomsForUser returns the user's visible rooms annotated with unread
// counts, ordered by most recent message first.
func (s *Store) ListRoomsForUser(userID string) ([]models.RoomSummary, error) {
	var rooms []models.RoomSummary
	err := s.db.View(func(tx *bbolt.Tx) error {
		ub := tx.Bucket(bucketUserRooms).Bucket([]byte(userID))
		if ub == nil {
			return nil
		}
		return ub.ForEach(func(roomID, _ []byte) error {
			room, err := getRoom(tx, string(roomID))
			if err != nil {
				return err
			}
			m, err := getMembership(tx, string(roomID), userID)
			if err != nil {
				return err
			}
			if m.Hidden {
				return nil
			}
			rooms = append(rooms, models.RoomSummary{
				Room:        room,
				UnreadCount: countUnread(tx, string(roomID), m.LastReadSeq),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].LastMessageAt != rooms[j].LastMessageAt {
			return rooms[i].LastMessageAt > rooms[j].LastMessageAt
		}
		return rooms[i].CreatedAt > rooms[j].CreatedAt
	})

	return rooms, nil
}

// ListRoomIDsForUser returns every room the user is a member of, hidden
// conversations included.
func (s *Store) ListRoomIDsForUser(userID string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		ub := tx.Bucket(bucketUserRooms).Bucket([]byte(userID))
		if ub == nil {
			return nil
		}
		return ub.ForEach(func(roomID, _ []byte) error {
			ids = append(ids, string(roomID))
			return nil
		})
	})
	return ids, err
}

func getRoom(tx *bbolt.Tx, roomID string) (models.Room, error) {
	data := tx.Bucket(bucketRooms).Get([]byte(roomID))
	if data == nil {
		return models.Room{}, fmt.Errorf("room %s: %w", roomID, models.ErrNotFound)
	}
	var dbRoom DBRoom
	if err := dbRoom.UnmarshalBinary(data); err != nil {
		return models.Room{}, err
	}
	return toRoom(dbRoom), nil
}

func writeRoom(tx *bbolt.Tx, room models.Room) error {
	dbRoom := &DBRoom{
		ID:            room.ID,
		Type:          string(room.Type),
		Name:          room.Name,
		CreatedAt:     room.CreatedAt,
		Resolved:      room.Resolved,
		LastSeq:       room.LastSeq,
		LastMessageAt: room.LastMessageAt,
	}
	data, err := dbRoom.MarshalBinary()
	if err != nil {
		return err
	}
	return tx.Bucket(bucketRooms).Put(dbRoom.Key(), data)
}

func putRoom(tx *bbolt.Tx, room models.Room, memberships []models.Membership) error {
	if err := writeRoom(tx, room); err != nil {
		return err
	}
	for _, m := range memberships {
		if err := putMembership(tx, m); err != nil {
			return err
		}
	}
	return nil
}

func getMembership(tx *bbolt.Tx, roomID, userID string) (models.Membership, error) {
	rb := tx.Bucket(bucketMembers).Bucket([]byte(roomID))
	if rb == nil {
		return models.Membership{}, fmt.Errorf("membership %s/%s: %w", roomID, userID, models.ErrNotFound)
	}
	data := rb.Get([]byte(userID))
	if data == nil {
		return models.Membership{}, fmt.Errorf("membership %s/%s: %w", roomID, userID, models.ErrNotFound)
	}
	var dbm DBMembership
	if err := dbm.UnmarshalBinary(data); err != nil {
		return models.Membership{}, err
	}
	return toMembership(dbm), nil
}

func putMembership(tx *bbolt.Tx, m models.Membership) error {
	rb, err := tx.Bucket(bucketMembers).CreateBucketIfNotExists([]byte(m.RoomID))
	if err != nil {
		return err
	}
	dbm := &DBMembership{
		RoomID:      m.RoomID,
		UserID:      m.UserID,
		JoinedAt:    m.JoinedAt,
		LastReadSeq: m.LastReadSeq,
		Hidden:      m.Hidden,
	}
	data, err := dbm.MarshalBinary()
	if err != nil {
		return err
	}
	if err := rb.Put(dbm.Key(), data); err != nil {
		return err
	}

	ub, err := tx.Bucket(bucketUserRooms).CreateBucketIfNotExists([]byte(m.UserID))
	if err != nil {
		return err
	}
	return ub.Put([]byte(m.RoomID), nil)
}
