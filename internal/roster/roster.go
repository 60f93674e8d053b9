package roster

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"palaver/internal/models"
	"palaver/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Service is the room registry: it creates and looks up rooms and owns
// membership records.
type Service struct {
	store *storage.Store

	// direct collapses concurrent CreateDirect calls for the same pair into
	// one storage round trip; the storage transaction is the final
	// serialization point either way.
	direct singleflight.Group
}

func NewService(store *storage.Store) *Service {
	return &Service{store: store}
}

// PairKey returns the canonical key for an unordered user pair.
func PairKey(userA, userB string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

// CreateDirect returns the DIRECT room for the pair, creating it on first
// use. Concurrent calls for the same pair resolve to the same room.
func (s *Service) CreateDirect(userA, userB string) (models.Room, error) {
	if userA == userB {
		return models.Room{}, fmt.Errorf("direct room needs two distinct users: %w", models.ErrValidation)
	}
	for _, id := range []string{userA, userB} {
		if _, err := s.store.GetUser(id); err != nil {
			return models.Room{}, err
		}
	}

	key := PairKey(userA, userB)
	v, err, _ := s.direct.Do(key, func() (any, error) {
		now := time.Now().Unix()
		room := models.Room{
			ID:        uuid.NewString(),
			Type:      models.RoomDirect,
			CreatedAt: now,
		}
		memberships := []models.Membership{
			{RoomID: room.ID, UserID: userA, JoinedAt: now},
			{RoomID: room.ID, UserID: userB, JoinedAt: now},
		}
		return s.store.CreateDirectRoom(key, room, memberships)
	})
	if err != nil {
		return models.Room{}, err
	}
	return v.(models.Room), nil
}

// CreateGroup creates a GROUP room. The creator is always a member.
func (s *Service) CreateGroup(creatorID, name string, memberIDs []string) (models.Room, error) {
	if strings.TrimSpace(name) == "" {
		return models.Room{}, fmt.Errorf("group name must not be empty: %w", models.ErrValidation)
	}

	ids := map[string]bool{creatorID: true}
	for _, id := range memberIDs {
		ids[id] = true
	}
	// The creator alone is not a group.
	if len(ids) < 2 {
		return models.Room{}, fmt.Errorf("group needs at least one member besides the creator: %w", models.ErrValidation)
	}
	for id := range ids {
		if _, err := s.store.GetUser(id); err != nil {
			return models.Room{}, err
		}
	}

	now := time.Now().Unix()
	room := models.Room{
		ID:        uuid.NewString(),
		Type:      models.RoomGroup,
		Name:      strings.TrimSpace(name),
		CreatedAt: now,
	}
	var memberships []models.Membership
	for id := range ids {
		memberships = append(memberships, models.Membership{RoomID: room.ID, UserID: id, JoinedAt: now})
	}

	if err := s.store.CreateGroupRoom(room, memberships); err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// CreateOrGetSupport returns the user's current unresolved SUPPORT room,
// creating one if needed. No staff member is pre-assigned; staff join via
// JoinSupport.
func (s *Service) CreateOrGetSupport(userID string) (models.Room, error) {
	user, err := s.store.GetUser(userID)
	if err != nil {
		return models.Room{}, err
	}
	if user.IsStaff() {
		return models.Room{}, fmt.Errorf("staff do not open support rooms: %w", models.ErrValidation)
	}

	now := time.Now().Unix()
	room := models.Room{
		ID:        uuid.NewString(),
		Type:      models.RoomSupport,
		Name:      "Support: " + user.DisplayName,
		CreatedAt: now,
	}
	membership := models.Membership{RoomID: room.ID, UserID: userID, JoinedAt: now}
	return s.store.CreateSupportRoom(userID, room, membership)
}

// JoinSupport adds a staff member to a SUPPORT room.
func (s *Service) JoinSupport(roomID, staffID string) error {
	room, err := s.store.GetRoom(roomID)
	if err != nil {
		return err
	}
	if room.Type != models.RoomSupport {
		return fmt.Errorf("room %s is not a support room: %w", roomID, models.ErrValidation)
	}

	user, err := s.store.GetUser(staffID)
	if err != nil {
		return err
	}
	if !user.IsStaff() {
		return fmt.Errorf("only staff may join support rooms: %w", models.ErrForbidden)
	}

	if _, err := s.store.GetMembership(roomID, staffID); err == nil {
		return nil // already a member
	}

	return s.store.AddMember(models.Membership{
		RoomID:   roomID,
		UserID:   staffID,
		JoinedAt: time.Now().Unix(),
	})
}

// ResolveSupport closes a SUPPORT room; the next CreateOrGetSupport for its
// owner starts a fresh one.
func (s *Service) ResolveSupport(roomID, staffID string) error {
	room, err := s.store.GetRoom(roomID)
	if err != nil {
		return err
	}
	if room.Type != models.RoomSupport {
		return fmt.Errorf("room %s is not a support room: %w", roomID, models.ErrValidation)
	}

	user, err := s.store.GetUser(staffID)
	if err != nil {
		return err
	}
	if !user.IsStaff() {
		return fmt.Errorf("only staff may resolve support rooms: %w", models.ErrForbidden)
	}

	owner, err := s.supportOwner(roomID)
	if err != nil {
		return err
	}
	return s.store.ResolveSupportRoom(roomID, owner)
}

func (s *Service) supportOwner(roomID string) (string, error) {
	members, err := s.store.ListMembers(roomID)
	if err != nil {
		return "", err
	}
	for _, m := range members {
		user, err := s.store.GetUser(m.UserID)
		if err != nil {
			continue
		}
		if !user.IsStaff() {
			return m.UserID, nil
		}
	}
	return "", fmt.Errorf("support room %s has no owner: %w", roomID, models.ErrNotFound)
}

// AddMember adds a user to a GROUP room. The caller must already be a
// member.
func (s *Service) AddMember(roomID, callerID, userID string) error {
	room, err := s.store.GetRoom(roomID)
	if err != nil {
		return err
	}
	if room.Type != models.RoomGroup {
		return fmt.Errorf("members can only be added to group rooms: %w", models.ErrValidation)
	}
	if err := s.RequireMember(roomID, callerID); err != nil {
		return err
	}
	if _, err := s.store.GetUser(userID); err != nil {
		return err
	}
	if _, err := s.store.GetMembership(roomID, userID); err == nil {
		return nil
	}
	return s.store.AddMember(models.Membership{
		RoomID:   roomID,
		UserID:   userID,
		JoinedAt: time.Now().Unix(),
	})
}

// RemoveMember removes a user's membership from a GROUP room. History is
// untouched; removing the last member keeps the room and its messages.
func (s *Service) RemoveMember(roomID, userID string) error {
	room, err := s.store.GetRoom(roomID)
	if err != nil {
		return err
	}
	if room.Type != models.RoomGroup {
		return fmt.Errorf("only group rooms can be left: %w", models.ErrValidation)
	}
	return s.store.RemoveMember(roomID, userID)
}

// Hide removes a conversation from the caller's room list without touching
// membership or history. A new message in the room surfaces it again.
func (s *Service) Hide(roomID, userID string) error {
	if err := s.RequireMember(roomID, userID); err != nil {
		return err
	}
	return s.store.SetHidden(roomID, userID, true)
}

// ListRooms returns the user's rooms, most recent message first, each with
// its unread count.
func (s *Service) ListRooms(userID string) ([]models.RoomSummary, error) {
	return s.store.ListRoomsForUser(userID)
}

// RoomIDs returns every room the user belongs to, hidden ones included.
// Hiding only removes a conversation from the user's own list; other
// members still see the user's presence there.
func (s *Service) RoomIDs(userID string) ([]string, error) {
	return s.store.ListRoomIDsForUser(userID)
}

func (s *Service) Room(roomID string) (models.Room, error) {
	return s.store.GetRoom(roomID)
}

func (s *Service) Members(roomID string) ([]models.Membership, error) {
	return s.store.ListMembers(roomID)
}

// RequireMember returns ErrForbidden if the user is not a member of the
// room, and ErrNotFound if the room does not exist.
func (s *Service) RequireMember(roomID, userID string) error {
	if _, err := s.store.GetRoom(roomID); err != nil {
		return err
	}
	if _, err := s.store.GetMembership(roomID, userID); err != nil {
		return fmt.Errorf("user %s is not a member of room %s: %w", userID, roomID, models.ErrForbidden)
	}
	return nil
}

// ListContacts returns the users a caller can start a chat with (everyone
// but themselves).
func (s *Service) ListContacts(callerID string) ([]models.User, error) {
	users, err := s.store.ListUsers()
	if err != nil {
		return nil, err
	}
	out := users[:0]
	for _, u := range users {
		if u.ID != callerID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DisplayName < out[j].DisplayName
	})
	return out, nil
}
