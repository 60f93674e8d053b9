package roster

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"palaver/internal/models"
	"palaver/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	for _, u := range []models.User{
		{ID: "alice", DisplayName: "Alice", Role: models.RoleOrdinary},
		{ID: "bob", DisplayName: "Bob", Role: models.RoleOrdinary},
		{ID: "carol", DisplayName: "Carol", Role: models.RoleOrdinary},
		{ID: "staff1", DisplayName: "Support Sam", Role: models.RoleStaff},
	} {
		require.NoError(t, store.UpsertUser(u))
	}
	return NewService(store), store
}

func TestPairKey(t *testing.T) {
	assert.Equal(t, "alice|bob", PairKey("alice", "bob"))
	assert.Equal(t, "alice|bob", PairKey("bob", "alice"))
}

func TestCreateDirect(t *testing.T) {
	svc, _ := newTestService(t)

	room, err := svc.CreateDirect("alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.RoomDirect, room.Type)

	again, err := svc.CreateDirect("bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, room.ID, again.ID, "same pair must map to the same room")

	_, err = svc.CreateDirect("alice", "alice")
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.CreateDirect("alice", "nobody")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCreateDirectConcurrent(t *testing.T) {
	svc, _ := newTestService(t)

	const callers = 10
	ids := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			room, err := svc.CreateDirect("alice", "bob")
			if err != nil {
				t.Errorf("CreateDirect failed: %v", err)
				return
			}
			ids <- room.ID
		}()
	}
	wg.Wait()
	close(ids)

	var first string
	for id := range ids {
		if first == "" {
			first = id
		}
		assert.Equal(t, first, id, "all concurrent callers must get the same room")
	}
}

func TestCreateGroup(t *testing.T) {
	svc, _ := newTestService(t)

	room, err := svc.CreateGroup("alice", "Plans", []string{"bob", "carol"})
	require.NoError(t, err)
	assert.Equal(t, models.RoomGroup, room.Type)
	assert.Equal(t, "Plans", room.Name)

	members, err := svc.Members(room.ID)
	require.NoError(t, err)
	assert.Len(t, members, 3, "creator is always a member")

	_, err = svc.CreateGroup("alice", "   ", []string{"bob"})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.CreateGroup("alice", "Empty", nil)
	assert.ErrorIs(t, err, models.ErrValidation)

	// Listing only the creator dedupes down to one member.
	_, err = svc.CreateGroup("alice", "Solo", []string{"alice"})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.CreateGroup("alice", "Duo", []string{"alice", "bob"})
	require.NoError(t, err)

	_, err = svc.CreateGroup("alice", "Ghosts", []string{"nobody"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGroupMembership(t *testing.T) {
	svc, _ := newTestService(t)

	room, err := svc.CreateGroup("alice", "Plans", []string{"bob"})
	require.NoError(t, err)

	// Only existing members may add.
	err = svc.AddMember(room.ID, "carol", "carol")
	assert.ErrorIs(t, err, models.ErrForbidden)

	require.NoError(t, svc.AddMember(room.ID, "alice", "carol"))
	// Adding an existing member is a no-op.
	require.NoError(t, svc.AddMember(room.ID, "alice", "carol"))

	members, err := svc.Members(room.ID)
	require.NoError(t, err)
	assert.Len(t, members, 3)

	require.NoError(t, svc.RemoveMember(room.ID, "carol"))
	assert.ErrorIs(t, svc.RequireMember(room.ID, "carol"), models.ErrForbidden)

	// Direct rooms cannot be left.
	direct, err := svc.CreateDirect("alice", "bob")
	require.NoError(t, err)
	assert.ErrorIs(t, svc.RemoveMember(direct.ID, "alice"), models.ErrValidation)
}

func TestSupportLifecycle(t *testing.T) {
	svc, _ := newTestService(t)

	room, err := svc.CreateOrGetSupport("alice")
	require.NoError(t, err)
	assert.Equal(t, models.RoomSupport, room.Type)
	assert.Equal(t, "Support: Alice", room.Name)

	// Repeated requests land in the same open room.
	again, err := svc.CreateOrGetSupport("alice")
	require.NoError(t, err)
	assert.Equal(t, room.ID, again.ID)

	// Staff do not open support rooms of their own.
	_, err = svc.CreateOrGetSupport("staff1")
	assert.ErrorIs(t, err, models.ErrValidation)

	// Ordinary users cannot join someone else's support room.
	assert.ErrorIs(t, svc.JoinSupport(room.ID, "bob"), models.ErrForbidden)

	require.NoError(t, svc.JoinSupport(room.ID, "staff1"))
	require.NoError(t, svc.JoinSupport(room.ID, "staff1")) // idempotent

	// Only staff resolve.
	assert.ErrorIs(t, svc.ResolveSupport(room.ID, "alice"), models.ErrForbidden)
	require.NoError(t, svc.ResolveSupport(room.ID, "staff1"))

	// After resolution a new request opens a fresh room.
	fresh, err := svc.CreateOrGetSupport("alice")
	require.NoError(t, err)
	assert.NotEqual(t, room.ID, fresh.ID)
}

func TestHideAndResurface(t *testing.T) {
	svc, store := newTestService(t)

	room, err := svc.CreateDirect("alice", "bob")
	require.NoError(t, err)

	require.NoError(t, svc.Hide(room.ID, "alice"))

	rooms, err := svc.ListRooms("alice")
	require.NoError(t, err)
	assert.Empty(t, rooms, "hidden room must not be listed")

	// Hiding is a list preference only; the membership itself remains.
	ids, err := svc.RoomIDs("alice")
	require.NoError(t, err)
	assert.Equal(t, []string{room.ID}, ids)

	// A new message surfaces the room again.
	msg := models.Message{ID: "m1", RoomID: room.ID, SenderID: "bob", Type: models.MessageText, Content: "hi"}
	require.NoError(t, store.AppendMessage(&msg))

	rooms, err = svc.ListRooms("alice")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, int64(1), rooms[0].UnreadCount)
}

func TestListRoomsOrder(t *testing.T) {
	svc, store := newTestService(t)

	first, err := svc.CreateDirect("alice", "bob")
	require.NoError(t, err)
	second, err := svc.CreateDirect("alice", "carol")
	require.NoError(t, err)

	// Activity in the older room moves it to the front.
	msg := models.Message{ID: "m1", RoomID: first.ID, SenderID: "bob", Type: models.MessageText, Content: "hi", CreatedAt: time.Now().Unix()}
	require.NoError(t, store.AppendMessage(&msg))

	rooms, err := svc.ListRooms("alice")
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, first.ID, rooms[0].ID)
	assert.Equal(t, second.ID, rooms[1].ID)
}

func TestListContacts(t *testing.T) {
	svc, _ := newTestService(t)

	contacts, err := svc.ListContacts("alice")
	require.NoError(t, err)
	require.Len(t, contacts, 3)
	for _, c := range contacts {
		assert.NotEqual(t, "alice", c.ID)
	}
	assert.Equal(t, "Bob", contacts[0].DisplayName)
}
