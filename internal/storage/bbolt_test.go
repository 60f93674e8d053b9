package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"palaver/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStorage(t *testing.T) {
	store := newTestStore(t)

	t.Run("Users", func(t *testing.T) {
		user := models.User{ID: "u1", DisplayName: "Alice", Role: models.RoleOrdinary}
		if err := store.UpsertUser(user); err != nil {
			t.Fatalf("UpsertUser failed: %v", err)
		}

		got, err := store.GetUser("u1")
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if got.DisplayName != "Alice" {
			t.Errorf("expected DisplayName Alice, got %s", got.DisplayName)
		}

		if _, err := store.GetUser("missing"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Tokens", func(t *testing.T) {
		if err := store.UpsertToken("u1", "hash123"); err != nil {
			t.Fatalf("UpsertToken failed: %v", err)
		}

		tokens, err := store.ListTokens()
		if err != nil {
			t.Fatalf("ListTokens failed: %v", err)
		}
		if tokens["hash123"] != "u1" {
			t.Errorf("expected u1 for hash123, got %s", tokens["hash123"])
		}

		if err := store.DeleteToken("hash123"); err != nil {
			t.Fatalf("DeleteToken failed: %v", err)
		}
		tokens, _ = store.ListTokens()
		if _, ok := tokens["hash123"]; ok {
			t.Error("expected token to be deleted")
		}
	})

	t.Run("DirectRoomIdempotent", func(t *testing.T) {
		room := models.Room{ID: "r1", Type: models.RoomDirect, CreatedAt: 1}
		memberships := []models.Membership{
			{RoomID: "r1", UserID: "u1", JoinedAt: 1},
			{RoomID: "r1", UserID: "u2", JoinedAt: 1},
		}

		created, err := store.CreateDirectRoom("u1|u2", room, memberships)
		if err != nil {
			t.Fatalf("CreateDirectRoom failed: %v", err)
		}
		if created.ID != "r1" {
			t.Errorf("expected room r1, got %s", created.ID)
		}

		// Second call with a different candidate room returns the original.
		again, err := store.CreateDirectRoom("u1|u2", models.Room{ID: "r-other", Type: models.RoomDirect}, memberships)
		if err != nil {
			t.Fatalf("CreateDirectRoom second call failed: %v", err)
		}
		if again.ID != "r1" {
			t.Errorf("expected existing room r1, got %s", again.ID)
		}
	})

	t.Run("Memberships", func(t *testing.T) {
		m, err := store.GetMembership("r1", "u1")
		if err != nil {
			t.Fatalf("GetMembership failed: %v", err)
		}
		if m.LastReadSeq != 0 {
			t.Errorf("expected LastReadSeq 0, got %d", m.LastReadSeq)
		}

		members, err := store.ListMembers("r1")
		if err != nil {
			t.Fatalf("ListMembers failed: %v", err)
		}
		if len(members) != 2 {
			t.Errorf("expected 2 members, got %d", len(members))
		}

		if _, err := store.GetMembership("r1", "stranger"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("AppendAssignsGaplessSequences", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			msg := models.Message{
				ID:        fmt.Sprintf("m%d", i),
				RoomID:    "r1",
				SenderID:  "u1",
				Type:      models.MessageText,
				Content:   fmt.Sprintf("msg %d", i),
				CreatedAt: time.Now().Unix(),
			}
			if err := store.AppendMessage(&msg); err != nil {
				t.Fatalf("AppendMessage %d failed: %v", i, err)
			}
			if msg.Seq != int64(i) {
				t.Errorf("expected seq %d, got %d", i, msg.Seq)
			}
		}

		room, err := store.GetRoom("r1")
		if err != nil {
			t.Fatalf("GetRoom failed: %v", err)
		}
		if room.LastSeq != 3 {
			t.Errorf("expected LastSeq 3, got %d", room.LastSeq)
		}
	})

	t.Run("SenderAutoRead", func(t *testing.T) {
		m, err := store.GetMembership("r1", "u1")
		if err != nil {
			t.Fatal(err)
		}
		if m.LastReadSeq != 3 {
			t.Errorf("sender expected LastReadSeq 3, got %d", m.LastReadSeq)
		}

		other, err := store.GetMembership("r1", "u2")
		if err != nil {
			t.Fatal(err)
		}
		if other.LastReadSeq != 0 {
			t.Errorf("receiver expected LastReadSeq 0, got %d", other.LastReadSeq)
		}
	})

	t.Run("ListMessagesRange", func(t *testing.T) {
		msgs, err := store.ListMessages("r1", 1, 100)
		if err != nil {
			t.Fatalf("ListMessages failed: %v", err)
		}
		if len(msgs) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(msgs))
		}
		if msgs[0].Content != "msg 1" || msgs[2].Content != "msg 3" {
			t.Errorf("unexpected order: %v", msgs)
		}

		page, err := store.ListMessages("r1", 2, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(page) != 1 || page[0].Seq != 2 {
			t.Errorf("expected single message seq 2, got %v", page)
		}
	})

	t.Run("MarkReadMonotonic", func(t *testing.T) {
		effective, err := store.MarkRead("r1", "u2", 2)
		if err != nil {
			t.Fatalf("MarkRead failed: %v", err)
		}
		if effective != 2 {
			t.Errorf("expected position 2, got %d", effective)
		}

		// An older position never regresses.
		effective, err = store.MarkRead("r1", "u2", 1)
		if err != nil {
			t.Fatal(err)
		}
		if effective != 2 {
			t.Errorf("expected position to stay 2, got %d", effective)
		}
	})

	t.Run("UnreadSkipsDeleted", func(t *testing.T) {
		count, err := store.CountUnread("r1", "u2")
		if err != nil {
			t.Fatalf("CountUnread failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 unread, got %d", count)
		}

		if _, err := store.MutateMessage("m3", func(m *models.Message) {
			m.Content = ""
			m.Deleted = true
		}); err != nil {
			t.Fatalf("MutateMessage failed: %v", err)
		}

		count, err = store.CountUnread("r1", "u2")
		if err != nil {
			t.Fatal(err)
		}
		if count != 0 {
			t.Errorf("expected 0 unread after delete, got %d", count)
		}
	})

	t.Run("MutatePreservesSequence", func(t *testing.T) {
		msg, err := store.MutateMessage("m1", func(m *models.Message) {
			m.Content = "edited"
			m.Edited = true
		})
		if err != nil {
			t.Fatalf("MutateMessage failed: %v", err)
		}
		if msg.Seq != 1 {
			t.Errorf("expected seq 1 after edit, got %d", msg.Seq)
		}

		got, err := store.GetMessage("m1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Content != "edited" || !got.Edited {
			t.Errorf("edit not persisted: %+v", got)
		}
	})

	t.Run("Attachments", func(t *testing.T) {
		att := models.Attachment{
			ID:       "a1",
			Checksum: "deadbeef",
			Name:     "test.png",
			MimeType: "image/png",
			Size:     42,
			OwnerID:  "u1",
		}
		if err := store.PutAttachment(att); err != nil {
			t.Fatalf("PutAttachment failed: %v", err)
		}

		got, err := store.GetAttachment("a1")
		if err != nil {
			t.Fatalf("GetAttachment failed: %v", err)
		}
		if got.Checksum != "deadbeef" || got.MimeType != "image/png" {
			t.Errorf("unexpected attachment: %+v", got)
		}
	})

	t.Run("PushSubscriptions", func(t *testing.T) {
		sub := []byte(`{"endpoint":"https://push.example/abc"}`)
		if err := store.PutPushSubscription("u1", sub); err != nil {
			t.Fatalf("PutPushSubscription failed: %v", err)
		}
		// Idempotent re-subscribe
		if err := store.PutPushSubscription("u1", sub); err != nil {
			t.Fatal(err)
		}

		subs, err := store.ListPushSubscriptions("u1")
		if err != nil {
			t.Fatal(err)
		}
		if len(subs) != 1 {
			t.Errorf("expected 1 subscription, got %d", len(subs))
		}

		if err := store.DeletePushSubscription("u1", sub); err != nil {
			t.Fatal(err)
		}
		subs, _ = store.ListPushSubscriptions("u1")
		if len(subs) != 0 {
			t.Errorf("expected 0 subscriptions, got %d", len(subs))
		}
	})
}

func TestStorage_ConcurrentAppendsAreGapless(t *testing.T) {
	store := newTestStore(t)

	room := models.Room{ID: "busy", Type: models.RoomGroup, Name: "Busy", CreatedAt: 1}
	err := store.CreateGroupRoom(room, []models.Membership{
		{RoomID: "busy", UserID: "u1", JoinedAt: 1},
		{RoomID: "busy", UserID: "u2", JoinedAt: 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	const writers = 20
	seqs := make(chan int64, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := models.Message{
				ID:       fmt.Sprintf("c%d", i),
				RoomID:   "busy",
				SenderID: "u1",
				Type:     models.MessageText,
				Content:  "x",
			}
			if err := store.AppendMessage(&msg); err != nil {
				t.Errorf("AppendMessage failed: %v", err)
				return
			}
			seqs <- msg.Seq
		}(i)
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for seq := range seqs {
		if seen[seq] {
			t.Errorf("duplicate sequence %d", seq)
		}
		seen[seq] = true
	}
	for i := int64(1); i <= writers; i++ {
		if !seen[i] {
			t.Errorf("missing sequence %d", i)
		}
	}
}

func TestMarkReadClampedToRoomHead(t *testing.T) {
	store := newTestStore(t)

	room := models.Room{ID: "r1", Type: models.RoomDirect, CreatedAt: 1}
	_, err := store.CreateDirectRoom("u1|u2", room, []models.Membership{
		{RoomID: "r1", UserID: "u1", JoinedAt: 1},
		{RoomID: "r1", UserID: "u2", JoinedAt: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 2; i++ {
		msg := models.Message{ID: fmt.Sprintf("m%d", i), RoomID: "r1", SenderID: "u1", Type: models.MessageText, Content: "x"}
		if err := store.AppendMessage(&msg); err != nil {
			t.Fatal(err)
		}
	}

	// A position past the newest message clamps to it.
	effective, err := store.MarkRead("r1", "u2", 99)
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if effective != 2 {
		t.Errorf("expected position clamped to 2, got %d", effective)
	}

	// The next message is unread as usual.
	msg := models.Message{ID: "m3", RoomID: "r1", SenderID: "u1", Type: models.MessageText, Content: "x"}
	if err := store.AppendMessage(&msg); err != nil {
		t.Fatal(err)
	}
	count, err := store.CountUnread("r1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 unread after clamp, got %d", count)
	}
}

func TestRetry(t *testing.T) {
	calls := 0
	err := Retry(3, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}

	calls = 0
	err = Retry(3, func() error {
		calls++
		return fmt.Errorf("no such room: %w", models.ErrNotFound)
	})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls != 1 {
		t.Errorf("domain errors must not be retried, got %d calls", calls)
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
