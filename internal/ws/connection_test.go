package ws

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"palaver/internal/models"
)

// mockSocket scripts reads and records writes.
type mockSocket struct {
	mu       sync.Mutex
	incoming chan models.ClientEvent
	written  []models.ServerEvent
	closed   bool
	deadline time.Time
}

func newMockSocket() *mockSocket {
	return &mockSocket{incoming: make(chan models.ClientEvent, 10)}
}

func (m *mockSocket) ReadJSON(v interface{}) error {
	ev, ok := <-m.incoming
	if !ok {
		return io.EOF
	}
	*(v.(*models.ClientEvent)) = ev
	return nil
}

func (m *mockSocket) WriteJSON(v interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("write to closed socket")
	}
	m.written = append(m.written, v.(models.ServerEvent))
	return nil
}

func (m *mockSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.incoming)
	}
	return nil
}

func (m *mockSocket) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadline = t
	return nil
}

func (m *mockSocket) writtenEvents() []models.ServerEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ServerEvent(nil), m.written...)
}

// mockGateway records attach/detach and handled events.
type mockGateway struct {
	mu         sync.Mutex
	fromServer chan models.ServerEvent
	handled    []models.ClientEvent
	attached   int
	detached   int
}

func newMockGateway() *mockGateway {
	return &mockGateway{fromServer: make(chan models.ServerEvent, 10)}
}

func (g *mockGateway) Attach(userID string) (string, chan models.ServerEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attached++
	return "conn-1", g.fromServer
}

func (g *mockGateway) Detach(userID, connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.detached++
}

func (g *mockGateway) HandleClientEvent(userID string, ev models.ClientEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handled = append(g.handled, ev)
}

func (g *mockGateway) handledEvents() []models.ClientEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.ClientEvent(nil), g.handled...)
}

func TestConnectionRoutesClientEvents(t *testing.T) {
	sock := newMockSocket()
	gw := newMockGateway()
	conn := NewConnection(gw, sock, "alice", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Handle(ctx) }()

	sock.incoming <- models.ClientEvent{Type: models.ClientEventTypingStart, RoomID: "r1"}

	waitFor(t, func() bool { return len(gw.handledEvents()) == 1 })
	got := gw.handledEvents()
	if got[0].Type != models.ClientEventTypingStart || got[0].RoomID != "r1" {
		t.Errorf("unexpected handled event: %+v", got[0])
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Handle returned error: %v", err)
	}
	if gw.detached != 1 {
		t.Errorf("expected 1 detach, got %d", gw.detached)
	}
}

func TestConnectionWritesServerEvents(t *testing.T) {
	sock := newMockSocket()
	gw := newMockGateway()
	conn := NewConnection(gw, sock, "alice", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- conn.Handle(ctx) }()

	gw.fromServer <- models.ServerEvent{Type: models.ServerEventNewMessage, RoomID: "r1"}

	waitFor(t, func() bool { return len(sock.writtenEvents()) == 1 })
	got := sock.writtenEvents()
	if got[0].Type != models.ServerEventNewMessage {
		t.Errorf("unexpected written event: %+v", got[0])
	}

	cancel()
	<-done
}

func TestConnectionStopsWhenServerChannelCloses(t *testing.T) {
	sock := newMockSocket()
	gw := newMockGateway()
	conn := NewConnection(gw, sock, "alice", time.Minute)

	done := make(chan error, 1)
	go func() { done <- conn.Handle(context.Background()) }()

	// The hub closes the channel on detach; the connection shuts down clean.
	close(gw.fromServer)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not shut down")
	}
}

func TestConnectionStopsOnReadError(t *testing.T) {
	sock := newMockSocket()
	gw := newMockGateway()
	conn := NewConnection(gw, sock, "alice", time.Minute)

	done := make(chan error, 1)
	go func() { done <- conn.Handle(context.Background()) }()

	// A dead socket surfaces as a read error and tears the connection down.
	sock.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected the read error to surface")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not shut down")
	}
	if gw.detached != 1 {
		t.Errorf("expected 1 detach, got %d", gw.detached)
	}
}

func TestConnectionSetsHeartbeatDeadline(t *testing.T) {
	sock := newMockSocket()
	gw := newMockGateway()
	conn := NewConnection(gw, sock, "alice", 30*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Handle(ctx) }()

	waitFor(t, func() bool {
		sock.mu.Lock()
		defer sock.mu.Unlock()
		return !sock.deadline.IsZero()
	})

	sock.mu.Lock()
	deadline := sock.deadline
	sock.mu.Unlock()
	if until := time.Until(deadline); until < 25*time.Second || until > 30*time.Second {
		t.Errorf("expected deadline about 30s out, got %v", until)
	}

	cancel()
	<-done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
