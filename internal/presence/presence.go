package presence

import (
	"sync"
	"time"
)

// Tracker derives online state from a per-user count of live connections.
// A user with several devices is online until the last one goes away.
// Offline transitions are delayed by a grace period so a quick reconnect
// does not flicker.
type Tracker struct {
	mu      sync.Mutex
	conns   map[string]int
	pending map[string]*time.Timer
	grace   time.Duration

	// OnChange fires outside the lock on every effective transition.
	onChange func(userID string, online bool)
}

func NewTracker(grace time.Duration, onChange func(userID string, online bool)) *Tracker {
	return &Tracker{
		conns:    make(map[string]int),
		pending:  make(map[string]*time.Timer),
		grace:    grace,
		onChange: onChange,
	}
}

// Connect registers one live connection for the user.
func (t *Tracker) Connect(userID string) {
	t.mu.Lock()
	t.conns[userID]++
	first := t.conns[userID] == 1

	if timer, ok := t.pending[userID]; ok {
		// Reconnected within the grace period: swallow the transition.
		timer.Stop()
		delete(t.pending, userID)
		first = false
	}
	t.mu.Unlock()

	if first && t.onChange != nil {
		t.onChange(userID, true)
	}
}

// Disconnect releases one live connection. When the count reaches zero the
// offline transition fires after the grace period, unless the user
// reconnects first.
func (t *Tracker) Disconnect(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conns[userID] == 0 {
		return
	}
	t.conns[userID]--
	if t.conns[userID] > 0 {
		return
	}
	delete(t.conns, userID)

	if timer, ok := t.pending[userID]; ok {
		timer.Stop()
	}
	t.pending[userID] = time.AfterFunc(t.grace, func() {
		t.mu.Lock()
		_, stillPending := t.pending[userID]
		delete(t.pending, userID)
		t.mu.Unlock()

		if stillPending && t.onChange != nil {
			t.onChange(userID, false)
		}
	})
}

// Online reports whether the user currently counts as online. A user inside
// the offline grace window still counts.
func (t *Tracker) Online(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns[userID] > 0 {
		return true
	}
	_, graced := t.pending[userID]
	return graced
}
