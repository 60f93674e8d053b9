package presence

import (
	"context"
	"sync"
	"time"
)

type typingKey struct {
	roomID string
	userID string
}

// Typing is the ephemeral typing-state registry. Entries live in memory
// only, keyed by (room, user), and expire after a TTL unless refreshed.
// Broadcasts are debounced so a keystroke storm produces at most one
// "typing" event per debounce interval.
type Typing struct {
	mu       sync.Mutex
	expiry   map[typingKey]time.Time
	lastSent map[typingKey]time.Time

	ttl      time.Duration
	debounce time.Duration
	now      func() time.Time

	// onChange fires outside the lock: typing=true on a (debounced) start
	// or refresh, typing=false on stop or expiry.
	onChange func(roomID, userID string, typing bool)
}

func NewTyping(ttl, debounce time.Duration, onChange func(roomID, userID string, typing bool)) *Typing {
	return &Typing{
		expiry:   make(map[typingKey]time.Time),
		lastSent: make(map[typingKey]time.Time),
		ttl:      ttl,
		debounce: debounce,
		now:      time.Now,
		onChange: onChange,
	}
}

// Start inserts or refreshes the typing state for (room, user).
func (t *Typing) Start(roomID, userID string) {
	key := typingKey{roomID, userID}
	now := t.now()

	t.mu.Lock()
	t.expiry[key] = now.Add(t.ttl)
	sent, ok := t.lastSent[key]
	broadcast := !ok || now.Sub(sent) >= t.debounce
	if broadcast {
		t.lastSent[key] = now
	}
	t.mu.Unlock()

	if broadcast && t.onChange != nil {
		t.onChange(roomID, userID, true)
	}
}

// Stop removes the typing state explicitly.
func (t *Typing) Stop(roomID, userID string) {
	key := typingKey{roomID, userID}

	t.mu.Lock()
	_, active := t.expiry[key]
	delete(t.expiry, key)
	delete(t.lastSent, key)
	t.mu.Unlock()

	if active && t.onChange != nil {
		t.onChange(roomID, userID, false)
	}
}

// StopAllFor drops every typing state a user holds, e.g. when their last
// connection goes away.
func (t *Typing) StopAllFor(userID string) {
	t.mu.Lock()
	var stopped []typingKey
	for key := range t.expiry {
		if key.userID == userID {
			delete(t.expiry, key)
			delete(t.lastSent, key)
			stopped = append(stopped, key)
		}
	}
	t.mu.Unlock()

	if t.onChange != nil {
		for _, key := range stopped {
			t.onChange(key.roomID, key.userID, false)
		}
	}
}

// Active reports whether the user currently counts as typing in the room.
func (t *Typing) Active(roomID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	exp, ok := t.expiry[typingKey{roomID, userID}]
	return ok && t.now().Before(exp)
}

// Run sweeps expired entries until the context is canceled. The sweep
// interval stays below the TTL so nobody appears to type forever.
func (t *Typing) Run(ctx context.Context) {
	interval := t.ttl / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *Typing) sweep() {
	now := t.now()

	t.mu.Lock()
	var expired []typingKey
	for key, exp := range t.expiry {
		if !now.Before(exp) {
			delete(t.expiry, key)
			delete(t.lastSent, key)
			expired = append(expired, key)
		}
	}
	t.mu.Unlock()

	if t.onChange != nil {
		for _, key := range expired {
			t.onChange(key.roomID, key.userID, false)
		}
	}
}
