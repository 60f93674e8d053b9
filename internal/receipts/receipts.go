package receipts

import (
	"palaver/internal/roster"
	"palaver/internal/storage"
)

// Tracker owns per-member read positions. Positions only ever move forward;
// marking an older sequence read is a no-op.
type Tracker struct {
	store  *storage.Store
	roster *roster.Service
}

func NewTracker(store *storage.Store, roster *roster.Service) *Tracker {
	return &Tracker{store: store, roster: roster}
}

// MarkRead advances the member's read position to uptoSeq and returns the
// effective position.
func (t *Tracker) MarkRead(roomID, userID string, uptoSeq int64) (int64, error) {
	if err := t.roster.RequireMember(roomID, userID); err != nil {
		return 0, err
	}
	return t.store.MarkRead(roomID, userID, uptoSeq)
}

// Unread counts the non-deleted messages past the member's read position.
// A sender's own messages never count: submitting already advanced the
// sender's position.
func (t *Tracker) Unread(roomID, userID string) (int64, error) {
	if err := t.roster.RequireMember(roomID, userID); err != nil {
		return 0, err
	}
	return t.store.CountUnread(roomID, userID)
}

// Position returns the member's current read position.
func (t *Tracker) Position(roomID, userID string) (int64, error) {
	m, err := t.store.GetMembership(roomID, userID)
	if err != nil {
		return 0, err
	}
	return m.LastReadSeq, nil
}
