package pipeline

import (
	"fmt"
	"time"

	"palaver/internal/content"
	"palaver/internal/models"
	"palaver/internal/roster"
	"palaver/internal/storage"

	"github.com/google/uuid"
)

const (
	storeRetries    = 3
	defaultPageSize = 50
	maxPageSize     = 200
)

// Notifier receives committed message events for fanout. Nothing is
// notified before the storage transaction has committed.
type Notifier interface {
	MessageCreated(msg models.Message)
	MessageEdited(msg models.Message)
	MessageDeleted(roomID, messageID string, seq int64)
}

// Pipeline accepts message submissions, orders and persists them, and
// handles edits and soft deletes.
type Pipeline struct {
	store    *storage.Store
	roster   *roster.Service
	notifier Notifier
}

func New(store *storage.Store, roster *roster.Service, notifier Notifier) *Pipeline {
	return &Pipeline{store: store, roster: roster, notifier: notifier}
}

// Submit validates, persists and fans out a new message. The sequence
// number is assigned inside the storage transaction; two concurrent
// submissions to one room always get distinct consecutive numbers.
func (p *Pipeline) Submit(roomID, senderID, text string, msgType models.MessageType, attachmentID string) (models.Message, error) {
	if err := p.roster.RequireMember(roomID, senderID); err != nil {
		return models.Message{}, err
	}

	text = content.Sanitize(text)

	switch msgType {
	case models.MessageText:
		if text == "" {
			return models.Message{}, fmt.Errorf("text message needs content: %w", models.ErrValidation)
		}
		if attachmentID != "" {
			return models.Message{}, fmt.Errorf("text message must not carry an attachment: %w", models.ErrValidation)
		}
	case models.MessageImage, models.MessageFile:
		if attachmentID == "" {
			return models.Message{}, fmt.Errorf("%s message needs an attachment: %w", msgType, models.ErrValidation)
		}
		if _, err := p.store.GetAttachment(attachmentID); err != nil {
			return models.Message{}, err
		}
	case models.MessageSystem:
		return models.Message{}, fmt.Errorf("system messages cannot be submitted: %w", models.ErrValidation)
	default:
		return models.Message{}, fmt.Errorf("unknown message type %q: %w", msgType, models.ErrValidation)
	}

	msg := models.Message{
		ID:           uuid.NewString(),
		RoomID:       roomID,
		SenderID:     senderID,
		Type:         msgType,
		Content:      text,
		AttachmentID: attachmentID,
		CreatedAt:    time.Now().Unix(),
	}

	err := storage.Retry(storeRetries, func() error {
		return p.store.AppendMessage(&msg)
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to persist message: %w", err)
	}

	msg.HTML = renderHTML(msg)
	if p.notifier != nil {
		p.notifier.MessageCreated(msg)
	}
	return msg, nil
}

// System appends a SYSTEM message (joins, resolutions). It bypasses the
// sender checks: system messages have no user sender.
func (p *Pipeline) System(roomID, text string) (models.Message, error) {
	msg := models.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Type:      models.MessageSystem,
		Content:   content.Sanitize(text),
		CreatedAt: time.Now().Unix(),
	}

	err := storage.Retry(storeRetries, func() error {
		return p.store.AppendMessage(&msg)
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to persist system message: %w", err)
	}

	if p.notifier != nil {
		p.notifier.MessageCreated(msg)
	}
	return msg, nil
}

// Edit replaces a message's content. Only the original sender may edit;
// the sequence number never changes.
func (p *Pipeline) Edit(messageID, requesterID, newText string) (models.Message, error) {
	existing, err := p.store.GetMessage(messageID)
	if err != nil {
		return models.Message{}, err
	}
	if existing.SenderID != requesterID {
		return models.Message{}, fmt.Errorf("cannot edit another user's message: %w", models.ErrForbidden)
	}
	if existing.Deleted {
		return models.Message{}, fmt.Errorf("cannot edit a deleted message: %w", models.ErrValidation)
	}

	newText = content.Sanitize(newText)
	if newText == "" && existing.AttachmentID == "" {
		return models.Message{}, fmt.Errorf("edited message needs content: %w", models.ErrValidation)
	}

	msg, err := p.store.MutateMessage(messageID, func(m *models.Message) {
		m.Content = newText
		m.Edited = true
		m.EditedAt = time.Now().Unix()
	})
	if err != nil {
		return models.Message{}, err
	}

	msg.HTML = renderHTML(msg)
	if p.notifier != nil {
		p.notifier.MessageEdited(msg)
	}
	return msg, nil
}

// Delete soft-deletes a message: content and attachment reference are
// cleared, the id and sequence slot stay so ordering and unread counts
// hold. The stored attachment file is never removed.
func (p *Pipeline) Delete(messageID, requesterID string) (models.Message, error) {
	existing, err := p.store.GetMessage(messageID)
	if err != nil {
		return models.Message{}, err
	}
	if existing.SenderID != requesterID {
		return models.Message{}, fmt.Errorf("cannot delete another user's message: %w", models.ErrForbidden)
	}
	if existing.Deleted {
		return existing, nil
	}

	msg, err := p.store.MutateMessage(messageID, func(m *models.Message) {
		m.Content = ""
		m.AttachmentID = ""
		m.Deleted = true
	})
	if err != nil {
		return models.Message{}, err
	}

	if p.notifier != nil {
		p.notifier.MessageDeleted(msg.RoomID, msg.ID, msg.Seq)
	}
	return msg, nil
}

// History returns one page of a room's messages, oldest to newest.
// beforeSeq == 0 starts from the newest message; otherwise the page ends
// just before beforeSeq, which is how clients page backwards.
func (p *Pipeline) History(roomID, requesterID string, beforeSeq int64, limit int) ([]models.Message, error) {
	if err := p.roster.RequireMember(roomID, requesterID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	room, err := p.store.GetRoom(roomID)
	if err != nil {
		return nil, err
	}

	to := room.LastSeq
	if beforeSeq > 0 {
		to = beforeSeq - 1
	}
	if to < 1 {
		return []models.Message{}, nil
	}
	from := to - int64(limit) + 1
	if from < 1 {
		from = 1
	}

	var msgs []models.Message
	err = storage.Retry(storeRetries, func() error {
		var listErr error
		msgs, listErr = p.store.ListMessages(roomID, from, to)
		return listErr
	})
	if err != nil {
		return nil, err
	}

	for i := range msgs {
		msgs[i].HTML = renderHTML(msgs[i])
	}
	return msgs, nil
}

func renderHTML(msg models.Message) string {
	if msg.Deleted || msg.Content == "" {
		return ""
	}
	switch msg.Type {
	case models.MessageText, models.MessageImage, models.MessageFile:
		return content.Render(msg.Content)
	case models.MessageSystem:
		return ""
	}
	return ""
}
