package attach

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"palaver/internal/filestore"
	"palaver/internal/models"
	"palaver/internal/storage"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"golang.org/x/crypto/blake2b"
)

const storeRetries = 3

// Handler validates and stores uploaded files and hands back immutable
// attachment references for use in message submissions.
type Handler struct {
	store   *storage.Store
	files   filestore.FileStore
	maxSize int64
	allowed map[string]bool
}

func NewHandler(store *storage.Store, files filestore.FileStore, maxSize int64, allowedMimes []string) *Handler {
	allowed := make(map[string]bool, len(allowedMimes))
	for _, m := range allowedMimes {
		allowed[m] = true
	}
	return &Handler{
		store:   store,
		files:   files,
		maxSize: maxSize,
		allowed: allowed,
	}
}

// Upload reads the payload, rejects it if it is too large or its sniffed
// MIME type is not allow-listed, stores the bytes under their checksum and
// persists the metadata. The declared file name is kept for display only;
// the MIME type always comes from content sniffing.
func (h *Handler) Upload(r io.Reader, name, ownerID string) (models.Attachment, error) {
	data, err := io.ReadAll(io.LimitReader(r, h.maxSize+1))
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > h.maxSize {
		return models.Attachment{}, fmt.Errorf("file exceeds %d bytes: %w", h.maxSize, models.ErrValidation)
	}
	if len(data) == 0 {
		return models.Attachment{}, fmt.Errorf("empty upload: %w", models.ErrValidation)
	}

	kind, _ := filetype.Match(data)
	if kind == filetype.Unknown || !h.allowed[kind.MIME.Value] {
		return models.Attachment{}, fmt.Errorf("file type not allowed: %w", models.ErrValidation)
	}

	sum := blake2b.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	err = storage.Retry(storeRetries, func() error {
		return h.files.Save(bytes.NewReader(data), checksum)
	})
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to store file: %w", err)
	}

	att := models.Attachment{
		ID:        uuid.NewString(),
		Checksum:  checksum,
		Name:      name,
		MimeType:  kind.MIME.Value,
		Size:      int64(len(data)),
		OwnerID:   ownerID,
		CreatedAt: time.Now().Unix(),
	}
	err = storage.Retry(storeRetries, func() error {
		return h.store.PutAttachment(att)
	})
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to store attachment metadata: %w", err)
	}

	return att, nil
}

// Open returns the attachment metadata and a reader over its content.
func (h *Handler) Open(id string) (models.Attachment, io.ReadCloser, error) {
	att, err := h.store.GetAttachment(id)
	if err != nil {
		return models.Attachment{}, nil, err
	}
	rc, err := h.files.Get(att.Checksum)
	if err != nil {
		return models.Attachment{}, nil, fmt.Errorf("failed to open stored file: %w", err)
	}
	return att, rc, nil
}

// Get returns attachment metadata only.
func (h *Handler) Get(id string) (models.Attachment, error) {
	return h.store.GetAttachment(id)
}
