package filestore

import (
	"io"
)

// FileStore stores attachment payloads addressed by their checksum.
// Stored files are never removed: deleting the message that references an
// attachment only unlinks it, the bytes stay for audit.
type FileStore interface {
	// Save persists the content under the given checksum. It is idempotent:
	// saving an already known checksum is a no-op.
	Save(r io.Reader, checksum string) error

	// Get opens the content stored under the given checksum.
	Get(checksum string) (io.ReadCloser, error)
}
