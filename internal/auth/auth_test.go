package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"palaver/internal/models"
	"palaver/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.Open(dbPath)
	require.NoError(t, err)

	svc, err := NewService(ctx, store, time.Hour)
	require.NoError(t, err)

	token, err := svc.Issue("alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := svc.GetUserID(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)

	_, err = svc.GetUserID("bogus")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	// Tokens survive a restart: a fresh service preloads from storage.
	reloaded, err := NewService(ctx, store, time.Hour)
	require.NoError(t, err)
	userID, err = reloaded.GetUserID(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)

	require.NoError(t, svc.Revoke(token))
	_, err = svc.GetUserID(token)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	// The raw token is never stored, only its hash.
	tokens, err := store.ListTokens()
	require.NoError(t, err)
	for hash := range tokens {
		assert.NotEqual(t, token, hash)
	}
	require.NoError(t, store.Close())
}
