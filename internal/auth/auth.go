package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"palaver/internal/models"

	"github.com/c-pro/geche"
)

const DefaultTokenExpiry = 30 * 24 * time.Hour

// TokenStore persists issued tokens (hashed) across restarts.
type TokenStore interface {
	UpsertToken(userID, tokenHash string) error
	DeleteToken(tokenHash string) error
	ListTokens() (map[string]string, error)
}

// Service verifies bearer tokens. Token issuance belongs to the upstream
// identity system; the admin provisioning endpoint calls Issue when syncing
// a user, everything else only ever verifies.
type Service struct {
	liveTokens geche.Geche[string, string]
	store      TokenStore
}

func NewService(ctx context.Context, store TokenStore, tokenExpiry time.Duration) (*Service, error) {
	if tokenExpiry <= 0 {
		tokenExpiry = DefaultTokenExpiry
	}

	s := &Service{
		liveTokens: geche.NewMapTTLCache[string, string](ctx, tokenExpiry, time.Minute),
		store:      store,
	}

	stored, err := store.ListTokens()
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}
	for hash, userID := range stored {
		s.liveTokens.Set(hash, userID)
	}

	return s, nil
}

// GetUserID resolves a bearer token to a user identity.
func (s *Service) GetUserID(token string) (string, error) {
	userID, err := s.liveTokens.Get(hashToken(token))
	if err != nil {
		return "", models.ErrUnauthorized
	}
	return userID, nil
}

// Issue creates a fresh bearer token for the user and persists its hash.
func (s *Service) Issue(userID string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(b)

	hash := hashToken(token)
	if err := s.store.UpsertToken(userID, hash); err != nil {
		return "", fmt.Errorf("failed to persist token: %w", err)
	}
	s.liveTokens.Set(hash, userID)

	return token, nil
}

// Revoke invalidates a token immediately.
func (s *Service) Revoke(token string) error {
	hash := hashToken(token)
	if err := s.store.DeleteToken(hash); err != nil {
		return err
	}
	return s.liveTokens.Del(hash)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
