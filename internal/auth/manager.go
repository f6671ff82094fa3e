package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"roomrelay/internal/metrics"
	"roomrelay/pkg/interfaces"
	"roomrelay/pkg/types"
)

var _ interfaces.CredentialStore = (*Manager)(nil)

// Options configures a Manager.
type Options struct {
	TokenTTL    time.Duration
	AdminKeyTTL time.Duration
	Clock       clock.Clock
	Logger      zerolog.Logger
}

// Manager issues and validates API keys and session tokens over a
// CredentialRepository.
type Manager struct {
	repo        interfaces.CredentialRepository
	tokenTTL    time.Duration
	adminKeyTTL time.Duration
	clock       clock.Clock
	log         zerolog.Logger
}

// NewManager creates a credential manager.
func NewManager(repo interfaces.CredentialRepository, opts Options) *Manager {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Minute
	}
	if opts.AdminKeyTTL <= 0 {
		opts.AdminKeyTTL = 24 * time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Manager{
		repo:        repo,
		tokenTTL:    opts.TokenTTL,
		adminKeyTTL: opts.AdminKeyTTL,
		clock:       opts.Clock,
		log:         opts.Logger.With().Str("component", "auth").Logger(),
	}
}

// HashSecret returns the stored form of a raw key or token.
func HashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// newSecret derives a 64 character hex secret from a time-ordered uuid and salt.
func newSecret(salt string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return HashSecret(id.String() + "-" + salt), nil
}

// IssueAPIKey creates a key for clientID and returns its plaintext.
func (m *Manager) IssueAPIKey(ctx context.Context, clientID string, expiresAt time.Time) (string, error) {
	if clientID == "" {
		return "", ErrEmptyClientID
	}
	raw, key, err := m.newKey(clientID, expiresAt)
	if err != nil {
		return "", err
	}
	if err := m.repo.InsertAPIKey(ctx, key); err != nil {
		return "", err
	}
	m.log.Info().Str("client_id", clientID).Time("expires", expiresAt).Msg("api key issued")
	return raw, nil
}

func (m *Manager) newKey(clientID string, expiresAt time.Time) (string, *types.APIKey, error) {
	raw, err := newSecret(clientID)
	if err != nil {
		return "", nil, err
	}
	return raw, &types.APIKey{
		KeyHash:   HashSecret(raw),
		ClientID:  clientID,
		ExpiresAt: expiresAt.UnixMilli(),
		CreatedAt: m.clock.Now().UnixMilli(),
	}, nil
}

// lookupLive returns the stored key if it is live, or ErrInvalidAPIKey.
func (m *Manager) lookupLive(ctx context.Context, rawKey string) (*types.APIKey, error) {
	if rawKey == "" {
		return nil, types.ErrInvalidAPIKey
	}
	key, err := m.repo.GetAPIKey(ctx, HashSecret(rawKey))
	if errors.Is(err, types.ErrNotFound) {
		return nil, types.ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}
	if !key.IsLive(m.clock.Now()) {
		return nil, types.ErrInvalidAPIKey
	}
	return key, nil
}

// ValidateAPIKey returns the client id of a live key.
func (m *Manager) ValidateAPIKey(ctx context.Context, rawKey string) (string, error) {
	key, err := m.lookupLive(ctx, rawKey)
	if err != nil {
		return "", err
	}
	return key.ClientID, nil
}

// IssueSessionToken exchanges a live API key for a single-use token.
func (m *Manager) IssueSessionToken(ctx context.Context, rawKey string) (string, error) {
	key, err := m.lookupLive(ctx, rawKey)
	if err != nil {
		return "", err
	}

	raw, err := newSecret(key.KeyHash)
	if err != nil {
		return "", err
	}
	token := &types.SessionToken{
		TokenHash:  HashSecret(raw),
		APIKeyHash: key.KeyHash,
		ExpiresAt:  m.clock.Now().Add(m.tokenTTL).UnixMilli(),
	}
	if err := m.repo.InsertToken(ctx, token); err != nil {
		return "", err
	}
	metrics.RecordTokenIssued()
	return raw, nil
}

// ConsumeToken accepts a token at most once, and only before it expires.
func (m *Manager) ConsumeToken(ctx context.Context, rawToken string) (bool, error) {
	if rawToken == "" {
		metrics.RecordTokenConsumed(false)
		return false, nil
	}
	ok, err := m.repo.ConsumeToken(ctx, HashSecret(rawToken), m.clock.Now())
	if err != nil {
		return false, err
	}
	metrics.RecordTokenConsumed(ok)
	return ok, nil
}

// InvalidateAPIKey revokes a key. Revoking an unknown or revoked key is a no-op.
func (m *Manager) InvalidateAPIKey(ctx context.Context, rawKey string) error {
	if err := m.repo.InvalidateAPIKey(ctx, HashSecret(rawKey), m.clock.Now()); err != nil {
		return err
	}
	m.log.Info().Msg("api key invalidated")
	return nil
}

// RefreshAPIKey replaces a key with a new one for the same client and expiry.
// Revoked keys cannot be refreshed.
func (m *Manager) RefreshAPIKey(ctx context.Context, rawKey string) (string, error) {
	oldHash := HashSecret(rawKey)
	old, err := m.repo.GetAPIKey(ctx, oldHash)
	if errors.Is(err, types.ErrNotFound) {
		return "", types.ErrAPIKeyNotFound
	}
	if err != nil {
		return "", err
	}
	if old.InvalidatedAt != nil {
		return "", types.ErrInvalidAPIKey
	}

	raw, fresh, err := m.newKey(old.ClientID, time.UnixMilli(old.ExpiresAt))
	if err != nil {
		return "", err
	}
	err = m.repo.ReplaceAPIKey(ctx, oldHash, fresh, m.clock.Now())
	if errors.Is(err, types.ErrNotFound) {
		return "", types.ErrInvalidAPIKey
	}
	if err != nil {
		return "", err
	}
	m.log.Info().Str("client_id", old.ClientID).Msg("api key refreshed")
	return raw, nil
}

// Key states reported by ListAPIKeys.
const (
	KeyStatusLive    = "live"
	KeyStatusExpired = "expired"
	KeyStatusRevoked = "revoked"
)

// KeySummary describes a stored key. Hash is the stored sha256, never the
// plaintext.
type KeySummary struct {
	Hash      string    `json:"hash"`
	ClientID  string    `json:"clientId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ListAPIKeys summarizes every stored key, newest first.
func (m *Manager) ListAPIKeys(ctx context.Context) ([]KeySummary, error) {
	keys, err := m.repo.ListAPIKeys(ctx)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	out := make([]KeySummary, len(keys))
	for i, k := range keys {
		status := KeyStatusLive
		switch {
		case k.InvalidatedAt != nil:
			status = KeyStatusRevoked
		case !k.IsLive(now):
			status = KeyStatusExpired
		}
		out[i] = KeySummary{
			Hash:      k.KeyHash,
			ClientID:  k.ClientID,
			Status:    status,
			CreatedAt: time.UnixMilli(k.CreatedAt).UTC(),
			ExpiresAt: time.UnixMilli(k.ExpiresAt).UTC(),
		}
	}
	return out, nil
}

// IsAdminKey reports whether rawKey is a live administrator key.
func (m *Manager) IsAdminKey(ctx context.Context, rawKey string) (bool, error) {
	key, err := m.lookupLive(ctx, rawKey)
	if errors.Is(err, types.ErrInvalidAPIKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return key.IsAdmin(), nil
}

// EnsureAdminKey issues an administrator key unless a live one exists.
// The plaintext is returned only when a key was created.
func (m *Manager) EnsureAdminKey(ctx context.Context) (string, bool, error) {
	now := m.clock.Now()
	raw, key, err := m.newKey(types.AdminClientID, now.Add(m.adminKeyTTL))
	if err != nil {
		return "", false, err
	}
	created, err := m.repo.InsertAdminKeyIfAbsent(ctx, key, now)
	if err != nil {
		return "", false, fmt.Errorf("failed to bootstrap admin key: %w", err)
	}
	if !created {
		return "", false, nil
	}
	return raw, true, nil
}
