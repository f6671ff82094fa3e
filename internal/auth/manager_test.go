package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomrelay/internal/database"
	dbconfig "roomrelay/pkg/database"
	"roomrelay/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, *clock.Mock) {
	t.Helper()
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "auth.db")
	repo, err := database.NewManager(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	return NewManager(repo, Options{
		TokenTTL:    time.Minute,
		AdminKeyTTL: 24 * time.Hour,
		Clock:       mock,
		Logger:      zerolog.Nop(),
	}), mock
}

func TestHashSecret(t *testing.T) {
	h := HashSecret("abc")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashSecret("abc"))
	assert.NotEqual(t, h, HashSecret("abd"))
}

func TestManager_IssueAndValidateAPIKey(t *testing.T) {
	m, mock := newTestManager(t)
	ctx := context.Background()

	raw, err := m.IssueAPIKey(ctx, "client-a", mock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, raw, 64)

	clientID, err := m.ValidateAPIKey(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, "client-a", clientID)

	_, err = m.ValidateAPIKey(ctx, "not-a-key")
	assert.ErrorIs(t, err, types.ErrInvalidAPIKey)

	_, err = m.ValidateAPIKey(ctx, "")
	assert.ErrorIs(t, err, types.ErrInvalidAPIKey)

	_, err = m.IssueAPIKey(ctx, "", mock.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrEmptyClientID)
}

func TestManager_ExpiredKeyRejected(t *testing.T) {
	m, mock := newTestManager(t)
	ctx := context.Background()

	raw, err := m.IssueAPIKey(ctx, "client-a", mock.Now().Add(time.Hour))
	require.NoError(t, err)

	mock.Add(time.Hour)
	_, err = m.ValidateAPIKey(ctx, raw)
	assert.ErrorIs(t, err, types.ErrInvalidAPIKey)

	_, err = m.IssueSessionToken(ctx, raw)
	assert.True(t, types.IsKind(err, types.KindAuthentication))
}

func TestManager_TokenIsSingleUse(t *testing.T) {
	m, mock := newTestManager(t)
	ctx := context.Background()

	key, err := m.IssueAPIKey(ctx, "client-a", mock.Now().Add(time.Hour))
	require.NoError(t, err)

	token, err := m.IssueSessionToken(ctx, key)
	require.NoError(t, err)

	ok, err := m.ConsumeToken(ctx, token)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.ConsumeToken(ctx, token)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.ConsumeToken(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_TokenExpires(t *testing.T) {
	m, mock := newTestManager(t)
	ctx := context.Background()

	key, err := m.IssueAPIKey(ctx, "client-a", mock.Now().Add(time.Hour))
	require.NoError(t, err)

	fresh, err := m.IssueSessionToken(ctx, key)
	require.NoError(t, err)
	stale, err := m.IssueSessionToken(ctx, key)
	require.NoError(t, err)

	mock.Add(59 * time.Second)
	ok, err := m.ConsumeToken(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.Add(time.Second)
	ok, err = m.ConsumeToken(ctx, stale)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_InvalidateAPIKey(t *testing.T) {
	m, mock := newTestManager(t)
	ctx := context.Background()

	key, err := m.IssueAPIKey(ctx, "client-a", mock.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, m.InvalidateAPIKey(ctx, key))
	require.NoError(t, m.InvalidateAPIKey(ctx, key))
	require.NoError(t, m.InvalidateAPIKey(ctx, "unknown"))

	_, err = m.ValidateAPIKey(ctx, key)
	assert.ErrorIs(t, err, types.ErrInvalidAPIKey)
	_, err = m.IssueSessionToken(ctx, key)
	assert.ErrorIs(t, err, types.ErrInvalidAPIKey)
}

func TestManager_RefreshAPIKey(t *testing.T) {
	m, mock := newTestManager(t)
	ctx := context.Background()

	old, err := m.IssueAPIKey(ctx, "client-a", mock.Now().Add(time.Hour))
	require.NoError(t, err)

	fresh, err := m.RefreshAPIKey(ctx, old)
	require.NoError(t, err)
	assert.NotEqual(t, old, fresh)

	_, err = m.ValidateAPIKey(ctx, old)
	assert.ErrorIs(t, err, types.ErrInvalidAPIKey)

	clientID, err := m.ValidateAPIKey(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, "client-a", clientID)

	// The refreshed key keeps the original expiry.
	mock.Add(time.Hour)
	_, err = m.ValidateAPIKey(ctx, fresh)
	assert.ErrorIs(t, err, types.ErrInvalidAPIKey)

	_, err = m.RefreshAPIKey(ctx, "unknown")
	assert.ErrorIs(t, err, types.ErrAPIKeyNotFound)
}

func TestManager_RefreshRevokedKeyFails(t *testing.T) {
	m, mock := newTestManager(t)
	ctx := context.Background()

	key, err := m.IssueAPIKey(ctx, "c", mock.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, m.InvalidateAPIKey(ctx, key))

	fresh, err := m.RefreshAPIKey(ctx, key)
	assert.ErrorIs(t, err, types.ErrInvalidAPIKey)
	assert.Empty(t, fresh)

	// A refreshed key is spent as well.
	live, err := m.IssueAPIKey(ctx, "c", mock.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = m.RefreshAPIKey(ctx, live)
	require.NoError(t, err)
	_, err = m.RefreshAPIKey(ctx, live)
	assert.ErrorIs(t, err, types.ErrInvalidAPIKey)
}

func TestManager_ListAPIKeys(t *testing.T) {
	m, mock := newTestManager(t)
	ctx := context.Background()

	keys, err := m.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = m.IssueAPIKey(ctx, "short", mock.Now().Add(time.Minute))
	require.NoError(t, err)
	mock.Add(time.Second)
	revoked, err := m.IssueAPIKey(ctx, "gone", mock.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, m.InvalidateAPIKey(ctx, revoked))
	mock.Add(time.Second)
	live, err := m.IssueAPIKey(ctx, "live", mock.Now().Add(time.Hour))
	require.NoError(t, err)
	mock.Add(2 * time.Minute)

	keys, err = m.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, "live", keys[0].ClientID, "newest first")
	assert.Equal(t, HashSecret(live), keys[0].Hash)
	assert.NotEqual(t, live, keys[0].Hash, "plaintext is never listed")

	status := map[string]string{}
	for _, k := range keys {
		status[k.ClientID] = k.Status
	}
	assert.Equal(t, map[string]string{
		"short": KeyStatusExpired,
		"gone":  KeyStatusRevoked,
		"live":  KeyStatusLive,
	}, status)
}

func TestManager_EnsureAdminKey(t *testing.T) {
	m, mock := newTestManager(t)
	ctx := context.Background()

	raw, created, err := m.EnsureAdminKey(ctx)
	require.NoError(t, err)
	require.True(t, created)

	isAdmin, err := m.IsAdminKey(ctx, raw)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	_, created, err = m.EnsureAdminKey(ctx)
	require.NoError(t, err)
	assert.False(t, created, "a live admin key already exists")

	mock.Add(24 * time.Hour)
	isAdmin, err = m.IsAdminKey(ctx, raw)
	require.NoError(t, err)
	assert.False(t, isAdmin, "expired admin keys are not admin")

	next, created, err := m.EnsureAdminKey(ctx)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, raw, next)
}

func TestManager_IsAdminKey_NonAdmin(t *testing.T) {
	m, mock := newTestManager(t)
	ctx := context.Background()

	key, err := m.IssueAPIKey(ctx, "client-a", mock.Now().Add(time.Hour))
	require.NoError(t, err)

	isAdmin, err := m.IsAdminKey(ctx, key)
	require.NoError(t, err)
	assert.False(t, isAdmin)

	isAdmin, err = m.IsAdminKey(ctx, "garbage")
	require.NoError(t, err)
	assert.False(t, isAdmin)
}
