package interfaces

import (
	"context"
	"time"

	"roomrelay/pkg/types"
)

// CredentialRepository persists API keys and session tokens.
// Lookups that match nothing return types.ErrNotFound.
type CredentialRepository interface {
	InsertAPIKey(ctx context.Context, key *types.APIKey) error
	GetAPIKey(ctx context.Context, keyHash string) (*types.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*types.APIKey, error)

	// InvalidateAPIKey sets invalidated_at if it is not already set.
	InvalidateAPIKey(ctx context.Context, keyHash string, at time.Time) error

	// ReplaceAPIKey invalidates oldHash and inserts fresh in one transaction.
	// Keys that are already invalidated are not replaced.
	ReplaceAPIKey(ctx context.Context, oldHash string, fresh *types.APIKey, at time.Time) error

	// InsertAdminKeyIfAbsent inserts key unless a live admin key exists at now.
	InsertAdminKeyIfAbsent(ctx context.Context, key *types.APIKey, now time.Time) (bool, error)

	InsertToken(ctx context.Context, token *types.SessionToken) error

	// ConsumeToken marks an unused, unexpired token used. It reports whether
	// exactly one token changed state.
	ConsumeToken(ctx context.Context, tokenHash string, now time.Time) (bool, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
