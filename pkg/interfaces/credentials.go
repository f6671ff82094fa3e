package interfaces

import (
	"context"
	"time"
)

// CredentialStore issues and validates API keys and session tokens.
// Raw keys and tokens are only ever returned to callers, never stored.
type CredentialStore interface {
	IssueAPIKey(ctx context.Context, clientID string, expiresAt time.Time) (string, error)
	ValidateAPIKey(ctx context.Context, rawKey string) (string, error)
	IssueSessionToken(ctx context.Context, rawKey string) (string, error)
	ConsumeToken(ctx context.Context, rawToken string) (bool, error)
	InvalidateAPIKey(ctx context.Context, rawKey string) error
	RefreshAPIKey(ctx context.Context, rawKey string) (string, error)
	IsAdminKey(ctx context.Context, rawKey string) (bool, error)
}

// TokenConsumer is the part of CredentialStore the connection endpoint needs.
type TokenConsumer interface {
	ConsumeToken(ctx context.Context, rawToken string) (bool, error)
}
