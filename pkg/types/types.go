package types

import "time"

// AdminClientID is the client id carried by administrator API keys.
const AdminClientID = "admin"

// APIKey is a stored API key. Only the hash of the plaintext key is kept.
type APIKey struct {
	KeyHash       string `db:"key_hash"`
	ClientID      string `db:"client_id"`
	ExpiresAt     int64  `db:"expires"`
	InvalidatedAt *int64 `db:"invalidated_at"`
	CreatedAt     int64  `db:"created_at"`
}

// IsLive reports whether the key is unexpired and not invalidated at now.
func (k *APIKey) IsLive(now time.Time) bool {
	return k.InvalidatedAt == nil && k.ExpiresAt > now.UnixMilli()
}

// IsAdmin reports whether the key belongs to the administrator client.
func (k *APIKey) IsAdmin() bool {
	return k.ClientID == AdminClientID
}

// SessionToken is a short-lived, single-use token derived from an API key.
type SessionToken struct {
	TokenHash  string `db:"token_hash"`
	APIKeyHash string `db:"api_key_hash"`
	ExpiresAt  int64  `db:"expires"`
	UsedAt     *int64 `db:"used_at"`
}

// RoomInfo is the externally visible summary of a live room.
type RoomInfo struct {
	Name     string   `json:"name"`
	MaxPeers int      `json:"maxPeers"`
	Lifetime int      `json:"lifetime"`
	Peers    []string `json:"peers"`
}
