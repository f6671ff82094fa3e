package types

import "errors"

// ErrorKind classifies errors that are reported back to a client.
type ErrorKind int

const (
	// KindRequest marks a malformed or disallowed request for the current state.
	KindRequest ErrorKind = iota + 1
	// KindValidation marks a request whose parameters are out of range.
	KindValidation
	// KindAuthentication marks a credential failure.
	KindAuthentication
)

func (k ErrorKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	default:
		return "unknown"
	}
}

// Error is a client-visible error. Its message is sent verbatim in error events.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Request errors
var (
	ErrInvalidMessage    = newError(KindRequest, "Invalid message")
	ErrPeerNotInRoom     = newError(KindRequest, "Peer not in a room")
	ErrPeerAlreadyInRoom = newError(KindRequest, "Peer already in a room")
	ErrInvalidRoom       = newError(KindRequest, "Invalid room")
	ErrRoomAlreadyExists = newError(KindRequest, "Room already exists")
	ErrRoomNotFound      = newError(KindRequest, "Room not found")
	ErrRoomFull          = newError(KindRequest, "Room is full")
	ErrInvalidPeer       = newError(KindRequest, "Invalid peer")
	ErrRateLimitExceeded = newError(KindRequest, "Rate limit exceeded")
)

// Validation errors
var (
	ErrInvalidName     = newError(KindValidation, "Invalid name")
	ErrNameCharacters  = newError(KindValidation, "Name may only contain letters, numbers, and hyphens")
	ErrMaxPeersRange   = newError(KindValidation, "maxPeers must be between 1 and 10")
	ErrLifetimeRange   = newError(KindValidation, "lifetime must be between 1 and 60")
	ErrInvalidMaxPeers = newError(KindValidation, "maxPeers must be an integer")
	ErrInvalidLifetime = newError(KindValidation, "lifetime must be an integer")
)

// Authentication errors
var (
	ErrAuthenticationFailed = newError(KindAuthentication, "Authentication failed")
	ErrInvalidAPIKey        = newError(KindAuthentication, "Invalid API key")
	ErrAPIKeyNotFound       = newError(KindAuthentication, "API key not found")
)

// ErrNotFound is returned by storage lookups that match no row.
var ErrNotFound = errors.New("not found")

// IsClientError reports whether err should be surfaced to the client that caused it.
func IsClientError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// IsKind reports whether err is a client-visible error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
