package types

import (
	"regexp"
	"strconv"
	"time"
)

// Room bounds.
const (
	MinRoomPeers    = 1
	MaxRoomPeers    = 10
	MinRoomLifetime = 1 * time.Second
	MaxRoomLifetime = 60 * time.Second
)

var roomNameRegex = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// RoomDefaults holds the values applied when a request omits a setting.
type RoomDefaults struct {
	MaxPeers int
	Lifetime time.Duration
}

// RoomSettingsInput is a room request as received from a client. Nil fields
// take the configured defaults.
type RoomSettingsInput struct {
	Name     string `json:"name"`
	MaxPeers *int   `json:"maxPeers,omitempty"`
	Lifetime *int   `json:"lifetime,omitempty"`
}

// RoomSettings are the validated, immutable settings of a room.
type RoomSettings struct {
	Name     string
	MaxPeers int
	Lifetime time.Duration
}

// Resolve applies defaults and validates the result.
func (in RoomSettingsInput) Resolve(defaults RoomDefaults) (RoomSettings, error) {
	s := RoomSettings{
		Name:     in.Name,
		MaxPeers: defaults.MaxPeers,
		Lifetime: defaults.Lifetime,
	}
	if in.MaxPeers != nil {
		s.MaxPeers = *in.MaxPeers
	}
	if in.Lifetime != nil {
		s.Lifetime = lifetimeSeconds(*in.Lifetime)
	}
	if err := s.Validate(); err != nil {
		return RoomSettings{}, err
	}
	return s, nil
}

// lifetimeSeconds converts n seconds to a duration. Values outside the room
// bounds saturate just past them so the conversion cannot overflow and
// Validate still rejects them.
func lifetimeSeconds(n int) time.Duration {
	const maxSeconds = int(MaxRoomLifetime / time.Second)
	switch {
	case n > maxSeconds:
		return MaxRoomLifetime + time.Second
	case n < 0:
		return 0
	}
	return time.Duration(n) * time.Second
}

// Validate checks name format and the capacity and lifetime bounds.
func (s RoomSettings) Validate() error {
	if s.Name == "" {
		return ErrInvalidName
	}
	if !roomNameRegex.MatchString(s.Name) {
		return ErrNameCharacters
	}
	if s.MaxPeers < MinRoomPeers || s.MaxPeers > MaxRoomPeers {
		return ErrMaxPeersRange
	}
	if s.Lifetime < MinRoomLifetime || s.Lifetime > MaxRoomLifetime {
		return ErrLifetimeRange
	}
	return nil
}

// ParseRoomQuery builds a RoomSettingsInput from connection query values.
// Empty strings mean the setting was not given.
func ParseRoomQuery(name, maxPeers, lifetime string) (RoomSettingsInput, error) {
	in := RoomSettingsInput{Name: name}
	if maxPeers != "" {
		n, err := strconv.Atoi(maxPeers)
		if err != nil {
			return in, ErrInvalidMaxPeers
		}
		in.MaxPeers = &n
	}
	if lifetime != "" {
		n, err := strconv.Atoi(lifetime)
		if err != nil {
			return in, ErrInvalidLifetime
		}
		in.Lifetime = &n
	}
	return in, nil
}
