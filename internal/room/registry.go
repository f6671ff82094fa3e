package room

import (
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"roomrelay/internal/metrics"
	"roomrelay/pkg/interfaces"
	"roomrelay/pkg/types"
)

var _ interfaces.RoomDirectory = (*Registry)(nil)

const (
	reasonEmpty   = metrics.ReasonEmpty
	reasonExpired = metrics.ReasonExpired
)

// Registry maps room names to live rooms. A name is bound to at most one
// room at a time.
type Registry struct {
	defaults types.RoomDefaults
	clock    clock.Clock
	log      zerolog.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates an empty registry. Rooms omitting settings get defaults.
func NewRegistry(defaults types.RoomDefaults, clk clock.Clock, logger zerolog.Logger) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		defaults: defaults,
		clock:    clk,
		log:      logger.With().Str("component", "rooms").Logger(),
		rooms:    make(map[string]*Room),
	}
}

// Defaults returns the settings applied to rooms that omit them.
func (g *Registry) Defaults() types.RoomDefaults {
	return g.defaults
}

// Create validates in and registers a new room.
func (g *Registry) Create(in types.RoomSettingsInput) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createLocked(in)
}

// GetOrCreate returns the room named in.Name, creating it if absent.
func (g *Registry) GetOrCreate(in types.RoomSettingsInput) (*Room, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.rooms[in.Name]; ok {
		return r, false, nil
	}
	r, err := g.createLocked(in)
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

func (g *Registry) createLocked(in types.RoomSettingsInput) (*Room, error) {
	if _, exists := g.rooms[in.Name]; exists {
		return nil, types.ErrRoomAlreadyExists
	}
	settings, err := in.Resolve(g.defaults)
	if err != nil {
		return nil, err
	}

	r := newRoom(settings, g)
	g.rooms[settings.Name] = r
	metrics.RecordRoomCreated()
	g.log.Info().
		Str("room", settings.Name).
		Int("max_peers", settings.MaxPeers).
		Dur("lifetime", settings.Lifetime).
		Msg("room created")
	return r, nil
}

// Get returns the live room with the given name.
func (g *Registry) Get(name string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[name]
	return r, ok
}

// Delete tears down and removes the named room. It reports whether a room
// was removed.
func (g *Registry) Delete(name string) bool {
	g.mu.Lock()
	r, ok := g.rooms[name]
	if ok {
		delete(g.rooms, name)
	}
	g.mu.Unlock()

	if !ok {
		return false
	}
	r.teardown()
	metrics.RecordRoomDeleted(metrics.ReasonDeleted)
	g.log.Info().Str("room", name).Msg("room deleted")
	return true
}

// Clear tears down and removes every room.
func (g *Registry) Clear() {
	g.mu.Lock()
	rooms := g.rooms
	g.rooms = make(map[string]*Room)
	g.mu.Unlock()

	for _, r := range rooms {
		r.teardown()
		metrics.RecordRoomDeleted(metrics.ReasonShutdown)
	}
	if len(rooms) > 0 {
		g.log.Info().Int("rooms", len(rooms)).Msg("registry cleared")
	}
}

// release removes r if it is still the room bound to its name, then tears it
// down. Stale rooms never unbind a newer room of the same name.
func (g *Registry) release(r *Room, reason string) {
	g.mu.Lock()
	current, ok := g.rooms[r.Name()]
	owned := ok && current == r
	if owned {
		delete(g.rooms, r.Name())
	}
	g.mu.Unlock()

	if !owned {
		return
	}
	r.teardown()
	metrics.RecordRoomDeleted(reason)
	g.log.Info().Str("room", r.Name()).Str("reason", reason).Msg("room removed")
}

// Count returns the number of live rooms.
func (g *Registry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Rooms returns the live rooms sorted by name.
func (g *Registry) Rooms() []*Room {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name() < rooms[j].Name() })
	return rooms
}

// Snapshot summarizes every live room.
func (g *Registry) Snapshot() []types.RoomInfo {
	rooms := g.Rooms()
	infos := make([]types.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		infos = append(infos, r.Info())
	}
	return infos
}
