package room

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Registry maps room names to live rooms. Rooms are created on first use
// and evicted once their last member exits.
//
// Lock order is Registry, then Room: lifecycle hooks and Enter callbacks run
// with the registry lock held and may lock a room, but room listeners must
// never call back into the Registry.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	opts     []Option
	onCreate []func(*Room)
	onRemove []func(*Room)
	logger   zerolog.Logger
}

// NewRegistry returns an empty registry. opts are applied to every room it
// creates.
func NewRegistry(logger zerolog.Logger, opts ...Option) *Registry {
	roomOpts := make([]Option, 0, len(opts)+1)
	roomOpts = append(roomOpts, WithLogger(logger))
	roomOpts = append(roomOpts, opts...)

	return &Registry{
		rooms:  make(map[string]*Room),
		opts:   roomOpts,
		logger: logger,
	}
}

// OnCreate registers fn to be called whenever a room is created. fn runs
// with the registry lock held.
func (g *Registry) OnCreate(fn func(*Room)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onCreate = append(g.onCreate, fn)
}

// OnRemove registers fn to be called whenever a room is evicted. fn runs
// with the registry lock held.
func (g *Registry) OnRemove(fn func(*Room)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onRemove = append(g.onRemove, fn)
}

// GetOrCreate returns the room called name, creating it if needed.
func (g *Registry) GetOrCreate(name string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getOrCreate(name)
}

func (g *Registry) getOrCreate(name string) *Room {
	if r, ok := g.rooms[name]; ok {
		return r
	}

	r := New(name, g.opts...)
	g.rooms[name] = r
	for _, fn := range g.onCreate {
		fn(r)
	}
	g.logger.Info().Str("room", name).Int("rooms", len(g.rooms)).Msg("Room created")
	return r
}

// Get returns the room called name without creating it.
func (g *Registry) Get(name string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[name]
	return r, ok
}

// Enter resolves or creates the room called name and runs fn on it while
// holding the registry lock. A join performed by fn therefore cannot race
// with RemoveIfEmpty evicting the same room.
func (g *Registry) Enter(name string, fn func(*Room)) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := g.getOrCreate(name)
	fn(r)
	return r
}

// RemoveIfEmpty evicts the room called name if it has no members. It
// reports whether a room was removed.
func (g *Registry) RemoveIfEmpty(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[name]
	if !ok || !r.IsEmpty() {
		return false
	}

	delete(g.rooms, name)
	for _, fn := range g.onRemove {
		fn(r)
	}
	g.logger.Info().Str("room", name).Int("rooms", len(g.rooms)).Msg("Room removed")
	return true
}

// Len returns the number of live rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Names returns the sorted names of live rooms.
func (g *Registry) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	names := make([]string, 0, len(g.rooms))
	for name := range g.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
