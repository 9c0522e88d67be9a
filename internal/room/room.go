// Package room holds the in-memory chat rooms of the relay: per-room
// membership, message history, and the publish/subscribe feeds that fan room
// events out to connected sessions, plus the Registry that maps room names to
// live rooms.
package room

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Feed names, used in logs.
const (
	FeedMessage = "new-message"
	FeedJoin    = "user-joined"
	FeedExit    = "user-left"
)

// ExitPolicy decides whether Exit emits a user-left event for a user that
// was not a member.
type ExitPolicy int

const (
	// ExitPolicyAlwaysEmit emits user-left on every Exit call, member or not.
	// Existing clients rely on this.
	ExitPolicyAlwaysEmit ExitPolicy = iota
	// ExitPolicyGuarded emits user-left only when a member was removed,
	// mirroring the guard on Join.
	ExitPolicyGuarded
)

// Option configures a Room.
type Option func(*Room)

// WithHistoryLimit caps the retained message history to the newest n
// messages. Zero or a negative n keeps every message.
func WithHistoryLimit(n int) Option {
	return func(r *Room) {
		if n < 0 {
			n = 0
		}
		r.historyLimit = n
	}
}

// WithExitPolicy sets the user-left emission policy.
func WithExitPolicy(p ExitPolicy) Option {
	return func(r *Room) {
		r.exitPolicy = p
	}
}

// WithLogger sets the logger used to report listener faults.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Room) {
		r.logger = logger
	}
}

// Room is one named chat room. All mutations and feed emissions are
// serialized by a single mutex, so every listener observes the room's events
// in the same order.
type Room struct {
	name         string
	mu           sync.Mutex
	members      map[string]struct{}
	messages     []json.RawMessage
	historyLimit int
	exitPolicy   ExitPolicy
	logger       zerolog.Logger

	messageFeed *Feed[json.RawMessage]
	joinFeed    *Feed[string]
	exitFeed    *Feed[string]
}

// New creates an empty room called name.
func New(name string, opts ...Option) *Room {
	r := &Room{
		name:    name,
		members: make(map[string]struct{}),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("room", name).Logger()

	r.messageFeed = newFeed[json.RawMessage](FeedMessage, &r.mu, &r.logger)
	r.joinFeed = newFeed[string](FeedJoin, &r.mu, &r.logger)
	r.exitFeed = newFeed[string](FeedExit, &r.mu, &r.logger)
	return r
}

// Name returns the room name.
func (r *Room) Name() string {
	return r.name
}

// MessageFeed returns the feed of posted message payloads.
func (r *Room) MessageFeed() *Feed[json.RawMessage] {
	return r.messageFeed
}

// JoinFeed returns the feed of user ids that joined the room.
func (r *Room) JoinFeed() *Feed[string] {
	return r.joinFeed
}

// ExitFeed returns the feed of user ids that left the room.
func (r *Room) ExitFeed() *Feed[string] {
	return r.exitFeed
}

// Join adds userID to the room and emits a user-joined event. Joining as a
// present member changes nothing and emits nothing. It reports whether the
// user was added.
func (r *Room) Join(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.join(userID)
}

func (r *Room) join(userID string) bool {
	if _, ok := r.members[userID]; ok {
		return false
	}
	r.members[userID] = struct{}{}
	r.joinFeed.emit(userID)
	return true
}

// Exit removes userID from the room and emits a user-left event. Whether the
// event is emitted for a user that was not a member depends on the room's
// ExitPolicy. It reports whether a member was removed.
func (r *Room) Exit(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, present := r.members[userID]
	delete(r.members, userID)

	if present || r.exitPolicy == ExitPolicyAlwaysEmit {
		r.exitFeed.emit(userID)
	}
	return present
}

// AddMessage appends payload to the history and emits it on the message
// feed. The payload shape is not validated.
func (r *Room) AddMessage(payload json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, payload)
	if r.historyLimit > 0 && len(r.messages) > r.historyLimit {
		trimmed := make([]json.RawMessage, r.historyLimit)
		copy(trimmed, r.messages[len(r.messages)-r.historyLimit:])
		r.messages = trimmed
	}
	r.messageFeed.emit(payload)
}

// Members returns a sorted snapshot of the current member ids.
func (r *Room) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot("")
}

// snapshot lists members except skip. Must be called with r.mu held.
func (r *Room) snapshot(skip string) []string {
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		if id == skip {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsEmpty reports whether the room has no members.
func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members) == 0
}

// History returns a copy of the retained message history, oldest first.
func (r *Room) History() []json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]json.RawMessage, len(r.messages))
	copy(out, r.messages)
	return out
}
