package relay

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/room"
)

// State is the lifecycle stage of a Session.
type State int32

// Session states. Closed is terminal.
const (
	StateInitiated State = iota
	StateJoined
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitiated:
		return "initiated"
	case StateJoined:
		return "joined"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the binding between one connection, one user and one room.
// It owns the room subscription registered for the connection and tears it
// down exactly once when Close is called.
type Session struct {
	id       string
	registry *room.Registry
	roomName string
	userID   string
	sink     Sink
	room     *room.Room
	sub      *room.Subscription
	state    atomic.Int32
	once     sync.Once
	logger   zerolog.Logger
}

// Open validates the request, joins userID to roomName (creating the room
// if needed) and starts forwarding room events to sink. Before Open returns,
// sink has received current-users followed by chat-connected.
func Open(registry *room.Registry, roomName, userID string, sink Sink, logger zerolog.Logger) (*Session, error) {
	if err := ValidateJoin(roomName, userID); err != nil {
		return nil, err
	}

	s := &Session{
		id:       uuid.NewString(),
		registry: registry,
		roomName: roomName,
		userID:   userID,
		sink:     sink,
	}
	s.logger = logger.With().
		Str("conn", s.id).
		Str("room", roomName).
		Str("user", userID).
		Logger()

	s.room = registry.Enter(roomName, func(r *room.Room) {
		s.sub = r.Attach(userID, s.listeners(), s.ready)
	})

	s.logger.Info().Msg("Session opened")
	return s, nil
}

// ValidateJoin reports the error Open would return for the given request
// without touching any room. Transports that must decide before committing
// to a protocol, such as a WebSocket upgrade, call it first.
func ValidateJoin(roomName, userID string) error {
	if roomName == "" || userID == "" {
		return &ValidationError{Message: MsgJoinFieldsMissing}
	}
	return nil
}

func (s *Session) listeners() room.Listeners {
	return room.Listeners{
		Message: func(payload json.RawMessage) {
			s.forward(Event{Type: EventMessage, Data: payload})
		},
		Join: func(userID string) {
			s.forward(userEvent(EventUserEnter, userID))
		},
		Exit: func(userID string) {
			s.forward(userEvent(EventUserExit, userID))
		},
	}
}

// ready runs inside the room's critical section, right after the join.
func (s *Session) ready(members []string) {
	s.state.Store(int32(StateJoined))
	s.forward(currentUsersEvent(members))
	s.forward(Event{Type: EventConnected})
	s.state.Store(int32(StateStreaming))
}

// forward hands e to the sink. Once Close has begun the connection is going
// away, so events, including the session's own exit, are dropped.
func (s *Session) forward(e Event) {
	if s.State() == StateClosed {
		return
	}
	if !s.sink.Send(e) {
		s.logger.Warn().Str("event", string(e.Type)).Msg("Dropped event for slow connection")
	}
}

// Close exits the user from the room, deregisters the session's listeners
// and evicts the room if it became empty. The session stops forwarding
// before the exit is announced, so the closing connection never receives
// its own user-exits. Calls after the first are no-ops.
func (s *Session) Close() {
	s.once.Do(func() {
		s.state.Store(int32(StateClosed))
		s.room.Exit(s.userID)
		s.sub.Cancel()
		evicted := s.registry.RemoveIfEmpty(s.roomName)

		s.logger.Info().Bool("room_evicted", evicted).Msg("Session closed")
	})
}

// ID returns the connection id assigned to the session.
func (s *Session) ID() string {
	return s.id
}

// RoomName returns the name of the joined room.
func (s *Session) RoomName() string {
	return s.roomName
}

// UserID returns the id of the joined user.
func (s *Session) UserID() string {
	return s.userID
}

// Room returns the joined room.
func (s *Session) Room() *room.Room {
	return s.room
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}
