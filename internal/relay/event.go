// Package relay binds connections to rooms. A Session joins one user to one
// room for the life of a connection and forwards the room's events to that
// connection; Post publishes a message to an existing room.
package relay

import (
	"encoding/json"
	"fmt"
)

// EventType is the name a client sees for a relayed event.
type EventType string

// Event names on the wire.
const (
	EventCurrentUsers EventType = "current-users"
	EventConnected    EventType = "chat-connected"
	EventMessage      EventType = "chat-message"
	EventUserEnter    EventType = "user-enter"
	EventUserExit     EventType = "user-exits"
)

// Event is one item of a session's outbound stream. Data holds the JSON
// encoded payload and is empty for EventConnected.
type Event struct {
	Type EventType
	Data json.RawMessage
}

// UserPayload is the payload of user-enter and user-exits events.
type UserPayload struct {
	User string `json:"user"`
}

// Sink receives the events of one session. Send must not block: it is
// called while the room's lock is held. It reports whether the event was
// accepted.
type Sink interface {
	Send(Event) bool
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event) bool

// Send calls f(e).
func (f SinkFunc) Send(e Event) bool {
	return f(e)
}

func currentUsersEvent(members []string) Event {
	if members == nil {
		members = []string{}
	}
	return Event{Type: EventCurrentUsers, Data: mustEncode(members)}
}

func userEvent(t EventType, userID string) Event {
	return Event{Type: t, Data: mustEncode(UserPayload{User: userID})}
}

// mustEncode marshals values that cannot fail to encode.
func mustEncode(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("cannot encode event payload %v: %s", v, err))
	}
	return raw
}
