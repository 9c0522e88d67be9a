package relay

import (
	"bytes"
	"encoding/json"

	"github.com/Tyrowin/roomrelay/internal/room"
)

// Post appends payload to the history of roomName and fans it out to the
// room's listeners. It never creates a room.
func Post(registry *room.Registry, roomName string, payload json.RawMessage) error {
	if roomName == "" || isEmptyPayload(payload) {
		return &ValidationError{Message: MsgPostFieldsMissing}
	}

	r, ok := registry.Get(roomName)
	if !ok {
		return &NotFoundError{Room: roomName}
	}

	r.AddMessage(payload)
	return nil
}

func isEmptyPayload(payload json.RawMessage) bool {
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
