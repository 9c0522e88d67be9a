// Package server defines the wire formats written to clients and utility
// helpers that are reused across the SSE, WebSocket and post handlers.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

// Frame is the JSON text frame sent to WebSocket clients for each event.
type Frame struct {
	Event relay.EventType `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Error messages that are not part of the relay taxonomy.
const (
	msgInvalidBody       = "invalid message body"
	msgBodyTooLarge      = "message too large"
	msgRateLimited       = "rate limit exceeded"
	msgStreamUnsupported = "streaming not supported"
	msgShuttingDown      = "server is shutting down"
)

// writeSSE writes e in text/event-stream format.
func writeSSE(w io.Writer, e relay.Event) error {
	if len(e.Data) == 0 {
		_, err := fmt.Fprintf(w, "event: %s\ndata:\n\n", e.Type)
		return err
	}
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, e.Data)
	return err
}

func encodeFrame(e relay.Event) ([]byte, error) {
	return json.Marshal(Frame{Event: e.Type, Data: e.Data})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
