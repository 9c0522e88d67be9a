// Package server implements the HTTP surface of the room relay.
//
// The implementation is organized into specialized files for configuration,
// the connection hub, event streams, WebSocket clients, routing, and HTTP
// handlers. Room state lives in internal/room and is only reached through
// the relay package.
package server
