// Package server wires HTTP handlers into a gorilla/mux router for the relay
// via routing helpers.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// routes configures and returns the router with all application routes.
// Requests to /chat/ without a room name still reach the chat handlers so
// they can be rejected with the usual validation error.
func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/chat/{room}/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/chat/{room}", s.handleJoin).Methods(http.MethodGet)
	r.HandleFunc("/chat/{room}", s.handlePost).Methods(http.MethodPost)

	r.HandleFunc("/chat/", s.handleJoin).Methods(http.MethodGet)
	r.HandleFunc("/chat/", s.handlePost).Methods(http.MethodPost)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
