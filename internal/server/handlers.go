// Package server exposes HTTP handlers, including the event stream, WebSocket
// upgrades, message posts, health checks, and the built-in chat page.
package server

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

//go:embed static/index.html
var indexHTML []byte

// handleIndex serves the built-in chat page.
func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(indexHTML); err != nil {
		s.logger.Debug().Err(err).Msg("Error writing HTML response")
	}
}

// handleHealth provides a simple health check endpoint that returns server status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Room relay is running! rooms=%d streams=%d\n", s.registry.Len(), s.hub.Count())
}

// handleJoin joins the user to the room and streams its events as
// Server-Sent Events until the client disconnects or the server shuts down.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	roomName := mux.Vars(r)["room"]
	userID := r.URL.Query().Get("userId")

	if err := relay.ValidateJoin(roomName, userID); err != nil {
		s.writeRelayError(w, err)
		return
	}

	logger := s.logger.With().Str("remote", r.RemoteAddr).Logger()
	st := newSSEStream(w, s.cfg.SendBuffer, logger)

	if !s.hub.register(st, 1) {
		writeError(w, http.StatusServiceUnavailable, msgShuttingDown)
		return
	}
	defer s.hub.workerDone()
	defer s.hub.unregister(st)

	if err := st.writeHeaders(); err != nil {
		logger.Warn().Err(err).Msg(msgStreamUnsupported)
		return
	}

	session, err := relay.Open(s.registry, roomName, userID, st, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Error opening session")
		return
	}
	defer session.Close()

	st.run(r.Context(), s.cfg.KeepAlive)
}

// handleWebSocket is the WebSocket variant of handleJoin. The request is
// validated before the upgrade so errors can still be reported over HTTP.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomName := mux.Vars(r)["room"]
	userID := r.URL.Query().Get("userId")

	if err := relay.ValidateJoin(roomName, userID); err != nil {
		s.writeRelayError(w, err)
		return
	}

	select {
	case <-s.hub.Done():
		writeError(w, http.StatusServiceUnavailable, msgShuttingDown)
		return
	default:
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	logger := s.logger.With().Str("remote", r.RemoteAddr).Logger()
	client := NewClient(conn, s.hub, s.registry, roomName, r.RemoteAddr, s.cfg, logger)

	session, err := relay.Open(s.registry, roomName, userID, client, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Error opening session")
		client.shutdown()
		return
	}

	if !client.start(session) {
		session.Close()
		client.shutdown()
	}
}

// handlePost appends the request body to the room's history and relays it
// to every member.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	if !s.postLimits.allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, msgRateLimited)
		return
	}

	payload, status, err := s.readPayload(w, r)
	if err != nil {
		s.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("Rejected message body")
		msg := msgInvalidBody
		if status == http.StatusRequestEntityTooLarge {
			msg = msgBodyTooLarge
		}
		writeError(w, status, msg)
		return
	}

	if err := relay.Post(s.registry, mux.Vars(r)["room"], payload); err != nil {
		s.writeRelayError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// readPayload returns the body as compact JSON. Form bodies become a JSON
// object of their first values. An empty body yields a nil payload, which
// relay.Post rejects.
func (s *Server) readPayload(w http.ResponseWriter, r *http.Request) (json.RawMessage, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxMessageSize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		return readForm(r)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, bodyErrorStatus(err), fmt.Errorf("reading body: %w", err)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, 0, nil
	}

	if !json.Valid(body) {
		return nil, http.StatusBadRequest, errors.New("body is not valid JSON")
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("compacting body: %w", err)
	}
	return compact.Bytes(), 0, nil
}

func readForm(r *http.Request) (json.RawMessage, int, error) {
	if err := r.ParseForm(); err != nil {
		return nil, bodyErrorStatus(err), fmt.Errorf("parsing form: %w", err)
	}

	if len(r.PostForm) == 0 {
		return nil, 0, nil
	}

	fields := make(map[string]string, len(r.PostForm))
	for key := range r.PostForm {
		fields[key] = r.PostForm.Get(key)
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("encoding form: %w", err)
	}
	return payload, 0, nil
}

func bodyErrorStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// writeRelayError maps relay errors onto HTTP status codes.
func (s *Server) writeRelayError(w http.ResponseWriter, err error) {
	switch {
	case relay.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case relay.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error().Err(err).Msg("Unexpected relay error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// clientKey identifies the poster for rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
