// Package testhelpers provides common utilities and helper functions for testing the relay server.
//
// This package contains reusable test utilities that are shared across integration tests.
// It provides functions for creating test servers, reading event streams, making HTTP
// requests, and asserting response properties to reduce code duplication in test files.
package testhelpers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/server"
)

// TestOrigin is the origin allowed by NewTestConfig and sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// DefaultTimeout bounds every wait in the helpers.
const DefaultTimeout = 2 * time.Second

// NewTestConfig returns a configuration suited to tests: no keepalive
// comments and a generous post rate limit.
func NewTestConfig() server.Config {
	cfg := *server.NewConfig()
	cfg.AllowedOrigins = []string{TestOrigin}
	cfg.KeepAlive = 0
	cfg.RateLimit.Burst = 1000
	cfg.ShutdownTimeout = DefaultTimeout
	return cfg
}

// CreateTestServer starts a relay server for cfg behind an httptest.Server.
// Streams are shut down before the test server is closed so Close does not
// wait on open event streams.
func CreateTestServer(t *testing.T, cfg server.Config) (*server.Server, *httptest.Server) {
	t.Helper()

	srv := server.New(cfg, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		_ = srv.Hub().Shutdown(DefaultTimeout)
	})
	return srv, ts
}

// AssertStatusCode checks if the HTTP response has the expected status code.
// It fails the test with a descriptive error message if the status codes don't match.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
// It fails the test with a descriptive error message if the content types don't match.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// PostMessage posts body to the room with the given content type and
// returns the response with its body already read.
func PostMessage(t *testing.T, baseURL, room, contentType, body string) (*http.Response, []byte) {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(baseURL+"/chat/"+url.PathEscape(room), contentType, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to post message: %v", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	return resp, buf.Bytes()
}

// PostJSON posts a JSON body to the room.
func PostJSON(t *testing.T, baseURL, room, body string) (*http.Response, []byte) {
	t.Helper()
	return PostMessage(t, baseURL, room, "application/json", body)
}

// SSEEvent is one event read from a text/event-stream.
type SSEEvent struct {
	Event string
	Data  string
}

// SSEStream reads events from an open event stream response.
type SSEStream struct {
	Response *http.Response
	events   chan SSEEvent
	cancel   context.CancelFunc
}

// OpenSSE joins userID to room over Server-Sent Events. The stream is
// closed automatically when the test ends.
func OpenSSE(t *testing.T, baseURL, room, userID string) *SSEStream {
	t.Helper()

	resp, cancel, err := DialSSE(baseURL, room, userID)
	if err != nil {
		t.Fatalf("Failed to open event stream: %v", err)
	}
	return WrapSSE(t, resp, cancel)
}

// WrapSSE starts reading an event stream opened with DialSSE. It fails the
// test unless the response status is 200.
func WrapSSE(t *testing.T, resp *http.Response, cancel context.CancelFunc) *SSEStream {
	t.Helper()

	if resp.StatusCode != http.StatusOK {
		cancel()
		_ = resp.Body.Close()
		t.Fatalf("Expected status code %d opening event stream, got %d", http.StatusOK, resp.StatusCode)
	}

	s := &SSEStream{
		Response: resp,
		events:   make(chan SSEEvent, 64),
		cancel:   cancel,
	}
	go s.read()
	t.Cleanup(s.Close)
	return s
}

// RequestSSE issues a join request and returns the response without
// reading the stream. Callers must close the body.
func RequestSSE(t *testing.T, baseURL, room, userID string) *http.Response {
	t.Helper()

	resp, cancel, err := DialSSE(baseURL, room, userID)
	if err != nil {
		t.Fatalf("Failed to open event stream: %v", err)
	}
	t.Cleanup(cancel)
	return resp
}

// DialSSE sends a join request. It does not use testing.T so it can be
// called from any goroutine; cancel disconnects the stream.
func DialSSE(baseURL, room, userID string) (*http.Response, context.CancelFunc, error) {
	target := baseURL + "/chat/" + url.PathEscape(room)
	if userID != "" {
		target += "?userId=" + url.QueryEscape(userID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return resp, cancel, nil
}

func (s *SSEStream) read() {
	defer close(s.events)

	scanner := bufio.NewScanner(s.Response.Body)
	var current SSEEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current.Event != "" {
				s.events <- current
			}
			current = SSEEvent{}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			current.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			current.Data = strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
		}
	}
}

// Next returns the next event, failing the test if none arrives in time.
func (s *SSEStream) Next(t *testing.T) SSEEvent {
	t.Helper()

	select {
	case e, ok := <-s.events:
		if !ok {
			t.Fatal("Event stream closed while waiting for an event")
		}
		return e
	case <-time.After(DefaultTimeout):
		t.Fatal("Timed out waiting for an event")
	}
	return SSEEvent{}
}

// Expect reads the next event and checks its name and data.
func (s *SSEStream) Expect(t *testing.T, event, data string) {
	t.Helper()

	e := s.Next(t)
	if e.Event != event || e.Data != data {
		t.Fatalf("Expected event %s %q, got %s %q", event, data, e.Event, e.Data)
	}
}

// ExpectNone checks that no event arrives within d.
func (s *SSEStream) ExpectNone(t *testing.T, d time.Duration) {
	t.Helper()

	select {
	case e, ok := <-s.events:
		if ok {
			t.Fatalf("Expected no event, got %s %q", e.Event, e.Data)
		}
	case <-time.After(d):
	}
}

// Closed reports whether the server ended the stream within the default
// timeout.
func (s *SSEStream) Closed() bool {
	deadline := time.After(DefaultTimeout)
	for {
		select {
		case _, ok := <-s.events:
			if !ok {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

// Close disconnects the client.
func (s *SSEStream) Close() {
	s.cancel()
	_ = s.Response.Body.Close()
}

// WSURL converts an httptest server URL into the WebSocket join URL.
func WSURL(baseURL, room, userID string) string {
	u := "ws" + strings.TrimPrefix(baseURL, "http") + "/chat/" + url.PathEscape(room) + "/ws"
	if userID != "" {
		u += "?userId=" + url.QueryEscape(userID)
	}
	return u
}

// ConnectWebSocket creates a WebSocket connection to the specified URL.
// It returns the connection or an error if connection fails.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	return ConnectWebSocketWithOrigin(url, TestOrigin)
}

// ConnectWebSocketWithOrigin dials url with the given Origin header.
func ConnectWebSocketWithOrigin(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// WSFrame is a decoded WebSocket event frame.
type WSFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ReceiveFrame reads the next event frame from the connection.
func ReceiveFrame(t *testing.T, conn *websocket.Conn) WSFrame {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}

	var frame WSFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return frame
}

// ExpectFrame reads the next frame and checks its event and data.
func ExpectFrame(t *testing.T, conn *websocket.Conn, event, data string) {
	t.Helper()

	frame := ReceiveFrame(t, conn)
	if frame.Event != event || string(frame.Data) != data {
		t.Fatalf("Expected frame %s %s, got %s %s", event, data, frame.Event, frame.Data)
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// Eventually polls cond until it holds or the default timeout elapses.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Condition not met: %s", msg)
}
