// Package integration exercises the relay end to end over real HTTP
// connections.
package integration

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/server"
	"github.com/Tyrowin/roomrelay/test/testhelpers"
)

// TestHealthEndpointIntegration tests the health endpoint with the actual server configuration
func TestHealthEndpointIntegration(t *testing.T) {
	_, ts := testhelpers.CreateTestServer(t, testhelpers.NewTestConfig())

	resp := testhelpers.MakeRequest(t, http.MethodGet, ts.URL+"/health")
	defer resp.Body.Close()

	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "text/plain")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	if !strings.Contains(string(body), "Room relay is running!") {
		t.Errorf("Unexpected health body %q", body)
	}
}

// TestIndexPageIntegration verifies that the chat page is served at the root.
func TestIndexPageIntegration(t *testing.T) {
	_, ts := testhelpers.CreateTestServer(t, testhelpers.NewTestConfig())

	resp := testhelpers.MakeRequest(t, http.MethodGet, ts.URL+"/")
	defer resp.Body.Close()

	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "text/html; charset=utf-8")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	if !strings.Contains(string(body), "EventSource") {
		t.Error("Chat page does not open an event stream")
	}
}

// TestUnknownRouteIntegration verifies that unrouted paths return 404.
func TestUnknownRouteIntegration(t *testing.T) {
	_, ts := testhelpers.CreateTestServer(t, testhelpers.NewTestConfig())

	resp := testhelpers.MakeRequest(t, http.MethodGet, ts.URL+"/nonexistent")
	defer resp.Body.Close()

	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)
}

// TestFullServerIntegration tests the complete server setup using the
// production http.Server settings. Event streams must outlive the server's
// write timeout.
func TestFullServerIntegration(t *testing.T) {
	cfg := testhelpers.NewTestConfig()
	srv := server.New(cfg, zerolog.Nop())
	httpServer := server.CreateServer(cfg.Port, srv.Handler())
	httpServer.WriteTimeout = 200 * time.Millisecond

	testServer := httptest.NewUnstartedServer(srv.Handler())
	testServer.Config = httpServer
	testServer.Start()
	t.Cleanup(testServer.Close)
	t.Cleanup(func() { _ = srv.Hub().Shutdown(time.Second) })

	alice := testhelpers.OpenSSE(t, testServer.URL, "lobby", "alice")
	alice.Expect(t, "current-users", "[]")
	alice.Expect(t, "chat-connected", "")

	time.Sleep(400 * time.Millisecond)

	resp, _ := testhelpers.PostJSON(t, testServer.URL, "lobby", `{"text":"late"}`)
	testhelpers.AssertStatusCode(t, resp, http.StatusCreated)
	alice.Expect(t, "chat-message", `{"text":"late"}`)

	// Verify server timeouts are configured correctly
	defaults := server.CreateServer(":0", nil)
	if defaults.ReadTimeout != 15*time.Second {
		t.Errorf("Expected ReadTimeout 15s, got %v", defaults.ReadTimeout)
	}
	if defaults.WriteTimeout != 15*time.Second {
		t.Errorf("Expected WriteTimeout 15s, got %v", defaults.WriteTimeout)
	}
	if defaults.IdleTimeout != 60*time.Second {
		t.Errorf("Expected IdleTimeout 60s, got %v", defaults.IdleTimeout)
	}
}
