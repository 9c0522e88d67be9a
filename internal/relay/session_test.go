package relay_test

import (
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/internal/room"
)

// captureSink records every event it accepts as "type data" strings.
type captureSink struct {
	mu     sync.Mutex
	events []string
	refuse bool
}

func (c *captureSink) Send(e relay.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refuse {
		return false
	}
	c.events = append(c.events, string(e.Type)+" "+string(e.Data))
	return true
}

func (c *captureSink) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func newRegistry() *room.Registry {
	return room.NewRegistry(zerolog.Nop())
}

func open(t *testing.T, g *room.Registry, roomName, user string) (*relay.Session, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	s, err := relay.Open(g, roomName, user, sink, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to open session for %s: %v", user, err)
	}
	return s, sink
}

// TestOpenValidation verifies that missing fields are rejected without
// touching the registry.
func TestOpenValidation(t *testing.T) {
	tests := []struct {
		name     string
		roomName string
		userID   string
	}{
		{name: "missing room", roomName: "", userID: "alice"},
		{name: "missing user", roomName: "lobby", userID: ""},
		{name: "missing both", roomName: "", userID: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newRegistry()
			sink := &captureSink{}

			s, err := relay.Open(g, tt.roomName, tt.userID, sink, zerolog.Nop())
			if s != nil {
				t.Error("Expected no session")
			}
			if !relay.IsValidation(err) {
				t.Fatalf("Expected validation error, got %v", err)
			}
			if err.Error() != relay.MsgJoinFieldsMissing {
				t.Errorf("Expected message %q, got %q", relay.MsgJoinFieldsMissing, err.Error())
			}
			if g.Len() != 0 {
				t.Errorf("Expected no rooms, got %v", g.Names())
			}
			if len(sink.get()) != 0 {
				t.Errorf("Expected no events, got %v", sink.get())
			}
			if err := relay.ValidateJoin(tt.roomName, tt.userID); !relay.IsValidation(err) {
				t.Errorf("ValidateJoin disagrees with Open: %v", err)
			}
		})
	}

	if err := relay.ValidateJoin("lobby", "alice"); err != nil {
		t.Errorf("ValidateJoin rejected a complete request: %v", err)
	}
}

// TestLobbyScenario walks the alice/bob lobby scenario end to end at the
// session level.
func TestLobbyScenario(t *testing.T) {
	g := newRegistry()

	alice, aliceSink := open(t, g, "lobby", "alice")
	if alice.State() != relay.StateStreaming {
		t.Errorf("Expected alice to be streaming, got %s", alice.State())
	}
	wantAlice := []string{"current-users []", "chat-connected "}
	if !reflect.DeepEqual(aliceSink.get(), wantAlice) {
		t.Fatalf("Expected alice events %v, got %v", wantAlice, aliceSink.get())
	}

	bob, bobSink := open(t, g, "lobby", "bob")
	wantBob := []string{`current-users ["alice"]`, "chat-connected "}
	if !reflect.DeepEqual(bobSink.get(), wantBob) {
		t.Fatalf("Expected bob events %v, got %v", wantBob, bobSink.get())
	}
	wantAlice = append(wantAlice, `user-enter {"user":"bob"}`)
	if !reflect.DeepEqual(aliceSink.get(), wantAlice) {
		t.Fatalf("Expected alice events %v, got %v", wantAlice, aliceSink.get())
	}

	if err := relay.Post(g, "lobby", json.RawMessage(`{"text":"hi"}`)); err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	wantAlice = append(wantAlice, `chat-message {"text":"hi"}`)
	wantBob = append(wantBob, `chat-message {"text":"hi"}`)
	if !reflect.DeepEqual(aliceSink.get(), wantAlice) {
		t.Errorf("Expected alice events %v, got %v", wantAlice, aliceSink.get())
	}
	if !reflect.DeepEqual(bobSink.get(), wantBob) {
		t.Errorf("Expected bob events %v, got %v", wantBob, bobSink.get())
	}

	bob.Close()
	if bob.State() != relay.StateClosed {
		t.Errorf("Expected bob to be closed, got %s", bob.State())
	}
	wantAlice = append(wantAlice, `user-exits {"user":"bob"}`)
	if !reflect.DeepEqual(aliceSink.get(), wantAlice) {
		t.Errorf("Expected alice events %v, got %v", wantAlice, aliceSink.get())
	}
	if !reflect.DeepEqual(bobSink.get(), wantBob) {
		t.Errorf("Expected bob to receive nothing after close, got %v", bobSink.get())
	}
	if _, ok := g.Get("lobby"); !ok {
		t.Fatal("Expected lobby to remain while alice is connected")
	}

	alice.Close()
	if _, ok := g.Get("lobby"); ok {
		t.Error("Expected lobby to be evicted after the last member left")
	}
}

// TestCloseIdempotent verifies that a second close emits no second exit.
func TestCloseIdempotent(t *testing.T) {
	g := newRegistry()
	watcher, watcherSink := open(t, g, "lobby", "watcher")
	defer watcher.Close()

	s, _ := open(t, g, "lobby", "alice")
	s.Close()
	s.Close()

	exits := 0
	for _, e := range watcherSink.get() {
		if e == `user-exits {"user":"alice"}` {
			exits++
		}
	}
	if exits != 1 {
		t.Errorf("Expected exactly one exit event, got %d", exits)
	}
}

// TestCloseDoesNotNotifySelf verifies that a closing session is not sent
// its own exit under either exit policy, while other members still are.
func TestCloseDoesNotNotifySelf(t *testing.T) {
	policies := []struct {
		name   string
		policy room.ExitPolicy
	}{
		{name: "always emit", policy: room.ExitPolicyAlwaysEmit},
		{name: "guarded", policy: room.ExitPolicyGuarded},
	}

	for _, tt := range policies {
		t.Run(tt.name, func(t *testing.T) {
			g := room.NewRegistry(zerolog.Nop(), room.WithExitPolicy(tt.policy))
			watcher, watcherSink := open(t, g, "lobby", "watcher")
			defer watcher.Close()

			s, sink := open(t, g, "lobby", "alice")
			before := len(sink.get())
			s.Close()

			if got := sink.get(); len(got) != before {
				t.Errorf("Expected no events after close, got %v", got[before:])
			}
			if s.State() != relay.StateClosed {
				t.Errorf("Expected closed state, got %s", s.State())
			}

			got := watcherSink.get()
			if got[len(got)-1] != `user-exits {"user":"alice"}` {
				t.Errorf("Expected watcher to see alice exit, got %v", got)
			}
		})
	}
}

// TestConcurrentClose verifies that concurrent close signals run the
// teardown once.
func TestConcurrentClose(t *testing.T) {
	g := newRegistry()
	s, _ := open(t, g, "lobby", "alice")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()

	if g.Len() != 0 {
		t.Errorf("Expected room to be evicted, got %v", g.Names())
	}
	r := s.Room()
	if n := r.MessageFeed().Len() + r.JoinFeed().Len() + r.ExitFeed().Len(); n != 0 {
		t.Errorf("Expected all listeners removed, got %d", n)
	}
}

// TestSessionAccessors verifies the identifying fields of a session.
func TestSessionAccessors(t *testing.T) {
	g := newRegistry()
	s, _ := open(t, g, "lobby", "alice")
	defer s.Close()

	if s.RoomName() != "lobby" || s.UserID() != "alice" {
		t.Errorf("Unexpected session binding %s/%s", s.RoomName(), s.UserID())
	}
	if s.ID() == "" {
		t.Error("Expected a connection id")
	}
	if s.Room() == nil || s.Room().Name() != "lobby" {
		t.Error("Expected session to reference its room")
	}
}

// TestRefusingSinkDoesNotBlockOthers verifies that a sink refusing events
// does not stop delivery to the other sessions.
func TestRefusingSinkDoesNotBlockOthers(t *testing.T) {
	g := newRegistry()
	slow, slowSink := open(t, g, "lobby", "slow")
	defer slow.Close()
	fast, fastSink := open(t, g, "lobby", "fast")
	defer fast.Close()

	slowSink.mu.Lock()
	slowSink.refuse = true
	slowSink.mu.Unlock()

	if err := relay.Post(g, "lobby", json.RawMessage(`1`)); err != nil {
		t.Fatalf("Post failed: %v", err)
	}

	got := fastSink.get()
	if got[len(got)-1] != "chat-message 1" {
		t.Errorf("Expected fast session to get the message, got %v", got)
	}
}

// TestPostErrors verifies the post error taxonomy.
func TestPostErrors(t *testing.T) {
	tests := []struct {
		name     string
		roomName string
		payload  string
		check    func(error) bool
		message  string
	}{
		{name: "missing room", roomName: "", payload: `"x"`, check: relay.IsValidation, message: relay.MsgPostFieldsMissing},
		{name: "missing payload", roomName: "lobby", payload: ``, check: relay.IsValidation, message: relay.MsgPostFieldsMissing},
		{name: "null payload", roomName: "lobby", payload: ` null `, check: relay.IsValidation, message: relay.MsgPostFieldsMissing},
		{name: "unknown room", roomName: "ghost", payload: `"x"`, check: relay.IsNotFound, message: relay.MsgRoomNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newRegistry()

			err := relay.Post(g, tt.roomName, json.RawMessage(tt.payload))
			if !tt.check(err) {
				t.Fatalf("Unexpected error type: %v", err)
			}
			if err.Error() != tt.message {
				t.Errorf("Expected message %q, got %q", tt.message, err.Error())
			}
			if g.Len() != 0 {
				t.Errorf("Expected no room created, got %v", g.Names())
			}
		})
	}
}

// TestErrorsUnwrap verifies that wrapped errors are still classified.
func TestErrorsUnwrap(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), &relay.NotFoundError{Room: "ghost"})
	if !relay.IsNotFound(wrapped) {
		t.Error("Expected wrapped NotFoundError to be detected")
	}
	if relay.IsValidation(wrapped) {
		t.Error("Expected wrapped NotFoundError not to be a validation error")
	}
}

// TestSinkFunc verifies the function adapter.
func TestSinkFunc(t *testing.T) {
	var got relay.Event
	sink := relay.SinkFunc(func(e relay.Event) bool {
		got = e
		return true
	})

	if !sink.Send(relay.Event{Type: relay.EventConnected}) {
		t.Error("Expected SinkFunc to report acceptance")
	}
	if got.Type != relay.EventConnected {
		t.Errorf("Expected %s, got %s", relay.EventConnected, got.Type)
	}
}
