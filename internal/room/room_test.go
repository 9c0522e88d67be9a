package room_test

import (
	"encoding/json"
	"reflect"
	"sync"
	"testing"

	"github.com/Tyrowin/roomrelay/internal/room"
)

// recorder collects events from all three feeds of a room in arrival order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) listeners() room.Listeners {
	return room.Listeners{
		Message: func(p json.RawMessage) { r.add("message:" + string(p)) },
		Join:    func(id string) { r.add("join:" + id) },
		Exit:    func(id string) { r.add("exit:" + id) },
	}
}

// TestJoinDistinctUsers verifies that the member count equals the number of
// distinct ids joined and that re-joining emits nothing.
func TestJoinDistinctUsers(t *testing.T) {
	tests := []struct {
		name      string
		joins     []string
		wantCount int
		wantJoins int
	}{
		{name: "no joins", joins: nil, wantCount: 0, wantJoins: 0},
		{name: "distinct ids", joins: []string{"alice", "bob", "carol"}, wantCount: 3, wantJoins: 3},
		{name: "repeated id", joins: []string{"alice", "alice", "bob", "alice"}, wantCount: 2, wantJoins: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := room.New("lobby")
			joins := 0
			r.JoinFeed().Subscribe(func(string) { joins++ })

			for _, id := range tt.joins {
				r.Join(id)
			}

			if got := len(r.Members()); got != tt.wantCount {
				t.Errorf("Expected %d members, got %d", tt.wantCount, got)
			}
			if joins != tt.wantJoins {
				t.Errorf("Expected %d join events, got %d", tt.wantJoins, joins)
			}
		})
	}
}

// TestJoinReportsChange verifies the return value of Join.
func TestJoinReportsChange(t *testing.T) {
	r := room.New("lobby")

	if !r.Join("alice") {
		t.Error("Expected first join to report a change")
	}
	if r.Join("alice") {
		t.Error("Expected repeated join to report no change")
	}
}

// TestExitPolicies verifies user-left emission for members and non-members
// under both exit policies.
func TestExitPolicies(t *testing.T) {
	tests := []struct {
		name      string
		policy    room.ExitPolicy
		wantExits []string
	}{
		{name: "always emit", policy: room.ExitPolicyAlwaysEmit, wantExits: []string{"alice", "ghost"}},
		{name: "guarded", policy: room.ExitPolicyGuarded, wantExits: []string{"alice"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := room.New("lobby", room.WithExitPolicy(tt.policy))
			var exits []string
			r.ExitFeed().Subscribe(func(id string) { exits = append(exits, id) })

			r.Join("alice")
			if !r.Exit("alice") {
				t.Error("Expected exit of a member to report removal")
			}
			if r.Exit("ghost") {
				t.Error("Expected exit of a non-member to report no removal")
			}

			if !reflect.DeepEqual(exits, tt.wantExits) {
				t.Errorf("Expected exit events %v, got %v", tt.wantExits, exits)
			}
			if !r.IsEmpty() {
				t.Error("Expected room to be empty")
			}
		})
	}
}

// TestAddMessageWithoutMembers verifies that posting to an empty room still
// appends to the history and emits.
func TestAddMessageWithoutMembers(t *testing.T) {
	r := room.New("R")
	var got []string
	r.MessageFeed().Subscribe(func(p json.RawMessage) { got = append(got, string(p)) })

	r.AddMessage(json.RawMessage(`{"text":"hi"}`))

	if len(r.History()) != 1 {
		t.Fatalf("Expected 1 message in history, got %d", len(r.History()))
	}
	if !reflect.DeepEqual(got, []string{`{"text":"hi"}`}) {
		t.Errorf("Expected one emitted message, got %v", got)
	}
}

// TestHistoryLimit verifies that a capped room keeps only the newest messages
// in insertion order, and that an uncapped room keeps everything.
func TestHistoryLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{name: "unbounded", limit: 0, want: []string{"1", "2", "3", "4"}},
		{name: "capped", limit: 2, want: []string{"3", "4"}},
		{name: "negative is unbounded", limit: -5, want: []string{"1", "2", "3", "4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := room.New("R", room.WithHistoryLimit(tt.limit))
			for _, p := range []string{"1", "2", "3", "4"} {
				r.AddMessage(json.RawMessage(p))
			}

			var got []string
			for _, m := range r.History() {
				got = append(got, string(m))
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected history %v, got %v", tt.want, got)
			}
		})
	}
}

// TestMembersSnapshot verifies that Members returns a detached, sorted copy.
func TestMembersSnapshot(t *testing.T) {
	r := room.New("R")
	r.Join("carol")
	r.Join("alice")
	r.Join("bob")

	members := r.Members()
	if !reflect.DeepEqual(members, []string{"alice", "bob", "carol"}) {
		t.Errorf("Expected sorted members, got %v", members)
	}

	members[0] = "mallory"
	if r.Members()[0] != "alice" {
		t.Error("Expected Members to return a copy")
	}
}

// TestAttach verifies that Attach snapshots the other members, joins the user
// without echoing its own join, and delivers subsequent events.
func TestAttach(t *testing.T) {
	r := room.New("lobby")
	r.Join("alice")

	rec := &recorder{}
	var snapshot []string
	sub := r.Attach("bob", rec.listeners(), func(members []string) {
		snapshot = members
	})

	if !reflect.DeepEqual(snapshot, []string{"alice"}) {
		t.Errorf("Expected snapshot [alice], got %v", snapshot)
	}
	if !reflect.DeepEqual(r.Members(), []string{"alice", "bob"}) {
		t.Errorf("Expected members [alice bob], got %v", r.Members())
	}
	if len(rec.get()) != 0 {
		t.Errorf("Expected no events after attach, got %v", rec.get())
	}

	r.Join("carol")
	r.AddMessage(json.RawMessage(`"hi"`))
	r.Exit("carol")

	want := []string{"join:carol", `message:"hi"`, "exit:carol"}
	if !reflect.DeepEqual(rec.get(), want) {
		t.Errorf("Expected events %v, got %v", want, rec.get())
	}

	sub.Cancel()
	r.AddMessage(json.RawMessage(`"late"`))
	if len(rec.get()) != len(want) {
		t.Errorf("Expected no events after cancel, got %v", rec.get())
	}
}

// TestAttachSameUserTwice verifies that a second connection for a present
// member sees itself excluded from the snapshot and emits no join.
func TestAttachSameUserTwice(t *testing.T) {
	r := room.New("lobby")
	joins := 0
	r.JoinFeed().Subscribe(func(string) { joins++ })

	r.Attach("alice", room.Listeners{}, nil)
	var snapshot []string
	r.Attach("alice", room.Listeners{}, func(m []string) { snapshot = m })

	if len(snapshot) != 0 {
		t.Errorf("Expected empty snapshot, got %v", snapshot)
	}
	if joins != 1 {
		t.Errorf("Expected 1 join event, got %d", joins)
	}
}

// TestSubscriptionCancelIdempotent verifies that cancelling twice is safe.
func TestSubscriptionCancelIdempotent(t *testing.T) {
	r := room.New("lobby")
	rec := &recorder{}
	sub := r.Subscribe(rec.listeners())

	sub.Cancel()
	sub.Cancel()

	if n := r.MessageFeed().Len() + r.JoinFeed().Len() + r.ExitFeed().Len(); n != 0 {
		t.Errorf("Expected no listeners after cancel, got %d", n)
	}
	if sub.Room() != r {
		t.Error("Expected subscription to reference its room")
	}
}

// TestConcurrentRoomOperations verifies that concurrent joins, exits and posts
// neither race nor lose updates.
func TestConcurrentRoomOperations(t *testing.T) {
	r := room.New("busy")
	var mu sync.Mutex
	delivered := 0
	r.MessageFeed().Subscribe(func(json.RawMessage) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			user := string(rune('a' + id%26))
			r.Join(user)
			r.AddMessage(json.RawMessage(`1`))
			r.Exit(user)
		}(i)
	}
	wg.Wait()

	if len(r.History()) != 50 {
		t.Errorf("Expected 50 messages, got %d", len(r.History()))
	}
	if delivered != 50 {
		t.Errorf("Expected 50 deliveries, got %d", delivered)
	}
}
