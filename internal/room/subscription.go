package room

import (
	"encoding/json"
	"sync"
)

// Listeners groups one callback per room feed. Nil callbacks are skipped.
type Listeners struct {
	Message func(json.RawMessage)
	Join    func(userID string)
	Exit    func(userID string)
}

// Subscription holds the handles of a Listeners set registered on a room.
type Subscription struct {
	room    *Room
	message Handle
	join    Handle
	exit    Handle
	once    sync.Once
}

// Subscribe registers every non-nil callback of l on the matching feed.
func (r *Room) Subscribe(l Listeners) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribe(l)
}

func (r *Room) subscribe(l Listeners) *Subscription {
	s := &Subscription{room: r}
	if l.Message != nil {
		s.message = r.messageFeed.add(l.Message)
	}
	if l.Join != nil {
		s.join = r.joinFeed.add(l.Join)
	}
	if l.Exit != nil {
		s.exit = r.exitFeed.add(l.Exit)
	}
	return s
}

// Attach joins userID and registers l in a single critical section, so no
// room event can fall between the member snapshot and the first delivery to
// l. ready is called inside that section with the members present before
// the join, excluding userID itself. The joining user's own user-joined
// event is not delivered to l.
func (r *Room) Attach(userID string, l Listeners, ready func(members []string)) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.snapshot(userID)
	r.join(userID)
	s := r.subscribe(l)
	if ready != nil {
		ready(members)
	}
	return s
}

// Room returns the room the subscription belongs to.
func (s *Subscription) Room() *Room {
	return s.room
}

// Cancel deregisters the subscription's listeners. Only the first call has
// any effect.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		r := s.room
		r.mu.Lock()
		defer r.mu.Unlock()

		if s.message != 0 {
			r.messageFeed.remove(s.message)
		}
		if s.join != 0 {
			r.joinFeed.remove(s.join)
		}
		if s.exit != 0 {
			r.exitFeed.remove(s.exit)
		}
	})
}
