package room

import (
	"sync"

	"github.com/rs/zerolog"
)

// Handle identifies one listener registered on a Feed. It is returned by
// Subscribe and passed back to Unsubscribe.
type Handle uint64

type listener[T any] struct {
	handle Handle
	fn     func(T)
}

// Feed delivers one kind of room event to every registered listener.
//
// A Feed shares its mutex with the owning Room, so registration and emission
// are serialized with the room's state changes. Listeners are called
// synchronously in registration order while that mutex is held; they must
// not call back into the Room or its Registry.
type Feed[T any] struct {
	name      string
	mu        *sync.Mutex
	logger    *zerolog.Logger
	next      Handle
	listeners []listener[T]
}

func newFeed[T any](name string, mu *sync.Mutex, logger *zerolog.Logger) *Feed[T] {
	return &Feed[T]{
		name:   name,
		mu:     mu,
		logger: logger,
	}
}

// Subscribe registers fn to receive every event emitted after this call.
func (f *Feed[T]) Subscribe(fn func(T)) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.add(fn)
}

// Unsubscribe removes the listener identified by h. It reports whether the
// handle was still registered; a second call for the same handle is a no-op.
func (f *Feed[T]) Unsubscribe(h Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remove(h)
}

// Len returns the number of registered listeners.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *Feed[T]) add(fn func(T)) Handle {
	f.next++
	f.listeners = append(f.listeners, listener[T]{handle: f.next, fn: fn})
	return f.next
}

func (f *Feed[T]) remove(h Handle) bool {
	for i, l := range f.listeners {
		if l.handle != h {
			continue
		}
		// Copy on removal so a slice captured by an in-progress emit is untouched.
		next := make([]listener[T], 0, len(f.listeners)-1)
		next = append(next, f.listeners[:i]...)
		next = append(next, f.listeners[i+1:]...)
		f.listeners = next
		return true
	}
	return false
}

// emit must be called with f.mu held.
func (f *Feed[T]) emit(v T) {
	for _, l := range f.listeners {
		f.deliver(l, v)
	}
}

func (f *Feed[T]) deliver(l listener[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error().
				Str("feed", f.name).
				Uint64("listener", uint64(l.handle)).
				Interface("panic", r).
				Msg("Recovered from panic in feed listener")
		}
	}()
	l.fn(v)
}
