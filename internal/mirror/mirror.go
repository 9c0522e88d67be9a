// Package mirror exports room events to a message broker. The export is one
// way: nothing consumes the broker back into a room. Listeners only enqueue
// records; a single worker publishes them so a slow broker never stalls room
// delivery.
package mirror

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/room"
)

// Event names used in records and keys.
const (
	EventMessage = "message"
	EventJoin    = "join"
	EventExit    = "exit"
)

// Publisher delivers one encoded record under a routing key.
type Publisher interface {
	Publish(ctx context.Context, key string, body []byte) error
	Close() error
}

// Record is the JSON body published for each room event.
type Record struct {
	Room  string          `json:"room"`
	Event string          `json:"event"`
	User  string          `json:"user,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	At    time.Time       `json:"at"`
}

// Key returns the routing key of the record: "<room>.<event>", with the
// room name made safe for topic and subject syntax.
func (r Record) Key() string {
	return sanitize(r.Room) + "." + r.Event
}

var keyReplacer = strings.NewReplacer(
	".", "_",
	"*", "_",
	">", "_",
	"#", "_",
	" ", "_",
	"\t", "_",
	"\n", "_",
	"\r", "_",
)

func sanitize(name string) string {
	return keyReplacer.Replace(name)
}

// Mirror subscribes to every room of a registry and forwards its events to
// a Publisher.
type Mirror struct {
	pub            Publisher
	queue          chan Record
	publishTimeout time.Duration
	logger         zerolog.Logger

	mu   sync.Mutex
	subs map[*room.Room]*room.Subscription
}

// New creates a mirror with a queue of the given size.
func New(pub Publisher, buffer int, logger zerolog.Logger) *Mirror {
	if buffer <= 0 {
		buffer = 256
	}
	return &Mirror{
		pub:            pub,
		queue:          make(chan Record, buffer),
		publishTimeout: 5 * time.Second,
		logger:         logger.With().Str("component", "mirror").Logger(),
		subs:           make(map[*room.Room]*room.Subscription),
	}
}

// Attach hooks the mirror into the registry so every room created from now
// on is mirrored until it is evicted.
func (m *Mirror) Attach(g *room.Registry) {
	g.OnCreate(m.watch)
	g.OnRemove(m.unwatch)
}

func (m *Mirror) watch(r *room.Room) {
	name := r.Name()
	sub := r.Subscribe(room.Listeners{
		Message: func(payload json.RawMessage) {
			m.enqueue(Record{Room: name, Event: EventMessage, Data: payload})
		},
		Join: func(userID string) {
			m.enqueue(Record{Room: name, Event: EventJoin, User: userID})
		},
		Exit: func(userID string) {
			m.enqueue(Record{Room: name, Event: EventExit, User: userID})
		},
	})

	m.mu.Lock()
	m.subs[r] = sub
	m.mu.Unlock()
}

func (m *Mirror) unwatch(r *room.Room) {
	m.mu.Lock()
	sub, ok := m.subs[r]
	delete(m.subs, r)
	m.mu.Unlock()

	if ok {
		sub.Cancel()
	}
}

// Watched returns the number of rooms currently mirrored.
func (m *Mirror) Watched() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Mirror) enqueue(rec Record) {
	rec.At = time.Now().UTC()
	select {
	case m.queue <- rec:
	default:
		m.logger.Warn().Str("room", rec.Room).Str("event", rec.Event).Msg("Mirror queue full; dropping event")
	}
}

// Run publishes queued records until ctx is cancelled, then flushes what is
// already queued and returns.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case rec := <-m.queue:
			m.publish(rec)
		case <-ctx.Done():
			m.flush()
			return
		}
	}
}

func (m *Mirror) flush() {
	for {
		select {
		case rec := <-m.queue:
			m.publish(rec)
		default:
			return
		}
	}
}

func (m *Mirror) publish(rec Record) {
	body, err := json.Marshal(rec)
	if err != nil {
		m.logger.Error().Err(err).Str("room", rec.Room).Msg("Cannot encode mirror record")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.publishTimeout)
	defer cancel()

	if err := m.pub.Publish(ctx, rec.Key(), body); err != nil {
		m.logger.Error().Err(err).Str("key", rec.Key()).Msg("Cannot publish mirror record")
	}
}

// Close releases the publisher.
func (m *Mirror) Close() error {
	return m.pub.Close()
}
