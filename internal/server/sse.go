package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

// sseStream is the relay.Sink of one text/event-stream response. Events are
// queued by room listeners and written by the handler goroutine, which is
// the only writer of the response.
type sseStream struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	events chan relay.Event
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newSSEStream(w http.ResponseWriter, buffer int, logger zerolog.Logger) *sseStream {
	return &sseStream{
		w:      w,
		rc:     http.NewResponseController(w),
		events: make(chan relay.Event, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Send queues e without blocking. A full queue means the client cannot keep
// up; the stream is then terminated, as the hub did for slow WebSocket
// clients.
func (s *sseStream) Send(e relay.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.events <- e:
		return true
	default:
		s.logger.Warn().Msg("Stream removed due to full send buffer")
		s.closeLocked()
		return false
	}
}

func (s *sseStream) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *sseStream) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

// writeHeaders starts the event stream. Streams are long-lived, so the
// server's read and write timeouts are lifted for this response.
func (s *sseStream) writeHeaders() error {
	if err := s.rc.SetReadDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Debug().Err(err).Msg("Cannot clear read deadline")
	}
	if err := s.rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Debug().Err(err).Msg("Cannot clear write deadline")
	}

	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	return s.rc.Flush()
}

// run writes queued events until the client goes away, the stream is shut
// down, or a write fails. keepAlive, when positive, is the interval of
// comment lines that keep idle proxies from dropping the connection.
func (s *sseStream) run(ctx context.Context, keepAlive time.Duration) {
	var tick <-chan time.Time
	if keepAlive > 0 {
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case e := <-s.events:
			if !s.write(e) {
				return
			}
		case <-tick:
			if _, err := s.w.Write([]byte(":\n\n")); err != nil {
				return
			}
			if err := s.rc.Flush(); err != nil {
				return
			}
		case <-s.done:
			s.drain()
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *sseStream) write(e relay.Event) bool {
	if err := writeSSE(s.w, e); err != nil {
		s.logger.Debug().Err(err).Msg("Error writing event")
		return false
	}
	if err := s.rc.Flush(); err != nil {
		s.logger.Debug().Err(err).Msg("Error flushing event")
		return false
	}
	return true
}

// drain writes what is already queued before the stream ends.
func (s *sseStream) drain() {
	for {
		select {
		case e := <-s.events:
			if !s.write(e) {
				return
			}
		default:
			return
		}
	}
}
