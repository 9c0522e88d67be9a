// Package server tracks live streaming connections through the Hub type so
// they can be closed and awaited on shutdown.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// stream is a live connection owned by the hub: an SSE response or a
// WebSocket client.
type stream interface {
	// shutdown asks the connection to terminate. It must be safe to call
	// more than once and from any goroutine.
	shutdown()
}

// Hub keeps the set of live streams and the goroutines serving them.
// Room state lives in the registry; the hub only knows about connections.
type Hub struct {
	streams map[stream]struct{}
	mutex   sync.Mutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	logger  zerolog.Logger
}

// NewHub creates and initializes a new Hub instance.
func NewHub(logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		streams: make(map[stream]struct{}),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// register adds st to the hub along with the number of goroutines that
// will serve it; each of them must call workerDone when it returns. It
// returns false once shutdown has begun, in which case the caller must not
// serve the stream.
func (h *Hub) register(st stream, workers int) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.ctx.Err() != nil {
		return false
	}

	h.streams[st] = struct{}{}
	h.wg.Add(workers)
	h.logger.Debug().Int("streams", len(h.streams)).Msg("Stream registered")
	return true
}

func (h *Hub) unregister(st stream) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.streams[st]; ok {
		delete(h.streams, st)
		h.logger.Debug().Int("streams", len(h.streams)).Msg("Stream unregistered")
	}
}

func (h *Hub) workerDone() {
	h.wg.Done()
}

// Done is closed when shutdown begins.
func (h *Hub) Done() <-chan struct{} {
	return h.ctx.Done()
}

// Count returns the number of live streams.
func (h *Hub) Count() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.streams)
}

// shutdownStreams asks every live stream to terminate.
func (h *Hub) shutdownStreams() {
	h.logger.Info().Msg("Shutting down all client connections...")

	h.mutex.Lock()
	streams := make([]stream, 0, len(h.streams))
	for st := range h.streams {
		streams = append(streams, st)
	}
	h.mutex.Unlock()

	for _, st := range streams {
		st.shutdown()
	}

	h.logger.Info().Int("count", len(streams)).Msg("Closed client connections")
}

// Shutdown initiates graceful shutdown of the hub and waits for all stream
// goroutines to complete. It returns after every connection has been torn
// down, or context.DeadlineExceeded when the timeout is reached first.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info().Msg("Initiating hub shutdown...")

	h.mutex.Lock()
	h.cancel()
	h.mutex.Unlock()

	h.shutdownStreams()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info().Msg("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.logger.Warn().Msg("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
