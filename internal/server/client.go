// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/internal/room"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Client is the WebSocket variant of a room stream. It is the relay.Sink of
// its session: room events are encoded as frames and queued on send, and
// text frames read from the peer are posted to the room.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	registry       *room.Registry
	session        *relay.Session
	roomName       string
	addr           string
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	logger         zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewClient creates a new Client instance for a connection joined to
// roomName. The client's send channel is buffered to handle message queuing.
func NewClient(conn *websocket.Conn, hub *Hub, registry *room.Registry, roomName, addr string, cfg Config, logger zerolog.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	limiter := newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval)

	return &Client{
		conn:           conn,
		send:           make(chan []byte, cfg.SendBuffer),
		hub:            hub,
		registry:       registry,
		roomName:       roomName,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    limiter,
		rateLimit:      cfg.RateLimit,
		logger:         logger.With().Str("remote", addr).Str("room", roomName).Logger(),
	}
}

// Send encodes e and queues it without blocking. A client whose buffer is
// full is disconnected.
func (c *Client) Send(e relay.Event) bool {
	frame, err := encodeFrame(e)
	if err != nil {
		c.logger.Error().Err(err).Msg("Error encoding frame")
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn().Msg("Client removed due to full send buffer")
		c.closeSendLocked()
		return false
	}
}

// closeSend closes the send channel once; the write pump then sends a close
// frame and stops.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeSendLocked()
}

func (c *Client) closeSendLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) shutdown() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Error().Err(err).Msg("Error closing client connection")
	}
}

// start registers the client with the hub and launches its pumps. It
// returns false when the hub is shutting down.
func (c *Client) start(session *relay.Session) bool {
	c.session = session
	if !c.hub.register(c, 2) {
		return false
	}

	go func() {
		defer c.hub.workerDone()
		c.writePump()
	}()
	go func() {
		defer c.hub.workerDone()
		c.readPump()
	}()
	return true
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Error().Err(err).Msg("Error setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	// Check for size limit violations
	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn().Int64("limit", c.maxMessageSize).Msg("Message exceeded maximum size")
		return true
	}

	// Check for expected close scenarios
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.logger.Info().Err(err).Msg("Client disconnected")
		return true
	}

	// Check for network errors
	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.logger.Info().Err(err).Msg("Client connection closed")
		return true
	}

	// Log unexpected errors with more context
	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		c.logger.Warn().Err(err).Msg("Unexpected WebSocket error")
		return true
	}

	// Generic error case
	c.logger.Warn().Err(err).Msg("WebSocket read error")
	return true
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.logger.Warn().
			Int("burst", c.rateLimit.Burst).
			Dur("interval", c.rateLimit.RefillInterval).
			Msg("Rate limit exceeded; discarding message")
		return false
	}
	return true
}

// processMessage validates and compacts a raw frame and posts it to the
// client's room. It returns true if the message was posted.
func (c *Client) processMessage(rawMessage []byte) bool {
	if !json.Valid(rawMessage) {
		c.logger.Warn().Msg("Invalid message: not JSON")
		return false
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, rawMessage); err != nil {
		c.logger.Warn().Err(err).Msg("Error normalizing message")
		return false
	}

	if err := relay.Post(c.registry, c.roomName, compact.Bytes()); err != nil {
		c.logger.Warn().Err(err).Msg("Message rejected")
		return false
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.session.Close()
		c.hub.unregister(c)
		c.closeSend()
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				c.logger.Error().Err(err).Msg("Error closing connection in readPump")
			}
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		// Only log unexpected connection close errors
		if !isExpectedCloseError(err) {
			c.logger.Error().Err(err).Msg("Error closing connection in writePump")
		}
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug().Err(err).Msg("Error setting write deadline")
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
	}
	return false
}

// writeTextMessage writes one event frame. Frames are never batched so each
// one stays a standalone JSON document.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Debug().Err(err).Msg("Error writing message")
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug().Err(err).Msg("Error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug().Err(err).Msg("Error writing ping message")
		return false
	}
	return true
}
