/*
Package chat contains the presence and fanout core.

This file defines the Client struct, the WebSocket transport for one
connection. It runs the read and write pumps, enforces heartbeats and size
limits, and hands inbound frames to the connection's Session.
*/
package chat

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"crapchat/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxMessageSize = 8192

	// maximum allowed size (in bytes) for message text content.
	MaxContentBytes = 5000

	// size of the per-connection outbound queue.
	sendQueueSize = 256

	// logoutSignal is the literal frame body that closes the connection.
	logoutSignal = "logout"
)

// Client is one live WebSocket connection bound to an authenticated user.
type Client struct {
	// id uniquely identifies this connection within the process.
	id string

	// userID is the authenticated owner, fixed for the connection lifetime.
	userID int64

	// underlying WebSocket connection object.
	conn *websocket.Conn

	// buffered channel of serialized messages waiting to be written.
	send chan []byte

	// closeOnce guards the send channel close.
	closeOnce sync.Once

	// structured logger with connection context.
	logger zerolog.Logger
}

// NewClient wraps a WebSocket connection for the given user.
func NewClient(wsConn *websocket.Conn, userID int64) *Client {
	id := uuid.New().String()

	clientLogger := logx.Logger().With().
		Str("conn_id", id).
		Int64("user_id", userID).
		Logger()

	return &Client{
		id:     id,
		userID: userID,
		conn:   wsConn,
		send:   make(chan []byte, sendQueueSize),
		logger: clientLogger,
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string { return c.id }

// UserID returns the authenticated owner of the connection.
func (c *Client) UserID() int64 { return c.userID }

// Enqueue hands a serialized message to the send queue without blocking.
// A full queue drops the message and returns an error; the write pump and
// the client's reconnect snapshot recover from the gap.
func (c *Client) Enqueue(payload []byte) error {
	select {
	case c.send <- payload:
		return nil
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send queue full, dropping message.")
		return fmt.Errorf("client send queue full")
	}
}

// Close asks the connection to shut down by closing the send queue; the
// write pump then sends a Close frame and tears the socket down, which in
// turn ends the read pump and drives the session's Disconnect.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// ReadPump reads frames from the WebSocket until the connection drops or the
// client logs out. Each frame is handed to the session; cleanup runs the full
// Disconnect sequence exactly once regardless of how the loop ends.
func (c *Client) ReadPump(session *Session) {
	defer func() {
		session.Disconnect()
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error.")
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline.")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (client close/going away).")
			}
			break
		}

		if strings.TrimSpace(string(messageBytes)) == logoutSignal {
			c.logger.Info().Msg("Client requested logout.")
			break
		}

		session.HandleInbound(messageBytes)
	}
}

// WritePump writes queued messages to the WebSocket and keeps the heartbeat
// alive with periodic Pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump.")
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.writeQueuedMessage(message, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedMessage writes one message pulled from the send queue.
// Returns false when the pump should terminate.
func (c *Client) writeQueuedMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline.")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message.")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Error().Err(err).Msg("Error writing message.")
		return false
	}

	return true
}

// writePingMessage sends a heartbeat Ping. Returns false on write failure.
func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping.")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping.")
		return false
	}

	return true
}
