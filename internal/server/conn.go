/*
Package server implements the reference relay server behind the chat client: a Hub that tracks
presence, routes messages between participants and answers history requests, and the per-socket
Conn that feeds it.

This file defines the Conn struct, representing one upgraded WebSocket. It runs the ReadPump and
WritePump loops and queues outbound envelopes; all protocol decisions are made by the Hub.
*/
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"messenger/internal/app/chat"
	"messenger/internal/pkg/errs"
	"messenger/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxMessageSize = 16384

	// capacity of the outbound queue of one connection.
	sendBuffer = 256
)

// Conn represents an active WebSocket connection to a chat client.
type Conn struct {
	hub *Hub

	// underlying WebSocket connection object.
	ws *websocket.Conn

	// boundUser is the username proven by a bearer token at upgrade time, or "" when the
	// connection is unauthenticated.
	boundUser string

	// identity is the username announced with userLogin. Only the hub goroutine touches it.
	identity string

	// a buffered channel used to queue frames waiting to be sent to the client.
	// Only the hub goroutine sends on or closes it.
	send chan []byte

	// structured logger with connection context.
	logger zerolog.Logger
}

// NewConn constructs a Conn for an upgraded socket.
func NewConn(hub *Hub, ws *websocket.Conn, boundUser, remote string) *Conn {
	return &Conn{
		hub:       hub,
		ws:        ws,
		boundUser: boundUser,
		send:      make(chan []byte, sendBuffer),
		logger: logx.Component("RelayConn").With().
			Str("remote", remote).
			Str("bound_user", boundUser).
			Logger(),
	}
}

// ReadPump reads frames from the socket and hands them to the hub until the socket fails.
func (c *Conn) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.ws.SetReadLimit(maxMessageSize)

	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading frame (client close/going away)")
			}
			return
		}

		var env chat.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.logger.Warn().Err(err).Bytes("frame", frame).Msg("Client sent invalid JSON")
			continue
		}

		if !c.hub.submit(inbound{conn: c, env: env}) {
			return
		}
	}
}

// cleanupOnDisconnect handles the necessary cleanup steps when ReadPump terminates.
func (c *Conn) cleanupOnDisconnect() {
	c.hub.Unregister(c)

	if err := c.ws.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Connection close error")
	}
}

// WritePump writes queued frames and heartbeats until the hub closes the send queue.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.ws.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !c.writeQueuedFrame(frame, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePing() {
				return
			}
		}
	}
}

// writeQueuedFrame reports whether the WritePump loop should continue.
func (c *Conn) writeQueuedFrame(frame []byte, ok bool) bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.ws.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Warn().Err(err).Msg("Error writing frame")
		return false
	}

	return true
}

func (c *Conn) writePing() bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// emit marshals an envelope and queues it. Called on the hub goroutine only.
func (c *Conn) emit(event string, data any, ack string) error {
	env, err := chat.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	env.Ack = ack

	frame, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode %s envelope: %w", event, err)
	}

	select {
	case c.send <- frame:
		return nil
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Str("event", event).Msg("Send queue full, dropping frame")
		return fmt.Errorf("send queue full")
	}
}

// reply answers a request carrying correlation token ack.
func (c *Conn) reply(ack string, data any) {
	if err := c.emit(chat.EventAck, data, ack); err != nil {
		c.logger.Error().Err(err).Str("ack", ack).Msg("Failed to queue reply")
	}
}

// sendError reports err to the client, correlated with ack when the failed frame was a request.
func (c *Conn) sendError(ack string, err error) {
	var customErr *errs.CustomError
	if !errors.As(err, &customErr) {
		c.logger.Error().Err(err).Msg("Internal error while handling frame")
		customErr = errs.NewError(errs.ErrUnknown)
	}

	payload := chat.ErrorPayload{Code: customErr.Code, Message: customErr.Message}
	if err := c.emit(chat.EventError, payload, ack); err != nil {
		c.logger.Error().Err(err).Msg("Failed to queue error frame")
	}
}
