/*
Package ws implements the persistent channel of the chat client over a WebSocket.

A Client keeps at most one live connection. Each connection runs a read pump and a write pump
with ping/pong heartbeats; frames are JSON envelopes. Requests that expect a reply carry a
correlation token in the envelope's ack field and are resolved by the matching ack (or error)
frame, by a timeout, or by the connection dropping.

When an established connection drops, the Client redials with capped exponential backoff. The
handler's HandleReconnect runs after the new connection is usable for writes and before its
read pump delivers the first frame.
*/
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"messenger/internal/app/chat"
	"messenger/internal/app/session"
	"messenger/internal/pkg/errs"
	"messenger/internal/pkg/logx"
	"messenger/internal/pkg/randx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time to wait for a Pong (or any frame) from the server.
	pongWait = 60 * time.Second

	// frequency at which the client sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of an inbound frame; history replies can be large.
	maxMessageSize = 1 << 20

	// capacity of the outbound queue of one connection.
	sendBuffer = 256

	defaultRequestTimeout = 10 * time.Second
	defaultReconnectBase  = 500 * time.Millisecond
	defaultReconnectCap   = 30 * time.Second
)

// ErrClosed is returned by Dial after Close.
var ErrClosed = errors.New("transport closed")

// Config configures a Client.
type Config struct {
	// URL is the ws:// or wss:// endpoint of the channel.
	URL string

	// Token, when set, is sent as a bearer Authorization header on every dial.
	Token string

	ReconnectBase time.Duration
	ReconnectCap  time.Duration

	// MaxRetries bounds reconnection attempts after a drop; 0 retries forever.
	MaxRetries uint64

	// RequestTimeout bounds how long a request waits for its reply.
	RequestTimeout time.Duration

	// Dialer overrides websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// link is one established connection together with its outbound queue.
type link struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (l *link) stop() {
	l.once.Do(func() { close(l.done) })
}

type pendingRequest struct {
	reply func(chat.Envelope, error)
	timer *time.Timer
}

// Client is a reconnecting WebSocket transport.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	// mu protects every field below it.
	mu      sync.Mutex
	handler session.Handler
	current *link
	pending map[string]*pendingRequest
	dialed  bool
	closed  bool
	closing chan struct{}

	wg sync.WaitGroup

	logger zerolog.Logger
}

// NewClient constructs a Client. Nothing is dialed until Dial.
func NewClient(cfg Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = defaultReconnectBase
	}
	if cfg.ReconnectCap < cfg.ReconnectBase {
		cfg.ReconnectCap = max(defaultReconnectCap, cfg.ReconnectBase)
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	return &Client{
		cfg:     cfg,
		dialer:  dialer,
		pending: make(map[string]*pendingRequest),
		closing: make(chan struct{}),
		logger:  logx.Component("WSTransport").With().Str("url", cfg.URL).Logger(),
	}
}

// SetHandler installs the receiver of inbound frames and connection events.
func (c *Client) SetHandler(h session.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Dial establishes a connection. Later drops are repaired automatically; once reconnection
// gives up, Dial opens a new connection again.
func (c *Client) Dial(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.dialed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	l, err := c.open(ctx)
	if err != nil {
		return err
	}

	if !c.attach(l, true) {
		return ErrClosed
	}

	c.wg.Add(1)
	go c.supervise(l)

	c.logger.Info().Msg("Channel established.")
	return nil
}

// Emit queues a fire-and-forget frame.
func (c *Client) Emit(event string, data any) error {
	env, err := chat.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	return c.enqueue(env)
}

// Request queues a frame carrying a fresh correlation token. reply is invoked exactly once,
// on a transport goroutine, with the reply envelope or an error.
func (c *Client) Request(event string, data any, reply func(chat.Envelope, error)) error {
	env, err := chat.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	env.Ack = randx.RequestID()

	req := &pendingRequest{reply: reply}

	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return errs.NewError(errs.ErrNotConnected)
	}
	req.timer = time.AfterFunc(c.cfg.RequestTimeout, func() {
		if r := c.takePending(env.Ack); r != nil {
			c.logger.Warn().Str("event", event).Str("ack", env.Ack).Msg("Request timed out.")
			r.reply(chat.Envelope{}, fmt.Errorf("%s request timed out after %s", event, c.cfg.RequestTimeout))
		}
	})
	c.pending[env.Ack] = req
	c.mu.Unlock()

	if err := c.enqueue(env); err != nil {
		if r := c.takePending(env.Ack); r != nil {
			r.timer.Stop()
		}
		return err
	}
	return nil
}

// Close shuts the channel down for good. Queued frames are flushed before the close frame.
// It must not be called from a handler callback.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closing)
	l := c.current
	c.current = nil
	c.mu.Unlock()

	if l != nil {
		l.stop()
	}
	c.failPending()

	c.wg.Wait()
	c.logger.Info().Msg("Channel closed.")
	return nil
}

func (c *Client) enqueue(env chat.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode %s envelope: %w", env.Event, err)
	}

	c.mu.Lock()
	l := c.current
	c.mu.Unlock()

	if l == nil {
		return errs.NewError(errs.ErrNotConnected)
	}

	select {
	case <-l.done:
		return errs.NewError(errs.ErrNotConnected)
	default:
	}

	select {
	case l.send <- payload:
		return nil
	case <-l.done:
		return errs.NewError(errs.ErrNotConnected)
	default:
		c.logger.Warn().Int("queue_len", len(l.send)).Str("event", env.Event).Msg("Send queue full, dropping frame.")
		return fmt.Errorf("send queue full, %s dropped", env.Event)
	}
}

// open dials one connection and starts its write pump.
func (c *Client) open(ctx context.Context) (*link, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (HTTP %d)", c.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	l := &link{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	c.wg.Add(1)
	go c.writePump(l)

	return l, nil
}

// attach makes l the current connection unless the client was closed meanwhile.
func (c *Client) attach(l *link, first bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		l.stop()
		return false
	}
	c.current = l
	if first {
		c.dialed = true
	}
	return true
}

// abandon lets the next Dial open a fresh connection after reconnection gave up.
func (c *Client) abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialed = false
}

// detach clears l if it is still current.
func (c *Client) detach(l *link) {
	c.mu.Lock()
	if c.current == l {
		c.current = nil
	}
	c.mu.Unlock()
}

func (c *Client) currentHandler() session.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) takePending(token string) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.pending[token]
	if !ok {
		return nil
	}
	delete(c.pending, token)
	return r
}

// failPending resolves every outstanding request with ErrNotConnected.
func (c *Client) failPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()

	for _, r := range pending {
		r.timer.Stop()
		r.reply(chat.Envelope{}, errs.NewError(errs.ErrNotConnected))
	}
}

// supervise runs the read pump of each successive connection and repairs drops.
func (c *Client) supervise(l *link) {
	defer c.wg.Done()

	for {
		err := c.readPump(l)
		l.stop()
		c.detach(l)
		c.failPending()

		if c.isClosed() {
			return
		}

		c.logger.Warn().Err(err).Msg("Channel dropped, reconnecting.")
		if h := c.currentHandler(); h != nil {
			h.HandleDisconnect(err)
		}

		next, err := c.reconnect()
		if err != nil {
			if !c.isClosed() {
				c.logger.Error().Err(err).Msg("Giving up on reconnection.")
			}
			c.abandon()
			return
		}
		if !c.attach(next, false) {
			return
		}

		c.logger.Info().Msg("Channel re-established.")
		if h := c.currentHandler(); h != nil {
			h.HandleReconnect()
		}
		l = next
	}
}

// reconnect redials with capped exponential backoff until success, exhaustion or Close.
func (c *Client) reconnect() (*link, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-c.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	b := retry.NewExponential(c.cfg.ReconnectBase)
	b = retry.WithCappedDuration(c.cfg.ReconnectCap, b)
	if c.cfg.MaxRetries > 0 {
		b = retry.WithMaxRetries(c.cfg.MaxRetries, b)
	}

	var (
		next    *link
		attempt int
	)
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		l, err := c.open(ctx)
		if err != nil {
			c.logger.Debug().Err(err).Int("attempt", attempt).Msg("Reconnect attempt failed.")
			return retry.RetryableError(err)
		}
		next = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// readPump reads frames from l until it fails and returns the cause.
func (c *Client) readPump(l *link) error {
	l.conn.SetReadLimit(maxMessageSize)

	if err := l.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}

	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading frame (server close/going away)")
			}
			return err
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return err
		}

		c.processInboundFrame(frame)
	}
}

func (c *Client) processInboundFrame(frame []byte) {
	var env chat.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		c.logger.Warn().Err(err).Bytes("frame", frame).Msg("Server sent invalid JSON")
		return
	}

	if env.Ack != "" && (env.Event == chat.EventAck || env.Event == chat.EventError) {
		r := c.takePending(env.Ack)
		if r == nil {
			c.logger.Debug().Str("ack", env.Ack).Msg("Reply for unknown or expired request.")
			return
		}
		r.timer.Stop()

		if env.Event == chat.EventError {
			var payload chat.ErrorPayload
			if err := json.Unmarshal(env.Data, &payload); err != nil {
				r.reply(env, errs.NewError(errs.ErrEventMalformed, env.Event))
				return
			}
			r.reply(env, errs.FromResponse(payload.Code, payload.Message))
			return
		}

		r.reply(env, nil)
		return
	}

	if h := c.currentHandler(); h != nil {
		h.HandleEnvelope(env)
	}
}

// writePump writes queued frames and heartbeats to l until it stops.
func (c *Client) writePump(l *link) {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.wg.Done()

		if err := l.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error in writePump")
		}
	}()

	for {
		select {
		case frame := <-l.send:
			if !c.writeFrame(l, websocket.TextMessage, frame) {
				l.stop()
				return
			}

		case <-ticker.C:
			if !c.writeFrame(l, websocket.PingMessage, nil) {
				l.stop()
				return
			}

		case <-l.done:
			c.flush(l)
			return
		}
	}
}

// flush drains queued frames and sends a close frame.
func (c *Client) flush(l *link) {
	for {
		select {
		case frame := <-l.send:
			if !c.writeFrame(l, websocket.TextMessage, frame) {
				return
			}
		default:
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			c.writeFrame(l, websocket.CloseMessage, closeMsg)
			return
		}
	}
}

// writeFrame reports whether the write succeeded.
func (c *Client) writeFrame(l *link, messageType int, data []byte) bool {
	if err := l.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := l.conn.WriteMessage(messageType, data); err != nil {
		c.logger.Debug().Err(err).Int("message_type", messageType).Msg("Error writing frame")
		return false
	}
	return true
}
