/*
Package session owns the persistent connection identity of the logged-in user.

Connecting dials the transport and immediately announces presence (userLogin). The announcement
is repeated after every transport-level reconnect so the server's presence view never goes
stale, and Disconnect announces logout before tearing the channel down. While the channel is
down every outbound call fails fast with ErrNotConnected and nothing reaches the network.
*/
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"messenger/internal/app/chat"
	"messenger/internal/pkg/errs"
	"messenger/internal/pkg/logx"
)

// Handler receives transport callbacks. Implementations must not block.
type Handler interface {
	// HandleEnvelope is called for every inbound frame that is not a request reply.
	HandleEnvelope(env chat.Envelope)

	// HandleReconnect is called after a dropped channel is re-established and before
	// any frame from the new connection is delivered.
	HandleReconnect()

	// HandleDisconnect is called when the channel drops.
	HandleDisconnect(err error)
}

// Transport is the persistent channel collaborator.
type Transport interface {
	SetHandler(h Handler)
	Dial(ctx context.Context) error
	Emit(event string, data any) error
	Request(event string, data any, reply func(chat.Envelope, error)) error
	Close() error
}

// Session announces presence for one identity over a Transport.
type Session struct {
	transport Transport

	// limiter throttles outgoing chat messages.
	limiter *rate.Limiter

	// mu protects identity and connected.
	mu        sync.RWMutex
	identity  string
	connected bool

	logger zerolog.Logger
}

// New constructs a Session. A nil limiter disables send throttling.
func New(transport Transport, limiter *rate.Limiter) *Session {
	return &Session{
		transport: transport,
		limiter:   limiter,
		logger:    logx.Component("ConnectionSession"),
	}
}

// Connect establishes the channel and announces presence as identity.
func (s *Session) Connect(ctx context.Context, identity string) error {
	if identity == "" {
		return errs.NewError(errs.ErrInvalidUsername)
	}

	if err := s.transport.Dial(ctx); err != nil {
		s.logger.Error().Err(err).Str("identity", identity).Msg("Channel could not be established.")
		return fmt.Errorf("%w: %v", errs.NewError(errs.ErrNotConnected), err)
	}

	s.mu.Lock()
	s.identity = identity
	s.connected = true
	s.mu.Unlock()

	if err := s.Announce(); err != nil {
		s.markDropped()
		return err
	}
	return nil
}

// Announce (re)sends userLogin for the session identity.
func (s *Session) Announce() error {
	s.mu.RLock()
	identity := s.identity
	s.mu.RUnlock()

	if err := s.emit(chat.EventUserLogin, identity); err != nil {
		s.logger.Warn().Err(err).Str("identity", identity).Msg("Presence announcement failed.")
		return err
	}

	s.logger.Info().Str("identity", identity).Msg("Presence announced.")
	return nil
}

// Reconnected marks the channel usable again and re-announces presence.
func (s *Session) Reconnected() error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()

	s.logger.Info().Msg("Channel re-established.")
	if err := s.Announce(); err != nil {
		s.markDropped()
		return err
	}
	return nil
}

// Dropped marks the channel unusable until the transport reconnects.
func (s *Session) Dropped(err error) {
	s.markDropped()
	s.logger.Warn().Err(err).Msg("Channel dropped.")
}

func (s *Session) markDropped() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

// Disconnect announces logout and tears the channel down.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	wasConnected := s.connected
	identity := s.identity
	s.mu.Unlock()

	if wasConnected && identity != "" {
		if err := s.transport.Emit(chat.EventUserLogout, identity); err != nil {
			s.logger.Warn().Err(err).Msg("Logout announcement failed.")
		}
	}

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	if err := s.transport.Close(); err != nil {
		return fmt.Errorf("close channel: %w", err)
	}

	s.logger.Info().Msg("Session disconnected.")
	return nil
}

// Identity returns the announced identity.
func (s *Session) Identity() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Connected reports whether the channel is currently usable.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// SendMessage transmits msg, subject to the send throttle.
func (s *Session) SendMessage(msg chat.Message) error {
	if s.limiter != nil && !s.limiter.Allow() {
		return errs.NewError(errs.ErrRateLimitExceeded)
	}
	return s.emit(chat.EventSendMessage, msg)
}

// CreateGroup asks the server to create a group.
func (s *Session) CreateGroup(req chat.CreateGroupRequest) error {
	return s.emit(chat.EventCreateGroup, req)
}

// FetchMessages requests the ordered history of a conversation. reply runs on the
// transport's goroutine once the correlated response (or a failure) arrives.
func (s *Session) FetchMessages(req chat.FetchRequest, reply func(chat.Envelope, error)) error {
	if !s.Connected() {
		return errs.NewError(errs.ErrNotConnected)
	}
	return s.transport.Request(chat.EventFetchMessages, req, reply)
}

func (s *Session) emit(event string, data any) error {
	if !s.Connected() {
		return errs.NewError(errs.ErrNotConnected)
	}
	return s.transport.Emit(event, data)
}
