/*
Package active implements the active conversation controller: the single conversation currently
open on screen and its materialized message sequence.

Selecting a conversation clears the sequence and issues a history fetch tagged with a Ticket.
Only the ticket of the latest selection (or resync) is honored; responses carrying any other
ticket are stale and dropped. Live messages for the active conversation that arrive while a
fetch is outstanding are shown immediately and re-applied on top of the fetched history, so
the sequence is always "history at selection time + everything delivered since", without gaps
or duplicates.
*/
package active

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"messenger/internal/app/chat"
	"messenger/internal/pkg/errs"
	"messenger/internal/pkg/logx"
)

// Ticket correlates a history response with the selection that requested it.
type Ticket struct {
	Key        chat.Key
	Type       chat.ChatType
	Generation uint64
}

// HistoryResult is the outcome of a history fetch.
type HistoryResult struct {
	Ticket   Ticket
	Messages []chat.Message
	Err      error
}

// Fetcher issues history requests. deliver must be called at most once per request and
// on the same goroutine that drives the controller; it reports whether the result was applied.
type Fetcher interface {
	FetchHistory(ticket Ticket, deliver func(HistoryResult) bool) error
}

// Transmitter puts an outgoing message on the channel.
type Transmitter interface {
	SendMessage(msg chat.Message) error
}

// State is a point-in-time copy of the active conversation.
type State struct {
	Key         chat.Key
	Type        chat.ChatType
	DisplayName string

	// Peer is the other participant of a private conversation.
	Peer string

	Messages []chat.Message

	// Loading is true while the history fetch for the current selection is outstanding.
	Loading bool
}

// Active reports whether a conversation is selected.
func (s State) Active() bool {
	return !s.Key.IsZero()
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source used to stamp outgoing messages.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// Controller owns the active conversation state of one logged-in session.
type Controller struct {
	// mu protects every field below it.
	mu sync.RWMutex

	identity string
	state    State

	// generation increases with every fetch issued; the outstanding ticket is pending.
	generation uint64
	pending    *Ticket

	// buffered holds live messages delivered while pending is set.
	buffered []chat.Message

	// seen indexes server ids present in state.Messages.
	seen map[string]struct{}

	fetcher Fetcher
	sender  Transmitter
	now     func() time.Time

	logger zerolog.Logger
}

// NewController constructs a Controller for identity.
func NewController(identity string, fetcher Fetcher, sender Transmitter, opts ...Option) *Controller {
	c := &Controller{
		identity: identity,
		seen:     make(map[string]struct{}),
		fetcher:  fetcher,
		sender:   sender,
		now:      time.Now,
		logger:   logx.Component("ActiveConversation").With().Str("identity", identity).Logger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Identity returns the username the controller acts for.
func (c *Controller) Identity() string {
	return c.identity
}

// Select makes (raw, chatType) the active conversation and requests its history.
// Private keys may be given from either participant's perspective.
func (c *Controller) Select(raw string, chatType chat.ChatType, displayName string) error {
	var (
		key  chat.Key
		peer string
	)

	switch chatType {
	case chat.TypePrivate:
		var err error
		peer, key, err = chat.ResolvePrivate(raw, c.identity)
		if err != nil {
			return err
		}
		if displayName == "" {
			displayName = peer
		}
	case chat.TypeGroup:
		if raw == "" {
			return errs.NewError(errs.ErrConversationKeyInvalid, raw)
		}
		key = chat.GroupKey(raw)
	default:
		return errs.NewError(errs.ErrChatTypeInvalid, string(chatType))
	}

	c.mu.Lock()
	c.state = State{
		Key:         key,
		Type:        chatType,
		DisplayName: displayName,
		Peer:        peer,
		Messages:    []chat.Message{},
	}
	c.seen = make(map[string]struct{})
	ticket := c.beginFetchLocked()
	c.mu.Unlock()

	c.logger.Info().
		Str("conversation", key.String()).
		Str("type", string(chatType)).
		Uint64("generation", ticket.Generation).
		Msg("Conversation selected.")

	return c.issue(ticket)
}

// Clear discards the selection. An outstanding fetch loses its effect.
func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = State{}
	c.pending = nil
	c.buffered = nil
	c.seen = make(map[string]struct{})
}

// Resync re-requests the history of the active conversation, keeping the current sequence
// visible until the response arrives. It is a no-op without a selection.
func (c *Controller) Resync() error {
	c.mu.Lock()
	if !c.state.Active() {
		c.mu.Unlock()
		return nil
	}
	ticket := c.beginFetchLocked()
	c.mu.Unlock()

	c.logger.Info().
		Str("conversation", ticket.Key.String()).
		Uint64("generation", ticket.Generation).
		Msg("Resyncing active conversation history.")

	return c.issue(ticket)
}

// beginFetchLocked opens a new fetch generation. Caller holds c.mu.
func (c *Controller) beginFetchLocked() Ticket {
	c.generation++
	ticket := Ticket{Key: c.state.Key, Type: c.state.Type, Generation: c.generation}
	c.pending = &ticket
	c.buffered = nil
	c.state.Loading = true
	return ticket
}

func (c *Controller) issue(ticket Ticket) error {
	if err := c.fetcher.FetchHistory(ticket, c.ApplyHistory); err != nil {
		c.mu.Lock()
		if c.pending != nil && *c.pending == ticket {
			c.pending = nil
			c.buffered = nil
			c.state.Loading = false
		}
		c.mu.Unlock()

		c.logger.Warn().Err(err).Str("conversation", ticket.Key.String()).Msg("History fetch could not be issued.")
		return fmt.Errorf("fetch history for %s: %w", ticket.Key, err)
	}
	return nil
}

// ApplyHistory installs a fetched history if res belongs to the outstanding fetch.
// It reports whether the result was applied.
func (c *Controller) ApplyHistory(res HistoryResult) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil || *c.pending != res.Ticket {
		c.logger.Debug().
			Str("conversation", res.Ticket.Key.String()).
			Uint64("generation", res.Ticket.Generation).
			Msg("Discarding stale history response.")
		return false
	}

	buffered := c.buffered
	c.pending = nil
	c.buffered = nil
	c.state.Loading = false

	if res.Err != nil {
		c.logger.Warn().Err(res.Err).Str("conversation", res.Ticket.Key.String()).Msg("History fetch failed.")
		return false
	}

	messages := make([]chat.Message, 0, len(res.Messages)+len(buffered))
	c.seen = make(map[string]struct{})
	for _, msg := range res.Messages {
		messages = c.appendUniqueLocked(messages, msg)
	}
	for _, msg := range buffered {
		messages = c.appendUniqueLocked(messages, msg)
	}
	c.state.Messages = messages

	c.logger.Debug().
		Str("conversation", res.Ticket.Key.String()).
		Int("history", len(res.Messages)).
		Int("replayed_live", len(buffered)).
		Msg("History applied.")
	return true
}

// Receive appends msg to the sequence if it belongs to the active conversation.
// It reports whether the message was taken.
func (c *Controller) Receive(msg chat.Message) bool {
	if err := msg.Validate(); err != nil {
		c.logger.Warn().Err(err).Msg("Rejecting malformed live message.")
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Active() || msg.Type() != c.state.Type || msg.Key() != c.state.Key {
		return false
	}

	if c.pending != nil {
		c.buffered = append(c.buffered, msg)
	}

	before := len(c.state.Messages)
	c.state.Messages = c.appendUniqueLocked(c.state.Messages, msg)
	return len(c.state.Messages) > before
}

// appendUniqueLocked appends msg unless an equal message is already present.
func (c *Controller) appendUniqueLocked(seq []chat.Message, msg chat.Message) []chat.Message {
	if msg.ID != "" {
		if _, dup := c.seen[msg.ID]; dup {
			return seq
		}
		c.seen[msg.ID] = struct{}{}
		return append(seq, msg)
	}

	for i := len(seq) - 1; i >= 0; i-- {
		if seq[i].SameAs(msg) {
			return seq
		}
	}
	return append(seq, msg)
}

// Send builds a message for the active conversation and transmits it. The message is not
// appended locally; it comes back through the inbound path like any other.
func (c *Controller) Send(content string) error {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()

	if !state.Active() {
		return errs.NewError(errs.ErrNoActiveConversation)
	}
	if err := chat.ValidateContent(content); err != nil {
		return err
	}

	msg := chat.Message{
		Sender:  c.identity,
		Content: content,
		Time:    c.now().UTC(),
	}
	if state.Type == chat.TypeGroup {
		msg.GroupID = state.Key.String()
	} else {
		msg.Receiver = state.Peer
	}

	if err := c.sender.SendMessage(msg); err != nil {
		return fmt.Errorf("send to %s: %w", state.Key, err)
	}
	return nil
}

// State returns a copy of the active conversation.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := c.state
	out.Messages = make([]chat.Message, len(c.state.Messages))
	copy(out.Messages, c.state.Messages)
	return out
}
