/*
Package server implements the reference relay server behind the chat client.

This file defines the Hub, the single event loop of the server. It owns the set of connections
and the presence map, and handles every client frame in arrival order: presence announcements,
message routing, group creation and history requests.
*/
package server

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"messenger/internal/app/chat"
	"messenger/internal/app/user"
	"messenger/internal/pkg/errs"
	"messenger/internal/pkg/limiter"
	"messenger/internal/pkg/logx"
	"messenger/internal/pkg/randx"
	"messenger/internal/server/store"
)

const (
	inboundBuffer = 1024

	// opTimeout bounds every store call made while handling one frame.
	opTimeout = 5 * time.Second
)

type inbound struct {
	conn *Conn
	env  chat.Envelope
}

// Hub is the central event loop of the relay server.
type Hub struct {
	store store.Store

	// sendLimiter throttles sendMessage per username; nil disables throttling.
	sendLimiter *limiter.KeyedRateLimiter

	// conns holds every registered connection.
	conns map[*Conn]struct{}

	// online maps an announced username to its connections.
	online map[string]map[*Conn]struct{}

	// mu protects online for readers outside the loop.
	mu sync.RWMutex

	register   chan *Conn
	unregister chan *Conn
	inbound    chan inbound
	done       chan struct{}

	logger zerolog.Logger
}

// NewHub constructs a Hub over st.
func NewHub(st store.Store, sendLimiter *limiter.KeyedRateLimiter) *Hub {
	return &Hub{
		store:       st,
		sendLimiter: sendLimiter,
		conns:       make(map[*Conn]struct{}),
		online:      make(map[string]map[*Conn]struct{}),
		register:    make(chan *Conn),
		unregister:  make(chan *Conn),
		inbound:     make(chan inbound, inboundBuffer),
		done:        make(chan struct{}),
		logger:      logx.Component("RelayHub"),
	}
}

// Run processes connection lifecycle events and client frames until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.conns {
			close(c.send)
		}
		h.logger.Info().Msg("Hub Run loop finished.")
	}()

	for {
		select {
		case c := <-h.register:
			h.conns[c] = struct{}{}
			h.logger.Debug().Int("connections", len(h.conns)).Msg("Connection registered.")

		case c := <-h.unregister:
			if _, ok := h.conns[c]; !ok {
				continue
			}
			delete(h.conns, c)
			close(c.send)

			if c.identity != "" {
				h.goOffline(ctx, c)
			}
			h.logger.Debug().Int("connections", len(h.conns)).Msg("Connection unregistered.")

		case in := <-h.inbound:
			if _, ok := h.conns[in.conn]; !ok {
				continue
			}
			h.handle(ctx, in.conn, in.env)

		case <-ctx.Done():
			return
		}
	}
}

// Register adds c to the hub. It reports false once the hub has stopped.
func (h *Hub) Register(c *Conn) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes c from the hub.
func (h *Hub) Unregister(c *Conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) submit(in inbound) bool {
	select {
	case h.inbound <- in:
		return true
	case <-h.done:
		return false
	}
}

// IsOnline reports whether username holds at least one announced connection.
func (h *Hub) IsOnline(username string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.online[username]) > 0
}

func (h *Hub) handle(ctx context.Context, c *Conn, env chat.Envelope) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var err error
	switch env.Event {
	case chat.EventUserLogin:
		err = h.handleLogin(opCtx, c, env)
	case chat.EventUserLogout:
		err = h.handleLogout(opCtx, c, env)
	case chat.EventSendMessage:
		err = h.handleSendMessage(opCtx, c, env)
	case chat.EventFetchMessages:
		err = h.handleFetchMessages(opCtx, c, env)
	case chat.EventCreateGroup:
		err = h.handleCreateGroup(opCtx, c, env)
	default:
		err = errs.NewError(errs.ErrEventUnknown, env.Event)
	}

	if err != nil {
		c.logger.Warn().Err(err).Str("event", env.Event).Msg("Rejected client frame.")
		c.sendError(env.Ack, err)
	}
}

func (h *Hub) handleLogin(ctx context.Context, c *Conn, env chat.Envelope) error {
	var username string
	if err := json.Unmarshal(env.Data, &username); err != nil || !user.ValidUsername(username) {
		return errs.NewError(errs.ErrInvalidUsername)
	}

	if c.boundUser != "" && c.boundUser != username {
		return errs.NewError(errs.ErrUnauthorized)
	}

	exists, err := h.store.UserExists(ctx, username)
	if err != nil {
		return err
	}
	if !exists {
		return errs.NewError(errs.ErrUnauthorized)
	}

	if c.identity != "" && c.identity != username {
		h.goOffline(ctx, c)
	}

	c.identity = username
	c.logger = c.logger.With().Str("identity", username).Logger()

	h.mu.Lock()
	if h.online[username] == nil {
		h.online[username] = make(map[*Conn]struct{})
	}
	h.online[username][c] = struct{}{}
	h.mu.Unlock()

	c.logger.Info().Msg("User announced presence.")

	if err := h.pushGroups(ctx, username); err != nil {
		return err
	}
	if err := h.pushLastMessages(ctx, c); err != nil {
		return err
	}
	return h.broadcastUsers(ctx)
}

func (h *Hub) handleLogout(ctx context.Context, c *Conn, env chat.Envelope) error {
	if c.identity == "" {
		return nil
	}

	var username string
	if err := json.Unmarshal(env.Data, &username); err == nil && username != "" && username != c.identity {
		return errs.NewError(errs.ErrUnauthorized)
	}

	h.goOffline(ctx, c)
	return nil
}

// goOffline drops c from the presence map and broadcasts the roster if its user went offline.
func (h *Hub) goOffline(ctx context.Context, c *Conn) {
	username := c.identity
	c.identity = ""

	h.mu.Lock()
	delete(h.online[username], c)
	offline := len(h.online[username]) == 0
	if offline {
		delete(h.online, username)
	}
	h.mu.Unlock()

	if !offline {
		return
	}

	c.logger.Info().Str("username", username).Msg("User went offline.")
	if err := h.broadcastUsers(ctx); err != nil {
		h.logger.Error().Err(err).Msg("Failed to broadcast roster after logout.")
	}
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Conn, env chat.Envelope) error {
	if c.identity == "" {
		return errs.NewError(errs.ErrUnauthorized)
	}

	var msg chat.Message
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		return errs.NewError(errs.ErrEventMalformed, env.Event)
	}
	if msg.Sender != c.identity {
		return errs.NewError(errs.ErrUnauthorized)
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := chat.ValidateContent(msg.Content); err != nil {
		return err
	}

	if h.sendLimiter != nil && !h.sendLimiter.Allow(c.identity) {
		return errs.NewError(errs.ErrRateLimitExceeded)
	}

	var recipients []string
	if msg.Type() == chat.TypeGroup {
		g, err := h.memberGroup(ctx, msg.GroupID, c.identity)
		if err != nil {
			return err
		}
		recipients = g.Members
	} else {
		exists, err := h.store.UserExists(ctx, msg.Receiver)
		if err != nil {
			return err
		}
		if !exists || msg.Receiver == msg.Sender {
			return errs.NewError(errs.ErrConversationKeyInvalid, msg.Key().String())
		}
		recipients = []string{msg.Sender, msg.Receiver}
	}

	msg.ID = randx.MessageID()
	msg.Time = msg.Time.UTC()
	if err := h.store.AppendMessage(ctx, msg); err != nil {
		return err
	}

	for _, name := range recipients {
		h.pushTo(name, chat.EventReceiveMessage, msg)
	}
	return nil
}

func (h *Hub) handleFetchMessages(ctx context.Context, c *Conn, env chat.Envelope) error {
	if c.identity == "" {
		return errs.NewError(errs.ErrUnauthorized)
	}

	var fetch chat.FetchRequest
	if err := json.Unmarshal(env.Data, &fetch); err != nil {
		return errs.NewError(errs.ErrEventMalformed, env.Event)
	}

	var key chat.Key
	switch fetch.Type {
	case chat.TypePrivate:
		_, k, err := chat.ResolvePrivate(fetch.ChatID, c.identity)
		if err != nil {
			return err
		}
		key = k
	case chat.TypeGroup:
		g, err := h.memberGroup(ctx, fetch.ChatID, c.identity)
		if err != nil {
			return err
		}
		key = chat.GroupKey(g.ID)
	default:
		return errs.NewError(errs.ErrChatTypeInvalid, string(fetch.Type))
	}

	history, err := h.store.History(ctx, key)
	if err != nil {
		return err
	}

	c.reply(env.Ack, history)
	return nil
}

// memberGroup loads group id and checks that username belongs to it.
func (h *Hub) memberGroup(ctx context.Context, id, username string) (chat.Group, error) {
	if !randx.IsValidID(id) {
		return chat.Group{}, errs.NewError(errs.ErrGroupNotFound)
	}

	g, err := h.store.Group(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return chat.Group{}, errs.NewError(errs.ErrGroupNotFound)
		}
		return chat.Group{}, err
	}
	if !g.HasMember(username) {
		return chat.Group{}, errs.NewError(errs.ErrConversationKeyInvalid, id)
	}
	return g, nil
}

func (h *Hub) handleCreateGroup(ctx context.Context, c *Conn, env chat.Envelope) error {
	if c.identity == "" {
		return errs.NewError(errs.ErrUnauthorized)
	}

	var create chat.CreateGroupRequest
	if err := json.Unmarshal(env.Data, &create); err != nil {
		return errs.NewError(errs.ErrEventMalformed, env.Event)
	}

	name := strings.TrimSpace(create.Name)
	members := []string{c.identity}
	seen := map[string]struct{}{c.identity: {}}
	for _, m := range create.Members {
		if _, dup := seen[m]; dup {
			continue
		}
		exists, err := h.store.UserExists(ctx, m)
		if err != nil {
			return err
		}
		if !exists {
			return errs.NewError(errs.ErrGroupInvalid)
		}
		seen[m] = struct{}{}
		members = append(members, m)
	}
	if name == "" || len(members) < 2 {
		return errs.NewError(errs.ErrGroupInvalid)
	}

	g := chat.Group{ID: randx.GroupID(), Name: name, Members: members}
	if err := h.store.CreateGroup(ctx, g); err != nil {
		return err
	}

	c.logger.Info().Str("group_id", g.ID).Int("members", len(members)).Msg("Group created.")

	for _, m := range members {
		if err := h.pushGroups(ctx, m); err != nil {
			return err
		}
	}
	if env.Ack != "" {
		c.reply(env.Ack, g)
	}
	return nil
}

// broadcastUsers sends the full roster with presence to every announced connection.
func (h *Hub) broadcastUsers(ctx context.Context) error {
	names, err := h.store.Usernames(ctx)
	if err != nil {
		return err
	}

	h.mu.RLock()
	users := make([]user.User, 0, len(names))
	for _, name := range names {
		users = append(users, user.User{Username: name, Online: len(h.online[name]) > 0})
	}
	targets := make([]*Conn, 0, len(h.conns))
	for _, conns := range h.online {
		for c := range conns {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.emit(chat.EventUpdateUsers, users, ""); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to queue roster update.")
		}
	}
	return nil
}

// pushGroups sends username's group list to each of its connections.
func (h *Hub) pushGroups(ctx context.Context, username string) error {
	if !h.IsOnline(username) {
		return nil
	}

	groups, err := h.store.GroupsFor(ctx, username)
	if err != nil {
		return err
	}
	h.pushTo(username, chat.EventUpdateGroups, groups)
	return nil
}

// pushLastMessages sends the conversation previews of c's user to c.
func (h *Hub) pushLastMessages(ctx context.Context, c *Conn) error {
	latest, err := h.store.LastMessages(ctx, c.identity)
	if err != nil {
		return err
	}

	mapping := make(map[string]chat.Message, len(latest))
	for key, msg := range latest {
		mapping[key.String()] = msg
	}

	if err := c.emit(chat.EventUpdateLastMessages, mapping, ""); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to queue preview sync.")
	}
	return nil
}

// pushTo emits an event to every connection of username.
func (h *Hub) pushTo(username, event string, data any) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.online[username]))
	for c := range h.online[username] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.emit(event, data, ""); err != nil {
			c.logger.Warn().Err(err).Str("event", event).Msg("Failed to queue event.")
		}
	}
}

// OnlineUsernames returns the announced usernames in ascending order.
func (h *Hub) OnlineUsernames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.online))
	for name := range h.online {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
