/*
Package engine assembles the client state synchronization engine for one logged-in session.

The Engine owns the connection session, the roster store, the conversation index, the active
conversation controller and the dispatch router, and serializes every mutation through a single
event loop goroutine: transport deliveries, history responses and user calls are queued on the
same channel and applied in order. Readers on other goroutines take snapshots from the stores,
and an Updates channel tells a renderer which part of the view changed.
*/
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"messenger/internal/app/active"
	"messenger/internal/app/chat"
	"messenger/internal/app/dispatch"
	"messenger/internal/app/preview"
	"messenger/internal/app/roster"
	"messenger/internal/app/session"
	"messenger/internal/app/user"
	"messenger/internal/pkg/errs"
	"messenger/internal/pkg/logx"
)

// UnknownGroupName is displayed for a selected group missing from the roster.
const UnknownGroupName = "Unknown Group"

const (
	defaultFetchTimeout = 10 * time.Second
	opQueueSize         = 256
	updateQueueSize     = 64
)

// ErrStopped is returned by calls made after Stop.
var ErrStopped = errors.New("engine stopped")

// UpdateKind names the part of the view that changed.
type UpdateKind int

const (
	UpdateUsers UpdateKind = iota + 1
	UpdateGroups
	UpdatePreviews
	UpdateConversation
	UpdateConnection
	UpdateServerError
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateUsers:
		return "users"
	case UpdateGroups:
		return "groups"
	case UpdatePreviews:
		return "previews"
	case UpdateConversation:
		return "conversation"
	case UpdateConnection:
		return "connection"
	case UpdateServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// Update notifies a renderer that part of the view changed. Err is set for UpdateServerError
// and for UpdateConnection when the channel dropped.
type Update struct {
	Kind UpdateKind
	Err  error
}

// View is a point-in-time snapshot of everything a renderer needs.
type View struct {
	Identity     string
	Connected    bool
	Users        []user.User
	Groups       []chat.Group
	Previews     map[chat.Key]chat.Message
	Conversation active.State
}

// Option configures an Engine.
type Option func(*Engine)

// WithFetchTimeout bounds how long a history fetch may stay outstanding.
func WithFetchTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.fetchTimeout = d
		}
	}
}

// WithSendLimiter throttles outgoing messages.
func WithSendLimiter(l *rate.Limiter) Option {
	return func(e *Engine) {
		e.limiter = l
	}
}

// WithClock overrides the time source used to stamp outgoing messages.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine is the client state synchronization engine of one logged-in identity.
type Engine struct {
	identity string

	session *session.Session
	index   *preview.Index
	roster  *roster.Store
	active  *active.Controller
	router  *dispatch.Router

	fetchTimeout time.Duration
	limiter      *rate.Limiter
	now          func() time.Time

	ops     chan func()
	updates chan Update
	done    chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// updatesMu guards sends on updates against its close in Stop.
	updatesMu     sync.RWMutex
	updatesClosed bool

	logger zerolog.Logger
}

// New wires an Engine for identity on top of transport. The transport's handler is set to
// the engine; nothing touches the network until Start.
func New(identity string, transport session.Transport, opts ...Option) *Engine {
	e := &Engine{
		identity:     identity,
		fetchTimeout: defaultFetchTimeout,
		now:          time.Now,
		ops:          make(chan func(), opQueueSize),
		updates:      make(chan Update, updateQueueSize),
		done:         make(chan struct{}),
		logger:       logx.Component("Engine").With().Str("identity", identity).Logger(),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.session = session.New(transport, e.limiter)
	e.index = preview.NewIndex()
	e.roster = roster.NewStore(e.index)
	e.active = active.NewController(identity, historyFetcher{e}, e.session, active.WithClock(e.now))
	e.router = dispatch.NewRouter(e.roster, e.index, e.active)

	transport.SetHandler(e)
	return e
}

// Identity returns the logged-in username.
func (e *Engine) Identity() string {
	return e.identity
}

// Start runs the event loop and connects the session. A failed connection leaves the loop
// running, so Start may be retried.
func (e *Engine) Start(ctx context.Context) error {
	select {
	case <-e.done:
		return ErrStopped
	default:
	}

	e.startOnce.Do(func() {
		e.wg.Add(1)
		go e.run()
	})

	if err := e.session.Connect(ctx, e.identity); err != nil {
		e.publish(Update{Kind: UpdateConnection, Err: err})
		return err
	}

	e.publish(Update{Kind: UpdateConnection})
	return nil
}

// Stop announces logout, closes the channel and terminates the event loop.
func (e *Engine) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		err = e.session.Disconnect()
		close(e.done)
		e.wg.Wait()

		e.updatesMu.Lock()
		e.updatesClosed = true
		close(e.updates)
		e.updatesMu.Unlock()

		e.logger.Info().Msg("Engine stopped.")
	})
	return err
}

// Updates delivers change notifications. Notifications are coalescing hints: when the
// consumer falls behind, extra notifications are dropped and the next View is still current.
// The channel is closed by Stop.
func (e *Engine) Updates() <-chan Update {
	return e.updates
}

func (e *Engine) run() {
	defer e.wg.Done()

	for {
		select {
		case op := <-e.ops:
			op()
		case <-e.done:
			return
		}
	}
}

// post queues fn on the event loop. It reports false once the engine is stopped.
func (e *Engine) post(fn func()) bool {
	select {
	case <-e.done:
		return false
	default:
	}

	select {
	case e.ops <- fn:
		return true
	case <-e.done:
		return false
	}
}

// exec runs fn on the event loop and waits for its result.
func (e *Engine) exec(fn func() error) error {
	result := make(chan error, 1)
	if !e.post(func() { result <- fn() }) {
		return ErrStopped
	}

	select {
	case err := <-result:
		return err
	case <-e.done:
		return ErrStopped
	}
}

func (e *Engine) publish(u Update) {
	e.updatesMu.RLock()
	defer e.updatesMu.RUnlock()

	if e.updatesClosed {
		return
	}

	select {
	case e.updates <- u:
	default:
		e.logger.Debug().Str("kind", u.Kind.String()).Msg("Update channel full, dropping notification.")
	}
}

// HandleEnvelope queues an inbound frame for routing.
func (e *Engine) HandleEnvelope(env chat.Envelope) {
	e.post(func() { e.handleEnvelope(env) })
}

// HandleReconnect queues presence re-announcement and history reconciliation. Frames from the
// new connection are queued after it.
func (e *Engine) HandleReconnect() {
	e.post(e.handleReconnect)
}

// HandleDisconnect marks the session unusable until the transport reconnects.
func (e *Engine) HandleDisconnect(err error) {
	e.post(func() {
		e.session.Dropped(err)
		e.publish(Update{Kind: UpdateConnection, Err: errs.NewError(errs.ErrNotConnected)})
	})
}

func (e *Engine) handleEnvelope(env chat.Envelope) {
	if env.Event == chat.EventError {
		var payload chat.ErrorPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			e.logger.Warn().Err(err).Msg("Discarding malformed error frame.")
			return
		}
		serverErr := errs.FromResponse(payload.Code, payload.Message)
		e.logger.Warn().Err(serverErr).Msg("Server rejected a request.")
		e.publish(Update{Kind: UpdateServerError, Err: serverErr})
		return
	}

	ev, err := e.router.Route(env)
	if err != nil {
		return
	}

	switch ev.(type) {
	case chat.UsersUpdated:
		e.publish(Update{Kind: UpdateUsers})
	case chat.GroupsUpdated:
		e.publish(Update{Kind: UpdateGroups})
	case chat.PreviewsSynced:
		e.publish(Update{Kind: UpdatePreviews})
	case chat.MessageReceived:
		e.publish(Update{Kind: UpdatePreviews})
		e.publish(Update{Kind: UpdateConversation})
	}
}

func (e *Engine) handleReconnect() {
	if err := e.session.Reconnected(); err != nil {
		e.logger.Warn().Err(err).Msg("Re-announcement after reconnect failed.")
		e.publish(Update{Kind: UpdateConnection, Err: err})
		return
	}
	e.publish(Update{Kind: UpdateConnection})

	if err := e.active.Resync(); err != nil {
		e.logger.Warn().Err(err).Msg("History reconciliation after reconnect failed.")
		return
	}
	e.publish(Update{Kind: UpdateConversation})
}

// historyFetcher adapts the session's correlated fetchMessages request to the controller.
// Replies are posted back onto the event loop, and a timer delivers a timeout failure if the
// server never answers.
type historyFetcher struct {
	e *Engine
}

func (f historyFetcher) FetchHistory(ticket active.Ticket, deliver func(active.HistoryResult) bool) error {
	e := f.e

	var once sync.Once
	finish := func(res active.HistoryResult) {
		once.Do(func() {
			e.post(func() {
				if deliver(res) || res.Err != nil {
					e.publish(Update{Kind: UpdateConversation})
				}
			})
		})
	}

	timer := time.AfterFunc(e.fetchTimeout, func() {
		finish(active.HistoryResult{
			Ticket: ticket,
			Err:    fmt.Errorf("fetch history for %s: timed out after %s", ticket.Key, e.fetchTimeout),
		})
	})

	req := chat.FetchRequest{ChatID: ticket.Key.String(), Type: ticket.Type}
	err := e.session.FetchMessages(req, func(env chat.Envelope, err error) {
		timer.Stop()
		if err != nil {
			finish(active.HistoryResult{Ticket: ticket, Err: err})
			return
		}

		history, skipped, err := chat.DecodeHistory(env.Data)
		if skipped > 0 {
			e.logger.Warn().
				Str("conversation", ticket.Key.String()).
				Int("skipped", skipped).
				Msg("Skipped malformed history entries.")
		}
		finish(active.HistoryResult{Ticket: ticket, Messages: history, Err: err})
	})
	if err != nil {
		timer.Stop()
		return err
	}
	return nil
}

// Select opens the conversation named by raw. Private keys may be given in either participant
// order; group conversations take the group id and show the roster's group name.
func (e *Engine) Select(raw string, chatType chat.ChatType) error {
	return e.exec(func() error {
		displayName := ""
		if chatType == chat.TypeGroup {
			displayName = UnknownGroupName
			if g, ok := e.roster.Group(raw); ok && g.Name != "" {
				displayName = g.Name
			}
		}

		err := e.active.Select(raw, chatType, displayName)
		e.publish(Update{Kind: UpdateConversation})
		return err
	})
}

// OpenPrivate opens the private conversation with peer.
func (e *Engine) OpenPrivate(peer string) error {
	if peer == "" || peer == e.identity {
		return errs.NewError(errs.ErrConversationKeyInvalid, peer)
	}
	return e.Select(chat.PrivateKey(e.identity, peer).String(), chat.TypePrivate)
}

// OpenGroup opens the conversation of group id.
func (e *Engine) OpenGroup(id string) error {
	return e.Select(id, chat.TypeGroup)
}

// ClearSelection closes the active conversation.
func (e *Engine) ClearSelection() error {
	return e.exec(func() error {
		e.active.Clear()
		e.publish(Update{Kind: UpdateConversation})
		return nil
	})
}

// Send transmits content to the active conversation.
func (e *Engine) Send(content string) error {
	return e.exec(func() error {
		return e.active.Send(content)
	})
}

// CreateGroup asks the server to create a group named name. The creator is always a member;
// at least one other member is required.
func (e *Engine) CreateGroup(name string, members []string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errs.NewError(errs.ErrGroupInvalid)
	}

	seen := map[string]struct{}{e.identity: {}}
	all := []string{e.identity}
	for _, m := range members {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		all = append(all, m)
	}
	if len(all) < 2 {
		return errs.NewError(errs.ErrGroupInvalid)
	}

	return e.exec(func() error {
		return e.session.CreateGroup(chat.CreateGroupRequest{Name: name, Members: all})
	})
}

// View returns a snapshot of the whole client state.
func (e *Engine) View() View {
	return View{
		Identity:     e.identity,
		Connected:    e.session.Connected(),
		Users:        e.roster.Users(),
		Groups:       e.roster.Groups(),
		Previews:     e.roster.Previews(),
		Conversation: e.active.State(),
	}
}

// Users returns the current user roster.
func (e *Engine) Users() []user.User {
	return e.roster.Users()
}

// Groups returns the current group roster.
func (e *Engine) Groups() []chat.Group {
	return e.roster.Groups()
}

// Conversation returns the active conversation.
func (e *Engine) Conversation() active.State {
	return e.active.State()
}

// PreviewFor returns the latest message of the private conversation with peer.
func (e *Engine) PreviewFor(peer string) (chat.Message, bool) {
	return e.index.Get(chat.PrivateKey(e.identity, peer))
}

// GroupPreview returns the latest message of group id.
func (e *Engine) GroupPreview(id string) (chat.Message, bool) {
	return e.index.Get(chat.GroupKey(id))
}
