package engine_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger/internal/app/chat"
	"messenger/internal/app/engine"
	"messenger/internal/app/session"
	"messenger/internal/pkg/errs"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type emitted struct {
	event string
	data  any
}

type request struct {
	data  chat.FetchRequest
	reply func(chat.Envelope, error)
}

// fakeTransport records outbound traffic and lets tests push inbound frames.
type fakeTransport struct {
	mu       sync.Mutex
	handler  session.Handler
	emits    []emitted
	requests []request
	closed   bool
}

func (f *fakeTransport) SetHandler(h session.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeTransport) Dial(context.Context) error { return nil }

func (f *fakeTransport) Emit(event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emitted{event: event, data: data})
	return nil
}

func (f *fakeTransport) Request(_ string, data any, reply func(chat.Envelope, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, request{data: data.(chat.FetchRequest), reply: reply})
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) current() session.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler
}

func (f *fakeTransport) push(t *testing.T, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)

	f.current().HandleEnvelope(chat.Envelope{Event: event, Data: raw})
}

func (f *fakeTransport) events(name string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []any
	for _, e := range f.emits {
		if e.event == name {
			out = append(out, e.data)
		}
	}
	return out
}

func (f *fakeTransport) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeTransport) request(i int) request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

func historyReply(t *testing.T, messages ...chat.Message) chat.Envelope {
	t.Helper()
	raw, err := json.Marshal(messages)
	require.NoError(t, err)
	return chat.Envelope{Event: chat.EventAck, Data: raw}
}

func dm(id, from, to, content string, minute int) chat.Message {
	return chat.Message{ID: id, Sender: from, Receiver: to, Content: content, Time: t0.Add(time.Duration(minute) * time.Minute)}
}

func started(t *testing.T, opts ...engine.Option) (*engine.Engine, *fakeTransport) {
	t.Helper()

	tr := &fakeTransport{}
	e := engine.New("alice", tr, opts...)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })
	return e, tr
}

func awaitUpdate(t *testing.T, e *engine.Engine, kind engine.UpdateKind) engine.Update {
	t.Helper()

	timeout := time.After(waitFor)
	for {
		select {
		case u, ok := <-e.Updates():
			require.True(t, ok, "updates closed while waiting for %s", kind)
			if u.Kind == kind {
				return u
			}
		case <-timeout:
			t.Fatalf("no %s update within %s", kind, waitFor)
		}
	}
}

func TestEngine_StartAnnouncesPresence(t *testing.T) {
	e, tr := started(t)

	assert.Equal(t, []any{"alice"}, tr.events(chat.EventUserLogin))
	assert.True(t, e.View().Connected)

	u := awaitUpdate(t, e, engine.UpdateConnection)
	assert.NoError(t, u.Err)
}

func TestEngine_RosterPushes(t *testing.T) {
	e, tr := started(t)

	tr.push(t, chat.EventUpdateUsers, []map[string]any{{"username": "alice", "online": true}, {"username": "bob"}})
	tr.push(t, chat.EventUpdateGroups, []chat.Group{{ID: "g1", Name: "Team", Members: []string{"alice", "bob"}}})

	assert.Eventually(t, func() bool {
		return len(e.Users()) == 2 && len(e.Groups()) == 1
	}, waitFor, tick)
}

func TestEngine_OpenPrivateLoadsHistory(t *testing.T) {
	e, tr := started(t)

	require.NoError(t, e.OpenPrivate("bob"))
	require.Equal(t, 1, tr.requestCount())

	req := tr.request(0)
	assert.Equal(t, chat.FetchRequest{ChatID: "alice-bob", Type: chat.TypePrivate}, req.data)
	assert.True(t, e.Conversation().Loading)

	req.reply(historyReply(t, dm("1", "bob", "alice", "hi", 0)), nil)

	assert.Eventually(t, func() bool {
		state := e.Conversation()
		return !state.Loading && len(state.Messages) == 1
	}, waitFor, tick)
	assert.Equal(t, "bob", e.Conversation().DisplayName)
}

func TestEngine_OpenPrivateRejectsSelf(t *testing.T) {
	e, _ := started(t)

	assert.True(t, errs.HasCode(e.OpenPrivate("alice"), errs.ErrConversationKeyInvalid))
	assert.True(t, errs.HasCode(e.OpenPrivate(""), errs.ErrConversationKeyInvalid))
	assert.True(t, errs.HasCode(e.Select("alice-alice", chat.TypePrivate), errs.ErrConversationKeyInvalid))
	assert.False(t, e.Conversation().Active())
}

func TestEngine_StaleHistoryIgnored(t *testing.T) {
	e, tr := started(t)

	require.NoError(t, e.OpenPrivate("bob"))
	require.NoError(t, e.OpenPrivate("carol"))

	tr.request(0).reply(historyReply(t, dm("1", "bob", "alice", "from bob", 0)), nil)
	tr.request(1).reply(historyReply(t, dm("2", "carol", "alice", "from carol", 0)), nil)

	assert.Eventually(t, func() bool {
		state := e.Conversation()
		return !state.Loading && len(state.Messages) == 1 && state.Messages[0].Content == "from carol"
	}, waitFor, tick)
	assert.Equal(t, chat.Key("alice-carol"), e.Conversation().Key)
}

func TestEngine_LiveMessageUpdatesPreviewAndConversation(t *testing.T) {
	e, tr := started(t)
	require.NoError(t, e.OpenPrivate("bob"))
	tr.request(0).reply(historyReply(t), nil)

	tr.push(t, chat.EventReceiveMessage, dm("1", "bob", "alice", "hello", 1))
	tr.push(t, chat.EventReceiveMessage, chat.Message{ID: "2", Sender: "carol", GroupID: "g1", Content: "group", Time: t0})

	assert.Eventually(t, func() bool {
		_, groupSeen := e.GroupPreview("g1")
		return len(e.Conversation().Messages) == 1 && groupSeen
	}, waitFor, tick)

	preview, ok := e.PreviewFor("bob")
	require.True(t, ok)
	assert.Equal(t, "hello", preview.Content)
}

func TestEngine_GroupDisplayName(t *testing.T) {
	e, tr := started(t)
	tr.push(t, chat.EventUpdateGroups, []chat.Group{{ID: "g1", Name: "Team", Members: []string{"alice", "bob"}}})
	assert.Eventually(t, func() bool { return len(e.Groups()) == 1 }, waitFor, tick)

	require.NoError(t, e.OpenGroup("g1"))
	assert.Equal(t, "Team", e.Conversation().DisplayName)

	require.NoError(t, e.OpenGroup("g404"))
	assert.Equal(t, engine.UnknownGroupName, e.Conversation().DisplayName)
}

func TestEngine_Send(t *testing.T) {
	e, tr := started(t, engine.WithClock(func() time.Time { return t0 }))

	assert.True(t, errs.HasCode(e.Send("hi"), errs.ErrNoActiveConversation))

	require.NoError(t, e.OpenPrivate("bob"))
	assert.True(t, errs.HasCode(e.Send(""), errs.ErrMessageContentEmpty))
	require.NoError(t, e.Send("hi"))

	assert.Equal(t, []any{chat.Message{Sender: "alice", Receiver: "bob", Content: "hi", Time: t0}}, tr.events(chat.EventSendMessage))
	assert.Empty(t, e.Conversation().Messages)
}

func TestEngine_CreateGroup(t *testing.T) {
	e, tr := started(t)

	assert.True(t, errs.HasCode(e.CreateGroup("  ", []string{"bob"}), errs.ErrGroupInvalid))
	assert.True(t, errs.HasCode(e.CreateGroup("Solo", []string{"alice", " "}), errs.ErrGroupInvalid))

	require.NoError(t, e.CreateGroup(" Team ", []string{"bob", "alice", "bob", "carol"}))

	assert.Equal(t, []any{chat.CreateGroupRequest{Name: "Team", Members: []string{"alice", "bob", "carol"}}}, tr.events(chat.EventCreateGroup))
}

func TestEngine_ServerErrorSurfaced(t *testing.T) {
	e, tr := started(t)

	tr.push(t, chat.EventError, chat.ErrorPayload{Code: errs.ErrGroupInvalid, Message: "bad group"})

	u := awaitUpdate(t, e, engine.UpdateServerError)
	assert.True(t, errs.HasCode(u.Err, errs.ErrGroupInvalid))
}

func TestEngine_DisconnectAndReconnect(t *testing.T) {
	e, tr := started(t)
	require.NoError(t, e.OpenPrivate("bob"))
	tr.request(0).reply(historyReply(t, dm("1", "bob", "alice", "hi", 0)), nil)

	tr.current().HandleDisconnect(assert.AnError)
	assert.Eventually(t, func() bool { return !e.View().Connected }, waitFor, tick)
	assert.True(t, errs.HasCode(e.Send("lost"), errs.ErrNotConnected))

	tr.current().HandleReconnect()
	assert.Eventually(t, func() bool { return tr.requestCount() == 2 }, waitFor, tick)

	assert.True(t, e.View().Connected)
	assert.Equal(t, []any{"alice", "alice"}, tr.events(chat.EventUserLogin))
	assert.Equal(t, chat.FetchRequest{ChatID: "alice-bob", Type: chat.TypePrivate}, tr.request(1).data)
	assert.Len(t, e.Conversation().Messages, 1, "history stays visible while resyncing")

	tr.request(1).reply(historyReply(t, dm("1", "bob", "alice", "hi", 0), dm("2", "bob", "alice", "missed", 1)), nil)
	assert.Eventually(t, func() bool { return len(e.Conversation().Messages) == 2 }, waitFor, tick)
}

func TestEngine_FetchTimeout(t *testing.T) {
	e, _ := started(t, engine.WithFetchTimeout(20*time.Millisecond))

	require.NoError(t, e.OpenPrivate("bob"))

	assert.Eventually(t, func() bool { return !e.Conversation().Loading }, waitFor, tick)
	assert.Empty(t, e.Conversation().Messages)
}

func TestEngine_FetchFailure(t *testing.T) {
	e, tr := started(t)
	require.NoError(t, e.OpenPrivate("bob"))

	tr.request(0).reply(chat.Envelope{}, errs.NewError(errs.ErrNotConnected))

	assert.Eventually(t, func() bool { return !e.Conversation().Loading }, waitFor, tick)
}

func TestEngine_Stop(t *testing.T) {
	tr := &fakeTransport{}
	e := engine.New("alice", tr)
	require.NoError(t, e.Start(context.Background()))

	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop())

	assert.Equal(t, []any{"alice"}, tr.events(chat.EventUserLogout))
	tr.mu.Lock()
	assert.True(t, tr.closed)
	tr.mu.Unlock()
	assert.ErrorIs(t, e.Send("hi"), engine.ErrStopped)
	assert.ErrorIs(t, e.Start(context.Background()), engine.ErrStopped)

	for range e.Updates() {
	}
}
