package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger/internal/app/chat"
	"messenger/internal/pkg/errs"
	"messenger/internal/transport/ws"
)

const waitFor = 2 * time.Second

// relay is a scripted server end of the channel.
type relay struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
	frames   chan chat.Envelope
	auth     chan string

	// while down is set, upgrades are refused with 503 and counted in refused.
	down    atomic.Bool
	refused atomic.Int32
}

func newRelay(t *testing.T) *relay {
	t.Helper()

	r := &relay{
		conns:  make(chan *websocket.Conn, 8),
		frames: make(chan chat.Envelope, 64),
		auth:   make(chan string, 8),
	}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.down.Load() {
			r.refused.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		conn, err := r.upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.auth <- req.Header.Get("Authorization")
		r.conns <- conn

		go func() {
			for {
				var env chat.Envelope
				if err := conn.ReadJSON(&env); err != nil {
					return
				}
				r.frames <- env
			}
		}()
	}))
	t.Cleanup(r.server.Close)
	return r
}

func (r *relay) url() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

func (r *relay) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-r.conns:
		return conn
	case <-time.After(waitFor):
		t.Fatal("no connection accepted")
		return nil
	}
}

func (r *relay) next(t *testing.T) chat.Envelope {
	t.Helper()
	select {
	case env := <-r.frames:
		return env
	case <-time.After(waitFor):
		t.Fatal("no frame received")
		return chat.Envelope{}
	}
}

// recorder is a session.Handler that reports every callback on channels.
type recorder struct {
	envelopes   chan chat.Envelope
	reconnects  chan struct{}
	disconnects chan error
}

func newRecorder() *recorder {
	return &recorder{
		envelopes:   make(chan chat.Envelope, 16),
		reconnects:  make(chan struct{}, 4),
		disconnects: make(chan error, 4),
	}
}

func (r *recorder) HandleEnvelope(env chat.Envelope) { r.envelopes <- env }
func (r *recorder) HandleReconnect()                 { r.reconnects <- struct{}{} }
func (r *recorder) HandleDisconnect(err error)       { r.disconnects <- err }

func dialed(t *testing.T, r *relay, cfg ws.Config) (*ws.Client, *recorder, *websocket.Conn) {
	t.Helper()

	cfg.URL = r.url()
	c := ws.NewClient(cfg)
	h := newRecorder()
	c.SetHandler(h)

	require.NoError(t, c.Dial(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	return c, h, r.accept(t)
}

func TestClient_EmitSendsBearerAndFrame(t *testing.T) {
	r := newRelay(t)
	c, _, _ := dialed(t, r, ws.Config{Token: "secret"})

	assert.Equal(t, "Bearer secret", <-r.auth)

	require.NoError(t, c.Emit(chat.EventUserLogin, "alice"))

	env := r.next(t)
	assert.Equal(t, chat.EventUserLogin, env.Event)
	assert.JSONEq(t, `"alice"`, string(env.Data))
	assert.Empty(t, env.Ack)
}

func TestClient_EmitBeforeDial(t *testing.T) {
	c := ws.NewClient(ws.Config{URL: "ws://127.0.0.1:1/ws"})
	assert.True(t, errs.HasCode(c.Emit(chat.EventUserLogin, "alice"), errs.ErrNotConnected))
	assert.True(t, errs.HasCode(c.Request(chat.EventFetchMessages, nil, func(chat.Envelope, error) {}), errs.ErrNotConnected))
}

func TestClient_InboundPushReachesHandler(t *testing.T) {
	r := newRelay(t)
	_, h, conn := dialed(t, r, ws.Config{})

	require.NoError(t, conn.WriteJSON(chat.Envelope{Event: chat.EventUpdateUsers, Data: json.RawMessage(`[]`)}))

	select {
	case env := <-h.envelopes:
		assert.Equal(t, chat.EventUpdateUsers, env.Event)
	case <-time.After(waitFor):
		t.Fatal("push not delivered")
	}
}

func TestClient_RequestResolvedByAck(t *testing.T) {
	r := newRelay(t)
	c, h, conn := dialed(t, r, ws.Config{})

	replies := make(chan chat.Envelope, 1)
	require.NoError(t, c.Request(chat.EventFetchMessages, chat.FetchRequest{ChatID: "alice-bob", Type: chat.TypePrivate},
		func(env chat.Envelope, err error) {
			assert.NoError(t, err)
			replies <- env
		}))

	req := r.next(t)
	require.NotEmpty(t, req.Ack)
	require.NoError(t, conn.WriteJSON(chat.Envelope{Event: chat.EventAck, Ack: req.Ack, Data: json.RawMessage(`[]`)}))

	select {
	case env := <-replies:
		assert.JSONEq(t, `[]`, string(env.Data))
	case <-time.After(waitFor):
		t.Fatal("reply not delivered")
	}
	assert.Empty(t, h.envelopes, "replies are not pushed to the handler")
}

func TestClient_RequestResolvedByError(t *testing.T) {
	r := newRelay(t)
	c, _, conn := dialed(t, r, ws.Config{})

	failures := make(chan error, 1)
	require.NoError(t, c.Request(chat.EventFetchMessages, chat.FetchRequest{ChatID: "g9", Type: chat.TypeGroup},
		func(_ chat.Envelope, err error) { failures <- err }))

	req := r.next(t)
	require.NoError(t, conn.WriteJSON(map[string]any{
		"event": chat.EventError,
		"ack":   req.Ack,
		"data":  chat.ErrorPayload{Code: errs.ErrGroupNotFound, Message: "Group g9 not found."},
	}))

	select {
	case err := <-failures:
		assert.True(t, errs.HasCode(err, errs.ErrGroupNotFound))
	case <-time.After(waitFor):
		t.Fatal("error not delivered")
	}
}

func TestClient_RequestTimeout(t *testing.T) {
	r := newRelay(t)
	c, _, _ := dialed(t, r, ws.Config{RequestTimeout: 30 * time.Millisecond})

	failures := make(chan error, 1)
	require.NoError(t, c.Request(chat.EventFetchMessages, chat.FetchRequest{ChatID: "alice-bob", Type: chat.TypePrivate},
		func(_ chat.Envelope, err error) { failures <- err }))

	select {
	case err := <-failures:
		assert.ErrorContains(t, err, "timed out")
	case <-time.After(waitFor):
		t.Fatal("request never timed out")
	}
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	r := newRelay(t)
	c, h, conn := dialed(t, r, ws.Config{ReconnectBase: 10 * time.Millisecond, ReconnectCap: 50 * time.Millisecond})
	<-r.auth

	failures := make(chan error, 1)
	require.NoError(t, c.Request(chat.EventFetchMessages, chat.FetchRequest{ChatID: "alice-bob", Type: chat.TypePrivate},
		func(_ chat.Envelope, err error) { failures <- err }))
	r.next(t)

	require.NoError(t, conn.Close())

	select {
	case err := <-failures:
		assert.True(t, errs.HasCode(err, errs.ErrNotConnected))
	case <-time.After(waitFor):
		t.Fatal("pending request not failed on drop")
	}

	select {
	case <-h.disconnects:
	case <-time.After(waitFor):
		t.Fatal("disconnect not reported")
	}

	replacement := r.accept(t)

	select {
	case <-h.reconnects:
	case <-time.After(waitFor):
		t.Fatal("reconnect not reported")
	}

	require.NoError(t, c.Emit(chat.EventUserLogin, "alice"))
	assert.Equal(t, chat.EventUserLogin, r.next(t).Event)

	require.NoError(t, replacement.WriteJSON(chat.Envelope{Event: chat.EventUpdateGroups, Data: json.RawMessage(`[]`)}))
	select {
	case env := <-h.envelopes:
		assert.Equal(t, chat.EventUpdateGroups, env.Event)
	case <-time.After(waitFor):
		t.Fatal("push on new connection not delivered")
	}
}

func TestClient_DialAgainAfterReconnectGivesUp(t *testing.T) {
	r := newRelay(t)
	c, h, conn := dialed(t, r, ws.Config{
		ReconnectBase: 5 * time.Millisecond,
		ReconnectCap:  10 * time.Millisecond,
		MaxRetries:    2,
	})

	r.down.Store(true)
	require.NoError(t, conn.Close())

	select {
	case <-h.disconnects:
	case <-time.After(waitFor):
		t.Fatal("disconnect not reported")
	}

	// one attempt plus two retries
	require.Eventually(t, func() bool { return r.refused.Load() >= 3 }, waitFor, 5*time.Millisecond)
	assert.True(t, errs.HasCode(c.Emit(chat.EventUserLogin, "alice"), errs.ErrNotConnected))

	r.down.Store(false)

	require.Eventually(t, func() bool {
		if err := c.Dial(context.Background()); err != nil {
			return false
		}
		return c.Emit(chat.EventUserLogin, "alice") == nil
	}, waitFor, 10*time.Millisecond)

	r.accept(t)
	assert.Equal(t, chat.EventUserLogin, r.next(t).Event)
	assert.EqualValues(t, 3, r.refused.Load())
	assert.Empty(t, h.reconnects, "a fresh dial is not a reconnect")
}

func TestClient_CloseFlushesQueuedFrames(t *testing.T) {
	r := newRelay(t)
	c, h, _ := dialed(t, r, ws.Config{})

	require.NoError(t, c.Emit(chat.EventUserLogout, "alice"))
	require.NoError(t, c.Close())

	assert.Equal(t, chat.EventUserLogout, r.next(t).Event)
	assert.Empty(t, h.disconnects, "a deliberate close is not a drop")

	assert.ErrorIs(t, c.Dial(context.Background()), ws.ErrClosed)
	assert.True(t, errs.HasCode(c.Emit(chat.EventUserLogin, "alice"), errs.ErrNotConnected))
	require.NoError(t, c.Close())
}

func TestClient_DialFailure(t *testing.T) {
	c := ws.NewClient(ws.Config{URL: "ws://127.0.0.1:1/ws"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.Error(t, c.Dial(ctx))
}
