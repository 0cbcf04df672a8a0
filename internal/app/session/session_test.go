package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"messenger/internal/app/chat"
	"messenger/internal/app/session"
	"messenger/internal/pkg/errs"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) SetHandler(h session.Handler) {
	m.Called(h)
}

func (m *mockTransport) Dial(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockTransport) Emit(event string, data any) error {
	return m.Called(event, data).Error(0)
}

func (m *mockTransport) Request(event string, data any, reply func(chat.Envelope, error)) error {
	return m.Called(event, data, reply).Error(0)
}

func (m *mockTransport) Close() error {
	return m.Called().Error(0)
}

func connected(t *testing.T, limiter *rate.Limiter) (*session.Session, *mockTransport) {
	t.Helper()

	tr := &mockTransport{}
	tr.On("Dial", mock.Anything).Return(nil).Once()
	tr.On("Emit", chat.EventUserLogin, "alice").Return(nil).Once()

	s := session.New(tr, limiter)
	require.NoError(t, s.Connect(context.Background(), "alice"))
	return s, tr
}

func TestSession_ConnectAnnounces(t *testing.T) {
	s, tr := connected(t, nil)

	assert.True(t, s.Connected())
	assert.Equal(t, "alice", s.Identity())
	tr.AssertExpectations(t)
}

func TestSession_ConnectRequiresIdentity(t *testing.T) {
	tr := &mockTransport{}
	s := session.New(tr, nil)

	err := s.Connect(context.Background(), "")

	assert.True(t, errs.HasCode(err, errs.ErrInvalidUsername))
	tr.AssertNotCalled(t, "Dial", mock.Anything)
}

func TestSession_DialFailure(t *testing.T) {
	tr := &mockTransport{}
	tr.On("Dial", mock.Anything).Return(errors.New("connection refused"))
	s := session.New(tr, nil)

	err := s.Connect(context.Background(), "alice")

	assert.ErrorIs(t, err, errs.NewError(errs.ErrNotConnected))
	assert.False(t, s.Connected())
	tr.AssertNotCalled(t, "Emit", mock.Anything, mock.Anything)
}

func TestSession_DroppedFailsFast(t *testing.T) {
	s, tr := connected(t, nil)

	s.Dropped(errors.New("read: connection reset"))

	msg := chat.Message{Sender: "alice", Receiver: "bob", Content: "hi", Time: time.Now()}
	assert.True(t, errs.HasCode(s.SendMessage(msg), errs.ErrNotConnected))
	assert.True(t, errs.HasCode(s.CreateGroup(chat.CreateGroupRequest{Name: "x"}), errs.ErrNotConnected))
	assert.True(t, errs.HasCode(s.FetchMessages(chat.FetchRequest{ChatID: "alice-bob"}, nil), errs.ErrNotConnected))

	tr.AssertNumberOfCalls(t, "Emit", 1)
	tr.AssertNotCalled(t, "Request", mock.Anything, mock.Anything, mock.Anything)
}

func TestSession_ReconnectedAnnouncesAgain(t *testing.T) {
	s, tr := connected(t, nil)
	s.Dropped(nil)

	tr.On("Emit", chat.EventUserLogin, "alice").Return(nil).Once()
	require.NoError(t, s.Reconnected())

	assert.True(t, s.Connected())
	tr.AssertNumberOfCalls(t, "Emit", 2)
}

func TestSession_ConnectFailedAnnounceLeavesDisconnected(t *testing.T) {
	tr := &mockTransport{}
	tr.On("Dial", mock.Anything).Return(nil)
	tr.On("Emit", chat.EventUserLogin, "alice").Return(errs.NewError(errs.ErrNotConnected)).Once()
	s := session.New(tr, nil)

	err := s.Connect(context.Background(), "alice")

	assert.True(t, errs.HasCode(err, errs.ErrNotConnected))
	assert.False(t, s.Connected())

	// a later retry succeeds once the channel carries frames again
	tr.On("Emit", chat.EventUserLogin, "alice").Return(nil).Once()
	require.NoError(t, s.Connect(context.Background(), "alice"))
	assert.True(t, s.Connected())
	tr.AssertNumberOfCalls(t, "Dial", 2)
}

func TestSession_ReconnectedFailedAnnounce(t *testing.T) {
	s, tr := connected(t, nil)
	s.Dropped(nil)

	tr.On("Emit", chat.EventUserLogin, "alice").Return(errors.New("send queue full")).Once()
	assert.Error(t, s.Reconnected())

	assert.False(t, s.Connected())
}

func TestSession_SendMessageThrottled(t *testing.T) {
	s, tr := connected(t, rate.NewLimiter(rate.Every(time.Hour), 1))
	msg := chat.Message{Sender: "alice", Receiver: "bob", Content: "hi", Time: time.Now()}
	tr.On("Emit", chat.EventSendMessage, msg).Return(nil).Once()

	require.NoError(t, s.SendMessage(msg))
	assert.True(t, errs.HasCode(s.SendMessage(msg), errs.ErrRateLimitExceeded))

	tr.AssertExpectations(t)
}

func TestSession_FetchMessages(t *testing.T) {
	s, tr := connected(t, nil)
	req := chat.FetchRequest{ChatID: "alice-bob", Type: chat.TypePrivate}
	tr.On("Request", chat.EventFetchMessages, req, mock.Anything).Return(nil).Once()

	require.NoError(t, s.FetchMessages(req, func(chat.Envelope, error) {}))
	tr.AssertExpectations(t)
}

func TestSession_DisconnectAnnouncesLogout(t *testing.T) {
	s, tr := connected(t, nil)
	tr.On("Emit", chat.EventUserLogout, "alice").Return(nil).Once()
	tr.On("Close").Return(nil).Once()

	require.NoError(t, s.Disconnect())

	assert.False(t, s.Connected())
	tr.AssertExpectations(t)
}

func TestSession_DisconnectWhileDropped(t *testing.T) {
	s, tr := connected(t, nil)
	s.Dropped(nil)
	tr.On("Close").Return(nil).Once()

	require.NoError(t, s.Disconnect())

	tr.AssertNotCalled(t, "Emit", chat.EventUserLogout, mock.Anything)
}
