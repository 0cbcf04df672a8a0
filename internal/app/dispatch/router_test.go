package dispatch_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger/internal/app/chat"
	"messenger/internal/app/dispatch"
	"messenger/internal/app/user"
	"messenger/internal/pkg/errs"
)

type mockRoster struct {
	mock.Mock
}

func (m *mockRoster) ApplyRosterUpdate(users []user.User) {
	m.Called(users)
}

func (m *mockRoster) ApplyGroupUpdate(groups []chat.Group) {
	m.Called(groups)
}

func (m *mockRoster) ApplyPreviewUpdate(previews []chat.Message) {
	m.Called(previews)
}

type mockIndex struct {
	mock.Mock
}

func (m *mockIndex) Record(msg chat.Message) (bool, error) {
	args := m.Called(msg)
	return args.Bool(0), args.Error(1)
}

type mockConversation struct {
	mock.Mock
}

func (m *mockConversation) Receive(msg chat.Message) bool {
	args := m.Called(msg)
	return args.Bool(0)
}

func newRouter() (*dispatch.Router, *mockRoster, *mockIndex, *mockConversation) {
	r, i, c := &mockRoster{}, &mockIndex{}, &mockConversation{}
	return dispatch.NewRouter(r, i, c), r, i, c
}

func TestRouter_Users(t *testing.T) {
	router, roster, index, conv := newRouter()
	roster.On("ApplyRosterUpdate", []user.User{{Username: "alice", Online: true}}).Once()

	ev, err := router.Route(chat.Envelope{Event: chat.EventUpdateUsers, Data: json.RawMessage(`[{"username":"alice","online":true}]`)})

	require.NoError(t, err)
	assert.IsType(t, chat.UsersUpdated{}, ev)
	roster.AssertExpectations(t)
	index.AssertNotCalled(t, "Record", mock.Anything)
	conv.AssertNotCalled(t, "Receive", mock.Anything)
}

func TestRouter_Groups(t *testing.T) {
	router, roster, _, _ := newRouter()
	roster.On("ApplyGroupUpdate", []chat.Group{{ID: "g1", Name: "team", Members: []string{"alice"}}}).Once()

	_, err := router.Route(chat.Envelope{Event: chat.EventUpdateGroups, Data: json.RawMessage(`[{"_id":"g1","name":"team","members":["alice"]}]`)})

	require.NoError(t, err)
	roster.AssertExpectations(t)
}

func TestRouter_Previews(t *testing.T) {
	router, roster, _, _ := newRouter()
	roster.On("ApplyPreviewUpdate", mock.MatchedBy(func(p []chat.Message) bool {
		return len(p) == 1 && p[0].Key() == "alice-bob"
	})).Once()

	_, err := router.Route(chat.Envelope{
		Event: chat.EventUpdateLastMessages,
		Data:  json.RawMessage(`{"alice-bob":{"sender":"bob","receiver":"alice","content":"hi","timestamp":"2024-05-01T12:00:00Z"}}`),
	})

	require.NoError(t, err)
	roster.AssertExpectations(t)
}

func TestRouter_MessageGoesToIndexAndConversation(t *testing.T) {
	router, roster, index, conv := newRouter()
	want := chat.Message{ID: "m1", Sender: "bob", GroupID: "g1", Content: "hi", Time: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	index.On("Record", want).Return(true, nil).Once()
	conv.On("Receive", want).Return(false).Once()

	_, err := router.Route(chat.Envelope{
		Event: chat.EventReceiveMessage,
		Data:  json.RawMessage(`{"_id":"m1","sender":"bob","groupId":"g1","content":"hi","timestamp":"2024-05-01T12:00:00Z"}`),
	})

	require.NoError(t, err)
	index.AssertExpectations(t)
	conv.AssertExpectations(t)
	roster.AssertNotCalled(t, "ApplyRosterUpdate", mock.Anything)
}

func TestRouter_RejectedEnvelopeTouchesNothing(t *testing.T) {
	router, roster, index, conv := newRouter()

	_, err := router.Route(chat.Envelope{Event: "typing", Data: json.RawMessage(`{}`)})
	assert.True(t, errs.HasCode(err, errs.ErrEventUnknown))

	_, err = router.Route(chat.Envelope{Event: chat.EventReceiveMessage, Data: json.RawMessage(`{"sender":"bob"}`)})
	assert.True(t, errs.HasCode(err, errs.ErrEventMalformed))

	roster.AssertNotCalled(t, "ApplyRosterUpdate", mock.Anything)
	index.AssertNotCalled(t, "Record", mock.Anything)
	conv.AssertNotCalled(t, "Receive", mock.Anything)
}
