/*
Package roster holds the client's view of who exists: users with their presence and groups
with their members.

The protocol only ever pushes complete snapshots, so every update replaces the previous set
wholesale; an entry missing from a push is gone. Preview bulk syncs arrive through the same
store and are forwarded to the conversation index, which owns the preview mapping.
*/
package roster

import (
	"sync"

	"github.com/rs/zerolog"

	"messenger/internal/app/chat"
	"messenger/internal/app/user"
	"messenger/internal/pkg/logx"
)

// PreviewSink receives bulk preview syncs.
type PreviewSink interface {
	Replace(previews []chat.Message)
	Snapshot() map[chat.Key]chat.Message
}

// Store holds the current users and groups.
type Store struct {
	// mu protects users, groups and groupsByID.
	mu sync.RWMutex

	users      []user.User
	groups     []chat.Group
	groupsByID map[string]chat.Group

	previews PreviewSink

	logger zerolog.Logger
}

// NewStore constructs an empty Store forwarding preview syncs to previews.
func NewStore(previews PreviewSink) *Store {
	return &Store{
		groupsByID: make(map[string]chat.Group),
		previews:   previews,
		logger:     logx.Component("RosterStore"),
	}
}

// ApplyRosterUpdate replaces the entire user set.
func (s *Store) ApplyRosterUpdate(users []user.User) {
	next := make([]user.User, len(users))
	copy(next, users)

	s.mu.Lock()
	s.users = next
	s.mu.Unlock()

	s.logger.Debug().Int("users", len(next)).Msg("Roster users replaced.")
}

// ApplyGroupUpdate replaces the entire group set.
func (s *Store) ApplyGroupUpdate(groups []chat.Group) {
	next := make([]chat.Group, 0, len(groups))
	byID := make(map[string]chat.Group, len(groups))
	for _, g := range groups {
		members := make([]string, len(g.Members))
		copy(members, g.Members)
		g.Members = members

		next = append(next, g)
		byID[g.ID] = g
	}

	s.mu.Lock()
	s.groups = next
	s.groupsByID = byID
	s.mu.Unlock()

	s.logger.Debug().Int("groups", len(next)).Msg("Roster groups replaced.")
}

// ApplyPreviewUpdate replaces the entire preview mapping.
func (s *Store) ApplyPreviewUpdate(previews []chat.Message) {
	s.previews.Replace(previews)
}

// Users returns a snapshot of the current users in server order.
func (s *Store) Users() []user.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]user.User, len(s.users))
	copy(out, s.users)
	return out
}

// Groups returns a snapshot of the current groups in server order.
func (s *Store) Groups() []chat.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Group, len(s.groups))
	copy(out, s.groups)
	return out
}

// User looks up a user by username.
func (s *Store) User(username string) (user.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			return u, true
		}
	}
	return user.User{}, false
}

// Group looks up a group by id.
func (s *Store) Group(id string) (chat.Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groupsByID[id]
	return g, ok
}

// Previews returns a snapshot of the preview mapping.
func (s *Store) Previews() map[chat.Key]chat.Message {
	return s.previews.Snapshot()
}
