package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"messenger/internal/app/chat"
)

// Memory is an in-process Store.
type Memory struct {
	mu sync.RWMutex

	passwords map[string]string

	groups     map[string]chat.Group
	groupOrder []string

	logs map[chat.Key][]chat.Message
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		passwords: make(map[string]string),
		groups:    make(map[string]chat.Group),
		logs:      make(map[chat.Key][]chat.Message),
	}
}

func (m *Memory) CreateUser(_ context.Context, username, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.passwords[username]; ok {
		return ErrUserExists
	}
	m.passwords[username] = passwordHash
	return nil
}

func (m *Memory) PasswordHash(_ context.Context, username string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hash, ok := m.passwords[username]
	if !ok {
		return "", ErrNotFound
	}
	return hash, nil
}

func (m *Memory) UserExists(_ context.Context, username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.passwords[username]
	return ok, nil
}

func (m *Memory) Usernames(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.passwords))
	for name := range m.passwords {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) CreateGroup(_ context.Context, g chat.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g.Members = slices.Clone(g.Members)
	m.groups[g.ID] = g
	m.groupOrder = append(m.groupOrder, g.ID)
	return nil
}

func (m *Memory) Group(_ context.Context, id string) (chat.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.groups[id]
	if !ok {
		return chat.Group{}, ErrNotFound
	}
	g.Members = slices.Clone(g.Members)
	return g, nil
}

func (m *Memory) GroupsFor(_ context.Context, username string) ([]chat.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []chat.Group{}
	for _, id := range m.groupOrder {
		g := m.groups[id]
		if g.HasMember(username) {
			g.Members = slices.Clone(g.Members)
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *Memory) AppendMessage(_ context.Context, msg chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := msg.Key()
	m.logs[key] = append(m.logs[key], msg)
	return nil
}

func (m *Memory) History(_ context.Context, key chat.Key) ([]chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.logs[key]), nil
}

func (m *Memory) LastMessages(_ context.Context, username string) (map[chat.Key]chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[chat.Key]chat.Message)
	for key, log := range m.logs {
		if len(log) == 0 {
			continue
		}
		last := log[len(log)-1]
		if !m.participatesLocked(username, last) {
			continue
		}
		out[key] = last
	}
	return out, nil
}

// participatesLocked reports whether username is a party of msg's conversation. Caller holds m.mu.
func (m *Memory) participatesLocked(username string, msg chat.Message) bool {
	if msg.Type() == chat.TypeGroup {
		g, ok := m.groups[msg.GroupID]
		return ok && g.HasMember(username)
	}
	return msg.Sender == username || msg.Receiver == username
}

func (m *Memory) Close() {}
