/*
Package store defines the persistence boundary of the relay server: accounts, groups and the
message log.

Two implementations exist. Memory keeps everything in process and backs tests and the default
development setup; Postgres keeps it in a PostgreSQL database through a pgx pool with embedded
goose migrations.
*/
package store

import (
	"context"
	"errors"

	"messenger/internal/app/chat"
)

var (
	// ErrNotFound is returned when the requested user or group does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUserExists is returned by CreateUser for a taken username.
	ErrUserExists = errors.New("user already exists")
)

// Store is the relay server's persistence.
type Store interface {
	// CreateUser registers username with an already hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) error

	// PasswordHash returns the stored hash of username.
	PasswordHash(ctx context.Context, username string) (string, error)

	// UserExists reports whether username is registered.
	UserExists(ctx context.Context, username string) (bool, error)

	// Usernames lists every registered username in ascending order.
	Usernames(ctx context.Context) ([]string, error)

	// CreateGroup persists g; g.ID must be set.
	CreateGroup(ctx context.Context, g chat.Group) error

	// Group returns the group with id.
	Group(ctx context.Context, id string) (chat.Group, error)

	// GroupsFor lists the groups username belongs to, oldest first.
	GroupsFor(ctx context.Context, username string) ([]chat.Group, error)

	// AppendMessage appends msg to the log of its conversation; msg.ID must be set.
	AppendMessage(ctx context.Context, msg chat.Message) error

	// History returns the log of key in append order.
	History(ctx context.Context, key chat.Key) ([]chat.Message, error)

	// LastMessages returns the newest message of every conversation username takes part in,
	// keyed by conversation key.
	LastMessages(ctx context.Context, username string) (map[chat.Key]chat.Message, error)

	// Close releases the store's resources.
	Close()
}
