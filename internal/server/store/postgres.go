package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"messenger/internal/app/chat"
	"messenger/internal/app/db"
)

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, applies migrations and returns the Store.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) CreateUser(ctx context.Context, username, passwordHash string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO users (username, password_hash) VALUES ($1, $2)`,
		username, passwordHash)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (p *Postgres) PasswordHash(ctx context.Context, username string) (string, error) {
	var hash string
	err := p.pool.QueryRow(ctx,
		`SELECT password_hash FROM users WHERE username = $1`,
		username).Scan(&hash)
	if err != nil {
		if db.IsNoRows(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("select password hash: %w", err)
	}
	return hash, nil
}

func (p *Postgres) UserExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`,
		username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return exists, nil
}

func (p *Postgres) Usernames(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT username FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}
	return names, nil
}

func (p *Postgres) CreateGroup(ctx context.Context, g chat.Group) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_groups (id, name) VALUES ($1, $2)`,
			g.ID, g.Name); err != nil {
			return fmt.Errorf("insert group: %w", err)
		}

		batch := &pgx.Batch{}
		for i, member := range g.Members {
			batch.Queue(
				`INSERT INTO group_members (group_id, username, position) VALUES ($1, $2, $3)`,
				g.ID, member, i)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert group members: %w", err)
		}
		return nil
	})
}

func (p *Postgres) Group(ctx context.Context, id string) (chat.Group, error) {
	g := chat.Group{ID: id}
	err := p.pool.QueryRow(ctx,
		`SELECT name, ARRAY(SELECT username FROM group_members WHERE group_id = $1 ORDER BY position)
		   FROM chat_groups WHERE id = $1`,
		id).Scan(&g.Name, &g.Members)
	if err != nil {
		if db.IsNoRows(err) {
			return chat.Group{}, ErrNotFound
		}
		return chat.Group{}, fmt.Errorf("select group: %w", err)
	}
	return g, nil
}

func (p *Postgres) GroupsFor(ctx context.Context, username string) ([]chat.Group, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT g.id, g.name,
		        ARRAY(SELECT m.username FROM group_members m WHERE m.group_id = g.id ORDER BY m.position)
		   FROM chat_groups g
		   JOIN group_members gm ON gm.group_id = g.id
		  WHERE gm.username = $1
		  ORDER BY g.created_at, g.id`,
		username)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	groups, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Group, error) {
		var g chat.Group
		err := row.Scan(&g.ID, &g.Name, &g.Members)
		return g, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan groups: %w", err)
	}
	return groups, nil
}

func (p *Postgres) AppendMessage(ctx context.Context, msg chat.Message) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO messages (id, chat_key, sender, receiver, group_id, content, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.Key().String(), msg.Sender,
		nullable(msg.Receiver), nullable(msg.GroupID),
		msg.Content, msg.Time)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (p *Postgres) History(ctx context.Context, key chat.Key) ([]chat.Message, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, sender, receiver, group_id, content, sent_at
		   FROM messages WHERE chat_key = $1 ORDER BY seq`,
		key.String())
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}

	history, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	return history, nil
}

func (p *Postgres) LastMessages(ctx context.Context, username string) (map[chat.Key]chat.Message, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT DISTINCT ON (chat_key) id, sender, receiver, group_id, content, sent_at
		   FROM messages
		  WHERE sender = $1 OR receiver = $1
		     OR group_id IN (SELECT group_id FROM group_members WHERE username = $1)
		  ORDER BY chat_key, seq DESC`,
		username)
	if err != nil {
		return nil, fmt.Errorf("select last messages: %w", err)
	}

	latest, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, fmt.Errorf("scan last messages: %w", err)
	}

	out := make(map[chat.Key]chat.Message, len(latest))
	for _, msg := range latest {
		out[msg.Key()] = msg
	}
	return out, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func scanMessage(row pgx.CollectableRow) (chat.Message, error) {
	var (
		msg      chat.Message
		receiver pgtype.Text
		groupID  pgtype.Text
	)
	if err := row.Scan(&msg.ID, &msg.Sender, &receiver, &groupID, &msg.Content, &msg.Time); err != nil {
		return chat.Message{}, err
	}
	msg.Receiver = receiver.String
	msg.GroupID = groupID.String
	msg.Time = msg.Time.UTC()
	return msg, nil
}

func nullable(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
