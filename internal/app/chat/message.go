/*
Package chat contains the domain model shared by every component of the client engine and the relay server.

This file defines the Message struct and the Group struct. Messages are immutable once created;
their conversation key is derived from their addressing fields.
*/
package chat

import (
	"strings"
	"time"

	"messenger/internal/pkg/errs"
)

// MaxContentBytes defines the maximum allowed size (in bytes) for message content.
const MaxContentBytes = 5000

// Message represents a single chat message. Exactly one of Receiver and GroupID is set.
type Message struct {
	// ID is assigned by the server; messages built locally for sending carry none.
	ID string `json:"_id,omitempty"`

	Sender   string    `json:"sender"`
	Receiver string    `json:"receiver,omitempty"`
	GroupID  string    `json:"groupId,omitempty"`
	Content  string    `json:"content"`
	Time     time.Time `json:"timestamp"`
}

// Type returns the chat type the message is addressed to.
func (m Message) Type() ChatType {
	if m.GroupID != "" {
		return TypeGroup
	}
	return TypePrivate
}

// Key returns the canonical conversation key of the message.
func (m Message) Key() Key {
	if m.GroupID != "" {
		return GroupKey(m.GroupID)
	}
	return PrivateKey(m.Sender, m.Receiver)
}

// Validate checks the structural preconditions every stored message must satisfy.
func (m Message) Validate() error {
	switch {
	case m.Sender == "":
		return errs.NewError(errs.ErrMessageMalformed, "missing sender")
	case m.Receiver == "" && m.GroupID == "":
		return errs.NewError(errs.ErrMessageMalformed, "neither receiver nor groupId set")
	case m.Receiver != "" && m.GroupID != "":
		return errs.NewError(errs.ErrMessageMalformed, "both receiver and groupId set")
	case m.Time.IsZero():
		return errs.NewError(errs.ErrMessageMalformed, "missing timestamp")
	}
	return nil
}

// ValidateContent checks outgoing content before it is sent.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errs.NewError(errs.ErrMessageContentEmpty)
	}
	if len(content) > MaxContentBytes {
		return errs.NewError(errs.ErrMessageContentTooLong)
	}
	return nil
}

// SameAs reports whether m and other are the same delivered message. Server ids are
// authoritative when both carry one; otherwise every field must match.
func (m Message) SameAs(other Message) bool {
	if m.ID != "" && other.ID != "" {
		return m.ID == other.ID
	}
	return m.Sender == other.Sender &&
		m.Receiver == other.Receiver &&
		m.GroupID == other.GroupID &&
		m.Content == other.Content &&
		m.Time.Equal(other.Time)
}

// Group represents a named set of members sharing one conversation.
type Group struct {
	ID      string   `json:"_id"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// HasMember reports whether username belongs to the group.
func (g Group) HasMember(username string) bool {
	for _, m := range g.Members {
		if m == username {
			return true
		}
	}
	return false
}
