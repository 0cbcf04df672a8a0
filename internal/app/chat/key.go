/*
Package chat contains the domain model shared by every component of the client engine and the relay server.

This file defines conversation keys. A group conversation is keyed by its group id. A private
conversation is keyed by the unordered pair of its participants; the two participants build the
key from their own perspective ("alice-bob" vs "bob-alice"), so keys are canonicalized on entry
and compared only in canonical form.
*/
package chat

import (
	"strings"

	"messenger/internal/pkg/errs"
)

// PairSeparator joins the two usernames of a private conversation key.
const PairSeparator = "-"

// ChatType distinguishes private conversations from group conversations.
type ChatType string

const (
	TypePrivate ChatType = "private"
	TypeGroup   ChatType = "group"
)

// Valid reports whether t is one of the protocol's chat types.
func (t ChatType) Valid() bool {
	return t == TypePrivate || t == TypeGroup
}

// ParseChatType converts a raw wire value into a ChatType.
func ParseChatType(raw string) (ChatType, error) {
	t := ChatType(raw)
	if !t.Valid() {
		return "", errs.NewError(errs.ErrChatTypeInvalid, raw)
	}
	return t, nil
}

// Key is the canonical identifier of a conversation.
type Key string

// String returns the key as sent on the wire.
func (k Key) String() string {
	return string(k)
}

// IsZero reports whether the key is empty (no conversation).
func (k Key) IsZero() bool {
	return k == ""
}

// PrivateKey returns the canonical key for the private conversation between a and b.
// The result does not depend on argument order.
func PrivateKey(a, b string) Key {
	if b < a {
		a, b = b, a
	}
	return Key(a + PairSeparator + b)
}

// GroupKey returns the key of a group conversation.
func GroupKey(groupID string) Key {
	return Key(groupID)
}

// ResolvePrivate interprets raw ("self-peer" or "peer-self") from the perspective of self
// and returns the peer username together with the canonical key. A conversation with
// oneself is not a private conversation.
func ResolvePrivate(raw, self string) (peer string, key Key, err error) {
	if self != "" {
		if rest, ok := strings.CutPrefix(raw, self+PairSeparator); ok && validPeer(rest, self) {
			return rest, PrivateKey(self, rest), nil
		}
		if rest, ok := strings.CutSuffix(raw, PairSeparator+self); ok && validPeer(rest, self) {
			return rest, PrivateKey(self, rest), nil
		}
	}
	return "", "", errs.NewError(errs.ErrConversationKeyInvalid, raw)
}

func validPeer(peer, self string) bool {
	return peer != "" && peer != self && !strings.Contains(peer, PairSeparator)
}

// SameConversation reports whether two raw private keys name the same unordered pair.
func SameConversation(a, b string) bool {
	pa, qa, okA := strings.Cut(a, PairSeparator)
	pb, qb, okB := strings.Cut(b, PairSeparator)
	if !okA || !okB {
		return a == b
	}
	return PrivateKey(pa, qa) == PrivateKey(pb, qb)
}
