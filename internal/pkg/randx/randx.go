/*
Package randx provides functions for generating unique identifiers.

Request correlation tokens, group ids and message ids are all UUID v4 strings.
*/
package randx

import (
	"github.com/google/uuid"
)

// RequestID returns a fresh correlation token for a request/response exchange on the channel.
func RequestID() string {
	return uuid.NewString()
}

// GroupID returns a server-assigned group identifier.
func GroupID() string {
	return uuid.NewString()
}

// MessageID returns a server-assigned message identifier.
func MessageID() string {
	return uuid.NewString()
}

// IsValidID reports whether id parses as a UUID.
func IsValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
