/*
Package user contains core data structures and logic related to user identity and presence.

It defines the basic representation of a chat participant as it appears in the roster
pushed by the server (the User struct) and the naming rules shared by client and server.
*/
package user

import (
	"regexp"
	"unicode/utf8"
)

var usernameRegex = regexp.MustCompile(`^[a-z0-9_]{3,20}$`)

const (
	// MinPasswordLength is the minimum accepted password length in runes.
	MinPasswordLength = 6

	// MaxPasswordLength is the maximum accepted password length in runes.
	MaxPasswordLength = 50
)

// User represents the identity and presence of a chat participant.
// It mirrors server state and is only ever replaced wholesale by roster pushes.
type User struct {
	// Username is the unique, stable identity of the user.
	Username string `json:"username"`

	// Online is true while the user holds an announced connection.
	Online bool `json:"online"`
}

// ValidUsername reports whether name satisfies the registration rules.
// Dashes are excluded so a private conversation key "a-b" always splits unambiguously.
func ValidUsername(name string) bool {
	return usernameRegex.MatchString(name)
}

// ValidPassword reports whether password length is within the accepted range.
func ValidPassword(password string) bool {
	n := utf8.RuneCountInString(password)
	return n >= MinPasswordLength && n <= MaxPasswordLength
}
