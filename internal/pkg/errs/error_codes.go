/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific business or system errors
both inside the client engine and in communication with the relay server.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect (e.g., syntax error).
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRequestEntityTooLarge indicates that the request body size exceeded the server limit.
	ErrRequestEntityTooLarge = 1006

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Conversation and Content Errors
const (
	// ErrConversationKeyInvalid indicates that a conversation key could not be resolved
	// for the current identity (e.g., a private key that does not contain the user).
	ErrConversationKeyInvalid = 2101

	// ErrChatTypeInvalid indicates that a chat type other than "private" or "group" was supplied.
	ErrChatTypeInvalid = 2102

	// ErrNoActiveConversation indicates that an operation required a selected conversation.
	ErrNoActiveConversation = 2103

	// ErrGroupNotFound indicates that the referenced group does not exist.
	ErrGroupNotFound = 2104

	// ErrGroupInvalid indicates that a group creation request had no name or no members.
	ErrGroupInvalid = 2105

	// ErrMessageContentEmpty indicates that a message with blank content was submitted.
	ErrMessageContentEmpty = 2201

	// ErrMessageContentTooLong indicates that the message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 2202

	// ErrMessageMalformed indicates a message without sender, target or timestamp.
	ErrMessageMalformed = 2203
)

// 3xxx: User, Session, and Security Errors
const (
	// ErrNotConnected indicates that the persistent channel is not established.
	ErrNotConnected = 3001

	// ErrEventUnknown indicates a pushed event kind outside the protocol.
	ErrEventUnknown = 3002

	// ErrEventMalformed indicates a pushed event whose payload failed validation.
	ErrEventMalformed = 3003

	// ErrAlreadyLoggedIn indicates that an authenticated caller tried to register or log in again.
	ErrAlreadyLoggedIn = 3005

	// ErrInvalidUsername indicates that the username does not satisfy the naming rules.
	ErrInvalidUsername = 3006

	// ErrInvalidPassword indicates that the password does not satisfy the length rules.
	ErrInvalidPassword = 3007

	// ErrUserAlreadyExists indicates that the username is already registered.
	ErrUserAlreadyExists = 3008

	// ErrInvalidCredentials indicates a username/password mismatch.
	ErrInvalidCredentials = 3009

	// ErrUnauthorized indicates that the request lacks a valid identity.
	ErrUnauthorized = 3010

	// ErrTokenExpired indicates that a stored session token is past its expiry.
	ErrTokenExpired = 3011
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general internal error.
	ErrUnknown = 5000
)
