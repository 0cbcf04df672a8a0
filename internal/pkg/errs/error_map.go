/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses, WebSocket error frames and client-side validation failures.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:         {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType:  {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:     {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:    {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRequestEntityTooLarge: {Code: ErrRequestEntityTooLarge, Message: "Request size is too large.", Status: http.StatusRequestEntityTooLarge},
	ErrRateLimitExceeded:     {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Conversation and Content Errors
	ErrConversationKeyInvalid: {Code: ErrConversationKeyInvalid, Message: "Conversation %q does not include you."},
	ErrChatTypeInvalid:        {Code: ErrChatTypeInvalid, Message: "Invalid chat type %q."},
	ErrNoActiveConversation:   {Code: ErrNoActiveConversation, Message: "Select a chat first."},
	ErrGroupNotFound:          {Code: ErrGroupNotFound, Message: "Group not found.", Status: http.StatusNotFound},
	ErrGroupInvalid:           {Code: ErrGroupInvalid, Message: "Please enter a group name and select at least one member.", Status: http.StatusBadRequest},
	ErrMessageContentEmpty:    {Code: ErrMessageContentEmpty, Message: "Message is empty."},
	ErrMessageContentTooLong:  {Code: ErrMessageContentTooLong, Message: "Message is too long."},
	ErrMessageMalformed:       {Code: ErrMessageMalformed, Message: "Message is malformed: %s."},

	// 3xxx: User, Session, and Security Errors
	ErrNotConnected:       {Code: ErrNotConnected, Message: "Not connected to the chat server."},
	ErrEventUnknown:       {Code: ErrEventUnknown, Message: "Unknown event %q."},
	ErrEventMalformed:     {Code: ErrEventMalformed, Message: "Malformed %q event."},
	ErrAlreadyLoggedIn:    {Code: ErrAlreadyLoggedIn, Message: "You are already signed in.", Status: http.StatusConflict},
	ErrInvalidUsername:    {Code: ErrInvalidUsername, Message: "Invalid username.", Status: http.StatusBadRequest},
	ErrInvalidPassword:    {Code: ErrInvalidPassword, Message: "Invalid password.", Status: http.StatusBadRequest},
	ErrUserAlreadyExists:  {Code: ErrUserAlreadyExists, Message: "Username is already taken.", Status: http.StatusConflict},
	ErrInvalidCredentials: {Code: ErrInvalidCredentials, Message: "Incorrect username or password.", Status: http.StatusUnauthorized},
	ErrUnauthorized:       {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrTokenExpired:       {Code: ErrTokenExpired, Message: "Your session has expired. Please sign in again.", Status: http.StatusUnauthorized},

	// 5xxx: Internal System Errors
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
