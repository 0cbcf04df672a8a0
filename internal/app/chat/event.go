/*
Package chat contains the domain model shared by every component of the client engine and the relay server.

This file defines the wire envelope of the persistent channel and the closed set of inbound
events. Raw envelopes are decoded and validated here, so anything that reaches a store is one
of the four typed events below and structurally sound.
*/
package chat

import (
	"encoding/json"
	"fmt"
	"sort"

	"messenger/internal/app/user"
	"messenger/internal/pkg/errs"
)

// Outbound event names (client -> server).
const (
	EventUserLogin     = "userLogin"
	EventUserLogout    = "userLogout"
	EventCreateGroup   = "createGroup"
	EventSendMessage   = "sendMessage"
	EventFetchMessages = "fetchMessages"
)

// Inbound event names (server -> client).
const (
	EventReceiveMessage     = "receiveMessage"
	EventUpdateUsers        = "updateUsers"
	EventUpdateGroups       = "updateGroups"
	EventUpdateLastMessages = "updateLastMessages"

	// EventAck carries the reply to a request; Envelope.Ack holds the correlation token.
	EventAck = "ack"

	// EventError reports a rejected request; Data holds an ErrorPayload.
	EventError = "error"
)

// Envelope is a single frame on the persistent channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   string          `json:"ack,omitempty"`
}

// NewEnvelope marshals data into an envelope for the given event.
func NewEnvelope(event string, data any) (Envelope, error) {
	env := Envelope{Event: event}
	if data == nil {
		return env, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	env.Data = raw
	return env, nil
}

// FetchRequest is the payload of fetchMessages.
type FetchRequest struct {
	ChatID string   `json:"chatId"`
	Type   ChatType `json:"type"`
}

// CreateGroupRequest is the payload of createGroup.
type CreateGroupRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// ErrorPayload is the payload of an error frame.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Event is one of UsersUpdated, GroupsUpdated, PreviewsSynced or MessageReceived.
type Event interface {
	// Name returns the wire event name.
	Name() string

	isEvent()
}

// UsersUpdated is a full roster snapshot of users.
type UsersUpdated struct {
	Users []user.User
}

// GroupsUpdated is a full roster snapshot of groups.
type GroupsUpdated struct {
	Groups []Group
}

// PreviewsSynced is a bulk sync of conversation previews, one message per conversation.
type PreviewsSynced struct {
	Previews []Message
}

// MessageReceived is a single live message.
type MessageReceived struct {
	Message Message
}

func (UsersUpdated) Name() string    { return EventUpdateUsers }
func (GroupsUpdated) Name() string   { return EventUpdateGroups }
func (PreviewsSynced) Name() string  { return EventUpdateLastMessages }
func (MessageReceived) Name() string { return EventReceiveMessage }

func (UsersUpdated) isEvent()    {}
func (GroupsUpdated) isEvent()   {}
func (PreviewsSynced) isEvent()  {}
func (MessageReceived) isEvent() {}

// DecodeEvent turns an inbound envelope into a typed, validated Event.
// Unknown event names yield ErrEventUnknown; payloads that fail to parse or validate
// yield ErrEventMalformed. Bulk payloads are rejected as a whole.
func DecodeEvent(env Envelope) (Event, error) {
	switch env.Event {
	case EventUpdateUsers:
		var users []user.User
		if err := json.Unmarshal(env.Data, &users); err != nil {
			return nil, malformed(env.Event, err)
		}
		for _, u := range users {
			if u.Username == "" {
				return nil, malformed(env.Event, fmt.Errorf("user without username"))
			}
		}
		return UsersUpdated{Users: users}, nil

	case EventUpdateGroups:
		var groups []Group
		if err := json.Unmarshal(env.Data, &groups); err != nil {
			return nil, malformed(env.Event, err)
		}
		for _, g := range groups {
			if g.ID == "" {
				return nil, malformed(env.Event, fmt.Errorf("group without id"))
			}
		}
		return GroupsUpdated{Groups: groups}, nil

	case EventUpdateLastMessages:
		var mapping map[string]Message
		if err := json.Unmarshal(env.Data, &mapping); err != nil {
			return nil, malformed(env.Event, err)
		}

		// map iteration order is random; sort so decoding is deterministic
		labels := make([]string, 0, len(mapping))
		for label := range mapping {
			labels = append(labels, label)
		}
		sort.Strings(labels)

		previews := make([]Message, 0, len(mapping))
		for _, label := range labels {
			msg := mapping[label]
			if err := msg.Validate(); err != nil {
				return nil, malformed(env.Event, fmt.Errorf("preview %q: %w", label, err))
			}
			previews = append(previews, msg)
		}
		return PreviewsSynced{Previews: previews}, nil

	case EventReceiveMessage:
		var msg Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, malformed(env.Event, err)
		}
		if err := msg.Validate(); err != nil {
			return nil, malformed(env.Event, err)
		}
		return MessageReceived{Message: msg}, nil

	default:
		return nil, errs.NewError(errs.ErrEventUnknown, env.Event)
	}
}

// DecodeHistory parses the ordered history carried by a fetchMessages reply.
// Invalid entries are skipped; the remaining order is preserved.
func DecodeHistory(raw json.RawMessage) ([]Message, int, error) {
	var history []Message
	if len(raw) == 0 || string(raw) == "null" {
		return []Message{}, 0, nil
	}
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, 0, malformed(EventFetchMessages, err)
	}

	valid := history[:0]
	skipped := 0
	for _, msg := range history {
		if msg.Validate() != nil {
			skipped++
			continue
		}
		valid = append(valid, msg)
	}
	return valid, skipped, nil
}

func malformed(event string, cause error) error {
	return fmt.Errorf("%w: %v", errs.NewError(errs.ErrEventMalformed, event), cause)
}
