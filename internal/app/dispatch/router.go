/*
Package dispatch implements the inbound event router of the client engine.

Every pushed envelope passes through Route: it is decoded into one of the four protocol
events (rejecting unknown or malformed frames before any store sees them) and fanned out
to the roster store, the conversation index and the active conversation controller. The
router keeps no state of its own.
*/
package dispatch

import (
	"github.com/rs/zerolog"

	"messenger/internal/app/chat"
	"messenger/internal/app/user"
	"messenger/internal/pkg/logx"
)

// RosterTarget receives full roster and preview snapshots.
type RosterTarget interface {
	ApplyRosterUpdate(users []user.User)
	ApplyGroupUpdate(groups []chat.Group)
	ApplyPreviewUpdate(previews []chat.Message)
}

// IndexTarget records every live message.
type IndexTarget interface {
	Record(msg chat.Message) (bool, error)
}

// ConversationTarget receives every live message and keeps those for the open conversation.
type ConversationTarget interface {
	Receive(msg chat.Message) bool
}

// Router fans inbound events out to the stores.
type Router struct {
	roster       RosterTarget
	index        IndexTarget
	conversation ConversationTarget

	logger zerolog.Logger
}

// NewRouter constructs a Router over the three stores.
func NewRouter(roster RosterTarget, index IndexTarget, conversation ConversationTarget) *Router {
	return &Router{
		roster:       roster,
		index:        index,
		conversation: conversation,
		logger:       logx.Component("DispatchRouter"),
	}
}

// Route decodes env and applies it. Rejected envelopes leave every store untouched.
func (r *Router) Route(env chat.Envelope) (chat.Event, error) {
	ev, err := chat.DecodeEvent(env)
	if err != nil {
		r.logger.Warn().Err(err).Str("event", env.Event).Msg("Rejecting inbound event.")
		return nil, err
	}

	r.Apply(ev)
	return ev, nil
}

// Apply routes an already decoded event.
func (r *Router) Apply(ev chat.Event) {
	switch e := ev.(type) {
	case chat.UsersUpdated:
		r.roster.ApplyRosterUpdate(e.Users)

	case chat.GroupsUpdated:
		r.roster.ApplyGroupUpdate(e.Groups)

	case chat.PreviewsSynced:
		r.roster.ApplyPreviewUpdate(e.Previews)

	case chat.MessageReceived:
		if _, err := r.index.Record(e.Message); err != nil {
			r.logger.Warn().Err(err).Msg("Conversation index rejected message.")
		}
		r.conversation.Receive(e.Message)
	}
}
