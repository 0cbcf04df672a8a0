/*
Package preview implements the conversation index: the latest known message per conversation key.

Every message observed by the client updates the index, regardless of which conversation is
open. Older messages never replace newer ones, which keeps previews stable when a reconnect
replays messages out of order.
*/
package preview

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"messenger/internal/app/chat"
	"messenger/internal/pkg/logx"
)

// Index maps conversation keys to their latest message.
type Index struct {
	// mu protects previews; readers on other goroutines get copies.
	mu sync.RWMutex

	previews map[chat.Key]chat.Message

	logger zerolog.Logger
}

// NewIndex constructs an empty Index.
func NewIndex() *Index {
	return &Index{
		previews: make(map[chat.Key]chat.Message),
		logger:   logx.Component("ConversationIndex"),
	}
}

// Record stores msg as the preview of its conversation unless the stored preview is newer.
// It returns whether the index changed. Re-recording an identical message is a no-op.
func (i *Index) Record(msg chat.Message) (bool, error) {
	if err := msg.Validate(); err != nil {
		return false, err
	}

	key := msg.Key()

	i.mu.Lock()
	defer i.mu.Unlock()

	if current, ok := i.previews[key]; ok {
		if msg.Time.Before(current.Time) {
			i.logger.Debug().
				Str("conversation", key.String()).
				Time("stored", current.Time).
				Time("received", msg.Time).
				Msg("Ignoring out-of-order message for preview.")
			return false, nil
		}
		if current.SameAs(msg) {
			return false, nil
		}
	}

	i.previews[key] = msg
	return true, nil
}

// Replace swaps in a bulk-synced preview set. A locally held preview survives when it is
// strictly newer than the synced one for its key, or, for a key the sync does not mention,
// strictly newer than every synced preview (it arrived after the snapshot was taken).
func (i *Index) Replace(previews []chat.Message) {
	next := make(map[chat.Key]chat.Message, len(previews))
	var newest time.Time
	for _, msg := range previews {
		if msg.Time.After(newest) {
			newest = msg.Time
		}
		key := msg.Key()
		if existing, ok := next[key]; ok && existing.Time.After(msg.Time) {
			continue
		}
		next[key] = msg
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	kept := 0
	for key, local := range i.previews {
		synced, ok := next[key]
		switch {
		case ok && local.Time.After(synced.Time):
		case !ok && len(next) > 0 && local.Time.After(newest):
		default:
			continue
		}
		next[key] = local
		kept++
	}
	i.previews = next

	i.logger.Debug().
		Int("previews", len(next)).
		Int("kept_newer_local", kept).
		Msg("Preview bulk sync applied.")
}

// Get returns the preview of key, if any.
func (i *Index) Get(key chat.Key) (chat.Message, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	msg, ok := i.previews[key]
	return msg, ok
}

// Len returns the number of conversations with a preview.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return len(i.previews)
}

// Snapshot returns a point-in-time copy of every preview.
func (i *Index) Snapshot() map[chat.Key]chat.Message {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make(map[chat.Key]chat.Message, len(i.previews))
	for k, v := range i.previews {
		out[k] = v
	}
	return out
}
