package conversation

import (
	"sort"

	"github.com/somuraj07/saams/internal/models"
)

// Transcript is the canonical set of messages of one appointment, keyed by
// message ID.
type Transcript map[string]models.ChatMessage

// Merge returns a new transcript holding current plus every message of batch
// whose ID is not already present. Present IDs are never overwritten, so
// merging is idempotent and the result does not depend on arrival order.
func Merge(current Transcript, batch ...models.ChatMessage) Transcript {
	next := make(Transcript, len(current)+len(batch))
	for id, m := range current {
		next[id] = m
	}
	for _, m := range batch {
		if m.ID == "" {
			continue
		}
		if _, ok := next[m.ID]; ok {
			continue
		}
		next[m.ID] = m
	}
	return next
}

// Has reports whether a message with id is in the transcript.
func (t Transcript) Has(id string) bool {
	_, ok := t[id]
	return ok
}

// Messages renders the transcript oldest first; equal timestamps are ordered by ID.
func (t Transcript) Messages() []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(t))
	for _, m := range t {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
