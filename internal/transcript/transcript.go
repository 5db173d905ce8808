// Package transcript holds the client-side view of a conversation: an ordered sequence of messages plus an
// optional pending reply slot shown while a run is in progress.
//
// The reconciliation rules are plain functions over []models.Message. Each of them returns a new slice,
// preserves the relative order of the entries it keeps, and is idempotent: applying it twice with the
// same arguments yields the same sequence as applying it once. Store composes them under a lock.
package transcript

import (
	"slices"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
)

// IDs returns the set of ids present in msgs.
func IDs(msgs []models.Message) map[string]struct{} {
	ids := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		ids[m.ID] = struct{}{}
	}
	return ids
}

// Insert appends m to msgs unless an entry with the same id is already present.
func Insert(msgs []models.Message, m models.Message) []models.Message {
	out := slices.Clone(msgs)
	if slices.ContainsFunc(out, func(e models.Message) bool { return e.ID == m.ID }) {
		return out
	}
	return append(out, m)
}

// Promote replaces the temporary id of an optimistic entry with the id the server assigned, keeping the
// entry at its position. If an entry with serverID already exists, the temporary entry is dropped instead
// so that the sequence never holds two entries with the same id.
func Promote(msgs []models.Message, tempID, serverID string) []models.Message {
	out := slices.Clone(msgs)
	if tempID == serverID {
		return out
	}

	tempIdx := slices.IndexFunc(out, func(e models.Message) bool { return e.ID == tempID })
	if tempIdx == -1 {
		return out
	}

	if slices.ContainsFunc(out, func(e models.Message) bool { return e.ID == serverID }) {
		return slices.Delete(out, tempIdx, tempIdx+1)
	}

	out[tempIdx].ID = serverID
	return out
}

// NewReply picks the assistant reply produced by a run out of a thread listing. It keeps the messages
// whose id is not in known and whose role is assistant, and returns the last of them in list order. The
// boolean is false if the listing holds no such message.
func NewReply(known map[string]struct{}, list []models.RemoteMessage) (models.Message, bool) {
	for i := len(list) - 1; i >= 0; i-- {
		rm := list[i]
		if rm.Role != models.RoleAssistant {
			continue
		}
		if _, ok := known[rm.ID]; ok {
			continue
		}
		return models.Message{
			ID:   rm.ID,
			Role: models.RoleAssistant,
			Text: rm.FirstText(),
		}, true
	}
	return models.Message{}, false
}
