package transcript

import (
	"slices"
	"sync"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
)

// Store is the concurrency-safe message store backing one conversation. The orchestrator is its only
// writer; presentation layers read snapshots through Messages.
//
// The pending reply is an explicit slot rather than an entry of the sequence. Messages renders it as the
// last entry, under models.PendingReplyID, so there is never more than one.
type Store struct {
	mu      sync.RWMutex
	entries []models.Message
	pending *models.Message
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Messages returns a snapshot of the conversation in display order, with the pending reply slot rendered
// last if it is set.
func (s *Store) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]models.Message, 0, len(s.entries)+1)
	msgs = append(msgs, s.entries...)
	if s.pending != nil {
		msgs = append(msgs, *s.pending)
	}
	return msgs
}

// Entries returns a snapshot of the confirmed and optimistic entries, without the pending reply slot.
func (s *Store) Entries() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.entries)
}

// IDs returns the set of entry ids currently held.
func (s *Store) IDs() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return IDs(s.entries)
}

// HasPendingReply reports whether the pending reply slot is set.
func (s *Store) HasPendingReply() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.pending != nil
}

// InsertOptimistic appends a user message under a temporary id, before the server has accepted it.
func (s *Store) InsertOptimistic(tempID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = Insert(s.entries, models.Message{
		ID:   tempID,
		Role: models.RoleUser,
		Text: text,
	})
}

// Acknowledge records that the server accepted a user message under serverID. The optimistic entry
// bearing tempID is promoted in place; if there is none, the message is appended unless serverID is
// already present.
func (s *Store) Acknowledge(tempID, serverID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := Promote(s.entries, tempID, serverID)
	s.entries = Insert(entries, models.Message{
		ID:   serverID,
		Role: models.RoleUser,
		Text: text,
	})
}

// BeginReply sets the pending reply slot. Setting it while it is already set keeps a single slot.
func (s *Store) BeginReply() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = &models.Message{
		ID:   models.PendingReplyID,
		Role: models.RoleAssistant,
		Text: models.PendingReplyText,
	}
}

// DropReply clears the pending reply slot.
func (s *Store) DropReply() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = nil
}

// Reconcile merges the reply of a completed run into the store. The newest assistant message of list
// that the store does not know yet takes the place of the pending reply slot. It reports whether a
// replacement happened; when list holds no new assistant message, or no reply is pending, the store is
// left unchanged.
func (s *Store) Reconcile(list []models.RemoteMessage) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return models.Message{}, false
	}

	reply, ok := NewReply(IDs(s.entries), list)
	if !ok {
		return models.Message{}, false
	}

	s.entries = Insert(s.entries, reply)
	s.pending = nil
	return reply, true
}

// Restore replaces the whole conversation, used when resuming an archived session. Duplicate ids and the
// reserved pending reply id are skipped.
func (s *Store) Restore(msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []models.Message
	for _, m := range msgs {
		if m.ID == models.PendingReplyID {
			continue
		}
		entries = Insert(entries, m)
	}
	s.entries = entries
	s.pending = nil
}

// Reset empties the store.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	s.pending = nil
}
