package session

import (
	"context"
	"sort"
	"time"

	"github.com/shepherdhq/console/pkg/db"
	"github.com/shepherdhq/console/pkg/event"
)

// List returns all known conversations, most recently active first.
func (s *Store) List() []db.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]db.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out
}

// Get returns a copy of one conversation.
func (s *Store) Get(id string) (db.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return db.Conversation{}, false
	}
	return *c, true
}

// CurrentID returns the current-conversation pointer ("" when unset).
// The pointer may name a conversation the registry does not know yet;
// selection is optimistic and data availability is tracked separately.
func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// Current returns the current conversation, if the registry knows it.
func (s *Store) Current() (db.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[s.currentID]
	if !ok {
		return db.Conversation{}, false
	}
	return *c, true
}

// SetCurrent moves the current pointer. No existence validation: the GUI may
// select a conversation before its fetch completes.
func (s *Store) SetCurrent(id string) {
	s.mu.Lock()
	if s.currentID == id {
		s.mu.Unlock()
		return
	}
	s.currentID = id
	s.mu.Unlock()

	s.emitter.Emit(event.CurrentChanged{ConversationID: id})
}

// Upsert inserts or replaces a conversation by ID.
func (s *Store) Upsert(conv db.Conversation) {
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.LastActivityAt.IsZero() {
		conv.LastActivityAt = now
	}

	s.mu.Lock()
	c := conv
	s.conversations[conv.ID] = &c
	s.persistConversationLocked(&c)
	s.mu.Unlock()

	s.emitter.Emit(event.ConversationUpdated{ConversationID: conv.ID})
}

// Remove deletes a conversation along with its compaction history. When the
// removed conversation is current, the pointer is cleared rather than moved
// to some other conversation.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	delete(s.conversations, id)
	delete(s.history, id)
	wasCurrent := s.currentID == id
	if wasCurrent {
		s.currentID = ""
	}
	if s.usage != nil && s.usage.ConversationID == id {
		s.usage = nil
	}
	if s.db != nil {
		s.db.Delete(&db.Conversation{}, "id = ?", id)
		s.db.Delete(&db.CompactionRecord{}, "conversation_id = ?", id)
	}
	s.mu.Unlock()

	s.emitter.Emit(event.ConversationRemoved{ConversationID: id})
	if wasCurrent {
		s.emitter.Emit(event.CurrentChanged{ConversationID: ""})
	}
}

// RefreshConversations pulls the conversation list from the orchestrator.
// On failure the previously known list is preserved (stale-but-available
// beats empty) and the global error is set. Returns true on success.
func (s *Store) RefreshConversations(ctx context.Context) bool {
	ids, err := s.api.ListConversations(ctx)
	if err != nil {
		s.logger.Warn("Failed to refresh conversations", "error", err)
		s.mu.Lock()
		s.setErrorLocked("failed to fetch conversations: " + err.Error())
		s.mu.Unlock()
		return false
	}

	now := time.Now()
	var added []string

	s.mu.Lock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, known := s.conversations[id]; known {
			continue
		}
		c := &db.Conversation{
			ID:             id,
			Title:          "Conversation " + shortID(id),
			Active:         true,
			CreatedAt:      now,
			LastActivityAt: now,
		}
		s.conversations[id] = c
		s.persistConversationLocked(c)
		added = append(added, id)
	}
	s.setErrorLocked("")
	s.mu.Unlock()

	for _, id := range added {
		s.emitter.Emit(event.ConversationUpdated{ConversationID: id})
	}
	return true
}

// touchConversationLocked updates activity bookkeeping after a usage or
// compaction update. Callers hold s.mu.
func (s *Store) touchConversationLocked(id string, workflowCount int) {
	c, ok := s.conversations[id]
	if !ok {
		return
	}
	c.LastActivityAt = time.Now()
	if workflowCount > 0 {
		c.WorkflowCount = workflowCount
	}
	s.persistConversationLocked(c)
}

func (s *Store) persistConversationLocked(c *db.Conversation) {
	if s.db == nil {
		return
	}
	if err := s.db.Save(c).Error; err != nil {
		s.logger.Warn("Failed to persist conversation", "conversationID", c.ID, "error", err)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
