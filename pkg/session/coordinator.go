package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shepherdhq/console/pkg/db"
	"github.com/shepherdhq/console/pkg/event"
)

// CompactOutcome reports a compaction attempt to the caller. Failures are a
// false Success plus a recorded history entry, never a panic or stray error
// the GUI would have to catch at every call site.
type CompactOutcome struct {
	Success             bool    `json:"success"`
	Busy                bool    `json:"busy"`
	Strategy            string  `json:"strategy"`
	ReductionPercentage float64 `json:"reduction_percentage"`
	Error               string  `json:"error,omitempty"`
}

// Compact issues a compaction request for a conversation.
//
// At most one request may be in flight per conversation: a second call while
// the first is pending is rejected immediately with Busy=true and reaches
// neither the orchestrator nor the history. Compaction is expensive and
// side-effecting upstream; racing two requests against the same conversation
// log would leave the truncation order undefined.
//
// Every completed attempt, success or failure, appends exactly one history
// entry. After a successful attempt the conversation's token usage is
// re-fetched unconditionally: compaction just changed it, and showing the
// stale number is the one failure mode this subsystem exists to avoid.
func (s *Store) Compact(ctx context.Context, conversationID, strategy string) CompactOutcome {
	s.mu.Lock()
	if s.inflight[conversationID] {
		s.mu.Unlock()
		return CompactOutcome{Busy: true, Strategy: strategy, Error: "compaction already in progress"}
	}
	s.inflight[conversationID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, conversationID)
		s.mu.Unlock()
	}()

	s.logger.Info("Requesting compaction", "conversationID", conversationID, "strategy", strategy)

	result, err := s.api.Compact(ctx, conversationID, strategy)
	if err != nil {
		s.recordCompaction(conversationID, strategy, 0, false, err.Error())
		return CompactOutcome{Strategy: strategy, Error: err.Error()}
	}

	strategyUsed := result.StrategyUsed
	if strategyUsed == "" {
		strategyUsed = strategy
	}

	if !result.Success {
		reduction := result.ReductionPercentage
		s.recordCompaction(conversationID, strategyUsed, reduction, false, result.Error)
		return CompactOutcome{Strategy: strategyUsed, ReductionPercentage: reduction, Error: result.Error}
	}

	s.recordCompaction(conversationID, strategyUsed, result.ReductionPercentage, true, "")
	s.logger.Info("Compaction succeeded",
		"conversationID", conversationID,
		"strategy", strategyUsed,
		"reduction", result.ReductionPercentage)

	s.FetchUsage(ctx, conversationID)

	return CompactOutcome{Success: true, Strategy: strategyUsed, ReductionPercentage: result.ReductionPercentage}
}

// CompactionInFlight reports whether a compaction is pending for the
// conversation.
func (s *Store) CompactionInFlight(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[conversationID]
}

// History returns the conversation's compaction history, most recent first,
// bounded by the configured capacity.
func (s *Store) History(conversationID string) []db.CompactionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.history[conversationID]
	out := make([]db.CompactionRecord, len(entries))
	copy(out, entries)
	return out
}

// recordCompaction appends one history entry, evicting the oldest beyond
// capacity, and mirrors the bound to the database.
func (s *Store) recordCompaction(conversationID, strategy string, reduction float64, success bool, errMsg string) {
	rec := db.CompactionRecord{
		ID:                  uuid.NewString(),
		ConversationID:      conversationID,
		Strategy:            strategy,
		ReductionPercentage: reduction,
		Success:             success,
		Error:               errMsg,
		Timestamp:           time.Now(),
	}

	s.mu.Lock()
	entries := append([]db.CompactionRecord{rec}, s.history[conversationID]...)
	if len(entries) > s.historyCap {
		entries = entries[:s.historyCap]
	}
	s.history[conversationID] = entries

	if s.db != nil {
		if err := s.db.Create(&rec).Error; err != nil {
			s.logger.Warn("Failed to persist compaction record", "conversationID", conversationID, "error", err)
		}
		// Keep the persisted history bounded too.
		var ids []string
		s.db.Model(&db.CompactionRecord{}).
			Where("conversation_id = ?", conversationID).
			Order("timestamp DESC").
			Offset(s.historyCap).
			Pluck("id", &ids)
		if len(ids) > 0 {
			s.db.Delete(&db.CompactionRecord{}, "id IN ?", ids)
		}
	}
	s.touchConversationLocked(conversationID, 0)
	s.mu.Unlock()

	s.emitter.Emit(event.CompactionFinished{
		ConversationID: conversationID,
		Strategy:       strategy,
		Success:        success,
		Reduction:      reduction,
	})
}

// Select makes a conversation current and fetches fresh usage for it before
// the monitor's data may be trusted for the new conversation. The pointer
// moves immediately (optimistic selection); the fetch completes async
// semantics for the caller via the returned success flag.
func (s *Store) Select(ctx context.Context, conversationID string) bool {
	s.SetCurrent(conversationID)
	if conversationID == "" {
		s.mu.Lock()
		s.usage = nil
		s.mu.Unlock()
		return true
	}
	return s.FetchUsage(ctx, conversationID)
}
