package session

import (
	"context"
	"time"

	"github.com/shepherdhq/console/pkg/event"
	"github.com/shepherdhq/console/pkg/orchestrator"
)

// Usage returns the monitor's snapshot. The second result is false when no
// snapshot is held (e.g., right after startup or after removing the tracked
// conversation). Callers must check ConversationID against the current
// pointer before trusting it for display.
func (s *Store) Usage() (TokenUsage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usage == nil {
		return TokenUsage{}, false
	}
	return *s.usage, true
}

// SetUsage replaces the snapshot wholesale. LastUpdated is stamped "now" and
// the warning level is re-derived unless the caller supplied one (the
// orchestrator's own classification wins when present).
func (s *Store) SetUsage(u TokenUsage) {
	s.mu.Lock()
	s.applyUsageLocked(&u)
	s.mu.Unlock()

	s.emitter.Emit(event.UsageUpdated{ConversationID: u.ConversationID, WarningLevel: string(u.WarningLevel)})
}

// UsagePatch is a partial usage update; nil fields are left unchanged.
type UsagePatch struct {
	CurrentTokens   *int
	Threshold       *int
	NeedsCompacting *bool
	WorkflowCount   *int
}

// PatchUsage merges a partial update into the existing snapshot and
// re-derives the percentage and warning level. It is a no-op, not an error,
// when no snapshot exists yet.
func (s *Store) PatchUsage(p UsagePatch) {
	s.mu.Lock()
	if s.usage == nil {
		s.mu.Unlock()
		return
	}
	u := *s.usage
	if p.CurrentTokens != nil {
		u.CurrentTokens = *p.CurrentTokens
	}
	if p.Threshold != nil {
		u.Threshold = *p.Threshold
	}
	if p.NeedsCompacting != nil {
		u.NeedsCompacting = *p.NeedsCompacting
	}
	if p.WorkflowCount != nil {
		u.WorkflowCount = *p.WorkflowCount
	}
	// A patch always re-derives: percentage and level must never go stale
	// relative to the tokens they describe.
	u.UsagePercentage = percentage(u.CurrentTokens, u.Threshold)
	u.WarningLevel = s.thresholds.Level(u.UsagePercentage)
	s.applyUsageLocked(&u)
	snapshot := u
	s.mu.Unlock()

	s.emitter.Emit(event.UsageUpdated{ConversationID: snapshot.ConversationID, WarningLevel: string(snapshot.WarningLevel)})
}

// FetchUsage requests the latest usage for a conversation from the
// orchestrator and applies it. On failure the last known snapshot is
// preserved and the global error is set. Stale completions are discarded:
// if a later-issued fetch for the same conversation already applied, this
// one's result is dropped. Returns true on success.
func (s *Store) FetchUsage(ctx context.Context, conversationID string) bool {
	s.mu.Lock()
	s.usageIssue[conversationID]++
	issue := s.usageIssue[conversationID]
	s.mu.Unlock()

	wire, err := s.api.GetTokenUsage(ctx, conversationID)
	if err != nil {
		s.logger.Warn("Failed to fetch token usage", "conversationID", conversationID, "error", err)
		s.mu.Lock()
		s.setErrorLocked("failed to fetch token usage: " + err.Error())
		s.mu.Unlock()
		return false
	}

	u := s.fromWire(wire)

	s.mu.Lock()
	if issue <= s.usageApplied[conversationID] {
		// A newer fetch for this conversation has already landed.
		s.mu.Unlock()
		return true
	}
	s.usageApplied[conversationID] = issue
	s.applyUsageLocked(&u)
	s.setErrorLocked("")
	s.mu.Unlock()

	s.emitter.Emit(event.UsageUpdated{ConversationID: u.ConversationID, WarningLevel: string(u.WarningLevel)})
	return true
}

// applyUsageLocked normalizes and installs a snapshot. Callers hold s.mu.
func (s *Store) applyUsageLocked(u *TokenUsage) {
	if u.UsagePercentage == 0 && u.CurrentTokens > 0 {
		u.UsagePercentage = percentage(u.CurrentTokens, u.Threshold)
	}
	if u.WarningLevel == "" {
		u.WarningLevel = s.thresholds.Level(u.UsagePercentage)
	}
	u.LastUpdated = time.Now().UnixMilli()
	s.usage = u
	s.touchConversationLocked(u.ConversationID, u.WorkflowCount)
}

// fromWire converts the orchestrator's snapshot, deriving whatever the
// upstream omitted.
func (s *Store) fromWire(w *orchestrator.TokenUsage) TokenUsage {
	u := TokenUsage{
		ConversationID:  w.ConversationID,
		CurrentTokens:   w.CurrentTokens,
		Threshold:       w.Threshold,
		UsagePercentage: w.UsagePercentage,
		WorkflowCount:   w.WorkflowCount,
	}
	if u.UsagePercentage == 0 {
		u.UsagePercentage = percentage(u.CurrentTokens, u.Threshold)
	}
	if w.WarningLevel != "" {
		u.WarningLevel = WarningLevel(w.WarningLevel)
	} else {
		u.WarningLevel = s.thresholds.Level(u.UsagePercentage)
	}
	if w.NeedsCompacting != nil {
		u.NeedsCompacting = *w.NeedsCompacting
	} else {
		u.NeedsCompacting = u.WarningLevel == WarningCritical
	}
	return u
}

func percentage(current, threshold int) float64 {
	if threshold <= 0 {
		return 0
	}
	return float64(current) / float64(threshold) * 100
}
