// Wire types for the Shepherd orchestrator REST API.
package orchestrator

import "time"

// TokenUsage is the usage snapshot returned by
// GET /api/conversations/{id}/token-usage.
type TokenUsage struct {
	ConversationID  string    `json:"conversation_id"`
	CurrentTokens   int       `json:"current_tokens"`
	Threshold       int       `json:"threshold"`
	UsagePercentage float64   `json:"usage_percentage"`
	NeedsCompacting *bool     `json:"needs_compacting,omitempty"`
	WorkflowCount   int       `json:"workflow_count"`
	LastUpdated     time.Time `json:"last_updated"`
	// WarningLevel is optional; when the orchestrator supplies it, it is
	// preferred over the client-side derivation.
	WarningLevel string `json:"warning_level,omitempty"`
}

// CompactRequest is the body of POST /api/conversations/{id}/compact.
type CompactRequest struct {
	ConversationID string `json:"conversation_id"`
	Strategy       string `json:"strategy"`
}

// CompactResult is the orchestrator's response to a compaction request.
type CompactResult struct {
	Success             bool      `json:"success"`
	StrategyUsed        string    `json:"strategy_used"`
	ReductionPercentage float64   `json:"reduction_percentage"`
	Timestamp           time.Time `json:"timestamp"`
	Error               string    `json:"error,omitempty"`
}

type conversationList struct {
	Conversations []string `json:"conversations"`
}
