package event

// Event names.
const (
	NameConversationUpdated = "conversation.updated"
	NameConversationRemoved = "conversation.removed"
	NameCurrentChanged      = "conversation.current_changed"
	NameUsageUpdated        = "usage.updated"
	NameCompactionFinished  = "compaction.finished"
	NameExportUpdated       = "export.updated"
	NameFlowCommunication   = "flow.communication"
	NameFlowMemory          = "flow.memory"
)

// ConversationUpdated fires when a conversation is inserted or replaced.
type ConversationUpdated struct {
	ConversationID string `json:"conversation_id"`
}

func (ConversationUpdated) EventName() string { return NameConversationUpdated }

// ConversationRemoved fires when a conversation is deleted.
type ConversationRemoved struct {
	ConversationID string `json:"conversation_id"`
}

func (ConversationRemoved) EventName() string { return NameConversationRemoved }

// CurrentChanged fires when the current-conversation pointer moves.
// ConversationID is empty when the pointer was cleared.
type CurrentChanged struct {
	ConversationID string `json:"conversation_id"`
}

func (CurrentChanged) EventName() string { return NameCurrentChanged }

// UsageUpdated fires when the token-usage snapshot changes.
type UsageUpdated struct {
	ConversationID string `json:"conversation_id"`
	WarningLevel   string `json:"warning_level"`
}

func (UsageUpdated) EventName() string { return NameUsageUpdated }

// CompactionFinished fires once per completed compaction attempt.
type CompactionFinished struct {
	ConversationID string  `json:"conversation_id"`
	Strategy       string  `json:"strategy"`
	Success        bool    `json:"success"`
	Reduction      float64 `json:"reduction_percentage"`
}

func (CompactionFinished) EventName() string { return NameCompactionFinished }

// ExportUpdated fires on every export job state or progress change.
type ExportUpdated struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (ExportUpdated) EventName() string { return NameExportUpdated }

// FlowMessage is a message republished from one of the orchestrator's
// push channels. The core never depends on these; they feed display panels.
type FlowMessage struct {
	Channel string         `json:"channel"`
	Payload map[string]any `json:"payload"`
}

func (m FlowMessage) EventName() string {
	if m.Channel == "memory" {
		return NameFlowMemory
	}
	return NameFlowCommunication
}
