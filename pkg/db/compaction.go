// Database models for compaction history
package db

import "time"

// CompactionRecord is one completed compaction attempt, success or failure.
// History is bounded per conversation; older rows are evicted on append.
type CompactionRecord struct {
	ID                  string    `json:"id" gorm:"primaryKey;size:36"`
	ConversationID      string    `json:"conversation_id" gorm:"index;size:64;not null"`
	Strategy            string    `json:"strategy" gorm:"size:100"`
	ReductionPercentage float64   `json:"reduction_percentage"`
	Success             bool      `json:"success"`
	Error               string    `json:"error,omitempty" gorm:"type:text"`
	Timestamp           time.Time `json:"timestamp" gorm:"index"`
}

func (CompactionRecord) TableName() string {
	return "compaction_records"
}
