// Database models for the conversation registry
package db

import "time"

// Conversation represents a conversation known to the console.
// The registry is the sole mutator; everything else only reads.
type Conversation struct {
	ID             string    `json:"id" gorm:"primaryKey;size:64"`
	Title          string    `json:"title" gorm:"size:200;default:'New Conversation'"`
	WorkflowCount  int       `json:"workflow_count"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at" gorm:"index"`
}

func (Conversation) TableName() string {
	return "conversations"
}
