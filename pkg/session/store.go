// Package session holds the console's session state: the conversation
// registry, the token-usage monitor and the compaction coordinator. All
// mutation goes through Store methods; nothing outside this package writes
// its fields.
package session

import (
	"context"
	"log/slog"
	"sync"

	"gorm.io/gorm"

	"github.com/shepherdhq/console/pkg/db"
	"github.com/shepherdhq/console/pkg/event"
	"github.com/shepherdhq/console/pkg/orchestrator"
	"github.com/shepherdhq/console/pkg/utils"
)

// API is the slice of the orchestrator client the store depends on.
type API interface {
	ListConversations(ctx context.Context) ([]string, error)
	GetTokenUsage(ctx context.Context, conversationID string) (*orchestrator.TokenUsage, error)
	Compact(ctx context.Context, conversationID, strategy string) (*orchestrator.CompactResult, error)
}

// WarningLevel classifies how close a conversation is to needing compaction.
type WarningLevel string

const (
	WarningNone     WarningLevel = "none"
	WarningWarning  WarningLevel = "warning"
	WarningCritical WarningLevel = "critical"
)

// Thresholds are the configurable warning-level cut points, in percent.
type Thresholds struct {
	WarningPercent  float64
	CriticalPercent float64
}

// Level maps a usage percentage to a warning level. It is monotonic in the
// percentage by construction.
func (t Thresholds) Level(usagePercentage float64) WarningLevel {
	switch {
	case usagePercentage >= t.CriticalPercent:
		return WarningCritical
	case usagePercentage >= t.WarningPercent:
		return WarningWarning
	default:
		return WarningNone
	}
}

// TokenUsage is the monitor's snapshot. At most one is held at a time,
// scoped to whichever conversation was last fetched.
type TokenUsage struct {
	ConversationID  string       `json:"conversation_id"`
	CurrentTokens   int          `json:"current_tokens"`
	Threshold       int          `json:"threshold"`
	UsagePercentage float64      `json:"usage_percentage"`
	NeedsCompacting bool         `json:"needs_compacting"`
	WorkflowCount   int          `json:"workflow_count"`
	LastUpdated     int64        `json:"last_updated"` // Unix ms
	WarningLevel    WarningLevel `json:"warning_level"`
}

// Options configures a Store.
type Options struct {
	API        API
	DB         *gorm.DB // nil disables persistence
	Emitter    *event.Emitter
	Thresholds Thresholds
	HistoryCap int
}

// Store is the session-state coordinator. A single mutex serializes all
// writes, mirroring the event-loop discipline the GUI expects.
type Store struct {
	mu sync.Mutex

	api     API
	db      *gorm.DB
	emitter *event.Emitter
	logger  *slog.Logger

	thresholds Thresholds
	historyCap int

	conversations map[string]*db.Conversation
	currentID     string

	usage *TokenUsage
	// usageIssue/usageApplied implement last-write-by-issue-order for usage
	// fetches: a stale completion never overwrites a newer one.
	usageIssue   map[string]uint64
	usageApplied map[string]uint64

	inflight map[string]bool
	history  map[string][]db.CompactionRecord

	lastError string
}

// NewStore builds a store and, when persistence is enabled, loads the known
// conversations and compaction history from disk. Usage snapshots are never
// loaded; they are live, server-authoritative values.
func NewStore(opts Options) (*Store, error) {
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = 20
	}
	if opts.Thresholds.WarningPercent <= 0 {
		opts.Thresholds.WarningPercent = 70
	}
	if opts.Thresholds.CriticalPercent <= 0 {
		opts.Thresholds.CriticalPercent = 90
	}
	if opts.Emitter == nil {
		opts.Emitter = event.Global()
	}

	s := &Store{
		api:           opts.API,
		db:            opts.DB,
		emitter:       opts.Emitter,
		logger:        utils.GetLogger(),
		thresholds:    opts.Thresholds,
		historyCap:    opts.HistoryCap,
		conversations: make(map[string]*db.Conversation),
		usageIssue:    make(map[string]uint64),
		usageApplied:  make(map[string]uint64),
		inflight:      make(map[string]bool),
		history:       make(map[string][]db.CompactionRecord),
	}

	if s.db != nil {
		if err := s.loadPersisted(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) loadPersisted() error {
	var convs []db.Conversation
	if err := s.db.Find(&convs).Error; err != nil {
		return err
	}
	for i := range convs {
		c := convs[i]
		s.conversations[c.ID] = &c
	}

	var records []db.CompactionRecord
	if err := s.db.Order("timestamp DESC").Find(&records).Error; err != nil {
		return err
	}
	for _, r := range records {
		if len(s.history[r.ConversationID]) < s.historyCap {
			s.history[r.ConversationID] = append(s.history[r.ConversationID], r)
		}
	}
	return nil
}

// LastError returns the most recent registry/monitor-level failure, or "".
// Compaction and export failures are recorded in their own scopes and never
// overwrite this.
func (s *Store) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Thresholds returns the configured warning thresholds.
func (s *Store) Thresholds() Thresholds {
	return s.thresholds
}

func (s *Store) setErrorLocked(msg string) {
	s.lastError = msg
}
