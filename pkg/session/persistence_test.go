package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shepherdhq/console/pkg/db"
	"github.com/shepherdhq/console/pkg/event"
)

func TestStore_PersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.db")
	database, err := db.Open(path)
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}

	api := &fakeAPI{compactErr: errors.New("orchestrator down")}
	s, err := NewStore(Options{API: api, DB: database, Emitter: event.NewEmitter(), HistoryCap: 3})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	s.Upsert(db.Conversation{ID: "c1", Title: "Planning session"})
	for i := 0; i < 5; i++ {
		s.Compact(context.Background(), "c1", "truncate")
	}
	// Usage snapshots must NOT survive a restart.
	s.SetUsage(TokenUsage{ConversationID: "c1", CurrentTokens: 500, Threshold: 1000})

	reopened, err := db.Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	s2, err := NewStore(Options{API: api, DB: reopened, Emitter: event.NewEmitter(), HistoryCap: 3})
	if err != nil {
		t.Fatalf("NewStore() after restart error = %v", err)
	}

	conv, ok := s2.Get("c1")
	if !ok || conv.Title != "Planning session" {
		t.Fatalf("conversation not restored: %+v, %v", conv, ok)
	}
	hist := s2.History("c1")
	if len(hist) != 3 {
		t.Fatalf("restored history len = %d, want capped 3", len(hist))
	}
	for i := 1; i < len(hist); i++ {
		if hist[i].Timestamp.After(hist[i-1].Timestamp) {
			t.Fatalf("restored history not most-recent-first at %d", i)
		}
	}
	if _, ok := s2.Usage(); ok {
		t.Fatalf("usage snapshot must not persist across restarts")
	}
}

func TestStore_RemoveDeletesPersistedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.db")
	database, err := db.Open(path)
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}

	api := &fakeAPI{compactErr: errors.New("nope")}
	s, err := NewStore(Options{API: api, DB: database, Emitter: event.NewEmitter()})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	s.Upsert(db.Conversation{ID: "gone"})
	s.Compact(context.Background(), "gone", "summarize")
	s.Remove("gone")

	s2, err := NewStore(Options{API: api, DB: database, Emitter: event.NewEmitter()})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s2.Get("gone"); ok {
		t.Fatalf("removed conversation came back after reload")
	}
	if got := len(s2.History("gone")); got != 0 {
		t.Fatalf("removed conversation's history came back: %d entries", got)
	}
}
