package dashboard

import (
	"testing"

	"github.com/shepherdhq/console/pkg/db"
	"github.com/shepherdhq/console/pkg/event"
	"github.com/shepherdhq/console/pkg/session"
)

func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	s, err := session.NewStore(session.Options{Emitter: event.NewEmitter()})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func TestSource_UnknownWidget(t *testing.T) {
	src := Source(newTestStore(t))
	if _, err := src([]string{"nonsense"}); err == nil {
		t.Fatalf("unknown widget must be an error")
	}
}

func TestSource_ConversationsWidget(t *testing.T) {
	s := newTestStore(t)
	s.Upsert(db.Conversation{ID: "c1", Title: "Planning", WorkflowCount: 3, Active: true})

	widgets, err := Source(s)([]string{WidgetConversations})
	if err != nil {
		t.Fatalf("Source() error = %v", err)
	}
	if len(widgets) != 1 {
		t.Fatalf("widgets = %d, want 1", len(widgets))
	}
	w := widgets[0]
	if len(w.Rows) != 1 || w.Rows[0][0] != "c1" || w.Rows[0][1] != "Planning" {
		t.Fatalf("rows = %+v", w.Rows)
	}
	if len(w.Values) != 1 || w.Values[0] != 3 {
		t.Fatalf("values = %v", w.Values)
	}
}

func TestSource_UsageWidgetWithoutSnapshot(t *testing.T) {
	widgets, err := Source(newTestStore(t))([]string{WidgetTokenUsage})
	if err != nil {
		t.Fatalf("Source() error = %v", err)
	}
	if len(widgets[0].Rows) != 1 || widgets[0].Rows[0][1] != "no snapshot" {
		t.Fatalf("rows = %+v, want placeholder", widgets[0].Rows)
	}
}

func TestSource_UsageWidgetWithSnapshot(t *testing.T) {
	s := newTestStore(t)
	s.SetUsage(session.TokenUsage{ConversationID: "c1", CurrentTokens: 950, Threshold: 1000})

	widgets, err := Source(s)([]string{WidgetTokenUsage})
	if err != nil {
		t.Fatalf("Source() error = %v", err)
	}
	rows := widgets[0].Rows
	if len(rows) != 5 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0][1] != "c1" || rows[1][1] != "950" || rows[4][1] != "critical" {
		t.Fatalf("rows = %+v", rows)
	}
}
