// Package dashboard turns live session state into exportable widget data.
package dashboard

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shepherdhq/console/pkg/export"
	"github.com/shepherdhq/console/pkg/session"
)

// Widget IDs the analytics surface exposes.
const (
	WidgetConversations = "conversations"
	WidgetTokenUsage    = "token-usage"
	WidgetHistory       = "compaction-history"
)

// Source builds an export.Source over the session store. Widget data is
// captured at job start time, so an export reflects one consistent view.
func Source(store *session.Store) export.Source {
	return func(ids []string) ([]export.Widget, error) {
		widgets := make([]export.Widget, 0, len(ids))
		for _, id := range ids {
			switch id {
			case WidgetConversations:
				widgets = append(widgets, conversationsWidget(store))
			case WidgetTokenUsage:
				widgets = append(widgets, usageWidget(store))
			case WidgetHistory:
				widgets = append(widgets, historyWidget(store))
			default:
				return nil, fmt.Errorf("unknown widget %q", id)
			}
		}
		return widgets, nil
	}
}

func conversationsWidget(store *session.Store) export.Widget {
	convs := store.List()
	w := export.Widget{
		ID:      WidgetConversations,
		Title:   "Conversations",
		Columns: []string{"ID", "Title", "Workflows", "Active", "Last Activity"},
	}
	for _, c := range convs {
		w.Rows = append(w.Rows, []string{
			c.ID,
			c.Title,
			strconv.Itoa(c.WorkflowCount),
			strconv.FormatBool(c.Active),
			c.LastActivityAt.Format(time.RFC3339),
		})
		w.Values = append(w.Values, float64(c.WorkflowCount))
	}
	return w
}

func usageWidget(store *session.Store) export.Widget {
	w := export.Widget{
		ID:      WidgetTokenUsage,
		Title:   "Token Usage",
		Columns: []string{"Metric", "Value"},
	}
	u, ok := store.Usage()
	if !ok {
		w.Rows = append(w.Rows, []string{"status", "no snapshot"})
		return w
	}
	w.Rows = [][]string{
		{"conversation", u.ConversationID},
		{"current tokens", strconv.Itoa(u.CurrentTokens)},
		{"threshold", strconv.Itoa(u.Threshold)},
		{"usage %", strconv.FormatFloat(u.UsagePercentage, 'f', 1, 64)},
		{"warning level", string(u.WarningLevel)},
	}
	w.Values = []float64{0, float64(u.CurrentTokens), float64(u.Threshold), u.UsagePercentage, 0}
	return w
}

func historyWidget(store *session.Store) export.Widget {
	w := export.Widget{
		ID:      WidgetHistory,
		Title:   "Compaction History",
		Columns: []string{"Timestamp", "Conversation", "Strategy", "Reduction %", "Success"},
	}
	id := store.CurrentID()
	if id == "" {
		return w
	}
	for _, rec := range store.History(id) {
		w.Rows = append(w.Rows, []string{
			rec.Timestamp.Format(time.RFC3339),
			rec.ConversationID,
			rec.Strategy,
			strconv.FormatFloat(rec.ReductionPercentage, 'f', 1, 64),
			strconv.FormatBool(rec.Success),
		})
		w.Values = append(w.Values, rec.ReductionPercentage)
	}
	return w
}
