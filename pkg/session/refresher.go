package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Refresher periodically re-fetches token usage for the current conversation
// so the monitor tracks the live value even without user activity.
type Refresher struct {
	cron *cron.Cron
}

// StartRefresher schedules a usage refresh every interval. A non-positive
// interval disables the refresher and returns nil.
func StartRefresher(store *Store, interval time.Duration) (*Refresher, error) {
	if interval <= 0 {
		return nil, nil
	}

	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		id := store.CurrentID()
		if id == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		store.FetchUsage(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("schedule usage refresh: %w", err)
	}

	c.Start()
	return &Refresher{cron: c}, nil
}

// Stop halts the refresh schedule. Safe on nil.
func (r *Refresher) Stop() {
	if r == nil {
		return
	}
	r.cron.Stop()
}
