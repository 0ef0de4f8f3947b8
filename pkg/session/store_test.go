package session

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shepherdhq/console/pkg/db"
	"github.com/shepherdhq/console/pkg/event"
	"github.com/shepherdhq/console/pkg/orchestrator"
)

// fakeAPI is a controllable orchestrator double.
type fakeAPI struct {
	mu sync.Mutex

	listIDs []string
	listErr error

	usage      map[string]*orchestrator.TokenUsage
	usageErr   error
	usageCalls int
	// usageGate, when non-nil, blocks the next GetTokenUsage until closed.
	usageGate chan struct{}

	compactResult *orchestrator.CompactResult
	compactErr    error
	compactCalls  int
	// compactGate, when non-nil, blocks Compact until closed.
	compactGate chan struct{}
}

func (f *fakeAPI) ListConversations(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]string(nil), f.listIDs...), nil
}

func (f *fakeAPI) GetTokenUsage(ctx context.Context, id string) (*orchestrator.TokenUsage, error) {
	f.mu.Lock()
	f.usageCalls++
	gate := f.usageGate
	f.usageGate = nil
	err := f.usageErr
	var u *orchestrator.TokenUsage
	if f.usage != nil {
		if v, ok := f.usage[id]; ok {
			cp := *v
			u = &cp
		}
	}
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errors.New("unknown conversation")
	}
	return u, nil
}

func (f *fakeAPI) Compact(ctx context.Context, id, strategy string) (*orchestrator.CompactResult, error) {
	f.mu.Lock()
	f.compactCalls++
	gate := f.compactGate
	result := f.compactResult
	err := f.compactErr
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return &orchestrator.CompactResult{Success: true, StrategyUsed: strategy, Timestamp: time.Now()}, nil
	}
	cp := *result
	if cp.StrategyUsed == "" {
		cp.StrategyUsed = strategy
	}
	return &cp, nil
}

func (f *fakeAPI) usageCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usageCalls
}

func (f *fakeAPI) setUsage(id string, current, threshold int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usage == nil {
		f.usage = make(map[string]*orchestrator.TokenUsage)
	}
	f.usage[id] = &orchestrator.TokenUsage{
		ConversationID: id,
		CurrentTokens:  current,
		Threshold:      threshold,
	}
}

func newTestStore(t *testing.T, api API) *Store {
	t.Helper()
	s, err := NewStore(Options{
		API:        api,
		Emitter:    event.NewEmitter(),
		Thresholds: Thresholds{WarningPercent: 70, CriticalPercent: 90},
		HistoryCap: 20,
	})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func approxEqual(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func TestThresholds_LevelMonotonic(t *testing.T) {
	th := Thresholds{WarningPercent: 70, CriticalPercent: 90}
	rank := map[WarningLevel]int{WarningNone: 0, WarningWarning: 1, WarningCritical: 2}

	rng := rand.New(rand.NewSource(1))
	type sample struct {
		pct   float64
		level WarningLevel
	}
	samples := make([]sample, 0, 200)
	for i := 0; i < 200; i++ {
		current := rng.Intn(2000)
		threshold := 1 + rng.Intn(1500)
		pct := percentage(current, threshold)
		samples = append(samples, sample{pct: pct, level: th.Level(pct)})
	}

	for _, a := range samples {
		for _, b := range samples {
			if a.pct <= b.pct && rank[a.level] > rank[b.level] {
				t.Fatalf("warning level not monotonic: %.1f%%=%s but %.1f%%=%s",
					a.pct, a.level, b.pct, b.level)
			}
		}
	}
}

func TestThresholds_LevelBoundaries(t *testing.T) {
	th := Thresholds{WarningPercent: 70, CriticalPercent: 90}
	tests := []struct {
		pct  float64
		want WarningLevel
	}{
		{0, WarningNone},
		{69.9, WarningNone},
		{70, WarningWarning},
		{89.9, WarningWarning},
		{90, WarningCritical},
		{150, WarningCritical},
	}
	for _, tt := range tests {
		if got := th.Level(tt.pct); got != tt.want {
			t.Errorf("Level(%.1f) = %s, want %s", tt.pct, got, tt.want)
		}
	}
}

func TestRegistry_RemoveCurrent_ClearsPointer(t *testing.T) {
	s := newTestStore(t, &fakeAPI{})
	s.Upsert(db.Conversation{ID: "c1"})
	s.Upsert(db.Conversation{ID: "c2"})
	s.SetCurrent("c1")

	s.Remove("c1")

	if got := s.CurrentID(); got != "" {
		t.Fatalf("CurrentID() after removing current = %q, want empty", got)
	}
	if _, ok := s.Get("c2"); !ok {
		t.Fatalf("removing c1 should not touch c2")
	}
}

func TestRegistry_RemoveOther_KeepsPointer(t *testing.T) {
	s := newTestStore(t, &fakeAPI{})
	s.Upsert(db.Conversation{ID: "c1"})
	s.Upsert(db.Conversation{ID: "c2"})
	s.SetCurrent("c1")

	s.Remove("c2")

	if got := s.CurrentID(); got != "c1" {
		t.Fatalf("CurrentID() = %q, want c1", got)
	}
}

func TestRegistry_SetCurrent_AllowsUnknownID(t *testing.T) {
	s := newTestStore(t, &fakeAPI{})
	s.SetCurrent("not-fetched-yet")

	if got := s.CurrentID(); got != "not-fetched-yet" {
		t.Fatalf("CurrentID() = %q", got)
	}
	if _, ok := s.Current(); ok {
		t.Fatalf("Current() should report unknown for optimistic selection")
	}
	if _, ok := s.Usage(); ok {
		t.Fatalf("Usage() should be absent for unknown current")
	}
}

func TestRegistry_Upsert_ReplacesByID(t *testing.T) {
	s := newTestStore(t, &fakeAPI{})
	s.Upsert(db.Conversation{ID: "c1", Title: "old"})
	s.SetCurrent("c1")
	s.Upsert(db.Conversation{ID: "c1", Title: "new"})

	conv, ok := s.Current()
	if !ok {
		t.Fatalf("Current() not found")
	}
	if conv.Title != "new" {
		t.Fatalf("current conversation title = %q, want new (no stale copy)", conv.Title)
	}
	if got := len(s.List()); got != 1 {
		t.Fatalf("List() len = %d, want 1", got)
	}
}

func TestRefreshConversations_FailurePreservesList(t *testing.T) {
	api := &fakeAPI{listIDs: []string{"c1"}}
	s := newTestStore(t, api)

	if ok := s.RefreshConversations(context.Background()); !ok {
		t.Fatalf("first refresh should succeed")
	}
	if got := len(s.List()); got != 1 {
		t.Fatalf("List() len = %d, want 1", got)
	}

	api.mu.Lock()
	api.listErr = errors.New("connection refused")
	api.mu.Unlock()

	if ok := s.RefreshConversations(context.Background()); ok {
		t.Fatalf("second refresh should fail")
	}
	if got := len(s.List()); got != 1 {
		t.Fatalf("failed refresh must preserve known list, got len %d", got)
	}
	if s.LastError() == "" {
		t.Fatalf("failed refresh must record a global error")
	}
}

func TestUsage_SetDerivesWarningLevel(t *testing.T) {
	s := newTestStore(t, &fakeAPI{})
	s.SetUsage(TokenUsage{ConversationID: "c1", CurrentTokens: 950, Threshold: 1000})

	u, ok := s.Usage()
	if !ok {
		t.Fatalf("Usage() missing after Set")
	}
	if !approxEqual(u.UsagePercentage, 95) {
		t.Fatalf("UsagePercentage = %v, want 95", u.UsagePercentage)
	}
	if u.WarningLevel != WarningCritical {
		t.Fatalf("WarningLevel = %s, want critical", u.WarningLevel)
	}
	if u.LastUpdated == 0 {
		t.Fatalf("LastUpdated not stamped")
	}
}

func TestUsage_ServerSuppliedLevelWins(t *testing.T) {
	s := newTestStore(t, &fakeAPI{})
	// The orchestrator may classify with different thresholds than ours.
	s.SetUsage(TokenUsage{ConversationID: "c1", CurrentTokens: 500, Threshold: 1000, WarningLevel: WarningWarning})

	u, _ := s.Usage()
	if u.WarningLevel != WarningWarning {
		t.Fatalf("WarningLevel = %s, want server-supplied warning", u.WarningLevel)
	}
}

func TestUsage_PatchWithoutSnapshotIsNoop(t *testing.T) {
	s := newTestStore(t, &fakeAPI{})
	n := 100
	s.PatchUsage(UsagePatch{CurrentTokens: &n})
	if _, ok := s.Usage(); ok {
		t.Fatalf("patch with no snapshot must not create one")
	}
}

func TestUsage_PatchRederivesLevel(t *testing.T) {
	s := newTestStore(t, &fakeAPI{})
	s.SetUsage(TokenUsage{ConversationID: "c1", CurrentTokens: 100, Threshold: 1000})

	n := 950
	s.PatchUsage(UsagePatch{CurrentTokens: &n})

	u, _ := s.Usage()
	if u.CurrentTokens != 950 || u.Threshold != 1000 {
		t.Fatalf("patch merge wrong: %+v", u)
	}
	if u.WarningLevel != WarningCritical {
		t.Fatalf("WarningLevel = %s, want critical after patch", u.WarningLevel)
	}
}

func TestFetchUsage_FailurePreservesSnapshot(t *testing.T) {
	api := &fakeAPI{}
	api.setUsage("c1", 100, 1000)
	s := newTestStore(t, api)

	if ok := s.FetchUsage(context.Background(), "c1"); !ok {
		t.Fatalf("fetch should succeed")
	}
	before, _ := s.Usage()

	api.mu.Lock()
	api.usageErr = errors.New("gateway timeout")
	api.mu.Unlock()

	if ok := s.FetchUsage(context.Background(), "c1"); ok {
		t.Fatalf("fetch should fail")
	}
	after, ok := s.Usage()
	if !ok {
		t.Fatalf("failed fetch must preserve last snapshot")
	}
	if after != before {
		t.Fatalf("failed fetch mutated snapshot: %+v != %+v", after, before)
	}
	if s.LastError() == "" {
		t.Fatalf("failed fetch must record a global error")
	}
}

func TestFetchUsage_StaleCompletionDiscarded(t *testing.T) {
	api := &fakeAPI{}
	api.setUsage("c1", 100, 1000)
	s := newTestStore(t, api)

	gate := make(chan struct{})
	api.mu.Lock()
	api.usageGate = gate
	api.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.FetchUsage(context.Background(), "c1") // issued first, completes last
	}()

	// Wait until the first fetch is inside the API call.
	for api.usageCallCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	api.setUsage("c1", 900, 1000)
	if ok := s.FetchUsage(context.Background(), "c1"); !ok {
		t.Fatalf("second fetch should succeed")
	}

	api.setUsage("c1", 100, 1000)
	close(gate)
	<-done

	u, _ := s.Usage()
	if u.CurrentTokens != 900 {
		t.Fatalf("stale completion overwrote newer snapshot: tokens = %d, want 900", u.CurrentTokens)
	}
}

func TestCompact_AtMostOneInFlight(t *testing.T) {
	api := &fakeAPI{compactResult: &orchestrator.CompactResult{Success: true, ReductionPercentage: 30}}
	api.setUsage("c1", 100, 1000)
	gate := make(chan struct{})
	api.mu.Lock()
	api.compactGate = gate
	api.mu.Unlock()

	s := newTestStore(t, api)

	firstDone := make(chan CompactOutcome, 1)
	go func() {
		firstDone <- s.Compact(context.Background(), "c1", "summarize")
	}()

	// Wait until the first request is in flight.
	for {
		api.mu.Lock()
		calls := api.compactCalls
		api.mu.Unlock()
		if calls == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	second := s.Compact(context.Background(), "c1", "truncate")
	if !second.Busy {
		t.Fatalf("second compact must be rejected busy, got %+v", second)
	}
	if second.Success {
		t.Fatalf("busy rejection must not report success")
	}

	close(gate)
	first := <-firstDone
	if !first.Success {
		t.Fatalf("first compact should succeed: %+v", first)
	}

	api.mu.Lock()
	calls := api.compactCalls
	api.mu.Unlock()
	if calls != 1 {
		t.Fatalf("exactly one request must reach the API, got %d", calls)
	}
	if got := len(s.History("c1")); got != 1 {
		t.Fatalf("history entries = %d, want 1 (busy rejection records nothing)", got)
	}
}

func TestCompact_DifferentConversationsIndependent(t *testing.T) {
	api := &fakeAPI{compactResult: &orchestrator.CompactResult{Success: true}}
	api.setUsage("c1", 1, 10)
	api.setUsage("c2", 1, 10)
	gate := make(chan struct{})
	api.mu.Lock()
	api.compactGate = gate
	api.mu.Unlock()

	s := newTestStore(t, api)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Compact(context.Background(), "c1", "summarize")
	}()
	for {
		api.mu.Lock()
		calls := api.compactCalls
		api.mu.Unlock()
		if calls == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if !s.CompactionInFlight("c1") {
		t.Fatalf("c1 should be in flight")
	}
	if s.CompactionInFlight("c2") {
		t.Fatalf("c2 must not be blocked by c1's guard")
	}

	close(gate)
	<-done
}

func TestCompact_FailureRecordedNotThrown(t *testing.T) {
	api := &fakeAPI{compactErr: errors.New("upstream exploded")}
	s := newTestStore(t, api)

	outcome := s.Compact(context.Background(), "c1", "summarize")
	if outcome.Success || outcome.Busy {
		t.Fatalf("outcome = %+v, want plain failure", outcome)
	}
	if outcome.Error == "" {
		t.Fatalf("failure must carry the error message")
	}

	hist := s.History("c1")
	if len(hist) != 1 {
		t.Fatalf("history len = %d, want 1", len(hist))
	}
	if hist[0].Success {
		t.Fatalf("failed attempt must stay visible with success=false")
	}
	if hist[0].ReductionPercentage != 0 {
		t.Fatalf("failed attempt reduction = %v, want 0", hist[0].ReductionPercentage)
	}
	if s.LastError() != "" {
		t.Fatalf("compaction failures are scoped to history, not the global error")
	}
}

func TestCompact_RefreshesUsageAfterSuccess(t *testing.T) {
	api := &fakeAPI{compactResult: &orchestrator.CompactResult{Success: true, ReductionPercentage: 40, StrategyUsed: "summarize"}}
	api.setUsage("c1", 950, 1000)
	s := newTestStore(t, api)

	if ok := s.FetchUsage(context.Background(), "c1"); !ok {
		t.Fatalf("initial fetch failed")
	}
	before, _ := s.Usage()
	if before.WarningLevel != WarningCritical {
		t.Fatalf("precondition: WarningLevel = %s, want critical", before.WarningLevel)
	}
	callsBefore := api.usageCallCount()

	// Compaction shrinks the conversation upstream.
	api.setUsage("c1", 570, 1000)

	time.Sleep(2 * time.Millisecond) // ensure LastUpdated can advance
	outcome := s.Compact(context.Background(), "c1", "summarize")
	if !outcome.Success {
		t.Fatalf("compact failed: %+v", outcome)
	}

	if got := api.usageCallCount(); got != callsBefore+1 {
		t.Fatalf("usage fetches after success = %d, want exactly one more (%d)", got, callsBefore+1)
	}

	after, _ := s.Usage()
	if after.CurrentTokens != 570 {
		t.Fatalf("CurrentTokens = %d, want 570", after.CurrentTokens)
	}
	if !approxEqual(after.UsagePercentage, 57) {
		t.Fatalf("UsagePercentage = %v, want 57", after.UsagePercentage)
	}
	if after.WarningLevel != WarningNone {
		t.Fatalf("WarningLevel = %s, want none", after.WarningLevel)
	}
	if after.LastUpdated < before.LastUpdated {
		t.Fatalf("LastUpdated went backwards")
	}

	hist := s.History("c1")
	if len(hist) != 1 {
		t.Fatalf("history len = %d, want 1", len(hist))
	}
	if hist[0].Strategy != "summarize" || hist[0].ReductionPercentage != 40 || !hist[0].Success {
		t.Fatalf("history entry = %+v", hist[0])
	}
}

func TestHistory_BoundedMostRecentFirst(t *testing.T) {
	api := &fakeAPI{compactErr: errors.New("always fails")}
	s := newTestStore(t, api)

	for i := 0; i < 25; i++ {
		s.Compact(context.Background(), "c1", "summarize")
	}

	hist := s.History("c1")
	if len(hist) != 20 {
		t.Fatalf("history len = %d, want 20", len(hist))
	}
	for i := 1; i < len(hist); i++ {
		if hist[i].Timestamp.After(hist[i-1].Timestamp) {
			t.Fatalf("history not most-recent-first at index %d", i)
		}
	}
}

func TestSelect_FetchesUsageForNewConversation(t *testing.T) {
	api := &fakeAPI{}
	api.setUsage("c2", 300, 1000)
	s := newTestStore(t, api)
	s.Upsert(db.Conversation{ID: "c2"})

	if ok := s.Select(context.Background(), "c2"); !ok {
		t.Fatalf("Select should fetch usage")
	}
	u, ok := s.Usage()
	if !ok || u.ConversationID != "c2" {
		t.Fatalf("usage snapshot = %+v, %v; want c2", u, ok)
	}

	// Clearing the selection drops the snapshot.
	s.Select(context.Background(), "")
	if _, ok := s.Usage(); ok {
		t.Fatalf("cleared selection must drop the snapshot")
	}
}
