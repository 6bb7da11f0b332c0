package sync

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/boardroomjournal/core/domain"
	"github.com/boardroomjournal/core/internal/db"
	"github.com/boardroomjournal/core/ports"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type overwriteRecord struct {
	entityType, entityID             string
	losingUpdatedAt, winningUpdatedAt time.Time
}

type memSyncStore struct {
	problems   map[string]domain.Problem
	queue      []db.QueuedDelta
	overwrites []overwriteRecord
	applied    []ports.Delta
}

func newMemSyncStore() *memSyncStore {
	return &memSyncStore{problems: map[string]domain.Problem{}}
}

func (s *memSyncStore) GetProblem(ctx context.Context, id string) (domain.Problem, error) {
	p, ok := s.problems[id]
	if !ok {
		return domain.Problem{}, domain.NotFound("problem")
	}
	return p, nil
}
func (s *memSyncStore) GetBoardMember(ctx context.Context, id string) (domain.BoardMember, error) {
	return domain.BoardMember{}, domain.NotFound("board_member")
}
func (s *memSyncStore) GetBet(ctx context.Context, id string) (domain.Bet, error) {
	return domain.Bet{}, domain.NotFound("bet")
}
func (s *memSyncStore) GetEvidenceItem(ctx context.Context, id string) (domain.EvidenceItem, error) {
	return domain.EvidenceItem{}, domain.NotFound("evidence_item")
}
func (s *memSyncStore) GetDailyEntry(ctx context.Context, id string) (domain.DailyEntry, error) {
	return domain.DailyEntry{}, domain.NotFound("daily_entry")
}
func (s *memSyncStore) GetWeeklyBrief(ctx context.Context, id string) (domain.WeeklyBrief, error) {
	return domain.WeeklyBrief{}, domain.NotFound("weekly_brief")
}
func (s *memSyncStore) GetGovernanceSession(ctx context.Context, id string) (domain.GovernanceSession, error) {
	return domain.GovernanceSession{}, domain.NotFound("governance_session")
}
func (s *memSyncStore) ListPortfolioVersions(ctx context.Context) ([]domain.PortfolioVersion, error) {
	return nil, nil
}
func (s *memSyncStore) ListReSetupTriggers(ctx context.Context) ([]domain.ReSetupTrigger, error) {
	return nil, nil
}
func (s *memSyncStore) GetUserPreferences(ctx context.Context) (domain.UserPreferences, error) {
	return domain.UserPreferences{}, domain.NotFound("user_preferences")
}

func (s *memSyncStore) EnqueueDelta(ctx context.Context, q db.QueuedDelta) error {
	for _, existing := range s.queue {
		if existing.ID == q.ID {
			return nil
		}
	}
	s.queue = append(s.queue, q)
	return nil
}

func (s *memSyncStore) DequeueReady(ctx context.Context, now time.Time, limit int) ([]db.QueuedDelta, error) {
	var ready []db.QueuedDelta
	for _, q := range s.queue {
		if q.Status == "queued" && !q.NextAttemptAtUTC.After(now) {
			ready = append(ready, q)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool { return ready[i].Priority > ready[j].Priority })
	if len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

func (s *memSyncStore) MarkDeltaDone(ctx context.Context, id string) error {
	for i, q := range s.queue {
		if q.ID == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memSyncStore) MarkDeltaFailed(ctx context.Context, id string, lastError string, nextAttempt time.Time) error {
	for i := range s.queue {
		if s.queue[i].ID == id {
			s.queue[i].Attempts++
			s.queue[i].LastError = lastError
			s.queue[i].NextAttemptAtUTC = nextAttempt
			s.queue[i].Status = "queued"
			return nil
		}
	}
	return nil
}

func (s *memSyncStore) QueueDepth(ctx context.Context) (int, error) {
	n := 0
	for _, q := range s.queue {
		if q.Status == "queued" {
			n++
		}
	}
	return n, nil
}

func (s *memSyncStore) RecordOverwrite(ctx context.Context, entityType, entityID string, losingPayload []byte, losingUpdatedAt, winningUpdatedAt, recordedAt time.Time) error {
	s.overwrites = append(s.overwrites, overwriteRecord{entityType, entityID, losingUpdatedAt, winningUpdatedAt})
	return nil
}

func (s *memSyncStore) ApplyRemoteDelta(ctx context.Context, d ports.Delta) error {
	s.applied = append(s.applied, d)
	if d.EntityType == "problem" && d.Operation == "upsert" {
		var p domain.Problem
		if err := json.Unmarshal(d.Payload, &p); err != nil {
			return err
		}
		s.problems[p.ID] = p
	}
	return nil
}

func (s *memSyncStore) Watch(ctx context.Context, entityType string) <-chan db.Snapshot {
	return make(chan db.Snapshot)
}

type fakeRemote struct {
	pushErr     error
	pushCalls   [][]ports.Delta
	pullResults []ports.PullResult
	pullCalls   int
}

func (r *fakeRemote) Push(ctx context.Context, deltas []ports.Delta) error {
	r.pushCalls = append(r.pushCalls, deltas)
	return r.pushErr
}

func (r *fakeRemote) Pull(ctx context.Context, sinceCursor string) (ports.PullResult, error) {
	if r.pullCalls >= len(r.pullResults) {
		return ports.PullResult{}, nil
	}
	result := r.pullResults[r.pullCalls]
	r.pullCalls++
	return result, nil
}

func problemPayload(t *testing.T, p domain.Problem) []byte {
	t.Helper()
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestPushSendsReadyDeltasInPriorityOrderAndMarksThemDone(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newMemSyncStore()
	store.queue = []db.QueuedDelta{
		{ID: "low", EntityType: "problem", EntityID: "low", Operation: "upsert", Priority: PriorityRemotePull, Status: "queued", NextAttemptAtUTC: now},
		{ID: "high", EntityType: "problem", EntityID: "high", Operation: "upsert", Priority: PriorityLocalMutation, Status: "queued", NextAttemptAtUTC: now},
	}
	remote := &fakeRemote{}
	coord := NewCoordinator(store, remote, fixedClock{now}, "device-1", silentLogger())

	if err := coord.Push(ctx); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(remote.pushCalls) != 1 || len(remote.pushCalls[0]) != 2 {
		t.Fatalf("expected one batched push of two deltas, got %+v", remote.pushCalls)
	}
	if remote.pushCalls[0][0].EntityID != "high" {
		t.Errorf("expected the higher-priority delta first, got %s", remote.pushCalls[0][0].EntityID)
	}
	if depth, _ := store.QueueDepth(ctx); depth != 0 {
		t.Errorf("expected the queue to drain after a successful push, depth=%d", depth)
	}
}

func TestPushRequeuesWithBackoffOnTransientFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newMemSyncStore()
	store.queue = []db.QueuedDelta{
		{ID: "a", EntityType: "problem", EntityID: "a", Operation: "upsert", Priority: PriorityLocalMutation, Status: "queued", NextAttemptAtUTC: now},
	}
	remote := &fakeRemote{pushErr: domain.NetworkUnavailable(nil)}
	coord := NewCoordinator(store, remote, fixedClock{now}, "device-1", silentLogger())

	if err := coord.Push(ctx); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if depth, _ := store.QueueDepth(ctx); depth != 1 {
		t.Fatalf("expected the failed delta to remain queued, depth=%d", depth)
	}
	if !store.queue[0].NextAttemptAtUTC.After(now) {
		t.Errorf("expected the next attempt to be scheduled after now, got %v", store.queue[0].NextAttemptAtUTC)
	}
	if ready, _ := store.DequeueReady(ctx, now, 10); len(ready) != 0 {
		t.Errorf("expected the backed-off delta to not be immediately ready, got %d", len(ready))
	}
}

func TestPullAppliesRemoteWinsAndRecordsOverwriteOfTheLosingLocalCopy(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newMemSyncStore()
	localUpdated := now.Add(-2 * time.Hour)
	store.problems["p1"] = domain.Problem{
		SyncColumns: domain.SyncColumns{ID: "p1", UpdatedAtUTC: localUpdated},
		Name:        "Old name",
	}
	remoteUpdated := now.Add(-1 * time.Hour)
	remotePayload := problemPayload(t, domain.Problem{
		SyncColumns: domain.SyncColumns{ID: "p1", UpdatedAtUTC: remoteUpdated, ServerVersion: 3},
		Name:        "New name",
	})

	remote := &fakeRemote{pullResults: []ports.PullResult{
		{Deltas: []ports.Delta{{EntityType: "problem", EntityID: "p1", Operation: "upsert", Payload: remotePayload, UpdatedAtUTC: remoteUpdated}}, NextCursor: "cursor-1", HasMore: false},
	}}
	coord := NewCoordinator(store, remote, fixedClock{now}, "device-1", silentLogger())

	if err := coord.Pull(ctx); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(store.overwrites) != 1 {
		t.Fatalf("expected one overwrite-log entry for the losing local copy, got %d", len(store.overwrites))
	}
	if store.overwrites[0].losingUpdatedAt != localUpdated {
		t.Errorf("expected the overwrite entry to carry the local timestamp, got %v", store.overwrites[0].losingUpdatedAt)
	}
	if store.problems["p1"].Name != "New name" {
		t.Errorf("expected the remote copy to win, got %q", store.problems["p1"].Name)
	}
}

func TestPullSkipsApplyingWhenTheLocalCopyIsStrictlyNewer(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newMemSyncStore()
	localUpdated := now.Add(-1 * time.Hour)
	store.problems["p1"] = domain.Problem{
		SyncColumns: domain.SyncColumns{ID: "p1", UpdatedAtUTC: localUpdated},
		Name:        "Local edit",
	}
	remoteUpdated := now.Add(-2 * time.Hour)
	remotePayload := problemPayload(t, domain.Problem{
		SyncColumns: domain.SyncColumns{ID: "p1", UpdatedAtUTC: remoteUpdated},
		Name:        "Stale remote",
	})

	remote := &fakeRemote{pullResults: []ports.PullResult{
		{Deltas: []ports.Delta{{EntityType: "problem", EntityID: "p1", Operation: "upsert", Payload: remotePayload, UpdatedAtUTC: remoteUpdated}}, NextCursor: "cursor-1", HasMore: false},
	}}
	coord := NewCoordinator(store, remote, fixedClock{now}, "device-1", silentLogger())

	if err := coord.Pull(ctx); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(store.overwrites) != 0 {
		t.Errorf("expected no overwrite entry when the local copy wins, got %d", len(store.overwrites))
	}
	if store.problems["p1"].Name != "Local edit" {
		t.Errorf("expected the local copy to survive, got %q", store.problems["p1"].Name)
	}
}
