package db

import (
	"context"
	"testing"
	"time"

	"github.com/boardroomjournal/core/domain"
)

// fixedClock lets tests assert exact updated_at_utc stamping without
// depending on wall-clock time.
type fixedClock struct{ t time.Time }

func (f *fixedClock) Now() time.Time { return f.t }

func newTestStore(t *testing.T) (*Store, *fixedClock) {
	t.Helper()
	clock := &fixedClock{t: time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)}
	s, err := NewStore(":memory:", clock)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func TestCreateAndGetProblem(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	p := domain.Problem{
		SyncColumns:       domain.SyncColumns{ID: "prob-1"},
		Name:              "Platform reliability",
		WhatBreaks:        "on-call burns a day per incident",
		ScarcitySignals:   []string{"two pages last week", "one escalation to VP"},
		Direction:         domain.DirectionDepreciating,
		TimeAllocationPct: 35,
		DisplayOrder:      0,
	}

	created, err := s.CreateProblem(ctx, p)
	if err != nil {
		t.Fatalf("CreateProblem: %v", err)
	}
	if created.SyncStatus != domain.SyncPending {
		t.Errorf("expected sync_status pending after create, got %s", created.SyncStatus)
	}
	if !created.UpdatedAtUTC.Equal(clock.t) {
		t.Errorf("expected updated_at_utc stamped from clock, got %v", created.UpdatedAtUTC)
	}

	got, err := s.GetProblem(ctx, "prob-1")
	if err != nil {
		t.Fatalf("GetProblem: %v", err)
	}
	if got.Name != p.Name || got.TimeAllocationPct != 35 {
		t.Errorf("round-tripped problem mismatch: %+v", got)
	}
	if len(got.ScarcitySignals) != 2 {
		t.Errorf("expected 2 scarcity signals, got %d", len(got.ScarcitySignals))
	}
}

func TestUpdateProblemOptimisticConcurrency(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateProblem(ctx, domain.Problem{
		SyncColumns: domain.SyncColumns{ID: "prob-2"},
		Name:        "Hiring pipeline",
		Direction:   domain.DirectionStable,
	})
	if err != nil {
		t.Fatalf("CreateProblem: %v", err)
	}

	created.Name = "Hiring pipeline v2"
	updated, err := s.UpdateProblem(ctx, created)
	if err != nil {
		t.Fatalf("first update should succeed: %v", err)
	}
	if updated.ServerVersion != created.ServerVersion+1 {
		t.Errorf("expected server_version to increment")
	}

	// Reusing the stale (pre-update) version must fail with ConflictingVersion.
	created.Name = "stale write"
	if _, err := s.UpdateProblem(ctx, created); err == nil {
		t.Fatal("expected ConflictingVersion on stale update")
	}
}

func TestSoftDeleteProblemIsIdempotentlyRejectedTwice(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateProblem(ctx, domain.Problem{SyncColumns: domain.SyncColumns{ID: "prob-3"}, Name: "x"})
	if err != nil {
		t.Fatalf("CreateProblem: %v", err)
	}

	if err := s.SoftDeleteProblem(ctx, "prob-3"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := s.SoftDeleteProblem(ctx, "prob-3"); err == nil {
		t.Fatal("second delete of an already-deleted row should return NotFound")
	}
}

func TestCreateWeeklyBriefUniquePerWeek(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	b := domain.WeeklyBrief{
		SyncColumns:  domain.SyncColumns{ID: "brief-1"},
		WeekStart:    "2026-01-04",
		WeekEnd:      "2026-01-10",
		WeekTimezone: "America/Los_Angeles",
		Status:       "collecting",
	}
	if _, err := s.CreateWeeklyBrief(ctx, b); err != nil {
		t.Fatalf("CreateWeeklyBrief: %v", err)
	}

	b.ID = "brief-2"
	if _, err := s.CreateWeeklyBrief(ctx, b); err == nil {
		t.Fatal("expected ConstraintViolation for duplicate (week_start, week_timezone)")
	}
}

func TestPortfolioVersionMonotonic(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	v1 := domain.PortfolioVersion{
		SyncColumns:   domain.SyncColumns{ID: "v1"},
		VersionNumber: 1,
		Health:        domain.PortfolioHealth{PortfolioVersion: 1},
		TriggerReason: "setup",
	}
	if _, err := s.CreatePortfolioVersion(ctx, v1); err != nil {
		t.Fatalf("CreatePortfolioVersion: %v", err)
	}

	dup := v1
	dup.ID = "v1-dup"
	if _, err := s.CreatePortfolioVersion(ctx, dup); err == nil {
		t.Fatal("expected ConstraintViolation for a repeated version_number")
	}

	latest, err := s.LatestPortfolioVersion(ctx)
	if err != nil {
		t.Fatalf("LatestPortfolioVersion: %v", err)
	}
	if latest.ID != "v1" {
		t.Errorf("expected v1 as latest, got %s", latest.ID)
	}
}

func TestIncompleteSessionAtMostOne(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.IncompleteSession(ctx); err == nil {
		t.Fatal("expected NotFound when no session exists yet")
	}

	g := domain.GovernanceSession{
		SyncColumns:  domain.SyncColumns{ID: "sess-1"},
		Type:         domain.SessionQuick,
		CurrentState: "SensitivityGate",
		SessionData:  map[string]any{},
		StartedAtUTC: time.Now(),
	}
	if _, err := s.CreateGovernanceSession(ctx, g); err != nil {
		t.Fatalf("CreateGovernanceSession: %v", err)
	}

	incomplete, err := s.IncompleteSession(ctx)
	if err != nil {
		t.Fatalf("IncompleteSession: %v", err)
	}
	if incomplete.ID != "sess-1" {
		t.Errorf("expected sess-1, got %s", incomplete.ID)
	}
}

func TestSyncQueueEnqueueIsAtMostOnce(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	q := QueuedDelta{
		ID:               "delta-1",
		EntityType:       "problem",
		EntityID:         "prob-1",
		Operation:        "upsert",
		Priority:         1,
		PayloadJSON:      []byte(`{}`),
		Status:           "queued",
		EnqueuedAtUTC:    clock.t,
		NextAttemptAtUTC: clock.t,
	}
	if err := s.EnqueueDelta(ctx, q); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := s.EnqueueDelta(ctx, q); err != nil {
		t.Fatalf("re-enqueueing the same id should be a no-op, got error: %v", err)
	}

	ready, err := s.DequeueReady(ctx, clock.t.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("DequeueReady: %v", err)
	}
	if len(ready) != 1 {
		t.Fatalf("expected exactly one queued delta despite two enqueues, got %d", len(ready))
	}
}
