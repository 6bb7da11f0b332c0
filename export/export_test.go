package export

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/boardroomjournal/core/domain"
)

type memExportStore struct {
	problems []domain.Problem
	versions []domain.PortfolioVersion
	board    []domain.BoardMember
	bets     []domain.Bet
	triggers []domain.ReSetupTrigger
	entries  []domain.DailyEntry
	briefs   []domain.WeeklyBrief
	sessions []domain.GovernanceSession
	evidence map[string][]domain.EvidenceItem
	prefs    domain.UserPreferences
}

func (s *memExportStore) ListActiveProblems(ctx context.Context) ([]domain.Problem, error) {
	return s.problems, nil
}
func (s *memExportStore) ListPortfolioVersions(ctx context.Context) ([]domain.PortfolioVersion, error) {
	return s.versions, nil
}
func (s *memExportStore) ListBoard(ctx context.Context) ([]domain.BoardMember, error) { return s.board, nil }
func (s *memExportStore) ListAllBets(ctx context.Context) ([]domain.Bet, error)       { return s.bets, nil }
func (s *memExportStore) ListReSetupTriggers(ctx context.Context) ([]domain.ReSetupTrigger, error) {
	return s.triggers, nil
}
func (s *memExportStore) ListDailyEntries(ctx context.Context, limit, offset int) ([]domain.DailyEntry, error) {
	if offset >= len(s.entries) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.entries) {
		end = len(s.entries)
	}
	return s.entries[offset:end], nil
}
func (s *memExportStore) ListAllWeeklyBriefs(ctx context.Context) ([]domain.WeeklyBrief, error) {
	return s.briefs, nil
}
func (s *memExportStore) ListAllGovernanceSessions(ctx context.Context) ([]domain.GovernanceSession, error) {
	return s.sessions, nil
}
func (s *memExportStore) ListEvidenceForSession(ctx context.Context, sessionID string) ([]domain.EvidenceItem, error) {
	return s.evidence[sessionID], nil
}
func (s *memExportStore) GetUserPreferences(ctx context.Context) (domain.UserPreferences, error) {
	return s.prefs, nil
}

func TestBuildAndRoundTripPreservesEveryEntity(t *testing.T) {
	ctx := context.Background()
	store := &memExportStore{
		problems: []domain.Problem{{Name: "Lead the platform migration"}},
		board:    []domain.BoardMember{{RoleType: "chief_of_staff", IsActive: true}},
		bets:     []domain.Bet{{Prediction: "We will finish the migration", Status: domain.BetOpen, DueAtUTC: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)}},
		sessions: []domain.GovernanceSession{{SyncColumns: domain.SyncColumns{ID: "sess-1"}}},
		evidence: map[string][]domain.EvidenceItem{"sess-1": {{SessionID: "sess-1", Strength: domain.StrengthMedium}}},
		briefs:   []domain.WeeklyBrief{{WeekStart: "2026-03-29", BriefMarkdown: "Shipped the cutover."}},
	}

	backup, err := Build(ctx, store, time.Date(2026, 4, 5, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(backup.Evidence) != 1 {
		t.Fatalf("expected evidence to be collected per session, got %d", len(backup.Evidence))
	}

	var buf bytes.Buffer
	if err := Write(&buf, backup); err != nil {
		t.Fatalf("Write: %v", err)
	}

	restored, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(restored.Problems) != 1 || restored.Problems[0].Name != "Lead the platform migration" {
		t.Errorf("expected the problem to round-trip, got %+v", restored.Problems)
	}
	if len(restored.Bets) != 1 || restored.Bets[0].Prediction != "We will finish the migration" {
		t.Errorf("expected the bet to round-trip, got %+v", restored.Bets)
	}
}

func TestReadRejectsANewerSchemaVersion(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, Backup{SchemaVersion: backupSchemaVersion + 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := Read(&buf); err == nil {
		t.Fatalf("expected Read to reject a schema version newer than this build understands")
	}
}

func TestMarkdownRendersPortfolioBoardAndOpenBets(t *testing.T) {
	backup := Backup{
		ExportedAtUTC: time.Date(2026, 4, 5, 9, 0, 0, 0, time.UTC),
		Problems:      []domain.Problem{{Name: "Lead the platform migration", Direction: domain.DirectionAppreciating}},
		Board:         []domain.BoardMember{{RoleType: "chief_of_staff", IsActive: true, Persona: domain.Persona{Name: "The Chief of Staff"}}},
		Bets: []domain.Bet{
			{Prediction: "We will finish the migration", WrongIf: "a second outage forces a rollback", Status: domain.BetOpen, DueAtUTC: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
			{Prediction: "stale", Status: domain.BetExpired, DueAtUTC: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
	}

	md := Markdown(backup)
	if !bytes.Contains([]byte(md), []byte("Lead the platform migration")) {
		t.Errorf("expected the digest to include the active problem")
	}
	if !bytes.Contains([]byte(md), []byte("We will finish the migration")) {
		t.Errorf("expected the digest to include the open bet")
	}
	if bytes.Contains([]byte(md), []byte("stale")) {
		t.Errorf("expected the expired bet to be excluded from the open bets section")
	}
}
