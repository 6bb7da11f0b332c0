// Package export renders the local store into two forms a user can
// take with them: a full JSON backup capable of round-tripping every
// row back into a fresh Store, and a lossy Markdown digest meant to be
// read rather than re-imported. Grounded on kanban/store.go's
// JSON-column persistence conventions - each row already round-trips
// through json.Marshal/Unmarshal internally, so the backup format is
// simply those same domain structs serialized as one document.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/boardroomjournal/core/domain"
)

// Store is the narrow read surface export needs; internal/db.Store
// satisfies it directly.
type Store interface {
	ListActiveProblems(ctx context.Context) ([]domain.Problem, error)
	ListPortfolioVersions(ctx context.Context) ([]domain.PortfolioVersion, error)
	ListBoard(ctx context.Context) ([]domain.BoardMember, error)
	ListAllBets(ctx context.Context) ([]domain.Bet, error)
	ListReSetupTriggers(ctx context.Context) ([]domain.ReSetupTrigger, error)
	ListDailyEntries(ctx context.Context, limit, offset int) ([]domain.DailyEntry, error)
	ListAllWeeklyBriefs(ctx context.Context) ([]domain.WeeklyBrief, error)
	ListAllGovernanceSessions(ctx context.Context) ([]domain.GovernanceSession, error)
	ListEvidenceForSession(ctx context.Context, sessionID string) ([]domain.EvidenceItem, error)
	GetUserPreferences(ctx context.Context) (domain.UserPreferences, error)
}

// Backup is the full-fidelity export document. SchemaVersion lets a
// future importer detect a format it doesn't understand rather than
// silently misreading it.
type Backup struct {
	SchemaVersion     int                       `json:"schema_version"`
	ExportedAtUTC     time.Time                 `json:"exported_at_utc"`
	Preferences       domain.UserPreferences    `json:"preferences"`
	Problems          []domain.Problem          `json:"problems"`
	PortfolioVersions []domain.PortfolioVersion `json:"portfolio_versions"`
	Board             []domain.BoardMember      `json:"board"`
	Bets              []domain.Bet              `json:"bets"`
	Triggers          []domain.ReSetupTrigger   `json:"triggers"`
	DailyEntries      []domain.DailyEntry       `json:"daily_entries"`
	WeeklyBriefs      []domain.WeeklyBrief      `json:"weekly_briefs"`
	Sessions          []domain.GovernanceSession `json:"sessions"`
	Evidence          []domain.EvidenceItem     `json:"evidence"`
}

const backupSchemaVersion = 1

// dailyEntryPageSize bounds how many rows ListDailyEntries fetches per
// call while the export pages through the full table.
const dailyEntryPageSize = 500

// Build assembles a full Backup document from store, given the instant
// to stamp it with (passed in rather than time.Now so the export is
// reproducible in tests).
func Build(ctx context.Context, store Store, exportedAt time.Time) (Backup, error) {
	b := Backup{SchemaVersion: backupSchemaVersion, ExportedAtUTC: exportedAt}

	var err error
	if b.Preferences, err = store.GetUserPreferences(ctx); err != nil && !errors.Is(err, domain.NotFound("")) {
		return Backup{}, fmt.Errorf("export: preferences: %w", err)
	}
	if b.Problems, err = store.ListActiveProblems(ctx); err != nil {
		return Backup{}, fmt.Errorf("export: problems: %w", err)
	}
	if b.PortfolioVersions, err = store.ListPortfolioVersions(ctx); err != nil {
		return Backup{}, fmt.Errorf("export: portfolio versions: %w", err)
	}
	if b.Board, err = store.ListBoard(ctx); err != nil {
		return Backup{}, fmt.Errorf("export: board: %w", err)
	}
	if b.Bets, err = store.ListAllBets(ctx); err != nil {
		return Backup{}, fmt.Errorf("export: bets: %w", err)
	}
	if b.Triggers, err = store.ListReSetupTriggers(ctx); err != nil {
		return Backup{}, fmt.Errorf("export: triggers: %w", err)
	}
	if b.WeeklyBriefs, err = store.ListAllWeeklyBriefs(ctx); err != nil {
		return Backup{}, fmt.Errorf("export: weekly briefs: %w", err)
	}
	if b.Sessions, err = store.ListAllGovernanceSessions(ctx); err != nil {
		return Backup{}, fmt.Errorf("export: sessions: %w", err)
	}
	for offset := 0; ; offset += dailyEntryPageSize {
		page, err := store.ListDailyEntries(ctx, dailyEntryPageSize, offset)
		if err != nil {
			return Backup{}, fmt.Errorf("export: daily entries: %w", err)
		}
		b.DailyEntries = append(b.DailyEntries, page...)
		if len(page) < dailyEntryPageSize {
			break
		}
	}
	for _, session := range b.Sessions {
		items, err := store.ListEvidenceForSession(ctx, session.ID)
		if err != nil {
			return Backup{}, fmt.Errorf("export: evidence for session %s: %w", session.ID, err)
		}
		b.Evidence = append(b.Evidence, items...)
	}

	return b, nil
}

// Write serializes a Backup as indented JSON.
func Write(w io.Writer, b Backup) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(b)
}

// Read parses a previously-written backup document.
func Read(r io.Reader) (Backup, error) {
	var b Backup
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return Backup{}, err
	}
	if b.SchemaVersion > backupSchemaVersion {
		return Backup{}, fmt.Errorf("export: backup schema version %d is newer than this build understands (%d)", b.SchemaVersion, backupSchemaVersion)
	}
	return b, nil
}
