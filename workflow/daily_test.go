package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/boardroomjournal/core/ai"
	"github.com/boardroomjournal/core/domain"
)

type entryMemStore struct {
	entries map[string]domain.DailyEntry
}

func newEntryMemStore() *entryMemStore {
	return &entryMemStore{entries: map[string]domain.DailyEntry{}}
}

func (s *entryMemStore) CreateDailyEntry(ctx context.Context, e domain.DailyEntry) (domain.DailyEntry, error) {
	if e.ID == "" {
		e.ID = "entry-1"
	}
	s.entries[e.ID] = e
	return e, nil
}
func (s *entryMemStore) GetDailyEntry(ctx context.Context, id string) (domain.DailyEntry, error) {
	e, ok := s.entries[id]
	if !ok {
		return domain.DailyEntry{}, domain.NotFound("daily_entry")
	}
	return e, nil
}
func (s *entryMemStore) UpdateDailyEntry(ctx context.Context, e domain.DailyEntry) (domain.DailyEntry, error) {
	s.entries[e.ID] = e
	return e, nil
}

func newDailyHarness(llmBody string) (*DailyExtractor, *entryMemStore) {
	clock := &fixedClock{t: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
	rnd := &seqRandom{}
	store := newEntryMemStore()
	adapter := ai.NewAdapter(&stubLLM{body: llmBody}, clock, rnd, nil)
	return NewDailyExtractor(store, adapter), store
}

const validExtractionBody = `{
	"wins": ["shipped the migration plan"],
	"blockers": ["waiting on security review"],
	"risks": ["on-call load is climbing"],
	"avoided_decision": "sunsetting the legacy integration",
	"comfort_work": "polishing the onboarding deck",
	"actions": ["schedule the review"],
	"learnings": ["security review takes longer than expected"]
}`

func TestExtractFillsAllSevenBucketsFromTranscript(t *testing.T) {
	extractor, store := newDailyHarness(validExtractionBody)
	entry := domain.DailyEntry{
		EditedTranscript: "Today I finished the migration plan and I'm waiting on security review.",
		EntryType:        domain.EntryText,
	}

	saved, err := extractor.Extract(context.Background(), entry)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(saved.Signals.Wins) != 1 || saved.Signals.Wins[0] != "shipped the migration plan" {
		t.Errorf("unexpected wins bucket: %+v", saved.Signals.Wins)
	}
	if saved.Signals.AvoidedDecision == "" {
		t.Errorf("expected a non-empty avoided_decision")
	}
	if _, ok := store.entries[saved.ID]; !ok {
		t.Errorf("expected the entry to be persisted")
	}
}

func TestReextractRefusesToOverwriteEditedBuckets(t *testing.T) {
	extractor, store := newDailyHarness(validExtractionBody)
	entry := domain.DailyEntry{
		ID:                "entry-edited",
		EditedTranscript:  "Today I finished the migration plan.",
		Signals:           domain.ExtractedSignals{Wins: []string{"user-corrected win"}},
		SignalsEditedMask: map[string]bool{"wins": true},
	}
	store.entries[entry.ID] = entry

	_, err := extractor.Reextract(context.Background(), entry.ID)
	overwrite, ok := err.(ReextractWouldOverwrite)
	if !ok {
		t.Fatalf("expected ReextractWouldOverwrite, got %v", err)
	}
	if len(overwrite.Diff) != 1 || overwrite.Diff[0] != "wins" {
		t.Errorf("expected diff to name the edited 'wins' bucket, got %v", overwrite.Diff)
	}
	if stored := store.entries[entry.ID]; stored.Signals.Wins[0] != "user-corrected win" {
		t.Errorf("expected the user's edit to survive the refused re-extraction")
	}
}

func TestReextractRunsCleanlyWhenNothingWasEdited(t *testing.T) {
	extractor, store := newDailyHarness(validExtractionBody)
	entry := domain.DailyEntry{
		ID:               "entry-clean",
		EditedTranscript: "Today I finished the migration plan.",
	}
	store.entries[entry.ID] = entry

	updated, err := extractor.Reextract(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("Reextract: %v", err)
	}
	if len(updated.Signals.Wins) == 0 {
		t.Errorf("expected re-extraction to populate wins when nothing was edited")
	}
}
