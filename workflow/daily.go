package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/boardroomjournal/core/ai"
	"github.com/boardroomjournal/core/domain"
)

// EntryStore is the narrow slice of *db.Store the daily pipeline needs.
type EntryStore interface {
	CreateDailyEntry(ctx context.Context, e domain.DailyEntry) (domain.DailyEntry, error)
	GetDailyEntry(ctx context.Context, id string) (domain.DailyEntry, error)
	UpdateDailyEntry(ctx context.Context, e domain.DailyEntry) (domain.DailyEntry, error)
}

// ReextractWouldOverwrite is returned instead of a new ExtractedSignals
// value when the caller asked to re-run extraction over an entry whose
// signals already carry user edits; Diff names which buckets would be
// clobbered.
type ReextractWouldOverwrite struct {
	Diff []string
}

func (e ReextractWouldOverwrite) Error() string {
	return fmt.Sprintf("re-extraction would overwrite edited buckets: %s", strings.Join(e.Diff, ", "))
}

// DailyExtractor runs the single-pass extraction pipeline: not an
// interactive FSM, one call in, one ExtractedSignals out. Grounded on
// the ticket-requirements extraction shape in orchestrator_prd.go,
// generalized from one free-text field to seven typed buckets behind
// a schema-validated AI Adapter call.
type DailyExtractor struct {
	store EntryStore
	ai    *ai.Adapter
}

func NewDailyExtractor(store EntryStore, adapter *ai.Adapter) *DailyExtractor {
	return &DailyExtractor{store: store, ai: adapter}
}

// Extract runs extraction over a brand-new entry and persists it.
func (d *DailyExtractor) Extract(ctx context.Context, entry domain.DailyEntry) (domain.DailyEntry, error) {
	signals, err := d.callExtraction(ctx, entry.EditedTranscript)
	if err != nil {
		return domain.DailyEntry{}, err
	}
	entry.Signals = signals
	entry.SignalsEditedMask = map[string]bool{}
	return d.store.CreateDailyEntry(ctx, entry)
}

// Reextract re-runs extraction over an existing entry's edited
// transcript. If any bucket in entry.SignalsEditedMask is true, it
// refuses to silently overwrite it and returns ReextractWouldOverwrite
// naming every edited bucket instead of persisting anything.
func (d *DailyExtractor) Reextract(ctx context.Context, entryID string) (domain.DailyEntry, error) {
	entry, err := d.store.GetDailyEntry(ctx, entryID)
	if err != nil {
		return domain.DailyEntry{}, err
	}

	var edited []string
	for bucket, wasEdited := range entry.SignalsEditedMask {
		if wasEdited {
			edited = append(edited, bucket)
		}
	}
	if len(edited) > 0 {
		return domain.DailyEntry{}, ReextractWouldOverwrite{Diff: edited}
	}

	signals, err := d.callExtraction(ctx, entry.EditedTranscript)
	if err != nil {
		return domain.DailyEntry{}, err
	}
	entry.Signals = signals
	return d.store.UpdateDailyEntry(ctx, entry)
}

func (d *DailyExtractor) callExtraction(ctx context.Context, transcript string) (domain.ExtractedSignals, error) {
	doc, err := d.ai.Complete(ctx, "daily", "extraction", "extract_signals", ai.PromptContext{
		WorkflowExcerpt: "Extract wins, blockers, risks, the avoided decision, comfort work, actions, and learnings from the day's edited transcript. Quote the user's own words wherever a bucket draws on something they said.",
		SessionInput:    transcript,
	})
	if err != nil {
		return domain.ExtractedSignals{}, err
	}

	return domain.ExtractedSignals{
		Wins:            toStringSlice(doc["wins"]),
		Blockers:        toStringSlice(doc["blockers"]),
		Risks:           toStringSlice(doc["risks"]),
		AvoidedDecision: toString(doc["avoided_decision"]),
		ComfortWork:     toString(doc["comfort_work"]),
		Actions:         toStringSlice(doc["actions"]),
		Learnings:       toStringSlice(doc["learnings"]),
	}, nil
}

func toStringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}
