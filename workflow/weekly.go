package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/boardroomjournal/core/ai"
	"github.com/boardroomjournal/core/domain"
)

const maxWeeklyRegens = 5

// Weekly Brief states. Not an fsm.WorkflowSpec - there
// is no user-facing question-and-answer loop here, only a scheduled
// pipeline with an optional regeneration tail.
const (
	WeeklyCollect     = "Collect"
	WeeklySummarize   = "Summarize"
	WeeklyRender      = "Render"
	WeeklyMicroReview = "MicroReview"
	WeeklyPublish     = "Publish"
	WeeklyFinalized   = "Finalized"
)

// WeeklyEntryLister reads the week's raw material; WeeklyBriefStore
// persists the one brief per (week_start, week_timezone).
type WeeklyEntryLister interface {
	ListDailyEntries(ctx context.Context, limit, offset int) ([]domain.DailyEntry, error)
}

type WeeklyBriefStore interface {
	CreateWeeklyBrief(ctx context.Context, b domain.WeeklyBrief) (domain.WeeklyBrief, error)
	GetWeeklyBriefByWeek(ctx context.Context, weekStart, weekTimezone string) (domain.WeeklyBrief, error)
	UpdateWeeklyBrief(ctx context.Context, b domain.WeeklyBrief) (domain.WeeklyBrief, error)
}

type WeeklyBoardLister interface {
	ListBoard(ctx context.Context) ([]domain.BoardMember, error)
}

// WeeklyBriefRunner drives Collect->Summarize->Render->MicroReview->
// Publish, and the post-publish Regen/Finalize tail, for one
// (weekStart, weekTimezone) pair at a time.
type WeeklyBriefRunner struct {
	entries WeeklyEntryLister
	briefs  WeeklyBriefStore
	board   WeeklyBoardLister
	ai      *ai.Adapter
}

func NewWeeklyBriefRunner(entries WeeklyEntryLister, briefs WeeklyBriefStore, board WeeklyBoardLister, adapter *ai.Adapter) *WeeklyBriefRunner {
	return &WeeklyBriefRunner{entries: entries, briefs: briefs, board: board, ai: adapter}
}

// Run executes Collect through Publish for the seven-day week starting at
// weekStart (a Sunday, YYYY-MM-DD) in weekTimezone, skipping entirely
// if that week's brief already exists - the scheduler calls Run every
// Sunday 20:00 local and relies on this idempotence to survive retries.
func (r *WeeklyBriefRunner) Run(ctx context.Context, weekStart, weekTimezone string) (domain.WeeklyBrief, error) {
	if existing, err := r.briefs.GetWeeklyBriefByWeek(ctx, weekStart, weekTimezone); err == nil {
		return existing, nil
	}

	entries, err := r.collect(ctx, weekStart, weekTimezone)
	if err != nil {
		return domain.WeeklyBrief{}, err
	}

	weekEnd, err := addDays(weekStart, 6)
	if err != nil {
		return domain.WeeklyBrief{}, err
	}
	brief := domain.WeeklyBrief{
		WeekStart:    weekStart,
		WeekEnd:      weekEnd,
		WeekTimezone: weekTimezone,
		EntryCount:   len(entries),
		Status:       "collecting",
	}

	brief, err = r.summarizeAndRender(ctx, brief, entries, domain.RegenOptions{})
	if err != nil {
		return domain.WeeklyBrief{}, err
	}

	microReview, err := r.microReview(ctx, brief)
	if err != nil {
		return domain.WeeklyBrief{}, err
	}
	brief.MicroReviewMarkdown = microReview
	brief.Status = "micro_reviewed"

	return r.briefs.CreateWeeklyBrief(ctx, brief)
}

// Regen re-runs Summarize->Render->MicroReview with modifiers composed
// onto the brief's running RegenOptions, refusing past
// maxWeeklyRegens. StartOver additionally discards any user edits to
// BriefMarkdown by re-deriving entirely from source entries, and counts
// as one regeneration like any other.
func (r *WeeklyBriefRunner) Regen(ctx context.Context, brief domain.WeeklyBrief, modifiers domain.RegenOptions, startOver bool) (domain.WeeklyBrief, error) {
	if brief.RegenCount >= maxWeeklyRegens {
		return domain.WeeklyBrief{}, fmt.Errorf("workflow: weekly brief %s has reached the %d-regeneration cap", brief.ID, maxWeeklyRegens)
	}

	entries, err := r.collect(ctx, brief.WeekStart, brief.WeekTimezone)
	if err != nil {
		return domain.WeeklyBrief{}, err
	}

	composed := domain.RegenOptions{
		Shorter:    brief.RegenOptions.Shorter || modifiers.Shorter,
		Actionable: brief.RegenOptions.Actionable || modifiers.Actionable,
		Strategic:  brief.RegenOptions.Strategic || modifiers.Strategic,
	}
	_ = startOver // StartOver never reuses the prior markdown; re-deriving from entries already discards edits.

	brief, err = r.summarizeAndRender(ctx, brief, entries, composed)
	if err != nil {
		return domain.WeeklyBrief{}, err
	}
	brief.RegenCount++

	microReview, err := r.microReview(ctx, brief)
	if err != nil {
		return domain.WeeklyBrief{}, err
	}
	brief.MicroReviewMarkdown = microReview
	brief.Status = "micro_reviewed"

	return r.briefs.UpdateWeeklyBrief(ctx, brief)
}

// Publish finalizes a reviewed brief, stamping published_at_utc.
func (r *WeeklyBriefRunner) Publish(ctx context.Context, brief domain.WeeklyBrief, publishedAt time.Time) (domain.WeeklyBrief, error) {
	brief.Status = "published"
	brief.PublishedAtUTC = &publishedAt
	return r.briefs.UpdateWeeklyBrief(ctx, brief)
}

func (r *WeeklyBriefRunner) collect(ctx context.Context, weekStart, weekTimezone string) ([]domain.DailyEntry, error) {
	all, err := r.entries.ListDailyEntries(ctx, 500, 0)
	if err != nil {
		return nil, err
	}
	start, err := time.Parse("2006-01-02", weekStart)
	if err != nil {
		return nil, fmt.Errorf("workflow: invalid week_start %q: %w", weekStart, err)
	}
	end := start.AddDate(0, 0, 7)

	var out []domain.DailyEntry
	for _, e := range all {
		if e.TimezoneIANA != weekTimezone {
			continue
		}
		if !e.CreatedAtUTC.Before(start) && e.CreatedAtUTC.Before(end) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtUTC.Before(out[j].CreatedAtUTC) })
	return out, nil
}

func (r *WeeklyBriefRunner) summarizeAndRender(ctx context.Context, brief domain.WeeklyBrief, entries []domain.DailyEntry, modifiers domain.RegenOptions) (domain.WeeklyBrief, error) {
	excerpt := "Summarize the week into a brief with headline (<=2 sentences), wins/blockers/risks (<=3 bullets each), " +
		"open_loops (<=5), and next_week_focus (exactly 3). Body target ~600 words, 200-800 allowed."
	if len(entries) == 0 {
		excerpt += " No entries were logged this week: produce a ~100-word reflection brief instead of the full structure."
	}
	if modifiers.Shorter {
		excerpt += " Bias toward the shorter end of the word range."
	}
	if modifiers.Actionable {
		excerpt += " Emphasize concrete next actions over narrative."
	}
	if modifiers.Strategic {
		excerpt += " Emphasize portfolio-level tradeoffs over day-to-day detail."
	}

	doc, err := r.ai.Complete(ctx, "weekly", "weekly_brief", "weekly_brief", ai.PromptContext{
		WorkflowExcerpt: excerpt,
		SessionInput:    renderEntriesForPrompt(entries),
	})
	if err != nil {
		return domain.WeeklyBrief{}, err
	}

	brief.BriefMarkdown = renderBriefMarkdown(doc)
	brief.RegenOptions = modifiers
	brief.Status = "rendered"
	return brief, nil
}

func (r *WeeklyBriefRunner) microReview(ctx context.Context, brief domain.WeeklyBrief) (string, error) {
	members, err := r.board.ListBoard(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, m := range members {
		if !m.IsActive {
			continue
		}
		doc, err := r.ai.Complete(ctx, "weekly", "micro_review", "micro_review", ai.PromptContext{
			Role:         &ai.RoleContext{Persona: m.Persona, AnchoredProblem: m.AnchoredDemand},
			SessionInput: brief.BriefMarkdown,
		})
		if err != nil {
			return "", err
		}
		sentence, _ := doc["sentence"].(string)
		fmt.Fprintf(&b, "- **%s**: %s\n", m.Persona.Name, sentence)
	}
	return b.String(), nil
}

func renderEntriesForPrompt(entries []domain.DailyEntry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "## %s\nWins: %v\nBlockers: %v\nRisks: %v\nAvoided: %s\nComfort work: %s\n\n",
			e.CreatedAtUTC.Format("2006-01-02"), e.Signals.Wins, e.Signals.Blockers, e.Signals.Risks,
			e.Signals.AvoidedDecision, e.Signals.ComfortWork)
	}
	return b.String()
}

func renderBriefMarkdown(doc map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Weekly Brief\n\n%s\n\n", toString(doc["headline"]))
	writeBulletSection(&b, "Wins", toStringSlice(doc["wins"]))
	writeBulletSection(&b, "Blockers", toStringSlice(doc["blockers"]))
	writeBulletSection(&b, "Risks", toStringSlice(doc["risks"]))
	writeBulletSection(&b, "Open loops", toStringSlice(doc["open_loops"]))
	writeBulletSection(&b, "Next week's focus", toStringSlice(doc["next_week_focus"]))
	return b.String()
}

func writeBulletSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}

func addDays(dateStr string, days int) (string, error) {
	t, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return "", fmt.Errorf("workflow: invalid date %q: %w", dateStr, err)
	}
	return t.AddDate(0, 0, days).Format("2006-01-02"), nil
}
