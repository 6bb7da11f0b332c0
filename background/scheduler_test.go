package background

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/boardroomjournal/core/ai"
	"github.com/boardroomjournal/core/domain"
	"github.com/boardroomjournal/core/portfolio"
	"github.com/boardroomjournal/core/ports"
	"github.com/boardroomjournal/core/workflow"
)

type fixedClock struct{ t time.Time }

func (f *fixedClock) Now() time.Time { return f.t }

type seqRandom struct{ n int }

func (r *seqRandom) NewID() string {
	r.n++
	return "id-" + string(rune('a'+r.n))
}
func (r *seqRandom) Float64() float64 { return 0.5 }

type stubLLM struct{ body string }

func (s *stubLLM) Complete(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResponse, error) {
	return ports.CompletionResponse{Text: s.body}, nil
}
func (s *stubLLM) Name() string    { return "stub" }
func (s *stubLLM) Available() bool { return true }

type emptyEntryLister struct{}

func (emptyEntryLister) ListDailyEntries(ctx context.Context, limit, offset int) ([]domain.DailyEntry, error) {
	return nil, nil
}

type memBriefStore struct{ byWeek map[string]domain.WeeklyBrief }

func newMemBriefStore() *memBriefStore { return &memBriefStore{byWeek: map[string]domain.WeeklyBrief{}} }

func (s *memBriefStore) CreateWeeklyBrief(ctx context.Context, b domain.WeeklyBrief) (domain.WeeklyBrief, error) {
	s.byWeek[b.WeekStart+"|"+b.WeekTimezone] = b
	return b, nil
}
func (s *memBriefStore) GetWeeklyBriefByWeek(ctx context.Context, weekStart, weekTimezone string) (domain.WeeklyBrief, error) {
	b, ok := s.byWeek[weekStart+"|"+weekTimezone]
	if !ok {
		return domain.WeeklyBrief{}, domain.NotFound("weekly_brief")
	}
	return b, nil
}
func (s *memBriefStore) UpdateWeeklyBrief(ctx context.Context, b domain.WeeklyBrief) (domain.WeeklyBrief, error) {
	s.byWeek[b.WeekStart+"|"+b.WeekTimezone] = b
	return b, nil
}

type emptyBoardLister struct{}

func (emptyBoardLister) ListBoard(ctx context.Context) ([]domain.BoardMember, error) { return nil, nil }

type emptyPortfolioStore struct{}

func (emptyPortfolioStore) CreateProblem(ctx context.Context, p domain.Problem) (domain.Problem, error) {
	return p, nil
}
func (emptyPortfolioStore) ListActiveProblems(ctx context.Context) ([]domain.Problem, error) {
	return nil, nil
}
func (emptyPortfolioStore) GetProblem(ctx context.Context, id string) (domain.Problem, error) {
	return domain.Problem{}, domain.NotFound("problem")
}
func (emptyPortfolioStore) UpdateProblem(ctx context.Context, p domain.Problem) (domain.Problem, error) {
	return p, nil
}
func (emptyPortfolioStore) SoftDeleteProblem(ctx context.Context, id string) error { return nil }
func (emptyPortfolioStore) CreatePortfolioVersion(ctx context.Context, v domain.PortfolioVersion) (domain.PortfolioVersion, error) {
	return v, nil
}
func (emptyPortfolioStore) LatestPortfolioVersion(ctx context.Context) (domain.PortfolioVersion, error) {
	return domain.PortfolioVersion{}, domain.NotFound("portfolio_version")
}
func (emptyPortfolioStore) CreateBoardMember(ctx context.Context, m domain.BoardMember) (domain.BoardMember, error) {
	return m, nil
}
func (emptyPortfolioStore) ListBoard(ctx context.Context) ([]domain.BoardMember, error) { return nil, nil }
func (emptyPortfolioStore) GetBoardMember(ctx context.Context, id string) (domain.BoardMember, error) {
	return domain.BoardMember{}, domain.NotFound("board_member")
}
func (emptyPortfolioStore) UpdateBoardMember(ctx context.Context, m domain.BoardMember) (domain.BoardMember, error) {
	return m, nil
}
func (emptyPortfolioStore) CreateBet(ctx context.Context, b domain.Bet) (domain.Bet, error) {
	return b, nil
}
func (emptyPortfolioStore) GetBet(ctx context.Context, id string) (domain.Bet, error) {
	return domain.Bet{}, domain.NotFound("bet")
}
func (emptyPortfolioStore) ListOpenBetsDueBy(ctx context.Context, cutoff sql.NullTime) ([]domain.Bet, error) {
	return nil, nil
}
func (emptyPortfolioStore) UpdateBetStatus(ctx context.Context, b domain.Bet) (domain.Bet, error) {
	return b, nil
}
func (emptyPortfolioStore) CreateReSetupTrigger(ctx context.Context, t domain.ReSetupTrigger) (domain.ReSetupTrigger, error) {
	return t, nil
}
func (emptyPortfolioStore) ListReSetupTriggers(ctx context.Context) ([]domain.ReSetupTrigger, error) {
	return nil, nil
}
func (emptyPortfolioStore) UpdateReSetupTrigger(ctx context.Context, t domain.ReSetupTrigger) (domain.ReSetupTrigger, error) {
	return t, nil
}

type fixedPrefsReader struct{ prefs domain.UserPreferences }

func (r *fixedPrefsReader) GetUserPreferences(ctx context.Context) (domain.UserPreferences, error) {
	return r.prefs, nil
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunWeeklyBriefCreatesABriefForTheMostRecentSunday(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{t: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
	rnd := &seqRandom{}
	adapter := ai.NewAdapter(&stubLLM{body: `{"headline":"Quiet week","wins":[],"blockers":[],"risks":[],"open_loops":[],"next_week_focus":[]}`}, clock, rnd, nil)
	briefStore := newMemBriefStore()
	runner := workflow.NewWeeklyBriefRunner(emptyEntryLister{}, briefStore, emptyBoardLister{}, adapter)

	mgr := NewManager(runner, portfolio.NewManager(emptyPortfolioStore{}, clock, rnd),
		&fixedPrefsReader{prefs: domain.UserPreferences{TimezoneIANA: "UTC"}}, silentLogger())

	mgr.runWeeklyBrief(ctx)

	if len(briefStore.byWeek) != 1 {
		t.Fatalf("expected exactly one brief to be created, got %d", len(briefStore.byWeek))
	}
	statuses := mgr.Statuses()
	found := false
	for _, s := range statuses {
		if s.Name == "weekly_brief" {
			found = true
			if s.Status != "idle" {
				t.Errorf("expected weekly_brief status idle after a clean run, got %q", s.Status)
			}
			if s.LastError != "" {
				t.Errorf("expected no error, got %q", s.LastError)
			}
		}
	}
	if !found {
		t.Fatalf("expected a weekly_brief status entry")
	}
}

func TestRunBetSweepAndTriggerCheckReportIdleOnSuccess(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{t: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
	rnd := &seqRandom{}
	adapter := ai.NewAdapter(&stubLLM{body: `{}`}, clock, rnd, nil)
	runner := workflow.NewWeeklyBriefRunner(emptyEntryLister{}, newMemBriefStore(), emptyBoardLister{}, adapter)
	mgr := NewManager(runner, portfolio.NewManager(emptyPortfolioStore{}, clock, rnd),
		&fixedPrefsReader{prefs: domain.UserPreferences{TimezoneIANA: "UTC"}}, silentLogger())

	mgr.runBetSweep(ctx)
	mgr.runTriggerCheck(ctx)

	for _, s := range mgr.Statuses() {
		if s.Status != "idle" {
			t.Errorf("expected %q to be idle, got %q (err=%q)", s.Name, s.Status, s.LastError)
		}
	}
}

func TestMostRecentSundayLandsOnASunday(t *testing.T) {
	got := mostRecentSunday(time.Date(2026, 1, 7, 15, 0, 0, 0, time.UTC))
	if got.Weekday() != time.Sunday {
		t.Fatalf("expected a Sunday, got %v (%v)", got.Weekday(), got)
	}
	if got.After(time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected the most recent Sunday to be on or before the reference day, got %v", got)
	}
}
