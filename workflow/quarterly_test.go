package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/boardroomjournal/core/ai"
	"github.com/boardroomjournal/core/domain"
	"github.com/boardroomjournal/core/fsm"
	"github.com/boardroomjournal/core/portfolio"
	"github.com/boardroomjournal/core/ports"
)

// quarterlyRoutingLLM answers every call with the same fixed report
// body, whatever the schema name.
type quarterlyRoutingLLM struct{ reportBody string }

func (l *quarterlyRoutingLLM) Complete(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResponse, error) {
	return ports.CompletionResponse{Text: l.reportBody}, nil
}
func (l *quarterlyRoutingLLM) Name() string    { return "quarterly-stub" }
func (l *quarterlyRoutingLLM) Available() bool { return true }

type quarterlyBoardMemStore struct{ members []domain.BoardMember }

func (s *quarterlyBoardMemStore) ListBoard(ctx context.Context) ([]domain.BoardMember, error) {
	return s.members, nil
}

type quarterlyHistoryStub struct {
	session domain.GovernanceSession
	found   bool
}

func (s *quarterlyHistoryStub) LastCompletedSession(ctx context.Context, sessionType domain.SessionType) (domain.GovernanceSession, error) {
	if !s.found {
		return domain.GovernanceSession{}, domain.NotFound("governance_session")
	}
	return s.session, nil
}

func coreOnlyMembers() []domain.BoardMember {
	return []domain.BoardMember{
		{SyncColumns: domain.SyncColumns{ID: "role-chief"}, RoleType: "chief_of_staff", IsActive: true, Persona: domain.Persona{Name: "The Chief of Staff"}},
		{SyncColumns: domain.SyncColumns{ID: "role-capital"}, RoleType: "capital_allocator", IsActive: true, Persona: domain.Persona{Name: "The Capital Allocator"}},
	}
}

const quarterlyReportBody = `{"headline":"Migration shipped, on-call is shrinking","progress_summary":"The platform migration landed and on-call load dropped week over week.","next_bet_prediction":"We will retire the legacy integration entirely","next_bet_wrong_if":"a top customer still depends on it in 90 days"}`

func newQuarterlyHarness(members []domain.BoardMember, problems []domain.Problem, history QuarterlyHistory) *fsm.Runtime {
	clock := &fixedClock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	rnd := &seqRandom{}
	store := &portfolioMemStore{activeProblems: problems}
	mgr := portfolio.NewManager(store, clock, rnd)
	adapter := ai.NewAdapter(&quarterlyRoutingLLM{reportBody: quarterlyReportBody}, clock, rnd, nil)
	boardStore := &quarterlyBoardMemStore{members: members}
	spec := NewQuarterlySpec(mgr, &fixedProblemLister{problems: problems}, boardStore, history, adapter, clock)
	return fsm.NewRuntime(newSessionMemStore(), clock, rnd, spec)
}

func walkToReport(t *testing.T, runtime *fsm.Runtime, session domain.GovernanceSession, coreAnswers int) (fsm.TransitionResult, domain.GovernanceSession) {
	t.Helper()
	ctx := context.Background()
	var result fsm.TransitionResult
	var err error

	_, session, err = runtime.Submit(ctx, session, session.Epoch, "yes", false)
	if err != nil {
		t.Fatalf("Submit sensitivity gate: %v", err)
	}
	if session.CurrentState != QuarterlyQ1LastBet {
		t.Fatalf("expected GatePortfolioPresent to advance to %q, got %q", QuarterlyQ1LastBet, session.CurrentState)
	}

	freeform := []string{
		"the migration landed clean, no rollback needed",
		"I kept the hiring commitment, missed the doc overhaul",
		"I have been avoiding retiring the old integration",
		"triaging the same on-call pages is comfortable but low value",
		"yes, the three problems still match where my time goes",
		"the migration problem has moved from depreciating to appreciating",
		"no, my role and scope have not shifted enough to need a re-setup",
		"next 90-day bet: retire the legacy integration; wrong if a top customer still needs it",
	}
	for _, ans := range freeform {
		result, session, err = runtime.Submit(ctx, session, session.Epoch, ans, false)
		if err != nil {
			t.Fatalf("Submit %q: %v", session.CurrentState, err)
		}
	}

	for i := 0; i < coreAnswers; i++ {
		result, session, err = runtime.Submit(ctx, session, session.Epoch, "I shipped the cutover plan myself this quarter", false)
		if err != nil {
			t.Fatalf("Submit core interrogation %d: %v", i, err)
		}
	}
	return result, session
}

func TestQuarterlySessionAbortsWithoutAPublishedPortfolio(t *testing.T) {
	ctx := context.Background()
	runtime := newQuarterlyHarness(nil, nil, &quarterlyHistoryStub{})

	session, _, err := runtime.Start(ctx, domain.SessionQuarterly, "direct")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	result, _, err := runtime.Submit(ctx, session, session.Epoch, "yes", false)
	if err != nil {
		t.Fatalf("Submit sensitivity gate: %v", err)
	}
	if _, ok := result.(fsm.Aborted); !ok {
		t.Fatalf("expected Aborted with no portfolio, got %T", result)
	}
}

func TestQuarterlySessionCoreOnlySkipsGrowthQuestionsAndInterrogation(t *testing.T) {
	ctx := context.Background()
	problems := []domain.Problem{{Name: "Lead the platform migration"}}
	runtime := newQuarterlyHarness(coreOnlyMembers(), problems, &quarterlyHistoryStub{})

	session, _, err := runtime.Start(ctx, domain.SessionQuarterly, "direct")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	result, session := walkToReport(t, runtime, session, len(coreOnlyMembers()))

	completed, ok := result.(fsm.Completed)
	if !ok {
		t.Fatalf("expected Completed after the core interrogation, got %T", result)
	}
	if completed.OutputMarkdown == "" {
		t.Errorf("expected non-empty report markdown")
	}
	if session.CreatedBetID == "" {
		t.Errorf("expected GenerateReport to create the next bet")
	}
	if hasGrowth, _ := session.SessionData["has_growth"].(bool); hasGrowth {
		t.Errorf("expected has_growth to be false with no growth role on the board")
	}
}

func TestQuarterlySessionSurfacesEligibilityWarningUnderThirtyDays(t *testing.T) {
	ctx := context.Background()
	problems := []domain.Problem{{Name: "Lead the platform migration"}}
	recent := time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)
	history := &quarterlyHistoryStub{found: true, session: domain.GovernanceSession{CompletedAtUTC: &recent}}
	runtime := newQuarterlyHarness(coreOnlyMembers(), problems, history)

	session, _, err := runtime.Start(ctx, domain.SessionQuarterly, "direct")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, session, err = runtime.Submit(ctx, session, session.Epoch, "yes", false)
	if err != nil {
		t.Fatalf("Submit sensitivity gate: %v", err)
	}
	warning, ok := session.SessionData["eligibility_warning"].(string)
	if !ok || warning == "" {
		t.Fatalf("expected a non-blocking eligibility warning when the last quarterly was 12 days ago")
	}
}
