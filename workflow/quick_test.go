package workflow

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/boardroomjournal/core/ai"
	"github.com/boardroomjournal/core/domain"
	"github.com/boardroomjournal/core/fsm"
	"github.com/boardroomjournal/core/portfolio"
	"github.com/boardroomjournal/core/ports"
)

type fixedClock struct{ t time.Time }

func (f *fixedClock) Now() time.Time { return f.t }

type seqRandom struct{ n int }

func (r *seqRandom) NewID() string {
	r.n++
	return "id-" + string(rune('a'+r.n))
}
func (r *seqRandom) Float64() float64 { return 0.5 }

// stubLLM always answers with a fixed JSON body, ignoring the request;
// good enough to exercise the Adapter's schema validation path without
// a real provider.
type stubLLM struct{ body string }

func (s *stubLLM) Complete(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResponse, error) {
	return ports.CompletionResponse{Text: s.body}, nil
}
func (s *stubLLM) Name() string    { return "stub" }
func (s *stubLLM) Available() bool { return true }

// portfolioMemStore is a minimal in-memory portfolio.Store, just enough
// for CreateBet (the only write QuickSpec drives through the Manager).
type portfolioMemStore struct {
	bets          []domain.Bet
	activeProblems []domain.Problem
}

func (s *portfolioMemStore) problems() []domain.Problem { return s.activeProblems }

func (s *portfolioMemStore) CreateProblem(ctx context.Context, p domain.Problem) (domain.Problem, error) {
	if p.ID == "" {
		p.ID = "problem-" + string(rune('a'+len(s.activeProblems)))
	}
	s.activeProblems = append(s.activeProblems, p)
	return p, nil
}
func (s *portfolioMemStore) ListActiveProblems(ctx context.Context) ([]domain.Problem, error) {
	return append([]domain.Problem(nil), s.activeProblems...), nil
}
func (s *portfolioMemStore) GetProblem(ctx context.Context, id string) (domain.Problem, error) {
	return domain.Problem{}, domain.NotFound("problem")
}
func (s *portfolioMemStore) UpdateProblem(ctx context.Context, p domain.Problem) (domain.Problem, error) {
	return p, nil
}
func (s *portfolioMemStore) SoftDeleteProblem(ctx context.Context, id string) error { return nil }

func (s *portfolioMemStore) CreatePortfolioVersion(ctx context.Context, v domain.PortfolioVersion) (domain.PortfolioVersion, error) {
	return v, nil
}
func (s *portfolioMemStore) LatestPortfolioVersion(ctx context.Context) (domain.PortfolioVersion, error) {
	return domain.PortfolioVersion{}, domain.NotFound("portfolio_version")
}

func (s *portfolioMemStore) CreateBoardMember(ctx context.Context, m domain.BoardMember) (domain.BoardMember, error) {
	return m, nil
}
func (s *portfolioMemStore) ListBoard(ctx context.Context) ([]domain.BoardMember, error) {
	return nil, nil
}
func (s *portfolioMemStore) GetBoardMember(ctx context.Context, id string) (domain.BoardMember, error) {
	return domain.BoardMember{}, domain.NotFound("board_member")
}
func (s *portfolioMemStore) UpdateBoardMember(ctx context.Context, m domain.BoardMember) (domain.BoardMember, error) {
	return m, nil
}

func (s *portfolioMemStore) CreateBet(ctx context.Context, b domain.Bet) (domain.Bet, error) {
	s.bets = append(s.bets, b)
	return b, nil
}
func (s *portfolioMemStore) GetBet(ctx context.Context, id string) (domain.Bet, error) {
	for _, b := range s.bets {
		if b.ID == id {
			return b, nil
		}
	}
	return domain.Bet{}, domain.NotFound("bet")
}
func (s *portfolioMemStore) ListOpenBetsDueBy(ctx context.Context, cutoff sql.NullTime) ([]domain.Bet, error) {
	return nil, nil
}
func (s *portfolioMemStore) UpdateBetStatus(ctx context.Context, b domain.Bet) (domain.Bet, error) {
	return b, nil
}

func (s *portfolioMemStore) CreateReSetupTrigger(ctx context.Context, t domain.ReSetupTrigger) (domain.ReSetupTrigger, error) {
	return t, nil
}
func (s *portfolioMemStore) ListReSetupTriggers(ctx context.Context) ([]domain.ReSetupTrigger, error) {
	return nil, nil
}
func (s *portfolioMemStore) UpdateReSetupTrigger(ctx context.Context, t domain.ReSetupTrigger) (domain.ReSetupTrigger, error) {
	return t, nil
}

// sessionMemStore is a minimal in-memory fsm.SessionStore.
type sessionMemStore struct {
	sessions map[string]domain.GovernanceSession
}

func newSessionMemStore() *sessionMemStore {
	return &sessionMemStore{sessions: map[string]domain.GovernanceSession{}}
}

func (s *sessionMemStore) CreateGovernanceSession(ctx context.Context, g domain.GovernanceSession) (domain.GovernanceSession, error) {
	s.sessions[g.ID] = g
	return g, nil
}
func (s *sessionMemStore) GetGovernanceSession(ctx context.Context, id string) (domain.GovernanceSession, error) {
	g, ok := s.sessions[id]
	if !ok {
		return domain.GovernanceSession{}, domain.NotFound("governance_session")
	}
	return g, nil
}
func (s *sessionMemStore) IncompleteSession(ctx context.Context) (domain.GovernanceSession, error) {
	for _, g := range s.sessions {
		if !g.IsCompleted {
			return g, nil
		}
	}
	return domain.GovernanceSession{}, domain.NotFound("governance_session")
}
func (s *sessionMemStore) UpdateGovernanceSession(ctx context.Context, g domain.GovernanceSession) (domain.GovernanceSession, error) {
	s.sessions[g.ID] = g
	return g, nil
}

type fixedProblemLister struct{ problems []domain.Problem }

func (p *fixedProblemLister) ListActiveProblems(ctx context.Context) ([]domain.Problem, error) {
	return p.problems, nil
}

func newQuickHarness(problems []domain.Problem, llmBody string) *fsm.Runtime {
	clock := &fixedClock{t: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
	rnd := &seqRandom{}
	mgr := portfolio.NewManager(&portfolioMemStore{}, clock, rnd)
	adapter := ai.NewAdapter(&stubLLM{body: llmBody}, clock, rnd, nil)
	spec := NewQuickSpec(mgr, adapter, &fixedProblemLister{problems: problems}, clock)

	return fsm.NewRuntime(newSessionMemStore(), clock, rnd, spec)
}

func TestQuickSessionWithNoActiveProblemsSkipsDirectionLoop(t *testing.T) {
	ctx := context.Background()
	llmBody := `{"assessment":"You are stretched thin but focused.","avoided_decision":"Cutting the legacy integration.","bet_prediction":"We will sunset the legacy integration","bet_wrong_if":"a top customer still depends on it in 90 days"}`
	runtime := newQuickHarness(nil, llmBody)

	session, prompt, err := runtime.Start(ctx, domain.SessionQuick, "direct")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if prompt.State != QuickSensitivityGate {
		t.Fatalf("expected to start at %q, got %q", QuickSensitivityGate, prompt.State)
	}

	_, session, err = runtime.Submit(ctx, session, session.Epoch, "yes", false)
	if err != nil {
		t.Fatalf("Submit sensitivity gate: %v", err)
	}

	_, session, err = runtime.Submit(ctx, session, session.Epoch, "I run platform engineering day to day", false)
	if err != nil {
		t.Fatalf("Submit Q1: %v", err)
	}

	result, session, err := runtime.Submit(ctx, session, session.Epoch, "legacy integration, on-call load, hiring backlog", false)
	if err != nil {
		t.Fatalf("Submit Q2: %v", err)
	}
	if session.CurrentState != QuickQ4Avoided {
		t.Fatalf("expected to skip straight to %q with no active problems, got %q", QuickQ4Avoided, session.CurrentState)
	}
	if _, ok := result.(fsm.AwaitingInput); !ok {
		t.Fatalf("expected AwaitingInput, got %T", result)
	}

	_, session, err = runtime.Submit(ctx, session, session.Epoch, "I have been avoiding sunsetting the legacy integration since March", false)
	if err != nil {
		t.Fatalf("Submit Q4: %v", err)
	}

	result, session, err = runtime.Submit(ctx, session, session.Epoch, "I keep polishing the onboarding deck instead of hiring", false)
	if err != nil {
		t.Fatalf("Submit Q5: %v", err)
	}
	completed, ok := result.(fsm.Completed)
	if !ok {
		t.Fatalf("expected Completed, got %T", result)
	}
	if completed.OutputMarkdown == "" {
		t.Errorf("expected non-empty output markdown")
	}
	if session.CreatedBetID == "" {
		t.Errorf("expected GenerateOutput to create a bet")
	}
}

func TestQuickSessionDirectionLoopVisitsEveryActiveProblem(t *testing.T) {
	ctx := context.Background()
	problems := []domain.Problem{
		{Name: "Lead the platform migration"},
		{Name: "Ship the quarterly report"},
	}
	llmBody := `{"assessment":"Clear priorities, thin bench.","avoided_decision":"Replacing the on-call rotation.","bet_prediction":"We will finish the migration","bet_wrong_if":"a second outage forces a rollback"}`
	runtime := newQuickHarness(problems, llmBody)

	session, _, err := runtime.Start(ctx, domain.SessionQuick, "direct")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, session, err = runtime.Submit(ctx, session, session.Epoch, "yes", false)
	if err != nil {
		t.Fatalf("Submit sensitivity gate: %v", err)
	}
	_, session, err = runtime.Submit(ctx, session, session.Epoch, "I run platform engineering day to day", false)
	if err != nil {
		t.Fatalf("Submit Q1: %v", err)
	}
	_, session, err = runtime.Submit(ctx, session, session.Epoch, "migration, quarterly report, on-call", false)
	if err != nil {
		t.Fatalf("Submit Q2: %v", err)
	}
	if session.CurrentState != QuickQ3Direction {
		t.Fatalf("expected the direction loop to start, got %q", session.CurrentState)
	}

	for i := 0; i < len(problems); i++ {
		result, after, err := runtime.Submit(ctx, session, session.Epoch, "an AI is not cheaper here, the cost of a wrong call is a missed deadline, name: the March 3rd rollback", false)
		if err != nil {
			t.Fatalf("Submit direction row %d: %v", i, err)
		}
		session = after
		if i < len(problems)-1 {
			if session.CurrentState != QuickQ3Direction {
				t.Fatalf("expected to still be in the direction loop at row %d, got %q", i, session.CurrentState)
			}
		} else {
			if session.CurrentState != QuickQ4Avoided {
				t.Fatalf("expected the loop to end at %q after the last problem, got %q", QuickQ4Avoided, session.CurrentState)
			}
		}
		if _, ok := result.(fsm.AwaitingInput); !ok {
			t.Fatalf("expected AwaitingInput at row %d, got %T", i, result)
		}
	}
}
