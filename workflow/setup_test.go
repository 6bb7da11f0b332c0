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

// setupProblemLLM answers every "setup_problem" extraction in a fixed
// round-robin sequence, one problem per call.
type setupProblemLLM struct {
	bodies []string
	next   int
}

func (l *setupProblemLLM) Complete(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResponse, error) {
	body := l.bodies[l.next%len(l.bodies)]
	l.next++
	return ports.CompletionResponse{Text: body}, nil
}
func (l *setupProblemLLM) Name() string    { return "setup-stub" }
func (l *setupProblemLLM) Available() bool { return true }

func threeSetupProblemBodies() []string {
	return []string{
		`{"name":"Lead the platform migration","what_breaks":"customers churn on outages","scarcity_signals":["only senior engineer who knows the old system","no documented runbook"],"direction":"appreciating","direction_rationale":"the team is learning the new platform from me","evidence_quotes":["I shipped the cutover plan Tuesday","","",""],"time_allocation_pct":40}`,
		`{"name":"Ship the quarterly report","what_breaks":"exec trust erodes","scarcity_signals":["unknown","nobody else has asked for this context yet"],"direction":"stable","direction_rationale":"this has looked the same for three quarters","evidence_quotes":["I sent the draft to finance","","",""],"time_allocation_pct":30}`,
		`{"name":"On-call rotation","what_breaks":"nothing immediately","scarcity_signals":["anyone on the team could cover this","it is mostly triage"],"direction":"depreciating","direction_rationale":"we are automating the common pages away","evidence_quotes":["I paged myself out twice last week","","",""],"time_allocation_pct":30}`,
	}
}

func newSetupHarness(bodies []string) (*fsm.Runtime, *portfolioMemStore) {
	clock := &fixedClock{t: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
	rnd := &seqRandom{}
	store := &portfolioMemStore{}
	mgr := portfolio.NewManager(store, clock, rnd)
	adapter := ai.NewAdapter(&setupProblemLLM{bodies: bodies}, clock, rnd, nil)
	spec := NewSetupSpec(mgr, adapter)
	return fsm.NewRuntime(newSessionMemStore(), clock, rnd, spec), store
}

func TestSetupSessionPublishesAfterThreeProblemsAndDone(t *testing.T) {
	ctx := context.Background()
	runtime, store := newSetupHarness(threeSetupProblemBodies())

	session, prompt, err := runtime.Start(ctx, domain.SessionSetup, "direct")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if prompt.State != SetupSensitivityGate {
		t.Fatalf("expected to start at %q, got %q", SetupSensitivityGate, prompt.State)
	}

	_, session, err = runtime.Submit(ctx, session, session.Epoch, "yes", false)
	if err != nil {
		t.Fatalf("Submit sensitivity gate: %v", err)
	}

	for i := 0; i < 3; i++ {
		result, after, err := runtime.Submit(ctx, session, session.Epoch,
			"I run the platform migration day to day, shipping cutover plans myself", false)
		if err != nil {
			t.Fatalf("Submit problem %d: %v", i, err)
		}
		session = after
		if _, ok := result.(fsm.AwaitingInput); !ok {
			t.Fatalf("expected AwaitingInput after problem %d, got %T", i, result)
		}
	}

	result, session, err := runtime.Submit(ctx, session, session.Epoch, doneToken, false)
	if err != nil {
		t.Fatalf("Submit done: %v", err)
	}
	completed, ok := result.(fsm.Completed)
	if !ok {
		t.Fatalf("expected Completed after three problems sum to 100%%, got %T", result)
	}
	if completed.OutputMarkdown == "" {
		t.Errorf("expected non-empty publish output")
	}
	if session.CreatedPortfolioVersionID == "" {
		t.Errorf("expected the session to record the created portfolio version")
	}
	if len(store.problems()) != 3 {
		t.Errorf("expected 3 problems to be published, got %d", len(store.problems()))
	}
}

func TestSetupSessionRefusesDoneBelowThreeProblems(t *testing.T) {
	ctx := context.Background()
	runtime, _ := newSetupHarness(threeSetupProblemBodies())

	session, _, err := runtime.Start(ctx, domain.SessionSetup, "direct")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, session, err = runtime.Submit(ctx, session, session.Epoch, "yes", false)
	if err != nil {
		t.Fatalf("Submit sensitivity gate: %v", err)
	}
	_, session, err = runtime.Submit(ctx, session, session.Epoch, "I run the platform migration day to day", false)
	if err != nil {
		t.Fatalf("Submit first problem: %v", err)
	}

	result, _, err := runtime.Submit(ctx, session, session.Epoch, doneToken, false)
	if err != nil {
		t.Fatalf("Submit done: %v", err)
	}
	if _, ok := result.(fsm.RequiresClarification); !ok {
		t.Fatalf("expected RequiresClarification for 'done' with only one problem, got %T", result)
	}
}
