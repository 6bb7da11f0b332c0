package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/boardroomjournal/core/ai"
	"github.com/boardroomjournal/core/domain"
	"github.com/boardroomjournal/core/fsm"
	"github.com/boardroomjournal/core/portfolio"
)

// Setup states. CollectProblem loops once per problem, extracting and
// validating each answer in the same turn, until the user signals
// "done" with at least three problems collected or a fifth is added;
// board construction and publishing are then one delegated call into
// the Portfolio & Board Manager.
const (
	SetupSensitivityGate   = "SensitivityGate"
	SetupCollectProblem    = "CollectProblem"
	SetupTimeAllocation    = "TimeAllocationValidation"
	SetupPublishPortfolio  = "PublishPortfolio"
	SetupFinalized         = "Finalized"
)

const doneToken = "done"

// SetupSpec drives problem collection through to PublishSetup. Each
// CollectProblem turn sends the user's free-text description through
// the AI Adapter's "setup_problem" extraction; a problem that fails the
// structural gates re-prompts the same state rather than advancing.
type SetupSpec struct {
	portfolio *portfolio.Manager
	ai        *ai.Adapter
}

func NewSetupSpec(mgr *portfolio.Manager, adapter *ai.Adapter) *SetupSpec {
	return &SetupSpec{portfolio: mgr, ai: adapter}
}

func (s *SetupSpec) Type() domain.SessionType { return domain.SessionSetup }
func (s *SetupSpec) InitialState() string     { return SetupSensitivityGate }

func (s *SetupSpec) Prompt(session *domain.GovernanceSession) fsm.Prompt {
	problems := setupProblems(session)
	switch session.CurrentState {
	case SetupSensitivityGate:
		return fsm.Prompt{State: session.CurrentState, Kind: "confirmation",
			Question: "Setup takes about 20 minutes and asks you to name the three to five problems your role actually exists to solve. Ready to start?"}
	case SetupCollectProblem:
		question := fmt.Sprintf(
			"Describe problem %d: what is it, what breaks if it goes unaddressed, how scarce is your ability to do it, "+
				"its trajectory (appreciating/depreciating/stable) with a one-sentence reason, and roughly what %% of your time it takes.",
			len(problems)+1)
		if len(problems) >= 3 {
			question += fmt.Sprintf(" Or reply %q if the %d problems you've named are the full set.", doneToken, len(problems))
		}
		return fsm.Prompt{State: session.CurrentState, Kind: "free_text", Question: question}
	case SetupTimeAllocation:
		return fsm.Prompt{State: session.CurrentState, Kind: "confirmation",
			Question: "Your allocations don't sum cleanly to 100%. Reply 'override' to publish anyway, or describe revised allocations."}
	default:
		return fsm.Prompt{State: session.CurrentState, Kind: "review", Question: "Session complete."}
	}
}

func (s *SetupSpec) Transition(ctx context.Context, session *domain.GovernanceSession, answer string) (fsm.TransitionResult, error) {
	switch session.CurrentState {
	case SetupSensitivityGate:
		session.CurrentState = SetupCollectProblem
		return fsm.AwaitingInput{Next: s.Prompt(session)}, nil

	case SetupCollectProblem:
		problems := setupProblems(session)
		if strings.EqualFold(strings.TrimSpace(answer), doneToken) {
			if len(problems) < 3 {
				return fsm.RequiresClarification{Reason: "a portfolio needs at least three problems before you can finish"}, nil
			}
			return s.advanceToAllocation(ctx, session, problems)
		}

		problem, err := s.extractProblem(ctx, answer, len(problems))
		if err != nil {
			return nil, err
		}
		if err := validateSetupProblem(problem); err != nil {
			var ce *domain.CoreError
			if errors.As(err, &ce) {
				return fsm.RequiresClarification{Reason: ce.Error()}, nil
			}
			return nil, err
		}

		problems = append(problems, problem)
		setSetupProblems(session, problems)

		if len(problems) >= 5 {
			return s.advanceToAllocation(ctx, session, problems)
		}
		return fsm.AwaitingInput{Next: s.Prompt(session)}, nil

	case SetupTimeAllocation:
		problems := setupProblems(session)
		if !strings.EqualFold(strings.TrimSpace(answer), "override") {
			return fsm.RequiresClarification{Reason: "revise the allocations so they sum close to 100%, or reply 'override'"}, nil
		}
		return s.publish(ctx, session, problems)

	default:
		return nil, fmt.Errorf("workflow: setup session already finalized")
	}
}

func (s *SetupSpec) advanceToAllocation(ctx context.Context, session *domain.GovernanceSession, problems []domain.Problem) (fsm.TransitionResult, error) {
	result := domain.ValidateAllocation(problems)
	switch result.Verdict {
	case domain.AllocationError:
		return fsm.RequiresClarification{Reason: fmt.Sprintf("time allocations sum to %d%%, too far from 100%% to publish - describe revised allocations", result.Sum)}, nil
	case domain.AllocationWarning:
		session.CurrentState = SetupTimeAllocation
		return fsm.AwaitingInput{Next: s.Prompt(session)}, nil
	default:
		return s.publish(ctx, session, problems)
	}
}

func (s *SetupSpec) publish(ctx context.Context, session *domain.GovernanceSession, problems []domain.Problem) (fsm.TransitionResult, error) {
	version, err := s.portfolio.PublishSetup(ctx, portfolio.SetupInput{Problems: problems})
	if err != nil {
		return nil, err
	}
	session.CreatedPortfolioVersionID = version.ID
	session.CurrentState = SetupFinalized

	var b strings.Builder
	fmt.Fprintf(&b, "# Portfolio Published\n\nVersion %d, %d problems.\n\n", version.VersionNumber, len(version.Problems))
	fmt.Fprintf(&b, "- Appreciating: %d%%\n- Stable: %d%%\n- Depreciating: %d%%\n",
		version.Health.AppreciatingPct, version.Health.StablePct, version.Health.DepreciatingPct)
	return fsm.Completed{OutputMarkdown: b.String()}, nil
}

func (s *SetupSpec) extractProblem(ctx context.Context, answer string, index int) (domain.Problem, error) {
	doc, err := s.ai.Complete(ctx, "setup", "setup_problem", "setup_problem", ai.PromptContext{
		WorkflowExcerpt: "Extract a single portfolio problem from the user's description: name, what_breaks, scarcity_signals (exactly 2 items, or [\"unknown\"] plus a reason), direction (appreciating|depreciating|stable), direction_rationale, evidence_quotes (3 verbatim quotes from the user, padding with empty strings if fewer were given), and time_allocation_pct as an integer.",
		SessionInput:    answer,
	})
	if err != nil {
		return domain.Problem{}, err
	}

	problem := domain.Problem{
		Name:               toString(doc["name"]),
		WhatBreaks:         toString(doc["what_breaks"]),
		ScarcitySignals:    toStringSlice(doc["scarcity_signals"]),
		Direction:          domain.Direction(toString(doc["direction"])),
		DirectionRationale: toString(doc["direction_rationale"]),
		TimeAllocationPct:  toInt(doc["time_allocation_pct"]),
		DisplayOrder:       index,
	}
	quotes := toStringSlice(doc["evidence_quotes"])
	for i := 0; i < 3 && i < len(quotes); i++ {
		problem.EvidenceQuotes[i] = quotes[i]
	}
	return problem, nil
}

func validateSetupProblem(p domain.Problem) error {
	if p.Name == "" {
		return domain.ValidationFailure("name", fmt.Errorf("problem name is required"))
	}
	if p.WhatBreaks == "" {
		return domain.ValidationFailure("what_breaks", fmt.Errorf("what breaks if this goes unaddressed is required"))
	}
	if len(p.ScarcitySignals) != 2 {
		return domain.ValidationFailure("scarcity_signals", fmt.Errorf("exactly two scarcity signals are required (or [\"unknown\"] with a reason)"))
	}
	switch p.Direction {
	case domain.DirectionAppreciating, domain.DirectionDepreciating, domain.DirectionStable:
	default:
		return domain.ValidationFailure("direction", fmt.Errorf("direction must be appreciating, depreciating, or stable"))
	}
	if p.DirectionRationale == "" {
		return domain.ValidationFailure("direction_rationale", fmt.Errorf("a one-sentence rationale for the direction is required"))
	}
	if p.TimeAllocationPct <= 0 {
		return domain.ValidationFailure("time_allocation_pct", fmt.Errorf("a positive time allocation is required"))
	}
	return nil
}

// setupProblems/setSetupProblems round-trip the in-progress problem
// list through a JSON string inside session_data, since session_data
// itself is persisted via json.Marshal/Unmarshal on every turn (see
// internal/db's GovernanceSession columns) - a directly-stored
// []domain.Problem would decode back as []interface{} of generic maps
// on the next load, so the list is kept pre-serialized instead.
func setupProblems(session *domain.GovernanceSession) []domain.Problem {
	raw, ok := session.SessionData["problems_json"].(string)
	if !ok || raw == "" {
		return nil
	}
	var problems []domain.Problem
	if err := json.Unmarshal([]byte(raw), &problems); err != nil {
		return nil
	}
	return problems
}

func setSetupProblems(session *domain.GovernanceSession, problems []domain.Problem) {
	encoded, err := json.Marshal(problems)
	if err != nil {
		return
	}
	session.SessionData["problems_json"] = string(encoded)
}

func toInt(v any) int {
	f, _ := v.(float64)
	return int(f)
}
