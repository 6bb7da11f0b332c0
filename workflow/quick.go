// Package workflow holds the five concrete workflows: Daily
// Extraction, Weekly Brief, Quick Version, Setup, and Quarterly Report.
// Quick, Setup and Quarterly are WorkflowSpecs that only know their own
// state graph and are driven by the FSM Runtime (package fsm); Daily
// Extraction and the Weekly Brief are single-pass pipelines called
// directly. The Portfolio & Board Manager (package portfolio) owns every
// mutation to problems/board/bets.
package workflow

import (
	"context"
	"fmt"

	"github.com/boardroomjournal/core/ai"
	"github.com/boardroomjournal/core/domain"
	"github.com/boardroomjournal/core/fsm"
	"github.com/boardroomjournal/core/portfolio"
	"github.com/boardroomjournal/core/ports"
)

// Quick states, in fixed order.
const (
	QuickSensitivityGate = "SensitivityGate"
	QuickQ1Role          = "Q1_Role"
	QuickQ2ThreeProblems = "Q2_ThreeProblems"
	QuickQ3Direction     = "Q3_DirectionLoop"
	QuickQ4Avoided       = "Q4_AvoidedDecision"
	QuickQ5Comfort       = "Q5_ComfortWork"
	QuickGenerateOutput  = "GenerateOutput"
	QuickFinalized       = "Finalized"
)

// QuickSpec drives the 15-minute audit. It reads the active portfolio
// once, when Q2 is answered, so Q3's direction loop knows how many rows to collect,
// then accumulates answers into session_data until GenerateOutput calls
// the AI Adapter for the final assessment/bet.
type QuickSpec struct {
	portfolio *portfolio.Manager
	ai        *ai.Adapter
	problems  ProblemLister
	clock     ports.Clock
}

// ProblemLister is the narrow read needed to size Q3's loop; satisfied
// directly by *db.Store.
type ProblemLister interface {
	ListActiveProblems(ctx context.Context) ([]domain.Problem, error)
}

func NewQuickSpec(mgr *portfolio.Manager, adapter *ai.Adapter, problems ProblemLister, clock ports.Clock) *QuickSpec {
	return &QuickSpec{portfolio: mgr, ai: adapter, problems: problems, clock: clock}
}

func (s *QuickSpec) Type() domain.SessionType { return domain.SessionQuick }
func (s *QuickSpec) InitialState() string     { return QuickSensitivityGate }

func (s *QuickSpec) Prompt(session *domain.GovernanceSession) fsm.Prompt {
	switch session.CurrentState {
	case QuickSensitivityGate:
		return fsm.Prompt{State: session.CurrentState, Kind: "confirmation",
			Question: "This will take about 15 minutes and asks some pointed questions about where your time actually goes. Ready to start?"}
	case QuickQ1Role:
		return fsm.Prompt{State: session.CurrentState, Kind: "free_text",
			Question: "In one or two sentences, what is your role right now - not your title, what you actually spend your days doing?"}
	case QuickQ2ThreeProblems:
		return fsm.Prompt{State: session.CurrentState, Kind: "free_text",
			Question: "Name the three problems that would hurt the most if they went unaddressed this quarter."}
	case QuickQ3Direction:
		idx, _ := session.SessionData["direction_index"].(float64)
		problems, _ := session.SessionData["problems"].([]any)
		var name string
		if int(idx) < len(problems) {
			name, _ = problems[int(idx)].(string)
		}
		return fsm.Prompt{State: session.CurrentState, Kind: "direction_row",
			Question: fmt.Sprintf("For %q: is an AI cheaper than you at this, what does it cost if you get it wrong, and how much trust does it require? Quote yourself - name a specific instance.", name)}
	case QuickQ4Avoided:
		return fsm.Prompt{State: session.CurrentState, Kind: "free_text",
			Question: "What decision have you been avoiding, and name a specific instance where you ducked it."}
	case QuickQ5Comfort:
		return fsm.Prompt{State: session.CurrentState, Kind: "free_text",
			Question: "Where are you spending time on work that is comfortable but no longer earns its keep?"}
	default:
		return fsm.Prompt{State: session.CurrentState, Kind: "review", Question: "Session complete."}
	}
}

func (s *QuickSpec) Transition(ctx context.Context, session *domain.GovernanceSession, answer string) (fsm.TransitionResult, error) {
	switch session.CurrentState {
	case QuickSensitivityGate:
		session.CurrentState = QuickQ1Role
		return fsm.AwaitingInput{Next: s.Prompt(session)}, nil

	case QuickQ1Role:
		session.SessionData["role"] = answer
		session.CurrentState = QuickQ2ThreeProblems
		return fsm.AwaitingInput{Next: s.Prompt(session)}, nil

	case QuickQ2ThreeProblems:
		session.SessionData["three_problems_raw"] = answer
		problems, err := s.problems.ListActiveProblems(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]any, 0, len(problems))
		for _, p := range problems {
			names = append(names, p.Name)
		}
		session.SessionData["problems"] = names
		session.SessionData["direction_index"] = float64(0)
		session.SessionData["direction_rows"] = []any{}
		if len(names) == 0 {
			session.CurrentState = QuickQ4Avoided
			return fsm.AwaitingInput{Next: s.Prompt(session)}, nil
		}
		session.CurrentState = QuickQ3Direction
		return fsm.AwaitingInput{Next: s.Prompt(session)}, nil

	case QuickQ3Direction:
		rows, _ := session.SessionData["direction_rows"].([]any)
		rows = append(rows, answer)
		session.SessionData["direction_rows"] = rows

		idx, _ := session.SessionData["direction_index"].(float64)
		problems, _ := session.SessionData["problems"].([]any)
		idx++
		session.SessionData["direction_index"] = idx
		if int(idx) < len(problems) {
			return fsm.AwaitingInput{Next: s.Prompt(session)}, nil
		}
		session.CurrentState = QuickQ4Avoided
		return fsm.AwaitingInput{Next: s.Prompt(session)}, nil

	case QuickQ4Avoided:
		session.SessionData["avoided_decision"] = answer
		session.CurrentState = QuickQ5Comfort
		return fsm.AwaitingInput{Next: s.Prompt(session)}, nil

	case QuickQ5Comfort:
		session.SessionData["comfort_work"] = answer
		session.CurrentState = QuickGenerateOutput
		return s.generateOutput(ctx, session)

	default:
		return nil, fmt.Errorf("workflow: quick session already finalized")
	}
}

func (s *QuickSpec) generateOutput(ctx context.Context, session *domain.GovernanceSession) (fsm.TransitionResult, error) {
	sessionInput := fmt.Sprintf(
		"Role: %v\nThree problems: %v\nDirection rows: %v\nAvoided decision: %v\nComfort work: %v",
		session.SessionData["role"], session.SessionData["three_problems_raw"],
		session.SessionData["direction_rows"], session.SessionData["avoided_decision"], session.SessionData["comfort_work"])

	doc, err := s.ai.Complete(ctx, "daily", "quick_output", "quick_output", ai.PromptContext{
		WorkflowExcerpt: "Produce a 2-sentence honest assessment, one named avoided decision with its cost, and one 90-day bet with a non-empty wrong_if.",
		SessionInput:    sessionInput,
	})
	if err != nil {
		return nil, err
	}

	assessment, _ := doc["assessment"].(string)
	avoided, _ := doc["avoided_decision"].(string)
	prediction, _ := doc["bet_prediction"].(string)
	wrongIf, _ := doc["bet_wrong_if"].(string)

	bet, err := s.portfolio.CreateBet(ctx, prediction, wrongIf, session.ID)
	if err != nil {
		return nil, err
	}
	session.CreatedBetID = bet.ID

	output := fmt.Sprintf("# Quick Version\n\n%s\n\n**Avoided decision:** %s\n\n**90-day bet:** %s\n_Wrong if: %s_\n",
		assessment, avoided, prediction, wrongIf)
	session.CurrentState = QuickFinalized
	return fsm.Completed{OutputMarkdown: output}, nil
}
