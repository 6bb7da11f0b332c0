package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boardroomjournal/core/ai"
	"github.com/boardroomjournal/core/domain"
	"github.com/boardroomjournal/core/fsm"
	"github.com/boardroomjournal/core/portfolio"
)

// Quarterly Report states. Q7/Q8/GrowthBoardInterrogation
// run only when a growth role is active, decided once at
// GatePortfolioPresent and carried in session_data for the rest of the
// session.
const (
	QuarterlySensitivityGate    = "SensitivityGate"
	QuarterlyGatePortfolio      = "GatePortfolioPresent"
	QuarterlyQ1LastBet          = "Q1_LastBet"
	QuarterlyQ2Commitments      = "Q2_Commitments"
	QuarterlyQ3Avoided          = "Q3_Avoided"
	QuarterlyQ4Comfort          = "Q4_Comfort"
	QuarterlyQ5PortfolioCheck   = "Q5_PortfolioCheck"
	QuarterlyQ6HealthUpdate     = "Q6_HealthUpdate"
	QuarterlyQ7Protection       = "Q7_Protection"
	QuarterlyQ8Opportunity      = "Q8_Opportunity"
	QuarterlyQ9TriggerCheck     = "Q9_TriggerCheck"
	QuarterlyQ10NextBet         = "Q10_NextBet"
	QuarterlyCoreInterrogation  = "CoreBoardInterrogation"
	QuarterlyGrowthInterrogation = "GrowthBoardInterrogation"
	QuarterlyGenerateReport     = "GenerateReport"
	QuarterlyFinalized          = "Finalized"
)

// reEligibilityWindow is how recently a prior quarterly must have
// completed to surface the non-blocking "too soon" warning.
const reEligibilityWindow = 30 * 24 * time.Hour

// QuarterlyBoardStore is the narrow read needed of the active board and
// portfolio to gate entry and drive the interrogation loop.
type QuarterlyBoardStore interface {
	ListBoard(ctx context.Context) ([]domain.BoardMember, error)
}

// QuarterlyHistory looks up the prior quarterly session for the
// eligibility warning.
type QuarterlyHistory interface {
	LastCompletedSession(ctx context.Context, sessionType domain.SessionType) (domain.GovernanceSession, error)
}

type QuarterlySpec struct {
	portfolio *portfolio.Manager
	problems  ProblemLister
	board     QuarterlyBoardStore
	history   QuarterlyHistory
	ai        *ai.Adapter
	clock     interface{ Now() time.Time }
}

func NewQuarterlySpec(mgr *portfolio.Manager, problems ProblemLister, board QuarterlyBoardStore, history QuarterlyHistory, adapter *ai.Adapter, clock interface{ Now() time.Time }) *QuarterlySpec {
	return &QuarterlySpec{portfolio: mgr, problems: problems, board: board, history: history, ai: adapter, clock: clock}
}

func (s *QuarterlySpec) Type() domain.SessionType { return domain.SessionQuarterly }
func (s *QuarterlySpec) InitialState() string     { return QuarterlySensitivityGate }

var quarterlyQuestions = map[string]string{
	QuarterlyQ1LastBet:        "Your last bet was %q - did it land? Name what actually happened.",
	QuarterlyQ2Commitments:    "What commitments did you make last quarter, and which did you keep?",
	QuarterlyQ3Avoided:        "What decision have you been avoiding this quarter? Name a specific instance.",
	QuarterlyQ4Comfort:        "Where have you been spending time that is comfortable but no longer earns its keep?",
	QuarterlyQ5PortfolioCheck: "Do your three to five problems still reflect where your time actually goes?",
	QuarterlyQ6HealthUpdate:   "Has any problem's trajectory changed - appreciating, depreciating, or stable?",
	QuarterlyQ7Protection:     "What is your growth work protecting you from, concretely?",
	QuarterlyQ8Opportunity:    "What opportunity has your growth work opened up this quarter?",
	QuarterlyQ9TriggerCheck:   "Has your role, scope, or direction shifted enough to warrant a full re-setup?",
	QuarterlyQ10NextBet:       "What is your next 90-day bet, and what would prove it wrong?",
}

var quarterlyOrder = []string{
	QuarterlyQ1LastBet, QuarterlyQ2Commitments, QuarterlyQ3Avoided, QuarterlyQ4Comfort,
	QuarterlyQ5PortfolioCheck, QuarterlyQ6HealthUpdate, QuarterlyQ7Protection, QuarterlyQ8Opportunity,
	QuarterlyQ9TriggerCheck, QuarterlyQ10NextBet,
}

func (s *QuarterlySpec) Prompt(session *domain.GovernanceSession) fsm.Prompt {
	switch session.CurrentState {
	case QuarterlySensitivityGate:
		return fsm.Prompt{State: session.CurrentState, Kind: "confirmation",
			Question: "Quarterly review takes about 30 minutes and interrogates every active board role. Ready to start?"}
	case QuarterlyCoreInterrogation, QuarterlyGrowthInterrogation:
		idx, _ := session.SessionData["board_index"].(float64)
		members, _ := session.SessionData["interrogation_members"].([]any)
		name := "board member"
		if int(idx) < len(members) {
			if m, ok := members[int(idx)].(string); ok {
				name = m
			}
		}
		return fsm.Prompt{State: session.CurrentState, Kind: "free_text",
			Question: fmt.Sprintf("%s asks: what have you done for your anchored problem since last quarter?", name)}
	default:
		if q, ok := quarterlyQuestions[session.CurrentState]; ok {
			lastBet, _ := session.SessionData["last_bet_prediction"].(string)
			return fsm.Prompt{State: session.CurrentState, Kind: "free_text", Question: fmt.Sprintf(q, lastBet)}
		}
		return fsm.Prompt{State: session.CurrentState, Kind: "review", Question: "Session complete."}
	}
}

func (s *QuarterlySpec) Transition(ctx context.Context, session *domain.GovernanceSession, answer string) (fsm.TransitionResult, error) {
	switch session.CurrentState {
	case QuarterlySensitivityGate:
		return s.gatePortfolioPresent(ctx, session)

	case QuarterlyQ9TriggerCheck:
		session.SessionData["q9_trigger_answer"] = answer
		return s.recordAndAdvance(session, answer, QuarterlyQ9TriggerCheck)

	case QuarterlyQ10NextBet:
		session.SessionData["q10_next_bet"] = answer
		return s.startBoardInterrogation(ctx, session, answer)

	case QuarterlyCoreInterrogation:
		return s.advanceInterrogation(ctx, session, answer, true)

	case QuarterlyGrowthInterrogation:
		return s.advanceInterrogation(ctx, session, answer, false)

	default:
		if _, ok := quarterlyQuestions[session.CurrentState]; ok {
			return s.recordAndAdvance(session, answer, session.CurrentState)
		}
		return nil, fmt.Errorf("workflow: quarterly session already finalized")
	}
}

func (s *QuarterlySpec) gatePortfolioPresent(ctx context.Context, session *domain.GovernanceSession) (fsm.TransitionResult, error) {
	problems, err := s.problems.ListActiveProblems(ctx)
	if err != nil {
		return nil, err
	}
	members, err := s.board.ListBoard(ctx)
	if err != nil {
		return nil, err
	}
	if len(problems) == 0 || len(members) == 0 {
		return fsm.Aborted{Reason: "no portfolio has been set up yet - run Setup first"}, nil
	}

	hasGrowth := false
	for _, m := range members {
		if m.IsGrowthRole && m.IsActive {
			hasGrowth = true
			break
		}
	}
	session.SessionData["has_growth"] = hasGrowth

	if last, err := s.history.LastCompletedSession(ctx, domain.SessionQuarterly); err == nil && last.CompletedAtUTC != nil {
		if s.clock.Now().Sub(*last.CompletedAtUTC) < reEligibilityWindow {
			session.SessionData["eligibility_warning"] = "the last quarterly review completed less than 30 days ago"
		}
	}

	session.CurrentState = QuarterlyQ1LastBet
	return fsm.AwaitingInput{Next: s.Prompt(session)}, nil
}

// recordAndAdvance stores answer under its state's key and moves to the
// next state in quarterlyOrder, skipping Q7/Q8 when no growth role is
// active.
func (s *QuarterlySpec) recordAndAdvance(session *domain.GovernanceSession, answer, fromState string) (fsm.TransitionResult, error) {
	session.SessionData["answer_"+fromState] = answer

	hasGrowth, _ := session.SessionData["has_growth"].(bool)
	next := nextQuarterlyState(fromState, hasGrowth)
	session.CurrentState = next
	return fsm.AwaitingInput{Next: s.Prompt(session)}, nil
}

func nextQuarterlyState(from string, hasGrowth bool) string {
	for i, st := range quarterlyOrder {
		if st != from {
			continue
		}
		for j := i + 1; j < len(quarterlyOrder); j++ {
			candidate := quarterlyOrder[j]
			if !hasGrowth && (candidate == QuarterlyQ7Protection || candidate == QuarterlyQ8Opportunity) {
				continue
			}
			return candidate
		}
	}
	return QuarterlyQ10NextBet
}

func (s *QuarterlySpec) startBoardInterrogation(ctx context.Context, session *domain.GovernanceSession, lastBetAnswer string) (fsm.TransitionResult, error) {
	members, err := s.board.ListBoard(ctx)
	if err != nil {
		return nil, err
	}
	var coreNames, growthNames []any
	for _, m := range members {
		if !m.IsActive {
			continue
		}
		if m.IsGrowthRole {
			growthNames = append(growthNames, m.Persona.Name)
		} else {
			coreNames = append(coreNames, m.Persona.Name)
		}
	}
	session.SessionData["core_members"] = coreNames
	session.SessionData["growth_members"] = growthNames
	session.SessionData["interrogation_members"] = coreNames
	session.SessionData["board_index"] = float64(0)
	session.CurrentState = QuarterlyCoreInterrogation
	return fsm.AwaitingInput{Next: s.Prompt(session)}, nil
}

func (s *QuarterlySpec) advanceInterrogation(ctx context.Context, session *domain.GovernanceSession, answer string, isCore bool) (fsm.TransitionResult, error) {
	idx, _ := session.SessionData["board_index"].(float64)
	members, _ := session.SessionData["interrogation_members"].([]any)

	answers, _ := session.SessionData["interrogation_answers"].([]any)
	answers = append(answers, answer)
	session.SessionData["interrogation_answers"] = answers

	idx++
	session.SessionData["board_index"] = idx
	if int(idx) < len(members) {
		return fsm.AwaitingInput{Next: s.Prompt(session)}, nil
	}

	if isCore {
		hasGrowth, _ := session.SessionData["has_growth"].(bool)
		growthMembers, _ := session.SessionData["growth_members"].([]any)
		if hasGrowth && len(growthMembers) > 0 {
			session.SessionData["interrogation_members"] = growthMembers
			session.SessionData["board_index"] = float64(0)
			session.CurrentState = QuarterlyGrowthInterrogation
			return fsm.AwaitingInput{Next: s.Prompt(session)}, nil
		}
	}

	return s.generateReport(ctx, session)
}

func (s *QuarterlySpec) generateReport(ctx context.Context, session *domain.GovernanceSession) (fsm.TransitionResult, error) {
	var b strings.Builder
	for _, st := range quarterlyOrder {
		fmt.Fprintf(&b, "%s: %v\n", st, session.SessionData["answer_"+st])
	}
	fmt.Fprintf(&b, "Board interrogation: %v\n", session.SessionData["interrogation_answers"])

	doc, err := s.ai.Complete(ctx, "quarterly", "quarterly_report", "quarterly_report", ai.PromptContext{
		WorkflowExcerpt: "Synthesize the quarter into a headline, progress summary, and the user's stated next 90-day bet with its wrong_if condition.",
		SessionInput:    b.String(),
	})
	if err != nil {
		return nil, err
	}

	headline := toString(doc["headline"])
	summary := toString(doc["progress_summary"])
	prediction := toString(doc["next_bet_prediction"])
	wrongIf := toString(doc["next_bet_wrong_if"])

	bet, err := s.portfolio.CreateBet(ctx, prediction, wrongIf, session.ID)
	if err != nil {
		return nil, err
	}
	session.CreatedBetID = bet.ID

	output := fmt.Sprintf("# Quarterly Report\n\n%s\n\n%s\n\n**Next 90-day bet:** %s\n_Wrong if: %s_\n", headline, summary, prediction, wrongIf)
	if warning, ok := session.SessionData["eligibility_warning"].(string); ok {
		output = fmt.Sprintf("> %s\n\n%s", warning, output)
	}

	session.CurrentState = QuarterlyFinalized
	return fsm.Completed{OutputMarkdown: output}, nil
}
