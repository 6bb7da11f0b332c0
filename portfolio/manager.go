// Package portfolio owns the one aggregate called the Portfolio & Board
// Manager: anchoring, growth-role activation, health
// computation, re-setup triggers, bounded portfolio edits, and the bet
// lifecycle. It is the only writer of these entities; the FSM workflow
// specs call into it rather than mutating problems/board/bets inline,
// the same split drawn between orchestrator_prd.go (drives the
// conversation) and kanban.State (owns the mutation).
package portfolio

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/boardroomjournal/core/domain"
	"github.com/boardroomjournal/core/ports"
)

// coreRoleTypes is the fixed five-seat core board, always active.
var coreRoleTypes = []string{"Accountability", "MarketReality", "Avoidance", "LongTermPositioning", "DevilsAdvocate"}

// growthRoleTypes is the two-seat growth board, active only while at
// least one problem is appreciating.
var growthRoleTypes = []string{"PortfolioDefender", "OpportunityScout"}

// Store is the narrow slice of *db.Store the Manager needs. Declared
// here rather than imported from internal/db so this package's public
// surface doesn't leak storage's error-handling detail beyond what it
// actually calls.
type Store interface {
	CreateProblem(ctx context.Context, p domain.Problem) (domain.Problem, error)
	ListActiveProblems(ctx context.Context) ([]domain.Problem, error)
	GetProblem(ctx context.Context, id string) (domain.Problem, error)
	UpdateProblem(ctx context.Context, p domain.Problem) (domain.Problem, error)
	SoftDeleteProblem(ctx context.Context, id string) error

	CreatePortfolioVersion(ctx context.Context, v domain.PortfolioVersion) (domain.PortfolioVersion, error)
	LatestPortfolioVersion(ctx context.Context) (domain.PortfolioVersion, error)

	CreateBoardMember(ctx context.Context, m domain.BoardMember) (domain.BoardMember, error)
	ListBoard(ctx context.Context) ([]domain.BoardMember, error)
	GetBoardMember(ctx context.Context, id string) (domain.BoardMember, error)
	UpdateBoardMember(ctx context.Context, m domain.BoardMember) (domain.BoardMember, error)

	CreateBet(ctx context.Context, b domain.Bet) (domain.Bet, error)
	GetBet(ctx context.Context, id string) (domain.Bet, error)
	ListOpenBetsDueBy(ctx context.Context, cutoff sql.NullTime) ([]domain.Bet, error)
	UpdateBetStatus(ctx context.Context, b domain.Bet) (domain.Bet, error)

	CreateReSetupTrigger(ctx context.Context, t domain.ReSetupTrigger) (domain.ReSetupTrigger, error)
	ListReSetupTriggers(ctx context.Context) ([]domain.ReSetupTrigger, error)
	UpdateReSetupTrigger(ctx context.Context, t domain.ReSetupTrigger) (domain.ReSetupTrigger, error)
}

// Manager is the single writer of the portfolio/board/bet aggregate.
type Manager struct {
	store  Store
	clock  ports.Clock
	random ports.RandomSource
}

func NewManager(store Store, clock ports.Clock, random ports.RandomSource) *Manager {
	return &Manager{store: store, clock: clock, random: random}
}

// betDueHorizon is the fixed 90-day window every bet's due_at_utc is
// computed from.
const betDueHorizon = 90 * 24 * time.Hour

// reSetupAnnualHorizon is how far out the single annual trigger is due,
// created once at Setup.
const reSetupAnnualHorizon = 365 * 24 * time.Hour

// SetupInput is one validated problem plus its board-anchoring intent,
// collected and validated by the Setup workflow's CollectProblem state
// before the workflow calls PublishSetup.
type SetupInput struct {
	Problems []domain.Problem
}

// PublishSetup runs CreateCoreRoles -> CreateGrowthRoles -> CreatePersonas
// -> ReSetupTriggers -> PublishPortfolio in one call: the Setup workflow
// only collects and validates, this method is the one writer of the
// resulting aggregate.
func (m *Manager) PublishSetup(ctx context.Context, input SetupInput) (domain.PortfolioVersion, error) {
	return m.publish(ctx, input, "setup")
}

// RePublish re-anchors the portfolio after a re-setup trigger fires or
// the user edits the portfolio materially. It shares every step with
// PublishSetup except the trigger_reason and version number, which
// continues the strictly-increasing sequence rather than resetting it.
func (m *Manager) RePublish(ctx context.Context, input SetupInput, reason string) (domain.PortfolioVersion, error) {
	return m.publish(ctx, input, reason)
}

func (m *Manager) publish(ctx context.Context, input SetupInput, reason string) (domain.PortfolioVersion, error) {
	if n := len(input.Problems); n < 3 || n > 5 {
		return domain.PortfolioVersion{}, domain.ValidationFailure("portfolio_size", fmt.Errorf("portfolio requires 3-5 problems, got %d", n))
	}

	allocResult := domain.ValidateAllocation(input.Problems)
	if allocResult.Verdict == domain.AllocationError {
		return domain.PortfolioVersion{}, domain.ValidationFailure("time_allocation", fmt.Errorf("allocation sums to %d%%, outside the acceptable band", allocResult.Sum))
	}

	nextVersion := 1
	if latest, err := m.store.LatestPortfolioVersion(ctx); err == nil {
		nextVersion = latest.VersionNumber + 1
	} else {
		var ce *domain.CoreError
		if !errors.As(err, &ce) || ce.Kind != domain.KindNotFound {
			return domain.PortfolioVersion{}, err
		}
	}

	now := m.clock.Now()
	var problems []domain.Problem
	for i, p := range input.Problems {
		p.SyncColumns = domain.SyncColumns{ID: m.random.NewID()}
		p.DisplayOrder = i
		created, err := m.store.CreateProblem(ctx, p)
		if err != nil {
			return domain.PortfolioVersion{}, err
		}
		problems = append(problems, created)
	}

	health := ComputeHealth(problems, nextVersion)

	members, err := m.store.ListBoard(ctx)
	if err != nil {
		return domain.PortfolioVersion{}, err
	}
	if len(members) == 0 {
		members, err = m.createCoreRoles(ctx)
		if err != nil {
			return domain.PortfolioVersion{}, err
		}
	}
	members, err = m.syncGrowthRoleActivation(ctx, members, health.AppreciatingPct > 0)
	if err != nil {
		return domain.PortfolioVersion{}, err
	}

	anchoring := AnchorBoard(members, problems)
	for i, a := range anchoring {
		if a.AnchoredProblemID == nil {
			continue
		}
		members[i].AnchoredProblemID = a.AnchoredProblemID
		members[i].AnchoredDemand = a.AnchoredDemand
		if _, err := m.store.UpdateBoardMember(ctx, members[i]); err != nil {
			return domain.PortfolioVersion{}, err
		}
	}

	var triggers []domain.ReSetupTrigger
	if nextVersion == 1 {
		annualDue := now.Add(reSetupAnnualHorizon)
		trigger, err := m.store.CreateReSetupTrigger(ctx, domain.ReSetupTrigger{
			SyncColumns:       domain.SyncColumns{ID: m.random.NewID()},
			TriggerType:       domain.TriggerAnnual,
			Description:       "a full year has passed since the portfolio was last set up",
			Condition:         "due_at_utc <= now",
			RecommendedAction: "run Setup again to re-anchor the portfolio",
			DueAtUTC:          &annualDue,
		})
		if err != nil {
			return domain.PortfolioVersion{}, err
		}
		triggers = []domain.ReSetupTrigger{trigger}
	}

	version := domain.PortfolioVersion{
		SyncColumns:    domain.SyncColumns{ID: m.random.NewID()},
		VersionNumber:  nextVersion,
		Problems:       problems,
		Health:         health,
		BoardAnchoring: anchoring,
		Triggers:       triggers,
		TriggerReason:  reason,
	}
	return m.store.CreatePortfolioVersion(ctx, version)
}

func (m *Manager) createCoreRoles(ctx context.Context) ([]domain.BoardMember, error) {
	var out []domain.BoardMember
	for _, roleType := range coreRoleTypes {
		persona := defaultPersona(roleType)
		member, err := m.store.CreateBoardMember(ctx, domain.BoardMember{
			SyncColumns:     domain.SyncColumns{ID: m.random.NewID()},
			RoleType:        roleType,
			IsGrowthRole:    false,
			IsActive:        true,
			Persona:         persona,
			OriginalPersona: persona,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, member)
	}
	return out, nil
}

// syncGrowthRoleActivation creates the two growth seats the first time
// shouldBeActive turns true and flips IsActive on existing growth seats
// to match on every later publish: active iff at least one appreciating
// problem exists.
func (m *Manager) syncGrowthRoleActivation(ctx context.Context, members []domain.BoardMember, shouldBeActive bool) ([]domain.BoardMember, error) {
	hasGrowth := false
	for i, member := range members {
		if !member.IsGrowthRole {
			continue
		}
		hasGrowth = true
		if member.IsActive != shouldBeActive {
			member.IsActive = shouldBeActive
			updated, err := m.store.UpdateBoardMember(ctx, member)
			if err != nil {
				return nil, err
			}
			members[i] = updated
		}
	}
	if hasGrowth || !shouldBeActive {
		return members, nil
	}
	growthMembers, err := m.createGrowthRoles(ctx, true)
	if err != nil {
		return nil, err
	}
	return append(members, growthMembers...), nil
}

func (m *Manager) createGrowthRoles(ctx context.Context, active bool) ([]domain.BoardMember, error) {
	var out []domain.BoardMember
	for _, roleType := range growthRoleTypes {
		persona := defaultPersona(roleType)
		member, err := m.store.CreateBoardMember(ctx, domain.BoardMember{
			SyncColumns:     domain.SyncColumns{ID: m.random.NewID()},
			RoleType:        roleType,
			IsGrowthRole:    true,
			IsActive:        active,
			Persona:         persona,
			OriginalPersona: persona,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, member)
	}
	return out, nil
}

// defaultPersona is the seed voice for a role before the user edits it;
// personas are then frozen into OriginalPersona so a later reset can
// recover them.
func defaultPersona(roleType string) domain.Persona {
	seeds := map[string]domain.Persona{
		"Accountability":      {Name: "The Accountability Chair", Background: "A retired executive who has run three teams through the exact transition you are in now.", CommunicationStyle: "Warm but direct; leads with a question before an opinion."},
		"MarketReality":       {Name: "The Market Reality Chair", Background: "An operator who has watched a dozen good plans die to the details nobody checked.", CommunicationStyle: "Terse, challenges the weakest claim in the room first."},
		"Avoidance":           {Name: "The Avoidance Chair", Background: "Spent a career noticing what people route around instead of naming.", CommunicationStyle: "Gentle but persistent; asks the question you skipped a second time."},
		"LongTermPositioning": {Name: "The Long-Term Positioning Chair", Background: "Spent a career reading market and org shifts two quarters early.", CommunicationStyle: "Speaks in tradeoffs; always names the second-best option."},
		"DevilsAdvocate":      {Name: "The Devil's Advocate", Background: "Remembers every commitment you have made and whether you kept it.", CommunicationStyle: "Quotes your own past words back to you, then argues the other side."},
		"PortfolioDefender":   {Name: "The Portfolio Defender", Background: "Cares about the muscle you are building, not just the win in front of you.", CommunicationStyle: "Patient, asks what this taught you that compounds."},
		"OpportunityScout":    {Name: "The Opportunity Scout", Background: "Spots where an appreciating skill opens a door nobody else on the board watches for.", CommunicationStyle: "Energetic, forward-looking, impatient with hedging."},
	}
	return seeds[roleType]
}

// ComputeHealth derives PortfolioHealth from the current problem set:
// the three percentages are the sum of TimeAllocationPct grouped by
// Direction.
func ComputeHealth(problems []domain.Problem, version int) domain.PortfolioHealth {
	var h domain.PortfolioHealth
	h.PortfolioVersion = version
	for _, p := range problems {
		switch p.Direction {
		case domain.DirectionAppreciating:
			h.AppreciatingPct += p.TimeAllocationPct
		case domain.DirectionDepreciating:
			h.DepreciatingPct += p.TimeAllocationPct
		case domain.DirectionStable:
			h.StablePct += p.TimeAllocationPct
		}
	}
	if h.DepreciatingPct > h.AppreciatingPct+h.StablePct {
		h.RiskStmt = "more of your time is sinking into depreciating work than is going toward anything that compounds."
	}
	if h.AppreciatingPct >= 40 {
		h.OpportunityStmt = "a large share of your time is already appreciating - this is where a bet is most likely to pay off."
	}
	return h
}

// AnchorBoard derives which problem, if any, each board member is
// implicitly anchored to. LongTermPositioning and both growth roles
// (when active) anchor to the single highest-allocation appreciating
// problem, if one exists - the three of them are expected to share it.
// The remaining core roles round-robin across the portfolio by
// allocation, wrapping around when there are fewer problems than core
// roles, so sharing a problem across roles is normal rather than an
// error case. What keeps two roles anchored to the same problem from
// colliding on the same specific issue is AnchoredDemand: each role's
// demand text names its own angle on the problem, not the problem
// alone. This is a computed relationship, not a stored back-pointer,
// the same "derive it from the two collections" shape kanban/conflict.go
// uses for file-overlap detection.
func AnchorBoard(members []domain.BoardMember, problems []domain.Problem) []domain.BoardAnchoring {
	byAllocation := append([]domain.Problem(nil), problems...)
	sort.SliceStable(byAllocation, func(i, j int) bool {
		return byAllocation[i].TimeAllocationPct > byAllocation[j].TimeAllocationPct
	})

	var topAppreciating *domain.Problem
	for i := range byAllocation {
		if byAllocation[i].Direction == domain.DirectionAppreciating {
			topAppreciating = &byAllocation[i]
			break
		}
	}

	out := make([]domain.BoardAnchoring, len(members))
	coreSlot := 0
	for i, member := range members {
		anchoring := domain.BoardAnchoring{BoardMemberID: member.ID}

		switch {
		case member.IsGrowthRole:
			if topAppreciating != nil {
				id := topAppreciating.ID
				anchoring.AnchoredProblemID = &id
				anchoring.AnchoredDemand = fmt.Sprintf("%s: press further into %q while it is still appreciating", member.RoleType, topAppreciating.Name)
			}
		case member.RoleType == "LongTermPositioning" && topAppreciating != nil:
			id := topAppreciating.ID
			anchoring.AnchoredProblemID = &id
			anchoring.AnchoredDemand = fmt.Sprintf("%s: protect the multi-year trajectory %q is building", member.RoleType, topAppreciating.Name)
		default:
			if len(byAllocation) > 0 {
				p := byAllocation[coreSlot%len(byAllocation)]
				coreSlot++
				id := p.ID
				anchoring.AnchoredProblemID = &id
				anchoring.AnchoredDemand = fmt.Sprintf("%s: hold the line on %q", member.RoleType, p.Name)
			}
		}
		out[i] = anchoring
	}
	return out
}

// EvaluateReSetupTriggers checks every active, unmet trigger against now
// and marks the ones that have fired - idempotent because it only
// transitions is_met=false rows, the same guard CleanupStaleRuns
// applies to stale dev tickets in background.go.
func (m *Manager) EvaluateReSetupTriggers(ctx context.Context) ([]domain.ReSetupTrigger, error) {
	triggers, err := m.store.ListReSetupTriggers(ctx)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	var fired []domain.ReSetupTrigger
	for _, t := range triggers {
		if t.IsMet || t.DueAtUTC == nil || t.DueAtUTC.After(now) {
			continue
		}
		t.IsMet = true
		metAt := now
		t.MetAtUTC = &metAt
		updated, err := m.store.UpdateReSetupTrigger(ctx, t)
		if err != nil {
			return nil, err
		}
		fired = append(fired, updated)
	}
	return fired, nil
}

// CreateBet opens a new 90-day bet sourced from sessionID, computing
// due_at_utc itself so no caller has to know the horizon constant.
func (m *Manager) CreateBet(ctx context.Context, prediction, wrongIf, sessionID string) (domain.Bet, error) {
	if wrongIf == "" {
		return domain.Bet{}, domain.ValidationFailure("wrong_if", fmt.Errorf("a bet must name what would prove it wrong"))
	}
	now := m.clock.Now()
	return m.store.CreateBet(ctx, domain.Bet{
		SyncColumns:     domain.SyncColumns{ID: m.random.NewID()},
		Prediction:      prediction,
		WrongIf:         wrongIf,
		Status:          domain.BetOpen,
		SourceSessionID: sessionID,
		CreatedAtUTC:    now,
		DueAtUTC:        now.Add(betDueHorizon),
	})
}

// EvaluateBet transitions an open or expired bet to correct/wrong,
// validating the move against domain.ValidateBetTransition first.
func (m *Manager) EvaluateBet(ctx context.Context, betID string, outcome domain.BetStatus, evaluationSessionID string) (domain.Bet, error) {
	bet, err := m.store.GetBet(ctx, betID)
	if err != nil {
		return domain.Bet{}, err
	}
	if err := domain.ValidateBetTransition(bet.Status, outcome); err != nil {
		return domain.Bet{}, err
	}
	bet.Status = outcome
	bet.EvaluationSessionID = evaluationSessionID
	evaluatedAt := m.clock.Now()
	bet.EvaluatedAtUTC = &evaluatedAt
	return m.store.UpdateBetStatus(ctx, bet)
}

// SweepExpiredBets idempotently moves every open bet whose due_at_utc
// has passed to expired, leaving correct/wrong evaluation to the next
// Quarterly session's Q1_LastBet state. Grounded on the
// healStuckDevTickets sweep in background.go.
func (m *Manager) SweepExpiredBets(ctx context.Context) (int, error) {
	now := m.clock.Now()
	due, err := m.store.ListOpenBetsDueBy(ctx, sql.NullTime{Time: now, Valid: true})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, bet := range due {
		bet.Status = domain.BetExpired
		if _, err := m.store.UpdateBetStatus(ctx, bet); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// EditProblem applies an edit to an existing problem and returns the
// updated row. A change of direction is refused with a validation
// failure, since direction changes require full re-setup; other fields
// are written as given.
func (m *Manager) EditProblem(ctx context.Context, p domain.Problem) (domain.Problem, error) {
	existing, err := m.store.GetProblem(ctx, p.ID)
	if err != nil {
		return domain.Problem{}, err
	}
	if p.Direction != existing.Direction {
		return domain.Problem{}, domain.ValidationFailure("direction", fmt.Errorf("changing a problem's direction requires a full re-setup"))
	}
	return m.store.UpdateProblem(ctx, p)
}

// DeleteProblem enforces the minimum-portfolio-size invariant before
// soft-deleting.
func (m *Manager) DeleteProblem(ctx context.Context, id string) error {
	active, err := m.store.ListActiveProblems(ctx)
	if err != nil {
		return err
	}
	if err := domain.ValidateProblemDeletion(len(active)); err != nil {
		return err
	}
	return m.store.SoftDeleteProblem(ctx, id)
}
