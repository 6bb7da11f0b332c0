// Package fsm implements the generic driver that powers every governance
// workflow: load session, apply an event, persist the transition, render
// the next prompt. Concrete state graphs live in package workflow;
// this package only knows the (state, session_data) pair and the
// four-outcome transition result.
//
// Grounded on kanban.State (mutex-guarded in-memory state
// with explicit mutation methods), generalized from a single flat
// ticket-status field to a full (state, session_data) pair, and on
// orchestrator.go's load-act-persist-loop cycle shape.
package fsm

import (
	"context"
	"errors"
	"fmt"

	"github.com/boardroomjournal/core/domain"
	"github.com/boardroomjournal/core/ports"
)

// Prompt is what the Runtime shows the user for the session's current
// state.
type Prompt struct {
	State    string
	Question string
	Kind     string // "free_text", "direction_row", "confirmation", "review"
}

// TransitionResult is the closed sum type Submit returns, the same
// tagged-interface idiom used for Status/AuditEventType,
// generalized to carry a payload per variant.
type TransitionResult interface {
	transitionResult()
}

type AwaitingInput struct {
	Next Prompt
}

type RequiresClarification struct {
	Reason string
}

type Completed struct {
	OutputMarkdown string
}

type Aborted struct {
	Reason string
}

func (AwaitingInput) transitionResult()         {}
func (RequiresClarification) transitionResult() {}
func (Completed) transitionResult()             {}
func (Aborted) transitionResult()               {}

// WorkflowSpec is the state graph for one session type. Transition
// mutates session in place (current_state, session_data, transcript)
// and returns the outcome; the Runtime is responsible for persisting
// whatever Transition mutated, never the other way around.
type WorkflowSpec interface {
	Type() domain.SessionType
	InitialState() string
	Prompt(session *domain.GovernanceSession) Prompt
	Transition(ctx context.Context, session *domain.GovernanceSession, answer string) (TransitionResult, error)
}

// SessionStore is the narrow slice of *db.Store the Runtime needs.
type SessionStore interface {
	CreateGovernanceSession(ctx context.Context, g domain.GovernanceSession) (domain.GovernanceSession, error)
	GetGovernanceSession(ctx context.Context, id string) (domain.GovernanceSession, error)
	IncompleteSession(ctx context.Context) (domain.GovernanceSession, error)
	UpdateGovernanceSession(ctx context.Context, g domain.GovernanceSession) (domain.GovernanceSession, error)
}

// Runtime drives any registered WorkflowSpec through Start/Submit,
// enforcing the vagueness gate and duplicate-submission rejection that
// apply uniformly across every workflow.
type Runtime struct {
	store  SessionStore
	clock  ports.Clock
	random ports.RandomSource
	specs  map[domain.SessionType]WorkflowSpec
}

// NewRuntime registers every WorkflowSpec the process knows about,
// keyed by its own Type().
func NewRuntime(store SessionStore, clock ports.Clock, random ports.RandomSource, specs ...WorkflowSpec) *Runtime {
	r := &Runtime{store: store, clock: clock, random: random, specs: make(map[domain.SessionType]WorkflowSpec)}
	for _, s := range specs {
		r.specs[s.Type()] = s
	}
	return r
}

// Start begins a new session of sessionType, refusing to start a
// second concurrent session: callers should check Resume first.
func (r *Runtime) Start(ctx context.Context, sessionType domain.SessionType, abstractionMode string) (domain.GovernanceSession, Prompt, error) {
	spec, ok := r.specs[sessionType]
	if !ok {
		return domain.GovernanceSession{}, Prompt{}, fmt.Errorf("fsm: no workflow spec registered for %q", sessionType)
	}

	existing, err := r.store.IncompleteSession(ctx)
	if err == nil {
		return domain.GovernanceSession{}, Prompt{}, domain.ConstraintViolation("one_session_in_progress", fmt.Errorf("session %s is still in progress", existing.ID))
	}
	var ce *domain.CoreError
	if !errors.As(err, &ce) || ce.Kind != domain.KindNotFound {
		return domain.GovernanceSession{}, Prompt{}, err
	}

	now := r.clock.Now()
	session := domain.GovernanceSession{
		SyncColumns:     domain.SyncColumns{ID: r.random.NewID()},
		Type:            sessionType,
		CurrentState:    spec.InitialState(),
		AbstractionMode: abstractionMode,
		SessionData:     map[string]any{},
		StartedAtUTC:    now,
	}

	created, err := r.store.CreateGovernanceSession(ctx, session)
	if err != nil {
		return domain.GovernanceSession{}, Prompt{}, err
	}
	return created, spec.Prompt(&created), nil
}

// Resume loads the one session with is_completed=false, if any, for
// crash recovery at process start - grounded on the
// cleanupOrphanedRuns logic in orchestrator.go's Initialize.
func (r *Runtime) Resume(ctx context.Context) (domain.GovernanceSession, Prompt, bool, error) {
	session, err := r.store.IncompleteSession(ctx)
	if err != nil {
		var ce *domain.CoreError
		if errors.As(err, &ce) && ce.Kind == domain.KindNotFound {
			return domain.GovernanceSession{}, Prompt{}, false, nil
		}
		return domain.GovernanceSession{}, Prompt{}, false, err
	}
	spec, ok := r.specs[session.Type]
	if !ok {
		return domain.GovernanceSession{}, Prompt{}, false, fmt.Errorf("fsm: no workflow spec registered for %q", session.Type)
	}
	return session, spec.Prompt(&session), true, nil
}

// Submit applies answer to session at epoch, rejecting stale
// resubmissions whose epoch does not match the session's current one.
// Before any free-text-driven transition it runs the vagueness gate;
// a skip request is honored at most twice per session, after which the
// transcript records a refusal and the gate holds.
func (r *Runtime) Submit(ctx context.Context, session domain.GovernanceSession, epoch int64, answer string, isSkipRequest bool) (TransitionResult, domain.GovernanceSession, error) {
	if epoch != session.Epoch {
		return nil, session, fmt.Errorf("fsm: stale submission: session is at epoch %d, got %d", session.Epoch, epoch)
	}

	spec, ok := r.specs[session.Type]
	if !ok {
		return nil, session, fmt.Errorf("fsm: no workflow spec registered for %q", session.Type)
	}

	if isSkipRequest {
		if session.VaguenessSkipCount >= 2 {
			session.TranscriptLog = append(session.TranscriptLog, domain.TranscriptEntry{
				AtUTC: r.clock.Now(), State: session.CurrentState, Role: "system", Content: "[example refused]",
			})
			result := RequiresClarification{Reason: "a concrete example is required after two skipped requests"}
			persisted, err := r.persist(ctx, session)
			return result, persisted, err
		}
		session.VaguenessSkipCount++
		session.TranscriptLog = append(session.TranscriptLog, domain.TranscriptEntry{
			AtUTC: r.clock.Now(), State: session.CurrentState, Role: "system", Content: "[example skipped]",
		})
		persisted, err := r.persist(ctx, session)
		return nil, persisted, err
	}

	if verdict := domain.ClassifyVagueness(answer); verdict == domain.Vague {
		result := RequiresClarification{Reason: "that answer reads as generic - name the specific instance you mean"}
		return result, session, nil
	}

	session.TranscriptLog = append(session.TranscriptLog, domain.TranscriptEntry{
		AtUTC: r.clock.Now(), State: session.CurrentState, Role: "user", Content: answer,
	})

	result, err := spec.Transition(ctx, &session, answer)
	if err != nil {
		return nil, session, err
	}

	session.Epoch++
	if c, ok := result.(Completed); ok {
		session.IsCompleted = true
		completedAt := r.clock.Now()
		session.CompletedAtUTC = &completedAt
		session.OutputMarkdown = c.OutputMarkdown
	}

	persisted, err := r.persist(ctx, session)
	return result, persisted, err
}

func (r *Runtime) persist(ctx context.Context, session domain.GovernanceSession) (domain.GovernanceSession, error) {
	return r.store.UpdateGovernanceSession(ctx, session)
}
