package fsm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boardroomjournal/core/domain"
)

type fixedClock struct{ t time.Time }

func (f *fixedClock) Now() time.Time { return f.t }

type seqRandom struct{ n int }

func (r *seqRandom) NewID() string {
	r.n++
	return "session-" + string(rune('0'+r.n))
}
func (r *seqRandom) Float64() float64 { return 0.5 }

type memStore struct {
	sessions map[string]domain.GovernanceSession
}

func newMemStore() *memStore { return &memStore{sessions: map[string]domain.GovernanceSession{}} }

func (m *memStore) CreateGovernanceSession(ctx context.Context, g domain.GovernanceSession) (domain.GovernanceSession, error) {
	m.sessions[g.ID] = g
	return g, nil
}

func (m *memStore) GetGovernanceSession(ctx context.Context, id string) (domain.GovernanceSession, error) {
	g, ok := m.sessions[id]
	if !ok {
		return domain.GovernanceSession{}, domain.NotFound("governance_session")
	}
	return g, nil
}

func (m *memStore) IncompleteSession(ctx context.Context) (domain.GovernanceSession, error) {
	for _, g := range m.sessions {
		if !g.IsCompleted && g.DeletedAtUTC == nil {
			return g, nil
		}
	}
	return domain.GovernanceSession{}, domain.NotFound("governance_session")
}

func (m *memStore) UpdateGovernanceSession(ctx context.Context, g domain.GovernanceSession) (domain.GovernanceSession, error) {
	existing, ok := m.sessions[g.ID]
	if !ok {
		return domain.GovernanceSession{}, domain.NotFound("governance_session")
	}
	if existing.ServerVersion != g.ServerVersion {
		return domain.GovernanceSession{}, domain.ConflictingVersion(g.ServerVersion)
	}
	g.ServerVersion++
	m.sessions[g.ID] = g
	return g, nil
}

// twoStateSpec is a minimal WorkflowSpec: one question, any concrete
// answer completes it.
type twoStateSpec struct{}

func (twoStateSpec) Type() domain.SessionType  { return domain.SessionQuick }
func (twoStateSpec) InitialState() string      { return "ask" }
func (twoStateSpec) Prompt(s *domain.GovernanceSession) Prompt {
	return Prompt{State: s.CurrentState, Question: "name one problem", Kind: "free_text"}
}
func (twoStateSpec) Transition(ctx context.Context, s *domain.GovernanceSession, answer string) (TransitionResult, error) {
	s.CurrentState = "done"
	return Completed{OutputMarkdown: "# Output\n" + answer}, nil
}

func newTestRuntime() (*Runtime, *memStore) {
	store := newMemStore()
	clock := &fixedClock{t: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
	r := NewRuntime(store, clock, &seqRandom{}, twoStateSpec{})
	return r, store
}

func TestStartCreatesSessionAtInitialState(t *testing.T) {
	r, _ := newTestRuntime()
	session, prompt, err := r.Start(context.Background(), domain.SessionQuick, "direct")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if session.CurrentState != "ask" {
		t.Errorf("expected initial state 'ask', got %q", session.CurrentState)
	}
	if prompt.Question == "" {
		t.Errorf("expected a non-empty prompt question")
	}
}

func TestSubmitRejectsStaleEpoch(t *testing.T) {
	r, _ := newTestRuntime()
	session, _, err := r.Start(context.Background(), domain.SessionQuick, "direct")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, _, err = r.Submit(context.Background(), session, session.Epoch+1, "we lost the Acme account last week", false)
	if err == nil {
		t.Fatalf("expected stale epoch to be rejected")
	}
}

func TestSubmitVagueAnswerRequiresClarificationWithoutAdvancing(t *testing.T) {
	r, _ := newTestRuntime()
	session, _, err := r.Start(context.Background(), domain.SessionQuick, "direct")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	result, after, err := r.Submit(context.Background(), session, session.Epoch, "things are generally fine I guess", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, ok := result.(RequiresClarification); !ok {
		t.Fatalf("expected RequiresClarification for a vague answer, got %T", result)
	}
	if after.Epoch != session.Epoch {
		t.Errorf("vague answer must not advance the session epoch")
	}
}

func TestSubmitConcreteAnswerCompletesSession(t *testing.T) {
	r, store := newTestRuntime()
	session, _, err := r.Start(context.Background(), domain.SessionQuick, "direct")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	result, after, err := r.Submit(context.Background(), session, session.Epoch, "we lost the Acme account on March 3rd", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	completed, ok := result.(Completed)
	if !ok {
		t.Fatalf("expected Completed, got %T", result)
	}
	if completed.OutputMarkdown == "" {
		t.Errorf("expected non-empty output markdown")
	}
	if !after.IsCompleted {
		t.Errorf("expected session to be marked completed")
	}
	if after.Epoch != session.Epoch+1 {
		t.Errorf("expected epoch to advance by one, got %d -> %d", session.Epoch, after.Epoch)
	}
	if len(store.sessions[after.ID].TranscriptLog) == 0 {
		t.Errorf("expected the transcript to record the user's answer")
	}
}

func TestSkipRequestIsHonoredAtMostTwice(t *testing.T) {
	r, _ := newTestRuntime()
	session, _, err := r.Start(context.Background(), domain.SessionQuick, "direct")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 2; i++ {
		result, after, err := r.Submit(context.Background(), session, session.Epoch, "", true)
		if err != nil {
			t.Fatalf("Submit skip %d: %v", i, err)
		}
		if after.VaguenessSkipCount != i+1 {
			t.Errorf("expected skip count %d, got %d", i+1, after.VaguenessSkipCount)
		}
		if result != nil {
			t.Errorf("expected no transition result on an honored skip, got %#v", result)
		}
		session = after
	}

	result, _, err := r.Submit(context.Background(), session, session.Epoch, "", true)
	if err != nil {
		t.Fatalf("Submit third skip: %v", err)
	}
	if _, ok := result.(RequiresClarification); !ok {
		t.Fatalf("expected a third skip to require clarification, got %T", result)
	}
}

func TestResumeFindsIncompleteSession(t *testing.T) {
	r, _ := newTestRuntime()
	started, _, err := r.Start(context.Background(), domain.SessionQuick, "direct")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	resumed, prompt, found, err := r.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !found {
		t.Fatalf("expected Resume to find the incomplete session")
	}
	if resumed.ID != started.ID {
		t.Errorf("expected to resume session %q, got %q", started.ID, resumed.ID)
	}
	if prompt.Question == "" {
		t.Errorf("expected a non-empty resume prompt")
	}
}

func TestResumeReportsNoneWhenEverythingIsCompleted(t *testing.T) {
	r, _ := newTestRuntime()
	session, _, err := r.Start(context.Background(), domain.SessionQuick, "direct")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, _, err := r.Submit(context.Background(), session, session.Epoch, "we lost the Acme account on March 3rd", false); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	_, _, found, err := r.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if found {
		t.Errorf("expected no incomplete session after completion")
	}
}

func TestUpdateGovernanceSessionRejectsConcurrentModification(t *testing.T) {
	_, store := newTestRuntime()
	ctx := context.Background()
	created, err := store.CreateGovernanceSession(ctx, domain.GovernanceSession{
		SyncColumns:  domain.SyncColumns{ID: "conflict-session"},
		Type:         domain.SessionQuick,
		CurrentState: "ask",
		SessionData:  map[string]any{},
	})
	if err != nil {
		t.Fatalf("CreateGovernanceSession: %v", err)
	}

	stale := created
	stale.ServerVersion = created.ServerVersion + 99

	_, err = store.UpdateGovernanceSession(ctx, stale)
	var ce *domain.CoreError
	if !errors.As(err, &ce) || ce.Kind != domain.KindConflictingVersion {
		t.Fatalf("expected ConflictingVersion, got %v", err)
	}
}
