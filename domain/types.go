// Package domain holds the entities, invariants, and pure validators of
// the portfolio/board model. Nothing here touches storage, the network,
// or an LLM; every function is deterministic given its arguments.
package domain

import "time"

// SyncStatus tracks where a row stands relative to the remote copy.
type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncSynced   SyncStatus = "synced"
	SyncConflict SyncStatus = "conflict"
)

// SyncColumns are the five fields every synchronized entity carries.
// Embedded by value so JSON and SQL column mapping stay flat.
type SyncColumns struct {
	ID            string     `json:"id"`
	SyncStatus    SyncStatus `json:"sync_status"`
	ServerVersion int64      `json:"server_version"`
	UpdatedAtUTC  time.Time  `json:"updated_at_utc"`
	DeletedAtUTC  *time.Time `json:"deleted_at_utc,omitempty"`
}

// EntryType distinguishes how a DailyEntry was captured.
type EntryType string

const (
	EntryVoice EntryType = "voice"
	EntryText  EntryType = "text"
)

// ExtractedSignals are the seven typed buckets the extraction pipeline
// fills from an edited transcript.
type ExtractedSignals struct {
	Wins            []string `json:"wins"`
	Blockers        []string `json:"blockers"`
	Risks           []string `json:"risks"`
	AvoidedDecision string   `json:"avoided_decision"`
	ComfortWork     string   `json:"comfort_work"`
	Actions         []string `json:"actions"`
	Learnings       []string `json:"learnings"`
}

// DailyEntry is one day's raw + extracted capture.
//
// Invariants: WordCount <= 7500; DurationS <= 900 when EntryType is
// voice; EditedTranscript is never empty (it may equal RawTranscript).
type DailyEntry struct {
	SyncColumns
	RawTranscript     string           `json:"raw_transcript"`
	EditedTranscript  string           `json:"edited_transcript"`
	Signals           ExtractedSignals `json:"signals"`
	SignalsEditedMask map[string]bool `json:"signals_edited_mask"`
	EntryType         EntryType        `json:"entry_type"`
	WordCount         int              `json:"word_count"`
	DurationS         *int             `json:"duration_s,omitempty"`
	CreatedAtUTC      time.Time        `json:"created_at_utc"`
	TimezoneIANA      string           `json:"timezone"`
}

// RegenOptions are the composable modifiers a weekly-brief regeneration
// request may carry.
type RegenOptions struct {
	Shorter    bool `json:"shorter"`
	Actionable bool `json:"actionable"`
	Strategic  bool `json:"strategic"`
}

// WeeklyBrief is the Sunday-generated summary plus its micro-review.
//
// Invariants: body is 200-800 words; RegenCount <= 5; exactly one brief
// exists per (WeekStart, WeekTimezone).
type WeeklyBrief struct {
	SyncColumns
	WeekStart           string       `json:"week_start"` // YYYY-MM-DD, Sunday
	WeekEnd             string       `json:"week_end"`
	WeekTimezone        string       `json:"week_timezone"`
	BriefMarkdown       string       `json:"brief_markdown"`
	MicroReviewMarkdown string       `json:"micro_review_markdown,omitempty"`
	EntryCount          int          `json:"entry_count"`
	RegenCount          int          `json:"regen_count"`
	RegenOptions        RegenOptions `json:"regen_options"`
	Status              string       `json:"status"` // collecting|summarized|rendered|micro_reviewed|published
	PublishedAtUTC      *time.Time   `json:"published_at_utc,omitempty"`
}

// Direction is the closed set of labels a Problem's trajectory may carry.
type Direction string

const (
	DirectionAppreciating Direction = "appreciating"
	DirectionDepreciating Direction = "depreciating"
	DirectionStable       Direction = "stable"
)

// Problem is one entry in the three-to-five problem portfolio.
//
// Invariants: owned by exactly the current portfolio; 3 <= count <= 5;
// sum of TimeAllocationPct across the portfolio in [95,105] to publish
// without warning; deletion forbidden when count would drop below 3.
type Problem struct {
	SyncColumns
	Name              string    `json:"name"`
	WhatBreaks        string    `json:"what_breaks"`
	ScarcitySignals   []string  `json:"scarcity_signals"` // 2 items, or ["unknown"] + reason
	Direction         Direction `json:"direction"`
	DirectionRationale string   `json:"direction_rationale"`
	EvidenceQuotes    [3]string `json:"evidence_quotes"`
	TimeAllocationPct int       `json:"time_allocation_pct"`
	DisplayOrder      int       `json:"display_order"`
}

// PortfolioHealth is a computed singleton snapshot, persisted only as
// part of a PortfolioVersion.
//
// Invariant: the three percentages equal the sum of problem allocations
// grouped by direction, and together sum to the portfolio's total
// allocation (not forced to 100 - reflects the allocation validator).
type PortfolioHealth struct {
	AppreciatingPct int    `json:"appreciating_pct"`
	DepreciatingPct int    `json:"depreciating_pct"`
	StablePct       int    `json:"stable_pct"`
	RiskStmt        string `json:"risk_stmt,omitempty"`
	OpportunityStmt string `json:"opportunity_stmt,omitempty"`
	PortfolioVersion int   `json:"portfolio_version"`
}

// BoardAnchoring is a frozen board-member-to-problem anchoring captured
// in a PortfolioVersion snapshot.
type BoardAnchoring struct {
	BoardMemberID     string  `json:"board_member_id"`
	AnchoredProblemID *string `json:"anchored_problem_id,omitempty"`
	AnchoredDemand    string  `json:"anchored_demand,omitempty"`
}

// PortfolioVersion is an append-only, immutable snapshot of the
// portfolio taken whenever it changes meaningfully.
//
// Invariant: VersionNumber is strictly increasing and the row is never
// mutated after creation.
type PortfolioVersion struct {
	SyncColumns
	VersionNumber int              `json:"version_number"`
	Problems      []Problem        `json:"problems"`
	Health        PortfolioHealth  `json:"health"`
	BoardAnchoring []BoardAnchoring `json:"board_anchoring"`
	Triggers      []ReSetupTrigger `json:"triggers"`
	TriggerReason string           `json:"trigger_reason"` // setup|quarterly_edit|re_setup
}

// Persona bounds the free-text fields used to render a board member's
// voice consistently across sessions.
//
// Invariants: Name 1-50 chars, Background 10-300, CommunicationStyle
// 10-200, SignaturePhrase 0-100.
type Persona struct {
	Name              string `json:"name"`
	Background        string `json:"background"`
	CommunicationStyle string `json:"communication_style"`
	SignaturePhrase   string `json:"signature_phrase"`
}

// BoardMember is a core or growth role, optionally anchored to a
// problem.
//
// Invariants: exactly 5 core members, always active; 0 or 2 growth
// members, active iff at least one appreciating problem exists.
type BoardMember struct {
	SyncColumns
	RoleType          string   `json:"role_type"`
	IsGrowthRole      bool     `json:"is_growth_role"`
	IsActive          bool     `json:"is_active"`
	AnchoredProblemID *string  `json:"anchored_problem_id,omitempty"`
	AnchoredDemand    string   `json:"anchored_demand,omitempty"`
	Persona           Persona  `json:"persona"`
	OriginalPersona   Persona  `json:"original_persona"`
}

// SessionType is the closed set of workflows an FSM session may run.
type SessionType string

const (
	SessionQuick     SessionType = "quick"
	SessionSetup     SessionType = "setup"
	SessionQuarterly SessionType = "quarterly"
)

// TranscriptEntry is one append-only line of a session's transcript.
type TranscriptEntry struct {
	AtUTC   time.Time `json:"at_utc"`
	State   string    `json:"state"`
	Role    string    `json:"role"` // board|user|system
	Content string    `json:"content"`
}

// GovernanceSession is one run of an FSM workflow: quick, setup, or
// quarterly. CurrentState and TranscriptLog are the durable record a
// crash must be able to resume from.
//
// Invariants: VaguenessSkipCount <= 2; at most one session with
// IsCompleted=false exists at any time.
type GovernanceSession struct {
	SyncColumns
	Type                     SessionType       `json:"type"`
	CurrentState             string            `json:"current_state"`
	IsCompleted              bool              `json:"is_completed"`
	AbstractionMode          string            `json:"abstraction_mode"`
	VaguenessSkipCount       int               `json:"vagueness_skip_count"`
	Epoch                    int64             `json:"epoch"`
	SessionData              map[string]any    `json:"session_data"`
	TranscriptLog            []TranscriptEntry `json:"transcript_log"`
	OutputMarkdown           string            `json:"output_markdown,omitempty"`
	CreatedPortfolioVersionID string           `json:"created_portfolio_version_id,omitempty"`
	EvaluatedBetID           string            `json:"evaluated_bet_id,omitempty"`
	CreatedBetID             string            `json:"created_bet_id,omitempty"`
	StartedAtUTC             time.Time         `json:"started_at"`
	CompletedAtUTC           *time.Time        `json:"completed_at,omitempty"`
	DurationS                *int              `json:"duration_s,omitempty"`
}

// BetStatus is the closed set of states a 90-day bet moves through.
type BetStatus string

const (
	BetOpen    BetStatus = "open"
	BetCorrect BetStatus = "correct"
	BetWrong   BetStatus = "wrong"
	BetExpired BetStatus = "expired"
)

// Bet is a dated, falsifiable commitment surfaced out of a workflow.
//
// Invariants: DueAtUTC = CreatedAtUTC + 90 days exactly; WrongIf is
// never empty; transitions restricted per ValidateBetTransition.
type Bet struct {
	SyncColumns
	Prediction          string     `json:"prediction"`
	WrongIf             string     `json:"wrong_if"`
	Status              BetStatus  `json:"status"`
	SourceSessionID     string     `json:"source_session_id"`
	EvaluationSessionID string     `json:"evaluation_session_id,omitempty"`
	CreatedAtUTC        time.Time  `json:"created_at_utc"`
	DueAtUTC            time.Time  `json:"due_at_utc"`
	EvaluatedAtUTC      *time.Time `json:"evaluated_at_utc,omitempty"`
}

// EvidenceType classifies how an EvidenceItem was sourced.
type EvidenceType string

const (
	EvidenceDecision EvidenceType = "decision"
	EvidenceArtifact EvidenceType = "artifact"
	EvidenceCalendar EvidenceType = "calendar"
	EvidenceProxy    EvidenceType = "proxy"
	EvidenceNone     EvidenceType = "none"
)

// EvidenceStrength is a bounded confidence label. The validator may
// weaken it after creation but never strengthen it.
type EvidenceStrength string

const (
	StrengthStrong EvidenceStrength = "strong"
	StrengthMedium EvidenceStrength = "medium"
	StrengthWeak   EvidenceStrength = "weak"
	StrengthNone   EvidenceStrength = "none"
)

// EvidenceItem is one quoted or observed fact backing a bet or a
// quarterly conclusion.
type EvidenceItem struct {
	SyncColumns
	SessionID    string           `json:"session_id"`
	ProblemID    string           `json:"problem_id,omitempty"`
	EvidenceType EvidenceType     `json:"evidence_type"`
	StatementText string          `json:"statement_text"`
	Strength     EvidenceStrength `json:"strength"`
	Context      string           `json:"context,omitempty"`
}

// ReSetupTriggerKind is the closed set of conditions that can mark a
// portfolio stale.
type ReSetupTriggerKind string

const (
	TriggerRoleChange    ReSetupTriggerKind = "role_change"
	TriggerScopeChange   ReSetupTriggerKind = "scope_change"
	TriggerDirectionShift ReSetupTriggerKind = "direction_shift"
	TriggerTimeDrift     ReSetupTriggerKind = "time_drift"
	TriggerAnnual        ReSetupTriggerKind = "annual"
)

// ReSetupTrigger records one detected or user-signaled condition
// suggesting the portfolio needs to be re-set-up.
type ReSetupTrigger struct {
	SyncColumns
	TriggerType       ReSetupTriggerKind `json:"trigger_type"`
	Description       string             `json:"description"`
	Condition         string             `json:"condition"`
	RecommendedAction string             `json:"recommended_action"`
	IsMet             bool               `json:"is_met"`
	MetAtUTC          *time.Time         `json:"met_at_utc,omitempty"`
	DueAtUTC          *time.Time         `json:"due_at_utc,omitempty"`
}

// UserPreferences is the single-row configuration persisted locally and
// overridable at the CLI.
//
// Invariant: exactly one row per device.
type UserPreferences struct {
	SyncColumns
	AbstractionDefaultQuick     string `json:"abstraction_default_quick"`
	AbstractionDefaultSetup     string `json:"abstraction_default_setup"`
	AbstractionDefaultQuarterly string `json:"abstraction_default_quarterly"`
	RememberChoice              bool   `json:"remember_choice"`
	AnalyticsOptIn              bool   `json:"analytics_opt_in"`
	OnboardingCompleted         bool   `json:"onboarding_completed"`
	TotalEntryCount             int    `json:"total_entry_count"`
	SetupPromptDismissed        bool   `json:"setup_prompt_dismissed"`
	SetupPromptLastShown        *time.Time `json:"setup_prompt_last_shown,omitempty"`
	BriefScheduleWeekday        int    `json:"brief_schedule_weekday"` // 0=Sunday
	BriefScheduleHour           int    `json:"brief_schedule_hour"`
	TimezoneIANA                string `json:"timezone_iana"`
	AudioRetainOnFailure         bool   `json:"audio_retain_on_failure"`
}
