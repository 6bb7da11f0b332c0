package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/boardroomjournal/core/domain"
	"github.com/boardroomjournal/core/ports"
)

// ApplyRemoteDelta writes one delta pulled from the remote peer onto
// local storage. The caller (the Sync Coordinator) has already resolved
// the last-write-wins comparison and decided the remote copy should
// win; this method only persists that decision. sync_status is always
// set to synced here - a row written by ApplyRemoteDelta is, by
// definition, caught up with the remote.
func (s *Store) ApplyRemoteDelta(ctx context.Context, d ports.Delta) error {
	if d.Operation == "delete" {
		return s.applyRemoteDelete(ctx, d)
	}
	switch d.EntityType {
	case "problem":
		return s.applyProblemDelta(ctx, d)
	case "board_member":
		return s.applyBoardMemberDelta(ctx, d)
	case "bet":
		return s.applyBetDelta(ctx, d)
	case "evidence_item":
		return s.applyEvidenceItemDelta(ctx, d)
	case "daily_entry":
		return s.applyDailyEntryDelta(ctx, d)
	case "weekly_brief":
		return s.applyWeeklyBriefDelta(ctx, d)
	case "governance_session":
		return s.applyGovernanceSessionDelta(ctx, d)
	case "portfolio_version":
		return s.applyPortfolioVersionDelta(ctx, d)
	case "re_setup_trigger":
		return s.applyReSetupTriggerDelta(ctx, d)
	case "user_preferences":
		return s.applyUserPreferencesDelta(ctx, d)
	default:
		return fmt.Errorf("sync: unknown entity type %q", d.EntityType)
	}
}

var remoteDeltaTable = map[string]string{
	"problem":             "problems",
	"board_member":         "board_members",
	"bet":                  "bets",
	"evidence_item":        "evidence_items",
	"daily_entry":          "daily_entries",
	"weekly_brief":         "weekly_briefs",
	"governance_session":   "governance_sessions",
	"portfolio_version":    "portfolio_versions",
	"re_setup_trigger":     "re_setup_triggers",
	"user_preferences":     "user_preferences",
}

// applyRemoteDelete sets deleted_at_utc on a locally-present row; a
// delete delta carries no payload, only the identity of what to remove.
func (s *Store) applyRemoteDelete(ctx context.Context, d ports.Delta) error {
	table, ok := remoteDeltaTable[d.EntityType]
	if !ok {
		return fmt.Errorf("sync: unknown entity type %q", d.EntityType)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE `+table+` SET deleted_at_utc=?, sync_status=? WHERE id=?`,
			d.UpdatedAtUTC, domain.SyncSynced, d.EntityID)
		return err
	})
}

func (s *Store) applyProblemDelta(ctx context.Context, d ports.Delta) error {
	var p domain.Problem
	if err := json.Unmarshal(d.Payload, &p); err != nil {
		return err
	}
	p.SyncStatus = domain.SyncSynced
	scarcityJSON, err := json.Marshal(p.ScarcitySignals)
	if err != nil {
		return err
	}
	evidenceJSON, err := json.Marshal(p.EvidenceQuotes[:])
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO problems (id, sync_status, server_version, updated_at_utc, deleted_at_utc,
				name, what_breaks, scarcity_signals_json, direction, direction_rationale,
				evidence_quotes_json, time_allocation_pct, display_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				sync_status=excluded.sync_status, server_version=excluded.server_version,
				updated_at_utc=excluded.updated_at_utc, deleted_at_utc=excluded.deleted_at_utc,
				name=excluded.name, what_breaks=excluded.what_breaks,
				scarcity_signals_json=excluded.scarcity_signals_json, direction=excluded.direction,
				direction_rationale=excluded.direction_rationale, evidence_quotes_json=excluded.evidence_quotes_json,
				time_allocation_pct=excluded.time_allocation_pct, display_order=excluded.display_order
		`, p.ID, p.SyncStatus, p.ServerVersion, p.UpdatedAtUTC, p.DeletedAtUTC,
			p.Name, p.WhatBreaks, string(scarcityJSON), p.Direction, p.DirectionRationale,
			string(evidenceJSON), p.TimeAllocationPct, p.DisplayOrder)
		return err
	})
}

func (s *Store) applyBoardMemberDelta(ctx context.Context, d ports.Delta) error {
	var m domain.BoardMember
	if err := json.Unmarshal(d.Payload, &m); err != nil {
		return err
	}
	m.SyncStatus = domain.SyncSynced
	personaJSON, err := json.Marshal(m.Persona)
	if err != nil {
		return err
	}
	originalJSON, err := json.Marshal(m.OriginalPersona)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO board_members (id, sync_status, server_version, updated_at_utc, deleted_at_utc,
				role_type, is_growth_role, is_active, anchored_problem_id, anchored_demand,
				persona_json, original_persona_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				sync_status=excluded.sync_status, server_version=excluded.server_version,
				updated_at_utc=excluded.updated_at_utc, deleted_at_utc=excluded.deleted_at_utc,
				is_active=excluded.is_active, anchored_problem_id=excluded.anchored_problem_id,
				anchored_demand=excluded.anchored_demand, persona_json=excluded.persona_json,
				original_persona_json=excluded.original_persona_json
		`, m.ID, m.SyncStatus, m.ServerVersion, m.UpdatedAtUTC, m.DeletedAtUTC,
			m.RoleType, m.IsGrowthRole, m.IsActive, m.AnchoredProblemID, m.AnchoredDemand,
			string(personaJSON), string(originalJSON))
		return err
	})
}

func (s *Store) applyBetDelta(ctx context.Context, d ports.Delta) error {
	var b domain.Bet
	if err := json.Unmarshal(d.Payload, &b); err != nil {
		return err
	}
	b.SyncStatus = domain.SyncSynced
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bets (id, sync_status, server_version, updated_at_utc, deleted_at_utc,
				prediction, wrong_if, status, source_session_id, evaluation_session_id,
				created_at_utc, due_at_utc, evaluated_at_utc)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				sync_status=excluded.sync_status, server_version=excluded.server_version,
				updated_at_utc=excluded.updated_at_utc, deleted_at_utc=excluded.deleted_at_utc,
				status=excluded.status, evaluation_session_id=excluded.evaluation_session_id,
				evaluated_at_utc=excluded.evaluated_at_utc
		`, b.ID, b.SyncStatus, b.ServerVersion, b.UpdatedAtUTC, b.DeletedAtUTC,
			b.Prediction, b.WrongIf, b.Status, b.SourceSessionID, b.EvaluationSessionID,
			b.CreatedAtUTC, b.DueAtUTC, b.EvaluatedAtUTC)
		return err
	})
}

func (s *Store) applyEvidenceItemDelta(ctx context.Context, d ports.Delta) error {
	var e domain.EvidenceItem
	if err := json.Unmarshal(d.Payload, &e); err != nil {
		return err
	}
	e.SyncStatus = domain.SyncSynced
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO evidence_items (id, sync_status, server_version, updated_at_utc, deleted_at_utc,
				session_id, problem_id, evidence_type, statement_text, strength, context)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				sync_status=excluded.sync_status, server_version=excluded.server_version,
				updated_at_utc=excluded.updated_at_utc, deleted_at_utc=excluded.deleted_at_utc,
				strength=excluded.strength, context=excluded.context
		`, e.ID, e.SyncStatus, e.ServerVersion, e.UpdatedAtUTC, e.DeletedAtUTC,
			e.SessionID, e.ProblemID, e.EvidenceType, e.StatementText, e.Strength, e.Context)
		return err
	})
}

func (s *Store) applyDailyEntryDelta(ctx context.Context, d ports.Delta) error {
	var e domain.DailyEntry
	if err := json.Unmarshal(d.Payload, &e); err != nil {
		return err
	}
	e.SyncStatus = domain.SyncSynced
	signalsJSON, err := json.Marshal(e.Signals)
	if err != nil {
		return err
	}
	maskJSON, err := json.Marshal(e.SignalsEditedMask)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO daily_entries (id, sync_status, server_version, updated_at_utc, deleted_at_utc,
				raw_transcript, edited_transcript, signals_json, signals_edited_mask_json, entry_type,
				word_count, duration_s, created_at_utc, timezone)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				sync_status=excluded.sync_status, server_version=excluded.server_version,
				updated_at_utc=excluded.updated_at_utc, deleted_at_utc=excluded.deleted_at_utc,
				raw_transcript=excluded.raw_transcript, edited_transcript=excluded.edited_transcript,
				signals_json=excluded.signals_json, signals_edited_mask_json=excluded.signals_edited_mask_json,
				word_count=excluded.word_count, duration_s=excluded.duration_s
		`, e.ID, e.SyncStatus, e.ServerVersion, e.UpdatedAtUTC, e.DeletedAtUTC,
			e.RawTranscript, e.EditedTranscript, string(signalsJSON), string(maskJSON), e.EntryType,
			e.WordCount, e.DurationS, e.CreatedAtUTC, e.TimezoneIANA)
		return err
	})
}

func (s *Store) applyWeeklyBriefDelta(ctx context.Context, d ports.Delta) error {
	var b domain.WeeklyBrief
	if err := json.Unmarshal(d.Payload, &b); err != nil {
		return err
	}
	b.SyncStatus = domain.SyncSynced
	optsJSON, err := json.Marshal(b.RegenOptions)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO weekly_briefs (id, sync_status, server_version, updated_at_utc, deleted_at_utc,
				week_start, week_end, week_timezone, brief_markdown, micro_review_markdown,
				entry_count, regen_count, regen_options_json, status, published_at_utc)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				sync_status=excluded.sync_status, server_version=excluded.server_version,
				updated_at_utc=excluded.updated_at_utc, deleted_at_utc=excluded.deleted_at_utc,
				brief_markdown=excluded.brief_markdown, micro_review_markdown=excluded.micro_review_markdown,
				entry_count=excluded.entry_count, regen_count=excluded.regen_count,
				regen_options_json=excluded.regen_options_json, status=excluded.status,
				published_at_utc=excluded.published_at_utc
		`, b.ID, b.SyncStatus, b.ServerVersion, b.UpdatedAtUTC, b.DeletedAtUTC,
			b.WeekStart, b.WeekEnd, b.WeekTimezone, b.BriefMarkdown, b.MicroReviewMarkdown,
			b.EntryCount, b.RegenCount, string(optsJSON), b.Status, b.PublishedAtUTC)
		return err
	})
}

func (s *Store) applyGovernanceSessionDelta(ctx context.Context, d ports.Delta) error {
	var g domain.GovernanceSession
	if err := json.Unmarshal(d.Payload, &g); err != nil {
		return err
	}
	g.SyncStatus = domain.SyncSynced
	dataJSON, err := json.Marshal(g.SessionData)
	if err != nil {
		return err
	}
	transcriptJSON, err := json.Marshal(g.TranscriptLog)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO governance_sessions (id, sync_status, server_version, updated_at_utc, deleted_at_utc,
				type, current_state, is_completed, abstraction_mode, vagueness_skip_count, epoch,
				session_data_json, transcript_log_json, output_markdown, created_portfolio_version_id,
				evaluated_bet_id, created_bet_id, started_at, completed_at, duration_s)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				sync_status=excluded.sync_status, server_version=excluded.server_version,
				updated_at_utc=excluded.updated_at_utc, deleted_at_utc=excluded.deleted_at_utc,
				current_state=excluded.current_state, is_completed=excluded.is_completed,
				vagueness_skip_count=excluded.vagueness_skip_count, epoch=excluded.epoch,
				session_data_json=excluded.session_data_json, transcript_log_json=excluded.transcript_log_json,
				output_markdown=excluded.output_markdown, created_portfolio_version_id=excluded.created_portfolio_version_id,
				evaluated_bet_id=excluded.evaluated_bet_id, created_bet_id=excluded.created_bet_id,
				completed_at=excluded.completed_at, duration_s=excluded.duration_s
		`, g.ID, g.SyncStatus, g.ServerVersion, g.UpdatedAtUTC, g.DeletedAtUTC,
			g.Type, g.CurrentState, g.IsCompleted, g.AbstractionMode, g.VaguenessSkipCount, g.Epoch,
			string(dataJSON), string(transcriptJSON), g.OutputMarkdown, g.CreatedPortfolioVersionID,
			g.EvaluatedBetID, g.CreatedBetID, g.StartedAtUTC, g.CompletedAtUTC, g.DurationS)
		return err
	})
}

// applyPortfolioVersionDelta inserts a snapshot if absent. Portfolio
// versions are immutable once created, so a conflicting update never
// legitimately arrives; ON CONFLICT DO NOTHING makes re-delivery (at
// least once at the wire level, at most once in effect here) a no-op.
func (s *Store) applyPortfolioVersionDelta(ctx context.Context, d ports.Delta) error {
	var v domain.PortfolioVersion
	if err := json.Unmarshal(d.Payload, &v); err != nil {
		return err
	}
	v.SyncStatus = domain.SyncSynced
	problemsJSON, err := json.Marshal(v.Problems)
	if err != nil {
		return err
	}
	healthJSON, err := json.Marshal(v.Health)
	if err != nil {
		return err
	}
	anchoringJSON, err := json.Marshal(v.BoardAnchoring)
	if err != nil {
		return err
	}
	triggersJSON, err := json.Marshal(v.Triggers)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO portfolio_versions (id, sync_status, server_version, updated_at_utc, deleted_at_utc,
				version_number, problems_json, health_json, board_anchoring_json, triggers_json, trigger_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, v.ID, v.SyncStatus, v.ServerVersion, v.UpdatedAtUTC, v.DeletedAtUTC,
			v.VersionNumber, string(problemsJSON), string(healthJSON), string(anchoringJSON),
			string(triggersJSON), v.TriggerReason)
		return err
	})
}

func (s *Store) applyReSetupTriggerDelta(ctx context.Context, d ports.Delta) error {
	var t domain.ReSetupTrigger
	if err := json.Unmarshal(d.Payload, &t); err != nil {
		return err
	}
	t.SyncStatus = domain.SyncSynced
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO re_setup_triggers (id, sync_status, server_version, updated_at_utc, deleted_at_utc,
				trigger_type, description, condition_text, recommended_action, is_met, met_at_utc, due_at_utc)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				sync_status=excluded.sync_status, server_version=excluded.server_version,
				updated_at_utc=excluded.updated_at_utc, deleted_at_utc=excluded.deleted_at_utc,
				is_met=excluded.is_met, met_at_utc=excluded.met_at_utc
		`, t.ID, t.SyncStatus, t.ServerVersion, t.UpdatedAtUTC, t.DeletedAtUTC,
			t.TriggerType, t.Description, t.Condition, t.RecommendedAction, t.IsMet, t.MetAtUTC, t.DueAtUTC)
		return err
	})
}

func (s *Store) applyUserPreferencesDelta(ctx context.Context, d ports.Delta) error {
	var p domain.UserPreferences
	if err := json.Unmarshal(d.Payload, &p); err != nil {
		return err
	}
	p.SyncStatus = domain.SyncSynced
	if _, err := s.UpsertUserPreferences(ctx, p); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE user_preferences SET sync_status=?, updated_at_utc=? WHERE id=?`,
			domain.SyncSynced, p.UpdatedAtUTC, p.ID)
		return err
	})
}
