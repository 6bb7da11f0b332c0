package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/boardroomjournal/core/domain"
)

const governanceSessionColumns = `id, sync_status, server_version, updated_at_utc, deleted_at_utc,
	type, current_state, is_completed, abstraction_mode, vagueness_skip_count, epoch,
	session_data_json, transcript_log_json, output_markdown, created_portfolio_version_id,
	evaluated_bet_id, created_bet_id, started_at, completed_at, duration_s`

func scanGovernanceSession(row interface{ Scan(...any) error }) (domain.GovernanceSession, error) {
	var g domain.GovernanceSession
	var dataJSON, transcriptJSON string
	err := row.Scan(&g.ID, &g.SyncStatus, &g.ServerVersion, &g.UpdatedAtUTC, &g.DeletedAtUTC,
		&g.Type, &g.CurrentState, &g.IsCompleted, &g.AbstractionMode, &g.VaguenessSkipCount, &g.Epoch,
		&dataJSON, &transcriptJSON, &g.OutputMarkdown, &g.CreatedPortfolioVersionID,
		&g.EvaluatedBetID, &g.CreatedBetID, &g.StartedAtUTC, &g.CompletedAtUTC, &g.DurationS)
	if err != nil {
		return domain.GovernanceSession{}, err
	}
	if err := json.Unmarshal([]byte(dataJSON), &g.SessionData); err != nil {
		return domain.GovernanceSession{}, err
	}
	if err := json.Unmarshal([]byte(transcriptJSON), &g.TranscriptLog); err != nil {
		return domain.GovernanceSession{}, err
	}
	return g, nil
}

// CreateGovernanceSession starts a new session. Callers must have
// already confirmed via IncompleteSession that none is in
// progress; starting a second one is a caller bug, not something this
// method guards against by itself.
func (s *Store) CreateGovernanceSession(ctx context.Context, g domain.GovernanceSession) (domain.GovernanceSession, error) {
	s.stampMutation(&g.SyncColumns)
	dataJSON, err := json.Marshal(g.SessionData)
	if err != nil {
		return domain.GovernanceSession{}, err
	}
	transcriptJSON, err := json.Marshal(g.TranscriptLog)
	if err != nil {
		return domain.GovernanceSession{}, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO governance_sessions (id, sync_status, server_version, updated_at_utc, deleted_at_utc,
				type, current_state, is_completed, abstraction_mode, vagueness_skip_count, epoch,
				session_data_json, transcript_log_json, output_markdown, created_portfolio_version_id,
				evaluated_bet_id, created_bet_id, started_at, completed_at, duration_s)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, g.ID, g.SyncStatus, g.ServerVersion, g.UpdatedAtUTC, g.DeletedAtUTC,
			g.Type, g.CurrentState, g.IsCompleted, g.AbstractionMode, g.VaguenessSkipCount, g.Epoch,
			string(dataJSON), string(transcriptJSON), g.OutputMarkdown, g.CreatedPortfolioVersionID,
			g.EvaluatedBetID, g.CreatedBetID, g.StartedAtUTC, g.CompletedAtUTC, g.DurationS)
		return err
	})
	if err != nil {
		return domain.GovernanceSession{}, err
	}
	s.notify("governance_session", Snapshot{EntityType: "governance_session", EntityID: g.ID, UpdatedAtUTC: g.UpdatedAtUTC})
	return g, nil
}

func (s *Store) GetGovernanceSession(ctx context.Context, id string) (domain.GovernanceSession, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+governanceSessionColumns+` FROM governance_sessions WHERE id=?`, id)
	g, err := scanGovernanceSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GovernanceSession{}, domain.NotFound("governance_session")
	}
	return g, err
}

// IncompleteSession returns the one session with is_completed=false and
// no soft-delete, used both by "at most one in-progress session" at
// start time and by crash-recovery resume.
func (s *Store) IncompleteSession(ctx context.Context) (domain.GovernanceSession, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT `+governanceSessionColumns+` FROM governance_sessions
		WHERE is_completed = 0 AND deleted_at_utc IS NULL
		ORDER BY started_at DESC LIMIT 1
	`)
	g, err := scanGovernanceSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GovernanceSession{}, domain.NotFound("governance_session")
	}
	return g, err
}

// LastCompletedSession returns the most recently completed session of
// sessionType, used by the Quarterly Report's 30-day eligibility check.
func (s *Store) LastCompletedSession(ctx context.Context, sessionType domain.SessionType) (domain.GovernanceSession, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT `+governanceSessionColumns+` FROM governance_sessions
		WHERE type = ? AND is_completed = 1 AND deleted_at_utc IS NULL
		ORDER BY completed_at DESC LIMIT 1
	`, sessionType)
	g, err := scanGovernanceSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GovernanceSession{}, domain.NotFound("governance_session")
	}
	return g, err
}

// ListAllGovernanceSessions returns every non-deleted session, newest
// first, for the full JSON export.
func (s *Store) ListAllGovernanceSessions(ctx context.Context) ([]domain.GovernanceSession, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+governanceSessionColumns+` FROM governance_sessions
		WHERE deleted_at_utc IS NULL ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.GovernanceSession
	for rows.Next() {
		g, err := scanGovernanceSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpdateGovernanceSession is the FSM Runtime's one commit-a-transition
// primitive: new state, appended transcript, and bumped epoch all land
// in the same statement.
func (s *Store) UpdateGovernanceSession(ctx context.Context, g domain.GovernanceSession) (domain.GovernanceSession, error) {
	expected := g.ServerVersion
	g.ServerVersion++
	s.stampMutation(&g.SyncColumns)
	dataJSON, err := json.Marshal(g.SessionData)
	if err != nil {
		return domain.GovernanceSession{}, err
	}
	transcriptJSON, err := json.Marshal(g.TranscriptLog)
	if err != nil {
		return domain.GovernanceSession{}, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE governance_sessions SET sync_status=?, server_version=?, updated_at_utc=?,
				current_state=?, is_completed=?, vagueness_skip_count=?, epoch=?,
				session_data_json=?, transcript_log_json=?, output_markdown=?,
				created_portfolio_version_id=?, evaluated_bet_id=?, created_bet_id=?,
				completed_at=?, duration_s=?
			WHERE id=? AND server_version=?
		`, g.SyncStatus, g.ServerVersion, g.UpdatedAtUTC, g.CurrentState, g.IsCompleted,
			g.VaguenessSkipCount, g.Epoch, string(dataJSON), string(transcriptJSON), g.OutputMarkdown,
			g.CreatedPortfolioVersionID, g.EvaluatedBetID, g.CreatedBetID, g.CompletedAtUTC, g.DurationS,
			g.ID, expected)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ConflictingVersion(expected)
		}
		return nil
	})
	if err != nil {
		return domain.GovernanceSession{}, err
	}
	s.notify("governance_session", Snapshot{EntityType: "governance_session", EntityID: g.ID, UpdatedAtUTC: g.UpdatedAtUTC})
	return g, nil
}
