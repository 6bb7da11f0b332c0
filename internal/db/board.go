package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/boardroomjournal/core/domain"
)

const boardMemberColumns = `id, sync_status, server_version, updated_at_utc, deleted_at_utc,
	role_type, is_growth_role, is_active, anchored_problem_id, anchored_demand,
	persona_json, original_persona_json`

func scanBoardMember(row interface{ Scan(...any) error }) (domain.BoardMember, error) {
	var m domain.BoardMember
	var personaJSON, originalJSON string
	err := row.Scan(&m.ID, &m.SyncStatus, &m.ServerVersion, &m.UpdatedAtUTC, &m.DeletedAtUTC,
		&m.RoleType, &m.IsGrowthRole, &m.IsActive, &m.AnchoredProblemID, &m.AnchoredDemand,
		&personaJSON, &originalJSON)
	if err != nil {
		return domain.BoardMember{}, err
	}
	if err := json.Unmarshal([]byte(personaJSON), &m.Persona); err != nil {
		return domain.BoardMember{}, err
	}
	if err := json.Unmarshal([]byte(originalJSON), &m.OriginalPersona); err != nil {
		return domain.BoardMember{}, err
	}
	return m, nil
}

// CreateBoardMember inserts a core or growth role. The FSM Runtime never
// calls this directly; only the Portfolio & Board Manager does, so
// anchoring and cardinality are always enforced at one seam.
func (s *Store) CreateBoardMember(ctx context.Context, m domain.BoardMember) (domain.BoardMember, error) {
	s.stampMutation(&m.SyncColumns)
	personaJSON, err := json.Marshal(m.Persona)
	if err != nil {
		return domain.BoardMember{}, err
	}
	originalJSON, err := json.Marshal(m.OriginalPersona)
	if err != nil {
		return domain.BoardMember{}, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO board_members (id, sync_status, server_version, updated_at_utc, deleted_at_utc,
				role_type, is_growth_role, is_active, anchored_problem_id, anchored_demand,
				persona_json, original_persona_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID, m.SyncStatus, m.ServerVersion, m.UpdatedAtUTC, m.DeletedAtUTC,
			m.RoleType, m.IsGrowthRole, m.IsActive, m.AnchoredProblemID, m.AnchoredDemand,
			string(personaJSON), string(originalJSON))
		return err
	})
	if err != nil {
		return domain.BoardMember{}, err
	}
	s.notify("board_member", Snapshot{EntityType: "board_member", EntityID: m.ID, UpdatedAtUTC: m.UpdatedAtUTC})
	return m, nil
}

// ListBoard returns every non-deleted board member, core and growth,
// active or not.
func (s *Store) ListBoard(ctx context.Context) ([]domain.BoardMember, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT `+boardMemberColumns+` FROM board_members WHERE deleted_at_utc IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BoardMember
	for rows.Next() {
		m, err := scanBoardMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) GetBoardMember(ctx context.Context, id string) (domain.BoardMember, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+boardMemberColumns+` FROM board_members WHERE id=?`, id)
	m, err := scanBoardMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BoardMember{}, domain.NotFound("board_member")
	}
	return m, err
}

// UpdateBoardMember persists anchoring changes (re-anchoring after a
// deletion) and activation toggles (growth-role activation/deactivation).
func (s *Store) UpdateBoardMember(ctx context.Context, m domain.BoardMember) (domain.BoardMember, error) {
	expected := m.ServerVersion
	m.ServerVersion++
	s.stampMutation(&m.SyncColumns)
	personaJSON, err := json.Marshal(m.Persona)
	if err != nil {
		return domain.BoardMember{}, err
	}
	originalJSON, err := json.Marshal(m.OriginalPersona)
	if err != nil {
		return domain.BoardMember{}, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE board_members SET sync_status=?, server_version=?, updated_at_utc=?,
				is_active=?, anchored_problem_id=?, anchored_demand=?, persona_json=?, original_persona_json=?
			WHERE id=? AND server_version=?
		`, m.SyncStatus, m.ServerVersion, m.UpdatedAtUTC, m.IsActive, m.AnchoredProblemID, m.AnchoredDemand,
			string(personaJSON), string(originalJSON), m.ID, expected)
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
		return domain.BoardMember{}, err
	}
	s.notify("board_member", Snapshot{EntityType: "board_member", EntityID: m.ID, UpdatedAtUTC: m.UpdatedAtUTC})
	return m, nil
}
