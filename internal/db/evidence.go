package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/boardroomjournal/core/domain"
)

const evidenceItemColumns = `id, sync_status, server_version, updated_at_utc, deleted_at_utc,
	session_id, problem_id, evidence_type, statement_text, strength, context`

func scanEvidenceItem(row interface{ Scan(...any) error }) (domain.EvidenceItem, error) {
	var e domain.EvidenceItem
	err := row.Scan(&e.ID, &e.SyncStatus, &e.ServerVersion, &e.UpdatedAtUTC, &e.DeletedAtUTC,
		&e.SessionID, &e.ProblemID, &e.EvidenceType, &e.StatementText, &e.Strength, &e.Context)
	return e, err
}

// CreateEvidenceItem records one quoted or observed fact, its strength
// already run through domain.DefaultEvidenceStrength and any
// domain.AdjustEvidenceStrength weakening by the caller.
func (s *Store) CreateEvidenceItem(ctx context.Context, e domain.EvidenceItem) (domain.EvidenceItem, error) {
	s.stampMutation(&e.SyncColumns)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO evidence_items (id, sync_status, server_version, updated_at_utc, deleted_at_utc,
				session_id, problem_id, evidence_type, statement_text, strength, context)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, e.SyncStatus, e.ServerVersion, e.UpdatedAtUTC, e.DeletedAtUTC,
			e.SessionID, e.ProblemID, e.EvidenceType, e.StatementText, e.Strength, e.Context)
		return err
	})
	if err != nil {
		return domain.EvidenceItem{}, err
	}
	s.notify("evidence_item", Snapshot{EntityType: "evidence_item", EntityID: e.ID, UpdatedAtUTC: e.UpdatedAtUTC})
	return e, nil
}

// ListEvidenceForSession returns every evidence item attached to one
// governance session, in insertion order.
func (s *Store) ListEvidenceForSession(ctx context.Context, sessionID string) ([]domain.EvidenceItem, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT `+evidenceItemColumns+` FROM evidence_items WHERE session_id=? AND deleted_at_utc IS NULL`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EvidenceItem
	for rows.Next() {
		e, err := scanEvidenceItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetEvidenceItem(ctx context.Context, id string) (domain.EvidenceItem, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+evidenceItemColumns+` FROM evidence_items WHERE id=?`, id)
	e, err := scanEvidenceItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EvidenceItem{}, domain.NotFound("evidence_item")
	}
	return e, err
}
