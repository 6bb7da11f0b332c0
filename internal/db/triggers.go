package db

import (
	"context"
	"database/sql"

	"github.com/boardroomjournal/core/domain"
)

const reSetupTriggerColumns = `id, sync_status, server_version, updated_at_utc, deleted_at_utc,
	trigger_type, description, condition_text, recommended_action, is_met, met_at_utc, due_at_utc`

func scanReSetupTrigger(row interface{ Scan(...any) error }) (domain.ReSetupTrigger, error) {
	var t domain.ReSetupTrigger
	err := row.Scan(&t.ID, &t.SyncStatus, &t.ServerVersion, &t.UpdatedAtUTC, &t.DeletedAtUTC,
		&t.TriggerType, &t.Description, &t.Condition, &t.RecommendedAction, &t.IsMet, &t.MetAtUTC, &t.DueAtUTC)
	return t, err
}

// CreateReSetupTrigger inserts one trigger row; the annual trigger is
// created once at Setup with due_at_utc = setup + 365 days.
func (s *Store) CreateReSetupTrigger(ctx context.Context, t domain.ReSetupTrigger) (domain.ReSetupTrigger, error) {
	s.stampMutation(&t.SyncColumns)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO re_setup_triggers (id, sync_status, server_version, updated_at_utc, deleted_at_utc,
				trigger_type, description, condition_text, recommended_action, is_met, met_at_utc, due_at_utc)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.SyncStatus, t.ServerVersion, t.UpdatedAtUTC, t.DeletedAtUTC,
			t.TriggerType, t.Description, t.Condition, t.RecommendedAction, t.IsMet, t.MetAtUTC, t.DueAtUTC)
		return err
	})
	if err != nil {
		return domain.ReSetupTrigger{}, err
	}
	s.notify("re_setup_trigger", Snapshot{EntityType: "re_setup_trigger", EntityID: t.ID, UpdatedAtUTC: t.UpdatedAtUTC})
	return t, nil
}

// ListReSetupTriggers returns every non-deleted trigger, evaluated at
// app launch and at the close of each Quarterly session.
func (s *Store) ListReSetupTriggers(ctx context.Context) ([]domain.ReSetupTrigger, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT `+reSetupTriggerColumns+` FROM re_setup_triggers WHERE deleted_at_utc IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ReSetupTrigger
	for rows.Next() {
		t, err := scanReSetupTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateReSetupTrigger persists an is_met/met_at_utc change detected by
// the evaluator.
func (s *Store) UpdateReSetupTrigger(ctx context.Context, t domain.ReSetupTrigger) (domain.ReSetupTrigger, error) {
	expected := t.ServerVersion
	t.ServerVersion++
	s.stampMutation(&t.SyncColumns)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE re_setup_triggers SET sync_status=?, server_version=?, updated_at_utc=?,
				is_met=?, met_at_utc=?
			WHERE id=? AND server_version=?
		`, t.SyncStatus, t.ServerVersion, t.UpdatedAtUTC, t.IsMet, t.MetAtUTC, t.ID, expected)
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
		return domain.ReSetupTrigger{}, err
	}
	s.notify("re_setup_trigger", Snapshot{EntityType: "re_setup_trigger", EntityID: t.ID, UpdatedAtUTC: t.UpdatedAtUTC})
	return t, nil
}
