package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/boardroomjournal/core/domain"
)

const betColumns = `id, sync_status, server_version, updated_at_utc, deleted_at_utc,
	prediction, wrong_if, status, source_session_id, evaluation_session_id,
	created_at_utc, due_at_utc, evaluated_at_utc`

func scanBet(row interface{ Scan(...any) error }) (domain.Bet, error) {
	var b domain.Bet
	err := row.Scan(&b.ID, &b.SyncStatus, &b.ServerVersion, &b.UpdatedAtUTC, &b.DeletedAtUTC,
		&b.Prediction, &b.WrongIf, &b.Status, &b.SourceSessionID, &b.EvaluationSessionID,
		&b.CreatedAtUTC, &b.DueAtUTC, &b.EvaluatedAtUTC)
	return b, err
}

// CreateBet inserts a bet with due_at_utc fixed to exactly 90 days after
// created_at_utc, computed by the caller (the Portfolio & Board Manager)
// so the Store never silently re-derives a domain constant.
func (s *Store) CreateBet(ctx context.Context, b domain.Bet) (domain.Bet, error) {
	s.stampMutation(&b.SyncColumns)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bets (id, sync_status, server_version, updated_at_utc, deleted_at_utc,
				prediction, wrong_if, status, source_session_id, evaluation_session_id,
				created_at_utc, due_at_utc, evaluated_at_utc)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, b.ID, b.SyncStatus, b.ServerVersion, b.UpdatedAtUTC, b.DeletedAtUTC,
			b.Prediction, b.WrongIf, b.Status, b.SourceSessionID, b.EvaluationSessionID,
			b.CreatedAtUTC, b.DueAtUTC, b.EvaluatedAtUTC)
		return err
	})
	if err != nil {
		return domain.Bet{}, err
	}
	s.notify("bet", Snapshot{EntityType: "bet", EntityID: b.ID, UpdatedAtUTC: b.UpdatedAtUTC})
	return b, nil
}

func (s *Store) GetBet(ctx context.Context, id string) (domain.Bet, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+betColumns+` FROM bets WHERE id=?`, id)
	b, err := scanBet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Bet{}, domain.NotFound("bet")
	}
	return b, err
}

// ListOpenBetsDueBy returns open bets whose due_at_utc has passed,
// feeding the idempotent expiration sweep.
func (s *Store) ListOpenBetsDueBy(ctx context.Context, cutoff sql.NullTime) ([]domain.Bet, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+betColumns+` FROM bets
		WHERE status = ? AND due_at_utc <= ? AND deleted_at_utc IS NULL
	`, domain.BetOpen, cutoff.Time)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListAllBets returns every non-deleted bet, newest first; used only by
// the full JSON export, which has no use for ListOpenBetsDueBy's
// due-date filter.
func (s *Store) ListAllBets(ctx context.Context) ([]domain.Bet, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+betColumns+` FROM bets WHERE deleted_at_utc IS NULL ORDER BY created_at_utc DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpdateBetStatus transitions a bet, trusting the caller to have
// already run domain.ValidateBetTransition.
func (s *Store) UpdateBetStatus(ctx context.Context, b domain.Bet) (domain.Bet, error) {
	expected := b.ServerVersion
	b.ServerVersion++
	s.stampMutation(&b.SyncColumns)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE bets SET sync_status=?, server_version=?, updated_at_utc=?,
				status=?, evaluation_session_id=?, evaluated_at_utc=?
			WHERE id=? AND server_version=?
		`, b.SyncStatus, b.ServerVersion, b.UpdatedAtUTC, b.Status, b.EvaluationSessionID,
			b.EvaluatedAtUTC, b.ID, expected)
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
		return domain.Bet{}, err
	}
	s.notify("bet", Snapshot{EntityType: "bet", EntityID: b.ID, UpdatedAtUTC: b.UpdatedAtUTC})
	return b, nil
}
