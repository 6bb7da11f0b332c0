package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/boardroomjournal/core/domain"
)

// CreateDailyEntry inserts a new entry, stamping its sync columns from
// the Store's clock.
func (s *Store) CreateDailyEntry(ctx context.Context, e domain.DailyEntry) (domain.DailyEntry, error) {
	s.stampMutation(&e.SyncColumns)
	signalsJSON, err := json.Marshal(e.Signals)
	if err != nil {
		return domain.DailyEntry{}, err
	}
	maskJSON, err := json.Marshal(e.SignalsEditedMask)
	if err != nil {
		return domain.DailyEntry{}, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO daily_entries (id, sync_status, server_version, updated_at_utc, deleted_at_utc,
				raw_transcript, edited_transcript, signals_json, signals_edited_mask_json, entry_type,
				word_count, duration_s, created_at_utc, timezone)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, e.SyncStatus, e.ServerVersion, e.UpdatedAtUTC, e.DeletedAtUTC,
			e.RawTranscript, e.EditedTranscript, string(signalsJSON), string(maskJSON), e.EntryType,
			e.WordCount, e.DurationS, e.CreatedAtUTC, e.TimezoneIANA)
		return err
	})
	if err != nil {
		return domain.DailyEntry{}, err
	}
	s.notify("daily_entry", Snapshot{EntityType: "daily_entry", EntityID: e.ID, UpdatedAtUTC: e.UpdatedAtUTC})
	return e, nil
}

func scanDailyEntry(row interface{ Scan(...any) error }) (domain.DailyEntry, error) {
	var e domain.DailyEntry
	var signalsJSON, maskJSON string
	err := row.Scan(&e.ID, &e.SyncStatus, &e.ServerVersion, &e.UpdatedAtUTC, &e.DeletedAtUTC,
		&e.RawTranscript, &e.EditedTranscript, &signalsJSON, &maskJSON, &e.EntryType,
		&e.WordCount, &e.DurationS, &e.CreatedAtUTC, &e.TimezoneIANA)
	if err != nil {
		return domain.DailyEntry{}, err
	}
	if err := json.Unmarshal([]byte(signalsJSON), &e.Signals); err != nil {
		return domain.DailyEntry{}, err
	}
	if err := json.Unmarshal([]byte(maskJSON), &e.SignalsEditedMask); err != nil {
		return domain.DailyEntry{}, err
	}
	return e, nil
}

const dailyEntryColumns = `id, sync_status, server_version, updated_at_utc, deleted_at_utc,
	raw_transcript, edited_transcript, signals_json, signals_edited_mask_json, entry_type,
	word_count, duration_s, created_at_utc, timezone`

// GetDailyEntry reads one entry by id, including soft-deleted rows (the
// caller decides whether a deleted row counts as NotFound).
func (s *Store) GetDailyEntry(ctx context.Context, id string) (domain.DailyEntry, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+dailyEntryColumns+` FROM daily_entries WHERE id = ?`, id)
	e, err := scanDailyEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DailyEntry{}, domain.NotFound("daily_entry")
	}
	return e, err
}

// ListDailyEntries returns non-deleted entries ordered by created_at_utc
// descending, most recent first, bounded by limit/offset.
func (s *Store) ListDailyEntries(ctx context.Context, limit, offset int) ([]domain.DailyEntry, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+dailyEntryColumns+` FROM daily_entries
		WHERE deleted_at_utc IS NULL
		ORDER BY created_at_utc DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DailyEntry
	for rows.Next() {
		e, err := scanDailyEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateDailyEntry applies optimistic concurrency on server_version: the
// caller must pass the version it last read, or it gets
// ConflictingVersion.
func (s *Store) UpdateDailyEntry(ctx context.Context, e domain.DailyEntry) (domain.DailyEntry, error) {
	expected := e.ServerVersion
	e.ServerVersion++
	s.stampMutation(&e.SyncColumns)
	signalsJSON, err := json.Marshal(e.Signals)
	if err != nil {
		return domain.DailyEntry{}, err
	}
	maskJSON, err := json.Marshal(e.SignalsEditedMask)
	if err != nil {
		return domain.DailyEntry{}, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE daily_entries SET sync_status=?, server_version=?, updated_at_utc=?,
				raw_transcript=?, edited_transcript=?, signals_json=?, signals_edited_mask_json=?,
				entry_type=?, word_count=?, duration_s=?
			WHERE id=? AND server_version=?
		`, e.SyncStatus, e.ServerVersion, e.UpdatedAtUTC, e.RawTranscript, e.EditedTranscript,
			string(signalsJSON), string(maskJSON), e.EntryType, e.WordCount, e.DurationS, e.ID, expected)
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
		return domain.DailyEntry{}, err
	}
	s.notify("daily_entry", Snapshot{EntityType: "daily_entry", EntityID: e.ID, UpdatedAtUTC: e.UpdatedAtUTC})
	return e, nil
}

// SoftDeleteDailyEntry sets deleted_at_utc without removing the row.
// No code in this module physically removes soft-deleted rows later.
func (s *Store) SoftDeleteDailyEntry(ctx context.Context, id string) error {
	now := s.clock.Now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE daily_entries SET deleted_at_utc=?, sync_status=?, updated_at_utc=? WHERE id=? AND deleted_at_utc IS NULL
		`, now, domain.SyncPending, now, id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return domain.NotFound("daily_entry")
		}
		return nil
	})
}
