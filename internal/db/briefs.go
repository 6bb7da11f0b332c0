package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/boardroomjournal/core/domain"
)

const weeklyBriefColumns = `id, sync_status, server_version, updated_at_utc, deleted_at_utc,
	week_start, week_end, week_timezone, brief_markdown, micro_review_markdown,
	entry_count, regen_count, regen_options_json, status, published_at_utc`

func scanWeeklyBrief(row interface{ Scan(...any) error }) (domain.WeeklyBrief, error) {
	var b domain.WeeklyBrief
	var optsJSON string
	err := row.Scan(&b.ID, &b.SyncStatus, &b.ServerVersion, &b.UpdatedAtUTC, &b.DeletedAtUTC,
		&b.WeekStart, &b.WeekEnd, &b.WeekTimezone, &b.BriefMarkdown, &b.MicroReviewMarkdown,
		&b.EntryCount, &b.RegenCount, &optsJSON, &b.Status, &b.PublishedAtUTC)
	if err != nil {
		return domain.WeeklyBrief{}, err
	}
	if err := json.Unmarshal([]byte(optsJSON), &b.RegenOptions); err != nil {
		return domain.WeeklyBrief{}, err
	}
	return b, nil
}

// CreateWeeklyBrief inserts the single brief for a (week_start,
// week_timezone) pair; the unique index enforces the one-brief-per-week
// invariant at the storage layer.
func (s *Store) CreateWeeklyBrief(ctx context.Context, b domain.WeeklyBrief) (domain.WeeklyBrief, error) {
	s.stampMutation(&b.SyncColumns)
	optsJSON, err := json.Marshal(b.RegenOptions)
	if err != nil {
		return domain.WeeklyBrief{}, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO weekly_briefs (id, sync_status, server_version, updated_at_utc, deleted_at_utc,
				week_start, week_end, week_timezone, brief_markdown, micro_review_markdown,
				entry_count, regen_count, regen_options_json, status, published_at_utc)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, b.ID, b.SyncStatus, b.ServerVersion, b.UpdatedAtUTC, b.DeletedAtUTC,
			b.WeekStart, b.WeekEnd, b.WeekTimezone, b.BriefMarkdown, b.MicroReviewMarkdown,
			b.EntryCount, b.RegenCount, string(optsJSON), b.Status, b.PublishedAtUTC)
		if err != nil && isUniqueConstraint(err) {
			return domain.ConstraintViolation("one_brief_per_week", err)
		}
		return err
	})
	if err != nil {
		return domain.WeeklyBrief{}, err
	}
	s.notify("weekly_brief", Snapshot{EntityType: "weekly_brief", EntityID: b.ID, UpdatedAtUTC: b.UpdatedAtUTC})
	return b, nil
}

// GetWeeklyBriefByWeek looks a brief up by its natural key, used by the
// scheduler to check whether this week's brief already exists.
func (s *Store) GetWeeklyBriefByWeek(ctx context.Context, weekStart, weekTimezone string) (domain.WeeklyBrief, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+weeklyBriefColumns+` FROM weekly_briefs WHERE week_start=? AND week_timezone=?`, weekStart, weekTimezone)
	b, err := scanWeeklyBrief(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WeeklyBrief{}, domain.NotFound("weekly_brief")
	}
	return b, err
}

func (s *Store) GetWeeklyBrief(ctx context.Context, id string) (domain.WeeklyBrief, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+weeklyBriefColumns+` FROM weekly_briefs WHERE id=?`, id)
	b, err := scanWeeklyBrief(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WeeklyBrief{}, domain.NotFound("weekly_brief")
	}
	return b, err
}

// UpdateWeeklyBrief applies optimistic concurrency the same way every
// other aggregate does.
func (s *Store) UpdateWeeklyBrief(ctx context.Context, b domain.WeeklyBrief) (domain.WeeklyBrief, error) {
	expected := b.ServerVersion
	b.ServerVersion++
	s.stampMutation(&b.SyncColumns)
	optsJSON, err := json.Marshal(b.RegenOptions)
	if err != nil {
		return domain.WeeklyBrief{}, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE weekly_briefs SET sync_status=?, server_version=?, updated_at_utc=?,
				brief_markdown=?, micro_review_markdown=?, entry_count=?, regen_count=?,
				regen_options_json=?, status=?, published_at_utc=?
			WHERE id=? AND server_version=?
		`, b.SyncStatus, b.ServerVersion, b.UpdatedAtUTC, b.BriefMarkdown, b.MicroReviewMarkdown,
			b.EntryCount, b.RegenCount, string(optsJSON), b.Status, b.PublishedAtUTC, b.ID, expected)
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
		return domain.WeeklyBrief{}, err
	}
	s.notify("weekly_brief", Snapshot{EntityType: "weekly_brief", EntityID: b.ID, UpdatedAtUTC: b.UpdatedAtUTC})
	return b, nil
}

// ListAllWeeklyBriefs returns every non-deleted brief, newest week
// first, for the full JSON export.
func (s *Store) ListAllWeeklyBriefs(ctx context.Context) ([]domain.WeeklyBrief, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+weeklyBriefColumns+` FROM weekly_briefs WHERE deleted_at_utc IS NULL ORDER BY week_start DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WeeklyBrief
	for rows.Next() {
		b, err := scanWeeklyBrief(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func isUniqueConstraint(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "constraint failed"))
}
