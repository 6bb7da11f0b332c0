package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/boardroomjournal/core/domain"
)

const problemColumns = `id, sync_status, server_version, updated_at_utc, deleted_at_utc,
	name, what_breaks, scarcity_signals_json, direction, direction_rationale,
	evidence_quotes_json, time_allocation_pct, display_order`

func scanProblem(row interface{ Scan(...any) error }) (domain.Problem, error) {
	var p domain.Problem
	var scarcityJSON, evidenceJSON string
	err := row.Scan(&p.ID, &p.SyncStatus, &p.ServerVersion, &p.UpdatedAtUTC, &p.DeletedAtUTC,
		&p.Name, &p.WhatBreaks, &scarcityJSON, &p.Direction, &p.DirectionRationale,
		&evidenceJSON, &p.TimeAllocationPct, &p.DisplayOrder)
	if err != nil {
		return domain.Problem{}, err
	}
	if err := json.Unmarshal([]byte(scarcityJSON), &p.ScarcitySignals); err != nil {
		return domain.Problem{}, err
	}
	var quotes []string
	if err := json.Unmarshal([]byte(evidenceJSON), &quotes); err != nil {
		return domain.Problem{}, err
	}
	for i := 0; i < len(quotes) && i < 3; i++ {
		p.EvidenceQuotes[i] = quotes[i]
	}
	return p, nil
}

// CreateProblem inserts one problem row into the active portfolio.
func (s *Store) CreateProblem(ctx context.Context, p domain.Problem) (domain.Problem, error) {
	s.stampMutation(&p.SyncColumns)
	scarcityJSON, err := json.Marshal(p.ScarcitySignals)
	if err != nil {
		return domain.Problem{}, err
	}
	evidenceJSON, err := json.Marshal(p.EvidenceQuotes[:])
	if err != nil {
		return domain.Problem{}, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO problems (id, sync_status, server_version, updated_at_utc, deleted_at_utc,
				name, what_breaks, scarcity_signals_json, direction, direction_rationale,
				evidence_quotes_json, time_allocation_pct, display_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.ID, p.SyncStatus, p.ServerVersion, p.UpdatedAtUTC, p.DeletedAtUTC,
			p.Name, p.WhatBreaks, string(scarcityJSON), p.Direction, p.DirectionRationale,
			string(evidenceJSON), p.TimeAllocationPct, p.DisplayOrder)
		return err
	})
	if err != nil {
		return domain.Problem{}, err
	}
	s.notify("problem", Snapshot{EntityType: "problem", EntityID: p.ID, UpdatedAtUTC: p.UpdatedAtUTC})
	return p, nil
}

// ListActiveProblems returns the non-deleted portfolio, ordered the way
// the UI displays it.
func (s *Store) ListActiveProblems(ctx context.Context) ([]domain.Problem, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT `+problemColumns+` FROM problems WHERE deleted_at_utc IS NULL ORDER BY display_order ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Problem
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetProblem(ctx context.Context, id string) (domain.Problem, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+problemColumns+` FROM problems WHERE id=?`, id)
	p, err := scanProblem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Problem{}, domain.NotFound("problem")
	}
	return p, err
}

// UpdateProblem covers the bounded-edit paths (description, allocation);
// direction changes and additions require full re-setup and go through
// CreateProblem/PortfolioVersion instead.
func (s *Store) UpdateProblem(ctx context.Context, p domain.Problem) (domain.Problem, error) {
	expected := p.ServerVersion
	p.ServerVersion++
	s.stampMutation(&p.SyncColumns)
	scarcityJSON, err := json.Marshal(p.ScarcitySignals)
	if err != nil {
		return domain.Problem{}, err
	}
	evidenceJSON, err := json.Marshal(p.EvidenceQuotes[:])
	if err != nil {
		return domain.Problem{}, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE problems SET sync_status=?, server_version=?, updated_at_utc=?,
				name=?, what_breaks=?, scarcity_signals_json=?, direction=?, direction_rationale=?,
				evidence_quotes_json=?, time_allocation_pct=?, display_order=?
			WHERE id=? AND server_version=?
		`, p.SyncStatus, p.ServerVersion, p.UpdatedAtUTC, p.Name, p.WhatBreaks, string(scarcityJSON),
			p.Direction, p.DirectionRationale, string(evidenceJSON), p.TimeAllocationPct, p.DisplayOrder,
			p.ID, expected)
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
		return domain.Problem{}, err
	}
	s.notify("problem", Snapshot{EntityType: "problem", EntityID: p.ID, UpdatedAtUTC: p.UpdatedAtUTC})
	return p, nil
}

// SoftDeleteProblem enforces nothing itself; callers must run
// domain.ValidateProblemDeletion against the current count first, the
// way the Portfolio Manager does.
func (s *Store) SoftDeleteProblem(ctx context.Context, id string) error {
	now := s.clock.Now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE problems SET deleted_at_utc=?, sync_status=?, updated_at_utc=? WHERE id=? AND deleted_at_utc IS NULL`,
			now, domain.SyncPending, now, id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return domain.NotFound("problem")
		}
		return nil
	})
}

const portfolioVersionColumns = `id, sync_status, server_version, updated_at_utc, deleted_at_utc,
	version_number, problems_json, health_json, board_anchoring_json, triggers_json, trigger_reason`

func scanPortfolioVersion(row interface{ Scan(...any) error }) (domain.PortfolioVersion, error) {
	var v domain.PortfolioVersion
	var problemsJSON, healthJSON, anchoringJSON, triggersJSON string
	err := row.Scan(&v.ID, &v.SyncStatus, &v.ServerVersion, &v.UpdatedAtUTC, &v.DeletedAtUTC,
		&v.VersionNumber, &problemsJSON, &healthJSON, &anchoringJSON, &triggersJSON, &v.TriggerReason)
	if err != nil {
		return domain.PortfolioVersion{}, err
	}
	if err := json.Unmarshal([]byte(problemsJSON), &v.Problems); err != nil {
		return domain.PortfolioVersion{}, err
	}
	if err := json.Unmarshal([]byte(healthJSON), &v.Health); err != nil {
		return domain.PortfolioVersion{}, err
	}
	if err := json.Unmarshal([]byte(anchoringJSON), &v.BoardAnchoring); err != nil {
		return domain.PortfolioVersion{}, err
	}
	if err := json.Unmarshal([]byte(triggersJSON), &v.Triggers); err != nil {
		return domain.PortfolioVersion{}, err
	}
	return v, nil
}

// CreatePortfolioVersion appends an immutable snapshot. The unique index
// on version_number makes the strictly-increasing invariant a storage
// guarantee, not just an application convention.
func (s *Store) CreatePortfolioVersion(ctx context.Context, v domain.PortfolioVersion) (domain.PortfolioVersion, error) {
	s.stampMutation(&v.SyncColumns)
	problemsJSON, err := json.Marshal(v.Problems)
	if err != nil {
		return domain.PortfolioVersion{}, err
	}
	healthJSON, err := json.Marshal(v.Health)
	if err != nil {
		return domain.PortfolioVersion{}, err
	}
	anchoringJSON, err := json.Marshal(v.BoardAnchoring)
	if err != nil {
		return domain.PortfolioVersion{}, err
	}
	triggersJSON, err := json.Marshal(v.Triggers)
	if err != nil {
		return domain.PortfolioVersion{}, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO portfolio_versions (id, sync_status, server_version, updated_at_utc, deleted_at_utc,
				version_number, problems_json, health_json, board_anchoring_json, triggers_json, trigger_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, v.ID, v.SyncStatus, v.ServerVersion, v.UpdatedAtUTC, v.DeletedAtUTC,
			v.VersionNumber, string(problemsJSON), string(healthJSON), string(anchoringJSON),
			string(triggersJSON), v.TriggerReason)
		if err != nil && isUniqueConstraint(err) {
			return domain.ConstraintViolation("version_number_monotonic", err)
		}
		return err
	})
	if err != nil {
		return domain.PortfolioVersion{}, err
	}
	s.notify("portfolio_version", Snapshot{EntityType: "portfolio_version", EntityID: v.ID, UpdatedAtUTC: v.UpdatedAtUTC})
	return v, nil
}

// LatestPortfolioVersion returns the highest version_number snapshot, or
// NotFound before the first Setup has ever completed.
func (s *Store) LatestPortfolioVersion(ctx context.Context) (domain.PortfolioVersion, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+portfolioVersionColumns+` FROM portfolio_versions ORDER BY version_number DESC LIMIT 1`)
	v, err := scanPortfolioVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PortfolioVersion{}, domain.NotFound("portfolio_version")
	}
	return v, err
}

// ListPortfolioVersions returns every snapshot, newest first, for the
// version-history view and the full JSON export.
func (s *Store) ListPortfolioVersions(ctx context.Context) ([]domain.PortfolioVersion, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT `+portfolioVersionColumns+` FROM portfolio_versions ORDER BY version_number DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PortfolioVersion
	for rows.Next() {
		v, err := scanPortfolioVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
