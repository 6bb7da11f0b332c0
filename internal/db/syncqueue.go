package db

import (
	"context"
	"database/sql"
	"time"
)

// QueuedDelta is one row of the offline sync queue: a deferred push of
// a local mutation to the remote peer. Modeled on the merge_queue
// table (status/attempts/last_error columns, priority +
// enqueued_at dispatch ordering).
type QueuedDelta struct {
	ID               string
	EntityType       string
	EntityID         string
	Operation        string // upsert|delete
	Priority         int
	PayloadJSON      []byte
	Status           string // queued|in_flight|failed|done
	Attempts         int
	LastError        string
	EnqueuedAtUTC    time.Time
	NextAttemptAtUTC time.Time
}

const queuedDeltaColumns = `id, entity_type, entity_id, operation, priority, payload_json,
	status, attempts, last_error, enqueued_at_utc, next_attempt_at_utc`

func scanQueuedDelta(row interface{ Scan(...any) error }) (QueuedDelta, error) {
	var q QueuedDelta
	var payload string
	err := row.Scan(&q.ID, &q.EntityType, &q.EntityID, &q.Operation, &q.Priority, &payload,
		&q.Status, &q.Attempts, &q.LastError, &q.EnqueuedAtUTC, &q.NextAttemptAtUTC)
	q.PayloadJSON = []byte(payload)
	return q, err
}

// EnqueueDelta inserts a queue row keyed by the idempotency id the Sync
// Coordinator derives from (entity_id, operation, server_version);
// re-enqueuing the same key is a no-op via INSERT OR IGNORE, giving the
// at-most-once guarantee at the storage layer.
func (s *Store) EnqueueDelta(ctx context.Context, q QueuedDelta) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO sync_queue (id, entity_type, entity_id, operation, priority,
				payload_json, status, attempts, last_error, enqueued_at_utc, next_attempt_at_utc)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, q.ID, q.EntityType, q.EntityID, q.Operation, q.Priority, string(q.PayloadJSON),
			q.Status, q.Attempts, q.LastError, q.EnqueuedAtUTC, q.NextAttemptAtUTC)
		return err
	})
}

// DequeueReady returns up to limit queued rows whose next_attempt_at_utc
// has passed, highest priority and oldest enqueued_at_utc first -
// mirroring priority-then-created_at ticket dispatch
// order.
func (s *Store) DequeueReady(ctx context.Context, now time.Time, limit int) ([]QueuedDelta, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+queuedDeltaColumns+` FROM sync_queue
		WHERE status = 'queued' AND next_attempt_at_utc <= ?
		ORDER BY priority DESC, enqueued_at_utc ASC
		LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueuedDelta
	for rows.Next() {
		q, err := scanQueuedDelta(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// MarkDeltaDone removes a successfully pushed row.
func (s *Store) MarkDeltaDone(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE id=?`, id)
		return err
	})
}

// MarkDeltaFailed records a failed attempt and reschedules it for
// nextAttempt, computed by the caller's backoff policy.
func (s *Store) MarkDeltaFailed(ctx context.Context, id string, lastError string, nextAttempt time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE sync_queue SET attempts = attempts + 1, last_error = ?, next_attempt_at_utc = ?, status = 'queued'
			WHERE id = ?
		`, lastError, nextAttempt, id)
		return err
	})
}

// QueueDepth reports how many rows remain queued, for backpressure
// decisions and for surfacing sync status to the user.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var n int
	err := s.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE status = 'queued'`).Scan(&n)
	return n, err
}

// RecordOverwrite appends a row to the overwrite log whenever a local
// change loses a last-write-wins conflict, readable for at least 7 days
// per the sync design.
func (s *Store) RecordOverwrite(ctx context.Context, entityType, entityID string, losingPayload []byte, losingUpdatedAt, winningUpdatedAt, recordedAt time.Time) error {
	id := entityType + ":" + entityID + ":" + losingUpdatedAt.Format(time.RFC3339Nano)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO overwrite_log (id, entity_type, entity_id, losing_payload_json,
				losing_updated_at_utc, winning_updated_at_utc, recorded_at_utc)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, id, entityType, entityID, string(losingPayload), losingUpdatedAt, winningUpdatedAt, recordedAt)
		return err
	})
}
