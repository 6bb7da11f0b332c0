package db

import (
	"context"
	"database/sql"
	"time"
)

// CompletionAudit is one AI Adapter request/response pair, grounded on
// agent_audit_log (agents/audit.go): no full prompt text
// is stored, only enough to line up which attempt produced which
// outcome during debugging. Outcome is "ok" or a domain.ErrorKind
// string such as "schema_failure".
type CompletionAudit struct {
	ID           string
	AtUTC        time.Time
	Tier         string
	Purpose      string
	SchemaName   string
	Attempt      int
	LatencyMS    int64
	InputTokens  int
	OutputTokens int
	Outcome      string
}

// RecordCompletion appends one row to ai_audit_log. This method alone
// satisfies ai.AuditRecorder by structural typing, the same way the
// teacher's StoreAuditLogger wraps a narrow AuditStore interface without
// the audit package importing the store package.
func (s *Store) RecordCompletion(ctx context.Context, a CompletionAudit) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ai_audit_log (id, at_utc, tier, purpose, schema_name, attempt,
				latency_ms, input_tokens, output_tokens, outcome)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, a.ID, a.AtUTC, a.Tier, a.Purpose, a.SchemaName, a.Attempt,
			a.LatencyMS, a.InputTokens, a.OutputTokens, a.Outcome)
		return err
	})
}
