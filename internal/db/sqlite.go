// Package db is the Store component: a single-writer, transactional
// SQLite layer implementing the create/read/update/soft_delete/list/
// watch contract over the portfolio/board/session/sync domain model.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure-Go driver, registers "sqlite"
)

// DB wraps the single *sql.DB connection the Store is built on. SQLite
// in WAL mode tolerates concurrent readers against one writer, which is
// all this process ever needs.
type DB struct {
	db   *sql.DB
	path string
}

// Open creates the parent directory if needed, opens dbPath with WAL
// journaling and foreign keys enabled, and applies any pending
// migrations before returning.
func Open(dbPath string) (*DB, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	d := &DB{db: sqlDB, path: dbPath}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// migration is one forward-only schema step.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{1, migration1DailyEntries},
	{2, migration2WeeklyBriefs},
	{3, migration3Portfolio},
	{4, migration4Board},
	{5, migration5Governance},
	{6, migration6Bets},
	{7, migration7Evidence},
	{8, migration8Triggers},
	{9, migration9Preferences},
	{10, migration10Sync},
	{11, migration11Audit},
}

const migration1DailyEntries = `
CREATE TABLE IF NOT EXISTS daily_entries (
	id TEXT PRIMARY KEY,
	sync_status TEXT NOT NULL DEFAULT 'pending',
	server_version INTEGER NOT NULL DEFAULT 0,
	updated_at_utc DATETIME NOT NULL,
	deleted_at_utc DATETIME,
	raw_transcript TEXT NOT NULL,
	edited_transcript TEXT NOT NULL,
	signals_json TEXT NOT NULL DEFAULT '{}',
	signals_edited_mask_json TEXT NOT NULL DEFAULT '{}',
	entry_type TEXT NOT NULL,
	word_count INTEGER NOT NULL DEFAULT 0,
	duration_s INTEGER,
	created_at_utc DATETIME NOT NULL,
	timezone TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_daily_entries_created ON daily_entries(created_at_utc);
`

const migration2WeeklyBriefs = `
CREATE TABLE IF NOT EXISTS weekly_briefs (
	id TEXT PRIMARY KEY,
	sync_status TEXT NOT NULL DEFAULT 'pending',
	server_version INTEGER NOT NULL DEFAULT 0,
	updated_at_utc DATETIME NOT NULL,
	deleted_at_utc DATETIME,
	week_start TEXT NOT NULL,
	week_end TEXT NOT NULL,
	week_timezone TEXT NOT NULL,
	brief_markdown TEXT NOT NULL DEFAULT '',
	micro_review_markdown TEXT NOT NULL DEFAULT '',
	entry_count INTEGER NOT NULL DEFAULT 0,
	regen_count INTEGER NOT NULL DEFAULT 0,
	regen_options_json TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'collecting',
	published_at_utc DATETIME,
	UNIQUE(week_start, week_timezone)
);
`

const migration3Portfolio = `
CREATE TABLE IF NOT EXISTS problems (
	id TEXT PRIMARY KEY,
	sync_status TEXT NOT NULL DEFAULT 'pending',
	server_version INTEGER NOT NULL DEFAULT 0,
	updated_at_utc DATETIME NOT NULL,
	deleted_at_utc DATETIME,
	name TEXT NOT NULL,
	what_breaks TEXT NOT NULL,
	scarcity_signals_json TEXT NOT NULL DEFAULT '[]',
	direction TEXT NOT NULL,
	direction_rationale TEXT NOT NULL DEFAULT '',
	evidence_quotes_json TEXT NOT NULL DEFAULT '[]',
	time_allocation_pct INTEGER NOT NULL DEFAULT 0,
	display_order INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS portfolio_versions (
	id TEXT PRIMARY KEY,
	sync_status TEXT NOT NULL DEFAULT 'pending',
	server_version INTEGER NOT NULL DEFAULT 0,
	updated_at_utc DATETIME NOT NULL,
	deleted_at_utc DATETIME,
	version_number INTEGER NOT NULL,
	problems_json TEXT NOT NULL,
	health_json TEXT NOT NULL,
	board_anchoring_json TEXT NOT NULL DEFAULT '[]',
	triggers_json TEXT NOT NULL DEFAULT '[]',
	trigger_reason TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_portfolio_versions_number ON portfolio_versions(version_number);
`

const migration4Board = `
CREATE TABLE IF NOT EXISTS board_members (
	id TEXT PRIMARY KEY,
	sync_status TEXT NOT NULL DEFAULT 'pending',
	server_version INTEGER NOT NULL DEFAULT 0,
	updated_at_utc DATETIME NOT NULL,
	deleted_at_utc DATETIME,
	role_type TEXT NOT NULL,
	is_growth_role INTEGER NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1,
	anchored_problem_id TEXT REFERENCES problems(id),
	anchored_demand TEXT NOT NULL DEFAULT '',
	persona_json TEXT NOT NULL,
	original_persona_json TEXT NOT NULL
);
`

const migration5Governance = `
CREATE TABLE IF NOT EXISTS governance_sessions (
	id TEXT PRIMARY KEY,
	sync_status TEXT NOT NULL DEFAULT 'pending',
	server_version INTEGER NOT NULL DEFAULT 0,
	updated_at_utc DATETIME NOT NULL,
	deleted_at_utc DATETIME,
	type TEXT NOT NULL,
	current_state TEXT NOT NULL,
	is_completed INTEGER NOT NULL DEFAULT 0,
	abstraction_mode TEXT NOT NULL DEFAULT '',
	vagueness_skip_count INTEGER NOT NULL DEFAULT 0,
	epoch INTEGER NOT NULL DEFAULT 0,
	session_data_json TEXT NOT NULL DEFAULT '{}',
	transcript_log_json TEXT NOT NULL DEFAULT '[]',
	output_markdown TEXT NOT NULL DEFAULT '',
	created_portfolio_version_id TEXT,
	evaluated_bet_id TEXT,
	created_bet_id TEXT,
	started_at DATETIME NOT NULL,
	completed_at DATETIME,
	duration_s INTEGER
);
CREATE INDEX IF NOT EXISTS idx_governance_sessions_incomplete ON governance_sessions(is_completed) WHERE deleted_at_utc IS NULL;
`

const migration6Bets = `
CREATE TABLE IF NOT EXISTS bets (
	id TEXT PRIMARY KEY,
	sync_status TEXT NOT NULL DEFAULT 'pending',
	server_version INTEGER NOT NULL DEFAULT 0,
	updated_at_utc DATETIME NOT NULL,
	deleted_at_utc DATETIME,
	prediction TEXT NOT NULL,
	wrong_if TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'open',
	source_session_id TEXT NOT NULL,
	evaluation_session_id TEXT,
	created_at_utc DATETIME NOT NULL,
	due_at_utc DATETIME NOT NULL,
	evaluated_at_utc DATETIME
);
CREATE INDEX IF NOT EXISTS idx_bets_status_due ON bets(status, due_at_utc);
`

const migration7Evidence = `
CREATE TABLE IF NOT EXISTS evidence_items (
	id TEXT PRIMARY KEY,
	sync_status TEXT NOT NULL DEFAULT 'pending',
	server_version INTEGER NOT NULL DEFAULT 0,
	updated_at_utc DATETIME NOT NULL,
	deleted_at_utc DATETIME,
	session_id TEXT NOT NULL,
	problem_id TEXT,
	evidence_type TEXT NOT NULL,
	statement_text TEXT NOT NULL,
	strength TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_evidence_session ON evidence_items(session_id);
`

const migration8Triggers = `
CREATE TABLE IF NOT EXISTS re_setup_triggers (
	id TEXT PRIMARY KEY,
	sync_status TEXT NOT NULL DEFAULT 'pending',
	server_version INTEGER NOT NULL DEFAULT 0,
	updated_at_utc DATETIME NOT NULL,
	deleted_at_utc DATETIME,
	trigger_type TEXT NOT NULL,
	description TEXT NOT NULL,
	condition_text TEXT NOT NULL,
	recommended_action TEXT NOT NULL,
	is_met INTEGER NOT NULL DEFAULT 0,
	met_at_utc DATETIME,
	due_at_utc DATETIME
);
`

const migration9Preferences = `
CREATE TABLE IF NOT EXISTS user_preferences (
	id TEXT PRIMARY KEY,
	sync_status TEXT NOT NULL DEFAULT 'pending',
	server_version INTEGER NOT NULL DEFAULT 0,
	updated_at_utc DATETIME NOT NULL,
	deleted_at_utc DATETIME,
	abstraction_default_quick TEXT NOT NULL DEFAULT '',
	abstraction_default_setup TEXT NOT NULL DEFAULT '',
	abstraction_default_quarterly TEXT NOT NULL DEFAULT '',
	remember_choice INTEGER NOT NULL DEFAULT 0,
	analytics_opt_in INTEGER NOT NULL DEFAULT 0,
	onboarding_completed INTEGER NOT NULL DEFAULT 0,
	total_entry_count INTEGER NOT NULL DEFAULT 0,
	setup_prompt_dismissed INTEGER NOT NULL DEFAULT 0,
	setup_prompt_last_shown DATETIME,
	brief_schedule_weekday INTEGER NOT NULL DEFAULT 0,
	brief_schedule_hour INTEGER NOT NULL DEFAULT 20,
	timezone_iana TEXT NOT NULL DEFAULT 'UTC',
	audio_retain_on_failure INTEGER NOT NULL DEFAULT 0
);
`

const migration10Sync = `
CREATE TABLE IF NOT EXISTS sync_queue (
	id TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	payload_json TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'queued',
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	enqueued_at_utc DATETIME NOT NULL,
	next_attempt_at_utc DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_queue_dispatch ON sync_queue(status, priority, enqueued_at_utc);

CREATE TABLE IF NOT EXISTS overwrite_log (
	id TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	losing_payload_json TEXT NOT NULL,
	losing_updated_at_utc DATETIME NOT NULL,
	winning_updated_at_utc DATETIME NOT NULL,
	recorded_at_utc DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_overwrite_log_recorded ON overwrite_log(recorded_at_utc);
`

const migration11Audit = `
CREATE TABLE IF NOT EXISTS ai_audit_log (
	id TEXT PRIMARY KEY,
	at_utc DATETIME NOT NULL,
	tier TEXT NOT NULL,
	purpose TEXT NOT NULL,
	schema_name TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ai_audit_at ON ai_audit_log(at_utc);
`

// migrate applies every migration newer than the highest applied
// version, recording each as it commits.
func (d *DB) migrate() error {
	if _, err := d.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at_utc DATETIME NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied int
	row := d.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&applied); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= applied {
			continue
		}
		tx, err := d.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at_utc) VALUES (?, datetime('now'))`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}

	return nil
}
