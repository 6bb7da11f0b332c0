package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/boardroomjournal/core/domain"
)

const userPreferencesColumns = `id, sync_status, server_version, updated_at_utc, deleted_at_utc,
	abstraction_default_quick, abstraction_default_setup, abstraction_default_quarterly,
	remember_choice, analytics_opt_in, onboarding_completed, total_entry_count,
	setup_prompt_dismissed, setup_prompt_last_shown, brief_schedule_weekday,
	brief_schedule_hour, timezone_iana, audio_retain_on_failure`

func scanUserPreferences(row interface{ Scan(...any) error }) (domain.UserPreferences, error) {
	var p domain.UserPreferences
	err := row.Scan(&p.ID, &p.SyncStatus, &p.ServerVersion, &p.UpdatedAtUTC, &p.DeletedAtUTC,
		&p.AbstractionDefaultQuick, &p.AbstractionDefaultSetup, &p.AbstractionDefaultQuarterly,
		&p.RememberChoice, &p.AnalyticsOptIn, &p.OnboardingCompleted, &p.TotalEntryCount,
		&p.SetupPromptDismissed, &p.SetupPromptLastShown, &p.BriefScheduleWeekday,
		&p.BriefScheduleHour, &p.TimezoneIANA, &p.AudioRetainOnFailure)
	return p, err
}

// GetUserPreferences returns the single preferences row, or NotFound
// before the device has ever been configured; callers fall back to
// DefaultPreferences in that case.
func (s *Store) GetUserPreferences(ctx context.Context) (domain.UserPreferences, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+userPreferencesColumns+` FROM user_preferences LIMIT 1`)
	p, err := scanUserPreferences(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserPreferences{}, domain.NotFound("user_preferences")
	}
	return p, err
}

// UpsertUserPreferences creates the one-row-per-device singleton on
// first write and updates it thereafter, without an optimistic
// concurrency check: preferences are single-device-authored by
// construction, so there is no server_version race to detect.
func (s *Store) UpsertUserPreferences(ctx context.Context, p domain.UserPreferences) (domain.UserPreferences, error) {
	s.stampMutation(&p.SyncColumns)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_preferences (id, sync_status, server_version, updated_at_utc, deleted_at_utc,
				abstraction_default_quick, abstraction_default_setup, abstraction_default_quarterly,
				remember_choice, analytics_opt_in, onboarding_completed, total_entry_count,
				setup_prompt_dismissed, setup_prompt_last_shown, brief_schedule_weekday,
				brief_schedule_hour, timezone_iana, audio_retain_on_failure)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				sync_status=excluded.sync_status, server_version=excluded.server_version,
				updated_at_utc=excluded.updated_at_utc,
				abstraction_default_quick=excluded.abstraction_default_quick,
				abstraction_default_setup=excluded.abstraction_default_setup,
				abstraction_default_quarterly=excluded.abstraction_default_quarterly,
				remember_choice=excluded.remember_choice, analytics_opt_in=excluded.analytics_opt_in,
				onboarding_completed=excluded.onboarding_completed, total_entry_count=excluded.total_entry_count,
				setup_prompt_dismissed=excluded.setup_prompt_dismissed,
				setup_prompt_last_shown=excluded.setup_prompt_last_shown,
				brief_schedule_weekday=excluded.brief_schedule_weekday,
				brief_schedule_hour=excluded.brief_schedule_hour,
				timezone_iana=excluded.timezone_iana,
				audio_retain_on_failure=excluded.audio_retain_on_failure
		`, p.ID, p.SyncStatus, p.ServerVersion, p.UpdatedAtUTC, p.DeletedAtUTC,
			p.AbstractionDefaultQuick, p.AbstractionDefaultSetup, p.AbstractionDefaultQuarterly,
			p.RememberChoice, p.AnalyticsOptIn, p.OnboardingCompleted, p.TotalEntryCount,
			p.SetupPromptDismissed, p.SetupPromptLastShown, p.BriefScheduleWeekday,
			p.BriefScheduleHour, p.TimezoneIANA, p.AudioRetainOnFailure)
		return err
	})
	if err != nil {
		return domain.UserPreferences{}, err
	}
	return p, nil
}
