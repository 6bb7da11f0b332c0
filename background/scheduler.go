// Package background runs the module's always-on maintenance work: the
// weekly brief's Sunday-evening trigger, the bet-expiry sweep, and
// re-setup trigger evaluation. Each concern is its own goroutine with
// its own cadence, grounded on the BackgroundAgentManager in
// background.go - a registry of named agents, each ticking on its own
// interval against a shared stop channel - generalized here from a
// fixed four-agent kanban registry to the three ambient jobs this
// module actually needs.
package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/boardroomjournal/core/domain"
	"github.com/boardroomjournal/core/portfolio"
	"github.com/boardroomjournal/core/workflow"
)

// JobStatus mirrors BackgroundAgentStatus: enough to
// surface "is this stuck" to an operator without a full metrics stack.
type JobStatus struct {
	Name            string    `json:"name"`
	Status          string    `json:"status"` // "running", "idle", "error"
	CurrentActivity string    `json:"current_activity"`
	LastRunAtUTC    time.Time `json:"last_run_at_utc"`
	RunCount        int       `json:"run_count"`
	LastError       string    `json:"last_error,omitempty"`
}

// UserPreferencesReader is the narrow read the scheduler needs to know
// which weekday/timezone to render the weekly brief for.
type UserPreferencesReader interface {
	GetUserPreferences(ctx context.Context) (domain.UserPreferences, error)
}

// Manager owns the three background jobs and their goroutines.
type Manager struct {
	weekly    *workflow.WeeklyBriefRunner
	portfolio *portfolio.Manager
	prefs     UserPreferencesReader
	logger    *slog.Logger
	cron      *cron.Cron

	mu     sync.RWMutex
	status map[string]*JobStatus
	stopCh chan struct{}
}

func NewManager(weekly *workflow.WeeklyBriefRunner, pm *portfolio.Manager, prefs UserPreferencesReader, logger *slog.Logger) *Manager {
	return &Manager{
		weekly:    weekly,
		portfolio: pm,
		prefs:     prefs,
		logger:    logger,
		cron:      cron.New(),
		status: map[string]*JobStatus{
			"weekly_brief":    {Name: "weekly_brief", Status: "idle"},
			"bet_sweep":       {Name: "bet_sweep", Status: "idle"},
			"trigger_check":   {Name: "trigger_check", Status: "idle"},
		},
		stopCh: make(chan struct{}),
	}
}

// Start schedules the weekly brief for every Sunday at 20:00 in the
// cron daemon's local time, and launches the sweep/trigger-check agents
// on fixed tickers. The caller's context governs both; Stop additionally
// closes stopCh so the ticker loops exit even if ctx outlives the
// manager's intended lifetime.
func (m *Manager) Start(ctx context.Context) {
	_, err := m.cron.AddFunc("0 20 * * 0", func() { m.runWeeklyBrief(ctx) })
	if err != nil {
		m.logger.Error("background: failed to schedule weekly brief", "error", err)
	}
	m.cron.Start()

	go m.runLoop(ctx, "bet_sweep", time.Hour, m.runBetSweep)
	go m.runLoop(ctx, "trigger_check", 6*time.Hour, m.runTriggerCheck)
}

// Stop halts the cron scheduler and every ticker loop.
func (m *Manager) Stop() {
	stopCtx := m.cron.Stop()
	<-stopCtx.Done()
	close(m.stopCh)
}

// Statuses returns a snapshot of every job's last-run state.
func (m *Manager) Statuses() []JobStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]JobStatus, 0, len(m.status))
	for _, s := range m.status {
		out = append(out, *s)
	}
	return out
}

func (m *Manager) runLoop(ctx context.Context, name string, interval time.Duration, run func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

func (m *Manager) mark(name, status, activity string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.status[name]
	s.Status = status
	s.CurrentActivity = activity
	s.LastRunAtUTC = time.Now().UTC()
	if status == "idle" {
		s.RunCount++
	}
	if err != nil {
		s.LastError = err.Error()
	} else {
		s.LastError = ""
	}
}

func (m *Manager) runWeeklyBrief(ctx context.Context) {
	m.mark("weekly_brief", "running", "collecting the past week's entries", nil)

	prefs, err := m.prefs.GetUserPreferences(ctx)
	if err != nil {
		m.mark("weekly_brief", "error", "", err)
		m.logger.Error("background: failed to load preferences for weekly brief", "error", err)
		return
	}

	weekStart := mostRecentSunday(time.Now().UTC()).Format("2006-01-02")
	if _, err := m.weekly.Run(ctx, weekStart, prefs.TimezoneIANA); err != nil {
		m.mark("weekly_brief", "error", "", err)
		m.logger.Error("background: weekly brief run failed", "week_start", weekStart, "error", err)
		return
	}
	m.mark("weekly_brief", "idle", "waiting for next Sunday", nil)
}

func (m *Manager) runBetSweep(ctx context.Context) {
	m.mark("bet_sweep", "running", "sweeping expired bets", nil)
	count, err := m.portfolio.SweepExpiredBets(ctx)
	if err != nil {
		m.mark("bet_sweep", "error", "", err)
		m.logger.Error("background: bet sweep failed", "error", err)
		return
	}
	m.mark("bet_sweep", "idle", "waiting for next sweep", nil)
	if count > 0 {
		m.logger.Info("background: swept expired bets", "count", count)
	}
}

func (m *Manager) runTriggerCheck(ctx context.Context) {
	m.mark("trigger_check", "running", "evaluating re-setup triggers", nil)
	fired, err := m.portfolio.EvaluateReSetupTriggers(ctx)
	if err != nil {
		m.mark("trigger_check", "error", "", err)
		m.logger.Error("background: re-setup trigger evaluation failed", "error", err)
		return
	}
	m.mark("trigger_check", "idle", "waiting for next check", nil)
	if len(fired) > 0 {
		m.logger.Info("background: re-setup triggers fired", "count", len(fired))
	}
}

func mostRecentSunday(t time.Time) time.Time {
	offset := int(t.Weekday())
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset)
}
