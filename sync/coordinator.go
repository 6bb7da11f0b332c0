// Package sync drives the exchange of deltas with a remote peer: it
// observes local mutations via the Store's watch channels, enqueues
// them with priority, pushes them in batches, pulls the remote's
// changes and applies them with last-write-wins conflict resolution,
// and backs off under pressure. Grounded on worktree_manager.go's
// pool/retry loop and the merge_queue priority and status-column
// dispatch it drives.
package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/boardroomjournal/core/domain"
	"github.com/boardroomjournal/core/internal/db"
	"github.com/boardroomjournal/core/internal/retry"
	"github.com/boardroomjournal/core/ports"
)

// Queue priorities, highest first. Only PriorityLocalMutation is
// enqueued by code in this module (this package's local-mutation
// pushes); Pull talks to the remote directly without a queue row, and
// no component enqueues at the other levels.
const (
	PriorityAuthRefresh  = 100
	PriorityTranscription = 80
	PriorityExtraction   = 60
	PriorityLocalMutation = 40
	PriorityRemotePull   = 20
)

const pushBatchSize = 50

var watchedEntityTypes = []string{
	"problem", "board_member", "bet", "evidence_item", "daily_entry",
	"weekly_brief", "governance_session", "portfolio_version", "re_setup_trigger",
}

// Store is the narrow slice of *db.Store the Coordinator depends on:
// per-entity reads (to build a delta's payload), the offline queue, the
// overwrite log, and the watch registry that tells it what changed.
type Store interface {
	GetProblem(ctx context.Context, id string) (domain.Problem, error)
	GetBoardMember(ctx context.Context, id string) (domain.BoardMember, error)
	GetBet(ctx context.Context, id string) (domain.Bet, error)
	GetEvidenceItem(ctx context.Context, id string) (domain.EvidenceItem, error)
	GetDailyEntry(ctx context.Context, id string) (domain.DailyEntry, error)
	GetWeeklyBrief(ctx context.Context, id string) (domain.WeeklyBrief, error)
	GetGovernanceSession(ctx context.Context, id string) (domain.GovernanceSession, error)
	ListPortfolioVersions(ctx context.Context) ([]domain.PortfolioVersion, error)
	ListReSetupTriggers(ctx context.Context) ([]domain.ReSetupTrigger, error)
	GetUserPreferences(ctx context.Context) (domain.UserPreferences, error)

	EnqueueDelta(ctx context.Context, q db.QueuedDelta) error
	DequeueReady(ctx context.Context, now time.Time, limit int) ([]db.QueuedDelta, error)
	MarkDeltaDone(ctx context.Context, id string) error
	MarkDeltaFailed(ctx context.Context, id string, lastError string, nextAttempt time.Time) error
	QueueDepth(ctx context.Context) (int, error)
	RecordOverwrite(ctx context.Context, entityType, entityID string, losingPayload []byte, losingUpdatedAt, winningUpdatedAt, recordedAt time.Time) error
	ApplyRemoteDelta(ctx context.Context, d ports.Delta) error

	Watch(ctx context.Context, entityType string) <-chan db.Snapshot
}

// Coordinator is the Sync Coordinator component: one per process,
// started once at launch and stopped on shutdown alongside the
// background scheduler.
type Coordinator struct {
	store    Store
	remote   ports.RemoteSyncPort
	clock    ports.Clock
	deviceID string
	logger   *slog.Logger

	pullInterval time.Duration
	bo           backoff.BackOff

	mu     sync.Mutex
	cursor string
	stopCh chan struct{}
}

// NewCoordinator wires a Coordinator against store and remote. deviceID
// identifies this device's writes in the overwrite log and on the wire;
// callers derive it once at first launch and persist it themselves.
func NewCoordinator(store Store, remote ports.RemoteSyncPort, clock ports.Clock, deviceID string, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:        store,
		remote:       remote,
		clock:        clock,
		deviceID:     deviceID,
		logger:       logger,
		pullInterval: 5 * time.Minute,
		bo:           retry.BackpressureSchedule(),
		stopCh:       make(chan struct{}),
	}
}

// Start launches one watch goroutine per synchronized entity type plus
// the foreground timer that runs a push/pull cycle every five minutes
// (everything but app-launch and pull-to-refresh, which callers drive
// directly via RunOnce).
func (c *Coordinator) Start(ctx context.Context) {
	for _, entityType := range watchedEntityTypes {
		entityType := entityType
		go c.watchLoop(ctx, entityType)
	}
	go c.periodicLoop(ctx)
}

// Stop ends the periodic loop; watch goroutines exit on their own once
// ctx is cancelled, since Watch closes its channel at that point.
func (c *Coordinator) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
}

func (c *Coordinator) watchLoop(ctx context.Context, entityType string) {
	for snap := range c.store.Watch(ctx, entityType) {
		if err := c.enqueueFromSnapshot(ctx, entityType, snap); err != nil && c.logger != nil {
			c.logger.Warn("failed to enqueue local change", "entity_type", entityType, "entity_id", snap.EntityID, "error", err)
		}
	}
}

func (c *Coordinator) periodicLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pullInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			if err := c.RunOnce(ctx); err != nil && c.logger != nil {
				c.logger.Warn("sync cycle failed", "error", err)
			}
		}
	}
}

// RunOnce drives one push-then-pull cycle, the same unit of work
// triggered by app launch, a connectivity-restored signal, an explicit
// pull-to-refresh, and the foreground timer.
func (c *Coordinator) RunOnce(ctx context.Context) error {
	if err := c.Push(ctx); err != nil {
		return err
	}
	return c.Pull(ctx)
}

// QueueDepth reports how many local mutations are still waiting to
// push, for the UI's pending badge.
func (c *Coordinator) QueueDepth(ctx context.Context) (int, error) {
	return c.store.QueueDepth(ctx)
}

func (c *Coordinator) enqueueFromSnapshot(ctx context.Context, entityType string, snap db.Snapshot) error {
	operation := "upsert"
	var payload []byte
	if snap.Deleted {
		operation = "delete"
	} else {
		p, err := c.fetchPayload(ctx, entityType, snap.EntityID)
		if err != nil {
			return err
		}
		payload = p
	}

	var serverVersion int64
	if len(payload) > 0 {
		var sc domain.SyncColumns
		if err := json.Unmarshal(payload, &sc); err != nil {
			return err
		}
		serverVersion = sc.ServerVersion
	}

	now := c.clock.Now()
	return c.store.EnqueueDelta(ctx, db.QueuedDelta{
		ID:               idempotencyKey(snap.EntityID, operation, serverVersion),
		EntityType:       entityType,
		EntityID:         snap.EntityID,
		Operation:        operation,
		Priority:         PriorityLocalMutation,
		PayloadJSON:      payload,
		Status:           "queued",
		EnqueuedAtUTC:    now,
		NextAttemptAtUTC: now,
	})
}

// idempotencyKey hashes (entity_id, operation, server_version_at_enqueue)
// into a content-stable id, so re-enqueuing the same logical change
// before it has drained is a no-op at the storage layer (EnqueueDelta
// uses INSERT OR IGNORE) and re-delivery after a crash cannot duplicate
// effect.
func idempotencyKey(entityID, operation string, serverVersion int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", entityID, operation, serverVersion)))
	return hex.EncodeToString(sum[:])
}

// Push dequeues ready rows in priority order and sends them as one
// batch. A transient failure backs the whole batch off together rather
// than per row, since a single remote outage affects every in-flight
// push the same way.
func (c *Coordinator) Push(ctx context.Context) error {
	now := c.clock.Now()
	ready, err := c.store.DequeueReady(ctx, now, pushBatchSize)
	if err != nil {
		return fmt.Errorf("sync: dequeue: %w", err)
	}
	if len(ready) == 0 {
		return nil
	}

	deltas := make([]ports.Delta, len(ready))
	for i, q := range ready {
		deltas[i] = c.toWireDelta(q)
	}

	if err := c.remote.Push(ctx, deltas); err != nil {
		next := now
		if !retry.IsPermanent(err) {
			next = now.Add(c.bo.NextBackOff())
		}
		for _, q := range ready {
			if markErr := c.store.MarkDeltaFailed(ctx, q.ID, err.Error(), next); markErr != nil && c.logger != nil {
				c.logger.Warn("failed to reschedule queued delta", "id", q.ID, "error", markErr)
			}
		}
		if c.logger != nil {
			c.logger.Warn("push failed", "count", len(ready), "retry_at", next, "error", err)
		}
		return nil
	}

	c.bo.Reset()
	for _, q := range ready {
		if err := c.store.MarkDeltaDone(ctx, q.ID); err != nil {
			return fmt.Errorf("sync: mark done: %w", err)
		}
	}
	if c.logger != nil {
		c.logger.Info("pushed deltas", "count", len(ready))
	}
	return nil
}

func (c *Coordinator) toWireDelta(q db.QueuedDelta) ports.Delta {
	var sc domain.SyncColumns
	_ = json.Unmarshal(q.PayloadJSON, &sc)
	return ports.Delta{
		EntityType:     q.EntityType,
		EntityID:       q.EntityID,
		Operation:      q.Operation,
		Payload:        q.PayloadJSON,
		ServerVersion:  sc.ServerVersion,
		UpdatedAtUTC:   sc.UpdatedAtUTC,
		ClientDeviceID: c.deviceID,
	}
}

// Pull requests every page of changes since the last cursor and applies
// each batch in delivery order (the remote already orders by
// updated_at_utc).
func (c *Coordinator) Pull(ctx context.Context) error {
	c.mu.Lock()
	cursor := c.cursor
	c.mu.Unlock()

	for {
		result, err := c.remote.Pull(ctx, cursor)
		if err != nil {
			return fmt.Errorf("sync: pull: %w", err)
		}
		for _, d := range result.Deltas {
			if err := c.applyOne(ctx, d); err != nil {
				return fmt.Errorf("sync: apply %s %s: %w", d.EntityType, d.EntityID, err)
			}
		}
		cursor = result.NextCursor
		c.mu.Lock()
		c.cursor = cursor
		c.mu.Unlock()
		if !result.HasMore {
			return nil
		}
	}
}

// applyOne resolves the last-write-wins comparison and, when the local
// copy loses, records it to the overwrite log before overwriting it.
// On a timestamp tie the remote copy wins.
func (c *Coordinator) applyOne(ctx context.Context, d ports.Delta) error {
	localUpdatedAt, localPayload, found, err := c.fetchLocalState(ctx, d.EntityType, d.EntityID)
	if err != nil {
		return err
	}
	if found && localUpdatedAt.After(d.UpdatedAtUTC) {
		return nil
	}
	if found && len(localPayload) > 0 {
		if err := c.store.RecordOverwrite(ctx, d.EntityType, d.EntityID, localPayload, localUpdatedAt, d.UpdatedAtUTC, c.clock.Now()); err != nil {
			return err
		}
	}
	return c.store.ApplyRemoteDelta(ctx, d)
}

func (c *Coordinator) fetchLocalState(ctx context.Context, entityType, id string) (time.Time, []byte, bool, error) {
	payload, err := c.fetchPayload(ctx, entityType, id)
	if err != nil {
		if errors.Is(err, domain.NotFound("")) {
			return time.Time{}, nil, false, nil
		}
		return time.Time{}, nil, false, err
	}
	var sc domain.SyncColumns
	if err := json.Unmarshal(payload, &sc); err != nil {
		return time.Time{}, nil, false, err
	}
	return sc.UpdatedAtUTC, payload, true, nil
}

func (c *Coordinator) fetchPayload(ctx context.Context, entityType, id string) ([]byte, error) {
	switch entityType {
	case "problem":
		v, err := c.store.GetProblem(ctx, id)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	case "board_member":
		v, err := c.store.GetBoardMember(ctx, id)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	case "bet":
		v, err := c.store.GetBet(ctx, id)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	case "evidence_item":
		v, err := c.store.GetEvidenceItem(ctx, id)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	case "daily_entry":
		v, err := c.store.GetDailyEntry(ctx, id)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	case "weekly_brief":
		v, err := c.store.GetWeeklyBrief(ctx, id)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	case "governance_session":
		v, err := c.store.GetGovernanceSession(ctx, id)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	case "portfolio_version":
		versions, err := c.store.ListPortfolioVersions(ctx)
		if err != nil {
			return nil, err
		}
		for _, v := range versions {
			if v.ID == id {
				return json.Marshal(v)
			}
		}
		return nil, domain.NotFound("portfolio_version")
	case "re_setup_trigger":
		triggers, err := c.store.ListReSetupTriggers(ctx)
		if err != nil {
			return nil, err
		}
		for _, t := range triggers {
			if t.ID == id {
				return json.Marshal(t)
			}
		}
		return nil, domain.NotFound("re_setup_trigger")
	case "user_preferences":
		v, err := c.store.GetUserPreferences(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("sync: unknown entity type %q", entityType)
	}
}
