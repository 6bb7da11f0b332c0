package db

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/boardroomjournal/core/domain"
	"github.com/boardroomjournal/core/ports"
)

// Store is the Store component of the design: every aggregate-specific
// file in this package (entries.go, briefs.go, portfolio.go, ...) hangs
// its methods off this one type, sharing one *DB, one Clock, and one
// watch registry. Every mutation goes through withTx so the sync_status
// and updated_at_utc contract is enforced in exactly one place.
type Store struct {
	db    *DB
	clock ports.Clock

	watchMu   sync.Mutex
	watchers  map[string][]chan Snapshot
}

// Snapshot is one row's state at the moment watch delivers it.
type Snapshot struct {
	EntityType string
	EntityID   string
	UpdatedAtUTC time.Time
	Deleted    bool
}

// NewStore opens dbPath (via Open) and wires the given clock for
// updated_at_utc stamping. Tests pass a fixed clock for determinism.
func NewStore(dbPath string, clock ports.Clock) (*Store, error) {
	d, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	return &Store{db: d, clock: clock, watchers: make(map[string][]chan Snapshot)}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// withTx runs fn inside a transaction, committing on success and always
// rolling back on error or panic. fn must use the *sql.Tx it is given
// for every statement so the commit is atomic.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// notify fans a post-commit snapshot out to every subscriber registered
// for entityType, non-blocking: a slow or gone subscriber never stalls
// the writer, and a snapshot a subscriber cannot take at once is
// dropped for that subscriber. notify does not filter snapshots per
// row; ordering and de-duplication are left to the subscriber.
func (s *Store) notify(entityType string, snap Snapshot) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers[entityType] {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Watch subscribes to every future mutation of entityType. The returned
// channel is closed when ctx is done; callers must drain it in a
// goroutine to avoid leaking the subscription.
func (s *Store) Watch(ctx context.Context, entityType string) <-chan Snapshot {
	ch := make(chan Snapshot, 16)
	s.watchMu.Lock()
	s.watchers[entityType] = append(s.watchers[entityType], ch)
	s.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		list := s.watchers[entityType]
		for i, c := range list {
			if c == ch {
				s.watchers[entityType] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch
}

// stampMutation is applied to every row touched by a create or update:
// sync_status becomes pending and updated_at_utc is set from the
// Store's clock, never from caller input.
func (s *Store) stampMutation(cols *domain.SyncColumns) {
	cols.SyncStatus = domain.SyncPending
	cols.UpdatedAtUTC = s.clock.Now()
}
