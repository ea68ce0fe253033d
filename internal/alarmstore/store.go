// Package alarmstore coordinates alarm mutations: every change is persisted to
// the backend first, then the alarm's triggers are reconciled, then the local
// cache is refreshed from the backend.
package alarmstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dokzlo13/pilld/internal/alarm"
	"github.com/dokzlo13/pilld/internal/metrics"
)

// ErrNotFound is returned for ids missing from the local cache.
var ErrNotFound = errors.New("alarm not found")

// Remote is the alarm backend.
type Remote interface {
	FetchAll(ctx context.Context) ([]alarm.Record, error)
	Put(ctx context.Context, r alarm.Record) error
	Patch(ctx context.Context, id string, fields map[string]any) error
	Delete(ctx context.Context, id string) error
}

// Scheduler owns the live trigger set.
type Scheduler interface {
	Sync(ctx context.Context, r alarm.Record) error
	Cancel(ctx context.Context, alarmID string) error
}

// Phase is the step a mutation is in. Mutations are not serialized against
// each other, so this reports the most recent step taken by any of them.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhasePersisting    Phase = "persisting"
	PhasePersistFailed Phase = "persisting_failed"
	PhaseReconciling   Phase = "reconciling_triggers"
	PhaseRefreshing    Phase = "refreshing"
)

const resyncConcurrency = 4

// Store caches the backend's alarms and applies mutations.
type Store struct {
	remote Remote
	sched  Scheduler

	mu     sync.RWMutex
	alarms []alarm.Record

	busy  atomic.Int32
	phase atomic.Value
	newID func() string
}

// New creates a store with an empty cache. Call Refresh to load it.
func New(remote Remote, sched Scheduler) *Store {
	s := &Store{
		remote: remote,
		sched:  sched,
		newID:  uuid.NewString,
	}
	s.phase.Store(PhaseIdle)
	return s
}

// Phase returns the most recent mutation step.
func (s *Store) Phase() Phase {
	return s.phase.Load().(Phase)
}

func (s *Store) setPhase(p Phase) {
	s.phase.Store(p)
}

// IsRefreshing reports whether a fetch is in flight.
func (s *Store) IsRefreshing() bool {
	return s.busy.Load() > 0
}

// Alarms returns a copy of the cached alarms, ordered by time of day.
func (s *Store) Alarms() []alarm.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]alarm.Record, len(s.alarms))
	for i, r := range s.alarms {
		out[i] = r.Clone()
	}
	return out
}

// Get returns the cached alarm with the given id.
func (s *Store) Get(id string) (alarm.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.alarms {
		if r.ID == id {
			return r.Clone(), true
		}
	}
	return alarm.Record{}, false
}

// FilteredView returns cached alarms whose name contains query, ignoring
// case, restricted to enabled alarms when enabledOnly is set.
func (s *Store) FilteredView(query string, enabledOnly bool) []alarm.Record {
	q := strings.ToLower(query)
	out := []alarm.Record{}
	for _, r := range s.Alarms() {
		if q != "" && !strings.Contains(strings.ToLower(r.Name), q) {
			continue
		}
		if enabledOnly && !r.Enabled {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Refresh replaces the cache with the backend's alarms, sorted by time of
// day. On failure the cache is left as it was.
func (s *Store) Refresh(ctx context.Context) error {
	s.busy.Add(1)
	defer s.busy.Add(-1)

	records, err := s.remote.FetchAll(ctx)
	if err != nil {
		return persistenceError("fetch", "", err)
	}
	sortByTime(records)

	s.mu.Lock()
	s.alarms = records
	s.mu.Unlock()

	metrics.SetCachedAlarms(len(records))
	log.Debug().Int("count", len(records)).Msg("Alarm cache refreshed")
	return nil
}

// Save persists the record, then reconciles its triggers, then refreshes.
// If persisting fails nothing else happens. Trigger and refresh failures are
// joined into the returned error; the record stays saved.
func (s *Store) Save(ctx context.Context, r alarm.Record) error {
	r = r.Normalize()

	s.setPhase(PhasePersisting)
	if err := s.remote.Put(ctx, r); err != nil {
		return s.persistFailed(persistenceError("put", r.ID, err))
	}

	log.Info().
		Str("alarm_id", r.ID).
		Str("name", r.Name).
		Str("time", r.Time).
		Str("days", r.DaysLabel()).
		Bool("enabled", r.Enabled).
		Msg("Alarm saved")

	s.setPhase(PhaseReconciling)
	schedErr := s.reconcile(ctx, r)

	return errors.Join(schedErr, s.refreshAfterMutation(ctx))
}

// Add creates an enabled alarm from a draft under a new id.
func (s *Store) Add(ctx context.Context, d alarm.Draft) (alarm.Record, error) {
	if err := d.Validate(); err != nil {
		return alarm.Record{}, err
	}
	r := d.Record(s.newID())
	return r, s.Save(ctx, r)
}

// Update applies a draft to an existing alarm, keeping its id and enabled flag.
func (s *Store) Update(ctx context.Context, id string, d alarm.Draft) (alarm.Record, error) {
	if err := d.Validate(); err != nil {
		return alarm.Record{}, err
	}
	existing, ok := s.Get(id)
	if !ok {
		return alarm.Record{}, ErrNotFound
	}
	r := d.Apply(existing)
	return r, s.Save(ctx, r)
}

// Duplicate saves a copy of an alarm under a new id.
func (s *Store) Duplicate(ctx context.Context, id string) (alarm.Record, error) {
	existing, ok := s.Get(id)
	if !ok {
		return alarm.Record{}, ErrNotFound
	}
	r := existing.Duplicate(s.newID())
	return r, s.Save(ctx, r)
}

// Delete removes the alarm from the backend, then cancels its triggers, then
// refreshes.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.setPhase(PhasePersisting)
	if err := s.remote.Delete(ctx, id); err != nil {
		return s.persistFailed(persistenceError("delete", id, err))
	}

	log.Info().Str("alarm_id", id).Msg("Alarm deleted")

	s.setPhase(PhaseReconciling)
	schedErr := s.sched.Cancel(ctx, id)

	return errors.Join(schedErr, s.refreshAfterMutation(ctx))
}

// SetEnabled patches the enabled flag, reconciles triggers using the cached
// record as it was before this call, then refreshes. An alarm missing from the
// cache is persisted but its triggers are left alone until the next resync.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) error {
	s.setPhase(PhasePersisting)
	if err := s.remote.Patch(ctx, id, map[string]any{"enabled": enabled}); err != nil {
		return s.persistFailed(persistenceError("patch", id, err))
	}

	log.Info().Str("alarm_id", id).Bool("enabled", enabled).Msg("Alarm toggled")

	var schedErr error
	if cached, ok := s.Get(id); ok {
		cached.Enabled = enabled
		s.setPhase(PhaseReconciling)
		schedErr = s.reconcile(ctx, cached)
	} else {
		log.Warn().Str("alarm_id", id).Msg("Toggled alarm not in cache, triggers not updated")
	}

	return errors.Join(schedErr, s.refreshAfterMutation(ctx))
}

// ResyncAll refreshes the cache and reconciles the triggers of every alarm.
// It repairs drift between the backend and the trigger set, e.g. on launch.
func (s *Store) ResyncAll(ctx context.Context) error {
	if err := s.Refresh(ctx); err != nil {
		return err
	}

	records := s.Alarms()

	var mu sync.Mutex
	var errs []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resyncConcurrency)
	for _, r := range records {
		g.Go(func() error {
			if err := s.reconcile(gctx, r); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	log.Info().
		Int("alarms", len(records)).
		Int("failed", len(errs)).
		Msg("Alarm triggers resynced")
	return errors.Join(errs...)
}

func (s *Store) reconcile(ctx context.Context, r alarm.Record) error {
	if r.Enabled {
		return s.sched.Sync(ctx, r)
	}
	return s.sched.Cancel(ctx, r.ID)
}

func (s *Store) refreshAfterMutation(ctx context.Context) error {
	s.setPhase(PhaseRefreshing)
	err := s.Refresh(ctx)
	s.setPhase(PhaseIdle)
	return err
}

func (s *Store) persistFailed(err error) error {
	s.setPhase(PhasePersistFailed)
	log.Error().Err(err).Msg("Alarm mutation not persisted")
	s.setPhase(PhaseIdle)
	return err
}

func persistenceError(op, id string, err error) error {
	var perr *alarm.PersistenceError
	if errors.As(err, &perr) {
		return err
	}
	return &alarm.PersistenceError{Op: op, ID: id, Err: err}
}

// sortByTime orders records by time of day, keeping the backend order for
// equal times. Times that do not parse sort last.
func sortByTime(records []alarm.Record) {
	key := func(r alarm.Record) int {
		h, m, err := alarm.ParseTime(r.Time)
		if err != nil {
			return 24 * 60
		}
		return h*60 + m
	}
	sort.SliceStable(records, func(i, j int) bool {
		return key(records[i]) < key(records[j])
	})
}
