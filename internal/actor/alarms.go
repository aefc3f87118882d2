package actor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/AgentForge/internal/port/statestore"
)

const alarmPrefix = "alarm/"

// FireFunc is called when an alarm for id goes off.
type FireFunc func(id string)

type stopper interface{ Stop() bool }

type armed struct {
	at    time.Time
	timer stopper
	gen   uint64
}

type alarmRecord struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

// Alarms holds at most one pending alarm per id. Set replaces, never adds.
// Pending alarms are persisted so Restore can re-arm them after a restart.
// A fired alarm's record is cleared only once its callback has returned
// without setting a new one.
type Alarms struct {
	store statestore.Store

	mu     sync.Mutex
	timers map[string]*armed
	gen    uint64
	fire   FireFunc
	closed bool

	now       func() time.Time                          // for testing
	afterFunc func(d time.Duration, f func()) stopper // for testing
}

// NewAlarms creates a scheduler persisting into store. fire is invoked on
// its own goroutine for every alarm that goes off.
func NewAlarms(store statestore.Store, fire FireFunc) *Alarms {
	return &Alarms{
		store:  store,
		timers: make(map[string]*armed),
		fire:   fire,
		now:    time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// Set schedules the alarm for id at the given time, replacing any pending one.
func (a *Alarms) Set(ctx context.Context, id string, at time.Time) error {
	data, err := json.Marshal(alarmRecord{ID: id, At: at.UTC()})
	if err != nil {
		return fmt.Errorf("marshal alarm: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("alarms: scheduler closed")
	}
	if err := a.store.Put(ctx, alarmPrefix+id, data); err != nil {
		return fmt.Errorf("persist alarm %s: %w", id, err)
	}
	a.armLocked(id, at)
	return nil
}

// Delete cancels the pending alarm for id. It reports whether one existed.
func (a *Alarms) Delete(ctx context.Context, id string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	existed := false
	if cur, ok := a.timers[id]; ok {
		cur.timer.Stop()
		delete(a.timers, id)
		existed = true
	}
	if err := a.store.Delete(ctx, alarmPrefix+id); err != nil {
		return existed, fmt.Errorf("delete alarm %s: %w", id, err)
	}
	return existed, nil
}

// Get returns the pending fire time for id.
func (a *Alarms) Get(id string) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cur, ok := a.timers[id]; ok {
		return cur.at, true
	}
	return time.Time{}, false
}

// Pending returns the number of armed alarms.
func (a *Alarms) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.timers)
}

// Restore re-arms every persisted alarm. Alarms whose time has passed fire
// immediately.
func (a *Alarms) Restore(ctx context.Context) (int, error) {
	keys, err := a.store.Keys(ctx, alarmPrefix)
	if err != nil {
		return 0, fmt.Errorf("list alarms: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, k := range keys {
		raw, err := a.store.Get(ctx, k)
		if err != nil {
			if !errors.Is(err, statestore.ErrNotFound) {
				slog.WarnContext(ctx, "alarm restore: read failed", "key", k, "error", err)
			}
			continue
		}
		var rec alarmRecord
		if err := json.Unmarshal(raw, &rec); err != nil || rec.ID != strings.TrimPrefix(k, alarmPrefix) {
			slog.WarnContext(ctx, "alarm restore: corrupt record", "key", k)
			continue
		}
		a.armLocked(rec.ID, rec.At)
		n++
	}
	return n, nil
}

// Close stops every timer. Persisted alarms are kept for the next Restore.
func (a *Alarms) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for id, cur := range a.timers {
		cur.timer.Stop()
		delete(a.timers, id)
	}
}

func (a *Alarms) armLocked(id string, at time.Time) {
	if cur, ok := a.timers[id]; ok {
		cur.timer.Stop()
	}
	a.gen++
	gen := a.gen
	d := max(at.Sub(a.now()), 0)
	a.timers[id] = &armed{
		at:    at,
		gen:   gen,
		timer: a.afterFunc(d, func() { a.onFire(id, gen) }),
	}
}

func (a *Alarms) onFire(id string, gen uint64) {
	a.mu.Lock()
	cur, ok := a.timers[id]
	if !ok || cur.gen != gen || a.closed {
		// replaced or cancelled after the timer was already running
		a.mu.Unlock()
		return
	}
	delete(a.timers, id)
	a.mu.Unlock()

	// The record outlives the callback so a run cut short by a crash fires
	// again on Restore.
	a.fire(id)

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, rearmed := a.timers[id]; rearmed {
		return
	}
	if err := a.store.Delete(context.Background(), alarmPrefix+id); err != nil {
		slog.Warn("alarm fire: failed to clear record", "id", id, "error", err)
	}
}
