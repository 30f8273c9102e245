package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// FireFunc is invoked by the underlying cron whenever a slot's time
// arrives for a user, once per occurrence.
type FireFunc func(userID int64, slot Slot)

// triggerKey is the structured composite key for one trigger. Keying the
// map by (user, slot) directly makes idempotent install a plain lookup.
type triggerKey struct {
	UserID int64
	Slot   string
}

// Registry owns the lifecycle of all recurring triggers. Invariant: at
// most one live trigger per (user, slot) pair; re-installing is a no-op.
type Registry struct {
	log  zerolog.Logger
	fire FireFunc

	mu      sync.Mutex
	slots   []Slot
	loc     *time.Location
	c       *cron.Cron
	entries map[triggerKey]cron.EntryID
	running bool
}

func NewRegistry(slots []Slot, loc *time.Location, fire FireFunc, log zerolog.Logger) *Registry {
	if loc == nil {
		loc = time.Local
	}
	r := &Registry{
		log:     log,
		fire:    fire,
		slots:   append([]Slot(nil), slots...),
		loc:     loc,
		entries: map[triggerKey]cron.EntryID{},
	}
	r.c = cron.New(cron.WithLocation(loc))
	return r
}

// Start begins firing installed triggers. Triggers may be installed both
// before and after Start.
func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.c.Start()
	r.log.Info().
		Int("slots", len(r.slots)).
		Int("triggers", len(r.entries)).
		Str("tz", r.loc.String()).
		Msg("schedule registry started")
}

// Stop halts firing. Already-running fire callbacks finish on their own;
// Stop waits for them until ctx expires.
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	c := r.c
	r.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	r.log.Info().Msg("schedule registry stopped")
}

// EnsureTriggers installs one recurring trigger per configured slot for
// the user. Pairs that already have a live trigger are skipped, so the
// call is idempotent under repeated or concurrent invocation.
func (r *Registry) EnsureTriggers(userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, slot := range r.slots {
		if err := r.installLocked(userID, slot); err != nil {
			return err
		}
	}
	return nil
}

// installLocked is the single place a trigger comes to life. Call with
// r.mu held.
func (r *Registry) installLocked(userID int64, slot Slot) error {
	key := triggerKey{UserID: userID, Slot: slot.Name}
	if _, ok := r.entries[key]; ok {
		// Designed no-op, never a user-visible error.
		return nil
	}
	localSlot := slot
	id, err := r.c.AddFunc(slot.CronSpec(), func() {
		r.fire(userID, localSlot)
	})
	if err != nil {
		return err
	}
	r.entries[key] = id
	r.log.Debug().
		Int64("user_id", userID).
		Str("slot", slot.Name).
		Str("spec", slot.CronSpec()).
		Msg("trigger installed")
	return nil
}

// Remove stops and forgets all of the user's triggers. Returns true if
// anything was removed. Supports future user removal; also exercised when
// the slot set shrinks on reload.
func (r *Registry) Remove(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := false
	for key, id := range r.entries {
		if key.UserID == userID {
			r.c.Remove(id)
			delete(r.entries, key)
			removed = true
		}
	}
	if removed {
		r.log.Debug().Int64("user_id", userID).Msg("triggers removed")
	}
	return removed
}

// TriggersFor reports how many live triggers the user has.
func (r *Registry) TriggersFor(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key := range r.entries {
		if key.UserID == userID {
			n++
		}
	}
	return n
}

// Len reports the total number of live triggers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Apply swaps the slot set and timezone, rebuilding the cron and
// re-installing triggers for every known user. Used on config hot reload.
func (r *Registry) Apply(slots []Slot, loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	users := map[int64]bool{}
	for key := range r.entries {
		users[key.UserID] = true
	}

	old := r.c
	wasRunning := r.running
	if wasRunning {
		<-old.Stop().Done()
	}

	r.slots = append([]Slot(nil), slots...)
	r.loc = loc
	r.c = cron.New(cron.WithLocation(loc))
	r.entries = map[triggerKey]cron.EntryID{}
	for userID := range users {
		for _, slot := range r.slots {
			if err := r.installLocked(userID, slot); err != nil {
				r.log.Error().Err(err).Int64("user_id", userID).Str("slot", slot.Name).Msg("trigger reinstall failed")
			}
		}
	}
	if wasRunning {
		r.c.Start()
	}
	r.log.Info().
		Int("users", len(users)).
		Int("slots", len(r.slots)).
		Str("tz", loc.String()).
		Msg("schedule registry rebuilt")
}
