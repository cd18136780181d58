// Package registry holds the control plane's declarative function
// profiles: the current map of function name to Profile, replaced
// atomically on every Set (spec.md §4.2, component C2).
package registry

import (
	"context"
	"sync"

	"github.com/noslate-project/alice/internal/domain"
	"github.com/noslate-project/alice/internal/eventbus"
)

// ChangedEvent is published after a Set commits.
type ChangedEvent struct {
	Profiles map[string]*domain.Profile
}

// PresetHook runs after a profile set is committed, before WAIT-mode
// Set calls return. Typically used to pre-fetch function code; that
// fetching itself is an out-of-scope external concern (spec.md §1), so
// the hook is pluggable rather than built in.
type PresetHook func(ctx context.Context, profiles map[string]*domain.Profile, mode domain.ApplyMode) error

// Registry is the process-wide map of function name to Profile.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*domain.Profile

	onPreset PresetHook
	changed  *eventbus.Bus[ChangedEvent]
}

// New creates an empty Registry. preset may be nil, in which case Set
// never blocks on code pre-fetch regardless of mode.
func New(preset PresetHook) *Registry {
	return &Registry{
		profiles: map[string]*domain.Profile{},
		onPreset: preset,
		changed:  eventbus.New[ChangedEvent](),
	}
}

// Subscribe returns a channel that receives a ChangedEvent after every
// committed Set.
func (r *Registry) Subscribe() eventbus.Subscription[ChangedEvent] {
	return r.changed.Subscribe()
}

// Set validates and atomically replaces the entire profile map
// (spec.md §4.2). Under ApplyWait, Set does not return until the
// preset hook completes; under ApplyImmediately, it returns as soon as
// the map is swapped and the hook is merely kicked off in the
// background.
func (r *Registry) Set(ctx context.Context, profiles []domain.Profile, mode domain.ApplyMode) error {
	next := make(map[string]*domain.Profile, len(profiles))
	for i := range profiles {
		p := profiles[i]
		if err := Validate(&p); err != nil {
			return err
		}
		next[p.Name] = &p
	}

	r.mu.Lock()
	r.profiles = next
	r.mu.Unlock()

	if r.onPreset == nil {
		r.changed.Publish(ChangedEvent{Profiles: next})
		return nil
	}

	if mode == domain.ApplyWait {
		if err := r.onPreset(ctx, next, mode); err != nil {
			return err
		}
		r.changed.Publish(ChangedEvent{Profiles: next})
		return nil
	}

	r.changed.Publish(ChangedEvent{Profiles: next})
	go r.onPreset(context.Background(), next, mode) //nolint:errcheck
	return nil
}

// Get returns the named profile, or nil if absent.
func (r *Registry) Get(name string) *domain.Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.profiles[name]
}

// Snapshot returns a copy of the current name-to-profile map.
func (r *Registry) Snapshot() map[string]*domain.Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*domain.Profile, len(r.profiles))
	for k, v := range r.profiles {
		out[k] = v
	}
	return out
}

// Count reports the number of currently published profiles.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}
