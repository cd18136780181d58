// Package snapshot implements the collection of Brokers keyed by
// (function, inspector) (spec.md §4.5, component C5): registration,
// data-plane sync, and the correct() reconciliation pass that retires
// stopped workers and empty brokers.
package snapshot

import (
	"context"
	"sync"

	"github.com/noslate-project/alice/internal/broker"
	"github.com/noslate-project/alice/internal/domain"
	"github.com/noslate-project/alice/internal/eventbus"
	"github.com/noslate-project/alice/internal/logging"
	"github.com/noslate-project/alice/internal/registry"
	"github.com/noslate-project/alice/internal/supervisor"
)

// Key identifies one broker.
type Key struct {
	FunctionName string
	IsInspector  bool
}

// WorkerStoppedEvent is published once per worker that correct() finds
// Stopped or Unknown, right before it is unregistered (spec.md §4.5,
// §9 "events carry structured payloads").
type WorkerStoppedEvent struct {
	FunctionName string
	IsInspector  bool
	WorkerName   string
	Pid          *int
	Status       domain.ContainerStatus
}

// BrokerStats is one broker's slice of a worker-stats broadcast.
type BrokerStats struct {
	FunctionName string
	IsInspector  bool
	Workers      []domain.WorkerStat
}

// Snapshot owns every Broker the control plane currently knows about.
type Snapshot struct {
	sup supervisor.Client
	reg *registry.Registry

	mu       sync.RWMutex
	brokers  map[Key]*broker.Broker
	stopped  *eventbus.Bus[WorkerStoppedEvent]
}

// New creates an empty Snapshot.
func New(sup supervisor.Client, reg *registry.Registry) *Snapshot {
	return &Snapshot{
		sup:     sup,
		reg:     reg,
		brokers: map[Key]*broker.Broker{},
		stopped: eventbus.New[WorkerStoppedEvent](),
	}
}

// SubscribeWorkerStopped returns a channel receiving a WorkerStoppedEvent
// for every worker correct() retires.
func (s *Snapshot) SubscribeWorkerStopped() eventbus.Subscription[WorkerStoppedEvent] {
	return s.stopped.Subscribe()
}

func (s *Snapshot) brokerFor(key Key) *broker.Broker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.brokers[key]
	if ok {
		return b
	}
	b = broker.New(key.FunctionName, key.IsInspector, s.sup)
	b.SetProfile(s.reg.Get(key.FunctionName))
	s.brokers[key] = b
	return b
}

// Register locates or lazily creates the broker for (funcName,
// inspector) and delegates the register call to it (spec.md §4.5).
func (s *Snapshot) Register(meta domain.RegisterMeta) (*broker.Broker, error) {
	key := Key{FunctionName: meta.FunctionName, IsInspector: meta.IsInspector}
	b := s.brokerFor(key)
	if _, err := b.Register(meta); err != nil {
		return nil, err
	}
	return b, nil
}

// Broker returns the broker for key, if it exists.
func (s *Snapshot) Broker(key Key) *broker.Broker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.brokers[key]
}

// Brokers returns a snapshot copy of every known broker.
func (s *Snapshot) Brokers() map[Key]*broker.Broker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Key]*broker.Broker, len(s.brokers))
	for k, v := range s.brokers {
		out[k] = v
	}
	return out
}

// VirtualMemoryUsed computes Σ over brokers (workerCount × memoryLimit)
// directly from live broker/profile state rather than a tracked
// counter, so it is always consistent with reality (spec.md §4.6,
// §5 "Budget"). Inspector brokers use the profile's unscaled memory
// limit: the capacity budget always uses the original (spec.md §6).
func (s *Snapshot) VirtualMemoryUsed() int64 {
	var used int64
	for key, b := range s.Brokers() {
		profile := s.reg.Get(key.FunctionName)
		if profile == nil {
			continue
		}
		used += int64(b.WorkerCount()) * profile.ResourceLimit.MemoryBytes
	}
	return used
}

// Sync pushes each broker's slice of the latest worker-stats broadcast
// into it; unknown brokers are ignored (spec.md §4.5).
func (s *Snapshot) Sync(stats []BrokerStats) {
	for _, bs := range stats {
		key := Key{FunctionName: bs.FunctionName, IsInspector: bs.IsInspector}
		s.mu.RLock()
		b, ok := s.brokers[key]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		b.Sync(s.reg.Get(bs.FunctionName), bs.Workers)
	}
}

// Correct retires every Stopped/Unknown worker with a WorkerStoppedEvent
// and broker.Unregister, then garbage-collects brokers left with zero
// workers and no profile (spec.md §4.5). It does not run a supervisor
// ps or re-sync data-plane stats itself: psEntries comes from the
// caller and is used only for each event's pid.
func (s *Snapshot) Correct(ctx context.Context, psEntries []supervisor.PsEntry) error {
	psByName := make(map[string]supervisor.PsEntry, len(psEntries))
	for _, e := range psEntries {
		psByName[e.Name] = e
	}

	s.mu.RLock()
	brokers := make(map[Key]*broker.Broker, len(s.brokers))
	for k, v := range s.brokers {
		brokers[k] = v
	}
	s.mu.RUnlock()

	for key, b := range brokers {
		for name, w := range b.Workers() {
			status := w.ContainerStatus()
			if status != domain.ContainerStatusStopped && status != domain.ContainerStatusUnknown {
				continue
			}
			var pid *int
			if entry, ok := psByName[name]; ok {
				p := entry.Pid
				pid = &p
			}
			s.stopped.Publish(WorkerStoppedEvent{
				FunctionName: key.FunctionName,
				IsInspector:  key.IsInspector,
				WorkerName:   name,
				Pid:          pid,
				Status:       status,
			})
			b.Unregister(ctx, name)
		}
	}

	s.gc()
	return nil
}

func (s *Snapshot) gc() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, b := range s.brokers {
		if b.Len() == 0 && s.reg.Get(key.FunctionName) == nil {
			logging.Op().Info("garbage-collecting empty broker", "function", key.FunctionName, "inspector", key.IsInspector)
			delete(s.brokers, key)
		}
	}
}
