// Package broker implements the per (function, inspector-flag)
// aggregate (spec.md §4.4, component C4): its workers, its starting
// pool of not-yet-ready workers, and the water-level evaluate/shrink
// policies that drive the capacity manager.
package broker

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/noslate-project/alice/internal/domain"
	"github.com/noslate-project/alice/internal/logging"
	"github.com/noslate-project/alice/internal/supervisor"
	"github.com/noslate-project/alice/internal/worker"
)

const (
	shrinkWaterLevelCeiling = 0.6
	expandWaterLevelFloor   = 0.8
	targetUtilization       = 0.7
)

// StartingPoolEntry is one not-yet-ready worker's pre-admission budget
// (spec.md §3 "Starting pool entry").
type StartingPoolEntry struct {
	WorkerName          string
	Credential          string
	MaxActivateRequests int
	EstimateRequestLeft int
}

// Broker owns every worker for one (functionName, isInspector) pair.
type Broker struct {
	FunctionName string
	IsInspector  bool

	sup supervisor.Client

	mu             sync.RWMutex
	profile        *domain.Profile
	workers        map[string]*worker.Worker
	startingPool   map[string]*StartingPoolEntry
	startingOrder  []string
	redundantTimes int
}

// New creates an empty Broker. Brokers are created lazily by Snapshot
// on first register (spec.md §3 "Lifecycles").
func New(functionName string, isInspector bool, sup supervisor.Client) *Broker {
	return &Broker{
		FunctionName: functionName,
		IsInspector:  isInspector,
		sup:          sup,
		workers:      map[string]*worker.Worker{},
		startingPool: map[string]*StartingPoolEntry{},
	}
}

// SetProfile installs the profile snapshot this broker evaluates
// against. A nil profile means the function has been removed from the
// registry; the broker then only drains (spec.md §4.4).
func (b *Broker) SetProfile(p *domain.Profile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profile = p
}

// Profile returns the currently installed profile snapshot, or nil.
func (b *Broker) Profile() *domain.Profile {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.profile
}

// Register constructs a Worker for meta and inserts it into both the
// worker map and the starting pool (spec.md §4.4).
func (b *Broker) Register(meta domain.RegisterMeta) (*worker.Worker, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.profile == nil {
		return nil, domain.ErrNoFunction
	}

	w := worker.New(meta.Name, meta.Credential, meta.Disposable, b.profile.Worker.InitializationTimeoutMs, meta.RegisterTime)
	b.workers[meta.Name] = w
	b.startingPool[meta.Name] = &StartingPoolEntry{
		WorkerName:          meta.Name,
		Credential:          meta.Credential,
		MaxActivateRequests: meta.MaxActivateRequests,
		EstimateRequestLeft: meta.MaxActivateRequests,
	}
	b.startingOrder = append(b.startingOrder, meta.Name)
	return w, nil
}

// Unregister removes a worker from this broker and asks the
// supervisor to destroy it, swallowing errors to a warn-log (spec.md
// §4.4, §7 "stop errors... otherwise logged and swallowed").
func (b *Broker) Unregister(ctx context.Context, name string) {
	b.mu.Lock()
	delete(b.workers, name)
	delete(b.startingPool, name)
	b.mu.Unlock()

	if err := b.sup.Destroy(ctx, name); err != nil {
		logging.Op().Warn("supervisor destroy failed during unregister", "function", b.FunctionName, "worker", name, "error", err)
	}
}

// WorkerCount returns the number of workers counting toward capacity
// (Ready or PendingStop, spec.md §3).
func (b *Broker) WorkerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, w := range b.workers {
		if w.ContainerStatus().CountsTowardCapacity() {
			n++
		}
	}
	return n
}

// Len returns the total number of workers this broker tracks,
// regardless of status (used by Snapshot's empty-broker GC).
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.workers)
}

// Workers returns a snapshot copy of the worker map.
func (b *Broker) Workers() map[string]*worker.Worker {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]*worker.Worker, len(b.workers))
	for k, v := range b.workers {
		out[k] = v
	}
	return out
}

// Sync refreshes the profile snapshot and feeds the latest data-plane
// stats to each worker (spec.md §4.4).
func (b *Broker) Sync(profile *domain.Profile, stats []domain.WorkerStat) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.profile = profile

	byName := make(map[string]domain.WorkerStat, len(stats))
	for _, s := range stats {
		byName[s.Name] = s
	}

	for name, w := range b.workers {
		if s, ok := byName[name]; ok {
			stat := s
			w.Sync(&stat)
		} else {
			w.Sync(nil)
		}
	}

	for name, entry := range b.startingPool {
		w, ok := b.workers[name]
		if !ok || w.ContainerStatus() != domain.ContainerStatusCreated {
			delete(b.startingPool, name)
			continue
		}
		if s, ok := byName[name]; ok {
			entry.EstimateRequestLeft = entry.MaxActivateRequests - s.ActiveRequestCount
		}
	}
}

// PrerequestStartingPool admits a pre-request onto the first warming
// worker with remaining estimated capacity (spec.md §4.4).
func (b *Broker) PrerequestStartingPool() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, name := range b.startingOrder {
		entry, ok := b.startingPool[name]
		if !ok {
			continue
		}
		if entry.EstimateRequestLeft > 0 {
			entry.EstimateRequestLeft--
			return true
		}
	}
	return false
}

// EvaluateWaterLevel returns an integer delta: positive to expand,
// negative to shrink, zero to hold (spec.md §4.4).
func (b *Broker) EvaluateWaterLevel(expansionOnly bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.profile != nil && b.profile.Worker.Disposable {
		return 0
	}

	workerCount := 0
	activeRequestCount := 0
	totalMaxActivateRequests := 0
	for _, w := range b.workers {
		if !w.ContainerStatus().CountsTowardCapacity() {
			continue
		}
		workerCount++
		if w.ContainerStatus() == domain.ContainerStatusReady {
			if stat := w.WorkerData(); stat != nil {
				activeRequestCount += stat.ActiveRequestCount
				totalMaxActivateRequests += stat.MaxActivateRequests
			}
		}
	}

	if b.profile == nil {
		if expansionOnly {
			return 0
		}
		return -workerCount
	}
	if workerCount == 0 {
		return 0
	}

	var waterLevel float64
	if totalMaxActivateRequests > 0 {
		waterLevel = float64(activeRequestCount) / float64(totalMaxActivateRequests)
	}

	reservation := b.profile.ReservationCount(b.IsInspector)
	perWorkerMax := b.profile.Worker.MaxActivateRequests
	if perWorkerMax <= 0 {
		perWorkerMax = 1
	}
	currentTotalCap := float64(totalMaxActivateRequests)
	target := float64(activeRequestCount) / targetUtilization

	isShrinkCandidate := waterLevel <= shrinkWaterLevelCeiling && workerCount > reservation
	if isShrinkCandidate && workerCount == 1 && activeRequestCount > 0 {
		isShrinkCandidate = false
	}
	isExpandCandidate := waterLevel >= expandWaterLevelFloor

	switch {
	case isShrinkCandidate:
		b.redundantTimes++
		if b.redundantTimes < b.shrinkRedundantTimesLocked() {
			return 0
		}
		b.redundantTimes = 0
		deltaWorkers := int(math.Floor((currentTotalCap - target) / float64(perWorkerMax)))
		if deltaWorkers <= 0 {
			return 0
		}
		if workerCount-deltaWorkers < reservation {
			deltaWorkers = workerCount - reservation
		}
		if deltaWorkers <= 0 {
			return 0
		}
		return -deltaWorkers
	case isExpandCandidate:
		b.redundantTimes = 0
		deltaWorkers := int(math.Ceil((target - currentTotalCap) / float64(perWorkerMax)))
		if deltaWorkers < 0 {
			deltaWorkers = 0
		}
		limit := b.profile.Worker.ReplicaCountLimit - workerCount
		if limit < 0 {
			limit = 0
		}
		if deltaWorkers > limit {
			deltaWorkers = limit
		}
		return deltaWorkers
	default:
		b.redundantTimes = 0
		return 0
	}
}

func (b *Broker) shrinkRedundantTimesLocked() int {
	if b.profile == nil || b.profile.Worker.ShrinkRedundantTimes <= 0 {
		return 1
	}
	return b.profile.Worker.ShrinkRedundantTimes
}

// ShrinkDraw selects n victim workers per the profile's shrink
// strategy, transitions each to PendingStop, and returns them (spec.md
// §4.4). Unknown strategies fall back to LCC with a warning.
func (b *Broker) ShrinkDraw(n int) []*worker.Worker {
	b.mu.Lock()
	candidates := make([]*worker.Worker, 0, len(b.workers))
	for _, w := range b.workers {
		if w.ContainerStatus() == domain.ContainerStatusReady {
			candidates = append(candidates, w)
		}
	}
	strategy := domain.ShrinkLCC
	if b.profile != nil {
		strategy = b.profile.Worker.ShrinkStrategy
	}
	b.mu.Unlock()

	switch strategy {
	case domain.ShrinkLCC:
		sortByLCC(candidates)
	case domain.ShrinkFIFO:
		sortByFIFO(candidates)
	case domain.ShrinkFILO:
		sortByFILO(candidates)
	default:
		logging.Op().Warn("unknown shrink strategy, falling back to LCC", "function", b.FunctionName, "strategy", strategy)
		sortByLCC(candidates)
	}

	if n > len(candidates) {
		n = len(candidates)
	}
	victims := candidates[:n]
	for _, w := range victims {
		w.UpdateContainerStatus(domain.ContainerStatusPendingStop, "shrink")
	}
	return victims
}

func activeCount(w *worker.Worker) int {
	if stat := w.WorkerData(); stat != nil {
		return stat.ActiveRequestCount
	}
	return 0
}

func sortByLCC(ws []*worker.Worker) {
	sort.Slice(ws, func(i, j int) bool {
		ai, aj := activeCount(ws[i]), activeCount(ws[j])
		if ai != aj {
			return ai < aj
		}
		return ws[i].Credential < ws[j].Credential
	})
}

func sortByFIFO(ws []*worker.Worker) {
	sort.Slice(ws, func(i, j int) bool {
		return ws[i].RegisterTime.Before(ws[j].RegisterTime)
	})
}

func sortByFILO(ws []*worker.Worker) {
	sort.Slice(ws, func(i, j int) bool {
		return ws[i].RegisterTime.After(ws[j].RegisterTime)
	})
}

// ReservationCount returns the minimum replica floor this broker
// enforces, per spec.md §4.4.
func (b *Broker) ReservationCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.profile == nil {
		return 0
	}
	return b.profile.ReservationCount(b.IsInspector)
}
