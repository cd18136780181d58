// Package capacity implements the Capacity Manager (spec.md §4.6,
// component C6): it owns the virtual-memory budget and runs the
// autoScale cycle, expanding under budget and concurrency limits and
// shrinking through a data-plane reduceCapacity handshake. The cycle
// shape (tick, evaluate every broker, log-and-continue on per-broker
// failure) is grounded on oriys-nova's internal/autoscaler loop/
// evaluate split; the water-level math itself is spec.md's own,
// exact formula rather than that file's EMA-smoothed heuristic.
package capacity

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/noslate-project/alice/internal/dataplane"
	"github.com/noslate-project/alice/internal/domain"
	"github.com/noslate-project/alice/internal/launcher"
	"github.com/noslate-project/alice/internal/logging"
	"github.com/noslate-project/alice/internal/metrics"
	"github.com/noslate-project/alice/internal/registry"
	"github.com/noslate-project/alice/internal/snapshot"
	"github.com/noslate-project/alice/internal/supervisor"
)

// Manager runs autoScale cycles over a Snapshot.
type Manager struct {
	reg     *registry.Registry
	snap    *snapshot.Snapshot
	sup     supervisor.Client
	lnc     *launcher.Launcher
	dps     []dataplane.Client
	metrics *metrics.Metrics

	poolSize int64

	cycleMu sync.Mutex // serializes autoScale cycles (spec.md §4.6 "phases are serialized")
}

// New constructs a capacity Manager. poolSize is virtualMemoryPoolSize.
func New(reg *registry.Registry, snap *snapshot.Snapshot, sup supervisor.Client, lnc *launcher.Launcher, dps []dataplane.Client, poolSize int64, m *metrics.Metrics) *Manager {
	return &Manager{reg: reg, snap: snap, sup: sup, lnc: lnc, dps: dps, poolSize: poolSize, metrics: m}
}

type brokerDelta struct {
	key   snapshot.Key
	delta int
}

// AutoScale runs one full cycle: evaluate every broker, expand (budget-
// clamped, bounded concurrency), then shrink (data-plane handshake).
// A new cycle never overlaps a running one (spec.md §4.6).
func (m *Manager) AutoScale(ctx context.Context) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	start := time.Now()

	brokers := m.snap.Brokers()
	deltas := make([]brokerDelta, 0, len(brokers))
	for key, b := range brokers {
		delta := b.EvaluateWaterLevel(false)
		deltas = append(deltas, brokerDelta{key: key, delta: delta})
		if m.metrics != nil {
			inspector := strconv.FormatBool(key.IsInspector)
			m.metrics.WorkerCount.WithLabelValues(key.FunctionName, inspector).Set(float64(b.Len()))
			if delta > 0 {
				m.metrics.AutoScaleDeltaTotal.WithLabelValues(key.FunctionName, "expand").Add(float64(delta))
			} else if delta < 0 {
				m.metrics.AutoScaleDeltaTotal.WithLabelValues(key.FunctionName, "shrink").Add(float64(-delta))
			}
		}
	}

	m.expand(ctx, deltas)
	m.shrink(ctx, deltas)

	if m.metrics != nil {
		m.metrics.VirtualMemoryUsed.Set(float64(m.snap.VirtualMemoryUsed()))
		m.metrics.AutoScaleCycleDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *Manager) expand(ctx context.Context, deltas []brokerDelta) {
	used := m.snap.VirtualMemoryUsed()

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range deltas {
		if d.delta <= 0 {
			continue
		}
		d := d
		profile := m.reg.Get(d.key.FunctionName)
		if profile == nil {
			continue
		}

		need := int64(d.delta) * profile.ResourceLimit.MemoryBytes
		if need+used > m.poolSize {
			allowed := int((m.poolSize - used) / profile.ResourceLimit.MemoryBytes)
			if allowed < 0 {
				allowed = 0
			}
			logging.Op().Warn("clamping expand to remaining budget", "function", d.key.FunctionName, "requested", d.delta, "allowed", allowed)
			d.delta = allowed
		}
		if d.delta <= 0 {
			continue
		}
		used += int64(d.delta) * profile.ResourceLimit.MemoryBytes

		g.Go(func() error {
			_, err := m.lnc.TryBatchLaunch(gctx, d.key.FunctionName, d.delta, launcher.Options{IsInspector: d.key.IsInspector})
			if err != nil {
				logging.Op().Warn("expand launch rejected", "function", d.key.FunctionName, "error", err)
			}
			return nil
		})
	}
	// Errors are logged per-broker inside each goroutine and never
	// propagated: one rejected launch must not abort the cycle (spec.md §7).
	_ = g.Wait()
}

func (m *Manager) shrink(ctx context.Context, deltas []brokerDelta) {
	type victimSet struct {
		key     snapshot.Key
		workers []domain.ReduceCapacityWorker
	}
	var sets []victimSet

	for _, d := range deltas {
		if d.delta >= 0 {
			continue
		}
		b := m.snap.Broker(d.key)
		if b == nil {
			continue
		}
		victims := b.ShrinkDraw(-d.delta)
		if len(victims) == 0 {
			continue
		}
		workers := make([]domain.ReduceCapacityWorker, 0, len(victims))
		for _, w := range victims {
			workers = append(workers, domain.ReduceCapacityWorker{Name: w.Name, Credential: w.Credential})
		}
		sets = append(sets, victimSet{key: d.key, workers: workers})
	}
	if len(sets) == 0 {
		return
	}

	req := dataplane.ReduceCapacityRequest{}
	for _, s := range sets {
		req.Brokers = append(req.Brokers, domain.ReduceCapacityBroker{
			FunctionName: s.key.FunctionName,
			IsInspector:  s.key.IsInspector,
			Workers:      s.workers,
		})
	}

	confirmed := map[string]bool{}
	for _, dp := range m.dps {
		result, err := dp.ReduceCapacity(ctx, req)
		if err != nil {
			logging.Op().Warn("reduceCapacity call failed", "error", err)
			continue
		}
		for _, w := range result.Confirmed {
			confirmed[w.Name] = true
		}
	}

	for _, s := range sets {
		for _, w := range s.workers {
			if !confirmed[w.Name] {
				continue
			}
			if err := m.sup.Stop(ctx, w.Name); err != nil {
				logging.Op().Warn("stopWorker failed", "worker", w.Name, "error", err)
			}
		}
	}
}
