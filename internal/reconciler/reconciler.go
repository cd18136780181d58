// Package reconciler implements the State Reconciler (spec.md §4.8,
// component C8): a periodic tick that pulls supervisor ps and
// data-plane stats, applies them to the Snapshot, and surfaces
// workerStopped events. The ticker/tick-handler split and the
// panic-recovering step wrapper are grounded on oriys-nova's
// pool_lifecycle cleanupLoop/healthCheckLoop.
package reconciler

import (
	"context"
	"time"

	"github.com/noslate-project/alice/internal/dataplane"
	"github.com/noslate-project/alice/internal/domain"
	"github.com/noslate-project/alice/internal/eventbus"
	"github.com/noslate-project/alice/internal/logging"
	"github.com/noslate-project/alice/internal/snapshot"
	"github.com/noslate-project/alice/internal/supervisor"
)

// LogDirGC schedules deletion of a stopped worker's log directory.
// Concrete filesystem cleanup is wired by the caller; the reconciler
// only decides when (spec.md §3 "GC'd 5 minutes after worker stop").
type LogDirGC func(workerName string)

// Reconciler drives one Snapshot's periodic tick.
type Reconciler struct {
	sup  supervisor.Client
	snap *snapshot.Snapshot
	dps  []dataplane.Client
	gc   LogDirGC

	interval time.Duration
	gcDelay  time.Duration

	stoppedSub eventbus.Subscription[snapshot.WorkerStoppedEvent]
}

// New constructs a Reconciler. interval is T_reconcile (default ~1s);
// gcDelay is the log-dir GC delay (default 5 minutes, spec.md §3).
func New(sup supervisor.Client, snap *snapshot.Snapshot, dps []dataplane.Client, gc LogDirGC, interval, gcDelay time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Second
	}
	if gcDelay <= 0 {
		gcDelay = 5 * time.Minute
	}
	r := &Reconciler{sup: sup, snap: snap, dps: dps, gc: gc, interval: interval, gcDelay: gcDelay}
	if gc != nil {
		// Subscribe up front so no workerStopped event published before
		// logDirGCLoop starts is missed.
		r.stoppedSub = snap.SubscribeWorkerStopped()
	}
	return r
}

// Run drives the periodic tick until ctx is canceled, and the
// event-driven fast path that applies status reports synchronously
// (spec.md §4.8). It blocks; call it from its own goroutine.
func (r *Reconciler) Run(ctx context.Context) {
	go r.fastPathLoop(ctx)
	go r.logDirGCLoop(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Op().Error("reconciler tick panicked", "recover", rec)
		}
	}()

	psEntries, err := r.sup.Ps(ctx)
	if err != nil {
		logging.Op().Warn("supervisor ps failed", "error", err)
		psEntries = nil
	}

	r.applySupervisorStates(psEntries)

	stats := r.pollDataPlaneStats(ctx)
	r.snap.Sync(stats)

	if err := r.snap.Correct(ctx, psEntries); err != nil {
		logging.Op().Warn("snapshot correct failed", "error", err)
		return
	}
}

func (r *Reconciler) applySupervisorStates(psEntries []supervisor.PsEntry) {
	psByName := make(map[string]supervisor.PsEntry, len(psEntries))
	for _, e := range psEntries {
		psByName[e.Name] = e
	}

	for _, b := range r.snap.Brokers() {
		for name, w := range b.Workers() {
			entry, ok := psByName[name]
			if !ok {
				w.SwitchTo(nil)
				continue
			}
			state := domain.SupervisorState(entry.Status)
			w.SwitchTo(&state)
		}
	}
}

func (r *Reconciler) pollDataPlaneStats(ctx context.Context) []snapshot.BrokerStats {
	byBroker := map[snapshot.Key][]domain.WorkerStat{}
	for _, dp := range r.dps {
		stats, err := dp.WorkerStats(ctx)
		if err != nil {
			logging.Op().Warn("data plane worker stats failed", "error", err)
			continue
		}
		for _, s := range stats {
			key, ok := brokerKeyOf(r.snap, s.Name)
			if !ok {
				continue
			}
			byBroker[key] = append(byBroker[key], s)
		}
	}

	out := make([]snapshot.BrokerStats, 0, len(byBroker))
	for key, stats := range byBroker {
		out = append(out, snapshot.BrokerStats{FunctionName: key.FunctionName, IsInspector: key.IsInspector, Workers: stats})
	}
	return out
}

// brokerKeyOf finds the (function, inspector) broker a worker name
// belongs to, so synced stats land on the same broker the worker was
// registered under instead of always the non-inspector one.
func brokerKeyOf(snap *snapshot.Snapshot, workerName string) (snapshot.Key, bool) {
	for key, b := range snap.Brokers() {
		if _, ok := b.Workers()[workerName]; ok {
			return key, true
		}
	}
	return snapshot.Key{}, false
}

// logDirGCLoop schedules each workerStopped event's log-dir cleanup at
// +gcDelay (spec.md §3, §4.8 step 5). Worker names are globally unique
// so reuse during the delay window does not occur in practice.
func (r *Reconciler) logDirGCLoop(ctx context.Context) {
	if r.gc == nil {
		return
	}
	sub := r.stoppedSub
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			name := ev.WorkerName
			time.AfterFunc(r.gcDelay, func() { r.gc(name) })
		}
	}
}

func (r *Reconciler) fastPathLoop(ctx context.Context) {
	for _, dp := range r.dps {
		go r.consumeReports(ctx, dp)
	}
}

func (r *Reconciler) consumeReports(ctx context.Context, dp dataplane.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-dp.StatusReports():
			if !ok {
				return
			}
			r.applyReport(ev)
		}
	}
}

func (r *Reconciler) applyReport(ev domain.StatusReportEvent) {
	b := r.snap.Broker(snapshot.Key{FunctionName: ev.FunctionName, IsInspector: ev.IsInspector})
	if b == nil {
		return
	}
	w, ok := b.Workers()[ev.Name]
	if !ok {
		return
	}
	if err := w.UpdateWorkerStatusByReport(ev.Event); err != nil {
		logging.Op().Warn("status report application failed", "worker", ev.Name, "event", ev.Event, "error", err)
	}
}
