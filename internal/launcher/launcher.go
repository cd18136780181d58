// Package launcher executes launches (spec.md §4.7, component C7):
// admission check against the memory budget, bundle preparation,
// supervisor create+start, Snapshot registration, and awaiting the
// worker's Ready future. Concurrency is bounded per TryBatchLaunch
// call, the way oriys-nova's EnsureReady bounds parallel VM creation
// with a semaphore channel and a WaitGroup; concurrent batches for the
// same function do not share that bound.
package launcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noslate-project/alice/internal/bundle"
	"github.com/noslate-project/alice/internal/domain"
	"github.com/noslate-project/alice/internal/logging"
	"github.com/noslate-project/alice/internal/metrics"
	"github.com/noslate-project/alice/internal/pkg/crypto"
	"github.com/noslate-project/alice/internal/registry"
	"github.com/noslate-project/alice/internal/snapshot"
	"github.com/noslate-project/alice/internal/supervisor"
	"github.com/noslate-project/alice/internal/worker"
)

// Options configures one launch.
type Options struct {
	IsInspector bool
	Seed        string
}

// Launcher turns launch requests into running, Ready workers.
type Launcher struct {
	reg     *registry.Registry
	snap    *snapshot.Snapshot
	sup     supervisor.Client
	builder *bundle.Builder
	logDir  string
	metrics *metrics.Metrics

	expandConcurrency int
	expandInterval    time.Duration
	budget            int64
}

// New constructs a Launcher. expandConcurrency is the parallel-launch
// bound within one TryBatchLaunch call (spec.md §4.7 step 8, default 2);
// expandInterval is the inter-start delay applied to launches past
// that bound; budget is the global virtualMemoryPoolSize.
func New(reg *registry.Registry, snap *snapshot.Snapshot, sup supervisor.Client, builder *bundle.Builder, logDir string, expandConcurrency int, expandInterval time.Duration, budget int64, m *metrics.Metrics) *Launcher {
	if expandConcurrency <= 0 {
		expandConcurrency = 2
	}
	return &Launcher{
		reg:               reg,
		snap:              snap,
		sup:               sup,
		builder:           builder,
		logDir:            logDir,
		metrics:           m,
		expandConcurrency: expandConcurrency,
		expandInterval:    expandInterval,
		budget:            budget,
	}
}

// TryLaunch executes a single launch end to end (spec.md §4.7).
func (l *Launcher) TryLaunch(ctx context.Context, functionName string, opts Options) (*worker.Worker, error) {
	start := time.Now()

	profile := l.reg.Get(functionName)
	if profile == nil {
		return nil, l.fail(functionName, "no_function", fmt.Errorf("launch %s: %w", functionName, domain.ErrNoFunction))
	}

	used := l.snap.VirtualMemoryUsed()
	memLimit := profile.ResourceLimit.MemoryBytes
	if memLimit+used > l.poolSize() {
		return nil, l.fail(functionName, "no_memory", fmt.Errorf("launch %s: %w", functionName, domain.ErrNoEnoughVirtualMemory))
	}

	processName := fmt.Sprintf("%s-%s", functionName, uuid.New().String())
	credential := crypto.HashString(processName + uuid.New().String())

	bundleDir, err := l.builder.Prepare(processName, profile, opts.IsInspector)
	if err != nil {
		return nil, l.fail(functionName, "ensure_code_failed", fmt.Errorf("launch %s: %w: %v", functionName, domain.ErrEnsureCodeFailed, err))
	}

	if err := l.sup.Create(ctx, processName, bundleDir); err != nil {
		return nil, l.fail(functionName, "supervisor_create", fmt.Errorf("launch %s: supervisor create: %w", functionName, err))
	}

	startOpts := supervisor.StartOptions{
		Seed:       opts.Seed,
		StdoutPath: fmt.Sprintf("%s/%s.stdout.log", l.logDir, processName),
		StderrPath: fmt.Sprintf("%s/%s.stderr.log", l.logDir, processName),
	}
	if err := l.sup.Start(ctx, processName, startOpts); err != nil {
		return nil, l.fail(functionName, "supervisor_start", fmt.Errorf("launch %s: supervisor start: %w", functionName, err))
	}

	b, err := l.snap.Register(domain.RegisterMeta{
		FunctionName:        functionName,
		IsInspector:         opts.IsInspector,
		Name:                processName,
		Credential:          credential,
		MaxActivateRequests: profile.Worker.MaxActivateRequests,
		Disposable:          profile.Worker.Disposable,
		RegisterTime:        time.Now(),
	})
	if err != nil {
		return nil, l.fail(functionName, "register", fmt.Errorf("launch %s: register: %w", functionName, err))
	}

	w := b.Workers()[processName]
	if err := w.Ready(ctx); err != nil {
		return nil, l.fail(functionName, "init_timeout", fmt.Errorf("launch %s: %w: %v", functionName, domain.ErrWorkerInitTimeout, err))
	}

	if l.metrics != nil {
		l.metrics.LaunchDuration.Observe(time.Since(start).Seconds())
	}
	return w, nil
}

// fail records a launch-failure metric (by kind) before returning err
// unchanged, so every TryLaunch exit path stays a single expression.
func (l *Launcher) fail(functionName, kind string, err error) error {
	if l.metrics != nil {
		l.metrics.LaunchFailuresTotal.WithLabelValues(functionName, kind).Inc()
	}
	return err
}

func (l *Launcher) poolSize() int64 {
	return l.budget
}

// TryBatchLaunch issues n launches with bounded per-function
// concurrency, queuing excess launches with an inter-start delay
// (spec.md §4.7 step 8). It rejects the aggregate call if any single
// launch rejects, but each attempted launch still runs to completion
// so partial successes remain registered and are returned alongside
// the first error (spec.md §4.6 step 2 callers log-and-continue rather
// than unwind).
func (l *Launcher) TryBatchLaunch(ctx context.Context, functionName string, n int, opts Options) ([]*worker.Worker, error) {
	if n <= 0 {
		return nil, nil
	}

	sem := make(chan struct{}, l.expandConcurrency)
	var wg sync.WaitGroup
	results := make([]*worker.Worker, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		if i >= l.expandConcurrency && l.expandInterval > 0 {
			select {
			case <-time.After(l.expandInterval):
			case <-ctx.Done():
				errs[i] = ctx.Err()
				continue
			}
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			w, err := l.TryLaunch(ctx, functionName, opts)
			results[idx] = w
			errs[idx] = err
		}(i)
	}
	wg.Wait()

	var launched []*worker.Worker
	var firstErr error
	for i, w := range results {
		if w != nil {
			launched = append(launched, w)
		}
		if errs[i] != nil {
			logging.Op().Warn("batch launch attempt failed", "function", functionName, "error", errs[i])
			if firstErr == nil {
				firstErr = errs[i]
			}
		}
	}
	if firstErr != nil {
		return launched, firstErr
	}
	return launched, nil
}
