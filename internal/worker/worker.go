// Package worker implements the per-replica state machine (spec.md
// §4.3, component C3): a sandboxed process's identity, its supervisor
// and container status, its last-observed request counters, and a
// one-shot Ready future with a hard initialization timeout.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/noslate-project/alice/internal/domain"
	"github.com/noslate-project/alice/internal/logging"
)

// readyFuture is the deferred/promise-with-external-resolve pattern
// named in spec.md §9: a one-shot future settled by exactly one of
// resolve(nil) or resolve(err).
type readyFuture struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newReadyFuture() *readyFuture {
	return &readyFuture{done: make(chan struct{})}
}

func (f *readyFuture) resolve(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

func (f *readyFuture) await(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Worker is one sandboxed process backing one function replica.
type Worker struct {
	Name         string
	Credential   string
	Disposable   bool
	RegisterTime time.Time

	mu              sync.Mutex
	pid             *int
	containerStatus domain.ContainerStatus
	supervisorState *domain.SupervisorState
	workerData      *domain.WorkerStat

	tau           time.Duration // initializationTimeoutMs, as a duration
	readyDeadline time.Duration // tau + 100ms, the ready() hard deadline

	future *readyFuture
	timer  *time.Timer
}

// New constructs a Worker in Created status and starts its
// initialization timeout clock (τ+100ms from registerTime, spec.md
// §3 "Ready requires ... within initializationTimeoutMs + 100ms").
func New(name, credential string, disposable bool, initTimeoutMs int64, registerTime time.Time) *Worker {
	tau := time.Duration(initTimeoutMs) * time.Millisecond
	w := &Worker{
		Name:            name,
		Credential:      credential,
		Disposable:      disposable,
		RegisterTime:    registerTime,
		containerStatus: domain.ContainerStatusCreated,
		tau:             tau,
		readyDeadline:   tau + 100*time.Millisecond,
		future:          newReadyFuture(),
	}
	remaining := w.readyDeadline - time.Since(registerTime)
	if remaining < 0 {
		remaining = 0
	}
	w.timer = time.AfterFunc(remaining, w.onInitTimeout)
	return w
}

func (w *Worker) onInitTimeout() {
	w.mu.Lock()
	stillCreated := w.containerStatus == domain.ContainerStatusCreated
	w.mu.Unlock()
	if stillCreated {
		w.SetStopped(domain.ErrWorkerInitTimeout)
	}
}

// ContainerStatus returns the current lifecycle status.
func (w *Worker) ContainerStatus() domain.ContainerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.containerStatus
}

// SupervisorState returns the last-observed supervisor state, or nil.
func (w *Worker) SupervisorState() *domain.SupervisorState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.supervisorState
}

// WorkerData returns the last-synced request counters, or nil.
func (w *Worker) WorkerData() *domain.WorkerStat {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.workerData
}

// UpdateContainerStatus applies a transition, rejecting any regression
// under Created<Ready<PendingStop<Stopped<Unknown (spec.md §3, §4.3).
func (w *Worker) UpdateContainerStatus(next domain.ContainerStatus, event string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.updateContainerStatusLocked(next, event)
}

func (w *Worker) updateContainerStatusLocked(next domain.ContainerStatus, event string) error {
	if next < w.containerStatus {
		return fmt.Errorf("worker %s: %w: %s -> %s (%s)", w.Name, domain.ErrInvalidTransition, w.containerStatus, next, event)
	}
	old := w.containerStatus
	w.containerStatus = next
	if old != next {
		logging.Op().Info("worker container status transition", "worker", w.Name, "from", old.String(), "to", next.String(), "event", event)
	}
	return nil
}

// SetReady transitions the worker to Ready and resolves its ready
// future, if the transition is legal.
func (w *Worker) SetReady() error {
	w.mu.Lock()
	err := w.updateContainerStatusLocked(domain.ContainerStatusReady, "ready")
	timer := w.timer
	future := w.future
	w.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if err == nil {
		future.resolve(nil)
	}
	return err
}

// SetStopped transitions the worker to Stopped, recording reason, and
// rejects the ready future if it had not already settled.
func (w *Worker) SetStopped(reason error) error {
	w.mu.Lock()
	err := w.updateContainerStatusLocked(domain.ContainerStatusStopped, errString(reason))
	timer := w.timer
	future := w.future
	w.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if err == nil {
		future.resolve(fmt.Errorf("worker %s stopped before ready: %w", w.Name, reason))
	}
	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Sync applies the data plane's latest request counters, or clears
// them if stat is nil (spec.md §4.4 Broker.sync feeds each worker).
func (w *Worker) Sync(stat *domain.WorkerStat) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.workerData = stat
}

// SwitchTo applies a supervisor ps/state observation per the policy
// table in spec.md §4.3.
func (w *Worker) SwitchTo(state *domain.SupervisorState) {
	w.mu.Lock()
	w.supervisorState = state
	status := w.containerStatus
	registerTime := w.RegisterTime
	tau := w.tau
	w.mu.Unlock()

	if state == nil {
		if status == domain.ContainerStatusReady {
			w.SetStopped(domain.ErrWorkerStoppedUnexpected)
		}
		return
	}

	switch *state {
	case domain.SupervisorStateInit, domain.SupervisorStateStarting, domain.SupervisorStateCloning, domain.SupervisorStateRunning:
		if status == domain.ContainerStatusCreated && time.Since(registerTime) > tau {
			w.SetStopped(fmt.Errorf("connect timeout"))
		}
	case domain.SupervisorStateStopping, domain.SupervisorStateStopped:
		w.SetStopped(fmt.Errorf("supervisor reported %s", *state))
	case domain.SupervisorStateUnknown:
		w.UpdateContainerStatus(domain.ContainerStatusUnknown, "supervisor unknown")
	case domain.SupervisorStateForkwait:
		// seed-only state, no-op.
	}
}

// UpdateWorkerStatusByReport applies a data-plane status report event
// (spec.md §4.3): ContainerInstalled -> Ready, RequestDrained or
// ContainerDisconnected -> Stopped, anything else -> Unknown.
func (w *Worker) UpdateWorkerStatusByReport(event domain.ReportEventType) error {
	switch event {
	case domain.EventContainerInstalled:
		return w.SetReady()
	case domain.EventRequestDrained, domain.EventContainerDisconnected:
		return w.SetStopped(fmt.Errorf("report event %s", event))
	default:
		return w.UpdateContainerStatus(domain.ContainerStatusUnknown, string(event))
	}
}

// Ready blocks until the worker becomes Ready, rejects at once if its
// status is already past Ready (PendingStop, Stopped or Unknown), or
// rejects after the init timeout elapses (spec.md §4.3).
func (w *Worker) Ready(ctx context.Context) error {
	w.mu.Lock()
	status := w.containerStatus
	future := w.future
	w.mu.Unlock()

	if status >= domain.ContainerStatusReady {
		if status == domain.ContainerStatusReady {
			return nil
		}
		return fmt.Errorf("worker %s never became ready: status=%s", w.Name, status)
	}
	return future.await(ctx)
}
