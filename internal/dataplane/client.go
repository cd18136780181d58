// Package dataplane is the control plane's client to the data plane
// (spec.md §1, §6, out-of-scope external collaborator): the process
// that terminates requests, routes them to workers, and periodically
// reports per-worker activity counters back. This package only
// implements the consumed half of that relationship.
package dataplane

import (
	"context"

	"github.com/noslate-project/alice/internal/domain"
)

// ReduceCapacityRequest is one shrink-phase ask to a single data-plane
// client (spec.md §4.6, §6 reduceCapacity).
type ReduceCapacityRequest struct {
	Brokers []domain.ReduceCapacityBroker
}

// ReduceCapacityResult names the subset of requested workers the data
// plane actually confirmed safe to stop.
type ReduceCapacityResult struct {
	Confirmed []domain.ReduceCapacityWorker
}

// Client is the consumed surface of one data-plane connection (spec.md
// §6 "Data-plane RPC (consumed)"). A control plane may hold several of
// these (one per data-plane process) and fan shrink requests out to
// all of them, per spec.md §4.6 step 3.
type Client interface {
	// WorkerStats returns the most recent worker-stats broadcast this
	// client has observed.
	WorkerStats(ctx context.Context) ([]domain.WorkerStat, error)

	// ReduceCapacity offers shrink candidates to the data plane, which
	// may refuse to drop some (spec.md §4.6).
	ReduceCapacity(ctx context.Context, req ReduceCapacityRequest) (*ReduceCapacityResult, error)

	// StatusReports returns a channel of status-report events this
	// client pushes independent of any tick (spec.md §4.8 "event-driven
	// fast path").
	StatusReports() <-chan domain.StatusReportEvent
}
