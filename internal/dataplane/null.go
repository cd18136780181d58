package dataplane

import (
	"context"

	"github.com/noslate-project/alice/internal/domain"
)

// NullClient is a no-op Client for standalone operation or tests: it
// reports no load and confirms every reduceCapacity request outright.
type NullClient struct {
	reports chan domain.StatusReportEvent
}

// NewNullClient returns a NullClient.
func NewNullClient() *NullClient {
	return &NullClient{reports: make(chan domain.StatusReportEvent)}
}

func (n *NullClient) WorkerStats(ctx context.Context) ([]domain.WorkerStat, error) {
	return nil, nil
}

func (n *NullClient) ReduceCapacity(ctx context.Context, req ReduceCapacityRequest) (*ReduceCapacityResult, error) {
	var confirmed []domain.ReduceCapacityWorker
	for _, b := range req.Brokers {
		confirmed = append(confirmed, b.Workers...)
	}
	return &ReduceCapacityResult{Confirmed: confirmed}, nil
}

func (n *NullClient) StatusReports() <-chan domain.StatusReportEvent {
	return n.reports
}
