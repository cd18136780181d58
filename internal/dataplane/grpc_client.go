package dataplane

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/noslate-project/alice/internal/domain"
)

// gRPC method names on the data plane's delegate service. No .proto
// file for this service ships in this tree (no protoc run is available
// in this environment); requests and responses are carried as
// structpb.Struct, a real generated protobuf message, rather than
// hand-authored .pb.go stubs.
const (
	methodWorkerStats    = "/noslate.DataPlane/WorkerStats"
	methodReduceCapacity = "/noslate.DataPlane/ReduceCapacity"
)

// GRPCClient is a Client backed by a real grpc.ClientConn.
type GRPCClient struct {
	conn    *grpc.ClientConn
	reports chan domain.StatusReportEvent
}

// NewGRPCClient wraps an already-dialed connection to one data-plane
// process.
func NewGRPCClient(conn *grpc.ClientConn) *GRPCClient {
	return &GRPCClient{
		conn:    conn,
		reports: make(chan domain.StatusReportEvent, 256),
	}
}

func (c *GRPCClient) WorkerStats(ctx context.Context) ([]domain.WorkerStat, error) {
	req, err := structpb.NewStruct(map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, methodWorkerStats, req, resp); err != nil {
		return nil, err
	}
	return parseWorkerStats(resp), nil
}

func parseWorkerStats(resp *structpb.Struct) []domain.WorkerStat {
	var stats []domain.WorkerStat
	list := resp.Fields["workers"].GetListValue().GetValues()
	for _, v := range list {
		ws := v.GetStructValue()
		if ws == nil {
			continue
		}
		stats = append(stats, domain.WorkerStat{
			Name:                ws.Fields["name"].GetStringValue(),
			ActiveRequestCount:  int(ws.Fields["activeRequestCount"].GetNumberValue()),
			MaxActivateRequests: int(ws.Fields["maxActivateRequests"].GetNumberValue()),
		})
	}
	return stats
}

func (c *GRPCClient) ReduceCapacity(ctx context.Context, req ReduceCapacityRequest) (*ReduceCapacityResult, error) {
	payload, err := structpb.NewStruct(map[string]interface{}{
		"brokers": brokersToValue(req.Brokers),
	})
	if err != nil {
		return nil, err
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, methodReduceCapacity, payload, resp); err != nil {
		return nil, err
	}
	return &ReduceCapacityResult{Confirmed: parseConfirmed(resp)}, nil
}

func brokersToValue(brokers []domain.ReduceCapacityBroker) []interface{} {
	out := make([]interface{}, 0, len(brokers))
	for _, b := range brokers {
		workers := make([]interface{}, 0, len(b.Workers))
		for _, w := range b.Workers {
			workers = append(workers, map[string]interface{}{
				"name":       w.Name,
				"credential": w.Credential,
			})
		}
		out = append(out, map[string]interface{}{
			"functionName": b.FunctionName,
			"isInspector":  b.IsInspector,
			"workers":      workers,
		})
	}
	return out
}

func parseConfirmed(resp *structpb.Struct) []domain.ReduceCapacityWorker {
	var confirmed []domain.ReduceCapacityWorker
	for _, v := range resp.Fields["confirmed"].GetListValue().GetValues() {
		ws := v.GetStructValue()
		if ws == nil {
			continue
		}
		confirmed = append(confirmed, domain.ReduceCapacityWorker{
			Name:       ws.Fields["name"].GetStringValue(),
			Credential: ws.Fields["credential"].GetStringValue(),
		})
	}
	return confirmed
}

func (c *GRPCClient) StatusReports() <-chan domain.StatusReportEvent {
	return c.reports
}

// PushStatusReport is called by the gRPC server-streaming receive loop
// (wiring not included here: transport/server setup is out of scope
// per spec.md §1) to feed one event into the channel StatusReports()
// exposes.
func (c *GRPCClient) PushStatusReport(ev domain.StatusReportEvent) {
	select {
	case c.reports <- ev:
	default:
	}
}
