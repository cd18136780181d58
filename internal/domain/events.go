package domain

import "time"

// ReportEventType is the status-report event kind the data plane pushes
// for a single worker (§6 "Status report events (consumed)").
type ReportEventType string

const (
	EventContainerInstalled   ReportEventType = "ContainerInstalled"
	EventRequestDrained       ReportEventType = "RequestDrained"
	EventContainerDisconnected ReportEventType = "ContainerDisconnected"
)

// StatusReportEvent is pushed by the data plane, independent of the
// reconciler's tick, and applied synchronously (spec.md §4.8 "Event-driven
// fast path").
type StatusReportEvent struct {
	FunctionName string
	Name         string
	IsInspector  bool
	Event        ReportEventType
	RequestID    string
}

// WorkerStat is one entry of the data plane's periodic workerStats push
// (§6): per-worker active/max request counters.
type WorkerStat struct {
	Name                string
	ActiveRequestCount  int
	MaxActivateRequests int
}

// ReduceCapacityBroker names the candidate victim workers of one broker
// offered to the data plane during a shrink (§6 reduceCapacity).
type ReduceCapacityBroker struct {
	FunctionName string
	IsInspector  bool
	Workers      []ReduceCapacityWorker
}

// ReduceCapacityWorker identifies one shrink candidate.
type ReduceCapacityWorker struct {
	Name       string
	Credential string
}

// RegisterMeta is the identity handed to Broker.Register / Snapshot.Register
// when a newly launched worker is recorded.
type RegisterMeta struct {
	FunctionName        string
	IsInspector         bool
	Name                string
	Credential          string
	MaxActivateRequests int
	Disposable          bool
	RegisterTime        time.Time
}
