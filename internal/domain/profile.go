// Package domain holds the data model shared across the control plane:
// function profiles, the worker status lattice, and the sentinel error
// kinds raised by component operations.
package domain

// ShrinkStrategy selects which workers a Broker sacrifices first when
// shrinking capacity.
type ShrinkStrategy string

const (
	// ShrinkLCC drops the worker with the lowest active-request count.
	ShrinkLCC ShrinkStrategy = "LCC"
	// ShrinkFIFO drops the oldest-registered worker first.
	ShrinkFIFO ShrinkStrategy = "FIFO"
	// ShrinkFILO drops the newest-registered worker first.
	ShrinkFILO ShrinkStrategy = "FILO"
)

// ApplyMode controls whether Registry.Set waits for code pre-fetch to
// complete before resolving.
type ApplyMode string

const (
	// ApplyImmediately resolves Set before onPresetFunctionProfile completes.
	ApplyImmediately ApplyMode = "IMMEDIATELY"
	// ApplyWait resolves Set only after onPresetFunctionProfile completes.
	ApplyWait ApplyMode = "WAIT"
)

// ResourceLimit bounds the memory and CPU a single worker process may use.
type ResourceLimit struct {
	MemoryBytes int64   `json:"memory_bytes" yaml:"memory_bytes"`
	CPUFraction float64 `json:"cpu_fraction" yaml:"cpu_fraction"`
}

// WorkerPolicy is the replica-management half of a Profile: everything
// that governs how many workers exist and how they are told apart.
type WorkerPolicy struct {
	MaxActivateRequests        int            `json:"max_activate_requests" yaml:"max_activate_requests"`
	ReplicaCountLimit          int            `json:"replica_count_limit" yaml:"replica_count_limit"`
	ReservationCount           int            `json:"reservation_count" yaml:"reservation_count"`
	ShrinkStrategy             ShrinkStrategy `json:"shrink_strategy" yaml:"shrink_strategy"`
	ShrinkRedundantTimes       int            `json:"shrink_redundant_times" yaml:"shrink_redundant_times"`
	InitializationTimeoutMs    int64          `json:"initialization_timeout_ms" yaml:"initialization_timeout_ms"`
	V8Options                  []string       `json:"v8_options,omitempty" yaml:"v8_options,omitempty"`
	ExecArgv                   []string       `json:"exec_argv,omitempty" yaml:"exec_argv,omitempty"`
	FastFailRequestsOnStarting bool           `json:"fast_fail_requests_on_starting" yaml:"fast_fail_requests_on_starting"`
	Disposable                 bool           `json:"disposable" yaml:"disposable"`
}

// Profile is the declarative description of one function: what code
// runs, its resource limits, and its replica-management policy.
// Immutable once published — the whole set is replaced atomically by
// Registry.Set.
type Profile struct {
	Name          string            `json:"name" yaml:"name"`
	Runtime       string            `json:"runtime" yaml:"runtime"`
	URL           string            `json:"url,omitempty" yaml:"url,omitempty"`
	Signature     string            `json:"signature,omitempty" yaml:"signature,omitempty"`
	SourceFile    string            `json:"source_file,omitempty" yaml:"source_file,omitempty"`
	Handler       string            `json:"handler,omitempty" yaml:"handler,omitempty"`
	ResourceLimit ResourceLimit     `json:"resource_limit" yaml:"resource_limit"`
	Worker        WorkerPolicy      `json:"worker" yaml:"worker"`
	Environments  map[string]string `json:"environments,omitempty" yaml:"environments,omitempty"`

	// Labels and Namespace are informational additions (SPEC_FULL.md
	// §3.1): they are decoded with the profile, but nothing reads them,
	// neither scheduling logic nor Snapshot.ToProtobufObject.
	Labels    map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Namespace string            `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// ReservationCount returns the minimum replica floor for this profile
// given the broker it is evaluated in, per spec.md §4.4: inspector
// brokers always reserve exactly one replica; disposable profiles
// reserve none; otherwise the profile's own configured value applies.
func (p *Profile) ReservationCount(isInspector bool) int {
	if isInspector {
		return 1
	}
	if p.Worker.Disposable {
		return 0
	}
	return p.Worker.ReservationCount
}
