// Package bundle builds the OCI-style bundle directory a launch hands
// to the supervisor: a code/ subdirectory and a config.json populated
// from a Profile (spec.md §6 "OCI-style bundle"), generalized from
// oriys-nova's internal/docker manager's code-directory preparation
// (there: write handler bytes under a per-VM directory; here: write a
// full OCI config alongside it, since the supervisor speaks OCI, not
// the Docker CLI).
package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/noslate-project/alice/internal/domain"
)

const (
	cpuShares        = 1024
	cpuPeriodMicros  = 1_000_000
	inspectorMemMult = 100
)

// Spec is the OCI-style config.json shape this control plane writes.
// Only the fields spec.md §6 names are modeled; everything else a real
// OCI runtime bundle requires (namespaces, mounts, rootfs) is the
// supervisor's concern, not this control plane's.
type Spec struct {
	Process ProcessSpec `json:"process"`
	Linux   LinuxSpec   `json:"linux"`
	Turf    TurfSpec    `json:"turf"`
}

// ProcessSpec carries the function's entrypoint and environment.
type ProcessSpec struct {
	Args []string `json:"args"`
	Env  []string `json:"env"`
}

// LinuxSpec carries the resource limits a worker process is bound by.
type LinuxSpec struct {
	Resources ResourcesSpec `json:"resources"`
}

// ResourcesSpec is the memory/cpu cgroup shape spec.md §6 names.
type ResourcesSpec struct {
	Memory MemorySpec `json:"memory"`
	CPU    CPUSpec    `json:"cpu"`
}

// MemorySpec bounds the worker's memory, in bytes. Inspector mode
// multiplies this by 100 in the spec only; the capacity budget always
// uses the profile's unscaled value (spec.md §6).
type MemorySpec struct {
	Limit int64 `json:"limit"`
}

// CPUSpec expresses a CPU fraction as shares/quota/period.
type CPUSpec struct {
	Shares int   `json:"shares"`
	Quota  int64 `json:"quota"`
	Period int64 `json:"period"`
}

// TurfSpec carries supervisor-specific fields outside the OCI core.
type TurfSpec struct {
	Runtime string `json:"runtime"`
}

// Builder prepares bundle directories, serializing concurrent writers
// of the same bundle's config.json behind a per-bundle exclusive lock
// (spec.md §4.7 step 5, §9 "per-bundle exclusive lock: a keyed lock
// table; holders queue").
type Builder struct {
	baseDir string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewBuilder roots every bundle this Builder prepares under baseDir.
func NewBuilder(baseDir string) *Builder {
	return &Builder{
		baseDir: baseDir,
		locks:   map[string]*sync.Mutex{},
	}
}

func (b *Builder) lockFor(name string) *sync.Mutex {
	b.locksMu.Lock()
	defer b.locksMu.Unlock()
	l, ok := b.locks[name]
	if !ok {
		l = &sync.Mutex{}
		b.locks[name] = l
	}
	return l
}

// Prepare writes <baseDir>/<name>/config.json from profile and returns
// the bundle directory path. The caller is responsible for populating
// <bundle>/code/ (function-code fetching is out of scope, spec.md §1).
func (b *Builder) Prepare(name string, profile *domain.Profile, isInspector bool) (string, error) {
	lock := b.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	bundleDir := filepath.Join(b.baseDir, name)
	if err := os.MkdirAll(filepath.Join(bundleDir, "code"), 0o755); err != nil {
		return "", fmt.Errorf("create bundle dir: %w", err)
	}

	spec := Build(profile, isInspector)
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal config.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(bundleDir, "config.json"), data, 0o644); err != nil {
		return "", fmt.Errorf("write config.json: %w", err)
	}
	return bundleDir, nil
}

// Build constructs the in-memory Spec for a profile without touching
// the filesystem (kept separate from Prepare so it can be unit tested
// without a temp directory).
func Build(profile *domain.Profile, isInspector bool) Spec {
	memLimit := profile.ResourceLimit.MemoryBytes
	if isInspector {
		memLimit *= inspectorMemMult
	}

	args := []string{profile.SourceFile}
	if profile.Handler != "" {
		args = append(args, profile.Handler)
	}
	args = append(args, profile.Worker.ExecArgv...)
	args = append(args, profile.Worker.V8Options...)

	return Spec{
		Process: ProcessSpec{
			Args: args,
			Env:  envPairs(profile.Environments),
		},
		Linux: LinuxSpec{
			Resources: ResourcesSpec{
				Memory: MemorySpec{Limit: memLimit},
				CPU: CPUSpec{
					Shares: cpuShares,
					Quota:  int64(profile.ResourceLimit.CPUFraction * float64(cpuPeriodMicros)),
					Period: cpuPeriodMicros,
				},
			},
		},
		Turf: TurfSpec{Runtime: profile.Runtime},
	}
}

func envPairs(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return pairs
}
