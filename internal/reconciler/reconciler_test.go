package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/noslate-project/alice/internal/dataplane"
	"github.com/noslate-project/alice/internal/domain"
	"github.com/noslate-project/alice/internal/registry"
	"github.com/noslate-project/alice/internal/snapshot"
	"github.com/noslate-project/alice/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProfile() domain.Profile {
	return domain.Profile{
		Name: "func",
		Worker: domain.WorkerPolicy{
			MaxActivateRequests:     10,
			ReplicaCountLimit:       10,
			InitializationTimeoutMs: 60_000,
		},
		ResourceLimit: domain.ResourceLimit{MemoryBytes: 1},
	}
}

func TestTickUnregistersStoppedWorkers(t *testing.T) {
	reg := registry.New(nil)
	require.NoError(t, reg.Set(context.Background(), []domain.Profile{testProfile()}, domain.ApplyImmediately))
	sup := supervisor.NewFakeClient()
	snap := snapshot.New(sup, reg)

	now := time.Now()
	_, err := snap.Register(domain.RegisterMeta{FunctionName: "func", Name: "hello", Credential: "world", MaxActivateRequests: 10, RegisterTime: now})
	require.NoError(t, err)
	_, err = snap.Register(domain.RegisterMeta{FunctionName: "func", Name: "foo", Credential: "bar", MaxActivateRequests: 10, RegisterTime: now})
	require.NoError(t, err)

	b := snap.Broker(snapshot.Key{FunctionName: "func"})
	foo := b.Workers()["foo"]
	require.NoError(t, foo.SetReady())

	var gcMu sync.Mutex
	var gcNames []string
	gc := func(name string) {
		gcMu.Lock()
		gcNames = append(gcNames, name)
		gcMu.Unlock()
	}

	null := dataplane.NewNullClient()
	r := New(sup, snap, []dataplane.Client{null}, gc, time.Hour, time.Millisecond)

	// tick() alone does not schedule log-dir GC; Run starts this loop.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.logDirGCLoop(ctx)

	sup.Create(context.Background(), "foo", "/bundles/foo")
	sup.Start(context.Background(), "foo", supervisor.StartOptions{})
	sup.Destroy(context.Background(), "foo") // foo is now gone from the supervisor's ps listing

	r.tick(context.Background())

	assert.Nil(t, b.Workers()["foo"])
	assert.NotNil(t, b.Workers()["hello"])

	require.Eventually(t, func() bool {
		gcMu.Lock()
		defer gcMu.Unlock()
		return len(gcNames) == 1 && gcNames[0] == "foo"
	}, time.Second, 10*time.Millisecond)
}

// TestInvariant2NoRegressionAcrossTicks runs several ticks and asserts
// containerStatus never regresses (spec.md §8 invariant 2).
func TestInvariant2NoRegressionAcrossTicks(t *testing.T) {
	reg := registry.New(nil)
	require.NoError(t, reg.Set(context.Background(), []domain.Profile{testProfile()}, domain.ApplyImmediately))
	sup := supervisor.NewFakeClient()
	snap := snapshot.New(sup, reg)

	_, err := snap.Register(domain.RegisterMeta{FunctionName: "func", Name: "w1", Credential: "c1", MaxActivateRequests: 10, RegisterTime: time.Now()})
	require.NoError(t, err)

	null := dataplane.NewNullClient()
	r := New(sup, snap, []dataplane.Client{null}, nil, time.Hour, time.Hour)

	b := snap.Broker(snapshot.Key{FunctionName: "func"})
	w := b.Workers()["w1"]

	var last domain.ContainerStatus
	for i := 0; i < 5; i++ {
		r.tick(context.Background())
		if wk := b.Workers()["w1"]; wk != nil {
			w = wk
		}
		current := w.ContainerStatus()
		assert.GreaterOrEqual(t, current, last)
		last = current
	}
}

func TestApplyReportSetsReady(t *testing.T) {
	reg := registry.New(nil)
	require.NoError(t, reg.Set(context.Background(), []domain.Profile{testProfile()}, domain.ApplyImmediately))
	sup := supervisor.NewFakeClient()
	snap := snapshot.New(sup, reg)

	_, err := snap.Register(domain.RegisterMeta{FunctionName: "func", Name: "w1", Credential: "c1", MaxActivateRequests: 10, RegisterTime: time.Now()})
	require.NoError(t, err)

	null := dataplane.NewNullClient()
	r := New(sup, snap, []dataplane.Client{null}, nil, time.Hour, time.Hour)

	r.applyReport(domain.StatusReportEvent{FunctionName: "func", Name: "w1", Event: domain.EventContainerInstalled})

	b := snap.Broker(snapshot.Key{FunctionName: "func"})
	assert.Equal(t, domain.ContainerStatusReady, b.Workers()["w1"].ContainerStatus())
}
