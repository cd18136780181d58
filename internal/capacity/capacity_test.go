package capacity

import (
	"context"
	"testing"
	"time"

	"github.com/noslate-project/alice/internal/bundle"
	"github.com/noslate-project/alice/internal/dataplane"
	"github.com/noslate-project/alice/internal/domain"
	"github.com/noslate-project/alice/internal/launcher"
	"github.com/noslate-project/alice/internal/metrics"
	"github.com/noslate-project/alice/internal/registry"
	"github.com/noslate-project/alice/internal/snapshot"
	"github.com/noslate-project/alice/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const memPerWorker = 512 * 1024 * 1024

func testProfile() domain.Profile {
	return domain.Profile{
		Name:       "func",
		Runtime:    "nodejs",
		SourceFile: "/code/index.js",
		ResourceLimit: domain.ResourceLimit{
			MemoryBytes: memPerWorker,
		},
		Worker: domain.WorkerPolicy{
			MaxActivateRequests:     10,
			ReplicaCountLimit:       10,
			InitializationTimeoutMs: 5000,
			ShrinkRedundantTimes:    1,
		},
	}
}

func setup(t *testing.T, poolWorkers int64) (*Manager, *snapshot.Snapshot, *registry.Registry, *supervisor.FakeClient) {
	t.Helper()
	reg := registry.New(nil)
	require.NoError(t, reg.Set(context.Background(), []domain.Profile{testProfile()}, domain.ApplyImmediately))
	sup := supervisor.NewFakeClient()
	snap := snapshot.New(sup, reg)
	builder := bundle.NewBuilder(t.TempDir())
	lnc := launcher.New(reg, snap, sup, builder, t.TempDir(), 4, 0, poolWorkers*memPerWorker, metrics.New("test"))
	null := dataplane.NewNullClient()
	mgr := New(reg, snap, sup, lnc, []dataplane.Client{null}, poolWorkers*memPerWorker, metrics.New("test"))
	return mgr, snap, reg, sup
}

// registerReadyWorker registers a worker through both the Snapshot and
// the (fake) supervisor, so the fake's sandbox map tracks it the way a
// real launch would (sup.Ps/sup.Stop are no-ops for names it never saw).
func registerReadyWorker(t *testing.T, snap *snapshot.Snapshot, sup *supervisor.FakeClient, name, cred string, active int) {
	t.Helper()
	require.NoError(t, sup.Create(context.Background(), name, "/bundles/"+name))
	require.NoError(t, sup.Start(context.Background(), name, supervisor.StartOptions{}))
	_, err := snap.Register(domain.RegisterMeta{
		FunctionName:        "func",
		Name:                name,
		Credential:          cred,
		MaxActivateRequests: 10,
		RegisterTime:        time.Now(),
	})
	require.NoError(t, err)
	b := snap.Broker(snapshot.Key{FunctionName: "func"})
	w := b.Workers()[name]
	require.NoError(t, w.SetReady())
	w.Sync(&domain.WorkerStat{Name: name, ActiveRequestCount: active, MaxActivateRequests: 10})
}

func autoReadyLoop(ctx context.Context, snap *snapshot.Snapshot) {
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, b := range snap.Brokers() {
					for _, w := range b.Workers() {
						if w.ContainerStatus() == domain.ContainerStatusCreated {
							w.SetReady()
						}
					}
				}
			}
		}
	}()
}

// TestScenarioS2ExpandUnderLoad mirrors spec.md S2.
func TestScenarioS2ExpandUnderLoad(t *testing.T) {
	mgr, snap, _, sup := setup(t, 6)
	registerReadyWorker(t, snap, sup, "w1", "c1", 10)
	registerReadyWorker(t, snap, sup, "w2", "c2", 10)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	autoReadyLoop(ctx, snap)

	mgr.AutoScale(ctx)
	time.Sleep(200 * time.Millisecond)

	b := snap.Broker(snapshot.Key{FunctionName: "func"})
	assert.GreaterOrEqual(t, b.Len(), 3)
}

// TestScenarioS3BudgetLimitedExpand mirrors spec.md S3: the pool
// (3 workers' worth, 2 in use) allows exactly 1 more launch; the
// formula's delta here is ceil((20/0.7-20)/10) = 1, so the broker ends
// with 3 workers.
func TestScenarioS3BudgetLimitedExpand(t *testing.T) {
	mgr, snap, _, sup := setup(t, 3)
	registerReadyWorker(t, snap, sup, "w1", "c1", 10)
	registerReadyWorker(t, snap, sup, "w2", "c2", 10)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	autoReadyLoop(ctx, snap)

	mgr.AutoScale(ctx)
	time.Sleep(200 * time.Millisecond)

	b := snap.Broker(snapshot.Key{FunctionName: "func"})
	assert.Equal(t, 3, b.Len())
}

// TestScenarioS6ProfileRemovedDrain mirrors spec.md S6.
func TestScenarioS6ProfileRemovedDrain(t *testing.T) {
	mgr, snap, reg, sup := setup(t, 6)
	registerReadyWorker(t, snap, sup, "w1", "c1", 1)
	registerReadyWorker(t, snap, sup, "w2", "c2", 1)

	require.NoError(t, reg.Set(context.Background(), nil, domain.ApplyImmediately))
	snap.Sync([]snapshot.BrokerStats{{FunctionName: "func"}})

	mgr.AutoScale(context.Background())

	b := snap.Broker(snapshot.Key{FunctionName: "func"})
	for _, w := range b.Workers() {
		assert.Equal(t, domain.ContainerStatusPendingStop, w.ContainerStatus())
	}

	ps, err := sup.Ps(context.Background())
	require.NoError(t, err)
	assert.Len(t, ps, 2)
}

// TestInvariant1MemoryNeverExceedsPool asserts that after autoScale,
// virtual memory used never exceeds the pool.
func TestInvariant1MemoryNeverExceedsPool(t *testing.T) {
	mgr, snap, _, sup := setup(t, 3)
	registerReadyWorker(t, snap, sup, "w1", "c1", 10)
	registerReadyWorker(t, snap, sup, "w2", "c2", 10)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	autoReadyLoop(ctx, snap)

	mgr.AutoScale(ctx)
	time.Sleep(200 * time.Millisecond)

	assert.LessOrEqual(t, snap.VirtualMemoryUsed(), int64(3)*memPerWorker)
}
