package launcher

import (
	"context"
	"testing"
	"time"

	"github.com/noslate-project/alice/internal/bundle"
	"github.com/noslate-project/alice/internal/domain"
	"github.com/noslate-project/alice/internal/metrics"
	"github.com/noslate-project/alice/internal/registry"
	"github.com/noslate-project/alice/internal/snapshot"
	"github.com/noslate-project/alice/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProfile(name string) domain.Profile {
	return domain.Profile{
		Name:       name,
		Runtime:    "nodejs",
		SourceFile: "/code/index.js",
		ResourceLimit: domain.ResourceLimit{
			MemoryBytes: 512 * 1024 * 1024,
		},
		Worker: domain.WorkerPolicy{
			MaxActivateRequests:     10,
			ReplicaCountLimit:       10,
			InitializationTimeoutMs: 5000,
		},
	}
}

func newTestLauncher(t *testing.T, budget int64) (*Launcher, *supervisor.FakeClient) {
	t.Helper()
	reg := registry.New(nil)
	require.NoError(t, reg.Set(context.Background(), []domain.Profile{testProfile("func")}, domain.ApplyImmediately))
	sup := supervisor.NewFakeClient()
	snap := snapshot.New(sup, reg)
	builder := bundle.NewBuilder(t.TempDir())
	l := New(reg, snap, sup, builder, t.TempDir(), 2, 0, budget, metrics.New("test"))
	return l, sup
}

// autoReadyLoop marks every Created worker Ready on a short ticker,
// simulating the data plane's ContainerInstalled report.
func autoReadyLoop(ctx context.Context, l *Launcher) {
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, b := range l.snap.Brokers() {
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

func TestTryLaunchSucceeds(t *testing.T) {
	l, _ := newTestLauncher(t, 10*512*1024*1024)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	autoReadyLoop(ctx, l)

	w, err := l.TryLaunch(ctx, "func", Options{})
	require.NoError(t, err)
	assert.Equal(t, domain.ContainerStatusReady, w.ContainerStatus())
}

func TestTryLaunchRejectsUnknownFunction(t *testing.T) {
	l, _ := newTestLauncher(t, 10*512*1024*1024)
	_, err := l.TryLaunch(context.Background(), "ghost", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoFunction)
}

func TestTryLaunchRejectsOverBudget(t *testing.T) {
	l, _ := newTestLauncher(t, 100)
	_, err := l.TryLaunch(context.Background(), "func", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoEnoughVirtualMemory)
}

func TestTryBatchLaunchLaunchesAll(t *testing.T) {
	l, _ := newTestLauncher(t, 10*512*1024*1024)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	autoReadyLoop(ctx, l)

	workers, err := l.TryBatchLaunch(ctx, "func", 3, Options{})
	require.NoError(t, err)
	assert.Len(t, workers, 3)
}
