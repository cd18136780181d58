package bundle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/noslate-project/alice/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProfile() *domain.Profile {
	return &domain.Profile{
		Name:       "func",
		Runtime:    "nodejs",
		SourceFile: "/code/index.js",
		Handler:    "handler",
		ResourceLimit: domain.ResourceLimit{
			MemoryBytes: 256 * 1024 * 1024,
			CPUFraction: 0.5,
		},
		Environments: map[string]string{"FOO": "bar"},
	}
}

func TestBuildInspectorMultipliesMemory(t *testing.T) {
	p := testProfile()
	spec := Build(p, false)
	assert.Equal(t, int64(256*1024*1024), spec.Linux.Resources.Memory.Limit)

	inspectorSpec := Build(p, true)
	assert.Equal(t, int64(256*1024*1024*100), inspectorSpec.Linux.Resources.Memory.Limit)
}

func TestBuildCPUQuota(t *testing.T) {
	p := testProfile()
	spec := Build(p, false)
	assert.Equal(t, 1024, spec.Linux.Resources.CPU.Shares)
	assert.Equal(t, int64(cpuPeriodMicros), spec.Linux.Resources.CPU.Period)
	assert.Equal(t, int64(500000), spec.Linux.Resources.CPU.Quota)
}

func TestPrepareWritesConfigJSON(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(dir)

	bundleDir, err := b.Prepare("w1", testProfile(), false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "w1"), bundleDir)

	data, err := os.ReadFile(filepath.Join(bundleDir, "config.json"))
	require.NoError(t, err)

	var spec Spec
	require.NoError(t, json.Unmarshal(data, &spec))
	assert.Equal(t, "nodejs", spec.Turf.Runtime)

	_, err = os.Stat(filepath.Join(bundleDir, "code"))
	require.NoError(t, err)
}

func TestPrepareSerializesConcurrentWritersOfSameBundle(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(dir)
	p := testProfile()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Prepare("shared", p, false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
