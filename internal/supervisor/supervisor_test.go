package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClientLifecycle(t *testing.T) {
	ctx := context.Background()
	c := NewFakeClient()

	require.NoError(t, c.Create(ctx, "w1", "/bundles/w1"))
	require.NoError(t, c.Start(ctx, "w1", StartOptions{}))

	entries, err := c.Ps(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "w1", entries[0].Name)
	assert.Equal(t, "running", entries[0].Status)

	require.NoError(t, c.Destroy(ctx, "w1"))

	entries, err = c.Ps(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 0)
}

func TestFakeClientStopRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	c := NewFakeClient()
	require.NoError(t, c.Create(ctx, "w1", "/bundles/w1"))
	require.NoError(t, c.Start(ctx, "w1", StartOptions{}))

	c.FailStopTimes = 2
	err := c.Stop(ctx, "w1")
	require.Error(t, err)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.True(t, cmdErr.Retryable())

	err = c.Stop(ctx, "w1")
	require.Error(t, err)

	err = c.Stop(ctx, "w1")
	require.NoError(t, err)
}

func TestFakeClientStopUnknownNameIsIgnorable(t *testing.T) {
	ctx := context.Background()
	c := NewFakeClient()
	require.NoError(t, c.Stop(ctx, "ghost"))
}

func TestCommandErrorClassification(t *testing.T) {
	enoent := &CommandError{Op: "stop", Name: "w1", Code: ReturnCodeENOENT}
	assert.True(t, enoent.Ignorable())
	assert.False(t, enoent.Retryable())

	echild := &CommandError{Op: "stop", Name: "w1", Code: ReturnCodeECHILD}
	assert.True(t, echild.Ignorable())

	eagainLinux := &CommandError{Op: "stop", Name: "w1", Code: ReturnCodeEAGAINLinux}
	assert.True(t, eagainLinux.Retryable())
	assert.False(t, eagainLinux.Ignorable())

	eagainDarwin := &CommandError{Op: "stop", Name: "w1", Code: ReturnCodeEAGAINDarwin}
	assert.True(t, eagainDarwin.Retryable())

	invalid := &CommandError{Op: "stop", Name: "w1", Code: ReturnCodeEINVAL}
	assert.False(t, invalid.Retryable())
	assert.False(t, invalid.Ignorable())
}
