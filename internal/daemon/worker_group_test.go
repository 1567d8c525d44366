package daemon

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerGroupRunsAndDrains(t *testing.T) {
	var g WorkerGroup
	var ran atomic.Int32

	for i := 0; i < 3; i++ {
		require.True(t, g.Go("job", func() { ran.Add(1) }))
	}
	require.NoError(t, g.StopAndWait(context.Background()))
	assert.EqualValues(t, 3, ran.Load())
}

func TestWorkerGroupRefusesAfterStop(t *testing.T) {
	var g WorkerGroup
	require.NoError(t, g.StopAndWait(context.Background()))
	assert.False(t, g.Go("late", func() {}))
	assert.False(t, g.Go("nil", nil))
}

func TestWorkerGroupStopTimesOut(t *testing.T) {
	var g WorkerGroup
	block := make(chan struct{})
	g.Go("stuck", func() { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, g.StopAndWait(ctx))
	close(block)
}

func TestWorkerGroupContainsPanic(t *testing.T) {
	var g WorkerGroup
	g.logger = quietLogger()
	require.True(t, g.Go("explosive", func() { panic("boom") }))
	require.NoError(t, g.StopAndWait(context.Background()))
}
