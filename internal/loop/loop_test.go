package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_PostRunsInOrder(t *testing.T) {
	l := New()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	assert.Equal(t, 5, l.RunPending())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoop_AsyncCompletesOnLoop(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loopDone := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(loopDone)
	}()

	var mu sync.Mutex
	result := 0
	completed := make(chan struct{})
	l.Async(func() {
		mu.Lock()
		result = 42
		mu.Unlock()
	}, func() {
		close(completed)
	})

	select {
	case <-completed:
	case <-time.After(2 * time.Second):
		t.Fatal("async completion never ran")
	}
	mu.Lock()
	assert.Equal(t, 42, result)
	mu.Unlock()

	cancel()
	<-loopDone
	assert.Equal(t, int64(0), l.Pending())
	assert.False(t, l.Post(func() {}))
}

func TestLoop_ShutdownWaitsForPendingWork(t *testing.T) {
	l := New()
	release := make(chan struct{})
	finished := false
	l.Async(func() { <-release }, func() { finished = true })

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	l.Shutdown()
	assert.True(t, finished)
	assert.Equal(t, int64(0), l.Pending())
}

func TestLoop_Owns(t *testing.T) {
	a, b := New(), New()
	ctx := a.Context(context.Background())
	assert.True(t, a.Owns(ctx))
	assert.False(t, b.Owns(ctx))
	assert.False(t, a.Owns(context.Background()))
}
