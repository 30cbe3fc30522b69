package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGoroutinePool_RunsTasks(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 3, QueueSize: 10}, zap.NewNop())

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
			n.Add(1)
			return nil
		}))
	}
	require.NoError(t, p.Close(context.Background()))

	assert.Equal(t, int32(10), n.Load())
	stats := p.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, int64(10), stats.Completed)
	assert.Zero(t, stats.Workers)
}

func TestGoroutinePool_RejectsWhenFull(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 1}, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error { return nil }))

	err := p.Submit(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolFull)
	assert.Equal(t, int64(1), p.Stats().Rejected)

	close(release)
	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, int64(2), p.Stats().Completed)
}

func TestGoroutinePool_CloseDrainsAndRejects(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 2, QueueSize: 50}, nil)

	var mu sync.Mutex
	done := 0
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
			time.Sleep(time.Millisecond)
			mu.Lock()
			done++
			mu.Unlock()
			return nil
		}))
	}
	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, 20, done, "queued tasks finish before Close returns")

	assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) error { return nil }), ErrPoolClosed)
	assert.NoError(t, p.Close(context.Background()), "重复关闭应安全")
}

func TestGoroutinePool_CloseDeadline(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 1}, nil)
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Close(ctx), context.DeadlineExceeded)
}

func TestGoroutinePool_PanicCountsAsFailure(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 2}, nil)
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error { panic("boom") }))
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error { return nil }))
	require.NoError(t, p.Close(context.Background()))

	assert.Equal(t, int64(1), p.Stats().Failed)
	assert.Equal(t, int64(1), p.Stats().Completed)
}

func TestByteBufferPool(t *testing.T) {
	b := ByteBufferPool.Get()
	b.WriteString("hello")
	ByteBufferPool.Put(b)

	b2 := ByteBufferPool.Get()
	assert.Zero(t, b2.Len())
	ByteBufferPool.Put(b2)
}
