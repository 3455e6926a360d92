package commandqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandQueue_BasicEnqueue(t *testing.T) {
	cq := New()
	defer cq.Close()

	result, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		return "result", nil
	}, nil)

	assert.NoError(t, err)
	assert.Equal(t, "result", result)
}

func TestCommandQueue_TaskError(t *testing.T) {
	cq := New()
	defer cq.Close()

	expectedErr := errors.New("task failed")
	result, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		return nil, expectedErr
	}, nil)

	assert.Equal(t, expectedErr, err)
	assert.Nil(t, result)
}

func TestCommandQueue_TaskPanic(t *testing.T) {
	cq := New()
	defer cq.Close()

	_, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		panic("boom")
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCommandQueue_SerialExecutionPerLane(t *testing.T) {
	cq := New()
	defer cq.Close()

	var running, maxRunning int32
	var wg sync.WaitGroup
	lane := SessionLane("call-1")

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue(context.Background(), lane, func(ctx context.Context) (interface{}, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					m := atomic.LoadInt32(&maxRunning)
					if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil, nil
			}, nil)
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestCommandQueue_FIFOOrder(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), "fifo", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = cq.Enqueue(context.Background(), "fifo", func(ctx context.Context) (interface{}, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			}, nil)
		}(i)
		require.Eventually(t, func() bool { return cq.GetQueueSize("fifo") == i+1 }, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestCommandQueue_ConcurrentLanes(t *testing.T) {
	cq := New()
	defer cq.Close()

	both := make(chan struct{})
	var arrived int32
	task := func(ctx context.Context) (interface{}, error) {
		if atomic.AddInt32(&arrived, 1) == 2 {
			close(both)
		}
		select {
		case <-both:
			return nil, nil
		case <-time.After(time.Second):
			return nil, errors.New("lanes did not overlap")
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, lane := range []string{SessionLane("a"), SessionLane("b")} {
		wg.Add(1)
		go func(i int, lane string) {
			defer wg.Done()
			_, errs[i] = cq.Enqueue(context.Background(), lane, task, nil)
		}(i, lane)
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
}

func TestCommandQueue_ContextCancelWhileQueued(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), "busy", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	ran := false
	_, err := cq.Enqueue(ctx, "busy", func(ctx context.Context) (interface{}, error) {
		ran = true
		return nil, nil
	}, nil)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, cq.GetQueueSize("busy"))
	close(release)
	assert.True(t, cq.WaitForActive(time.Second))
	assert.False(t, ran)
}

func TestCommandQueue_ClearAndReset(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
				return nil, nil
			}, nil)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return cq.GetQueueSize("test") == 2 }, time.Second, time.Millisecond)

	assert.Equal(t, 2, cq.ClearLane("test"))
	assert.ErrorIs(t, <-errs, ErrLaneCleared)
	assert.ErrorIs(t, <-errs, ErrLaneCleared)

	cq.ResetLane("test")
	close(release)
	assert.True(t, cq.WaitForActive(time.Second))
}

func TestCommandQueue_StatsAndConcurrency(t *testing.T) {
	cq := New()
	defer cq.Close()

	assert.Empty(t, cq.GetStats())

	cq.SetConcurrency("test", 3)
	stats := cq.GetStats()
	assert.Equal(t, 3, stats["test"]["concurrency"])
	assert.Equal(t, 0, stats["test"]["running"])

	assert.True(t, cq.RemoveLane("test"))
	assert.NotContains(t, cq.GetStats(), "test")
}

func TestCommandQueue_Closed(t *testing.T) {
	cq := New()
	require.NoError(t, cq.Close())

	_, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, cq.Close())
}

func TestCommandQueue_Events(t *testing.T) {
	cq := New()
	defer cq.Close()

	var mu sync.Mutex
	var events []Event
	record := func(event Event) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	}
	cq.On("enqueued", record)
	cq.On("completed", record)

	_, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		return "result", nil
	}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "enqueued", events[0].Type)
	assert.Contains(t, events[0].Data, "queue_size")
	assert.Equal(t, "completed", events[1].Type)
	assert.Equal(t, true, events[1].Data["success"])
	mu.Unlock()

	cq.Off("enqueued")
	cq.Off("completed")
	_, _ = cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) { return nil, nil }, nil)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, events, 2)
}

func TestCommandQueue_WarnAfter(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), "slow", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	warned := make(chan int, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = cq.Enqueue(context.Background(), "slow", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, &TaskOptions{
			WarnAfter: 20 * time.Millisecond,
			OnWait:    func(wait time.Duration, pos int) { warned <- pos },
		})
	}()

	select {
	case pos := <-warned:
		assert.Equal(t, 0, pos)
	case <-time.After(time.Second):
		t.Fatal("expected wait warning")
	}
	close(release)
	<-done
}
