package linklayer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int]()
	q.Push(1, 2)
	q.Push(3)

	require.Equal(t, 3, q.Len())
	for want := 1; want <= 3; want++ {
		got, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
	assert.True(t, q.Empty())
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := NewQueue[string]()
	done := make(chan string)

	go func() {
		v, err := q.Pop(context.Background())
		if err == nil {
			done <- v
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push("hello")

	select {
	case v := <-done:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for Pop")
	}
}

func TestQueuePopHonorsCancellation(t *testing.T) {
	q := NewQueue[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueWakesEveryWaiter(t *testing.T) {
	q := NewQueue[int]()
	const waiters = 8

	var wg sync.WaitGroup
	results := make(chan int, waiters)
	for range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if v, err := q.Pop(ctx); err == nil {
				results <- v
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	q.Push(1, 2, 3, 4, 5, 6, 7, 8)
	wg.Wait()
	close(results)

	sum := 0
	for v := range results {
		sum += v
	}
	assert.Equal(t, 36, sum)
}
