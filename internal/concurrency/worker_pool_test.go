package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestForEachRunsEveryIndexOnce(t *testing.T) {
	var mu sync.Mutex
	seen := map[int]int{}

	ForEach(context.Background(), 3, 20, func(_ context.Context, i int) {
		mu.Lock()
		seen[i]++
		mu.Unlock()
	})

	assert.Len(t, seen, 20)
	for i := 0; i < 20; i++ {
		assert.Equal(t, 1, seen[i], "index %d", i)
	}
}

func TestForEachBoundsConcurrency(t *testing.T) {
	var active, peak int32
	ForEach(context.Background(), 2, 10, func(_ context.Context, _ int) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
	})
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestForEachStopsFeedingAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ran int32
	ForEach(ctx, 1, 100, func(_ context.Context, i int) {
		atomic.AddInt32(&ran, 1)
		if i == 0 {
			cancel()
		}
	})
	assert.Less(t, atomic.LoadInt32(&ran), int32(100))
}

func TestForEachNoTasks(t *testing.T) {
	ForEach(context.Background(), 4, 0, func(context.Context, int) {
		t.Fatal("should not run")
	})
}
