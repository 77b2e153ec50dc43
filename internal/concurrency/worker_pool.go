package concurrency

import (
	"context"
	"sync"
)

type TaskFn func(ctx context.Context, index int)

// ForEach runs fn once for every index in [0, tasks) on at most workers goroutines
// and waits for them. Indices not yet started when ctx is cancelled are skipped.
func ForEach(ctx context.Context, workers, tasks int, fn TaskFn) {
	if tasks <= 0 {
		return
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > tasks {
		workers = tasks
	}

	idx := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idx {
				fn(ctx, i)
			}
		}()
	}

feed:
	for i := 0; i < tasks; i++ {
		select {
		case idx <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(idx)
	wg.Wait()
}
