package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue[string](1)
	result := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	if err := q.Enqueue(context.Background(), "job-1"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got != "job-1" {
			t.Fatalf("expected job-1, got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueTryDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](3)
	if _, ok := q.TryDequeue(); ok {
		t.Fatal("expected empty queue")
	}
	for i := 1; i <= 3; i++ {
		if err := q.Enqueue(context.Background(), i); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("expected len 3, got %d", q.Len())
	}
	for want := 1; want <= 3; want++ {
		got, ok := q.TryDequeue()
		if !ok || got != want {
			t.Fatalf("expected %d, got %d (ok=%v)", want, got, ok)
		}
	}
	if _, ok := q.TryDequeue(); ok {
		t.Fatal("expected drained queue")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := NewQueue[int](1)
	if err := qEnqueue.Enqueue(context.Background(), 1); err != nil {
		t.Fatalf("failed to prime enqueue queue: %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := qEnqueue.Enqueue(ctx, 2); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueCloseAndDrain(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](4)
	for i := range 4 {
		if err := q.Enqueue(context.Background(), i); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	if n := q.Drain(); n != 4 {
		t.Fatalf("expected 4 drained, got %d", n)
	}
	q.Close()
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected queue closed error, got %v", err)
	}
	if err := q.Enqueue(context.Background(), 9); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected enqueue on closed queue to fail, got %v", err)
	}
	// Closing twice should be safe.
	q.Close()
}

func TestQueueConcurrentConsumers(t *testing.T) {
	t.Parallel()

	const items = 200
	q := NewQueue[int](items)
	for i := range items {
		if err := q.Enqueue(context.Background(), i); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen = make(map[int]int, items)
		wg   sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok := q.TryDequeue()
				if !ok {
					return
				}
				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != items {
		t.Fatalf("expected %d distinct items, got %d", items, len(seen))
	}
	for v, n := range seen {
		if n != 1 {
			t.Fatalf("item %d dequeued %d times", v, n)
		}
	}
}
