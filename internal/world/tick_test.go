package world

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTickLoopRunsJobsInOrder(t *testing.T) {
	loop := NewTickLoop()
	defer loop.Close()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		if err := loop.Do(context.Background(), func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i {
			t.Fatalf("job order %v, want sequential", order)
		}
	}
}

func TestTickLoopSerialExecution(t *testing.T) {
	loop := NewTickLoop()
	defer loop.Close()

	// Concurrent submitters must never observe two jobs running at
	// once.
	var running, maxRunning int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = loop.Do(context.Background(), func() {
				mu.Lock()
				running++
				if running > maxRunning {
					maxRunning = running
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				running--
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if maxRunning != 1 {
		t.Fatalf("observed %d concurrent jobs, want 1", maxRunning)
	}
}

func TestTickLoopDoHonorsContext(t *testing.T) {
	loop := NewTickLoop()
	defer loop.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	done, err := loop.Submit(func() {
		close(started)
		<-block
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := loop.Do(ctx, func() {}); err != context.DeadlineExceeded {
		t.Fatalf("Do error = %v, want DeadlineExceeded", err)
	}

	close(block)
	<-done
}

func TestTickLoopSubmitAfterClose(t *testing.T) {
	loop := NewTickLoop()
	loop.Close()

	if _, err := loop.Submit(func() {}); err != ErrTickLoopClosed {
		t.Fatalf("Submit after close = %v, want ErrTickLoopClosed", err)
	}
	if err := loop.Do(context.Background(), func() {}); err != ErrTickLoopClosed {
		t.Fatalf("Do after close = %v, want ErrTickLoopClosed", err)
	}
}

func TestTickLoopCloseDrainsQueue(t *testing.T) {
	loop := NewTickLoop()

	ran := 0
	for i := 0; i < 5; i++ {
		if _, err := loop.Submit(func() { ran++ }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	loop.Close()

	if ran != 5 {
		t.Fatalf("ran %d queued jobs after Close, want 5", ran)
	}
}

func TestTickLoopSubmitNeverBlocksOnBacklog(t *testing.T) {
	loop := NewTickLoop()

	block := make(chan struct{})
	started := make(chan struct{})
	if _, err := loop.Submit(func() {
		close(started)
		<-block
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	// Pile up far more work than any fixed buffer while the head job
	// stalls; every Submit must return immediately.
	var mu sync.Mutex
	ran := 0
	for i := 0; i < 500; i++ {
		submitted := make(chan struct{})
		go func() {
			if _, err := loop.Submit(func() {
				mu.Lock()
				ran++
				mu.Unlock()
			}); err != nil {
				t.Errorf("Submit: %v", err)
			}
			close(submitted)
		}()
		select {
		case <-submitted:
		case <-time.After(time.Second):
			t.Fatal("Submit blocked behind a stalled job")
		}
	}

	close(block)
	loop.Close()

	mu.Lock()
	defer mu.Unlock()
	if ran != 500 {
		t.Fatalf("ran %d backlogged jobs, want 500", ran)
	}
}

func TestTickLoopCloseIdempotent(t *testing.T) {
	loop := NewTickLoop()
	loop.Close()
	loop.Close()
}
