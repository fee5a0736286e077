package world

import (
	"context"
	"errors"
	"sync"

	"voxelforge/internal/logging"
)

// ErrTickLoopClosed is returned when work is submitted after Close.
var ErrTickLoopClosed = errors.New("tick loop closed")

// TickLoop is the world's single serial executor. All world
// mutations run on exactly one goroutine in submission order,
// mirroring a game server's tick thread. Callers submit a closure
// and receive a channel that closes once the closure has run.
type TickLoop struct {
	mu     sync.Mutex
	wake   *sync.Cond
	queue  []tickJob
	closed bool
	done   chan struct{}
}

type tickJob struct {
	fn   func()
	done chan struct{}
}

// NewTickLoop starts the loop goroutine.
func NewTickLoop() *TickLoop {
	l := &TickLoop{done: make(chan struct{})}
	l.wake = sync.NewCond(&l.mu)
	go l.run()
	return l
}

func (l *TickLoop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.wake.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		job := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		job.fn()
		close(job.done)
	}
}

// Submit enqueues fn and returns a channel that closes after fn ran.
// The queue is unbounded: Submit never blocks behind a slow job, so
// Close cannot wedge on the submission lock under backlog.
func (l *TickLoop) Submit(fn func()) (<-chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrTickLoopClosed
	}

	job := tickJob{fn: fn, done: make(chan struct{})}
	l.queue = append(l.queue, job)
	l.wake.Signal()
	return job.done, nil
}

// Do submits fn and waits for it to run or for ctx to expire. The
// closure may still run later if ctx expires first; the world is the
// single source of truth for what actually happened.
func (l *TickLoop) Do(ctx context.Context, fn func()) error {
	done, err := l.Submit(fn)
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		logging.WorldDebug("Tick job abandoned by caller: %v", ctx.Err())
		return ctx.Err()
	}
}

// Close stops accepting work and waits for queued jobs to finish.
func (l *TickLoop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.wake.Signal()
	l.mu.Unlock()

	<-l.done
}
