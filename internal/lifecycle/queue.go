package lifecycle

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned for work submitted after Close.
var ErrQueueClosed = errors.New("restart queue closed")

// Queue runs submitted jobs one at a time on a single worker goroutine.
// A job is not taken until the previous one has returned.
type Queue struct {
	jobs   chan *job
	quit   chan struct{}
	closed sync.Once
	wg     sync.WaitGroup
}

type job struct {
	ctx  context.Context
	fn   func(context.Context)
	done chan struct{}
}

// NewQueue starts the worker.
func NewQueue() *Queue {
	q := &Queue{
		jobs: make(chan *job),
		quit: make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case j := <-q.jobs:
			j.fn(j.ctx)
			close(j.done)
		case <-q.quit:
			return
		}
	}
}

// Do submits fn and blocks until it has run. It gives up without running
// fn if ctx ends or the queue closes before the worker takes the job; once
// taken, fn always runs to completion.
func (q *Queue) Do(ctx context.Context, fn func(context.Context)) error {
	j := &job{ctx: ctx, fn: fn, done: make(chan struct{})}
	select {
	case q.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-q.quit:
		return ErrQueueClosed
	}
	<-j.done
	return nil
}

// Close stops the worker after any running job finishes.
func (q *Queue) Close() {
	q.closed.Do(func() { close(q.quit) })
	q.wg.Wait()
}
