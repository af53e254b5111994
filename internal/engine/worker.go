package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var errWorkerStopped = errors.New("engine worker stopped")

type request struct {
	fn   func() error
	resp chan error
}

// worker owns the engine and runs submitted closures one at a time on its
// own goroutine, in the order they were accepted.
type worker struct {
	reqs     chan request
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newWorker(queue int) *worker {
	w := &worker{
		reqs: make(chan request, queue),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *worker) run() {
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			return
		case r := <-w.reqs:
			r.resp <- call(r.fn)
		}
	}
}

func call(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("engine task panicked: %v", p)
		}
	}()
	return fn()
}

// submit runs fn on the worker and waits for it. A cancelled context stops
// the wait, not the task.
func (w *worker) submit(ctx context.Context, fn func() error) error {
	r := request{fn: fn, resp: make(chan error, 1)}
	select {
	case w.reqs <- r:
	case <-w.done:
		return errWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-r.resp:
		return err
	case <-w.done:
		// the worker may have finished r just before stopping
		select {
		case err := <-r.resp:
			return err
		default:
			return errWorkerStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop terminates the worker after the task in progress, if any.
func (w *worker) stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	<-w.done
}
