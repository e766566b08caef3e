package respond

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrSaturated is returned by Submit when every worker is busy. The
// coordinator translates it into a 500-class head; there is no queueing and
// no retry at this layer.
var ErrSaturated = errors.New("respond: executor saturated")

var errShutdown = errors.New("respond: executor shut down")

const DefaultWorkers = 64

// Executor runs blocking work on a fixed set of worker goroutines so the
// connection-serving goroutines never perform filesystem or database I/O
// themselves. Idle workers are tracked in a lock-free ring so Submit never
// blocks the caller.
type Executor struct {
	workers []worker
	idle    ringBuffer[*worker]
	quit    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
}

type worker struct {
	tasks chan func()
}

// NewExecutor starts size workers. Size is rounded up to a power of two to
// satisfy the idle ring's masking.
func NewExecutor(size int) *Executor {
	if size < 1 {
		size = DefaultWorkers
	}
	n := 1
	for n < size {
		n <<= 1
	}

	e := &Executor{
		workers: make([]worker, n),
		idle:    newRingBuffer[*worker](n),
		quit:    make(chan struct{}),
	}
	for i := range e.workers {
		w := &e.workers[i]
		w.tasks = make(chan func(), 1)
		e.idle.Enqueue(w)
		e.wg.Add(1)
		go e.run(w)
	}
	return e
}

func (e *Executor) run(w *worker) {
	defer e.wg.Done()
	for {
		select {
		case task := <-w.tasks:
			runTask(task)
			e.idle.Enqueue(w)
		case <-e.quit:
			return
		}
	}
}

// runTask keeps a panicking task from taking the worker down; the task's own
// deferred cleanup (promise abandonment) has already run by the time the
// panic reaches here.
func runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("executor task panic", "panic", r)
		}
	}()
	task()
}

// Submit hands task to an idle worker. It never blocks: when no worker is
// idle it fails immediately with ErrSaturated.
func (e *Executor) Submit(task func()) error {
	if e.closed.Load() {
		return errShutdown
	}
	w, err := e.idle.Dequeue()
	if err != nil {
		return ErrSaturated
	}
	w.tasks <- task
	return nil
}

// Shutdown stops accepting work and waits for running tasks, bounded by ctx.
func (e *Executor) Shutdown(ctx context.Context) error {
	if e.closed.Swap(true) {
		return nil
	}
	close(e.quit)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ringBuffer is a bounded lock-free MPMC queue. Each slot carries a sequence
// stamp; producers and consumers race on CAS of their positions and spin
// with Gosched when a slot is mid-handoff.
type ringBuffer[T any] struct {
	buffer []slot[T]
	mask   uint64
	enqPos uint64
	deqPos uint64
}

type slot[T any] struct {
	sequence uint64
	value    T
}

var errRingEmpty = errors.New("respond: ring buffer is empty")

// newRingBuffer allocates a ring of size n, which must be a power of two.
func newRingBuffer[T any](n int) ringBuffer[T] {
	buf := make([]slot[T], n)
	for i := range buf {
		buf[i].sequence = uint64(i)
	}
	return ringBuffer[T]{
		buffer: buf,
		mask:   uint64(n) - 1,
	}
}

func (q *ringBuffer[T]) Enqueue(val T) {
	for {
		pos := atomic.LoadUint64(&q.enqPos)
		slot := &q.buffer[pos&q.mask]

		seq := atomic.LoadUint64(&slot.sequence)
		delta := int64(seq) - int64(pos)

		if delta == 0 {
			if atomic.CompareAndSwapUint64(&q.enqPos, pos, pos+1) {
				slot.value = val
				atomic.StoreUint64(&slot.sequence, pos+1)
				return
			}
		} else if delta < 0 {
			// Capacity equals the worker count, so a full ring means a
			// worker was enqueued twice.
			panic("respond: ring buffer overflow")
		} else {
			runtime.Gosched()
		}
	}
}

func (q *ringBuffer[T]) Dequeue() (T, error) {
	var zero T
	for {
		pos := atomic.LoadUint64(&q.deqPos)
		slot := &q.buffer[pos&q.mask]

		seq := atomic.LoadUint64(&slot.sequence)
		delta := int64(seq) - int64(pos+1)

		if delta == 0 {
			if atomic.CompareAndSwapUint64(&q.deqPos, pos, pos+1) {
				val := slot.value
				atomic.StoreUint64(&slot.sequence, pos+q.mask+1)
				return val, nil
			}
		} else if delta < 0 {
			return zero, errRingEmpty
		} else {
			runtime.Gosched()
		}
	}
}
