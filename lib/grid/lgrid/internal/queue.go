// Package internal provides the task queue feeding the partition workers of lgrid.
//
// TaskQueue is an unbounded multi-producer single-consumer queue built from a
// linked list that producers append to with compare-and-swap. A single consumer
// goroutine moves the items to a channel. After Close the remaining items are
// still delivered and the channel is closed once the list is drained.
//
// Ordering: items pushed by one goroutine are delivered in push order. Items of
// concurrent producers are ordered by whoever completes the append first.
package internal

import (
	"runtime"
	"sync"
	"sync/atomic"
)

type item[T any] struct {
	value T
	next  atomic.Pointer[item[T]]
}

// TaskQueue is a lock-free multi-producer single-consumer queue.
type TaskQueue[T any] struct {
	head   atomic.Pointer[item[T]] // consumer side, sentinel
	tail   atomic.Pointer[item[T]] // producer side
	out    chan T
	closed atomic.Bool
	length atomic.Int64

	mu   sync.Mutex
	cond *sync.Cond
	done sync.WaitGroup
}

// NewTaskQueue creates a queue and starts its consumer goroutine.
func NewTaskQueue[T any]() *TaskQueue[T] {
	sentinel := &item[T]{}
	q := &TaskQueue[T]{out: make(chan T)}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.done.Add(1)
	go q.forward()
	return q
}

// Push appends a value. It returns false if the queue is closed.
//
// Thread-safety: Push may be called from any number of goroutines.
func (q *TaskQueue[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}
	n := &item[T]{value: value}

	var spins uint8
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next != nil {
			// another producer appended but did not move the tail yet
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			q.length.Add(1)
			q.wake()
			return true
		}

		// contention: spin a little, then yield
		if spins < 8 {
			spins++
			for i := 0; i < 1<<spins; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// wake signals the consumer while holding the condition lock, so a signal
// cannot fall between its emptiness check and its wait.
func (q *TaskQueue[T]) wake() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// forward moves items from the list to the output channel.
func (q *TaskQueue[T]) forward() {
	defer q.done.Done()
	defer close(q.out)

	for {
		head := q.head.Load()
		next := head.next.Load()
		if next != nil {
			q.head.Store(next)
			value := next.value
			var zero T
			next.value = zero
			q.length.Add(-1)
			q.out <- value
			continue
		}

		q.mu.Lock()
		for q.head.Load().next.Load() == nil && !q.closed.Load() {
			q.cond.Wait()
		}
		drained := q.head.Load().next.Load() == nil
		q.mu.Unlock()

		if drained {
			return
		}
	}
}

// Recv returns the channel the consumer reads from.
// It is closed after Close once all pushed items were delivered.
func (q *TaskQueue[T]) Recv() <-chan T {
	return q.out
}

// Close rejects further pushes. Already queued items are still delivered.
func (q *TaskQueue[T]) Close() {
	q.closed.Store(true)
	q.wake()
}

// IsClosed returns true if Close was called.
func (q *TaskQueue[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of queued items not yet handed to the channel.
func (q *TaskQueue[T]) Len() int {
	return int(q.length.Load())
}
