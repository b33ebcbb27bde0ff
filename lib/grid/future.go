package grid

import (
	"sync"
)

// InvokeStats summarises an AsyncInvokeAll run.
type InvokeStats struct {
	Partitions int // Number of partitions visited
	Processed  int // Number of entries the processor was applied to
	Changed    int // Number of entries written back or removed
}

// Add returns the sum of two stats.
func (s InvokeStats) Add(other InvokeStats) InvokeStats {
	return InvokeStats{
		Partitions: s.Partitions + other.Partitions,
		Processed:  s.Processed + other.Processed,
		Changed:    s.Changed + other.Changed,
	}
}

// Future is the result handle of an asynchronous invocation.
// It is completed exactly once by the store.
//
// Thread-safety: All methods are thread-safe.
type Future struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	stats     InvokeStats
	err       error
	callbacks []func(InvokeStats, error)
}

// NewFuture creates an uncompleted future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// CompletedFuture creates a future that is already completed.
func CompletedFuture(stats InvokeStats, err error) *Future {
	f := NewFuture()
	f.Complete(stats, err)
	return f
}

// Complete sets the result of the future and runs registered callbacks.
// Only the first call has an effect.
func (f *Future) Complete(stats InvokeStats, err error) {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return
	}
	f.completed = true
	f.stats = stats
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(stats, err)
	}
}

// OnComplete registers a callback run once the future completes.
// If the future is already completed the callback runs immediately on the calling goroutine.
func (f *Future) OnComplete(cb func(stats InvokeStats, err error)) {
	f.mu.Lock()
	if !f.completed {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	stats, err := f.stats, f.err
	f.mu.Unlock()
	cb(stats, err)
}

// Done returns a channel closed when the future completes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future completes and returns its result.
func (f *Future) Wait() (InvokeStats, error) {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, f.err
}
