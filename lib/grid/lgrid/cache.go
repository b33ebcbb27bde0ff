package lgrid

import (
	"sync"
	"time"

	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/grid/lgrid/internal"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"
)

// task is a unit of work executed by a partition worker.
type task func()

// partition holds the entries of one partition of a cache and the queue of its worker.
type partition struct {
	id      grid.PartitionID
	entries *xsync.MapOf[string, []byte]
	tasks   *internal.TaskQueue[task]
}

// cache is the shared implementation of grid.IPartitionedCache for a Cluster.
type cache struct {
	cluster    *Cluster
	name       string
	partitions []*partition
	workers    sync.WaitGroup

	invocations metrics.Counter
	changed     metrics.Counter
	latency     metrics.Histogram // microseconds per processor application
}

// CacheStats summarises the processor applications of a cache.
type CacheStats struct {
	Invocations int64   `json:"invocations"`
	Changed     int64   `json:"changed"`
	MeanMicros  float64 `json:"mean_micros"`
	P99Micros   float64 `json:"p99_micros"`
}

var _ grid.IPartitionedCache = (*cache)(nil)

func newCache(c *Cluster, name string) *cache {
	cc := &cache{
		cluster:     c,
		name:        name,
		partitions:  make([]*partition, c.partitionCount),
		invocations: metrics.NewCounter(),
		changed:     metrics.NewCounter(),
		latency:     metrics.NewHistogram(metrics.NewUniformSample(1028)),
	}
	for i := range cc.partitions {
		p := &partition{
			id:      grid.PartitionID(i),
			entries: xsync.NewMapOf[string, []byte](),
			tasks:   internal.NewTaskQueue[task](),
		}
		cc.partitions[i] = p
		cc.workers.Add(1)
		go cc.work(p)
	}
	return cc
}

// work executes the tasks of one partition one after another.
func (cc *cache) work(p *partition) {
	defer cc.workers.Done()
	for t := range p.tasks.Recv() {
		t()
	}
}

func (cc *cache) close() {
	for _, p := range cc.partitions {
		p.tasks.Close()
	}
	cc.workers.Wait()
}

func (cc *cache) stats() CacheStats {
	snap := cc.latency.Snapshot()
	return CacheStats{
		Invocations: cc.invocations.Count(),
		Changed:     cc.changed.Count(),
		MeanMicros:  snap.Mean(),
		P99Micros:   snap.Percentile(0.99),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see grid/interface.go)
// --------------------------------------------------------------------------

func (cc *cache) Name() string {
	return cc.name
}

func (cc *cache) PartitionCount() uint32 {
	return cc.cluster.partitionCount
}

func (cc *cache) Get(key string) ([]byte, bool, error) {
	p := cc.partitions[grid.PartitionFor(key, cc.cluster.partitionCount)]
	value, ok := p.entries.Load(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (cc *cache) Invoke(key string, processor grid.IEntryProcessor) ([]byte, error) {
	p := cc.partitions[grid.PartitionFor(key, cc.cluster.partitionCount)]

	var result []byte
	var err error
	done := make(chan struct{})
	ok := p.tasks.Push(func() {
		defer close(done)
		result, _, err = cc.apply(p, key, processor, true)
	})
	if !ok {
		return nil, grid.ErrClosed
	}
	<-done
	return result, err
}

func (cc *cache) AsyncInvokeAll(partitions grid.PartitionSet, processor grid.IEntryProcessor) *grid.Future {
	future := grid.NewFuture()

	go func() {
		var mu sync.Mutex
		var total grid.InvokeStats
		var g errgroup.Group

		for _, id := range partitions.Slice() {
			if uint32(id) >= cc.cluster.partitionCount {
				continue
			}
			p := cc.partitions[id]
			g.Go(func() error {
				stats, err := cc.invokePartition(p, processor)
				mu.Lock()
				total = total.Add(stats)
				mu.Unlock()
				return err
			})
		}

		err := g.Wait()
		future.Complete(total, err)
	}()

	return future
}

// invokePartition queues one task applying the processor to every present entry
// of the partition and waits for it. The task stops at the first failing entry.
func (cc *cache) invokePartition(p *partition, processor grid.IEntryProcessor) (grid.InvokeStats, error) {
	stats := grid.InvokeStats{Partitions: 1}
	var err error
	done := make(chan struct{})
	ok := p.tasks.Push(func() {
		defer close(done)
		var keys []string
		p.entries.Range(func(key string, _ []byte) bool {
			keys = append(keys, key)
			return true
		})
		for _, key := range keys {
			var changed bool
			_, changed, err = cc.apply(p, key, processor, false)
			if err != nil {
				return
			}
			stats.Processed++
			if changed {
				stats.Changed++
			}
		}
	})
	if !ok {
		return stats, grid.ErrClosed
	}
	<-done
	return stats, err
}

// apply runs the processor against one entry and writes back its changes.
// It must only be called from the worker of the partition.
func (cc *cache) apply(p *partition, key string, processor grid.IEntryProcessor, allowAbsent bool) ([]byte, bool, error) {
	value, present := p.entries.Load(key)
	if !present && !allowAbsent {
		return nil, false, nil
	}

	start := time.Now()
	e := &entry{
		key:       key,
		value:     value,
		present:   present,
		partition: p.id,
		members:   cc.cluster.MemberIDs,
	}
	result, err := processor.Process(e)
	cc.latency.Update(time.Since(start).Microseconds())
	cc.invocations.Inc(1)
	if err != nil {
		return nil, false, grid.NewError(grid.RetCProcessorFailed, err.Error())
	}

	switch {
	case e.removed:
		if present {
			p.entries.Delete(key)
			cc.changed.Inc(1)
			return result, true, nil
		}
	case e.dirty:
		p.entries.Store(key, e.value)
		cc.changed.Inc(1)
		return result, true, nil
	}
	return result, false, nil
}

// --------------------------------------------------------------------------
// Entry
// --------------------------------------------------------------------------

// entry implements grid.IEntry for one processor application.
type entry struct {
	key       string
	value     []byte
	present   bool
	partition grid.PartitionID
	members   func() ([]uint64, error)
	dirty     bool
	removed   bool
}

func (e *entry) Key() string                   { return e.key }
func (e *entry) Value() []byte                 { return e.value }
func (e *entry) Present() bool                 { return e.present }
func (e *entry) PartitionID() grid.PartitionID { return e.partition }

func (e *entry) SetValue(value []byte) {
	e.value = append([]byte(nil), value...)
	e.present = true
	e.dirty = true
	e.removed = false
}

func (e *entry) Remove() {
	e.value = nil
	e.present = false
	e.dirty = false
	e.removed = true
}

func (e *entry) MemberIDs() ([]uint64, error) {
	return e.members()
}
