package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/mediadrop/internal/logging"
)

// Deferred runs one-shot tasks once their deadline passes. Each key holds at
// most one pending task; a key becomes schedulable again after its task fires
// or is cancelled.
type Deferred struct {
	queue  *DeadlineQueue
	byKey  map[string]*QueueItem
	mu     sync.Mutex
	now    func() time.Time
	tick   time.Duration
	logger *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Deferred queue
type Option func(*Deferred)

// WithClock replaces the wall clock used to decide which tasks are due
func WithClock(now func() time.Time) Option {
	return func(d *Deferred) {
		d.now = now
	}
}

// NewDeferred creates a deferred task queue swept every tick
func NewDeferred(tick time.Duration, logger *logging.Logger, opts ...Option) *Deferred {
	if tick <= 0 {
		tick = time.Second
	}

	d := &Deferred{
		queue:  &DeadlineQueue{},
		byKey:  make(map[string]*QueueItem),
		now:    time.Now,
		tick:   tick,
		logger: logger.WithComponent("scheduler"),
	}
	heap.Init(d.queue)

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start begins the sweep loop
func (d *Deferred) Start() {
	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.sweepLoop()
	d.logger.Infof("Deferred task queue started (tick: %s)", d.tick)
}

// Stop stops the sweep loop. Pending tasks are kept but no longer fire.
func (d *Deferred) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel = nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	d.logger.Info("Deferred task queue stopped")
}

// Schedule registers fn to run once at or after at. It returns false without
// changing anything when a task for key is already pending.
func (d *Deferred) Schedule(key string, at time.Time, fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byKey[key]; ok {
		return false
	}

	item := &QueueItem{Key: key, Due: at, fn: fn}
	heap.Push(d.queue, item)
	d.byKey[key] = item
	return true
}

// Cancel drops the pending task for key. It reports whether one existed.
func (d *Deferred) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	item, ok := d.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(d.queue, item.Index)
	delete(d.byKey, key)
	return true
}

// Pending reports whether a task is waiting for key
func (d *Deferred) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.byKey[key]
	return ok
}

// Len returns the number of pending tasks
func (d *Deferred) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.queue.Len()
}

// RunDue runs every task whose deadline has passed and returns how many ran.
// Tasks run outside the lock so they may schedule or cancel other keys.
func (d *Deferred) RunDue() int {
	now := d.now()

	d.mu.Lock()
	var due []*QueueItem
	for d.queue.Len() > 0 && !(*d.queue)[0].Due.After(now) {
		item := heap.Pop(d.queue).(*QueueItem)
		delete(d.byKey, item.Key)
		due = append(due, item)
	}
	d.mu.Unlock()

	for _, item := range due {
		d.run(item)
	}
	return len(due)
}

func (d *Deferred) run(item *QueueItem) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("Deferred task %s panicked: %v", item.Key, r)
		}
	}()
	item.fn()
}

func (d *Deferred) sweepLoop() {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()
	defer close(d.done)

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if n := d.RunDue(); n > 0 {
				d.logger.Debugf("Ran %d deferred tasks", n)
			}
		}
	}
}

// DeadlineQueue is a min-heap of tasks ordered by due time
type DeadlineQueue []*QueueItem

// QueueItem is a pending task in the deadline queue
type QueueItem struct {
	Key   string
	Due   time.Time
	Index int
	fn    func()
}

func (dq DeadlineQueue) Len() int { return len(dq) }

func (dq DeadlineQueue) Less(i, j int) bool {
	// Earliest deadline first
	if !dq[i].Due.Equal(dq[j].Due) {
		return dq[i].Due.Before(dq[j].Due)
	}
	// Same deadline, stable by key
	return dq[i].Key < dq[j].Key
}

func (dq DeadlineQueue) Swap(i, j int) {
	dq[i], dq[j] = dq[j], dq[i]
	dq[i].Index = i
	dq[j].Index = j
}

func (dq *DeadlineQueue) Push(x interface{}) {
	n := len(*dq)
	item := x.(*QueueItem)
	item.Index = n
	*dq = append(*dq, item)
}

func (dq *DeadlineQueue) Pop() interface{} {
	old := *dq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	*dq = old[0 : n-1]
	return item
}
