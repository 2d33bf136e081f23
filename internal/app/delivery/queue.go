package delivery

import (
	"fmt"
	"sync"

	"github.com/ghalamif/beamflow/internal/app/env"
	"github.com/ghalamif/beamflow/internal/domain"
	"github.com/ghalamif/beamflow/internal/ports"
)

type QueueOption func(*Queue)

// WithDropLogging records every dropped item with its stream and sequence
// number instead of only counting it.
func WithDropLogging(on bool) QueueOption {
	return func(q *Queue) { q.logDrops = on }
}

// WithOnDrop runs fn for every dropped item after its buffers are released.
func WithOnDrop(fn func(*domain.DeliveryItem)) QueueOption {
	return func(q *Queue) { q.onDrop = fn }
}

// Queue is the bounded best-effort queue of one output stream. Push never
// blocks: when full it drops the oldest item. Pop is the only blocking call
// and belongs to the stream's single writer.
type Queue struct {
	env  *env.Env
	name string

	mu     sync.Mutex
	cond   *sync.Cond
	ring   []*domain.DeliveryItem
	head   int
	n      int
	closed bool

	dropped  uint64
	logDrops bool
	onDrop   func(*domain.DeliveryItem)

	// pending counts drops not yet reported; dropped never resets.
	pending uint64
}

func NewQueue(e *env.Env, name string, capacity int, opts ...QueueOption) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Queue{
		env:  e,
		name: name,
		ring: make([]*domain.DeliveryItem, capacity),
	}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) Cap() int { return len(q.ring) }

// Push enqueues item, dropping the oldest queued item when full. Pushing
// after Close returns domain.ErrClosed and releases item.
func (q *Queue) Push(item *domain.DeliveryItem) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		item.Release()
		return domain.ErrClosed
	}

	var victim *domain.DeliveryItem
	if q.n == len(q.ring) {
		victim = q.ring[q.head]
		q.ring[q.head] = nil
		q.head = (q.head + 1) % len(q.ring)
		q.n--
		q.dropped++
		q.pending++
	}
	q.ring[(q.head+q.n)%len(q.ring)] = item
	q.n++
	q.cond.Signal()
	q.mu.Unlock()

	if victim != nil {
		q.drop(victim)
	}
	return nil
}

func (q *Queue) drop(item *domain.DeliveryItem) {
	item.Release()
	q.env.Counters.QueueDrops.Add(1)
	if q.logDrops {
		q.env.Obs.RecordDrop(q.name, item.Seq, "queue full")
	} else {
		q.env.Obs.IncCounter(ports.MetricQueueDropped, 1)
	}
	if q.onDrop != nil {
		q.onDrop(item)
	}
}

// Pop blocks until an item is available. ok is false once the queue is
// closed and every item pushed before Close has been popped.
func (q *Queue) Pop() (item *domain.DeliveryItem, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.n == 0 && !q.closed {
		q.cond.Wait()
	}
	return q.popLocked()
}

// TryPop never blocks.
func (q *Queue) TryPop() (item *domain.DeliveryItem, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue) popLocked() (*domain.DeliveryItem, bool) {
	if q.n == 0 {
		return nil, false
	}
	item := q.ring[q.head]
	q.ring[q.head] = nil
	q.head = (q.head + 1) % len(q.ring)
	q.n--
	return item, true
}

// Close places the end-of-stream sentinel behind the last pushed item. The
// queue cannot be reopened.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// ReportDrops logs one warning when items were dropped since the last
// report. The stream's writer calls it after every batch.
func (q *Queue) ReportDrops() {
	q.mu.Lock()
	n := q.pending
	q.pending = 0
	q.mu.Unlock()
	if n == 0 {
		return
	}
	q.env.Obs.LogWarn(fmt.Sprintf("dropped %d items from stream %s", n, q.name),
		ports.Field{Key: "stream", Value: q.name},
		ports.Field{Key: "dropped", Value: n},
	)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
